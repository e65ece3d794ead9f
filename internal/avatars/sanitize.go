package avatars

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// SanitizeAccount turns an account name into a safe lowercase file stem.
// Diacritics are folded to their base letter, path separators and whitespace
// become underscores, and anything outside [a-z0-9._-] is dropped.
func SanitizeAccount(account string) (string, error) {
	decomposed := norm.NFKD.String(strings.TrimSpace(account))

	var b strings.Builder
	for _, r := range decomposed {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		r = unicode.ToLower(r)
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		case r == '/' || r == '\\' || unicode.IsSpace(r):
			b.WriteByte('_')
		}
	}

	name := strings.Trim(b.String(), "._")
	if name == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidAccount, account)
	}
	return name, nil
}
