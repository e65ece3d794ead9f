// Package avatars persists account pictures and their derived thumbnails.
package avatars

import (
	"context"
	"errors"
	"path"
)

var (
	// ErrStorage wraps any failure writing or removing stored images.
	ErrStorage = errors.New("storage error")
	// ErrInvalidAccount is returned when an account name sanitizes to nothing.
	ErrInvalidAccount = errors.New("invalid account name")
)

const (
	largeDir = "large"
	smallDir = "small"
	fileExt  = ".png"
)

// Store writes the original and both thumbnails for an account under fixed,
// account-keyed names. Save is all-or-nothing: a failed Save leaves none of
// the three objects behind.
type Store interface {
	Save(ctx context.Context, account string, set ImageSet) error
	Delete(ctx context.Context, account string) error
}

// Keys returns the relative object names for account: the original, the large
// thumbnail and the small thumbnail.
func Keys(account string) (original, large, small string) {
	name := account + fileExt
	return name, path.Join(largeDir, name), path.Join(smallDir, name)
}
