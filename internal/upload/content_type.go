package upload

import (
	"net/http"
	"strings"
)

var allowedContentTypes = map[string]struct{}{
	"image/png":  {},
	"image/jpeg": {},
	"image/gif":  {},
}

// DetectContentType sniffs imageData and reports whether it is an accepted
// image format.
func DetectContentType(imageData []byte) (string, bool) {
	if len(imageData) == 0 {
		return "", false
	}

	contentType := strings.ToLower(strings.TrimSpace(http.DetectContentType(imageData)))
	if contentType == "image/jpg" {
		contentType = "image/jpeg"
	}

	_, ok := allowedContentTypes[contentType]
	return contentType, ok
}

// ExtensionOf returns the lowercase extension of filename without the dot.
func ExtensionOf(filename string) string {
	i := strings.LastIndexByte(filename, '.')
	if i < 0 || i == len(filename)-1 {
		return ""
	}
	return strings.ToLower(filename[i+1:])
}
