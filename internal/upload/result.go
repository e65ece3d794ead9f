package upload

import (
	"net/http"
	"time"

	"github.com/johnrirwin/avatarguard/internal/models"
)

// Kind classifies the outcome of an upload.
type Kind int

const (
	KindSuccess Kind = iota
	KindTokenMissing
	KindTokenInvalid
	KindNoFile
	KindFiletypeRejected
	KindTooLarge
	KindRateLimited
	KindContentRejected
	KindThumbnailFailure
	KindStorageError
)

func (k Kind) String() string {
	switch k {
	case KindSuccess:
		return "success"
	case KindTokenMissing:
		return "token_missing"
	case KindTokenInvalid:
		return "token_invalid"
	case KindNoFile:
		return "no_file"
	case KindFiletypeRejected:
		return "filetype_rejected"
	case KindTooLarge:
		return "too_large"
	case KindRateLimited:
		return "rate_limited"
	case KindContentRejected:
		return "content_rejected"
	case KindThumbnailFailure:
		return "thumbnail_failure"
	case KindStorageError:
		return "storage_error"
	default:
		return "unknown"
	}
}

// HTTPStatus maps the outcome to a response status code.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindSuccess:
		return http.StatusOK
	case KindTokenMissing, KindTokenInvalid:
		return http.StatusUnauthorized
	case KindNoFile, KindFiletypeRejected:
		return http.StatusBadRequest
	case KindTooLarge:
		return http.StatusRequestEntityTooLarge
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindContentRejected:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// Result is what the pipeline hands back to the HTTP layer.
type Result struct {
	Kind    Kind
	Message string
	// Verdict is set whenever moderation ran.
	Verdict    *models.ModerationVerdict
	RetryAfter time.Duration
}

// Success reports whether the image was stored.
func (r Result) Success() bool {
	return r.Kind == KindSuccess
}

func failure(kind Kind, message string) Result {
	return Result{Kind: kind, Message: message}
}
