package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/johnrirwin/avatarguard/internal/auth"
	"github.com/johnrirwin/avatarguard/internal/logging"
	"github.com/johnrirwin/avatarguard/internal/models"
	"github.com/johnrirwin/avatarguard/internal/upload"
)

// multipartOverhead is the allowance for form boundaries and headers on top of
// the image itself.
const multipartOverhead = 64 << 10

// Uploader runs the upload pipeline.
type Uploader interface {
	Upload(ctx context.Context, req models.UploadRequest) upload.Result
}

// UploadAPI handles avatar uploads.
type UploadAPI struct {
	uploads  Uploader
	maxBytes int64
	logger   *logging.Logger
}

// NewUploadAPI creates a new upload API handler.
func NewUploadAPI(uploads Uploader, maxBytes int64, logger *logging.Logger) *UploadAPI {
	return &UploadAPI{
		uploads:  uploads,
		maxBytes: maxBytes,
		logger:   logger,
	}
}

// RegisterRoutes registers upload routes.
func (api *UploadAPI) RegisterRoutes(r chi.Router, authMiddleware *auth.Middleware) {
	r.Options("/upload", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	r.With(authMiddleware.RequireAuth).Post("/upload", api.handleUpload)
}

func (api *UploadAPI) handleUpload(w http.ResponseWriter, r *http.Request) {
	account := auth.GetAccount(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, api.maxBytes+multipartOverhead)
	if err := r.ParseMultipartForm(api.maxBytes + multipartOverhead); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
			api.writeResult(w, upload.Result{Kind: upload.KindTooLarge, Message: upload.MessageTooLarge})
			return
		}
		api.writeResult(w, upload.Result{Kind: upload.KindNoFile, Message: upload.MessageNoFile})
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("image")
	if err != nil {
		api.writeResult(w, upload.Result{Kind: upload.KindNoFile, Message: upload.MessageNoFile})
		return
	}
	defer file.Close()

	if header.Filename == "" {
		api.writeResult(w, upload.Result{Kind: upload.KindNoFile, Message: "No selected file"})
		return
	}

	imageData, err := io.ReadAll(file)
	if err != nil {
		api.logger.Error("Failed to read upload", logging.WithField("error", err.Error()))
		api.writeResult(w, upload.Result{Kind: upload.KindStorageError, Message: "Failed to read image"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	result := api.uploads.Upload(ctx, models.UploadRequest{
		AccountID:         account,
		ImageBytes:        imageData,
		DeclaredExtension: upload.ExtensionOf(header.Filename),
	})
	api.writeResult(w, result)
}

func (api *UploadAPI) writeResult(w http.ResponseWriter, result upload.Result) {
	status := result.Kind.HTTPStatus()

	if result.Success() {
		writeJSON(w, status, map[string]string{"message": result.Message})
		return
	}

	body := map[string]string{
		"error": result.Message,
		"code":  result.Kind.String(),
	}
	if result.Verdict != nil && result.Verdict.HumanReason != "" {
		body["reason"] = result.Verdict.HumanReason
	}
	if result.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int((result.RetryAfter+time.Second-1)/time.Second)))
	}
	writeJSON(w, status, body)
}
