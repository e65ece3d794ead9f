package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/johnrirwin/avatarguard/internal/auth"
	"github.com/johnrirwin/avatarguard/internal/config"
	"github.com/johnrirwin/avatarguard/internal/models"
	"github.com/johnrirwin/avatarguard/internal/testutil"
	"github.com/johnrirwin/avatarguard/internal/upload"
)

const testSecret = "test-secret-key-minimum-32-chars-long"

type fakeUploader struct {
	result upload.Result
	got    *models.UploadRequest
}

func (f *fakeUploader) Upload(ctx context.Context, req models.UploadRequest) upload.Result {
	f.got = &req
	return f.result
}

func newTestServer(uploader Uploader, maxBytes int64) http.Handler {
	authSvc := auth.NewService(config.AuthConfig{JWTSecret: testSecret}, testutil.NullLogger())
	s := New(uploader, auth.NewMiddleware(authSvc), Options{
		AllowedOrigins: []string{"https://webchat.t-chat.fr"},
		MaxUploadBytes: maxBytes,
	}, testutil.NullLogger())
	return s.Handler()
}

func token(t *testing.T, account string) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"account": account}).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatal(err)
	}
	return "Bearer " + signed
}

func multipartRequest(t *testing.T, field, filename string, data []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if field != "" {
		part, err := mw.CreateFormFile(field, filename)
		if err != nil {
			t.Fatal(err)
		}
		part.Write(data)
	} else {
		mw.WriteField("note", "no file here")
	}
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var out map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func TestHealth(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestServer(&fakeUploader{}, 0).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Header().Get("Content-Type") != "application/json" {
		t.Errorf("Content-Type = %s", rec.Header().Get("Content-Type"))
	}
	if decodeBody(t, rec)["status"] != "healthy" {
		t.Error("unexpected health body")
	}
}

func TestUpload_RequiresToken(t *testing.T) {
	uploader := &fakeUploader{}
	rec := httptest.NewRecorder()
	newTestServer(uploader, 0).ServeHTTP(rec, multipartRequest(t, "image", "a.png", []byte("x")))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rec.Code)
	}
	if decodeBody(t, rec)["error"] != "Token not provided" {
		t.Error("unexpected error message")
	}
	if uploader.got != nil {
		t.Error("pipeline invoked without a token")
	}
}

func TestUpload_PassesAccountAndExtension(t *testing.T) {
	uploader := &fakeUploader{result: upload.Result{Kind: upload.KindSuccess, Message: upload.MessageSuccess}}
	req := multipartRequest(t, "image", "Me.JPEG", []byte("image-bytes"))
	req.Header.Set("Authorization", token(t, "bob"))

	rec := httptest.NewRecorder()
	newTestServer(uploader, 0).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	if decodeBody(t, rec)["message"] != upload.MessageSuccess {
		t.Error("unexpected success message")
	}
	if uploader.got == nil {
		t.Fatal("pipeline not invoked")
	}
	if uploader.got.AccountID != "bob" || uploader.got.DeclaredExtension != "jpeg" || string(uploader.got.ImageBytes) != "image-bytes" {
		t.Errorf("request = %+v", uploader.got)
	}
}

func TestUpload_NoFile(t *testing.T) {
	uploader := &fakeUploader{}
	req := multipartRequest(t, "", "", nil)
	req.Header.Set("Authorization", token(t, "bob"))

	rec := httptest.NewRecorder()
	newTestServer(uploader, 0).ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	if body := decodeBody(t, rec); body["error"] != upload.MessageNoFile || body["code"] != "no_file" {
		t.Errorf("body = %v", body)
	}
}

func TestUpload_TooLarge(t *testing.T) {
	req := multipartRequest(t, "image", "big.png", make([]byte, 256<<10))
	req.Header.Set("Authorization", token(t, "bob"))

	rec := httptest.NewRecorder()
	newTestServer(&fakeUploader{}, 1024).ServeHTTP(rec, req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestUpload_ResultMapping(t *testing.T) {
	tests := []struct {
		name       string
		result     upload.Result
		wantStatus int
		wantReason string
		wantRetry  string
	}{
		{
			name: "content rejected",
			result: upload.Result{
				Kind:    upload.KindContentRejected,
				Message: upload.MessageContentRejected,
				Verdict: &models.ModerationVerdict{HumanReason: "adult content detected (VERY_LIKELY)"},
			},
			wantStatus: http.StatusUnprocessableEntity,
			wantReason: "adult content detected (VERY_LIKELY)",
		},
		{
			name:       "filetype",
			result:     upload.Result{Kind: upload.KindFiletypeRejected, Message: upload.MessageFiletypeRejected},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "thumbnail failure",
			result:     upload.Result{Kind: upload.KindThumbnailFailure, Message: upload.MessageThumbnailFailure},
			wantStatus: http.StatusInternalServerError,
		},
		{
			name:       "rate limited",
			result:     upload.Result{Kind: upload.KindRateLimited, Message: upload.MessageRateLimited, RetryAfter: 1500 * time.Millisecond},
			wantStatus: http.StatusTooManyRequests,
			wantRetry:  "2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := multipartRequest(t, "image", "a.png", []byte("x"))
			req.Header.Set("Authorization", token(t, "bob"))
			rec := httptest.NewRecorder()
			newTestServer(&fakeUploader{result: tt.result}, 0).ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if got := rec.Header().Get("Retry-After"); got != tt.wantRetry {
				t.Errorf("Retry-After = %q, want %q", got, tt.wantRetry)
			}
			body := decodeBody(t, rec)
			if body["error"] != tt.result.Message || body["reason"] != tt.wantReason {
				t.Errorf("body = %v", body)
			}
		})
	}
}

func TestCORS(t *testing.T) {
	handler := newTestServer(&fakeUploader{}, 0)

	t.Run("allowed origin preflight", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/upload", nil)
		req.Header.Set("Origin", "https://webchat.t-chat.fr")
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		req.Header.Set("Access-Control-Request-Headers", "Authorization")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://webchat.t-chat.fr" {
			t.Errorf("Access-Control-Allow-Origin = %q", got)
		}
	})

	t.Run("foreign origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set("Origin", "https://evil.example")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
			t.Errorf("Access-Control-Allow-Origin = %q, want empty", got)
		}
	})

	t.Run("plain options", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/upload", nil))
		if rec.Code != http.StatusNoContent {
			t.Errorf("status = %d", rec.Code)
		}
	})
}
