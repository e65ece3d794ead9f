package upload

import (
	"bytes"
	"context"
	"errors"
	"image/color"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/disintegration/imaging"

	"github.com/johnrirwin/avatarguard/internal/avatars"
	"github.com/johnrirwin/avatarguard/internal/models"
	"github.com/johnrirwin/avatarguard/internal/moderation"
	"github.com/johnrirwin/avatarguard/internal/ratelimit"
	"github.com/johnrirwin/avatarguard/internal/reportqueue"
	"github.com/johnrirwin/avatarguard/internal/testutil"
)

type fakeStore struct {
	mu      sync.Mutex
	saved   map[string]avatars.ImageSet
	deleted []string
	saveErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{saved: map[string]avatars.ImageSet{}}
}

func (f *fakeStore) Save(ctx context.Context, account string, set avatars.ImageSet) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saved[account] = set
	return nil
}

func (f *fakeStore) Delete(ctx context.Context, account string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, account)
	delete(f.saved, account)
	return nil
}

type memoryQueue struct {
	mu    sync.Mutex
	lines []string
	err   error
}

func (m *memoryQueue) Enqueue(ctx context.Context, line string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.lines = append(m.lines, line)
	return nil
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	img := imaging.New(320, 240, color.NRGBA{G: 180, A: 255})
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func newTestPipeline(classifier moderation.Classifier, store avatars.Store, queue Enqueuer, limiter *ratelimit.Limiter) *Pipeline {
	var mod Moderator
	if classifier != nil {
		mod = moderation.NewService(classifier, moderation.DefaultPolicy(), time.Second)
	}
	return NewPipeline(mod, store, queue, limiter, Options{MaxBytes: 1 << 20}, testutil.NullLogger())
}

// A clean PNG is stored at both derived sizes and nothing is reported.
func TestUpload_CleanImage(t *testing.T) {
	store := newFakeStore()
	queue := &memoryQueue{}
	p := newTestPipeline(&moderation.MockClassifier{}, store, queue, nil)

	res := p.Upload(context.Background(), models.UploadRequest{
		AccountID:         "Bob",
		ImageBytes:        pngBytes(t),
		DeclaredExtension: "png",
	})

	if !res.Success() {
		t.Fatalf("expected success, got %s: %s", res.Kind, res.Message)
	}
	if res.Kind.HTTPStatus() != http.StatusOK || res.Message != MessageSuccess {
		t.Errorf("result = %+v", res)
	}
	set, ok := store.saved["bob"]
	if !ok {
		t.Fatalf("image not stored under sanitized account, saved=%v", store.saved)
	}
	if len(set.Large) == 0 || len(set.Small) == 0 || len(set.Original) == 0 {
		t.Error("missing renditions")
	}
	if len(queue.lines) != 0 {
		t.Errorf("queue touched: %v", queue.lines)
	}
}

// Adult content removes the stored picture and enqueues one structured report.
func TestUpload_AdultContentRejected(t *testing.T) {
	store := newFakeStore()
	store.saved["bob"] = avatars.ImageSet{Original: []byte("old")}
	queue := &memoryQueue{}
	classifier := &moderation.MockClassifier{Result: models.ClassificationResult{
		models.CategoryAdult:    models.LikelihoodVeryLikely,
		models.CategoryViolence: models.LikelihoodVeryUnlikely,
	}}
	p := newTestPipeline(classifier, store, queue, nil)

	res := p.Upload(context.Background(), models.UploadRequest{
		AccountID:         "bob",
		ImageBytes:        pngBytes(t),
		DeclaredExtension: "png",
	})

	if res.Kind != KindContentRejected {
		t.Fatalf("kind = %s, want content_rejected", res.Kind)
	}
	if res.Kind.HTTPStatus() != http.StatusUnprocessableEntity {
		t.Errorf("status = %d", res.Kind.HTTPStatus())
	}
	if res.Verdict == nil || res.Verdict.TriggeredCategory != models.CategoryAdult {
		t.Errorf("verdict = %+v", res.Verdict)
	}
	if _, ok := store.saved["bob"]; ok {
		t.Error("stored image not removed")
	}
	if len(queue.lines) != 1 {
		t.Fatalf("queue = %v, want one record", queue.lines)
	}
	record := reportqueue.ParseRecord(queue.lines[0])
	if record.Kind != models.ReportStructured || record.Account != "bob" {
		t.Errorf("queued record = %+v", record)
	}
}

// Reports keep the account's original spelling so the notice reaches the nick.
func TestUpload_ReportUsesAccountAsGiven(t *testing.T) {
	queue := &memoryQueue{}
	classifier := &moderation.MockClassifier{Result: models.ClassificationResult{models.CategoryViolence: models.LikelihoodLikely}}
	p := newTestPipeline(classifier, newFakeStore(), queue, nil)

	p.Upload(context.Background(), models.UploadRequest{AccountID: "BobTheBuilder", ImageBytes: pngBytes(t), DeclaredExtension: "png"})

	if len(queue.lines) != 1 || reportqueue.ParseRecord(queue.lines[0]).Account != "BobTheBuilder" {
		t.Errorf("queue = %v", queue.lines)
	}
}

func TestUpload_ClassifierUnavailableFailsClosed(t *testing.T) {
	store := newFakeStore()
	queue := &memoryQueue{}
	classifier := &moderation.MockClassifier{Err: errors.New("connection refused")}
	p := newTestPipeline(classifier, store, queue, nil)

	res := p.Upload(context.Background(), models.UploadRequest{AccountID: "bob", ImageBytes: pngBytes(t), DeclaredExtension: "png"})

	if res.Kind != KindContentRejected || res.Message != MessageUnverified {
		t.Fatalf("result = %+v", res)
	}
	if len(store.saved) != 0 {
		t.Error("unverified image was stored")
	}
	if len(queue.lines) != 1 {
		t.Fatalf("queue = %v", queue.lines)
	}
	if rec := reportqueue.ParseRecord(queue.lines[0]); rec.Kind != models.ReportDiagnostic {
		t.Errorf("expected diagnostic line, got %+v", rec)
	}
}

func TestUpload_QueueFailureStillRejects(t *testing.T) {
	queue := &memoryQueue{err: reportqueue.ErrQueueWrite}
	classifier := &moderation.MockClassifier{Result: models.ClassificationResult{models.CategoryAdult: models.LikelihoodLikely}}
	p := newTestPipeline(classifier, newFakeStore(), queue, nil)

	res := p.Upload(context.Background(), models.UploadRequest{AccountID: "bob", ImageBytes: pngBytes(t), DeclaredExtension: "png"})
	if res.Kind != KindContentRejected {
		t.Errorf("kind = %s", res.Kind)
	}
}

func TestUpload_Validation(t *testing.T) {
	png := pngBytes(t)

	tests := []struct {
		name string
		req  models.UploadRequest
		want Kind
	}{
		{name: "no file", req: models.UploadRequest{AccountID: "bob", DeclaredExtension: "png"}, want: KindNoFile},
		{name: "bad extension", req: models.UploadRequest{AccountID: "bob", ImageBytes: png, DeclaredExtension: "exe"}, want: KindFiletypeRejected},
		{name: "no extension", req: models.UploadRequest{AccountID: "bob", ImageBytes: png}, want: KindFiletypeRejected},
		{name: "uppercase extension", req: models.UploadRequest{AccountID: "bob", ImageBytes: png, DeclaredExtension: ".PNG"}, want: KindSuccess},
		{name: "not an image", req: models.UploadRequest{AccountID: "bob", ImageBytes: []byte("<html>hi</html>"), DeclaredExtension: "png"}, want: KindFiletypeRejected},
		{name: "too large", req: models.UploadRequest{AccountID: "bob", ImageBytes: make([]byte, 2<<20), DeclaredExtension: "png"}, want: KindTooLarge},
		{name: "unusable account", req: models.UploadRequest{AccountID: "///", ImageBytes: png, DeclaredExtension: "png"}, want: KindTokenInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestPipeline(&moderation.MockClassifier{}, newFakeStore(), &memoryQueue{}, nil)
			res := p.Upload(context.Background(), tt.req)
			if res.Kind != tt.want {
				t.Errorf("kind = %s, want %s (%s)", res.Kind, tt.want, res.Message)
			}
		})
	}
}

func TestUpload_ThumbnailFailure(t *testing.T) {
	store := newFakeStore()
	p := newTestPipeline(&moderation.MockClassifier{}, store, &memoryQueue{}, nil)

	corrupt := append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0}, 64)...)
	res := p.Upload(context.Background(), models.UploadRequest{AccountID: "bob", ImageBytes: corrupt, DeclaredExtension: "png"})

	if res.Kind != KindThumbnailFailure || res.Kind.HTTPStatus() != http.StatusInternalServerError {
		t.Fatalf("result = %+v", res)
	}
	if len(store.saved) != 0 {
		t.Error("partial upload stored")
	}
}

func TestUpload_StorageError(t *testing.T) {
	store := newFakeStore()
	store.saveErr = avatars.ErrStorage
	p := newTestPipeline(&moderation.MockClassifier{}, store, &memoryQueue{}, nil)

	res := p.Upload(context.Background(), models.UploadRequest{AccountID: "bob", ImageBytes: pngBytes(t), DeclaredExtension: "png"})
	if res.Kind != KindStorageError {
		t.Errorf("kind = %s", res.Kind)
	}
}

func TestUpload_RateLimited(t *testing.T) {
	p := newTestPipeline(&moderation.MockClassifier{}, newFakeStore(), &memoryQueue{}, ratelimit.New(time.Hour))
	req := models.UploadRequest{AccountID: "bob", ImageBytes: pngBytes(t), DeclaredExtension: "png"}

	if res := p.Upload(context.Background(), req); !res.Success() {
		t.Fatalf("first upload = %+v", res)
	}
	res := p.Upload(context.Background(), req)
	if res.Kind != KindRateLimited || res.RetryAfter <= 0 {
		t.Errorf("second upload = %+v", res)
	}
}

func TestUpload_ModerationDisabled(t *testing.T) {
	store := newFakeStore()
	p := newTestPipeline(nil, store, &memoryQueue{}, nil)

	res := p.Upload(context.Background(), models.UploadRequest{AccountID: "bob", ImageBytes: pngBytes(t), DeclaredExtension: "png"})
	if !res.Success() || res.Verdict != nil {
		t.Errorf("result = %+v", res)
	}
}

func TestKindStrings(t *testing.T) {
	for k := KindSuccess; k <= KindStorageError; k++ {
		if s := k.String(); s == "unknown" || strings.TrimSpace(s) == "" {
			t.Errorf("kind %d has no name", k)
		}
	}
	if KindTokenMissing.HTTPStatus() != http.StatusUnauthorized {
		t.Error("token missing should be 401")
	}
}

func TestExtensionOf(t *testing.T) {
	tests := map[string]string{
		"avatar.PNG":     "png",
		"a.b.jpeg":       "jpeg",
		"noext":          "",
		"trailing.":      "",
		"../weird/x.gif": "gif",
	}
	for in, want := range tests {
		if got := ExtensionOf(in); got != want {
			t.Errorf("ExtensionOf(%q) = %q, want %q", in, got, want)
		}
	}
}
