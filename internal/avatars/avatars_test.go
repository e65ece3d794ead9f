package avatars

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/disintegration/imaging"
)

func testImage(t *testing.T, w, h int, format imaging.Format) []byte {
	t.Helper()
	img := imaging.New(w, h, color.NRGBA{R: 200, G: 40, B: 40, A: 255})
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, format); err != nil {
		t.Fatalf("encode fixture: %v", err)
	}
	return buf.Bytes()
}

func decodedSize(t *testing.T, data []byte) image.Point {
	t.Helper()
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return img.Bounds().Size()
}

func TestSanitizeAccount(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "Bob", want: "bob"},
		{in: "  alice  ", want: "alice"},
		{in: "José", want: "jose"},
		{in: "../etc/passwd", want: "etc_passwd"},
		{in: "a b", want: "a_b"},
		{in: "nick[away]", want: "nickaway"},
		{in: "user.name-1", want: "user.name-1"},
		{in: "...", wantErr: true},
		{in: "", wantErr: true},
		{in: "日本", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := SanitizeAccount(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidAccount) {
					t.Fatalf("expected ErrInvalidAccount, got %q, %v", got, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("SanitizeAccount(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestKeys(t *testing.T) {
	original, large, small := Keys("bob")
	if original != "bob.png" || large != "large/bob.png" || small != "small/bob.png" {
		t.Errorf("Keys = %q %q %q", original, large, small)
	}
}

func TestMakeThumbnails(t *testing.T) {
	set, err := MakeThumbnails(testImage(t, 400, 300, imaging.JPEG), 200, 80)
	if err != nil {
		t.Fatalf("MakeThumbnails: %v", err)
	}

	if got := decodedSize(t, set.Original); got != (image.Point{400, 300}) {
		t.Errorf("original size = %v", got)
	}
	if got := decodedSize(t, set.Large); got != (image.Point{200, 150}) {
		t.Errorf("large size = %v", got)
	}
	if got := decodedSize(t, set.Small); got != (image.Point{80, 60}) {
		t.Errorf("small size = %v", got)
	}
	if !bytes.HasPrefix(set.Small, []byte("\x89PNG")) {
		t.Error("thumbnail is not PNG")
	}
}

func TestMakeThumbnails_DoesNotEnlarge(t *testing.T) {
	set, err := MakeThumbnails(testImage(t, 50, 40, imaging.PNG), 0, 0)
	if err != nil {
		t.Fatalf("MakeThumbnails: %v", err)
	}
	if got := decodedSize(t, set.Large); got != (image.Point{50, 40}) {
		t.Errorf("large size = %v", got)
	}
}

func TestMakeThumbnails_NotAnImage(t *testing.T) {
	_, err := MakeThumbnails([]byte("definitely not an image"), 200, 80)
	if !errors.Is(err, ErrThumbnail) {
		t.Fatalf("expected ErrThumbnail, got %v", err)
	}
}

func TestLocalStore_SaveAndDelete(t *testing.T) {
	root := filepath.Join(t.TempDir(), "avatars")
	store, err := NewLocalStore(root)
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}

	set := ImageSet{Original: []byte("o"), Large: []byte("l"), Small: []byte("s")}
	if err := store.Save(context.Background(), "bob", set); err != nil {
		t.Fatalf("Save: %v", err)
	}

	for rel, want := range map[string]string{"bob.png": "o", "large/bob.png": "l", "small/bob.png": "s"} {
		got, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
		if err != nil {
			t.Fatalf("read %s: %v", rel, err)
		}
		if string(got) != want {
			t.Errorf("%s = %q, want %q", rel, got, want)
		}
	}

	entries, _ := os.ReadDir(root)
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".tmp" {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}

	if err := store.Delete(context.Background(), "bob"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "bob.png")); !os.IsNotExist(err) {
		t.Errorf("original still present: %v", err)
	}

	// Deleting again is not an error.
	if err := store.Delete(context.Background(), "bob"); err != nil {
		t.Errorf("second Delete: %v", err)
	}
}

func TestLocalStore_SaveRollsBackOnFailure(t *testing.T) {
	root := t.TempDir()
	store, err := NewLocalStore(root)
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}

	// Replace the small directory with a file so the last write fails.
	small := filepath.Join(root, "small")
	if err := os.RemoveAll(small); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(small, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	err = store.Save(context.Background(), "bob", ImageSet{Original: []byte("o"), Large: []byte("l"), Small: []byte("s")})
	if !errors.Is(err, ErrStorage) {
		t.Fatalf("expected ErrStorage, got %v", err)
	}
	for _, rel := range []string{"bob.png", "large/bob.png"} {
		if _, err := os.Stat(filepath.Join(root, filepath.FromSlash(rel))); !os.IsNotExist(err) {
			t.Errorf("%s not rolled back", rel)
		}
	}
}

func TestNewLocalStore_RequiresRoot(t *testing.T) {
	if _, err := NewLocalStore(""); !errors.Is(err, ErrStorage) {
		t.Errorf("expected ErrStorage, got %v", err)
	}
}

type fakeS3 struct {
	objects map[string][]byte
	failKey string
	deleted []string
}

func (f *fakeS3) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	key := aws.ToString(params.Key)
	if key == f.failKey {
		return nil, errors.New("access denied")
	}
	var buf bytes.Buffer
	buf.ReadFrom(params.Body)
	f.objects[key] = buf.Bytes()
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	key := aws.ToString(params.Key)
	f.deleted = append(f.deleted, key)
	delete(f.objects, key)
	return &s3.DeleteObjectOutput{}, nil
}

func TestS3Store_Save(t *testing.T) {
	client := &fakeS3{objects: map[string][]byte{}}
	store := newS3Store(client, "bucket", "/avatars/")

	if err := store.Save(context.Background(), "bob", ImageSet{Original: []byte("o"), Large: []byte("l"), Small: []byte("s")}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	for _, key := range []string{"avatars/bob.png", "avatars/large/bob.png", "avatars/small/bob.png"} {
		if _, ok := client.objects[key]; !ok {
			t.Errorf("missing object %s", key)
		}
	}

	if err := store.Delete(context.Background(), "bob"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if len(client.objects) != 0 {
		t.Errorf("objects left after delete: %v", client.objects)
	}
}

func TestS3Store_SaveRollsBack(t *testing.T) {
	client := &fakeS3{objects: map[string][]byte{}, failKey: "small/bob.png"}
	store := newS3Store(client, "bucket", "")

	err := store.Save(context.Background(), "bob", ImageSet{Original: []byte("o"), Large: []byte("l"), Small: []byte("s")})
	if !errors.Is(err, ErrStorage) {
		t.Fatalf("expected ErrStorage, got %v", err)
	}
	if len(client.objects) != 0 {
		t.Errorf("partial upload not rolled back: %v", client.objects)
	}
	if len(client.deleted) != 2 {
		t.Errorf("deleted = %v", client.deleted)
	}
}
