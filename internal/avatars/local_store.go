package avatars

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// LocalStore keeps images on the local filesystem:
//
//	<root>/<account>.png
//	<root>/large/<account>.png
//	<root>/small/<account>.png
type LocalStore struct {
	root string
}

// NewLocalStore creates the directory layout under root and verifies it is
// writable.
func NewLocalStore(root string) (*LocalStore, error) {
	if root == "" {
		return nil, fmt.Errorf("%w: storage root is required", ErrStorage)
	}
	s := &LocalStore{root: root}
	if err := s.ensureDirs(); err != nil {
		return nil, err
	}
	return s, nil
}

// Root returns the storage directory.
func (s *LocalStore) Root() string {
	return s.root
}

func (s *LocalStore) ensureDirs() error {
	for _, dir := range []string{s.root, filepath.Join(s.root, largeDir), filepath.Join(s.root, smallDir)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("%w: create %s: %v", ErrStorage, dir, err)
		}

		probe := filepath.Join(dir, ".probe-"+uuid.NewString())
		if err := os.WriteFile(probe, nil, 0o644); err != nil {
			return fmt.Errorf("%w: %s is not writable: %v", ErrStorage, dir, err)
		}
		os.Remove(probe)
	}
	return nil
}

// Save writes all three renditions, removing any that were written if a later
// one fails.
func (s *LocalStore) Save(ctx context.Context, account string, set ImageSet) error {
	original, large, small := Keys(account)
	files := []struct {
		key  string
		data []byte
	}{
		{original, set.Original},
		{large, set.Large},
		{small, set.Small},
	}

	var written []string
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			s.removeAll(written)
			return err
		}
		target := s.path(f.key)
		if err := writeFileAtomic(target, f.data); err != nil {
			s.removeAll(written)
			return fmt.Errorf("%w: write %s: %v", ErrStorage, f.key, err)
		}
		written = append(written, target)
	}
	return nil
}

// Delete removes every rendition for account. Missing files are not an error.
func (s *LocalStore) Delete(ctx context.Context, account string) error {
	original, large, small := Keys(account)

	var errs []error
	for _, key := range []string{original, large, small} {
		if err := os.Remove(s.path(key)); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: delete %s: %v", ErrStorage, account, errors.Join(errs...))
	}
	return nil
}

func (s *LocalStore) path(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(key))
}

func (s *LocalStore) removeAll(paths []string) {
	for _, p := range paths {
		os.Remove(p)
	}
}

// writeFileAtomic writes to a temp file in the target directory and renames it
// into place so readers never observe a partial image.
func writeFileAtomic(target string, data []byte) error {
	tmp := filepath.Join(filepath.Dir(target), "."+uuid.NewString()+".tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

var _ Store = (*LocalStore)(nil)
