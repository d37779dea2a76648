package storage

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/cppla/storefront/models"
)

// LocalStore keeps files under <root>/public and <root>/private.
type LocalStore struct {
	root string
}

// NewLocalStore creates both visibility areas below root.
func NewLocalStore(root string) (*LocalStore, error) {
	for _, dir := range []string{"public", "private"} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0o755); err != nil {
			return nil, err
		}
	}
	return &LocalStore{root: root}, nil
}

func (s *LocalStore) path(vis models.Visibility, key string) (string, error) {
	dir, err := area(vis)
	if err != nil {
		return "", err
	}
	key, err = CleanKey(key)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.root, dir, filepath.FromSlash(key)), nil
}

// Save writes r to a temporary file and renames it into place.
func (s *LocalStore) Save(_ context.Context, vis models.Visibility, key string, r io.Reader) (int64, error) {
	dst, err := s.path(vis, key)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return 0, err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return 0, err
	}
	written, err := io.Copy(tmp, r)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp.Name())
		return 0, err
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		_ = os.Remove(tmp.Name())
		return 0, err
	}
	return written, nil
}

func (s *LocalStore) Open(_ context.Context, vis models.Visibility, key string) (io.ReadCloser, error) {
	p, err := s.path(vis, key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if st, err := f.Stat(); err == nil && st.IsDir() {
		_ = f.Close()
		return nil, ErrNotFound
	}
	return f, nil
}

func (s *LocalStore) Exists(_ context.Context, vis models.Visibility, key string) (bool, error) {
	p, err := s.path(vis, key)
	if err != nil {
		return false, err
	}
	st, err := os.Stat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return !st.IsDir(), nil
}

func (s *LocalStore) Remove(_ context.Context, vis models.Visibility, key string) error {
	p, err := s.path(vis, key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
