package blob

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

var ErrInvalidHandle = errors.New("invalid blob handle")

// Store persists uploaded images. Handles are opaque to callers.
type Store interface {
	Save(ctx context.Context, data []byte, ext string) (string, error)
	Read(ctx context.Context, handle string) ([]byte, error)
	Delete(ctx context.Context, handle string) error
}

// FSStore keeps blobs as flat files under Dir named <uuid><ext>.
type FSStore struct {
	Dir string
}

func NewFSStore(dir string) (*FSStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create blob dir: %w", err)
	}
	return &FSStore{Dir: dir}, nil
}

var extPattern = regexp.MustCompile(`^\.[A-Za-z0-9]{1,8}$`)

func (s *FSStore) Save(ctx context.Context, data []byte, ext string) (string, error) {
	ext = strings.ToLower(ext)
	if !extPattern.MatchString(ext) {
		ext = ""
	}
	handle := uuid.NewString() + ext
	tmp, err := os.CreateTemp(s.Dir, ".upload-*")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	// the rename makes the file visible only once fully written
	if err := os.Rename(tmp.Name(), filepath.Join(s.Dir, handle)); err != nil {
		return "", err
	}
	return handle, nil
}

func (s *FSStore) path(handle string) (string, error) {
	if handle == "" || handle != filepath.Base(handle) || strings.HasPrefix(handle, ".") {
		return "", ErrInvalidHandle
	}
	return filepath.Join(s.Dir, handle), nil
}

func (s *FSStore) Read(ctx context.Context, handle string) ([]byte, error) {
	p, err := s.path(handle)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(p)
}

// Delete removes a blob. A missing blob is not an error.
func (s *FSStore) Delete(ctx context.Context, handle string) error {
	p, err := s.path(handle)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
