package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// FileStore keeps objects on local disk under a base directory.
// Useful for development; it cannot issue real pre-signed URLs.
type FileStore struct {
	basePath string
}

// NewFileStore creates the base directory if missing.
func NewFileStore(basePath string) (*FileStore, error) {
	if strings.TrimSpace(basePath) == "" {
		return nil, fmt.Errorf("storage base path is required")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &FileStore{basePath: basePath}, nil
}

// Put writes the object, replacing any previous content under key.
func (f *FileStore) Put(_ context.Context, key string, r io.Reader, _ int64, _ string) error {
	target, err := f.resolve(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create object dir: %w", err)
	}
	out, err := os.Create(target)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	defer out.Close()
	if _, err := io.Copy(out, r); err != nil {
		return fmt.Errorf("write file: %w", err)
	}
	return nil
}

// Get reads the whole object.
func (f *FileStore) Get(_ context.Context, key string) ([]byte, error) {
	target, err := f.resolve(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(target)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read file: %w", ErrObjectNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return data, nil
}

// PresignGet returns a file:// URL; expiry is ignored.
func (f *FileStore) PresignGet(_ context.Context, key string, _ time.Duration) (string, error) {
	target, err := f.resolve(key)
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(target)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}).String(), nil
}

// Delete removes the object. Missing objects are not an error.
func (f *FileStore) Delete(_ context.Context, key string) error {
	target, err := f.resolve(key)
	if err != nil {
		return err
	}
	if err := os.Remove(target); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete file: %w", err)
	}
	return nil
}

func (f *FileStore) resolve(key string) (string, error) {
	key = strings.TrimSpace(key)
	if !ValidKey(key) {
		return "", fmt.Errorf("invalid object key %q", key)
	}
	return filepath.Join(f.basePath, filepath.FromSlash(key)), nil
}

// ValidKey reports whether key is a clean relative slash path with no ".."
// segment. Dots inside a segment, as in "ch1..final.pdf", are allowed.
func ValidKey(key string) bool {
	if key == "" || path.IsAbs(key) || path.Clean(key) != key {
		return false
	}
	for _, segment := range strings.Split(key, "/") {
		if segment == ".." || segment == "." {
			return false
		}
	}
	return true
}
