// Package storage maps StudyMate uploads onto an object store.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path"
	"strings"
	"time"

	objectstore "studymate/pkg/storage"
)

var (
	// ErrUnsupportedContentType rejects uploads outside the allow-list.
	ErrUnsupportedContentType = errors.New("unsupported content type")
	// ErrInvalidFilename rejects uploads whose name has no usable base name.
	ErrInvalidFilename = errors.New("invalid filename")
	// ErrBlobNotFound reports a storage path with no object behind it.
	ErrBlobNotFound = errors.New("blob not found")
)

var allowedContentTypes = map[string]struct{}{
	"application/pdf": {},
	"image/jpeg":      {},
	"image/png":       {},
}

// BlobGateway stores document bytes under "{owner}/{filename}".
type BlobGateway struct {
	objects objectstore.ObjectStore
}

// NewBlobGateway wraps an object store.
func NewBlobGateway(objects objectstore.ObjectStore) *BlobGateway {
	return &BlobGateway{objects: objects}
}

// Store validates the content type, then writes the payload and returns its
// storage path. An existing object at the same path is overwritten.
func (g *BlobGateway) Store(ctx context.Context, owner, filename string, r io.Reader, size int64, contentType string) (string, error) {
	mediaType, ok := NormalizeContentType(contentType)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedContentType, contentType)
	}
	storagePath, err := StoragePath(owner, filename)
	if err != nil {
		return "", err
	}
	if err := g.objects.Put(ctx, storagePath, r, size, mediaType); err != nil {
		return "", fmt.Errorf("store blob: %w", err)
	}
	return storagePath, nil
}

// Fetch reads the whole object at storagePath.
func (g *BlobGateway) Fetch(ctx context.Context, storagePath string) ([]byte, error) {
	data, err := g.objects.Get(ctx, storagePath)
	if errors.Is(err, objectstore.ErrObjectNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrBlobNotFound, storagePath)
	}
	if err != nil {
		return nil, fmt.Errorf("fetch blob: %w", err)
	}
	return data, nil
}

// Remove deletes the object at storagePath.
func (g *BlobGateway) Remove(ctx context.Context, storagePath string) error {
	if err := g.objects.Delete(ctx, storagePath); err != nil {
		return fmt.Errorf("remove blob: %w", err)
	}
	return nil
}

// DownloadURL returns a time-limited GET URL for storagePath.
func (g *BlobGateway) DownloadURL(ctx context.Context, storagePath string, expiry time.Duration) (string, error) {
	url, err := g.objects.PresignGet(ctx, storagePath, expiry)
	if err != nil {
		return "", fmt.Errorf("presign blob: %w", err)
	}
	return url, nil
}

// NormalizeContentType strips parameters and reports whether the media type
// is accepted for upload.
func NormalizeContentType(contentType string) (string, bool) {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return "", false
	}
	_, ok := allowedContentTypes[mediaType]
	return mediaType, ok
}

// StoragePath builds "{owner}/{base name of filename}".
func StoragePath(owner, filename string) (string, error) {
	owner = strings.TrimSpace(owner)
	if owner == "" || strings.Contains(owner, "/") || owner == "." || owner == ".." {
		return "", fmt.Errorf("%w: owner %q", ErrInvalidFilename, owner)
	}
	name := path.Base(strings.ReplaceAll(strings.TrimSpace(filename), `\`, "/"))
	switch name {
	case "", ".", "/", "..":
		return "", fmt.Errorf("%w: %q", ErrInvalidFilename, filename)
	}
	storagePath := owner + "/" + name
	if !objectstore.ValidKey(storagePath) {
		return "", fmt.Errorf("%w: %q", ErrInvalidFilename, filename)
	}
	return storagePath, nil
}

// OwnedBy reports whether storagePath is a valid object key under owner's
// prefix.
func OwnedBy(storagePath, owner string) bool {
	owner = strings.TrimSpace(owner)
	if owner == "" || !objectstore.ValidKey(storagePath) {
		return false
	}
	rest, ok := strings.CutPrefix(storagePath, owner+"/")
	return ok && rest != ""
}
