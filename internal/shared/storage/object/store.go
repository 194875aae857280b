package object

import (
	"context"
	"io"
	"time"
)

// ObjectStore defines the contract for saving and retrieving binary objects.
type ObjectStore interface {
	Save(ctx context.Context, firmId string, fileName string, r io.Reader) (storageKey string, sizeBytes int64, mimeType string, err error)
	SaveWithKey(ctx context.Context, storageKey string, contentType string, r io.Reader) (int64, error)
	Open(ctx context.Context, storageKey string) (io.ReadCloser, error)
	// SignedURL returns a time-limited download URL for a stored object.
	// Stores without a URL scheme return an empty string and no error.
	SignedURL(ctx context.Context, storageKey string, ttl time.Duration) (string, error)
}
