package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrBlobNotFound is returned by Get when the key has no object behind it.
// Metadata claiming an active file whose blob is gone is an internal
// consistency fault, so callers must not fold this into their not-found path.
var ErrBlobNotFound = errors.New("blob not found")

// ObjectStore is the gateway to durable blob storage. Remove is idempotent:
// removing a key that is already gone succeeds.
type ObjectStore interface {
	Put(ctx context.Context, key string, data io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Remove(ctx context.Context, key string) error
	// Presign returns a time-limited GET URL for the object.
	Presign(ctx context.Context, key string, ttl time.Duration) (string, error)
}
