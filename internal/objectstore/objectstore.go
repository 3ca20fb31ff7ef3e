// Package objectstore holds uploaded campaign assets (recipient CSVs,
// images) and issues time-limited URLs for private retrieval.
// It supports S3-compatible storage (production) and the local filesystem
// (development).
package objectstore

import (
	"context"
	"io"
	"time"
)

// DefaultURLTTL is how long a presigned download URL stays valid.
const DefaultURLTTL = 15 * time.Minute

// ObjectStore stores and retrieves uploaded files.
type ObjectStore interface {
	// Put stores the object under key, overwriting any existing object.
	Put(ctx context.Context, key, contentType string, body io.Reader) error

	// Get returns the object content as a streaming reader.
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// PresignGet returns a time-limited URL for downloading the object.
	PresignGet(ctx context.Context, key string, expires time.Duration) (string, error)

	// Delete removes the object. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}
