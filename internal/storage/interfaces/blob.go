package interfaces

import (
	"context"
	"io"
)

// BlobStorage defines the interface for blob/object storage operations
type BlobStorage interface {
	// Put stores a blob with the given key, replacing any existing blob
	Put(ctx context.Context, key string, data io.Reader) error

	// Get retrieves a blob by key. A missing key is a DATA_NOT_FOUND error.
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete removes a blob by key
	Delete(ctx context.Context, key string) error

	// List returns the keys under prefix, sorted
	List(ctx context.Context, prefix string) ([]string, error)

	// Exists checks if a blob exists
	Exists(ctx context.Context, key string) (bool, error)

	// Type names the backend ("local", "s3")
	Type() string
}
