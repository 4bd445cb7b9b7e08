package interfaces

import (
	"context"
	"time"
)

// Cache defines the interface for caching operations
type Cache interface {
	// Get retrieves a value by key. A missing key is a DATA_NOT_FOUND error.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value. A zero ttl uses the backend default.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a key
	Delete(ctx context.Context, key string) error

	// Close closes the cache connection
	Close() error
}
