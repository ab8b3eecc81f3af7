package domain

import "context"

// Cache defines the interface for caching repository lookups
type Cache interface {
	// Get retrieves a value from the cache by key
	Get(ctx context.Context, key string) (any, bool)

	// Set stores a value in the cache with the given key
	Set(ctx context.Context, key string, value any) error

	// Delete removes a value from the cache by key
	Delete(ctx context.Context, key string) error

	// Flush removes every entry, expired or not
	Flush(ctx context.Context) error

	// CleanExpired removes all expired items from the cache
	CleanExpired(ctx context.Context) error
}
