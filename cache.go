package veloql

import (
	"context"
	"strconv"
	"time"
)

// Cache is the interface for caching read results.
// Implementations live in the cache package (in-memory and Redis).
type Cache interface {
	// Get retrieves a value from the cache.
	// Returns nil, nil if the key doesn't exist.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value in the cache with an optional TTL.
	// If ttl is 0, the value should not expire.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from the cache.
	Delete(ctx context.Context, key string) error

	// DeletePrefix removes all values with the given prefix.
	DeletePrefix(ctx context.Context, prefix string) error

	// Clear removes all values from the cache.
	Clear(ctx context.Context) error
}

// CacheKey generates a cache key for a read.
type CacheKey struct {
	Entity    string
	Operation string
	ID        string
	Filter    string
	Sort      string
	Page      int
	Size      int
}

// Prefix returns the key prefix shared by every read of the entity.
func (k CacheKey) Prefix() string {
	return "veloql:" + k.Entity + ":"
}

// String returns the string representation of the cache key.
func (k CacheKey) String() string {
	return k.Prefix() + k.Operation + ":" + k.ID + ":" + k.Filter + ":" + k.Sort +
		":" + strconv.Itoa(k.Page) + ":" + strconv.Itoa(k.Size)
}
