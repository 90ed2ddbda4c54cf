package kvstore

import "context"

// Backend is the flat key/value persistence port behind a Store.
//
// Implementations must treat keys as opaque strings and values as opaque
// UTF-8 text. Usage accounting (len(key)+len(value) per record) is the
// backend's responsibility so SQL backends can compute it in one query.
type Backend interface {
	// Get returns the value for key, with found=false when absent.
	Get(ctx context.Context, key string) (value string, found bool, err error)

	// Put stores value under key, replacing any existing record.
	Put(ctx context.Context, key, value string) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Keys returns all stored keys in unspecified order.
	Keys(ctx context.Context) ([]string, error)

	// Usage returns the total byte footprint: sum of len(key)+len(value).
	Usage(ctx context.Context) (int64, error)
}

// BatchDeleter is an optional Backend extension. Backends that can remove
// several keys atomically implement it; eviction then drops its whole
// victim set in one transaction instead of one delete per key.
type BatchDeleter interface {
	DeleteBatch(ctx context.Context, keys []string) error
}
