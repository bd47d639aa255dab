// Package store is the persistence contract for workflows and execution
// records: opaque values grouped under a prefix.
package store

import "context"

// Store implementations must be safe for concurrent use; the engine saves
// execution records from every batch worker at once.
type Store interface {
	// Get returns nil without error for a missing key.
	Get(ctx context.Context, prefix, key string) ([]byte, error)
	// Set inserts or overwrites. Overwriting keeps the key's position in List.
	Set(ctx context.Context, prefix, key string, value []byte) error
	// Remove is a no-op for a missing key.
	Remove(ctx context.Context, prefix, key string) error

	/**
	 * List calls iterator with every key under prefix, in the order the
	 * keys were first set, until iterator returns false.
	 */
	List(ctx context.Context, prefix string, iterator func(key string) bool) error
}
