package store

import "context"

// Store is a flat prefix/key blob store. Implementations must be safe for
// concurrent use.
type Store interface {
	/**
	 * Get returns nil bytes and nil error when prefix + key does not exist.
	 */
	Get(ctx context.Context, prefix, key string) ([]byte, error)
	Set(ctx context.Context, prefix, key string, value []byte) error
	/**
	 * Remove a prefix and key
	 * remove an unexists prefix + key would NOT return error
	 */
	Remove(ctx context.Context, prefix, key string) error

	/**
	 * List calls iterator with every key under prefix, in ascending order,
	 * until iterator returns false.
	 */
	List(ctx context.Context, prefix string, iterator func(key string) bool) error
}
