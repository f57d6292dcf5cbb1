// Package cache implements a bounded LRU cache with lazy expire-after-access
// semantics. On a miss or a stale entry the cache can call a Loader to fetch
// the value, and every entry leaving the cache is reported to an optional
// RemovalListener. All operations are serialized behind one mutex; see
// WithUnlockedLoads for running slow loaders outside of it.
//
// Expiration is checked when a key is read. WithSweepInterval adds a
// background sweeper for caches holding many entries that are never read
// again.
package cache
