package cache

// RemovalReason tells why an entry left the cache.
type RemovalReason int

const (
	// RemovalEvicted means the entry was the least recently used one when the
	// cache grew past its capacity.
	RemovalEvicted RemovalReason = iota
	// RemovalExpired means the entry went stale and could not be reloaded.
	RemovalExpired
	// RemovalInvalidated means the entry was removed through Invalidate.
	RemovalInvalidated
	// RemovalReset means the entry was dropped by Reset.
	RemovalReset
)

func (r RemovalReason) String() string {
	switch r {
	case RemovalEvicted:
		return "evicted"
	case RemovalExpired:
		return "expired"
	case RemovalInvalidated:
		return "invalidated"
	case RemovalReset:
		return "reset"
	default:
		return "unknown"
	}
}

// RemovalListener is notified every time an entry leaves the cache.
//
// It runs synchronously while the cache lock is held, so it must return
// quickly and must not call back into the cache.
type RemovalListener[K comparable] func(key K, reason RemovalReason)
