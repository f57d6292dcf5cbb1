package cache

import (
	"math"
	"time"
)

// NoExpiration is the expiration duration of entries that never go stale.
const NoExpiration time.Duration = math.MaxInt64

// Clock supplies the current time. Readings must not go backwards; the
// default clock relies on the monotonic reading carried by time.Now.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to the Clock interface.
type ClockFunc func() time.Time

// Now implements Clock.
func (f ClockFunc) Now() time.Time { return f() }

var systemClock Clock = ClockFunc(time.Now)

// ExpirationPolicy decides whether an entry is stale.
type ExpirationPolicy interface {
	// Expired reports whether an entry last accessed at lastAccess must be
	// treated as stale at now.
	Expired(lastAccess, now time.Time) bool
}

type expireAfterAccess struct {
	ttl time.Duration
}

// ExpireAfterAccess returns a policy under which an entry goes stale once
// more than ttl has elapsed since it was last read or written.
// NoExpiration yields a policy that never expires anything.
func ExpireAfterAccess(ttl time.Duration) ExpirationPolicy {
	return expireAfterAccess{ttl: ttl}
}

func (p expireAfterAccess) Expired(lastAccess, now time.Time) bool {
	if p.ttl == NoExpiration {
		return false
	}
	return now.Sub(lastAccess) > p.ttl
}
