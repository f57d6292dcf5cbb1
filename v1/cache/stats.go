package cache

import "sync"

// StatsSnapshot is a point-in-time copy of the cache counters.
type StatsSnapshot struct {
	Requests      uint64
	Hits          uint64
	Misses        uint64
	Loads         uint64 // loader invocations
	LoadSuccesses uint64
	LoadFailures  uint64 // loader errors plus misses with no loader configured
	LoadErrors    uint64 // loader invocations that returned an error
	Evictions     uint64
	Expirations   uint64
}

// HitRate returns Hits/Requests, or 0 before the first request.
func (s StatsSnapshot) HitRate() float64 {
	if s.Requests == 0 {
		return 0
	}
	return float64(s.Hits) / float64(s.Requests)
}

// MissRate returns Misses/Requests, or 0 before the first request.
func (s StatsSnapshot) MissRate() float64 {
	if s.Requests == 0 {
		return 0
	}
	return float64(s.Misses) / float64(s.Requests)
}

// Stats collects cache counters. It is safe for concurrent use and can be
// shared with other components through WithStats.
//
// A request is always recorded together with its hit or miss, so every
// snapshot satisfies Hits+Misses == Requests.
type Stats struct {
	mu sync.Mutex
	s  StatsSnapshot
}

// NewStats returns zeroed counters.
func NewStats() *Stats {
	return &Stats{}
}

func (st *Stats) recordHit() {
	st.mu.Lock()
	st.s.Requests++
	st.s.Hits++
	st.mu.Unlock()
}

func (st *Stats) recordMiss(expired bool) {
	st.mu.Lock()
	st.s.Requests++
	st.s.Misses++
	if expired {
		st.s.Expirations++
	}
	st.mu.Unlock()
}

func (st *Stats) recordLoadSuccess() {
	st.mu.Lock()
	st.s.Loads++
	st.s.LoadSuccesses++
	st.mu.Unlock()
}

func (st *Stats) recordLoadError() {
	st.mu.Lock()
	st.s.Loads++
	st.s.LoadFailures++
	st.s.LoadErrors++
	st.mu.Unlock()
}

func (st *Stats) recordNoLoader() {
	st.mu.Lock()
	st.s.LoadFailures++
	st.mu.Unlock()
}

func (st *Stats) recordEviction() {
	st.mu.Lock()
	st.s.Evictions++
	st.mu.Unlock()
}

func (st *Stats) recordExpiration() {
	st.mu.Lock()
	st.s.Expirations++
	st.mu.Unlock()
}

// Snapshot returns a copy of the counters.
func (st *Stats) Snapshot() StatsSnapshot {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.s
}

// Reset zeroes every counter.
func (st *Stats) Reset() {
	st.mu.Lock()
	st.s = StatsSnapshot{}
	st.mu.Unlock()
}
