package cache

import "time"

// handle addresses an entry slot inside the recency index arena.
type handle int32

const nilHandle handle = -1

// maxPrealloc bounds the arena capacity reserved up front so very large
// caches grow their backing slice lazily.
const maxPrealloc = 1024

// entry is one cached key/value pair plus its recency metadata.
type entry[K comparable, V any] struct {
	key        K
	value      V
	lastAccess time.Time
	// seq is bumped on every value write and lets unlocked loads detect
	// concurrent writers.
	seq  uint64
	prev handle
	next handle
}

// recencyIndex orders entries from least recently used (head) to most
// recently used (tail). Entries live in an arena and link to each other by
// handle, so a released slot can be reused without dangling references.
type recencyIndex[K comparable, V any] struct {
	nodes []entry[K, V]
	free  []handle
	head  handle
	tail  handle
	len   int
}

func newRecencyIndex[K comparable, V any](capacity int) *recencyIndex[K, V] {
	prealloc := capacity + 1
	if prealloc > maxPrealloc {
		prealloc = maxPrealloc
	}
	return &recencyIndex[K, V]{
		nodes: make([]entry[K, V], 0, prealloc),
		head:  nilHandle,
		tail:  nilHandle,
	}
}

// at returns the entry stored in slot h. The pointer is only valid until the
// next pushBack, which may grow the arena.
func (r *recencyIndex[K, V]) at(h handle) *entry[K, V] {
	return &r.nodes[h]
}

// pushBack stores a new entry at the tail and returns its handle.
func (r *recencyIndex[K, V]) pushBack(key K, value V, now time.Time) handle {
	var h handle
	if n := len(r.free); n > 0 {
		h = r.free[n-1]
		r.free = r.free[:n-1]
	} else {
		r.nodes = append(r.nodes, entry[K, V]{})
		h = handle(len(r.nodes) - 1)
	}
	r.nodes[h] = entry[K, V]{
		key:        key,
		value:      value,
		lastAccess: now,
		prev:       nilHandle,
		next:       nilHandle,
	}
	r.linkBack(h)
	r.len++
	return h
}

func (r *recencyIndex[K, V]) linkBack(h handle) {
	e := &r.nodes[h]
	e.prev = r.tail
	e.next = nilHandle
	if r.tail != nilHandle {
		r.nodes[r.tail].next = h
	} else {
		r.head = h
	}
	r.tail = h
}

func (r *recencyIndex[K, V]) unlink(h handle) {
	e := &r.nodes[h]
	if e.prev != nilHandle {
		r.nodes[e.prev].next = e.next
	} else {
		r.head = e.next
	}
	if e.next != nilHandle {
		r.nodes[e.next].prev = e.prev
	} else {
		r.tail = e.prev
	}
	e.prev = nilHandle
	e.next = nilHandle
}

// moveToBack marks h as the most recently used entry.
func (r *recencyIndex[K, V]) moveToBack(h handle) {
	if r.tail == h {
		return
	}
	r.unlink(h)
	r.linkBack(h)
}

// release unlinks h and returns its slot to the free list. The slot is
// zeroed so the key and value can be garbage collected.
func (r *recencyIndex[K, V]) release(h handle) {
	r.unlink(h)
	r.nodes[h] = entry[K, V]{prev: nilHandle, next: nilHandle}
	r.free = append(r.free, h)
	r.len--
}

// front returns the least recently used entry, or nilHandle when empty.
func (r *recencyIndex[K, V]) front() handle {
	return r.head
}

// each walks the index from head to tail until fn returns false. fn must not
// mutate the index.
func (r *recencyIndex[K, V]) each(fn func(h handle, e *entry[K, V]) bool) {
	for h := r.head; h != nilHandle; {
		e := &r.nodes[h]
		next := e.next
		if !fn(h, e) {
			return
		}
		h = next
	}
}

func (r *recencyIndex[K, V]) reset() {
	clear(r.nodes)
	r.nodes = r.nodes[:0]
	r.free = r.free[:0]
	r.head = nilHandle
	r.tail = nilHandle
	r.len = 0
}
