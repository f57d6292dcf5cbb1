package cache

import (
	"reflect"
	"testing"
	"time"
)

// checkLinks verifies that walking forward and backward visits the same
// entries and that len matches.
func checkLinks[K comparable, V any](t *testing.T, r *recencyIndex[K, V]) []K {
	t.Helper()
	var forward []K
	prev := nilHandle
	for h := r.head; h != nilHandle; h = r.nodes[h].next {
		if r.nodes[h].prev != prev {
			t.Fatalf("entry %d: prev is %d, want %d", h, r.nodes[h].prev, prev)
		}
		forward = append(forward, r.nodes[h].key)
		prev = h
	}
	if r.tail != prev {
		t.Fatalf("tail is %d, want %d", r.tail, prev)
	}
	if len(forward) != r.len {
		t.Fatalf("len is %d, walked %d entries", r.len, len(forward))
	}
	return forward
}

func TestRecencyIndexOrdering(t *testing.T) {
	r := newRecencyIndex[string, int](4)
	now := time.Now()
	a := r.pushBack("a", 1, now)
	b := r.pushBack("b", 2, now)
	c := r.pushBack("c", 3, now)

	if got := checkLinks(t, r); !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Fatalf("unexpected order %v", got)
	}

	r.moveToBack(a)
	if got := checkLinks(t, r); !reflect.DeepEqual(got, []string{"b", "c", "a"}) {
		t.Fatalf("unexpected order after move %v", got)
	}

	r.moveToBack(a)
	if got := checkLinks(t, r); !reflect.DeepEqual(got, []string{"b", "c", "a"}) {
		t.Fatalf("moving the tail must be a no-op, got %v", got)
	}

	r.release(c)
	if got := checkLinks(t, r); !reflect.DeepEqual(got, []string{"b", "a"}) {
		t.Fatalf("unexpected order after release %v", got)
	}
	if r.front() != b {
		t.Fatalf("expected b at the front")
	}
}

func TestRecencyIndexReusesReleasedSlots(t *testing.T) {
	r := newRecencyIndex[int, string](2)
	now := time.Now()
	h0 := r.pushBack(0, "zero", now)
	r.pushBack(1, "one", now)
	r.release(h0)

	if r.at(h0).value != "" {
		t.Fatalf("released slot must be zeroed")
	}
	h2 := r.pushBack(2, "two", now)
	if h2 != h0 {
		t.Fatalf("expected slot %d to be reused, got %d", h0, h2)
	}
	if len(r.nodes) != 2 {
		t.Fatalf("arena grew to %d", len(r.nodes))
	}
	if got := checkLinks(t, r); !reflect.DeepEqual(got, []int{1, 2}) {
		t.Fatalf("unexpected order %v", got)
	}
}

func TestRecencyIndexSingleEntry(t *testing.T) {
	r := newRecencyIndex[string, int](1)
	h := r.pushBack("only", 1, time.Now())
	r.moveToBack(h)
	checkLinks(t, r)
	r.release(h)
	if r.head != nilHandle || r.tail != nilHandle || r.len != 0 {
		t.Fatalf("expected empty index, got head=%d tail=%d len=%d", r.head, r.tail, r.len)
	}
	if r.front() != nilHandle {
		t.Fatalf("expected no front entry")
	}
}

func TestRecencyIndexEachStops(t *testing.T) {
	r := newRecencyIndex[int, int](8)
	for i := 0; i < 5; i++ {
		r.pushBack(i, i, time.Now())
	}
	var seen []int
	r.each(func(_ handle, e *entry[int, int]) bool {
		seen = append(seen, e.key)
		return e.key < 2
	})
	if !reflect.DeepEqual(seen, []int{0, 1, 2}) {
		t.Fatalf("unexpected walk %v", seen)
	}
}

func TestRecencyIndexReset(t *testing.T) {
	r := newRecencyIndex[int, int](8)
	for i := 0; i < 5; i++ {
		r.pushBack(i, i, time.Now())
	}
	r.release(r.front())
	r.reset()
	if r.len != 0 || len(r.nodes) != 0 || len(r.free) != 0 {
		t.Fatalf("expected empty index after reset")
	}
	r.pushBack(9, 9, time.Now())
	if got := checkLinks(t, r); !reflect.DeepEqual(got, []int{9}) {
		t.Fatalf("unexpected order %v", got)
	}
}

func TestPreallocIsBounded(t *testing.T) {
	r := newRecencyIndex[int, int](1 << 20)
	if cap(r.nodes) > maxPrealloc {
		t.Fatalf("preallocated %d slots", cap(r.nodes))
	}
}
