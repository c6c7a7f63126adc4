package sound

import "sync/atomic"

// registry is a copy-on-write set. Readers iterate a snapshot without
// synchronisation; writers publish a new slice by CAS.
type registry[T comparable] struct {
	items atomic.Pointer[[]T]
}

func newRegistry[T comparable]() *registry[T] {
	r := &registry[T]{}
	r.items.Store(&[]T{})
	return r
}

// add appends v unless the set already holds limit items. A non-positive
// limit means unbounded.
func (r *registry[T]) add(v T, limit int) bool {
	for {
		cur := r.items.Load()
		if limit > 0 && len(*cur) >= limit {
			return false
		}
		next := make([]T, len(*cur), len(*cur)+1)
		copy(next, *cur)
		next = append(next, v)
		if r.items.CompareAndSwap(cur, &next) {
			return true
		}
	}
}

func (r *registry[T]) remove(v T) bool {
	for {
		cur := r.items.Load()
		next := make([]T, 0, len(*cur))
		for _, x := range *cur {
			if x != v {
				next = append(next, x)
			}
		}
		if len(next) == len(*cur) {
			return false
		}
		if r.items.CompareAndSwap(cur, &next) {
			return true
		}
	}
}

func (r *registry[T]) snapshot() []T {
	return *r.items.Load()
}

func (r *registry[T]) len() int {
	return len(*r.items.Load())
}
