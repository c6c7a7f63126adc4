package lockfree

import "sync/atomic"

// markedRef is an immutable pointer and mark pair. A new pair is allocated for
// every change so a single atomic pointer swap updates both.
type markedRef[T any] struct {
	ptr  *T
	mark bool
}

// MarkedPtr is an atomic pointer with a mark bit for garbage-collected nodes.
// The zero value is a nil, unmarked pointer.
type MarkedPtr[T any] struct {
	ref atomic.Pointer[markedRef[T]]
}

// Load returns the pointer and its mark.
func (m *MarkedPtr[T]) Load() (*T, bool) {
	r := m.ref.Load()
	if r == nil {
		return nil, false
	}
	return r.ptr, r.mark
}

// Pointer returns the pointer, ignoring the mark.
func (m *MarkedPtr[T]) Pointer() *T {
	p, _ := m.Load()
	return p
}

// IsMarked reports the mark bit.
func (m *MarkedPtr[T]) IsMarked() bool {
	_, mark := m.Load()
	return mark
}

// Store sets pointer and mark unconditionally.
func (m *MarkedPtr[T]) Store(ptr *T, mark bool) {
	m.ref.Store(&markedRef[T]{ptr: ptr, mark: mark})
}

// CompareAndSwap replaces (oldPtr, oldMark) with (newPtr, newMark). Like any
// lock-free CAS it may fail spuriously under contention; callers retry.
func (m *MarkedPtr[T]) CompareAndSwap(oldPtr *T, oldMark bool, newPtr *T, newMark bool) bool {
	cur := m.ref.Load()
	curPtr, curMark := (*T)(nil), false
	if cur != nil {
		curPtr, curMark = cur.ptr, cur.mark
	}
	if curPtr != oldPtr || curMark != oldMark {
		return false
	}
	if newPtr == curPtr && newMark == curMark {
		return true
	}
	return m.ref.CompareAndSwap(cur, &markedRef[T]{ptr: newPtr, mark: newMark})
}

// TrySetFromTo replaces old with next, applying the tag policy to the mark.
func (m *MarkedPtr[T]) TrySetFromTo(old, next *T, policy TagPolicy) bool {
	for {
		cur := m.ref.Load()
		curPtr, curMark := (*T)(nil), false
		if cur != nil {
			curPtr, curMark = cur.ptr, cur.mark
		}
		if curPtr != old {
			return false
		}
		newMark, ok := policy.apply(curMark)
		if !ok {
			return false
		}
		if m.ref.CompareAndSwap(cur, &markedRef[T]{ptr: next, mark: newMark}) {
			return true
		}
	}
}

// Mark sets the mark, keeping the pointer, and reports whether this call set it.
func (m *MarkedPtr[T]) Mark() bool {
	for {
		cur := m.ref.Load()
		if cur != nil && cur.mark {
			return false
		}
		var ptr *T
		if cur != nil {
			ptr = cur.ptr
		}
		if m.ref.CompareAndSwap(cur, &markedRef[T]{ptr: ptr, mark: true}) {
			return true
		}
	}
}
