package lockfree

import (
	"runtime"
	"sync/atomic"

	"github.com/tphakala/audiostream/internal/errors"
)

// ComponentLockFree is the error component name used by this package.
const ComponentLockFree = "lockfree"

const (
	refOne   = 2 // one reference; the low bit is reserved for the claim
	claimBit = 1
)

// RefCount is a reference count that hands destruction to exactly one goroutine.
// The word stores count*2 with the low bit set once a releaser has claimed the
// object for destruction.
//
// The zero value holds no references. Call Init before publishing the owner.
type RefCount struct {
	word atomic.Int64
}

// Init seeds a freshly created object with one reference.
func (r *RefCount) Init() {
	r.word.Store(refOne)
}

// AddRef takes an additional reference. The caller must already hold one.
func (r *RefCount) AddRef() {
	prev := r.word.Add(refOne) - refOne
	if prev < refOne || prev&claimBit != 0 {
		panic(errors.Invariant(ComponentLockFree, "AddRef on object with count word %d", prev))
	}
}

// TryAddRef speculatively takes a reference to an object the caller does not yet
// own. It fails, leaving the count untouched, once the object has been claimed.
func (r *RefCount) TryAddRef() bool {
	if r.word.Add(refOne)&claimBit != 0 {
		r.word.Add(-refOne)
		return false
	}
	return true
}

// Release drops one reference. It returns true for the single caller that must
// destroy the object: the one that observed the count reach zero and won the claim.
func (r *RefCount) Release() bool {
	n := r.word.Add(-refOne)
	if n < 0 {
		panic(errors.Invariant(ComponentLockFree, "Release with count word %d", n+refOne))
	}
	if n != 0 {
		return false
	}
	return r.word.CompareAndSwap(0, claimBit)
}

// Reseed clears the claim and grants one reference to the object's next owner.
// It adds rather than stores so speculative TryAddRef calls still in flight keep
// their increments balanced.
func (r *RefCount) Reseed() {
	if n := r.word.Add(refOne - claimBit); n&claimBit != 0 {
		panic(errors.Invariant(ComponentLockFree, "Reseed of unclaimed object, count word %d", n))
	}
}

// Count returns the current number of references, including speculative ones.
func (r *RefCount) Count() int {
	return int(r.word.Load() >> 1)
}

// Claimed reports whether the object has been claimed for destruction.
func (r *RefCount) Claimed() bool {
	return r.word.Load()&claimBit != 0
}

// backoff yields the processor after a few spins of a contended retry loop.
func backoff(spins int) {
	if spins > 3 {
		runtime.Gosched()
	}
}
