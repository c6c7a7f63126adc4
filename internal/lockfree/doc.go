// Package lockfree provides the non-blocking building blocks of the streaming core:
// a claimable reference count, index-based handle cells, a slab-backed free list,
// a double-ended queue and a skip-list priority queue with periodic re-prioritization.
//
// # Memory Model
//
// Two reclamation strategies are used side by side:
//
//   - Pooled objects (Pool, Handle, Cell) are reference counted. A cell stores a slot
//     index rather than a pointer, so a tag bit can be packed next to it without
//     unsafe pointer arithmetic. Slots are recycled through the free list and never
//     handed back to the Go allocator while the pool lives.
//   - Structural nodes (Deque, SkipList) are ordinary heap objects linked through
//     MarkedPtr. The garbage collector reclaims them once unlinked, which removes the
//     ABA hazard the versioned free-list head has to guard against.
//
// # Concurrency
//
// Every exported method is safe for concurrent use. No method takes a lock or blocks;
// contended operations retry their compare-and-swap and yield with runtime.Gosched
// after a few failed attempts.
//
// Invariant violations, such as releasing a reference whose count is already zero,
// indicate a concurrency bug and panic with a critical *errors.EnhancedError.
package lockfree
