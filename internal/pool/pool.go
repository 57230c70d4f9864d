// Package pool implements a fixed-capacity allocator of fixed-size slots
// with O(1) acquire/release and no heap allocation after construction.
//
// sync.Pool does not fit here: it gives no available() count, no
// capacity ceiling, and no guarantee that Get() avoids a syscall-backed
// slow path when empty. This pool instead pre-allocates its backing
// array once and keeps a stack of free slot indices beside it, an index-handle
// technique that gives pool-local aliasing instead of raw intrusive
// pointers.
package pool

import "sync/atomic"

// Pool is a single-threaded, fixed-capacity pool of *T backed by one
// pre-allocated slice. The zero value is not usable; construct with New.
//
// An acquirer and releaser must be the same goroutine: this type holds
// no mutex, so a clean acquire/release round trip stays O(1) with no
// synchronization overhead.
type Pool[T any] struct {
	slots []T
	// free holds the indices of unused slots, used as a stack: the top
	// freeLen entries are available, acquire pops from the top.
	free    []int32
	freeLen int
	inUse   []bool

	acquired uint64 // cumulative count, reported by Counts
	released uint64
}

// New constructs a pool of capacity n. All n slots are allocated now;
// nothing in the pool allocates again after this call returns.
func New[T any](n int) *Pool[T] {
	if n <= 0 {
		n = 1
	}
	p := &Pool[T]{
		slots: make([]T, n),
		free:  make([]int32, n),
		inUse: make([]bool, n),
	}
	for i := 0; i < n; i++ {
		p.free[i] = int32(n - 1 - i)
	}
	p.freeLen = n
	return p
}

// Capacity returns the fixed number of slots this pool manages.
func (p *Pool[T]) Capacity() int {
	return len(p.slots)
}

// Available returns the number of free slots.
func (p *Pool[T]) Available() int {
	return p.freeLen
}

// Acquire returns a pointer to an unused slot and its index, or (nil, -1,
// false) if the pool is exhausted. The slot's contents are whatever was
// left by the previous occupant; the caller must initialize every field
// it depends on before use.
func (p *Pool[T]) Acquire() (*T, int32, bool) {
	if p.freeLen == 0 {
		return nil, -1, false
	}
	p.freeLen--
	idx := p.free[p.freeLen]
	p.inUse[idx] = true
	atomic.AddUint64(&p.acquired, 1)
	return &p.slots[idx], idx, true
}

// Release returns slot idx to the pool. Releasing an index that is not
// currently acquired, or that is out of range, is a programming bug: in
// this implementation it is reported via the bool return rather than a
// panic, so benchmark and fuzz harnesses can assert on it without
// crashing the process. Callers on the real hot path should treat a
// false return as an invariant violation.
func (p *Pool[T]) Release(idx int32) bool {
	if idx < 0 || int(idx) >= len(p.slots) || !p.inUse[idx] {
		return false
	}
	p.inUse[idx] = false
	p.free[p.freeLen] = idx
	p.freeLen++
	atomic.AddUint64(&p.released, 1)
	return true
}

// ValidateMemory walks the free list and cross-checks it against the
// inUse bitmap: every free index must be marked not-in-use, no index may
// appear twice in the free list, and the count must equal Available().
// Cheap enough to call from a benchmark harness between runs.
func (p *Pool[T]) ValidateMemory() bool {
	if p.freeLen > len(p.free) {
		return false
	}
	seen := make([]bool, len(p.slots))
	for i := 0; i < p.freeLen; i++ {
		idx := p.free[i]
		if idx < 0 || int(idx) >= len(p.slots) {
			return false
		}
		if seen[idx] {
			return false // duplicate in free list: corruption
		}
		seen[idx] = true
		if p.inUse[idx] {
			return false // free list disagrees with inUse bitmap
		}
	}
	return true
}

// Reset returns every slot to the pool, regardless of current
// acquisition state, and zeroes each slot's contents. Used by
// OrderBook.Reset to release all outstanding orders and levels at once.
func (p *Pool[T]) Reset() {
	var zero T
	for i := range p.slots {
		p.slots[i] = zero
		p.inUse[i] = false
		p.free[i] = int32(len(p.slots) - 1 - i)
	}
	p.freeLen = len(p.slots)
}

// Counts returns the lifetime acquire/release totals, for diagnostics.
func (p *Pool[T]) Counts() (acquired, released uint64) {
	return atomic.LoadUint64(&p.acquired), atomic.LoadUint64(&p.released)
}
