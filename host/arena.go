package host

import (
	"sync"
	"sync/atomic"
	"unsafe"
)

// MemStats records statistics about the memory handed out through MemAlloc.
type MemStats struct {
	// TotalAlloc is the cumulative number of bytes allocated.
	TotalAlloc uint64
	// InUse is the number of bytes allocated and not yet freed.
	InUse uint64
	// Mallocs is the cumulative count of allocations.
	Mallocs uint64
	// Frees is the cumulative count of frees.
	Frees uint64
}

// Arena implements MemAlloc/MemFree for both backends: allocations come from
// the Go heap, bounded by a byte budget.
type Arena struct {
	budget *Budget

	// Size of every live allocation, by its first byte.
	mu    sync.Mutex
	sizes map[*byte]int

	totalAlloc atomic.Uint64
	mallocs    atomic.Uint64
	frees      atomic.Uint64
}

// NewArena returns an arena that hands out at most limit bytes at a time
// (limit <= 0 means unlimited).
func NewArena(limit int) *Arena {
	return &Arena{budget: NewBudget(limit), sizes: make(map[*byte]int)}
}

// Alloc returns size zeroed bytes, or ErrNoMem when the budget is exhausted.
func (a *Arena) Alloc(size int) ([]byte, error) {
	if size < 0 || !a.budget.Take(size) {
		return nil, ErrNoMem
	}

	// Track statistics. These are stored separately so are not strictly
	// atomic, which means that ReadMemStats might read a _slightly_
	// inconsistent state.
	a.totalAlloc.Add(uint64(size))
	a.mallocs.Add(1)
	if size == 0 {
		return []byte{}, nil
	}

	b := make([]byte, size)
	a.mu.Lock()
	a.sizes[unsafe.SliceData(b)] = size
	a.mu.Unlock()
	return b, nil
}

// Free returns the allocation b starts at to the budget, whatever b's length
// and capacity are. b must start where a slice returned by Alloc starts;
// anything else, including a second Free, returns ErrBadFree.
func (a *Arena) Free(b []byte) error {
	if cap(b) == 0 {
		return nil
	}

	p := unsafe.SliceData(b)
	a.mu.Lock()
	size, ok := a.sizes[p]
	delete(a.sizes, p)
	a.mu.Unlock()
	if !ok {
		return ErrBadFree
	}

	a.budget.Give(size)
	a.frees.Add(1)
	return nil
}
// ReadMemStats returns a snapshot of the arena statistics.
func (a *Arena) ReadMemStats() MemStats {
	return MemStats{
		TotalAlloc: a.totalAlloc.Load(),
		InUse:      uint64(a.budget.Used()),
		Mallocs:    a.mallocs.Load(),
		Frees:      a.frees.Load(),
	}
}
