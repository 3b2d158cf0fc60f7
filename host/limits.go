package host

import "sync/atomic"

// Limits caps the number of live host objects. A zero field means unlimited.
type Limits struct {
	Semaphores int
	Mutexes    int
	Threads    int
	// Memory is the number of bytes MemAlloc may hand out at once.
	Memory int
}

// Budget counts live objects against a limit.
type Budget struct {
	limit int64
	used  atomic.Int64
}

// NewBudget returns a budget of limit units; limit <= 0 means unlimited.
func NewBudget(limit int) *Budget {
	return &Budget{limit: int64(limit)}
}

// Take reserves n units and reports whether they were available.
func (b *Budget) Take(n int) bool {
	for {
		used := b.used.Load()
		if b.limit > 0 && used+int64(n) > b.limit {
			return false
		}
		if b.used.CompareAndSwap(used, used+int64(n)) {
			return true
		}
	}
}

// Give returns n units.
func (b *Budget) Give(n int) {
	b.used.Add(-int64(n))
}

// Used returns the number of reserved units.
func (b *Budget) Used() int {
	return int(b.used.Load())
}
