package task

import (
	"runtime"
	"sync/atomic"
)

var (
	// yieldFn is called after every failed round of spinning. Tests may
	// replace it.
	yieldFn = runtime.Gosched
)

const spinAttemptsBeforeYielding = 64

// Spinlock implements a lock where each thread trying to acquire it busy-waits
// till the lock becomes available. It must only protect short sections that
// never block.
type Spinlock struct {
	state atomic.Uint32
}

// Acquire blocks until the lock can be acquired by the caller. Any attempt to
// re-acquire a lock already held by the caller will deadlock.
func (l *Spinlock) Acquire() {
	for {
		for i := 0; i < spinAttemptsBeforeYielding; i++ {
			if l.state.Load() == 0 && l.TryToAcquire() {
				return
			}
		}
		yieldFn()
	}
}

// TryToAcquire attempts to acquire the lock and returns true if the lock could
// be acquired or false otherwise.
func (l *Spinlock) TryToAcquire() bool {
	return l.state.Swap(1) == 0
}

// Release relinquishes a held lock allowing other threads to acquire it.
// Calling Release while the lock is free has no effect.
func (l *Spinlock) Release() {
	l.state.Store(0)
}
