package task

// PMutex is a futex based mutex for short critical sections shared between
// host threads.
//
// The futex word is 0 when unlocked, 1 when locked and 2 when locked with
// (possible) waiters.
type PMutex struct {
	futex Futex
}

func (m *PMutex) Lock() {
	// Fast path: try to take an uncontended lock.
	if m.futex.CompareAndSwap(0, 1) {
		// We obtained the mutex.
		return
	}

	// Try to lock the mutex. If it changed from 0 to 2, we took a contended
	// lock.
	for m.futex.Swap(2) != 0 {
		// Wait until we get resumed in Unlock.
		m.futex.Wait(2)
	}
}

// TryLock tries to lock m and reports whether it succeeded.
func (m *PMutex) TryLock() bool {
	return m.futex.CompareAndSwap(0, 1)
}

// Unlock releases the mutex. It reports false if the mutex was not locked,
// which callers treat as a fatal error.
func (m *PMutex) Unlock() bool {
	old := m.futex.Swap(0)
	if old == 2 {
		// Mutex was a contended lock, so we need to wake the next waiter.
		m.futex.Wake()
	}
	return old != 0
}
