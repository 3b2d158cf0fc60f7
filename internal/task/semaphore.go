package task

// Semaphore is a counting semaphore on top of a futex. Unlike a plain futex
// wait, any number of threads may be blocked in Wait at once: every Post lets
// exactly one of them (or the next caller of Wait) through.
type Semaphore struct {
	futex Futex
}

// Init sets the initial value. It must be called before the semaphore is
// shared.
func (s *Semaphore) Init(value uint32) {
	s.futex.Store(value)
}

// Post (unlock) the semaphore, incrementing the value in the semaphore.
func (s *Semaphore) Post() {
	s.futex.Add(1)
	s.futex.Wake()
}

// Wait (lock) the semaphore, decrementing the value in the semaphore. It blocks
// while the value is zero.
func (s *Semaphore) Wait() {
	for {
		value := s.futex.Load()
		if value > 0 {
			if s.futex.CompareAndSwap(value, value-1) {
				return
			}
			continue
		}
		// Sleeps only if nobody posted since the load above.
		s.futex.Wait(0)
	}
}

// TryWait decrements the semaphore if that can be done without blocking.
func (s *Semaphore) TryWait() bool {
	for {
		value := s.futex.Load()
		if value == 0 {
			return false
		}
		if s.futex.CompareAndSwap(value, value-1) {
			return true
		}
	}
}

// Value returns the current count. Only useful for diagnostics.
func (s *Semaphore) Value() uint32 {
	return s.futex.Load()
}
