package coop

import (
	"github.com/gammazero/deque"

	"github.com/tavip/linux/host"
)

// semaphore hands every Up straight to its oldest waiter, so acquisitions are
// FIFO: a thread that calls Down or TryDown after a waiter was woken cannot
// take the count first. The count only grows while nobody waits.
type semaphore struct {
	h     *Host
	count int
	freed bool

	// waiters are the threads blocked in Down, oldest first.
	waiters deque.Deque[*thread]
}

func (h *Host) SemAlloc(count int) (host.Semaphore, error) {
	if count < 0 || !h.sems.Take(1) {
		return nil, host.ErrNoMem
	}
	return &semaphore{h: h, count: count}, nil
}

func (s *semaphore) check(op string) {
	if s.freed {
		host.Bug(s.h, s.h.log, "sem_%s on a freed semaphore", op)
	}
}

func (s *semaphore) Down() {
	s.check("down")
	if s.count > 0 {
		s.count--
		return
	}
	// Woken only by the Up that hands over its count.
	s.waiters.PushBack(s.h.block("semaphore", nil))
	s.h.schedule(false)
}

func (s *semaphore) TryDown() bool {
	s.check("try_down")
	if s.count <= 0 {
		return false
	}
	s.count--
	return true
}

func (s *semaphore) Up() {
	s.check("up")
	if s.waiters.Len() > 0 {
		s.h.wakeup(s.waiters.PopFront())
		return
	}
	s.count++
}

func (s *semaphore) Free() {
	s.check("free")
	if s.waiters.Len() > 0 {
		host.Bug(s.h, s.h.log, "sem_free with %d blocked threads", s.waiters.Len())
	}
	s.freed = true
	s.h.sems.Give(1)
}

type mutex struct {
	h         *Host
	lock      int
	recursive bool
	owner     *thread
	freed     bool

	// waiters are the threads blocked in Lock, oldest first.
	waiters deque.Deque[*thread]
}

func (h *Host) MutexAlloc(recursive bool) (host.Mutex, error) {
	if !h.mutexes.Take(1) {
		return nil, host.ErrNoMem
	}
	return &mutex{h: h, recursive: recursive}, nil
}

func (m *mutex) Lock() {
	self := m.h.cur()
	for m.lock > 0 && (!m.recursive || m.owner != self) {
		if m.owner == self {
			host.Bug(m.h, m.h.log, "mutex_lock: %v relocks a non-recursive mutex", self)
		}
		// Wait for the lock to be released.
		m.waiters.PushBack(m.h.block("mutex", m.owner))
		m.h.schedule(false)
	}

	m.owner = self
	m.lock++
}

func (m *mutex) Unlock() {
	if m.lock == 0 {
		host.Bug(m.h, m.h.log, "mutex_unlock: unlock of unlocked mutex")
	}
	if m.owner != m.h.cur() {
		host.Bug(m.h, m.h.log, "mutex_unlock: %v unlocks a mutex held by %v", m.h.cur(), m.owner)
	}

	m.lock--
	if m.lock > 0 {
		return
	}
	m.owner = nil

	// Transfer the chance to lock to the oldest waiter.
	if m.waiters.Len() > 0 {
		m.h.wakeup(m.waiters.PopFront())
	}
}

func (m *mutex) Free() {
	if m.freed {
		host.Bug(m.h, m.h.log, "mutex_free: double free")
	}
	m.freed = true
	m.h.mutexes.Give(1)
}
