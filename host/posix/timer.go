//go:build linux

package posix

import (
	"runtime"

	"github.com/tavip/linux/host"
	"github.com/tavip/linux/internal/task"
)

// timerQueue is a deadline-sorted list of armed timers, served by a single
// runner thread that is started with the first armed timer.
type timerQueue struct {
	lock    task.PMutex
	head    *timer
	started bool
	stopped bool
	// Closed by the runner when it returns.
	done chan struct{}

	// Bumped on every change so the runner's futex wait ends early when a
	// sooner timer is added.
	futex task.Futex
}

type timer struct {
	h     *Host
	fn    func()
	when  uint64
	next  *timer
	freed bool
}

func (h *Host) TimerAlloc(fn func()) (host.Timer, error) {
	return &timer{h: h, fn: fn}, nil
}

func (t *timer) SetOneshot(ns uint64) error {
	q := &t.h.timers
	q.lock.Lock()
	defer q.lock.Unlock()

	if t.freed {
		return host.ErrTimerFreed
	}
	if q.stopped {
		return host.ErrClosed
	}
	q.remove(t)
	t.when = t.h.Time() + ns
	q.add(t)

	if !q.started {
		q.started = true
		q.done = make(chan struct{})
		go t.h.timerRunner()
	}
	q.futex.Add(1)
	q.futex.Wake()
	return nil
}

func (t *timer) Free() {
	q := &t.h.timers
	q.lock.Lock()
	q.remove(t)
	t.freed = true
	q.lock.Unlock()
}

func (q *timerQueue) add(t *timer) {
	p := &q.head
	for ; *p != nil; p = &(*p).next {
		if t.when < (*p).when {
			// this will finish earlier than the next - insert here
			break
		}
	}
	t.next = *p
	*p = t
}

func (q *timerQueue) remove(t *timer) bool {
	for p := &q.head; *p != nil; p = &(*p).next {
		if *p == t {
			*p = t.next
			t.next = nil
			return true
		}
	}
	return false
}

// Separate host thread that runs timer callbacks when they expire.
// Callbacks may take the CPU, so the runner keeps a stable thread identity.
func (h *Host) timerRunner() {
	runtime.LockOSThread()
	q := &h.timers
	defer close(q.done)
	for {
		q.lock.Lock()

		if q.stopped {
			q.lock.Unlock()
			return
		}

		if q.head == nil {
			// No timer in the queue, so wait until one becomes available.
			val := q.futex.Load()
			q.lock.Unlock()
			q.futex.Wait(val)
			continue
		}

		now := h.Time()
		if now < q.head.when {
			// There is a timer in the queue, but we need to wait until it
			// expires. Using a futex, so that the wait is exited early when
			// adding a new (sooner-to-expire) timer.
			val := q.futex.Load()
			timeout := q.head.when - now
			q.lock.Unlock()
			q.futex.WaitUntil(val, timeout)
			continue
		}

		// Pop timer from queue.
		t := q.head
		q.head = t.next
		t.next = nil

		q.lock.Unlock()

		h.log.Debug("timer fired", "late_ns", now-t.when)
		t.fn()
	}
}

// Close stops the timer runner and waits for it to exit. Armed timers no
// longer fire and SetOneshot fails with host.ErrClosed. The owner of a Host
// calls Close once it is done with it, after halting any kernel running on it;
// it must not be called from a timer callback.
func (h *Host) Close() {
	q := &h.timers
	q.lock.Lock()
	q.stopped = true
	done := q.done
	q.futex.Add(1)
	q.futex.Wake()
	q.lock.Unlock()

	if done != nil {
		<-done
	}
}
