package coop

import (
	"time"

	"github.com/tavip/linux/host"
)

// timer fires on host time but its callback runs as a new cooperative thread
// the next time the scheduler looks at the ready list.
type timer struct {
	h  *Host
	fn func()

	// Guarded by h.postLock.
	t     *time.Timer
	gen   uint64
	armed bool
	freed bool
}

func (h *Host) TimerAlloc(fn func()) (host.Timer, error) {
	return &timer{h: h, fn: fn}, nil
}

func (tm *timer) SetOneshot(ns uint64) error {
	h := tm.h
	h.postLock.Lock()
	defer h.postLock.Unlock()

	if tm.freed {
		return host.ErrTimerFreed
	}
	if tm.t != nil {
		tm.t.Stop()
	}
	if !tm.armed {
		tm.armed = true
		h.armed++
	}
	tm.gen++
	gen := tm.gen
	tm.t = time.AfterFunc(time.Duration(ns), func() { tm.fire(gen) })
	return nil
}

func (tm *timer) fire(gen uint64) {
	h := tm.h
	h.postLock.Lock()
	if tm.freed || !tm.armed || gen != tm.gen {
		h.postLock.Unlock()
		return
	}
	tm.armed = false
	h.armed--
	h.posted = append(h.posted, tm.fn)
	h.postLock.Unlock()

	select {
	case h.kick <- struct{}{}:
	default:
	}
}

func (tm *timer) Free() {
	h := tm.h
	h.postLock.Lock()
	if tm.t != nil {
		tm.t.Stop()
	}
	if tm.armed {
		tm.armed = false
		h.armed--
	}
	tm.freed = true
	h.postLock.Unlock()
}

// takePosted returns the fired callbacks and the number of timers still
// armed, read together so a firing timer is never missed.
func (h *Host) takePosted() ([]func(), int) {
	h.postLock.Lock()
	defer h.postLock.Unlock()
	fns := h.posted
	h.posted = nil
	return fns, h.armed
}

func (h *Host) spawnPosted(fns []func()) {
	for _, fn := range fns {
		if !h.threads.Take(1) {
			h.log.Warn("timer callback dropped", "err", host.ErrNoThreads)
			continue
		}
		t := h.newThread(fn)
		t.detached = true
		h.ready.PushBack(t)
	}
}
