package coop

import (
	"runtime"
	"strconv"

	"github.com/tavip/linux/host"
)

// thread is a cooperative thread. Its goroutine is started on the first
// switch into it and afterwards only runs while it holds the baton, which is
// handed over through wake.
type thread struct {
	id      uint64
	fn      func()
	wake    chan struct{}
	started bool
	initial bool

	tls [MaxTLSKeys]any

	dead     bool
	detached bool
	freed    bool
	join     *thread

	// What the thread is blocked on, for deadlock reports. blocker is the
	// thread it waits for, if there is one.
	blockedOn string
	blocker   *thread
}

func (t *thread) String() string {
	if t.initial {
		return "thread " + strconv.FormatUint(t.id, 10) + " (initial)"
	}
	return "thread " + strconv.FormatUint(t.id, 10)
}

func (h *Host) newThread(fn func()) *thread {
	h.seq++
	t := &thread{id: h.seq, fn: fn, wake: make(chan struct{}, 1)}
	h.all[t.id] = t
	return t
}

// cur returns the running thread, adopting the caller as the initial thread
// on first use.
func (h *Host) cur() *thread {
	if h.current == nil {
		t := h.newThread(nil)
		t.initial = true
		t.started = true
		h.current = t
	}
	return h.current
}

// resume hands the baton to t.
func (h *Host) resume(t *thread) {
	if !t.started {
		t.started = true
		go h.bootstrap(t)
		return
	}
	t.wake <- struct{}{}
}

func (h *Host) bootstrap(t *thread) {
	// Runs last, after the deferred calls of fn, both when fn returns and
	// when it calls ThreadExit.
	defer h.exited(t)
	t.fn()
}

// wakeup makes a blocked thread runnable again.
func (h *Host) wakeup(t *thread) {
	t.blockedOn, t.blocker = "", nil
	h.ready.PushBack(t)
}

// block records why the running thread is about to leave the ready list.
func (h *Host) block(reason string, blocker *thread) *thread {
	t := h.cur()
	t.blockedOn, t.blocker = reason, blocker
	return t
}

// schedule switches from the running thread to the head of the ready list.
// Unless exit is set, the caller must already have queued itself wherever it
// will be woken from; schedule returns once it is switched back in.
func (h *Host) schedule(exit bool) {
	prev := h.cur()

	if exit && prev.join != nil {
		h.wakeup(prev.join)
		prev.join = nil
	}

	next := h.pickNext(prev, exit)
	h.current = next
	h.csws++
	h.log.Debug("switch", "from", prev, "to", next, "exit", exit)

	if exit {
		if prev.detached {
			h.release(prev)
		} else {
			prev.dead = true
		}
		h.resume(next)
		return
	}

	h.resume(next)
	<-prev.wake
}

// pickNext dequeues the next thread to run. With nothing ready it waits for
// armed timers; with no timers either, nothing can ever run again.
func (h *Host) pickNext(prev *thread, exit bool) *thread {
	for h.ready.Len() == 0 {
		fns, armed := h.takePosted()
		if len(fns) > 0 {
			h.spawnPosted(fns)
			continue
		}
		if armed == 0 {
			if exit {
				host.Bug(h, h.log, "%v exits with no runnable thread left", prev)
			}
			host.Bug(h, h.log, "%s", h.deadlockReport(prev))
		}
		<-h.kick
	}

	if fns, _ := h.takePosted(); len(fns) > 0 {
		h.spawnPosted(fns)
	}
	return h.ready.PopFront()
}

// release drops a dead thread.
func (h *Host) release(t *thread) {
	if t.freed {
		return
	}
	t.freed = true
	delete(h.all, t.id)
	if !t.initial {
		h.threads.Give(1)
	}
}

func (h *Host) ThreadCreate(fn func()) (host.Thread, error) {
	if !h.threads.Take(1) {
		return nil, host.ErrNoThreads
	}
	h.cur()
	t := h.newThread(fn)
	h.ready.PushBack(t)
	h.log.Debug("thread create", "thread", t)
	return t, nil
}

func (h *Host) ThreadSelf() host.Thread {
	return h.cur()
}

func (h *Host) ThreadEqual(a, b host.Thread) bool {
	ta, ok1 := a.(*thread)
	tb, ok2 := b.(*thread)
	return ok1 && ok2 && ta != nil && ta == tb
}

func (h *Host) ThreadJoin(th host.Thread) error {
	t, ok := th.(*thread)
	if !ok || t == nil || t.freed {
		return host.ErrUnknownThread
	}
	if t.detached {
		return host.ErrDetached
	}
	self := h.cur()
	if t == self {
		host.Bug(h, h.log, "thread_join: %v joins itself", t)
	}
	if !t.dead {
		if t.join != nil {
			host.Bug(h, h.log, "thread_join: %v is already joined by %v", t, t.join)
		}
		t.join = self
		h.block("join", t)
		h.schedule(false)
	}
	h.release(t)
	return nil
}

func (h *Host) ThreadDetach() {
	h.cur().detached = true
}

// ThreadExit ends the running thread. The thread's deferred calls run before
// the switch away.
func (h *Host) ThreadExit() {
	if h.cur().initial {
		host.Bug(h, h.log, "thread_exit: the initial thread cannot exit")
	}
	runtime.Goexit()
}

func (h *Host) exited(t *thread) {
	h.runTLSDestructors(t)
	h.log.Debug("thread exit", "thread", t)
	h.schedule(true)
}

// Yield requeues the running thread at the tail of the ready list and runs
// the head.
func (h *Host) Yield() {
	h.ready.PushBack(h.cur())
	h.schedule(false)
}

// NumThreads returns the number of threads that have not been freed,
// including the initial one.
func (h *Host) NumThreads() int {
	return len(h.all)
}
