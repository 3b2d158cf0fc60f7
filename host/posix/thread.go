//go:build linux

package posix

import (
	"runtime"
	"strconv"
	"sync/atomic"

	"github.com/tavip/linux/host"
	"github.com/tavip/linux/internal/task"
)

// Thread counter, starting at 1 for the first created thread. The number is
// not significant but is useful for debugging.
var threadSeq atomic.Uint64

// thread is the handle for a host thread. Threads created by ThreadCreate
// carry a done channel for joining; handles returned by ThreadSelf for other
// goroutines only carry the tid.
type thread struct {
	id  uint64
	tid task.ThreadID

	done     chan struct{}
	detached atomic.Bool
}

func (t *thread) String() string {
	if t.id == 0 {
		return "tid " + strconv.Itoa(int(t.tid))
	}
	return "thread " + strconv.FormatUint(t.id, 10) + " (tid " + strconv.Itoa(int(t.tid)) + ")"
}

// self wires the calling goroutine to its OS thread and returns its tid. The
// wiring is never undone: a host thread keeps its identity until it exits.
func (h *Host) self() task.ThreadID {
	runtime.LockOSThread()
	return task.CurrentThreadID()
}

// ThreadCreate starts fn on a new host thread and returns once the thread is
// registered, so the handle can be compared against ThreadSelf inside fn.
func (h *Host) ThreadCreate(fn func()) (host.Thread, error) {
	if !h.threads.Take(1) {
		return nil, host.ErrNoThreads
	}

	started := make(chan *thread)
	go h.run(fn, started)
	t := <-started
	h.log.Debug("thread start", "thread", t)
	return t, nil
}

func (h *Host) run(fn func(), started chan<- *thread) {
	// The goroutine never unlocks, so the OS thread is torn down with it and
	// its tid cannot be observed by any other goroutine meanwhile.
	runtime.LockOSThread()
	t := &thread{
		id:   threadSeq.Add(1),
		tid:  task.CurrentThreadID(),
		done: make(chan struct{}),
	}

	h.activeLock.Lock()
	h.active[t.tid] = t
	h.activeLock.Unlock()

	// Runs on return from fn and on ThreadExit (runtime.Goexit).
	defer h.exited(t)

	started <- t
	fn()
}

func (h *Host) exited(t *thread) {
	h.log.Debug("thread exit", "thread", t)
	h.tls.runDestructors(t.tid)

	h.activeLock.Lock()
	delete(h.active, t.tid)
	h.activeLock.Unlock()

	h.threads.Give(1)
	close(t.done)
}

func (h *Host) ThreadSelf() host.Thread {
	tid := h.self()
	h.activeLock.Lock()
	t := h.active[tid]
	h.activeLock.Unlock()
	if t == nil {
		t = &thread{tid: tid}
	}
	return t
}

func (h *Host) ThreadEqual(a, b host.Thread) bool {
	ta, ok1 := a.(*thread)
	tb, ok2 := b.(*thread)
	if !ok1 || !ok2 || ta == nil || tb == nil {
		return false
	}
	return ta.tid == tb.tid
}

func (h *Host) ThreadJoin(th host.Thread) error {
	t, ok := th.(*thread)
	if !ok || t == nil || t.done == nil {
		return host.ErrUnknownThread
	}
	if t.detached.Load() {
		return host.ErrDetached
	}
	if t.tid == h.self() {
		host.Bug(h, h.log, "thread_join: %v joins itself", t)
	}
	<-t.done
	return nil
}

func (h *Host) ThreadDetach() {
	tid := h.self()
	h.activeLock.Lock()
	if t := h.active[tid]; t != nil {
		t.detached.Store(true)
	}
	h.activeLock.Unlock()
}

// ThreadExit ends the calling host thread. Deferred calls of the thread run,
// including the exit bookkeeping of threads created by ThreadCreate.
func (h *Host) ThreadExit() {
	runtime.Goexit()
}

// NumThreads returns the number of live threads created by ThreadCreate.
func (h *Host) NumThreads() int {
	h.activeLock.Lock()
	defer h.activeLock.Unlock()
	return len(h.active)
}
