// Package threads runs kernel tasks on host threads.
//
// Every task owns a host thread and a private semaphore. The thread blocks on
// the semaphore until the task is switched in, so at most one task of an
// Engine runs at a time when all switching goes through Switch.
package threads

import (
	"log/slog"
	"sync/atomic"

	"github.com/tavip/linux/host"
)

// Engine allocates, switches and frees tasks on top of a host backend.
type Engine struct {
	h   host.Primitives
	log *slog.Logger
}

// New returns an engine for h. A nil logger means slog.Default().
func New(h host.Primitives, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{h: h, log: log.With("pkg", "threads")}
}

// Task is a kernel thread of control.
type Task struct {
	name   string
	fn     func()
	sem    host.Semaphore
	thread host.Thread

	// dead is set by Free before the final wake-up.
	dead  atomic.Bool
	freed atomic.Bool
}

func (t *Task) String() string {
	return t.name
}

// Thread returns the host thread the task runs on.
func (t *Task) Thread() host.Thread {
	return t.thread
}

// Alloc creates a task that runs fn once it is first switched in. Nothing of
// fn runs before that. If fn returns, the task's host thread exits.
func (e *Engine) Alloc(name string, fn func()) (*Task, error) {
	t := &Task{name: name, fn: fn}

	sem, err := e.h.SemAlloc(0)
	if err != nil {
		return nil, err
	}
	t.sem = sem

	th, err := e.h.ThreadCreate(func() { e.bootstrap(t) })
	if err != nil {
		sem.Free()
		return nil, err
	}
	t.thread = th

	e.log.Debug("task alloc", "task", t, "thread", th)
	return t, nil
}

func (e *Engine) bootstrap(t *Task) {
	t.sem.Down()
	if t.dead.Load() {
		// Freed before it ever ran.
		return
	}
	t.fn()
}

// Switch wakes to and, unless from is nil, blocks the calling task from until
// it is switched back in. A task freed meanwhile exits instead of returning.
func (e *Engine) Switch(from, to *Task) {
	if from == to {
		host.Bug(e.h, e.log, "thread_switch: %v switches to itself", to)
	}
	if to.freed.Load() {
		host.Bug(e.h, e.log, "thread_switch: %v was freed", to)
	}

	to.sem.Up()
	if from == nil {
		return
	}

	from.sem.Down()
	if from.dead.Load() {
		e.h.ThreadExit()
	}
}

// Free tears t down. From another task it wakes t one last time and waits for
// its host thread to exit. A task freeing itself exits directly and Free does
// not return.
func (e *Engine) Free(t *Task) {
	if t.freed.Swap(true) {
		host.Bug(e.h, e.log, "thread_free: %v freed twice", t)
	}
	e.log.Debug("task free", "task", t)

	t.dead.Store(true)
	t.sem.Up()

	self := e.h.ThreadEqual(e.h.ThreadSelf(), t.thread)
	if !self {
		if err := e.h.ThreadJoin(t.thread); err != nil {
			e.log.Warn("task join", "task", t, "err", err)
		}
	}
	t.sem.Free()

	if self {
		// Nobody will join this thread.
		e.h.ThreadDetach()
		e.h.ThreadExit()
	}
}
