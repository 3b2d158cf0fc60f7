package kernel

import (
	"github.com/tavip/linux/host"
	"github.com/tavip/linux/threads"
)

type threadState int

const (
	stateRunnable threadState = iota
	stateRunning
	stateBlocked
	stateDead
)

func (s threadState) String() string {
	switch s {
	case stateRunnable:
		return "runnable"
	case stateRunning:
		return "running"
	case stateBlocked:
		return "blocked"
	case stateDead:
		return "dead"
	}
	return "unknown"
}

// Thread is a kernel thread.
type Thread struct {
	k     *Kernel
	name  string
	fn    func()
	task  *threads.Task
	state threadState

	// The timer of the sleep in progress and the sleep it belongs to.
	timer  host.Timer
	sleeps uint64
}

func (t *Thread) String() string {
	return t.name
}

// Name returns the thread's name.
func (t *Thread) Name() string {
	return t.name
}

// CopyThread creates a kernel thread that runs fn once it is scheduled, and
// registers it. The thread is not queued to run.
func (k *Kernel) CopyThread(name string, fn func()) (*Thread, error) {
	t := &Thread{k: k, name: name, fn: fn, state: stateBlocked}
	task, err := k.engine.Alloc(name, func() { k.bootstrap(t) })
	if err != nil {
		return nil, err
	}
	t.task = task

	k.lock.Lock()
	k.registry = append(k.registry, t)
	k.live++
	k.lock.Unlock()
	return t, nil
}

func (k *Kernel) unregister(t *Thread) bool {
	k.lock.Lock()
	defer k.lock.Unlock()
	for i, r := range k.registry {
		if r == t {
			k.registry = append(k.registry[:i], k.registry[i+1:]...)
			return true
		}
	}
	return false
}

// FreeThread tears down a kernel thread that is not running.
func (k *Kernel) FreeThread(t *Thread) {
	if !k.unregister(t) {
		host.Bug(k.h, k.log, "free_thread: %v is not registered", t)
	}
	if t.timer != nil {
		t.timer.Free()
		t.timer = nil
	}
	t.state = stateDead
	k.engine.Free(t.task)

	k.lock.Lock()
	k.live--
	k.lock.Unlock()
}

// NumThreads returns the number of registered kernel threads.
func (k *Kernel) NumThreads() int {
	k.lock.Lock()
	defer k.lock.Unlock()
	return len(k.registry)
}

func (k *Kernel) liveThreads() int64 {
	k.lock.Lock()
	defer k.lock.Unlock()
	return k.live
}

// Cleanup frees every kernel thread. It runs on the idle task while the CPU
// shuts down, or on any other caller that holds the CPU and is not a kernel
// thread itself. Each FreeThread joins the thread's host thread, so once the
// loop is done no kernel thread is left running.
func (k *Kernel) Cleanup() {
	k.lock.Lock()
	remaining := append([]*Thread(nil), k.registry...)
	k.lock.Unlock()

	self := k.h.ThreadSelf()
	for _, t := range remaining {
		if k.h.ThreadEqual(self, t.task.Thread()) {
			host.Bug(k.h, k.log, "threads_cleanup: called from %v", t)
		}
	}
	for _, t := range remaining {
		if t.state == stateRunnable || t.state == stateRunning {
			k.log.Warn("thread still runnable while halting", "thread", t, "state", t.state)
		}
		k.FreeThread(t)
	}
	for k.runq.Len() > 0 {
		k.runq.PopFront()
	}
	k.zombies = nil

	if n := k.liveThreads(); n != 0 {
		host.Bug(k.h, k.log, "threads_cleanup: %d threads left", n)
	}
}
