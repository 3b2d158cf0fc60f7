// Package cpu implements the single virtual CPU that all kernel code runs on.
//
// The CPU is a reentrant lock owned by a host thread. Kernel code acquires it
// with Get before touching kernel state and releases it with Put before
// blocking on anything else. The idle task parks in Idle when there is
// nothing to run, and Idle is also where a shutdown is carried out: every
// thread still waiting for the CPU is woken and refused, the registered
// cleanup runs, the CPU's semaphores are freed and WaitShutdown returns.
package cpu

import (
	"log/slog"

	"github.com/tavip/linux/host"
	"github.com/tavip/linux/internal/task"
)

var (
	// ErrShutdown is returned to callers that try to acquire the CPU after
	// a shutdown was requested.
	ErrShutdown = &host.Error{Module: "cpu", Message: "cpu is shutting down"}

	// ErrBusy is returned by TryGet when another thread owns the CPU.
	ErrBusy = &host.Error{Module: "cpu", Message: "cpu is owned by another thread"}
)

// State is the life cycle state of a CPU.
type State int

const (
	// Running means some thread may hold the CPU and run kernel code.
	Running State = iota
	// IdleWait means the idle task released the CPU and waits for Wakeup.
	IdleWait
	// Draining means the idle task is waking every waiter after a shutdown.
	Draining
	// Terminated means the shutdown completed. The CPU cannot be used again.
	Terminated
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case IdleWait:
		return "idle"
	case Draining:
		return "draining"
	case Terminated:
		return "terminated"
	}
	return "unknown"
}

// Config configures a CPU.
type Config struct {
	// RunIrqs handles pending interrupts. It runs with the CPU held, from
	// the outermost Put or from EnableIrqs.
	RunIrqs func()

	// Cleanup runs on the idle task during shutdown, after all waiters
	// were drained and before the CPU's semaphores are freed.
	Cleanup func()

	Logger *slog.Logger
}

// CPU is the virtual CPU.
type CPU struct {
	h   host.Primitives
	cfg Config
	log *slog.Logger

	// lock guards all fields below. It is never held across a blocking
	// call; semaphore posts are made with it held so that no post can
	// race with the semaphores being freed.
	lock task.Spinlock

	owner host.Thread
	count int

	// sleepers is the number of threads blocked on sem without a wake-up
	// posted for them. waiters is the number of threads anywhere in the
	// slow path of Get.
	sleepers int
	waiters  int

	shutdown bool
	draining bool
	state    State

	irqsPending  bool
	irqsDisabled bool
	pendingIrqs  []func()

	sem         host.Semaphore
	idleSem     host.Semaphore
	drainSem    host.Semaphore
	shutdownSem host.Semaphore
}

// New allocates a CPU on h. On failure, whatever was allocated is freed again.
func New(h host.Primitives, cfg Config) (*CPU, error) {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	c := &CPU{h: h, cfg: cfg, log: log.With("pkg", "cpu")}

	sems := []*host.Semaphore{&c.sem, &c.idleSem, &c.drainSem, &c.shutdownSem}
	for i, s := range sems {
		sem, err := h.SemAlloc(0)
		if err != nil {
			for j := i - 1; j >= 0; j-- {
				(*sems[j]).Free()
				*sems[j] = nil
			}
			return nil, err
		}
		*s = sem
	}
	return c, nil
}

// take must be called with c.lock held.
func (c *CPU) take(self host.Thread) {
	if c.count == 0 {
		c.owner = self
	}
	c.count++
}

func (c *CPU) ownedBy(self host.Thread) bool {
	return c.count > 0 && c.h.ThreadEqual(c.owner, self)
}

// Get acquires the CPU for the calling thread, blocking while another thread
// owns it. A thread that already owns the CPU acquires it again. After a
// shutdown request Get returns ErrShutdown and the caller must not run kernel
// code.
func (c *CPU) Get() error {
	return c.get(false)
}

// get is Get; the idle task sets idle to re-acquire the CPU regardless of a
// shutdown, since it is the one that carries it out.
func (c *CPU) get(idle bool) error {
	self := c.h.ThreadSelf()

	c.lock.Acquire()
	if c.shutdown && !idle {
		c.lock.Release()
		return ErrShutdown
	}
	if c.count == 0 || c.h.ThreadEqual(c.owner, self) {
		c.take(self)
		c.lock.Release()
		return nil
	}
	c.sleepers++
	c.waiters++
	c.lock.Release()

	for {
		c.sem.Down()

		c.lock.Acquire()
		if c.shutdown && !idle {
			c.waiters--
			// The wake-up may have been meant to hand over a free CPU.
			// Pass it on so that the idle task, which may be sleeping
			// too, gets it.
			if c.count == 0 && c.sleepers > 0 {
				c.sleepers--
				c.sem.Up()
			}
			drained := c.draining
			c.lock.Release()
			if drained {
				c.drainSem.Up()
			}
			return ErrShutdown
		}
		if c.count == 0 {
			c.waiters--
			c.take(self)
			c.lock.Release()
			return nil
		}
		// Someone took the CPU first.
		c.sleepers++
		c.lock.Release()
	}
}

// TryGet acquires the CPU if that does not require blocking. It returns
// ErrBusy when another thread owns the CPU and ErrShutdown after a shutdown
// request.
func (c *CPU) TryGet() error {
	self := c.h.ThreadSelf()

	c.lock.Acquire()
	defer c.lock.Release()
	if c.shutdown {
		return ErrShutdown
	}
	if c.count > 0 && !c.h.ThreadEqual(c.owner, self) {
		return ErrBusy
	}
	c.take(self)
	return nil
}

// Put releases the CPU once. The outermost Put of the owner first runs any
// pending interrupts, unless they are disabled, then wakes one waiter.
// Releasing a CPU the caller does not own is fatal.
func (c *CPU) Put() {
	self := c.h.ThreadSelf()

	c.lock.Acquire()
	if c.count == 0 {
		c.lock.Release()
		host.Bug(c.h, c.log, "cpu_put: unbalanced put")
	}
	if !c.h.ThreadEqual(c.owner, self) {
		owner := c.owner
		c.lock.Release()
		host.Bug(c.h, c.log, "cpu_put: %v releases a cpu owned by %v", self, owner)
	}

	for c.count == 1 && c.irqsPending && !c.irqsDisabled {
		c.lock.Release()
		c.runIrqs()
		c.lock.Acquire()
	}

	c.count--
	if c.count > 0 {
		c.lock.Release()
		return
	}
	c.owner = nil
	if c.sleepers > 0 {
		c.sleepers--
		c.sem.Up()
	}
	c.lock.Release()
}

// ChangeOwner hands the CPU held by the caller over to t, which is then the
// one to Put it. The caller must hold the CPU exactly once.
func (c *CPU) ChangeOwner(t host.Thread) {
	self := c.h.ThreadSelf()

	c.lock.Acquire()
	if c.count != 1 || !c.h.ThreadEqual(c.owner, self) {
		count, owner := c.count, c.owner
		c.lock.Release()
		host.Bug(c.h, c.log, "cpu_change_owner: %v is not the sole owner (owner %v, count %d)", self, owner, count)
	}
	c.owner = t
	c.lock.Release()
}

// Owner returns the thread that owns the CPU, or nil.
func (c *CPU) Owner() host.Thread {
	c.lock.Acquire()
	defer c.lock.Release()
	if c.count == 0 {
		return nil
	}
	return c.owner
}

// State returns the current life cycle state.
func (c *CPU) State() State {
	c.lock.Acquire()
	defer c.lock.Release()
	return c.state
}

// IsShutdown reports whether a shutdown was requested.
func (c *CPU) IsShutdown() bool {
	c.lock.Acquire()
	defer c.lock.Release()
	return c.shutdown
}

// Free releases a CPU that was never used, for unwinding a failed start. A
// CPU that went through a shutdown is released by the shutdown itself.
func (c *CPU) Free() {
	c.lock.Acquire()
	if c.state == Terminated || c.count > 0 || c.waiters > 0 {
		state, count := c.state, c.count
		c.lock.Release()
		host.Bug(c.h, c.log, "cpu_free: cpu in use (%v, count %d)", state, count)
	}
	c.sem.Free()
	c.idleSem.Free()
	c.drainSem.Free()
	c.shutdownSem.Free()
	c.state = Terminated
	c.lock.Release()
}
