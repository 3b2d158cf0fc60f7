package cpu

import "github.com/tavip/linux/host"

// Shutdown requests a shutdown. From now on Get, TryGet and TryRunIrq refuse
// with ErrShutdown. The shutdown itself is carried out by the idle task, so
// callers follow up with Wakeup and WaitShutdown.
func (c *CPU) Shutdown() {
	c.lock.Acquire()
	c.shutdown = true
	c.lock.Release()
	c.log.Debug("cpu shutdown requested")
}

// Wakeup wakes the idle task. It has no effect once the CPU is terminated.
func (c *CPU) Wakeup() {
	c.lock.Acquire()
	if c.state != Terminated {
		c.idleSem.Up()
	}
	c.lock.Release()
}

// WaitShutdown blocks until the idle task completed the shutdown. Exactly one
// thread calls it, once.
func (c *CPU) WaitShutdown() {
	c.shutdownSem.Down()
	c.shutdownSem.Free()
}

// Idle is run by the idle task, with the CPU held exactly once, whenever
// there is nothing else to run.
//
// Without a shutdown request it releases the CPU, waits for Wakeup, takes the
// CPU back and handles pending interrupts before returning.
//
// After a shutdown request it drains the CPU and exits the calling host
// thread: threads blocked in Get are woken and refused, Config.Cleanup runs,
// the CPU's semaphores are freed and WaitShutdown is released.
func (c *CPU) Idle() {
	self := c.h.ThreadSelf()

	c.lock.Acquire()
	if c.count != 1 || !c.h.ThreadEqual(c.owner, self) {
		count, owner := c.count, c.owner
		c.lock.Release()
		host.Bug(c.h, c.log, "cpu_idle: %v is not the sole owner (owner %v, count %d)", self, owner, count)
	}
	if c.shutdown {
		c.lock.Release()
		c.drain()
		return
	}
	c.state = IdleWait
	c.lock.Release()

	c.Put()
	c.idleSem.Down()
	// Cannot be refused.
	_ = c.get(true)

	c.lock.Acquire()
	if c.state == IdleWait {
		c.state = Running
	}
	c.lock.Release()

	c.EnableIrqs()
}

func (c *CPU) drain() {
	c.lock.Acquire()
	c.state = Draining
	c.draining = true
	n := c.waiters
	for ; c.sleepers > 0; c.sleepers-- {
		c.sem.Up()
	}
	c.lock.Release()
	c.log.Debug("cpu drain", "waiters", n)

	// Every waiter posts once after it saw the shutdown and is done with
	// sem.
	for i := 0; i < n; i++ {
		c.drainSem.Down()
	}

	if c.cfg.Cleanup != nil {
		c.cfg.Cleanup()
	}

	c.lock.Acquire()
	c.owner, c.count = nil, 0
	c.irqsPending, c.pendingIrqs = false, nil
	c.sem.Free()
	c.idleSem.Free()
	c.drainSem.Free()
	c.state = Terminated
	c.shutdownSem.Up()
	c.lock.Release()
	c.log.Debug("cpu terminated")

	c.h.ThreadExit()
}
