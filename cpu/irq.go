package cpu

import "github.com/tavip/linux/host"

// SetIrqsPending marks interrupts as pending. They are handled by the next
// outermost Put, or by the idle task once it is woken.
func (c *CPU) SetIrqsPending() {
	c.lock.Acquire()
	c.irqsPending = true
	c.lock.Release()
}

// runIrqs handles everything pending. The caller holds the CPU.
func (c *CPU) runIrqs() {
	c.lock.Acquire()
	fns := c.pendingIrqs
	c.pendingIrqs = nil
	c.irqsPending = false
	c.lock.Release()

	for _, fn := range fns {
		fn()
	}
	if c.cfg.RunIrqs != nil {
		c.cfg.RunIrqs()
	}
}

func (c *CPU) checkOwner(op string) host.Thread {
	self := c.h.ThreadSelf()
	c.lock.Acquire()
	if !c.ownedBy(self) {
		owner := c.owner
		c.lock.Release()
		host.Bug(c.h, c.log, "cpu_%s: %v does not own the cpu (owner %v)", op, self, owner)
	}
	c.lock.Release()
	return self
}

// DisableIrqs defers interrupt handling until EnableIrqs. The caller must
// hold the CPU.
func (c *CPU) DisableIrqs() {
	c.checkOwner("disable_irqs")
	c.lock.Acquire()
	c.irqsDisabled = true
	c.lock.Release()
}

// EnableIrqs re-enables interrupt handling and handles whatever became
// pending meanwhile. The caller must hold the CPU.
func (c *CPU) EnableIrqs() {
	c.checkOwner("enable_irqs")
	c.lock.Acquire()
	c.irqsDisabled = false
	for c.irqsPending {
		c.lock.Release()
		c.runIrqs()
		c.lock.Acquire()
	}
	c.lock.Release()
}

// TryRunIrq runs fn with the CPU held if the CPU can be taken without
// blocking and interrupts are enabled. Otherwise fn is queued, to run with
// the pending interrupts, and the idle task is woken. After a shutdown
// request fn is dropped and ErrShutdown is returned.
func (c *CPU) TryRunIrq(fn func()) error {
	switch err := c.TryGet(); err {
	case nil:
		c.lock.Acquire()
		deferred := c.irqsDisabled
		if deferred {
			c.pendingIrqs = append(c.pendingIrqs, fn)
			c.irqsPending = true
		}
		c.lock.Release()
		if !deferred {
			fn()
		}
		c.Put()
		return nil

	case ErrBusy:
		c.lock.Acquire()
		if c.shutdown {
			c.lock.Release()
			return ErrShutdown
		}
		c.pendingIrqs = append(c.pendingIrqs, fn)
		c.irqsPending = true
		c.lock.Release()
		c.Wakeup()
		return nil

	default:
		return err
	}
}
