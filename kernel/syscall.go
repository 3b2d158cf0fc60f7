package kernel

import (
	"sync/atomic"

	"github.com/tavip/linux/host"
)

// NrIrqs is the number of interrupt lines.
const NrIrqs = 32

// ErrBadIrq is returned for interrupt lines that are out of range or have no
// handler.
var ErrBadIrq = &host.Error{Module: "kernel", Message: "invalid irq"}

// Syscall runs fn in the kernel on behalf of the calling host thread. It
// returns cpu.ErrShutdown without running fn once the kernel is halting.
func (k *Kernel) Syscall(fn func() error) error {
	if err := k.cpu.Get(); err != nil {
		return err
	}
	err := fn()
	k.cpu.Put()
	return err
}

// RegisterIrq installs handler for irq. Handlers run with the CPU held.
func (k *Kernel) RegisterIrq(irq int, handler func()) error {
	if irq < 0 || irq >= NrIrqs {
		return ErrBadIrq
	}
	k.irqs[irq].Store(&handler)
	return nil
}

// irqTable holds the handler of every irq line. Interrupts may arrive at any
// time, also while the kernel halts, so it is not guarded by the kernel lock.
type irqTable [NrIrqs]atomic.Pointer[func()]

// Irq triggers irq. The handler runs right away if the CPU is free, or else
// with the pending interrupts of the CPU's owner. It returns
// cpu.ErrShutdown once the kernel is halting.
func (k *Kernel) Irq(irq int) error {
	if irq < 0 || irq >= NrIrqs {
		return ErrBadIrq
	}
	handler := k.irqs[irq].Load()
	if handler == nil || *handler == nil {
		return ErrBadIrq
	}
	return k.cpu.TryRunIrq(*handler)
}
