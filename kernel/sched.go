package kernel

import (
	"github.com/tavip/linux/host"
)

// Spawn creates a kernel thread and queues it to run. The caller must hold
// the CPU.
func (k *Kernel) Spawn(name string, fn func()) (*Thread, error) {
	t, err := k.CopyThread(name, fn)
	if err != nil {
		return nil, err
	}
	k.log.Debug("spawn", "thread", t)
	k.Wake(t)
	return t, nil
}

// Current returns the running kernel thread. The caller must hold the CPU.
func (k *Kernel) Current() *Thread {
	return k.current
}

// Switches returns the number of kernel thread switches so far. The caller
// must hold the CPU.
func (k *Kernel) Switches() uint64 {
	return k.switches
}

// self returns the calling kernel thread, which must be the one on the CPU.
func (k *Kernel) self(op string) *Thread {
	caller := k.h.ThreadSelf()
	if !k.h.ThreadEqual(k.cpu.Owner(), caller) {
		host.Bug(k.h, k.log, "%s: %v is not on the cpu", op, caller)
	}
	t := k.current
	if !k.h.ThreadEqual(t.task.Thread(), caller) {
		host.Bug(k.h, k.log, "%s: %v is not a kernel thread", op, caller)
	}
	if t == k.idle {
		host.Bug(k.h, k.log, "%s: called from the idle task", op)
	}
	return t
}

// pick dequeues the next thread to run. Once a shutdown was requested nothing
// runs any more; the idle task takes over and frees what is left.
func (k *Kernel) pick() *Thread {
	if k.runq.Len() == 0 || k.cpu.IsShutdown() {
		return nil
	}
	return k.runq.PopFront()
}

// schedule switches from the running thread to the next runnable one, or to
// the idle task when there is none.
func (k *Kernel) schedule(prev *Thread) {
	next := k.pick()
	if next == nil {
		next = k.idle
	}
	if next == prev {
		prev.state = stateRunning
		return
	}
	k.switchTo(prev, next)
}

// switchTo hands the CPU and control from prev to next. It returns once prev
// is switched back in, unless prev is dead.
func (k *Kernel) switchTo(prev, next *Thread) {
	k.log.Debug("switch", "from", prev, "to", next)
	next.state = stateRunning
	k.current = next
	k.switches++
	k.cpu.ChangeOwner(next.task.Thread())
	k.engine.Switch(prev.task, next.task)
	k.reap()
}

// reap frees the threads that exited. They cannot free themselves since
// they have to switch away first.
func (k *Kernel) reap() {
	zombies := k.zombies
	k.zombies = nil
	for _, t := range zombies {
		k.FreeThread(t)
	}
}

func (k *Kernel) bootstrap(t *Thread) {
	k.reap()
	t.fn()
	k.exit(t)
}

func (k *Kernel) exit(t *Thread) {
	k.log.Debug("thread exit", "thread", t)
	t.state = stateDead
	k.zombies = append(k.zombies, t)
	k.schedule(t)
	host.Bug(k.h, k.log, "%v resumed after exit", t)
}

func (k *Kernel) idleLoop() {
	for {
		if next := k.pick(); next != nil {
			k.switchTo(k.idle, next)
			continue
		}
		// Does not return once the kernel halts.
		k.cpu.Idle()
	}
}

// Yield requeues the calling kernel thread behind every runnable one.
func (k *Kernel) Yield() {
	t := k.self("yield")
	t.state = stateRunnable
	k.runq.PushBack(t)
	k.schedule(t)
}

// Block puts the calling kernel thread to sleep until Wake.
func (k *Kernel) Block() {
	t := k.self("block")
	t.state = stateBlocked
	k.schedule(t)
}

// Wake queues a blocked thread to run and reports whether it was blocked.
// The caller must hold the CPU.
func (k *Kernel) Wake(t *Thread) bool {
	if t.state != stateBlocked {
		return false
	}
	t.state = stateRunnable
	k.runq.PushBack(t)
	// Idle re-checks the run queue; a wake-up it does not need is harmless.
	k.cpu.Wakeup()
	return true
}

// Sleep blocks the calling kernel thread for at least ns nanoseconds of host
// time. The wake-up arrives as an interrupt from a host timer.
func (k *Kernel) Sleep(ns uint64) error {
	t := k.self("sleep")

	t.sleeps++
	sleep := t.sleeps
	tm, err := k.h.TimerAlloc(func() {
		// Refused once halting; the thread is freed by the cleanup then.
		_ = k.cpu.TryRunIrq(func() {
			if t.sleeps == sleep {
				k.Wake(t)
			}
		})
	})
	if err != nil {
		return err
	}
	if err := tm.SetOneshot(ns); err != nil {
		tm.Free()
		return err
	}
	t.timer = tm

	t.state = stateBlocked
	k.schedule(t)

	t.timer = nil
	tm.Free()
	return nil
}
