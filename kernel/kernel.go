// Package kernel runs kernel threads on a single virtual CPU.
//
// Kernel threads are tasks of a threads.Engine. The thread that runs holds the
// CPU and hands it, together with control, to the next one when it yields,
// blocks or exits. When nothing is runnable the idle task parks the CPU in
// cpu.Idle. Host threads enter the kernel through Syscall and Irq.
package kernel

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/gammazero/deque"

	"github.com/tavip/linux/cpu"
	"github.com/tavip/linux/host"
	"github.com/tavip/linux/threads"
)

// DefaultMemSize is the kernel memory size used when Config.MemSize is zero.
const DefaultMemSize = 32 << 20

// Config configures a kernel.
type Config struct {
	// MemSize is the number of bytes of kernel memory to allocate from the
	// host.
	MemSize int

	// CmdLine is the boot command line. The host's virtio devices are
	// appended to it.
	CmdLine string

	Logger *slog.Logger
}

// Kernel is a running kernel.
type Kernel struct {
	h      host.Primitives
	cfg    Config
	log    *slog.Logger
	cpu    *cpu.CPU
	engine *threads.Engine

	mem     []byte
	cmdline string

	// lock guards the thread registry, which is also used from outside
	// the CPU.
	lock     host.Mutex
	registry []*Thread
	live     int64

	irqs irqTable

	// Owned by whoever holds the CPU.
	current  *Thread
	idle     *Thread
	runq     deque.Deque[*Thread]
	zombies  []*Thread
	switches uint64
}

// Start boots a kernel on h: it allocates kernel memory and the CPU, and
// starts the idle task, which owns the CPU until there is work for it.
func Start(h host.Primitives, cfg Config) (*Kernel, error) {
	if cfg.MemSize == 0 {
		cfg.MemSize = DefaultMemSize
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	k := &Kernel{h: h, cfg: cfg, log: log.With("pkg", "kernel")}

	mem, err := h.MemAlloc(cfg.MemSize)
	if err != nil {
		return nil, err
	}
	k.mem = mem

	k.lock, err = h.MutexAlloc(false)
	if err != nil {
		h.MemFree(mem)
		return nil, err
	}

	k.cpu, err = cpu.New(h, cpu.Config{Cleanup: k.Cleanup, Logger: log})
	if err != nil {
		k.lock.Free()
		h.MemFree(mem)
		return nil, err
	}

	k.engine = threads.New(h, log)
	task, err := k.engine.Alloc("idle", k.idleLoop)
	if err != nil {
		k.cpu.Free()
		k.lock.Free()
		h.MemFree(mem)
		return nil, err
	}
	k.idle = &Thread{k: k, name: "idle", task: task, state: stateRunning}
	k.current = k.idle

	k.cmdline = strings.TrimSpace(cfg.CmdLine + " " + h.VirtioDevices())
	k.Printk("Kernel command line: %s\n", k.cmdline)
	k.log.Info("kernel start", "mem", cfg.MemSize, "cmdline", k.cmdline)

	// The CPU is free; take it and hand it to the idle task.
	if err := k.cpu.Get(); err != nil {
		return nil, err
	}
	k.cpu.ChangeOwner(task.Thread())
	k.engine.Switch(nil, task)
	return k, nil
}

// Halt shuts the kernel down: no new syscalls or interrupts are accepted, the
// idle task frees every remaining kernel thread and the CPU, and Halt returns
// once that is done. It must be called once, from a host thread that is not
// in the kernel. The host itself stays usable; releasing it, such as closing
// a posix host's timer runner, is up to its owner.
func (k *Kernel) Halt() {
	k.log.Info("kernel halt")
	k.cpu.Shutdown()
	k.cpu.Wakeup()
	k.cpu.WaitShutdown()

	// The idle task exited through the shutdown.
	k.engine.Free(k.idle.task)
	k.lock.Free()
	k.h.MemFree(k.mem)
	k.mem = nil
}

// CmdLine returns the boot command line.
func (k *Kernel) CmdLine() string {
	return k.cmdline
}

// Mem returns the kernel memory.
func (k *Kernel) Mem() []byte {
	return k.mem
}

// CPU returns the kernel's CPU.
func (k *Kernel) CPU() *cpu.CPU {
	return k.cpu
}

// Printk writes to the host console and returns the number of bytes written.
func (k *Kernel) Printk(format string, args ...any) int {
	s := fmt.Sprintf(format, args...)
	k.h.Print(s)
	return len(s)
}
