// Package coop implements host.Primitives on a single cooperative context.
//
// At most one thread of a Host runs at any time. Blocking calls are voluntary
// switch points back into the scheduler, and the scheduler picks the head of a
// FIFO ready list. Semaphores and mutexes are built from first principles on
// top of that: each keeps a FIFO list of blocked threads and requeues exactly
// one of them per wake-up, so no host locking is involved.
//
// The first goroutine to call into a Host becomes its initial thread. From
// then on a Host must only be used by whichever of its threads is running.
package coop

import (
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/gammazero/deque"

	"github.com/tavip/linux/host"
)

// Config configures a cooperative host.
type Config struct {
	Limits host.Limits

	// Console receives Print output. Defaults to stdout.
	Console io.Writer

	// VirtioDevices is appended to the kernel command line.
	VirtioDevices string

	Logger *slog.Logger
}

// Host is the cooperative implementation of host.Primitives.
type Host struct {
	cfg     Config
	log     *slog.Logger
	console *host.Console
	arena   *host.Arena
	start   time.Time

	sems    *host.Budget
	mutexes *host.Budget
	threads *host.Budget

	current *thread
	ready   deque.Deque[*thread]
	// Every thread that has not been freed, for diagnostics.
	all  map[uint64]*thread
	seq  uint64
	csws uint64

	tlsKeys        [MaxTLSKeys]bool
	tlsDestructors [MaxTLSKeys]func(any)

	// Timer callbacks fire on host time; they are handed to the scheduler
	// through posted and become threads of their own.
	postLock sync.Mutex
	posted   []func()
	armed    int
	kick     chan struct{}
}

var _ host.Primitives = (*Host)(nil)

// New returns a cooperative host.
func New(cfg Config) *Host {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Host{
		cfg:     cfg,
		log:     log.With("host", "coop"),
		console: host.NewConsole(cfg.Console),
		arena:   host.NewArena(cfg.Limits.Memory),
		start:   time.Now(),
		sems:    host.NewBudget(cfg.Limits.Semaphores),
		mutexes: host.NewBudget(cfg.Limits.Mutexes),
		threads: host.NewBudget(cfg.Limits.Threads),
		all:     make(map[uint64]*thread),
		kick:    make(chan struct{}, 1),
	}
}

func (h *Host) MemAlloc(size int) ([]byte, error) {
	return h.arena.Alloc(size)
}

func (h *Host) MemFree(b []byte) {
	if err := h.arena.Free(b); err != nil {
		host.Bug(h, h.log, "mem_free: %v", err)
	}
}

// MemStats reports MemAlloc usage.
func (h *Host) MemStats() host.MemStats {
	return h.arena.ReadMemStats()
}

func (h *Host) Time() uint64 {
	return uint64(time.Since(h.start))
}

func (h *Host) Print(s string) {
	h.console.Print(s)
}

func (h *Host) Panic(msg string) {
	h.console.Flush()
	panic(host.PanicError(msg))
}

// Gettid returns the id of the running cooperative thread; they all share one
// host thread.
func (h *Host) Gettid() int64 {
	return int64(h.cur().id)
}

func (h *Host) VirtioDevices() string {
	return h.cfg.VirtioDevices
}

// Switches returns the number of context switches so far.
func (h *Host) Switches() uint64 {
	return h.csws
}
