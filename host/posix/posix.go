//go:build linux

// Package posix implements host.Primitives on preemptive host threads.
//
// Every host thread is a goroutine wired to its own OS thread, so the kernel
// thread id is a stable identity for it. Semaphores and mutexes are futex
// based.
package posix

import (
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/tavip/linux/host"
	"github.com/tavip/linux/internal/task"
)

// Config configures a preemptive host.
type Config struct {
	Limits host.Limits

	// Console receives Print output. Defaults to stdout.
	Console io.Writer

	// VirtioDevices is appended to the kernel command line.
	VirtioDevices string

	Logger *slog.Logger
}

// Host is the preemptive implementation of host.Primitives.
type Host struct {
	cfg     Config
	log     *slog.Logger
	console *host.Console
	arena   *host.Arena

	sems    *host.Budget
	mutexes *host.Budget
	threads *host.Budget

	// Threads created by ThreadCreate that have not exited yet, by tid.
	activeLock task.PMutex
	active     map[task.ThreadID]*thread

	tls    tlsTable
	timers timerQueue
}

var _ host.Primitives = (*Host)(nil)

// New returns a preemptive host.
func New(cfg Config) *Host {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Host{
		cfg:     cfg,
		log:     log.With("host", "posix"),
		console: host.NewConsole(cfg.Console),
		arena:   host.NewArena(cfg.Limits.Memory),
		sems:    host.NewBudget(cfg.Limits.Semaphores),
		mutexes: host.NewBudget(cfg.Limits.Mutexes),
		threads: host.NewBudget(cfg.Limits.Threads),
		active:  make(map[task.ThreadID]*thread),
		tls:     tlsTable{data: make(map[task.ThreadID]map[host.TLSKey]any)},
	}
}

type semaphore struct {
	h     *Host
	sem   task.Semaphore
	freed atomic.Bool
}

func (h *Host) SemAlloc(count int) (host.Semaphore, error) {
	if count < 0 || !h.sems.Take(1) {
		return nil, host.ErrNoMem
	}
	s := &semaphore{h: h}
	s.sem.Init(uint32(count))
	return s, nil
}

func (s *semaphore) check(op string) {
	if s.freed.Load() {
		host.Bug(s.h, s.h.log, "sem_%s on a freed semaphore", op)
	}
}

func (s *semaphore) Up() {
	s.check("up")
	s.sem.Post()
}

func (s *semaphore) Down() {
	s.check("down")
	s.sem.Wait()
}

func (s *semaphore) TryDown() bool {
	s.check("try_down")
	return s.sem.TryWait()
}

func (s *semaphore) Free() {
	if s.freed.Swap(true) {
		host.Bug(s.h, s.h.log, "sem_free on a freed semaphore")
	}
	s.h.sems.Give(1)
}

type mutex struct {
	h         *Host
	pm        task.PMutex
	recursive bool

	// owner is read by any thread but only written by the one holding pm;
	// depth is private to the holder.
	owner atomic.Int64
	depth int
	freed atomic.Bool
}

func (h *Host) MutexAlloc(recursive bool) (host.Mutex, error) {
	if !h.mutexes.Take(1) {
		return nil, host.ErrNoMem
	}
	return &mutex{h: h, recursive: recursive}, nil
}

func (m *mutex) Lock() {
	self := int64(m.h.self())
	if m.pm.TryLock() {
		m.owner.Store(self)
		m.depth = 1
		return
	}
	if m.owner.Load() == self {
		if !m.recursive {
			host.Bug(m.h, m.h.log, "mutex_lock: thread %d relocks a non-recursive mutex", self)
		}
		m.depth++
		return
	}
	m.pm.Lock()
	m.owner.Store(self)
	m.depth = 1
}

func (m *mutex) Unlock() {
	if m.owner.Load() != int64(m.h.self()) || m.depth == 0 {
		host.Bug(m.h, m.h.log, "mutex_unlock: mutex not held by thread %d", m.h.self())
	}
	m.depth--
	if m.depth > 0 {
		return
	}
	m.owner.Store(0)
	m.pm.Unlock()
}

func (m *mutex) Free() {
	if m.freed.Swap(true) {
		host.Bug(m.h, m.h.log, "mutex_free: double free")
	}
	m.h.mutexes.Give(1)
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
	return task.Monotonic()
}

func (h *Host) Print(s string) {
	h.console.Print(s)
}

func (h *Host) Panic(msg string) {
	h.console.Flush()
	panic(host.PanicError(msg))
}

func (h *Host) Gettid() int64 {
	return int64(task.CurrentThreadID())
}

func (h *Host) VirtioDevices() string {
	return h.cfg.VirtioDevices
}
