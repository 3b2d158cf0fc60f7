// Package host defines the set of operations the kernel core consumes from the
// host: semaphores, mutexes, threads, thread-local storage, timers, memory and
// console output.
//
// Two implementations exist: host/posix runs every thread on its own OS thread,
// host/coop runs all threads on a single cooperative context. Everything above
// this package depends only on Primitives.
package host

import "fmt"

// Semaphore is a counting semaphore.
type Semaphore interface {
	// Up increments the count, waking one waiter if any.
	Up()
	// Down blocks while the count is zero, then decrements it.
	Down()
	// TryDown decrements the count if that can be done without blocking.
	TryDown() bool
	// Free releases the semaphore. Any later use is a fatal error.
	Free()
}

// Mutex is a (possibly recursive) mutual exclusion lock.
type Mutex interface {
	Lock()
	Unlock()
	Free()
}

// Thread is an opaque handle to a host thread of control. Handles are only
// compared through Primitives.ThreadEqual.
type Thread interface {
	fmt.Stringer
}

// TLSKey names a thread-local storage slot.
type TLSKey int

// Timer is a one-shot timer whose callback runs on a host thread.
type Timer interface {
	// SetOneshot arms the timer to fire once after ns nanoseconds,
	// replacing any earlier deadline.
	SetOneshot(ns uint64) error
	Free()
}

// Primitives is the capability set a host backend provides.
type Primitives interface {
	SemAlloc(count int) (Semaphore, error)
	MutexAlloc(recursive bool) (Mutex, error)

	// ThreadCreate starts fn on a new host thread. When fn returns the
	// thread exits.
	ThreadCreate(fn func()) (Thread, error)
	ThreadSelf() Thread
	ThreadEqual(a, b Thread) bool
	ThreadJoin(t Thread) error
	ThreadDetach()
	// ThreadExit terminates the calling thread. It never returns.
	ThreadExit()

	TLSAlloc(destructor func(any)) (TLSKey, error)
	TLSFree(key TLSKey) error
	TLSSet(key TLSKey, data any) error
	TLSGet(key TLSKey) any

	TimerAlloc(fn func()) (Timer, error)

	MemAlloc(size int) ([]byte, error)
	MemFree(b []byte)

	// Time returns a monotonic timestamp in nanoseconds.
	Time() uint64
	Print(s string)
	// Panic aborts after an unrecoverable error. It never returns.
	Panic(msg string)
	Gettid() int64

	// VirtioDevices describes the virtual devices to append to the kernel
	// command line.
	VirtioDevices() string
}
