//go:build linux

package task

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	futexWait    = 0
	futexWake    = 1
	futexPrivate = 128
)

// Atomically check for cmp to still be equal to the futex value and if so, go
// to sleep. Return true if we were definitely awoken by a call to Wake or
// WakeAll, and false if we can't be sure of that.
func (f *Futex) Wait(cmp uint32) bool {
	// A zero return could still be a spurious wake-up caused by unrelated
	// users of the same futex word, so callers must re-check the value.
	futex(f, futexWait|futexPrivate, cmp, nil)
	return false
}

// Like Wait, but times out after the number of nanoseconds in timeout.
func (f *Futex) WaitUntil(cmp uint32, timeout uint64) {
	ts := unix.NsecToTimespec(int64(timeout))
	futex(f, futexWait|futexPrivate, cmp, &ts)
}

// Wake a single waiter.
func (f *Futex) Wake() {
	futex(f, futexWake|futexPrivate, 1, nil)
}

// Wake all waiters.
func (f *Futex) WakeAll() {
	const maxInt32 = 0x7fff_ffff
	futex(f, futexWake|futexPrivate, maxInt32, nil)
}

// EAGAIN, EINTR and ETIMEDOUT all mean "go look at the value again", which is
// what every caller does anyway.
func futex(f *Futex, op, val uint32, ts *unix.Timespec) {
	unix.Syscall6(unix.SYS_FUTEX, uintptr(unsafe.Pointer(&f.Uint32)), uintptr(op),
		uintptr(val), uintptr(unsafe.Pointer(ts)), 0, 0)
}
