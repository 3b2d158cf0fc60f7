//go:build linux

package task

import "golang.org/x/sys/unix"

// ThreadID is the kernel's id for a host thread.
type ThreadID int

// CurrentThreadID returns the id of the OS thread running the caller. It is
// only stable for goroutines wired to their thread.
func CurrentThreadID() ThreadID {
	return ThreadID(unix.Gettid())
}

// Monotonic returns CLOCK_MONOTONIC in nanoseconds.
func Monotonic() uint64 {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		return 0
	}
	return uint64(ts.Nano())
}
