//go:build !linux

package task

import (
	"sync"
	"time"
)

// Hosts without futexes park on a single process-wide condition variable.
// Wake-ups are broadcast and every waiter re-checks its own word.
var (
	parkLock sync.Mutex
	parkCond = sync.NewCond(&parkLock)
)

func (f *Futex) Wait(cmp uint32) bool {
	parkLock.Lock()
	if f.Load() == cmp {
		parkCond.Wait()
	}
	parkLock.Unlock()
	return false
}

func (f *Futex) WaitUntil(cmp uint32, timeout uint64) {
	t := time.AfterFunc(time.Duration(timeout), f.WakeAll)
	f.Wait(cmp)
	t.Stop()
}

func (f *Futex) Wake() {
	f.WakeAll()
}

func (f *Futex) WakeAll() {
	parkLock.Lock()
	parkCond.Broadcast()
	parkLock.Unlock()
}
