//go:build linux

package posix

import (
	"github.com/tavip/linux/host"
	"github.com/tavip/linux/internal/task"
)

// MaxTLSKeys matches the usual PTHREAD_KEYS_MAX.
const MaxTLSKeys = 1024

type tlsKey struct {
	used       bool
	destructor func(any)
}

type tlsTable struct {
	lock task.PMutex
	keys [MaxTLSKeys]tlsKey
	data map[task.ThreadID]map[host.TLSKey]any
}

func (h *Host) TLSAlloc(destructor func(any)) (host.TLSKey, error) {
	tt := &h.tls
	tt.lock.Lock()
	defer tt.lock.Unlock()
	for i := range tt.keys {
		if !tt.keys[i].used {
			tt.keys[i] = tlsKey{used: true, destructor: destructor}
			return host.TLSKey(i), nil
		}
	}
	return 0, host.ErrTLSExhausted
}

func (tt *tlsTable) valid(key host.TLSKey) bool {
	return key >= 0 && key < MaxTLSKeys && tt.keys[key].used
}

func (h *Host) TLSFree(key host.TLSKey) error {
	tt := &h.tls
	tt.lock.Lock()
	defer tt.lock.Unlock()
	if !tt.valid(key) {
		return host.ErrInvalidKey
	}
	tt.keys[key] = tlsKey{}
	// Like pthread_key_delete, no destructors run.
	for _, values := range tt.data {
		delete(values, key)
	}
	return nil
}

func (h *Host) TLSSet(key host.TLSKey, data any) error {
	tid := h.self()
	tt := &h.tls
	tt.lock.Lock()
	defer tt.lock.Unlock()
	if !tt.valid(key) {
		return host.ErrInvalidKey
	}
	values := tt.data[tid]
	if values == nil {
		values = make(map[host.TLSKey]any)
		tt.data[tid] = values
	}
	values[key] = data
	return nil
}

func (h *Host) TLSGet(key host.TLSKey) any {
	tid := h.self()
	tt := &h.tls
	tt.lock.Lock()
	defer tt.lock.Unlock()
	if !tt.valid(key) {
		return nil
	}
	return tt.data[tid][key]
}

// runDestructors drops the values of an exiting thread and calls the key
// destructors for the non-nil ones, outside the table lock.
func (tt *tlsTable) runDestructors(tid task.ThreadID) {
	type call struct {
		fn  func(any)
		arg any
	}
	var calls []call

	tt.lock.Lock()
	for key, value := range tt.data[tid] {
		if d := tt.keys[key].destructor; d != nil && value != nil {
			calls = append(calls, call{d, value})
		}
	}
	delete(tt.data, tid)
	tt.lock.Unlock()

	for _, c := range calls {
		c.fn(c.arg)
	}
}
