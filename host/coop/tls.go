package coop

import "github.com/tavip/linux/host"

// MaxTLSKeys is the number of thread-local storage slots every thread has.
const MaxTLSKeys = 10

func (h *Host) TLSAlloc(destructor func(any)) (host.TLSKey, error) {
	for i := range h.tlsKeys {
		if !h.tlsKeys[i] {
			h.tlsKeys[i] = true
			h.tlsDestructors[i] = destructor
			return host.TLSKey(i), nil
		}
	}
	return 0, host.ErrTLSExhausted
}

func (h *Host) validKey(key host.TLSKey) bool {
	return key >= 0 && key < MaxTLSKeys && h.tlsKeys[key]
}

func (h *Host) TLSFree(key host.TLSKey) error {
	if !h.validKey(key) {
		return host.ErrInvalidKey
	}
	h.tlsKeys[key] = false
	h.tlsDestructors[key] = nil
	for _, t := range h.all {
		t.tls[key] = nil
	}
	return nil
}

func (h *Host) TLSSet(key host.TLSKey, data any) error {
	if !h.validKey(key) {
		return host.ErrInvalidKey
	}
	h.cur().tls[key] = data
	return nil
}

func (h *Host) TLSGet(key host.TLSKey) any {
	if !h.validKey(key) {
		return nil
	}
	return h.cur().tls[key]
}

func (h *Host) runTLSDestructors(t *thread) {
	for i := range t.tls {
		if h.tlsKeys[i] && h.tlsDestructors[i] != nil && t.tls[i] != nil {
			h.tlsDestructors[i](t.tls[i])
		}
		t.tls[i] = nil
	}
}
