package kernel

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tavip/linux/host"
	"github.com/tavip/linux/host/coop"
)

const virtio = "virtio_mmio.device=292@0x1000:1"

type backend struct {
	name string
	new  func(limits host.Limits, console *bytes.Buffer) host.Primitives
}

var backends = []backend{{
	name: "coop",
	new: func(limits host.Limits, console *bytes.Buffer) host.Primitives {
		return coop.New(coop.Config{Limits: limits, Console: console, VirtioDevices: virtio})
	},
}}

// newHost returns a host of backend b that is closed when the test ends.
func newHost(t *testing.T, b backend, limits host.Limits, console *bytes.Buffer) host.Primitives {
	h := b.new(limits, console)
	if c, ok := h.(interface{ Close() }); ok {
		t.Cleanup(c.Close)
	}
	return h
}

type env struct {
	h       host.Primitives
	console *bytes.Buffer
}

func forEachBackend(t *testing.T, limits host.Limits, fn func(t *testing.T, e env)) {
	for _, b := range backends {
		b := b
		t.Run(b.name, func(t *testing.T) {
			console := &bytes.Buffer{}
			fn(t, env{h: newHost(t, b, limits, console), console: console})
		})
	}
}

func start(t *testing.T, h host.Primitives) *Kernel {
	t.Helper()
	k, err := Start(h, Config{MemSize: 4096, CmdLine: "mem=4K"})
	require.NoError(t, err)
	return k
}

func newSem(t *testing.T, h host.Primitives) host.Semaphore {
	t.Helper()
	s, err := h.SemAlloc(0)
	require.NoError(t, err)
	return s
}

func fatal(t *testing.T, fn func()) (msg string) {
	t.Helper()
	defer func() {
		r := recover()
		require.NotNil(t, r, "expected a fatal error")
		err, ok := r.(error)
		require.True(t, ok, "panic value %v is not an error", r)
		var herr *host.Error
		require.True(t, errors.As(err, &herr))
		msg = herr.Message
	}()
	fn()
	return ""
}
