package cpu

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tavip/linux/host"
	"github.com/tavip/linux/host/coop"
)

type backend struct {
	name string
	new  func(limits host.Limits) host.Primitives
}

var backends = []backend{{
	name: "coop",
	new: func(limits host.Limits) host.Primitives {
		return coop.New(coop.Config{Limits: limits, Console: &bytes.Buffer{}})
	},
}}

func forEachBackend(t *testing.T, fn func(t *testing.T, h host.Primitives)) {
	for _, b := range backends {
		b := b
		t.Run(b.name, func(t *testing.T) { fn(t, newHost(t, b, host.Limits{})) })
	}
}

// newHost returns a host of backend b that is closed when the test ends.
func newHost(t *testing.T, b backend, limits host.Limits) host.Primitives {
	h := b.new(limits)
	if c, ok := h.(interface{ Close() }); ok {
		t.Cleanup(c.Close)
	}
	return h
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

func newSem(t *testing.T, h host.Primitives) host.Semaphore {
	t.Helper()
	s, err := h.SemAlloc(0)
	require.NoError(t, err)
	return s
}

func spawn(t *testing.T, h host.Primitives, fn func()) host.Thread {
	t.Helper()
	th, err := h.ThreadCreate(fn)
	require.NoError(t, err)
	return th
}

// settle lets every runnable thread of a cooperative host run until it
// blocks. On a preemptive host it is only a short detour.
func settle(t *testing.T, h host.Primitives) {
	t.Helper()
	require.NoError(t, h.ThreadJoin(spawn(t, h, func() {})))
}

func (c *CPU) counts() (count, sleepers, waiters int) {
	c.lock.Acquire()
	defer c.lock.Release()
	return c.count, c.sleepers, c.waiters
}

// holder is a thread that takes the CPU and keeps it until released.
type holder struct {
	th      host.Thread
	held    host.Semaphore
	release host.Semaphore
	done    host.Semaphore
}

func hold(t *testing.T, h host.Primitives, c *CPU) *holder {
	t.Helper()
	hd := &holder{held: newSem(t, h), release: newSem(t, h), done: newSem(t, h)}
	hd.th = spawn(t, h, func() {
		if err := c.Get(); err != nil {
			t.Errorf("holder: %v", err)
			hd.held.Up()
			return
		}
		hd.held.Up()
		hd.release.Down()
		c.Put()
		hd.done.Up()
	})
	hd.held.Down()
	return hd
}

func (hd *holder) stop() {
	hd.release.Up()
	hd.done.Down()
}

// idler is a thread that takes the CPU and, once started, loops in Idle
// posting woke after every return, until Idle carries out a shutdown.
type idler struct {
	th    host.Thread
	held  host.Semaphore
	start host.Semaphore
	woke  host.Semaphore
}

func runIdle(t *testing.T, h host.Primitives, c *CPU) *idler {
	t.Helper()
	id := &idler{held: newSem(t, h), start: newSem(t, h), woke: newSem(t, h)}
	id.th = spawn(t, h, func() {
		if err := c.Get(); err != nil {
			t.Errorf("idle: %v", err)
			id.held.Up()
			return
		}
		id.held.Up()
		id.start.Down()
		for {
			c.Idle()
			id.woke.Up()
		}
	})
	id.held.Down()
	return id
}
