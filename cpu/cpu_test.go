package cpu

import (
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tavip/linux/host"
)

const waitFor = 5 * time.Second

func newCPU(t *testing.T, h host.Primitives, cfg Config) *CPU {
	t.Helper()
	c, err := New(h, cfg)
	require.NoError(t, err)
	return c
}

func TestReentrantGet(t *testing.T) {
	forEachBackend(t, func(t *testing.T, h host.Primitives) {
		c := newCPU(t, h, Config{})

		require.NoError(t, c.Get())
		require.NoError(t, c.Get())
		assert.True(t, h.ThreadEqual(h.ThreadSelf(), c.Owner()))
		count, _, _ := c.counts()
		assert.Equal(t, 2, count)

		started, done := newSem(t, h), newSem(t, h)
		var got atomic.Bool
		spawn(t, h, func() {
			started.Up()
			if assert.NoError(t, c.Get()) {
				got.Store(true)
				c.Put()
			}
			done.Up()
		})
		started.Down()
		assert.Eventually(t, func() bool {
			_, sleepers, _ := c.counts()
			return sleepers == 1
		}, waitFor, time.Millisecond)

		c.Put()
		assert.True(t, h.ThreadEqual(h.ThreadSelf(), c.Owner()))
		assert.False(t, got.Load())

		c.Put()
		done.Down()
		assert.True(t, got.Load())
		assert.Nil(t, c.Owner())

		count, sleepers, waiters := c.counts()
		assert.Equal(t, 0, count)
		assert.Equal(t, 0, sleepers)
		assert.Equal(t, 0, waiters)
	})
}

func TestMutualExclusion(t *testing.T) {
	forEachBackend(t, func(t *testing.T, h host.Primitives) {
		c := newCPU(t, h, Config{})

		const threads, rounds = 8, 200
		var holders atomic.Int32
		done := newSem(t, h)
		for i := 0; i < threads; i++ {
			spawn(t, h, func() {
				for r := 0; r < rounds; r++ {
					if !assert.NoError(t, c.Get()) {
						break
					}
					if n := holders.Add(1); n != 1 {
						t.Errorf("%d threads hold the cpu", n)
					}
					if !h.ThreadEqual(c.Owner(), h.ThreadSelf()) {
						t.Errorf("owner is %v, not %v", c.Owner(), h.ThreadSelf())
					}
					runtime.Gosched()
					holders.Add(-1)
					c.Put()
				}
				done.Up()
			})
		}
		for i := 0; i < threads; i++ {
			done.Down()
		}

		assert.Nil(t, c.Owner())
		_, sleepers, waiters := c.counts()
		assert.Equal(t, 0, sleepers)
		assert.Equal(t, 0, waiters)
	})
}

func TestUnbalancedPut(t *testing.T) {
	forEachBackend(t, func(t *testing.T, h host.Primitives) {
		c := newCPU(t, h, Config{})

		require.NoError(t, c.Get())
		c.Put()
		msg := fatal(t, c.Put)
		assert.Contains(t, msg, "unbalanced put")

		// The cpu is still usable.
		require.NoError(t, c.Get())
		c.Put()
	})
}

func TestPutByNonOwner(t *testing.T) {
	forEachBackend(t, func(t *testing.T, h host.Primitives) {
		c := newCPU(t, h, Config{})

		hd := hold(t, h, c)
		msg := fatal(t, c.Put)
		assert.Contains(t, msg, "releases a cpu owned by")

		assert.True(t, h.ThreadEqual(hd.th, c.Owner()))
		count, _, _ := c.counts()
		assert.Equal(t, 1, count)

		hd.stop()
		assert.Nil(t, c.Owner())
	})
}

func TestTryGet(t *testing.T) {
	forEachBackend(t, func(t *testing.T, h host.Primitives) {
		c := newCPU(t, h, Config{})

		require.NoError(t, c.TryGet())
		require.NoError(t, c.TryGet())
		c.Put()
		c.Put()

		hd := hold(t, h, c)
		assert.ErrorIs(t, c.TryGet(), ErrBusy)
		hd.stop()

		c.Shutdown()
		assert.ErrorIs(t, c.TryGet(), ErrShutdown)
	})
}

func TestGetAfterShutdown(t *testing.T) {
	forEachBackend(t, func(t *testing.T, h host.Primitives) {
		c := newCPU(t, h, Config{})

		require.NoError(t, c.Get())
		c.Shutdown()
		assert.True(t, c.IsShutdown())

		// Not even the owner acquires again.
		assert.ErrorIs(t, c.Get(), ErrShutdown)
		assert.ErrorIs(t, c.TryGet(), ErrShutdown)
		assert.ErrorIs(t, c.TryRunIrq(func() { t.Error("irq ran after shutdown") }), ErrShutdown)

		// Holds already granted are released normally.
		c.Put()
		assert.Nil(t, c.Owner())
	})
}

func TestChangeOwner(t *testing.T) {
	forEachBackend(t, func(t *testing.T, h host.Primitives) {
		c := newCPU(t, h, Config{})

		handoff, done := newSem(t, h), newSem(t, h)
		th := spawn(t, h, func() {
			handoff.Down()
			c.Put()
			done.Up()
		})

		require.NoError(t, c.Get())
		c.ChangeOwner(th)
		assert.True(t, h.ThreadEqual(th, c.Owner()))
		msg := fatal(t, c.Put)
		assert.Contains(t, msg, "releases a cpu owned by")

		handoff.Up()
		done.Down()
		assert.Nil(t, c.Owner())

		require.NoError(t, c.Get())
		require.NoError(t, c.Get())
		msg = fatal(t, func() { c.ChangeOwner(th) })
		assert.Contains(t, msg, "not the sole owner")
		c.Put()
		c.Put()

		msg = fatal(t, func() { c.ChangeOwner(th) })
		assert.Contains(t, msg, "not the sole owner")
	})
}

func TestPutRunsPendingIrqs(t *testing.T) {
	forEachBackend(t, func(t *testing.T, h host.Primitives) {
		var c *CPU
		runs := 0
		c = newCPU(t, h, Config{RunIrqs: func() {
			runs++
			count, _, _ := c.counts()
			assert.Equal(t, 1, count, "irqs run with the cpu held once")
			assert.True(t, h.ThreadEqual(h.ThreadSelf(), c.Owner()))
		}})

		require.NoError(t, c.Get())
		require.NoError(t, c.Get())
		c.SetIrqsPending()
		c.Put()
		assert.Equal(t, 0, runs, "only the outermost put runs irqs")
		c.Put()
		assert.Equal(t, 1, runs)
		assert.Nil(t, c.Owner())

		// Nothing pending, nothing run.
		require.NoError(t, c.Get())
		c.Put()
		assert.Equal(t, 1, runs)

		require.NoError(t, c.Get())
		c.DisableIrqs()
		c.SetIrqsPending()
		c.Put()
		assert.Equal(t, 1, runs, "irqs are disabled")

		require.NoError(t, c.Get())
		c.EnableIrqs()
		assert.Equal(t, 2, runs)
		c.Put()
		assert.Equal(t, 2, runs)
	})
}

func TestIrqsRequireOwner(t *testing.T) {
	forEachBackend(t, func(t *testing.T, h host.Primitives) {
		c := newCPU(t, h, Config{})

		msg := fatal(t, c.DisableIrqs)
		assert.Contains(t, msg, "does not own the cpu")
		msg = fatal(t, c.EnableIrqs)
		assert.Contains(t, msg, "does not own the cpu")
	})
}

func TestTryRunIrq(t *testing.T) {
	forEachBackend(t, func(t *testing.T, h host.Primitives) {
		c := newCPU(t, h, Config{})

		ran := 0
		require.NoError(t, c.TryRunIrq(func() {
			ran++
			assert.True(t, h.ThreadEqual(h.ThreadSelf(), c.Owner()))
		}))
		assert.Equal(t, 1, ran)
		assert.Nil(t, c.Owner())

		// Deferred while irqs are disabled.
		require.NoError(t, c.Get())
		c.DisableIrqs()
		require.NoError(t, c.TryRunIrq(func() { ran++ }))
		assert.Equal(t, 1, ran)
		c.EnableIrqs()
		assert.Equal(t, 2, ran)
		c.Put()

		// Deferred to the owner's put while someone else holds the cpu.
		hd := hold(t, h, c)
		var ranOn host.Thread
		require.NoError(t, c.TryRunIrq(func() {
			ran++
			ranOn = h.ThreadSelf()
		}))
		assert.Equal(t, 2, ran)
		hd.stop()
		assert.Equal(t, 3, ran)
		assert.True(t, h.ThreadEqual(hd.th, ranOn))
	})
}

func TestIdleWakeup(t *testing.T) {
	forEachBackend(t, func(t *testing.T, h host.Primitives) {
		var runs atomic.Int32
		c := newCPU(t, h, Config{RunIrqs: func() { runs.Add(1) }})

		id := runIdle(t, h, c)
		assert.True(t, h.ThreadEqual(id.th, c.Owner()))
		id.start.Up()
		settle(t, h)

		assert.Eventually(t, func() bool { return c.State() == IdleWait }, waitFor, time.Millisecond)
		assert.Eventually(t, func() bool { return c.Owner() == nil }, waitFor, time.Millisecond)

		// Interrupts that arrived while idle run when idle resumes.
		c.SetIrqsPending()
		c.Wakeup()
		id.woke.Down()
		assert.Equal(t, int32(1), runs.Load())

		c.Shutdown()
		c.Wakeup()
		c.WaitShutdown()
		assert.Equal(t, Terminated, c.State())
		assert.Nil(t, c.Owner())

		// Late wake-ups are ignored.
		c.Wakeup()
	})
}

func TestShutdownWithoutSleepers(t *testing.T) {
	forEachBackend(t, func(t *testing.T, h host.Primitives) {
		cleaned := 0
		c := newCPU(t, h, Config{Cleanup: func() { cleaned++ }})

		id := runIdle(t, h, c)
		c.Shutdown()
		id.start.Up()

		start := time.Now()
		c.WaitShutdown()
		assert.Less(t, time.Since(start), waitFor)

		assert.Equal(t, 1, cleaned)
		assert.Equal(t, Terminated, c.State())
	})
}

func TestShutdownDrainsSleepers(t *testing.T) {
	forEachBackend(t, func(t *testing.T, h host.Primitives) {
		cleaned := false
		var c *CPU
		c = newCPU(t, h, Config{Cleanup: func() {
			cleaned = true
			_, sleepers, waiters := c.counts()
			assert.Equal(t, 0, sleepers)
			assert.Equal(t, 0, waiters)
			assert.Equal(t, Draining, c.State())
		}})

		id := runIdle(t, h, c)

		const n = 4
		var refused atomic.Int32
		started, done := newSem(t, h), newSem(t, h)
		for i := 0; i < n; i++ {
			spawn(t, h, func() {
				started.Up()
				err := c.Get()
				if assert.ErrorIs(t, err, ErrShutdown) {
					refused.Add(1)
				} else if err == nil {
					c.Put()
				}
				done.Up()
			})
		}
		for i := 0; i < n; i++ {
			started.Down()
		}
		assert.Eventually(t, func() bool {
			_, sleepers, _ := c.counts()
			return sleepers == n
		}, waitFor, time.Millisecond)

		c.Shutdown()
		id.start.Up()
		c.WaitShutdown()

		for i := 0; i < n; i++ {
			done.Down()
		}
		assert.Equal(t, int32(n), refused.Load())
		assert.True(t, cleaned)
		assert.Equal(t, Terminated, c.State())
	})
}

func TestIdleRequiresOwner(t *testing.T) {
	forEachBackend(t, func(t *testing.T, h host.Primitives) {
		c := newCPU(t, h, Config{})

		msg := fatal(t, c.Idle)
		assert.Contains(t, msg, "not the sole owner")

		require.NoError(t, c.Get())
		require.NoError(t, c.Get())
		msg = fatal(t, c.Idle)
		assert.Contains(t, msg, "not the sole owner")
	})
}

func TestNewUnwinds(t *testing.T) {
	for _, b := range backends {
		b := b
		t.Run(b.name, func(t *testing.T) {
			for n := 1; n < 4; n++ {
				h := newHost(t, b, host.Limits{Semaphores: n})
				_, err := New(h, Config{})
				require.ErrorIs(t, err, host.ErrNoMem)

				// Everything allocated before the failure was freed.
				for i := 0; i < n; i++ {
					_, err := h.SemAlloc(0)
					require.NoError(t, err)
				}
			}

			h := newHost(t, b, host.Limits{Semaphores: 4})
			_, err := New(h, Config{})
			require.NoError(t, err)
		})
	}
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "running", Running.String())
	assert.Equal(t, "idle", IdleWait.String())
	assert.Equal(t, "draining", Draining.String())
	assert.Equal(t, "terminated", Terminated.String())
	assert.Equal(t, "unknown", State(42).String())
}
