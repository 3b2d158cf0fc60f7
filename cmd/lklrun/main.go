// Lklrun boots a kernel on one of the host backends, runs a few kernel
// threads that print, yield and sleep, and halts the kernel again.
//
// Every flag defaults to the value of the LKL_* environment variable named in
// its usage text.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/tavip/linux/host"
	"github.com/tavip/linux/kernel"
)

type options struct {
	backend string
	threads int
	rounds  int
	sleep   time.Duration
	mem     int
	cmdline string
	virtio  string
	limits  host.Limits
	debug   bool
}

func envString(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		exit(fmt.Errorf("%s: %w", key, err))
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		exit(fmt.Errorf("%s: %w", key, err))
	}
	return d
}

func exit(err error) {
	fmt.Fprintf(os.Stderr, "[lklrun] error: %s\n", err.Error())
	os.Exit(1)
}

func parseFlags() options {
	var o options
	flag.StringVar(&o.backend, "backend", envString("LKL_BACKEND", "coop"), "host backend, coop or posix (LKL_BACKEND)")
	flag.IntVar(&o.threads, "threads", envInt("LKL_THREADS", 4), "number of kernel threads (LKL_THREADS)")
	flag.IntVar(&o.rounds, "rounds", envInt("LKL_ROUNDS", 3), "rounds every kernel thread runs (LKL_ROUNDS)")
	flag.DurationVar(&o.sleep, "sleep", envDuration("LKL_SLEEP", 0), "sleep per round instead of yielding (LKL_SLEEP)")
	flag.IntVar(&o.mem, "mem", envInt("LKL_MEM", kernel.DefaultMemSize), "kernel memory in bytes (LKL_MEM)")
	flag.StringVar(&o.cmdline, "cmdline", envString("LKL_CMDLINE", ""), "kernel command line (LKL_CMDLINE)")
	flag.StringVar(&o.virtio, "virtio", envString("LKL_VIRTIO", ""), "virtio devices for the command line (LKL_VIRTIO)")
	flag.IntVar(&o.limits.Threads, "max-threads", envInt("LKL_MAX_THREADS", 0), "host thread limit, 0 for none (LKL_MAX_THREADS)")
	flag.IntVar(&o.limits.Semaphores, "max-sems", envInt("LKL_MAX_SEMS", 0), "host semaphore limit, 0 for none (LKL_MAX_SEMS)")
	flag.BoolVar(&o.debug, "v", os.Getenv("LKL_DEBUG") != "", "trace scheduling (LKL_DEBUG)")
	flag.Parse()

	if flag.NArg() != 0 {
		exit(fmt.Errorf("unexpected arguments %q", flag.Args()))
	}
	o.limits.Memory = o.mem
	return o
}

func main() {
	o := parseFlags()

	level := slog.LevelInfo
	if o.debug {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if err := boot(o, log); err != nil {
		exit(err)
	}
}

// closeHostFn releases a host once the kernel on it halted. Tests may replace
// it.
var closeHostFn = closeHost

// boot runs the kernel on a new host and releases the host before returning,
// also when the run fails, since exit does not run deferred calls.
func boot(o options, log *slog.Logger) error {
	h, err := newHost(o, log)
	if err != nil {
		return err
	}
	defer closeHostFn(h)

	return run(h, o, log)
}

func run(h host.Primitives, o options, log *slog.Logger) error {
	begin := time.Now()
	k, err := kernel.Start(h, kernel.Config{MemSize: o.mem, CmdLine: o.cmdline, Logger: log})
	if err != nil {
		return fmt.Errorf("start: %w", err)
	}

	done, err := h.SemAlloc(0)
	if err != nil {
		k.Halt()
		return err
	}
	defer done.Free()

	spawned := 0
	err = k.Syscall(func() error {
		for i := 0; i < o.threads; i++ {
			name := fmt.Sprintf("kworker/%d", i)
			if _, err := k.Spawn(name, func() { worker(k, name, o, done) }); err != nil {
				return fmt.Errorf("spawn %s: %w", name, err)
			}
			spawned++
		}
		return nil
	})
	for i := 0; i < spawned; i++ {
		done.Down()
	}
	if err != nil {
		k.Halt()
		return err
	}

	var switches uint64
	if err := k.Syscall(func() error {
		switches = k.Switches()
		return nil
	}); err != nil {
		return err
	}
	k.Halt()

	attrs := []any{"backend", o.backend, "threads", spawned, "switches", switches, "elapsed", time.Since(begin)}
	if m, ok := h.(interface{ MemStats() host.MemStats }); ok {
		stats := m.MemStats()
		attrs = append(attrs, "mallocs", stats.Mallocs, "frees", stats.Frees)
	}
	log.Info("kernel halted", attrs...)
	return nil
}

func worker(k *kernel.Kernel, name string, o options, done host.Semaphore) {
	for r := 0; r < o.rounds; r++ {
		k.Printk("%s: round %d\n", name, r)
		if o.sleep > 0 {
			if err := k.Sleep(uint64(o.sleep)); err != nil {
				k.Printk("%s: sleep: %v\n", name, err)
			}
		} else {
			k.Yield()
		}
	}
	done.Up()
}
