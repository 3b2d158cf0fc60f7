package host

import (
	"io"
	"os"
	"sync"
)

const consoleBufferSize = 120

// Console buffers kernel console output and writes it out one line (or one
// full buffer) at a time.
type Console struct {
	mu  sync.Mutex
	w   io.Writer
	buf [consoleBufferSize]byte
	pos int
}

// NewConsole returns a console writing to w, or to stdout when w is nil.
func NewConsole(w io.Writer) *Console {
	if w == nil {
		w = os.Stdout
	}
	return &Console{w: w}
}

// Print appends s to the console.
func (c *Console) Print(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := 0; i < len(s); i++ {
		c.buf[c.pos] = s[i]
		c.pos++
		if s[i] == '\n' || c.pos == consoleBufferSize {
			c.flushLocked()
		}
	}
}

// Flush writes out any buffered partial line.
func (c *Console) Flush() {
	c.mu.Lock()
	c.flushLocked()
	c.mu.Unlock()
}

func (c *Console) flushLocked() {
	if c.pos == 0 {
		return
	}
	// Console output is best effort; there is nobody to report to.
	_, _ = c.w.Write(c.buf[:c.pos])
	c.pos = 0
}
