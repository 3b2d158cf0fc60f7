package host

import (
	"fmt"
	"log/slog"
)

// Bug reports a broken invariant and aborts through p.Panic. It is used for
// protocol violations such as an unbalanced release or a double resume, where
// carrying on would corrupt state.
func Bug(p Primitives, log *slog.Logger, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if log != nil {
		log.Error("unrecoverable error", "err", msg)
	}
	p.Panic(msg)
}

// PanicError is the value backends panic with from Primitives.Panic.
func PanicError(msg string) *Error {
	return &Error{Module: "bug", Message: msg}
}
