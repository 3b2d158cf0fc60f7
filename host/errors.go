package host

// Error describes a host or core error. All errors are defined as package
// level variables that are pointers to the Error structure so they can be
// compared with errors.Is.
type Error struct {
	// The module where the error occurred.
	Module string

	// The error message
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}

var (
	ErrNoMem         = &Error{Module: "host", Message: "out of memory"}
	ErrNoThreads     = &Error{Module: "host", Message: "thread limit reached"}
	ErrTLSExhausted  = &Error{Module: "host", Message: "no free thread-local storage slot"}
	ErrInvalidKey    = &Error{Module: "host", Message: "invalid thread-local storage key"}
	ErrDetached      = &Error{Module: "host", Message: "thread is detached"}
	ErrUnknownThread = &Error{Module: "host", Message: "unknown thread"}
	ErrTimerFreed    = &Error{Module: "host", Message: "timer already freed"}
	ErrClosed        = &Error{Module: "host", Message: "host is closed"}
	ErrBadFree       = &Error{Module: "host", Message: "memory was not allocated by this host"}
)
