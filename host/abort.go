package host

import (
	"errors"
	"fmt"
)

// AbortError is a fatal command error that unwinds to the host's continuation.
type AbortError struct {
	Cause error
}

func (e *AbortError) Error() string { return "fatal: " + e.Cause.Error() }

func (e *AbortError) Unwrap() error { return e.Cause }

// IsAbort reports whether err is, or wraps, an AbortError.
func IsAbort(err error) bool {
	var ae *AbortError
	return errors.As(err, &ae)
}

// Continuation is where aborts unwind to.
// The host installs a top-level one; code that runs commands on someone else's behalf can install its own for the duration and restore the previous one afterwards.
type Continuation interface {
	// Abort receives an abort and returns the error the aborting command must return.
	Abort(err *AbortError) error
}

type ContinuationFunc func(err *AbortError) error

func (f ContinuationFunc) Abort(err *AbortError) error { return f(err) }

// TopLevel is the host's own continuation: it reports the abort on the output stream and lets it unwind to the command loop.
func TopLevel(h *Host) Continuation {
	return ContinuationFunc(func(err *AbortError) error {
		h.log.Debugw("abort reached top level", "Error", err)
		h.Printf("%s\n", err)
		return err
	})
}

// Continuation returns the current continuation.
func (h *Host) Continuation() Continuation { return h.cont }

// SetContinuation installs c and returns the previous continuation.
func (h *Host) SetContinuation(c Continuation) Continuation {
	prev := h.cont
	h.cont = c
	return prev
}

// Fatal aborts the running command. The returned error must be returned by the command.
func (h *Host) Fatal(cause error) error {
	ae := &AbortError{Cause: cause}
	if h.cont == nil {
		return ae
	}
	return h.cont.Abort(ae)
}

func (h *Host) Fatalf(format string, args ...any) error {
	return h.Fatal(fmt.Errorf(format, args...))
}
