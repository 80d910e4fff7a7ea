package extscript

import (
	"errors"
	"fmt"

	"github.com/guseggert/extscript/host"
	"github.com/guseggert/extscript/protocol"
	"go.uber.org/multierr"
)

// guard is the recovery point for one delegated command.
// It is installed as the host continuation while the command runs, so a fatal error in the command lands here
// instead of in the host's top-level handler, and its release runs when the command returns.
type guard struct {
	s       *session
	capture *capture
	buf     *protocol.Buffer
	abort   *host.AbortError
}

// Abort records the abort. The command unwinds with the returned error and release does the rest.
func (g *guard) Abort(err *host.AbortError) error {
	g.s.log.Warnw("delegated command aborted", "Error", err.Cause)
	if g.abort == nil {
		g.abort = err
	}
	return err
}

// release must be deferred directly by the function running the command.
// Errors of the command itself have already been printed to the capture file by the host, so they are not returned.
func (g *guard) release(errp *error) {
	if r := recover(); r != nil {
		g.abort = &host.AbortError{Cause: fmt.Errorf("panic: %v", r)}
	}
	var ae *host.AbortError
	if g.abort == nil && errors.As(*errp, &ae) {
		// aborted without going through the installed continuation
		g.abort = ae
	}
	if g.abort != nil {
		*errp = g.recoverSession()
		return
	}
	*errp = g.finish()
}

func (g *guard) finish() error {
	s := g.s
	s.c.host.SetContinuation(s.saved)
	err := g.capture.restore()
	err = multierr.Append(err, g.capture.close())
	s.state = stateActive
	s.commands++
	s.c.metrics.commands.Inc()
	return err
}

// recoverSession reclaims everything the session holds and then hands the abort to the host's own continuation, once.
// The session is over afterwards.
func (g *guard) recoverSession() error {
	s := g.s
	s.c.host.SetContinuation(s.saved)
	err := g.capture.restore()
	err = multierr.Append(err, g.capture.close())
	err = multierr.Append(err, g.capture.remove())
	g.buf.Release()
	err = multierr.Append(err, s.conn.Close())
	err = multierr.Append(err, s.reap())
	s.aborted = true
	s.state = stateUnbound
	if err != nil {
		s.log.Warnw("errors cleaning up after abort", "Error", err)
	}
	s.log.Debugw("session recovered from abort", "Error", g.abort.Cause)

	if s.saved == nil {
		return g.abort
	}
	if err := s.saved.Abort(g.abort); err != nil {
		return err
	}
	return g.abort
}
