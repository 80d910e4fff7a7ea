package extscript

import (
	"context"
	"errors"
	"fmt"

	"github.com/guseggert/extscript/protocol"
	"go.uber.org/multierr"
)

// execute runs one EXECUTECOMMAND cycle, after its ACK: collect the argument tokens, run them as a host command
// with output going to the capture file, and report COMMANDEXECUTED.
//
// A runner that sends too many or too large tokens gets the overflow error in the capture file instead of an execution,
// and the session goes on. A receive error while collecting ends the cycle without COMMANDEXECUTED.
func (s *session) execute(ctx context.Context) error {
	buf := protocol.NewBuffer()
	defer buf.Release()

	var overflow error
	for {
		tok, err := s.conn.Recv()
		if errors.Is(err, protocol.ErrProtocolOverflow) {
			if overflow == nil {
				overflow = err
			}
			tok = ""
		} else if err != nil {
			return fmt.Errorf("collecting command: %w", err)
		}
		if err := s.send(ctx, protocol.Ack); err != nil {
			return err
		}
		if protocol.Match(tok, protocol.EndOfCommand) {
			break
		}
		if overflow != nil {
			continue
		}
		if err := buf.Append(tok); err != nil {
			overflow = err
			buf.Release()
		}
	}

	if overflow != nil {
		s.overflows++
		s.c.metrics.overflows.Inc()
		s.log.Debugw("command overflowed", "Error", overflow)
		if err := s.reportOverflow(overflow); err != nil {
			return err
		}
	} else {
		if err := s.delegate(ctx, buf); err != nil {
			return err
		}
	}
	return s.send(ctx, protocol.CommandExecuted)
}

// reportOverflow leaves the error where the runner looks for command output.
func (s *session) reportOverflow(overflow error) error {
	capture, err := openCapture(s.capturePath)
	if err != nil {
		return err
	}
	_, werr := fmt.Fprintf(capture.f, "extscript: %s\n", overflow)
	if err := capture.close(); err != nil {
		return err
	}
	return werr
}

// delegate runs the collected command with the host output going to the capture file.
// The recovery guard is armed for the duration: an abort inside the host command tears the session down,
// see guard.
func (s *session) delegate(ctx context.Context, buf *protocol.Buffer) (err error) {
	capture, err := openCapture(s.capturePath)
	if err != nil {
		return err
	}
	if err := capture.redirect(s.c.host, s.c.redirectStdout); err != nil {
		return multierr.Append(err, capture.close())
	}

	g := &guard{s: s, capture: capture, buf: buf}
	s.c.host.SetContinuation(g)
	s.state = stateExecuting
	defer g.release(&err)

	args := buf.Args()
	s.log.Debugw("executing delegated command", "Args", args)
	return s.c.host.Exec(ctx, args)
}
