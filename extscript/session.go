package extscript

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/guseggert/extscript/host"
	"github.com/guseggert/extscript/process"
	"github.com/guseggert/extscript/protocol"
	"github.com/guseggert/extscript/transport"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

type sessionState int

const (
	stateUnbound sessionState = iota
	stateBound
	stateActive
	stateExecuting
)

func (s sessionState) String() string {
	switch s {
	case stateUnbound:
		return "unbound"
	case stateBound:
		return "bound"
	case stateActive:
		return "active"
	case stateExecuting:
		return "executing"
	}
	return fmt.Sprintf("sessionState(%d)", int(s))
}

// Result reports how a session went.
type Result struct {
	SessionID string
	Pid       int
	// ExitCode is the runner's exit code, -1 if it was killed by a signal.
	ExitCode int
	// Commands is the number of host commands executed for the runner.
	Commands   int
	Overflows  int
	Reconnects int
	// Aborted is set when a delegated command aborted and the session was torn down.
	Aborted bool
}

// session is one runner session: the socket, the runner process and the protocol state.
// It lives for a single Controller.Run and is driven from one goroutine.
type session struct {
	id  uuid.UUID
	c   *Controller
	log *zap.SugaredLogger

	bypass      string
	capturePath string
	saved       host.Continuation

	state    sessionState
	proc     *process.Process
	conn     *transport.Conn
	peerDone bool

	commands  int
	overflows int
	exitCode  int
	aborted   bool
}

func newSession(c *Controller, bypass, capturePath string) *session {
	id := uuid.New()
	return &session{
		id:          id,
		c:           c,
		log:         c.logger.Named("session").Sugar().With("Session", id.String()),
		bypass:      bypass,
		capturePath: capturePath,
		exitCode:    -1,
	}
}

func (s *session) result() *Result {
	r := &Result{
		SessionID: s.id.String(),
		ExitCode:  s.exitCode,
		Commands:  s.commands,
		Overflows: s.overflows,
		Aborted:   s.aborted,
	}
	if s.proc != nil {
		r.Pid = s.proc.Pid()
	}
	if s.conn != nil {
		r.Reconnects = s.conn.Reconnects()
	}
	return r
}

// bind starts the runner, gives it time to start listening and connects to it.
// A runner that cannot be reached is terminated before bind returns.
func (s *session) bind(ctx context.Context) error {
	if s.state != stateUnbound {
		return fmt.Errorf("%w: session is %s", ErrBind, s.state)
	}
	script := s.c.script
	env := append([]string{
		protocol.EnvSocketPath + "=" + s.c.socketPath,
		protocol.EnvCapturePath + "=" + s.capturePath,
	}, s.c.runnerEnv...)

	proc, err := process.Start(s.log, process.Spec{File: script.File, Args: script.Args, Env: env})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBind, err)
	}
	s.proc = proc
	s.log = s.log.With("Pid", proc.Pid())

	select {
	case <-time.After(s.c.startupDelay):
	case <-ctx.Done():
		return multierr.Append(fmt.Errorf("%w: %w", ErrBind, ctx.Err()), s.reap())
	}

	conn, err := transport.Dial(s.c.socketPath,
		transport.WithLogger(s.c.logger),
		transport.WithRetries(s.c.retries),
		transport.WithRetryPause(s.c.retryPause),
	)
	if err != nil {
		return multierr.Append(fmt.Errorf("%w: %w", ErrBind, err), s.reap())
	}
	s.conn = conn
	s.state = stateBound
	s.log.Debugw("bound", "Socket", s.c.socketPath)
	return nil
}

// serve forwards the bypass directive and processes runner messages until the runner says DONE.
func (s *session) serve(ctx context.Context) error {
	s.state = stateActive
	if err := s.send(ctx, protocol.Bypass); err != nil {
		return err
	}
	if err := s.send(ctx, s.bypass); err != nil {
		return err
	}
	for !s.peerDone {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.processOne(ctx); err != nil {
			return err
		}
	}
	s.log.Debug("runner is done")
	return nil
}

// send sends msg and processes the runner's reply, which for everything but an unanswered verb is the ACK that triggers a reconnect.
func (s *session) send(ctx context.Context, msg string) error {
	if err := s.conn.Send(msg); err != nil {
		return err
	}
	err := s.processOne(ctx)
	if err != nil && s.peerDone && errors.Is(err, transport.ErrReconnectExhausted) {
		// the runner stopped listening right after DONE, there is nothing left to say to it
		s.log.Debugw("runner gone after DONE", "Error", err)
		_ = s.conn.Close()
		return nil
	}
	return err
}

// processOne receives one message from the runner and acts on it.
func (s *session) processOne(ctx context.Context) error {
	msg, err := s.conn.Recv()
	if errors.Is(err, protocol.ErrProtocolOverflow) {
		s.log.Debugw("ignoring oversized message", "Error", err)
		return nil
	}
	if err != nil {
		return err
	}
	s.log.Debugw("received", "Verb", msg)

	switch {
	case protocol.Match(msg, protocol.ExecuteCommand):
		if err := s.send(ctx, protocol.Ack); err != nil {
			return err
		}
		return s.execute(ctx)
	case protocol.Match(msg, protocol.VmlinuxPath):
		if err := s.send(ctx, protocol.Ack); err != nil {
			return err
		}
		return s.send(ctx, s.c.host.ImagePath())
	case protocol.Match(msg, protocol.Done):
		s.peerDone = true
		return s.send(ctx, protocol.Ack)
	case protocol.Match(msg, protocol.Ack):
		if err := s.conn.Reconnect(); err != nil {
			return err
		}
		s.c.metrics.reconnects.Inc()
		return nil
	default:
		s.log.Debugw("ignoring message", "Message", msg)
		return nil
	}
}

// unbind tells the runner to shut down, waits for it to exit and closes the socket.
// After a failure the runner gets a grace period and is then terminated, and SHUTDOWN is sent without waiting for its ACK.
func (s *session) unbind(ctx context.Context, failed bool) error {
	var merr error
	if !s.conn.Closed() {
		merr = multierr.Append(merr, s.sendShutdown(failed))
		merr = multierr.Append(merr, s.conn.Close())
	}

	waitCtx := ctx
	if failed {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, s.c.shutdownGrace)
		defer cancel()
	}
	res, err := s.proc.Wait(waitCtx)
	if err != nil {
		s.log.Debugw("runner did not exit, terminating", "Error", err)
		return multierr.Append(merr, s.reap())
	}
	s.exitCode = res.ExitCode
	s.state = stateUnbound
	s.log.Debugw("unbound", "ExitCode", res.ExitCode)
	return merr
}

func (s *session) sendShutdown(failed bool) error {
	if err := s.conn.Send(protocol.Shutdown); err != nil {
		return err
	}
	if failed {
		return nil
	}
	reply, err := s.conn.Recv()
	if err != nil {
		return fmt.Errorf("reading ACK for %s: %w", protocol.Shutdown, err)
	}
	if !protocol.Match(reply, protocol.Ack) {
		s.log.Debugw("unexpected reply to shutdown", "Reply", reply)
	}
	return nil
}

// reap interrupts the runner and waits until it is gone, killing it if it outlives the shutdown grace period.
func (s *session) reap() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.c.shutdownGrace)
	defer cancel()
	res, err := s.proc.Terminate(ctx)
	s.state = stateUnbound
	if res != nil {
		s.exitCode = res.ExitCode
	}
	return err
}
