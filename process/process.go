package process

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"
	"time"

	"go.uber.org/zap"
)

var ErrSpawn = errors.New("spawn failed")

// Spec describes how to start a runner.
// Args is the full argument vector, execlp style: Args[0] is what the runner sees as its own name.
// When Args is empty the runner is started with File as its only argument.
type Spec struct {
	File string
	Args []string
	Env  []string
	Dir  string

	Stdout io.Writer
	Stderr io.Writer
}

type Result struct {
	ExitCode int
	TimeMS   int64
}

// Process is a started runner. Its pid is valid from Start until a Wait or Terminate has returned.
type Process struct {
	log *zap.SugaredLogger
	cmd *exec.Cmd

	exited chan struct{}
	result Result
	err    error
}

// Start spawns the runner described by spec.
func Start(log *zap.SugaredLogger, spec Spec) (*Process, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	cmd := exec.Command(spec.File)
	if len(spec.Args) > 0 {
		cmd.Args = append([]string(nil), spec.Args...)
	}
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}
	cmd.Dir = spec.Dir
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if spec.Stdout != nil {
		cmd.Stdout = spec.Stdout
	}
	if spec.Stderr != nil {
		cmd.Stderr = spec.Stderr
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: starting %q: %s", ErrSpawn, spec.File, err)
	}

	p := &Process{
		log:    log.Named("process").With("Pid", cmd.Process.Pid),
		cmd:    cmd,
		exited: make(chan struct{}),
	}
	p.log.Debugw("started runner", "File", spec.File, "Args", cmd.Args)

	// reap the process and record the result
	go func() {
		err := cmd.Wait()
		timeMS := time.Since(start).Milliseconds()
		exitCode := 0
		if err != nil {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				exitCode = exitErr.ExitCode()
			} else {
				p.err = err
				exitCode = -1
			}
		}
		p.result = Result{ExitCode: exitCode, TimeMS: timeMS}
		p.log.Debugw("runner exited", "ExitCode", exitCode, "TimeMS", timeMS)
		close(p.exited)
	}()

	return p, nil
}

func (p *Process) Pid() int { return p.cmd.Process.Pid }

// Exited reports whether the process has been reaped.
func (p *Process) Exited() bool {
	select {
	case <-p.exited:
		return true
	default:
		return false
	}
}

// Signal sends sig to the process. Signaling a reaped process is a no-op.
func (p *Process) Signal(sig os.Signal) error {
	if p.Exited() {
		return nil
	}
	err := p.cmd.Process.Signal(sig)
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}

// Wait blocks until the process exits or ctx is done.
func (p *Process) Wait(ctx context.Context) (*Result, error) {
	select {
	case <-p.exited:
		res := p.result
		return &res, p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Terminate interrupts the process and waits until it has been reaped.
// If ctx is done first the process is killed, so Terminate never leaves the runner behind.
func (p *Process) Terminate(ctx context.Context) (*Result, error) {
	p.log.Debug("interrupting runner")
	if err := p.Signal(syscall.SIGINT); err != nil {
		p.log.Debugw("error interrupting runner", "Error", err)
	}
	if _, err := p.Wait(ctx); err != nil && !p.Exited() {
		p.log.Debugw("runner ignored interrupt, killing", "Error", err)
		if err := p.Signal(syscall.SIGKILL); err != nil {
			p.log.Debugw("error killing runner", "Error", err)
		}
	}
	return p.Wait(context.Background())
}
