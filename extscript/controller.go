package extscript

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/guseggert/extscript/host"
	"github.com/guseggert/extscript/protocol"
	"github.com/guseggert/extscript/transport"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Host is what the controller needs from the tool it runs commands for.
// *host.Host implements it.
type Host interface {
	// Exec runs one host command. A fatal error is reported through the current continuation and returned as a *host.AbortError.
	Exec(ctx context.Context, args []string) error
	Output() io.Writer
	SetOutput(w io.Writer) io.Writer
	Continuation() host.Continuation
	SetContinuation(c host.Continuation) host.Continuation
	ImagePath() string
}

// active guards against a second session in the same process.
var active atomic.Bool

// Controller runs runner sessions for a host.
// It keeps the script configuration between sessions; at most one session runs at a time.
type Controller struct {
	logger *zap.Logger
	log    *zap.SugaredLogger
	host   Host
	script Script

	socketPath     string
	capturePath    string
	startupDelay   time.Duration
	retries        int
	retryPause     time.Duration
	shutdownGrace  time.Duration
	redirectStdout bool
	runnerEnv      []string
	registerer     prometheus.Registerer

	metrics *metrics
}

type Option func(c *Controller)

func WithLogger(l *zap.Logger) Option {
	return func(c *Controller) {
		c.logger = l
		c.log = l.Named("extscript").Sugar()
	}
}

func WithLogLevel(l zapcore.Level) Option {
	return func(c *Controller) {
		c.logger = c.logger.WithOptions(zap.IncreaseLevel(l))
		c.log = c.log.WithOptions(zap.IncreaseLevel(l))
	}
}

// WithSocketPath overrides the well-known socket path. The runner learns it from $EXTSCRIPT_SOCKET.
func WithSocketPath(p string) Option {
	return func(c *Controller) {
		c.socketPath = p
	}
}

func WithCapturePath(p string) Option {
	return func(c *Controller) {
		c.capturePath = p
	}
}

// WithStartupDelay sets how long to give the runner to start listening before connecting.
func WithStartupDelay(d time.Duration) Option {
	return func(c *Controller) {
		c.startupDelay = d
	}
}

// WithRetries sets the connect attempt ceiling, see transport.WithRetries.
func WithRetries(n int) Option {
	return func(c *Controller) {
		c.retries = n
	}
}

func WithRetryPause(d time.Duration) Option {
	return func(c *Controller) {
		c.retryPause = d
	}
}

// WithShutdownGrace bounds how long a failed session waits for the runner to exit before interrupting it.
func WithShutdownGrace(d time.Duration) Option {
	return func(c *Controller) {
		c.shutdownGrace = d
	}
}

// WithRedirectStdout also points file descriptor 1 at the capture file during delegated commands,
// for host commands that write to os.Stdout instead of the host output stream.
func WithRedirectStdout(b bool) Option {
	return func(c *Controller) {
		c.redirectStdout = b
	}
}

// WithRunnerEnv adds KEY=VALUE pairs to the runner's environment.
func WithRunnerEnv(env ...string) Option {
	return func(c *Controller) {
		c.runnerEnv = append(c.runnerEnv, env...)
	}
}

// WithRegisterer registers the controller's metrics with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(c *Controller) {
		c.registerer = reg
	}
}

// New constructs a controller for h.
func New(h Host, opts ...Option) (*Controller, error) {
	logger, err := zap.NewDevelopment()
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	c := &Controller{
		logger:        logger,
		log:           logger.Named("extscript").Sugar(),
		host:          h,
		socketPath:    protocol.DefaultSocketPath,
		capturePath:   protocol.DefaultCapturePath,
		startupDelay:  1 * time.Second,
		retries:       transport.DefaultRetries,
		shutdownGrace: 5 * time.Second,
	}
	for _, o := range opts {
		o(c)
	}
	c.metrics = newMetrics(c.registerer)
	return c, nil
}

// Configure replaces the runner configuration. It fails without changing anything if s breaks a size limit.
func (c *Controller) Configure(s Script) error {
	if err := s.Validate(); err != nil {
		return err
	}
	c.script = Script{File: s.File, Args: append([]string(nil), s.Args...)}
	c.log.Debugw("configured script", "File", c.script.File, "Args", c.script.Args)
	return nil
}

func (c *Controller) Script() Script {
	return Script{File: c.script.File, Args: append([]string(nil), c.script.Args...)}
}

func (c *Controller) CapturePath() string { return c.capturePath }

// Run starts the runner, forwards bypass to it, serves its requests until it is done, and shuts it down.
// An empty bypass is still forwarded, as an empty message.
//
// If a delegated command aborts, the session is torn down and the abort is handed to the host's continuation;
// the returned error is then a *host.AbortError.
func (c *Controller) Run(ctx context.Context, bypass string) (*Result, error) {
	if !c.script.IsSet() {
		return nil, ErrScriptNotSet
	}
	if !active.CompareAndSwap(false, true) {
		return nil, ErrSessionActive
	}
	defer active.Store(false)

	c.metrics.active.Set(1)
	defer c.metrics.active.Set(0)

	capturePath, err := filepath.Abs(c.capturePath)
	if err != nil {
		return nil, fmt.Errorf("resolving capture path: %w", err)
	}
	s := newSession(c, bypass, capturePath)

	res, err := s.run(ctx)
	switch {
	case res.Aborted:
		c.metrics.sessions.WithLabelValues(outcomeAborted).Inc()
	case err != nil:
		c.metrics.sessions.WithLabelValues(outcomeError).Inc()
	default:
		c.metrics.sessions.WithLabelValues(outcomeOK).Inc()
	}
	return res, err
}

func (s *session) run(ctx context.Context) (*Result, error) {
	// the host's own continuation, restored whenever a delegated command aborts
	s.saved = s.c.host.Continuation()

	if err := s.bind(ctx); err != nil {
		return s.result(), err
	}
	err := s.serve(ctx)
	if s.state != stateUnbound {
		err = multierr.Append(err, s.unbind(ctx, err != nil))
	}
	return s.result(), err
}
