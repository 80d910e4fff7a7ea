package peer

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"

	"github.com/guseggert/extscript/protocol"
	"go.uber.org/zap"
)

var ErrUnexpected = errors.New("unexpected message")

// Runner is the runner side of the protocol.
// The host dials a fresh connection after every ACK the runner sends, and every exchange ends with such an ACK,
// so each exchange is carried by its own accepted connection.
// The runner never half-closes: when it starts an exchange it still has to acknowledge the host's ACK on the same connection.
type Runner struct {
	log  *zap.SugaredLogger
	ln   *net.UnixListener
	path string
}

type Option func(r *Runner)

func WithLogger(l *zap.Logger) Option {
	return func(r *Runner) {
		r.log = l.Named("peer").Sugar()
	}
}

// Listen starts listening on path. An empty path falls back to $EXTSCRIPT_SOCKET, then to the well-known socket name.
// A stale socket file left behind by a previous runner is removed first.
func Listen(path string, opts ...Option) (*Runner, error) {
	if path == "" {
		path = os.Getenv(protocol.EnvSocketPath)
	}
	if path == "" {
		path = protocol.DefaultSocketPath
	}
	r := &Runner{
		log:  zap.NewNop().Sugar(),
		path: path,
	}
	for _, o := range opts {
		o(r)
	}

	if fi, err := os.Lstat(path); err == nil && fi.Mode()&os.ModeSocket != 0 {
		r.log.Debugw("removing stale socket", "Path", path)
		_ = os.Remove(path)
	}
	ln, err := net.ListenUnix("unix", &net.UnixAddr{Name: path, Net: "unix"})
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", path, err)
	}
	r.ln = ln
	return r, nil
}

func (r *Runner) Path() string { return r.path }

// Close stops listening and removes the socket file.
func (r *Runner) Close() error {
	return r.ln.Close()
}

// Send sends msg and completes the handshake: it waits for the host's ACK and acknowledges it.
func (r *Runner) Send(msg string) error {
	conn, err := r.ln.AcceptUnix()
	if err != nil {
		return fmt.Errorf("accepting host conn: %w", err)
	}
	defer conn.Close()

	r.log.Debugw("send", "Command", msg)
	if err := protocol.WriteFrame(conn, msg); err != nil {
		return fmt.Errorf("sending %q: %w", msg, err)
	}
	reply, err := protocol.ReadFrame(conn)
	if err != nil {
		return fmt.Errorf("reading ACK for %q: %w", msg, err)
	}
	if !protocol.Match(reply, protocol.Ack) {
		return fmt.Errorf("%w: sent %q, got %q instead of %s", ErrUnexpected, msg, reply, protocol.Ack)
	}
	return r.ack(conn)
}

// Recv receives one message from the host and acknowledges it.
func (r *Runner) Recv() (string, error) {
	conn, err := r.ln.AcceptUnix()
	if err != nil {
		return "", fmt.Errorf("accepting host conn: %w", err)
	}
	defer conn.Close()

	// the host half-closes after every frame, so an empty message arrives as a bare EOF
	msg, err := protocol.ReadFrame(conn)
	if errors.Is(err, io.EOF) {
		msg, err = "", nil
	}
	if err != nil {
		return "", fmt.Errorf("receiving: %w", err)
	}
	r.log.Debugw("recv", "Command", msg)
	return msg, r.ack(conn)
}

func (r *Runner) ack(conn *net.UnixConn) error {
	if err := protocol.WriteFrame(conn, protocol.Ack); err != nil {
		return fmt.Errorf("sending %s: %w", protocol.Ack, err)
	}
	return nil
}

// Expect receives one message and fails unless it carries verb.
func (r *Runner) Expect(verb string) error {
	msg, err := r.Recv()
	if err != nil {
		return err
	}
	if !protocol.Match(msg, verb) {
		return fmt.Errorf("%w: got %q, expected %s", ErrUnexpected, msg, verb)
	}
	return nil
}

// ReadBypass receives the BYPASS directive the host sends when a session starts and returns its argument.
func (r *Runner) ReadBypass() (string, error) {
	if err := r.Expect(protocol.Bypass); err != nil {
		return "", err
	}
	return r.Recv()
}

// Execute runs one host command with the given argument vector and waits until the host reports it executed.
// The output is in the host's capture file; see CapturePath.
func (r *Runner) Execute(args ...string) error {
	if err := r.Send(protocol.ExecuteCommand); err != nil {
		return err
	}
	for _, a := range args {
		if err := r.Send(a); err != nil {
			return err
		}
	}
	if err := r.Send(protocol.EndOfCommand); err != nil {
		return err
	}
	return r.Expect(protocol.CommandExecuted)
}

// ImagePath asks the host for the path of the image it has loaded.
func (r *Runner) ImagePath() (string, error) {
	if err := r.Send(protocol.VmlinuxPath); err != nil {
		return "", err
	}
	return r.Recv()
}

// Done tells the host the runner is finished.
func (r *Runner) Done() error {
	return r.Send(protocol.Done)
}

// AwaitShutdown waits for the host to end the session.
func (r *Runner) AwaitShutdown() error {
	return r.Expect(protocol.Shutdown)
}

// CapturePath returns where the host writes delegated command output, as advertised in the runner's environment.
func CapturePath() string {
	if p := os.Getenv(protocol.EnvCapturePath); p != "" {
		return p
	}
	return protocol.DefaultCapturePath
}

// ReadCapture returns the output of the last delegated command.
func ReadCapture() (string, error) {
	b, err := os.ReadFile(CapturePath())
	if err != nil {
		return "", fmt.Errorf("reading capture file: %w", err)
	}
	return string(b), nil
}
