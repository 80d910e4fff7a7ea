package transport

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/guseggert/extscript/protocol"
	"go.uber.org/zap"
)

// DefaultRetries is the connect attempt ceiling used when dialing and when reconnecting after an ACK.
const DefaultRetries = 10000

// drainWait bounds how long Recv waits for the rest of an oversized frame.
const drainWait = 20 * time.Millisecond

var (
	ErrConnect            = errors.New("connect failed")
	ErrSend               = errors.New("send failed")
	ErrRecv               = errors.New("recv failed")
	ErrReconnectExhausted = errors.New("reconnect retries exhausted")
	ErrClosed             = errors.New("connection closed")
)

// Conn is the host side of the runner socket.
// It is not goroutine-safe: the protocol has exactly one speaker at a time and the session drives it from one goroutine.
type Conn struct {
	log     *zap.SugaredLogger
	addr    *net.UnixAddr
	retries int
	pause   time.Duration

	conn       *net.UnixConn
	reconnects int
}

type Option func(c *Conn)

func WithLogger(l *zap.Logger) Option {
	return func(c *Conn) {
		c.log = l.Named("transport").Sugar()
	}
}

// WithRetries sets the connect attempt ceiling. Values below 1 are treated as 1.
func WithRetries(n int) Option {
	return func(c *Conn) {
		if n < 1 {
			n = 1
		}
		c.retries = n
	}
}

// WithRetryPause sets a pause between connect attempts. The default is no pause, so retries spin.
func WithRetryPause(d time.Duration) Option {
	return func(c *Conn) {
		c.pause = d
	}
}

// Dial connects to the runner listening on path, retrying up to the configured ceiling.
func Dial(path string, opts ...Option) (*Conn, error) {
	c := &Conn{
		log:     zap.NewNop().Sugar(),
		addr:    &net.UnixAddr{Name: path, Net: "unix"},
		retries: DefaultRetries,
	}
	for _, o := range opts {
		o(c)
	}
	conn, attempts, err := c.dial()
	if err != nil {
		return nil, fmt.Errorf("%w: %s after %d attempts: %s", ErrConnect, path, attempts, err)
	}
	c.log.Debugw("connected", "Path", path, "Attempts", attempts)
	c.conn = conn
	return c, nil
}

func (c *Conn) dial() (*net.UnixConn, int, error) {
	var lastErr error
	for attempt := 1; attempt <= c.retries; attempt++ {
		conn, err := net.DialUnix("unix", nil, c.addr)
		if err == nil {
			return conn, attempt, nil
		}
		lastErr = err
		if c.pause > 0 {
			time.Sleep(c.pause)
		}
	}
	return nil, c.retries, lastErr
}

func (c *Conn) Path() string { return c.addr.Name }

// Reconnects returns how many times the connection was recreated after an ACK.
func (c *Conn) Reconnects() int { return c.reconnects }

// Send writes cmd as one frame and half-closes the write direction so the runner sees the end of the message.
func (c *Conn) Send(cmd string) error {
	if c.conn == nil {
		return fmt.Errorf("%w: %q: %s", ErrSend, cmd, ErrClosed)
	}
	c.log.Debugw("send", "Command", cmd)
	if err := protocol.WriteFrame(c.conn, cmd); err != nil {
		if errors.Is(err, protocol.ErrInvalidCommand) {
			return err
		}
		return fmt.Errorf("%w: %q: %s", ErrSend, cmd, err)
	}
	if err := c.conn.CloseWrite(); err != nil {
		return fmt.Errorf("%w: half-closing after %q: %s", ErrSend, cmd, err)
	}
	return nil
}

// Recv blocks until the runner sends a frame.
// A frame too large for the buffer returns an error wrapping protocol.ErrProtocolOverflow after the rest of it has been discarded,
// so the connection stays usable. A peer that closes without sending returns ErrRecv.
func (c *Conn) Recv() (string, error) {
	if c.conn == nil {
		return "", fmt.Errorf("%w: %s", ErrRecv, ErrClosed)
	}
	msg, err := protocol.ReadFrame(c.conn)
	if err != nil {
		if errors.Is(err, protocol.ErrProtocolOverflow) {
			c.log.Debugw("discarding oversized frame", "Discarded", c.discard())
			return "", err
		}
		return "", fmt.Errorf("%w: %s", ErrRecv, err)
	}
	c.log.Debugw("recv", "Command", msg)
	return msg, nil
}

// discard reads whatever is left of the current frame. The runner does not half-close, so the end of the frame is a pause.
func (c *Conn) discard() int {
	var (
		buf [protocol.MaxCommandSize]byte
		n   int
	)
	defer func() { _ = c.conn.SetReadDeadline(time.Time{}) }()
	for {
		if err := c.conn.SetReadDeadline(time.Now().Add(drainWait)); err != nil {
			return n
		}
		m, err := c.conn.Read(buf[:])
		n += m
		if err != nil {
			return n
		}
	}
}

// Reconnect drops the current connection and dials a new one.
// Closing and redialing is the only reliable way found to flush an ACK through the socket on every platform, so it is done after every ACK the runner sends.
func (c *Conn) Reconnect() error {
	if c.conn != nil {
		_ = c.conn.CloseRead()
		_ = c.conn.Close()
		c.conn = nil
	}
	conn, attempts, err := c.dial()
	if err != nil {
		return fmt.Errorf("%w: %s after %d attempts: %s", ErrReconnectExhausted, c.addr.Name, attempts, err)
	}
	c.conn = conn
	c.reconnects++
	c.log.Debugw("reconnected", "Attempts", attempts, "Reconnects", c.reconnects)
	return nil
}

// Close closes the connection. Subsequent sends and receives fail with ErrClosed.
func (c *Conn) Close() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// Closed reports whether the connection has been closed.
func (c *Conn) Closed() bool { return c.conn == nil }
