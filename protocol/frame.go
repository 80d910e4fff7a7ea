package protocol

import (
	"bytes"
	"fmt"
	"io"
)

// WriteFrame writes msg as a single frame in one write.
func WriteFrame(w io.Writer, msg string) error {
	if err := ValidateCommand(msg); err != nil {
		return err
	}
	_, err := w.Write([]byte(msg))
	return err
}

// ReadFrame performs one read of at most MaxCommandSize bytes and returns its content up to the first NUL.
// A frame that fills the whole buffer has no room for its terminator and is reported as ErrProtocolOverflow.
func ReadFrame(r io.Reader) (string, error) {
	var buf [MaxCommandSize]byte
	for {
		n, err := r.Read(buf[:])
		if n == 0 {
			if err == nil {
				continue
			}
			return "", err
		}
		if n >= MaxCommandSize {
			return "", fmt.Errorf("%w: frame of %d or more bytes", ErrProtocolOverflow, MaxCommandSize)
		}
		b := buf[:n]
		if i := bytes.IndexByte(b, 0); i >= 0 {
			b = b[:i]
		}
		return string(b), nil
	}
}
