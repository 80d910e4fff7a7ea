package extscript

import (
	"fmt"
	"io"
	"os"
)

// capture is the file a delegated command's output goes to.
type capture struct {
	path string
	f    *os.File

	h           Host
	prevOut     io.Writer
	savedStdout int
}

// openCapture creates the capture file, truncating the previous command's output.
func openCapture(path string) (*capture, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening capture file: %w", err)
	}
	return &capture{path: path, f: f, savedStdout: -1}, nil
}

// redirect points the host output, and file descriptor 1 if stdout is set, at the capture file.
func (c *capture) redirect(h Host, stdout bool) error {
	if stdout {
		saved, err := redirectStdout(c.f)
		if err != nil {
			return fmt.Errorf("redirecting stdout: %w", err)
		}
		c.savedStdout = saved
	}
	c.h = h
	c.prevOut = h.SetOutput(c.f)
	return nil
}

// restore undoes redirect. It is a no-op the second time.
func (c *capture) restore() error {
	var err error
	if c.h != nil {
		c.h.SetOutput(c.prevOut)
		c.h = nil
	}
	if c.savedStdout >= 0 {
		err = restoreStdout(c.savedStdout)
		c.savedStdout = -1
	}
	return err
}

func (c *capture) close() error {
	if c.f == nil {
		return nil
	}
	err := c.f.Close()
	c.f = nil
	return err
}

func (c *capture) remove() error {
	if err := os.Remove(c.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
