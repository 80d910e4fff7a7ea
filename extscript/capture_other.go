//go:build !linux

package extscript

import (
	"errors"
	"os"
)

var errStdoutRedirect = errors.New("stdout redirection is only supported on linux")

func redirectStdout(f *os.File) (int, error) {
	return -1, errStdoutRedirect
}

func restoreStdout(saved int) error {
	return errStdoutRedirect
}
