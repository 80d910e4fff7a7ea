package extscript

import (
	"os"

	"go.uber.org/multierr"
	"golang.org/x/sys/unix"
)

func redirectStdout(f *os.File) (int, error) {
	_ = os.Stdout.Sync()
	saved, err := unix.Dup(unix.Stdout)
	if err != nil {
		return -1, err
	}
	if err := unix.Dup3(int(f.Fd()), unix.Stdout, 0); err != nil {
		_ = unix.Close(saved)
		return -1, err
	}
	return saved, nil
}

func restoreStdout(saved int) error {
	_ = os.Stdout.Sync()
	err := unix.Dup3(saved, unix.Stdout, 0)
	return multierr.Append(err, unix.Close(saved))
}
