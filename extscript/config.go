package extscript

import (
	"errors"
	"fmt"

	"github.com/guseggert/extscript/protocol"
)

var (
	ErrScriptNotSet  = errors.New("script path is not set")
	ErrArgTooLong    = errors.New("arg too long")
	ErrTooManyArgs   = errors.New("too many args")
	ErrSessionActive = errors.New("a session is already active")
	ErrBind          = errors.New("extscript bind failed")
)

// Script is how the runner is started: File is looked up in $PATH, Args is its full argument vector, execlp style.
// For a perl runner that is File "perl" with Args "perl", "./runner.pl".
type Script struct {
	File string
	Args []string
}

// Validate checks the size limits runners may rely on. A Script that is not set yet is valid.
func (s Script) Validate() error {
	if len(s.File) > protocol.MaxArgSize-1 {
		return fmt.Errorf("%w: file is %d bytes, at most %d allowed", ErrArgTooLong, len(s.File), protocol.MaxArgSize-1)
	}
	if len(s.Args) > protocol.MaxArgs {
		return fmt.Errorf("%w: only %d args allowed", ErrTooManyArgs, protocol.MaxArgs)
	}
	for _, a := range s.Args {
		if len(a) > protocol.MaxArgSize-1 {
			return fmt.Errorf("%w: arg is %d bytes, at most %d allowed", ErrArgTooLong, len(a), protocol.MaxArgSize-1)
		}
	}
	return nil
}

// IsSet reports whether the script can be started.
func (s Script) IsSet() bool {
	return s.File != "" && len(s.Args) > 0 && s.Args[0] != ""
}
