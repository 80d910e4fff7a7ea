package protocol

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

const (
	// MaxCommandSize is the size of one frame including its terminating NUL, so a frame carries at most MaxCommandSize-1 bytes.
	MaxCommandSize = 100
	// MaxTokens is the capacity of a Buffer.
	MaxTokens = 50
	// MaxArgSize bounds the runner path and each runner argument, terminator included.
	MaxArgSize = 200
	// MaxArgs is the number of positional arguments the runner can be started with.
	MaxArgs = 2
)

const (
	// DefaultSocketPath is the well-known socket the runner listens on, relative to the working directory.
	DefaultSocketPath = "extscriptfcsocket"
	// DefaultCapturePath is the file that receives the output of each delegated command.
	DefaultCapturePath = "./command.out"

	// EnvSocketPath tells the runner where to listen.
	EnvSocketPath = "EXTSCRIPT_SOCKET"
	// EnvCapturePath tells the runner where delegated command output is written.
	EnvCapturePath = "EXTSCRIPT_CAPTURE"
)

// Protocol verbs. They are case-sensitive and matched by prefix.
const (
	Ack             = "ACK"
	ExecuteCommand  = "EXECUTECOMMAND"
	VmlinuxPath     = "VMLINUXPATH"
	Done            = "DONE"
	Shutdown        = "SHUTDOWN"
	Bypass          = "BYPASS"
	EndOfCommand    = "ENDOFCOMMAND"
	CommandExecuted = "COMMANDEXECUTED"
)

var (
	ErrProtocolOverflow = errors.New("protocol overflow")
	ErrInvalidCommand   = errors.New("invalid command")
)

// Match reports whether msg carries the given verb.
func Match(msg, verb string) bool {
	return strings.HasPrefix(msg, verb)
}

// ValidateCommand checks that cmd fits in one frame and has no embedded whitespace.
func ValidateCommand(cmd string) error {
	if len(cmd) > MaxCommandSize-1 {
		return fmt.Errorf("%w: %d bytes exceeds the %d byte frame", ErrInvalidCommand, len(cmd), MaxCommandSize-1)
	}
	if i := strings.IndexFunc(cmd, unicode.IsSpace); i >= 0 {
		return fmt.Errorf("%w: whitespace at offset %d in %q", ErrInvalidCommand, i, cmd)
	}
	if strings.IndexByte(cmd, 0) >= 0 {
		return fmt.Errorf("%w: embedded NUL in %q", ErrInvalidCommand, cmd)
	}
	return nil
}
