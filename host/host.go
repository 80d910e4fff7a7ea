package host

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"go.uber.org/zap"
)

var (
	ErrUnknownCommand   = errors.New("command not found")
	ErrDuplicateCommand = errors.New("command already registered")
)

// Func implements a host command. args[0] is the command name.
// A command that hits an unrecoverable error returns h.Fatal(err), which hands the error to the current continuation.
type Func func(ctx context.Context, h *Host, args []string) error

// Help is the blurb shown by the help command.
type Help struct {
	Summary     string
	Synopsis    string
	Description []string
}

type Command struct {
	Name string
	Func Func
	Help Help
}

// Host is a minimal command-driven analysis tool: a command table, one active output stream, and an abort continuation.
// It is single-threaded; callers that share a Host across goroutines must serialize access.
type Host struct {
	log       *zap.SugaredLogger
	out       io.Writer
	cont      Continuation
	imagePath string
	commands  map[string]*Command
}

type Option func(h *Host)

func WithLogger(l *zap.Logger) Option {
	return func(h *Host) {
		h.log = l.Named("host").Sugar()
	}
}

func WithOutput(w io.Writer) Option {
	return func(h *Host) {
		h.out = w
	}
}

// WithImagePath sets the path of the image the host has loaded, handed to runners that ask for it.
func WithImagePath(p string) Option {
	return func(h *Host) {
		h.imagePath = p
	}
}

func WithContinuation(c Continuation) Option {
	return func(h *Host) {
		h.cont = c
	}
}

// New builds a Host with the builtin commands registered.
func New(opts ...Option) *Host {
	h := &Host{
		log:      zap.NewNop().Sugar(),
		out:      os.Stdout,
		commands: map[string]*Command{},
	}
	for _, o := range opts {
		o(h)
	}
	if h.cont == nil {
		h.cont = TopLevel(h)
	}
	for _, c := range builtins() {
		if err := h.Register(c); err != nil {
			panic(err)
		}
	}
	return h
}

// Register adds commands to the command table.
func (h *Host) Register(cmds ...Command) error {
	for _, c := range cmds {
		if _, ok := h.commands[c.Name]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateCommand, c.Name)
		}
		c := c
		h.commands[c.Name] = &c
	}
	return nil
}

func (h *Host) Lookup(name string) (*Command, bool) {
	c, ok := h.commands[name]
	return c, ok
}

// Commands returns the registered command names in sorted order.
func (h *Host) Commands() []string {
	var names []string
	for name := range h.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (h *Host) ImagePath() string { return h.imagePath }

// Output returns the stream commands currently write to.
func (h *Host) Output() io.Writer { return h.out }

// SetOutput replaces the output stream and returns the previous one.
func (h *Host) SetOutput(w io.Writer) io.Writer {
	prev := h.out
	h.out = w
	return prev
}

func (h *Host) Printf(format string, args ...any) {
	fmt.Fprintf(h.out, format, args...)
}

// Exec runs one command line. An empty line does nothing.
// Errors other than aborts are reported on the output stream before being returned.
// A panicking command is treated like one that called Fatal.
func (h *Host) Exec(ctx context.Context, args []string) (err error) {
	if len(args) == 0 {
		return nil
	}
	cmd, ok := h.commands[args[0]]
	if !ok {
		h.Printf("%s: %s\n", args[0], ErrUnknownCommand)
		return fmt.Errorf("%w: %s", ErrUnknownCommand, args[0])
	}

	defer func() {
		if r := recover(); r != nil {
			h.log.Debugw("command panicked", "Command", args[0], "Panic", r)
			err = h.Fatal(fmt.Errorf("%s: panic: %v", args[0], r))
		}
	}()

	h.log.Debugw("executing", "Args", args)
	err = cmd.Func(ctx, h, args)
	if err != nil && !IsAbort(err) {
		h.Printf("%s: %s\n", args[0], err)
	}
	return err
}
