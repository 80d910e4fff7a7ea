package host

import (
	"context"
	"fmt"
	"strings"
)

func builtins() []Command {
	return []Command{
		{
			Name: "help",
			Func: help,
			Help: Help{
				Summary:  "get help",
				Synopsis: "[command]",
				Description: []string{
					"With no argument, lists the available commands.",
					"With a command name, shows that command's help.",
				},
			},
		},
		{
			Name: "echo",
			Func: echo,
			Help: Help{
				Summary:     "echo the arguments",
				Synopsis:    "[arg ...]",
				Description: []string{"Writes its arguments, separated by spaces, to the output."},
			},
		},
		{
			Name: "sys",
			Func: sys,
			Help: Help{
				Summary:     "system data",
				Synopsis:    "",
				Description: []string{"Displays the path of the loaded image."},
			},
		},
	}
}

func help(ctx context.Context, h *Host, args []string) error {
	if len(args) < 2 {
		h.Printf("Available commands:\n\n")
		for _, name := range h.Commands() {
			h.Printf("  %-12s %s\n", name, h.commands[name].Help.Summary)
		}
		return nil
	}
	for _, name := range args[1:] {
		c, ok := h.Lookup(name)
		if !ok {
			return fmt.Errorf("no help for %q: %w", name, ErrUnknownCommand)
		}
		h.Printf("%s", FormatHelp(c))
	}
	return nil
}

// FormatHelp renders a command's help blurb.
func FormatHelp(c *Command) string {
	var b strings.Builder
	fmt.Fprintf(&b, "NAME\n  %s - %s\n\n", c.Name, c.Help.Summary)
	fmt.Fprintf(&b, "SYNOPSIS\n  %s %s\n\n", c.Name, c.Help.Synopsis)
	if len(c.Help.Description) > 0 {
		b.WriteString("DESCRIPTION\n")
		for _, l := range c.Help.Description {
			fmt.Fprintf(&b, "  %s\n", l)
		}
	}
	return b.String()
}

func echo(ctx context.Context, h *Host, args []string) error {
	h.Printf("%s\n", strings.Join(args[1:], " "))
	return nil
}

func sys(ctx context.Context, h *Host, args []string) error {
	if h.imagePath == "" {
		return h.Fatalf("no image loaded")
	}
	h.Printf("  IMAGE: %s\n", h.imagePath)
	return nil
}
