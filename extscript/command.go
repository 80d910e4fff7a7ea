package extscript

import (
	"context"
	"fmt"

	"github.com/guseggert/extscript/host"
	"github.com/urfave/cli/v2"
)

// CommandName is the name the controller registers itself under in the host.
const CommandName = "extscript"

var commandHelp = host.Help{
	Summary:  "Execute external scripts from the host",
	Synopsis: "[-b arg] [-f file] [-a arg]",
	Description: []string{
		"This command can be used to talk to an external script.",
		"  -b : start a session and bypass arg to the external script.",
		"  -f : set the execlp style \"file\" arg for script execution.",
		"  -a : set the execlp style \"arg\" for script execution, at most twice.",
		"",
		"EXAMPLE",
		"First the script details have to be set. For a perl script named runner.pl",
		"in the current directory:",
		"  extscript -f perl -a perl -a ./runner.pl",
		"After this, commands specific to the external script can be issued with -b.",
		"To get the set of commands supported by the external script:",
		"  extscript -b help",
	},
}

// Command returns the host command that configures the controller and starts sessions.
// Without -b it only records the configuration.
func (c *Controller) Command() host.Command {
	return host.Command{
		Name: CommandName,
		Help: commandHelp,
		Func: func(ctx context.Context, h *host.Host, args []string) error {
			return c.runCommand(ctx, args)
		},
	}
}

func (c *Controller) runCommand(ctx context.Context, args []string) error {
	out := c.host.Output()
	app := &cli.App{
		Name:                      CommandName,
		Usage:                     commandHelp.Summary,
		HideHelpCommand:           true,
		HideVersion:               true,
		DisableSliceFlagSeparator: true,
		Writer:                    out,
		ErrWriter:                 out,
		ExitErrHandler:            func(*cli.Context, error) {},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "file",
				Aliases: []string{"f"},
				Usage:   "The runner executable, looked up in $PATH.",
			},
			&cli.StringSliceFlag{
				Name:    "arg",
				Aliases: []string{"a"},
				Usage:   "A runner argument, the first one being its argv[0]. Replaces previously set args.",
			},
			&cli.StringFlag{
				Name:    "bypass",
				Aliases: []string{"b"},
				Usage:   "Start a session and forward this directive to the runner.",
			},
		},
		Action: func(cctx *cli.Context) error {
			if cctx.NArg() > 0 {
				return fmt.Errorf("unexpected arguments %q", cctx.Args().Slice())
			}
			script := c.Script()
			if cctx.IsSet("file") {
				script.File = cctx.String("file")
			}
			if cctx.IsSet("arg") {
				script.Args = cctx.StringSlice("arg")
			}
			if err := c.Configure(script); err != nil {
				return err
			}
			if !cctx.IsSet("bypass") {
				return nil
			}

			res, err := c.Run(ctx, cctx.String("bypass"))
			if res != nil {
				c.log.Debugw("session finished",
					"Session", res.SessionID,
					"Pid", res.Pid,
					"ExitCode", res.ExitCode,
					"Commands", res.Commands,
					"Overflows", res.Overflows,
					"Reconnects", res.Reconnects,
					"Aborted", res.Aborted,
				)
			}
			return err
		},
	}
	return app.RunContext(ctx, args)
}
