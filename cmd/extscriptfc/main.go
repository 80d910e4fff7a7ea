package main

import (
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/guseggert/extscript/peer"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

// An example runner. Start it from the host with
//
//	extscript -f extscriptfc -a extscriptfc
//	extscript -b help
//
// The bypass directive selects what it does; arguments are separated by commas since directives cannot contain spaces.
func main() {
	app := &cli.App{
		Name:  "extscriptfc",
		Usage: "example extscript runner",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "socket",
				Usage: "Socket to listen on. Defaults to $EXTSCRIPT_SOCKET, then to the well-known socket name.",
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Log the protocol exchange.",
			},
		},
		Action: func(cctx *cli.Context) error {
			logger := zap.NewNop()
			if cctx.Bool("debug") {
				l, err := zap.NewDevelopment()
				if err != nil {
					return fmt.Errorf("building logger: %w", err)
				}
				logger = l
			}

			r, err := peer.Listen(cctx.String("socket"), peer.WithLogger(logger))
			if err != nil {
				return err
			}
			defer r.Close()

			directive, err := r.ReadBypass()
			if err != nil {
				return fmt.Errorf("reading directive: %w", err)
			}
			if err := serve(r, directive); err != nil {
				fmt.Printf("extscriptfc: %s\n", err)
			}

			if err := r.Done(); err != nil {
				return err
			}
			return r.AwaitShutdown()
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

var directives = []struct {
	name  string
	usage string
}{
	{"help", "list the directives"},
	{"image", "print the image path the host has loaded"},
	{"exec,CMD[,ARG...]", "run a host command and print its output"},
	{"helpall", "print the host help for every host command"},
}

func serve(r *peer.Runner, directive string) error {
	fields := strings.Split(directive, ",")
	switch fields[0] {
	case "help":
		fmt.Println("extscriptfc directives, given with extscript -b:")
		for _, d := range directives {
			fmt.Printf("  %-20s %s\n", d.name, d.usage)
		}
		return nil
	case "image":
		p, err := r.ImagePath()
		if err != nil {
			return err
		}
		fmt.Printf("image: %s\n", p)
		return nil
	case "exec":
		if len(fields) < 2 {
			return fmt.Errorf("exec needs a command")
		}
		return execute(r, fields[1:]...)
	case "helpall":
		// the host lists its commands on the first lines after a header
		if err := r.Execute("help"); err != nil {
			return err
		}
		out, err := peer.ReadCapture()
		if err != nil {
			return err
		}
		for _, line := range strings.Split(out, "\n") {
			f := strings.Fields(line)
			if len(f) < 2 || strings.HasSuffix(line, ":") {
				continue
			}
			if err := execute(r, "help", f[0]); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown directive %q, try help", fields[0])
	}
}

func execute(r *peer.Runner, args ...string) error {
	if err := r.Execute(args...); err != nil {
		return err
	}
	out, err := peer.ReadCapture()
	if err != nil {
		return err
	}
	fmt.Print(out)
	return nil
}
