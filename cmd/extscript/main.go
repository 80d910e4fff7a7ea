package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/chzyer/readline"
	"github.com/guseggert/extscript/console"
	"github.com/guseggert/extscript/extscript"
	"github.com/guseggert/extscript/host"
	"github.com/guseggert/extscript/internal/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"
)

func main() {
	app := &cli.App{
		Name:  "extscript",
		Usage: "a small command host that external scripts can drive",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "Config file to load. By default extscript.yaml or extscript.toml is looked up from the working directory.",
			},
			&cli.StringFlag{
				Name:  "image",
				Usage: "Image path handed to runners.",
			},
			&cli.StringFlag{
				Name:  "listen",
				Usage: "Address for the HTTP console to listen on. Empty disables it.",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "One of [debug,info,warn,error].",
				Value: "info",
			},
			&cli.StringSliceFlag{
				Name:    "command",
				Aliases: []string{"c"},
				Usage:   "Command line to run before the prompt, may be repeated.",
			},
			&cli.BoolFlag{
				Name:  "batch",
				Usage: "Exit after running the commands instead of starting the prompt.",
			},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(cctx *cli.Context) error {
	ctx := cctx.Context

	cfg, err := loadConfig(cctx.String("config"))
	if err != nil {
		return err
	}
	if cctx.IsSet("image") {
		cfg.Image = cctx.String("image")
	}
	if cctx.IsSet("listen") {
		cfg.Listen = cctx.String("listen")
	}
	if cctx.IsSet("log-level") || cfg.LogLevel == "" {
		cfg.LogLevel = cctx.String("log-level")
	}
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("parsing log level: %w", err)
	}

	logger, err := zap.NewDevelopment(zap.IncreaseLevel(level))
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	defer logger.Sync()

	h := host.New(
		host.WithOutput(os.Stdout),
		host.WithImagePath(cfg.Image),
		host.WithLogger(logger),
	)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	opts := []extscript.Option{
		extscript.WithLogger(logger),
		extscript.WithRegisterer(reg),
		extscript.WithRedirectStdout(cfg.RedirectStdout),
	}
	if cfg.Socket != "" {
		opts = append(opts, extscript.WithSocketPath(cfg.Socket))
	}
	if cfg.Capture != "" {
		opts = append(opts, extscript.WithCapturePath(cfg.Capture))
	}
	if cfg.StartupDelay > 0 {
		opts = append(opts, extscript.WithStartupDelay(cfg.StartupDelay))
	}
	if cfg.Retries > 0 {
		opts = append(opts, extscript.WithRetries(cfg.Retries))
	}
	if cfg.RetryPause > 0 {
		opts = append(opts, extscript.WithRetryPause(cfg.RetryPause))
	}
	ctrl, err := extscript.New(h, opts...)
	if err != nil {
		return fmt.Errorf("building controller: %w", err)
	}
	if err := ctrl.Configure(extscript.Script{File: cfg.Script.File, Args: cfg.Script.Args}); err != nil {
		return fmt.Errorf("configuring script: %w", err)
	}
	if err := h.Register(ctrl.Command()); err != nil {
		return err
	}

	srv, err := console.NewServer(h,
		console.WithLogger(logger),
		console.WithListenAddr(cfg.Listen),
		console.WithCapturePath(ctrl.CapturePath()),
		console.WithGatherer(reg),
	)
	if err != nil {
		return fmt.Errorf("building console: %w", err)
	}
	if cfg.Listen != "" {
		go func() {
			if err := srv.Run(); err != nil {
				logger.Sugar().Errorw("console stopped", "Error", err)
			}
		}()
		defer srv.Stop()
	}

	commands := append(cfg.Commands, cctx.StringSlice("command")...)
	for _, line := range commands {
		execLine(ctx, srv, line)
	}
	if cctx.Bool("batch") {
		return nil
	}
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return readCommands(ctx, srv, os.Stdin)
	}
	return prompt(ctx, srv, h)
}

// readCommands runs the command lines piped to the host.
func readCommands(ctx context.Context, srv *console.Server, r io.Reader) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		execLine(ctx, srv, scanner.Text())
	}
	return scanner.Err()
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	wd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("getting working dir: %w", err)
	}
	cfg, _, err := config.Find(wd)
	return cfg, err
}

// execLine runs one command line. The host reports command errors itself.
func execLine(ctx context.Context, srv *console.Server, line string) {
	args := strings.Fields(line)
	if len(args) == 0 {
		return
	}
	srv.Exec(ctx, os.Stdout, args)
}

func prompt(ctx context.Context, srv *console.Server, h *host.Host) error {
	items := make([]readline.PrefixCompleterInterface, 0, len(h.Commands()))
	for _, name := range h.Commands() {
		items = append(items, readline.PcItem(name))
	}
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "extscript> ",
		HistoryFile:     os.ExpandEnv("$HOME/.extscript_history"),
		AutoComplete:    readline.NewPrefixCompleter(items...),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("starting prompt: %w", err)
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		switch strings.TrimSpace(line) {
		case "exit", "quit":
			return nil
		}
		execLine(ctx, srv, line)
	}
}
