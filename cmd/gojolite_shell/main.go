package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"go.uber.org/zap"

	"github.com/sushant-115/gojolite/core/engine"
	"github.com/sushant-115/gojolite/pkg/config"
	"github.com/sushant-115/gojolite/pkg/logger"
)

func loadConfig(configPath, conn string, args []string) (config.Config, []string, error) {
	switch {
	case configPath != "":
		cfg, err := config.Load(configPath)
		return cfg, args, err
	case conn != "":
		cfg, err := config.ParseConnectionString(conn)
		return cfg, args, err
	case len(args) > 0:
		cfg, err := config.ParseConnectionString(args[0])
		return cfg, args[1:], err
	}
	return config.Config{}, nil, errors.New("no data file given; pass a filename, -conn or -config")
}

func main() {
	configPath := flag.String("config", "", "YAML configuration file")
	conn := flag.String("conn", "", `connection string, e.g. "filename=app.db; journal=false"`)
	logLevel := flag.String("log-level", "", "log level of the engine (debug, info, warn, error)")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [-config file | -conn string | datafile] [command ...]\n", filepath.Base(os.Args[0]))
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg, rest, err := loadConfig(*configPath, *conn, flag.Args())
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		flag.Usage()
		os.Exit(2)
	}
	if *logLevel != "" {
		cfg.Logger.Level = *logLevel
		cfg.Logger.Disabled = false
	}
	if cfg.Logger.Format == "" {
		cfg.Logger.Format = "console"
	}
	if cfg.Logger.OutputFile == "" {
		cfg.Logger.OutputFile = "stderr"
	}
	cfg.Logger.Service = "gojolite_shell"

	log, err := logger.New(cfg.Logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	db, err := engine.Open(ctx, cfg, engine.WithLogger(log))
	if err != nil {
		log.Error("failed to open data file", zap.String("file", cfg.Filename), zap.Error(err))
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
	defer func() {
		if err := db.Close(); err != nil {
			fmt.Fprintln(os.Stderr, "Error closing data file:", err)
		}
	}()

	sh := &shell{db: db, out: os.Stdout}
	if len(rest) > 0 {
		if err := sh.exec(ctx, strings.Join(rest, " ")); err != nil && !errors.Is(err, errExit) {
			fmt.Fprintln(os.Stderr, "Error:", err)
			os.Exit(1)
		}
		return
	}
	if err := interactive(ctx, sh, cfg.Filename); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
}

func interactive(ctx context.Context, sh *shell, filename string) error {
	home, _ := os.UserHomeDir()
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "gojolite> ",
		HistoryFile:     filepath.Join(home, ".gojolite_history"),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return err
	}
	defer rl.Close()

	fmt.Fprintf(sh.out, "gojolite shell on %s. Type 'help' for commands, 'exit' to leave.\n", filename)
	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				return nil
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		if err := sh.exec(ctx, line); err != nil {
			if errors.Is(err, errExit) {
				return nil
			}
			fmt.Fprintln(sh.out, "Error:", err)
		}
	}
}
