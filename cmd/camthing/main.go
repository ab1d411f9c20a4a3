package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/spf13/pflag"
	"libdb.so/camthing"
)

// restartExitCode tells the process supervisor that the device failed and
// should be restarted.
const restartExitCode = 3

var (
	config  = "camthing.toml"
	verbose = false
	dryRun  = false
)

func init() {
	pflag.StringVarP(&config, "config", "c", config, "configuration file")
	pflag.BoolVarP(&verbose, "verbose", "v", verbose, "verbose output")
	pflag.BoolVar(&dryRun, "dry-run", dryRun, "log the status LED and read button presses from stdin")
}

func main() {
	pflag.Parse()

	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}

	logger := slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      logLevel,
		TimeFormat: "15:04:05.000",
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
	}))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		if errors.Is(err, camthing.ErrRestart) {
			logger.Error("device needs a restart", "error", err)
			os.Exit(restartExitCode)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	cfg, err := readConfig()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	hw, err := openHardware(cfg, logger)
	if err != nil {
		return err
	}
	defer hw.Close()

	d, err := camthing.NewDevice(cfg, hw.status, hw.collaborators, logger)
	if err != nil {
		return fmt.Errorf("failed to create device: %w", err)
	}

	if err := d.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("device failed: %w", err)
	}

	return nil
}

func readConfig() (*camthing.Config, error) {
	f, err := os.Open(config)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	cfg, err := camthing.ParseConfig(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if dryRun {
		cfg.LED.Driver = camthing.NoDriver
	}

	return cfg, nil
}
