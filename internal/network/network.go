// Package network brings up the device's uplink and checks that the report
// service is reachable over it.
package network

import (
	"context"
	"log/slog"
	"net"
	"os/exec"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
)

// ErrUnreachable is returned when the probe address could not be reached
// after every attempt.
var ErrUnreachable = errors.New("network unreachable")

// Dialer dials the probe address.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Config describes how to bring up and probe the network.
type Config struct {
	// LinkCommand is run at the start of every attempt to bring the link up.
	// It may be empty if the OS manages the link.
	LinkCommand []string
	// Address is the host:port dialed over TCP to check connectivity.
	Address string
	// Attempts is how many times the link command is run.
	Attempts int
	// Trials is how many times the address is dialed per attempt.
	Trials int
	// TrialInterval is the wait between failed trials.
	TrialInterval time.Duration
	// DialTimeout bounds each dial.
	DialTimeout time.Duration
}

// Network connects the device to the internet.
type Network struct {
	cfg    Config
	dialer Dialer
	clock  clockwork.Clock
	logger *slog.Logger
}

// New creates a network with the given config. A nil dialer uses net.Dialer
// and a nil clock uses the real clock.
func New(cfg Config, dialer Dialer, clock clockwork.Clock, logger *slog.Logger) *Network {
	if dialer == nil {
		dialer = &net.Dialer{}
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if cfg.Attempts < 1 {
		cfg.Attempts = 1
	}
	if cfg.Trials < 1 {
		cfg.Trials = 1
	}
	return &Network{
		cfg:    cfg,
		dialer: dialer,
		clock:  clock,
		logger: logger,
	}
}

// Connect brings up the link and waits until the probe address is reachable.
func (n *Network) Connect(ctx context.Context) error {
	for attempt := 1; attempt <= n.cfg.Attempts; attempt++ {
		logger := n.logger.With("attempt", attempt)

		if len(n.cfg.LinkCommand) > 0 {
			out, err := exec.CommandContext(ctx, n.cfg.LinkCommand[0], n.cfg.LinkCommand[1:]...).CombinedOutput()
			if err != nil {
				logger.Warn(
					"link command failed",
					"output", string(out),
					"error", err)
			}
		}

		for trial := 1; trial <= n.cfg.Trials; trial++ {
			err := n.probe(ctx)
			if err == nil {
				logger.Info("network is up", "trial", trial)
				return nil
			}

			if ctx.Err() != nil {
				return ctx.Err()
			}

			logger.Debug(
				"network probe failed",
				"trial", trial,
				"error", err)

			if err := n.sleep(ctx, n.cfg.TrialInterval); err != nil {
				return err
			}
		}
	}

	return errors.Wrapf(ErrUnreachable, "%s after %d attempts", n.cfg.Address, n.cfg.Attempts)
}

func (n *Network) probe(ctx context.Context) error {
	if n.cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.cfg.DialTimeout)
		defer cancel()
	}

	conn, err := n.dialer.DialContext(ctx, "tcp", n.cfg.Address)
	if err != nil {
		return err
	}
	return conn.Close()
}

func (n *Network) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	timer := n.clock.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.Chan():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
