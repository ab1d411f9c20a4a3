// Package gps reads NMEA sentences from a serial GPS module and keeps track of
// its latest position fix.
package gps

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/adrianmo/go-nmea"
	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
	"go.bug.st/serial"
	"golang.org/x/sync/errgroup"
)

// ErrNoFix is returned by Locate when no position fix arrives in time.
var ErrNoFix = errors.New("no GPS fix")

// ErrStopped is returned by Locate once the receiver has stopped reading.
var ErrStopped = errors.New("GPS receiver stopped")

// SetupCommands are the PMTK commands sent by Setup. They restrict output to
// GGA sentences at 1Hz and turn off antenna status reports.
var SetupCommands = []string{
	"PMTK314,0,0,0,1,0,0,0,0,0,0,0,0,0,0,0,0,0,0,0",
	"PMTK220,1000",
	"PGCMD,33,0",
}

// Fix is a position fix reported by the GPS module.
type Fix struct {
	Latitude   float64
	Longitude  float64
	Satellites int64
	// Received is when the fix was read from the module.
	Received time.Time
}

func (f Fix) String() string {
	return fmt.Sprintf("%.5f,%.5f", f.Latitude, f.Longitude)
}

// DefaultMaxAge is how old a fix may be for Locate to return it without
// waiting for the next one.
const DefaultMaxAge = 2 * time.Second

// Receiver reads NMEA sentences from a GPS module.
type Receiver struct {
	// MaxAge is the oldest fix Locate returns immediately.
	MaxAge time.Duration

	port   io.ReadWriteCloser
	clock  clockwork.Clock
	logger *slog.Logger

	mu      sync.Mutex
	fix     Fix
	hasFix  bool
	updated chan struct{} // closed and replaced on every fix
	done    chan struct{}
	once    sync.Once
}

// Open opens the GPS serial device.
func Open(device string, baud int, logger *slog.Logger) (*Receiver, error) {
	port, err := serial.Open(device, &serial.Mode{
		BaudRate: baud,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to open GPS serial port")
	}

	return NewReceiver(port, clockwork.NewRealClock(), logger), nil
}

// NewReceiver creates a receiver reading from an already opened port.
func NewReceiver(port io.ReadWriteCloser, clock clockwork.Clock, logger *slog.Logger) *Receiver {
	return &Receiver{
		MaxAge:  DefaultMaxAge,
		port:    port,
		clock:   clock,
		logger:  logger,
		updated: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Setup configures the GPS module.
func (r *Receiver) Setup(ctx context.Context) error {
	for _, body := range SetupCommands {
		if err := ctx.Err(); err != nil {
			return err
		}

		cmd := fmt.Sprintf("$%s*%s\r\n", body, nmea.Checksum(body))
		if _, err := io.WriteString(r.port, cmd); err != nil {
			return errors.Wrapf(err, "failed to send %q", body)
		}

		r.logger.Debug("sent GPS command", "command", strings.TrimSpace(cmd))
	}
	return nil
}

// Run reads sentences until ctx is canceled or the port fails. It closes the
// port when it returns.
func (r *Receiver) Run(ctx context.Context) error {
	defer r.once.Do(func() { close(r.done) })

	errg, ctx := errgroup.WithContext(ctx)
	errg.Go(func() error {
		<-ctx.Done()
		if err := r.port.Close(); err != nil {
			return errors.Wrap(err, "failed to close GPS serial port")
		}
		return ctx.Err()
	})
	errg.Go(func() error {
		return r.readSentences(ctx)
	})
	return errg.Wait()
}

func (r *Receiver) readSentences(ctx context.Context) error {
	scanner := bufio.NewScanner(r.port)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		s, err := nmea.Parse(line)
		if err != nil {
			r.logger.Debug(
				"ignoring malformed sentence",
				"sentence", line,
				"error", err)
			continue
		}

		gga, ok := s.(nmea.GGA)
		if !ok {
			continue
		}

		if gga.FixQuality == nmea.Invalid {
			r.logger.Debug("GPS has no fix yet", "satellites", gga.NumSatellites)
			continue
		}

		r.update(Fix{
			Latitude:   gga.Latitude,
			Longitude:  gga.Longitude,
			Satellites: gga.NumSatellites,
			Received:   r.clock.Now(),
		})
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrap(err, "failed to read GPS sentences")
	}
	return io.ErrUnexpectedEOF
}

func (r *Receiver) update(fix Fix) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.fix = fix
	r.hasFix = true

	close(r.updated)
	r.updated = make(chan struct{})
}

// Latest returns the latest fix, if any.
func (r *Receiver) Latest() (Fix, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.fix, r.hasFix
}

// Locate returns the latest fix if it is recent enough, or waits up to timeout
// for the next one. It returns ErrNoFix if none arrives in time.
func (r *Receiver) Locate(ctx context.Context, timeout time.Duration) (Fix, error) {
	r.mu.Lock()
	fix, fresh := r.fix, r.hasFix && r.clock.Since(r.fix.Received) <= r.MaxAge
	updated := r.updated
	r.mu.Unlock()

	if fresh {
		return fix, nil
	}

	timer := r.clock.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-updated:
		fix, _ = r.Latest()
		r.logger.Debug("got GPS fix", "fix", fix, "satellites", fix.Satellites)
		return fix, nil
	case <-timer.Chan():
		return Fix{}, ErrNoFix
	case <-r.done:
		return Fix{}, ErrStopped
	case <-ctx.Done():
		return Fix{}, ctx.Err()
	}
}
