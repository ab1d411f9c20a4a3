// Package camthing is the control loop of a camera that uploads a photo of
// whatever it is pointed at every time its button is pressed, and tells its
// user how it is going with a single status LED.
package camthing

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"libdb.so/camthing/led"
)

// ErrRestart is returned by Device.Run when the device has failed in a way
// that needs a restart. The process supervisor is expected to restart it.
var ErrRestart = errors.New("device needs a restart")

// State is the state of the control loop.
type State int

const (
	Idle State = iota
	Capturing
	Locating
	Uploading
	Reporting
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Capturing:
		return "capturing"
	case Locating:
		return "locating"
	case Uploading:
		return "uploading"
	case Reporting:
		return "reporting"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Location is a geographic position attached to a report.
type Location struct {
	Latitude  float64
	Longitude float64
}

func (l Location) String() string {
	return fmt.Sprintf("%.5f,%.5f", l.Latitude, l.Longitude)
}

// Camera takes photos.
type Camera interface {
	// Setup prepares the camera. It is called once before the first capture.
	Setup(ctx context.Context) error
	// Capture takes a photo and returns it as JPEG data.
	Capture(ctx context.Context) ([]byte, error)
}

// Locator finds the device's location.
type Locator interface {
	// Setup prepares the locator. It is called once on startup.
	Setup(ctx context.Context) error
	// Locate returns the current location. It returns false if no location
	// could be found within timeout. Errors are reserved for hardware
	// failures.
	Locate(ctx context.Context, timeout time.Duration) (Location, bool, error)
}

// Uploader sends photos to the report service.
type Uploader interface {
	// Health checks that the service is reachable.
	Health(ctx context.Context) error
	// Upload sends the photo and returns the URL of the created report.
	Upload(ctx context.Context, timeout time.Duration, image []byte, loc *Location) (string, error)
}

// Network brings up the uplink.
type Network interface {
	// Connect blocks until the uplink is usable or has failed.
	Connect(ctx context.Context) error
}

// Button is the shutter button.
type Button interface {
	// Pressed returns whether the button is currently held down.
	Pressed() bool
}

// Runner is a background service that runs for as long as the device.
type Runner interface {
	Run(ctx context.Context) error
}

// Collaborators are the parts of the device that the control loop drives.
type Collaborators struct {
	Camera   Camera
	Uploader Uploader
	Network  Network
	Button   Button
	// Locator is optional. Photos are uploaded without a location if it is
	// nil.
	Locator Locator
	// Background services are run alongside the control loop. Any of them
	// failing stops the device.
	Background []Runner
}

// Device is the camera thing.
type Device struct {
	cfg    *Config
	status *led.LED
	c      Collaborators
	clock  clockwork.Clock
	logger *slog.Logger

	mu    sync.Mutex
	state State
}

// NewDevice creates a new device. The status LED is driven according to the
// modes in cfg.
func NewDevice(cfg *Config, status *led.LED, c Collaborators, logger *slog.Logger) (*Device, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}

	switch {
	case c.Camera == nil:
		return nil, errors.New("missing camera")
	case c.Uploader == nil:
		return nil, errors.New("missing uploader")
	case c.Network == nil:
		return nil, errors.New("missing network")
	case c.Button == nil:
		return nil, errors.New("missing button")
	}

	return &Device{
		cfg:    cfg,
		status: status,
		c:      c,
		clock:  clockwork.NewRealClock(),
		logger: logger,
	}, nil
}

// State returns the current state of the control loop.
func (d *Device) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.state
}

func (d *Device) setState(s State) {
	d.mu.Lock()
	prev := d.state
	d.state = s
	d.mu.Unlock()

	if prev != s {
		d.logger.Debug("state changed", "from", prev, "to", s)
	}
}

// Run sets up the device and takes photos until ctx is canceled. It returns
// ErrRestart if the device has failed and needs a restart. The status LED is
// turned off when Run returns.
func (d *Device) Run(ctx context.Context) error {
	defer d.status.Off()

	errg, ctx := errgroup.WithContext(ctx)
	for _, r := range d.c.Background {
		r := r
		errg.Go(func() error {
			return r.Run(ctx)
		})
	}
	errg.Go(func() error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-d.status.Engine().Faults():
			d.logger.Error("status LED stopped working", "error", err)
			return errors.Wrapf(ErrRestart, "status LED failed: %v", err)
		}
	})
	errg.Go(func() error {
		if err := d.setup(ctx); err != nil {
			return err
		}
		return d.mainLoop(ctx)
	})

	return errg.Wait()
}

func (d *Device) setup(ctx context.Context) error {
	d.show(ModeBoot)

	d.logger.Debug("setting up camera")
	if err := d.c.Camera.Setup(ctx); err != nil {
		return d.fail(ctx, ModeHardwareFailure, "failed to set up camera", err)
	}

	if d.c.Locator != nil {
		d.logger.Debug("setting up GPS")
		if err := d.c.Locator.Setup(ctx); err != nil {
			return d.fail(ctx, ModeHardwareFailure, "failed to set up GPS", err)
		}
	}

	d.logger.Debug("connecting to the network")
	if err := d.c.Network.Connect(ctx); err != nil {
		return d.fail(ctx, ModeNetworkFailure, "failed to connect to the network", err)
	}

	if err := d.health(ctx); err != nil {
		return d.fail(ctx, ModeNetworkFailure, "report service is not healthy", err)
	}

	d.status.Off()
	d.setState(Idle)
	d.logger.Info("ready to take photos")

	return nil
}

func (d *Device) mainLoop(ctx context.Context) error {
	poll := d.clock.NewTicker(time.Duration(d.cfg.Button.PollInterval))
	defer poll.Stop()

	var pressed bool

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-poll.Chan():
		}

		wasPressed := pressed
		pressed = d.c.Button.Pressed()

		if pressed == wasPressed {
			continue
		}

		if !pressed {
			d.logger.Debug("button released")
			continue
		}

		d.logger.Info("button pressed, taking a photo")

		if err := d.cycle(ctx); err != nil {
			return err
		}

		if err := d.waitRelease(ctx, poll); err != nil {
			return err
		}
		pressed = false
	}
}

// waitRelease shows the busy mode while the button is still held after a
// cycle.
func (d *Device) waitRelease(ctx context.Context, poll clockwork.Ticker) error {
	if !d.c.Button.Pressed() {
		return nil
	}

	d.logger.Debug("button still held, waiting for release")
	d.show(ModeBusy)
	defer d.status.Off()

	for d.c.Button.Pressed() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-poll.Chan():
		}
	}

	return nil
}

// cycle takes, locates and uploads a single photo.
func (d *Device) cycle(ctx context.Context) error {
	defer d.setState(Idle)

	d.setState(Capturing)
	d.show(ModeCapture)

	img, err := d.c.Camera.Capture(ctx)
	if err != nil {
		return d.fail(ctx, ModeHardwareFailure, "failed to take photo", err)
	}

	d.logger.Info("took photo", "bytes", len(img))

	var loc *Location
	if d.c.Locator != nil {
		d.setState(Locating)
		d.show(ModeLocating)

		l, ok, err := d.c.Locator.Locate(ctx, time.Duration(d.cfg.GPS.Timeout))
		if err != nil {
			return d.fail(ctx, ModeHardwareFailure, "failed to locate", err)
		}

		if ok {
			d.logger.Info("located photo", "location", l)
			loc = &l
		} else {
			d.logger.Warn("no location found, uploading without one")
		}
	}

	d.setState(Uploading)
	d.show(ModeUploading)

	url, err := d.upload(ctx, img, loc)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		d.logger.Error("failed to upload photo", "error", err)

		d.show(ModeNetworkFailure)
		if err := d.sleep(ctx, time.Duration(d.cfg.Policy.Cooldown)); err != nil {
			return err
		}

		if d.cfg.Policy.OnUploadFailure == RestartOnFailure {
			return errors.Wrapf(ErrRestart, "failed to upload photo: %v", err)
		}

		d.status.Off()
		return nil
	}

	d.setState(Reporting)
	d.logger.Info("uploaded photo", "url", url)

	d.show(ModeSuccess)
	if err := d.sleep(ctx, time.Duration(d.cfg.Policy.ReportDuration)); err != nil {
		return err
	}
	d.status.Off()

	return nil
}

// health checks the report service within the upload timeout.
func (d *Device) health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, time.Duration(d.cfg.Upload.Timeout))
	defer cancel()

	return d.c.Uploader.Health(ctx)
}

// upload checks the report service and uploads the photo. The whole step is
// bounded by the upload timeout.
func (d *Device) upload(ctx context.Context, img []byte, loc *Location) (string, error) {
	timeout := time.Duration(d.cfg.Upload.Timeout)

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := d.c.Uploader.Health(ctx); err != nil {
		return "", errors.Wrap(err, "report service is not healthy")
	}

	return d.c.Uploader.Upload(ctx, timeout, img, loc)
}

// fail shows the failure mode for the cooldown and returns ErrRestart. If ctx
// is already done, its error is returned instead.
func (d *Device) fail(ctx context.Context, mode Mode, msg string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	d.logger.Error(msg, "mode", mode, "error", err)

	d.show(mode)
	if err := d.sleep(ctx, time.Duration(d.cfg.Policy.Cooldown)); err != nil {
		return err
	}

	return errors.Wrapf(ErrRestart, "%s: %v", msg, err)
}

func (d *Device) show(mode Mode) {
	m := d.cfg.Modes.Get(mode)
	d.logger.Debug("showing LED mode", "mode", mode, "pattern", m)
	m.Apply(d.status)
}

func (d *Device) sleep(ctx context.Context, dt time.Duration) error {
	if dt <= 0 {
		return ctx.Err()
	}

	timer := d.clock.NewTimer(dt)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.Chan():
		return nil
	}
}
