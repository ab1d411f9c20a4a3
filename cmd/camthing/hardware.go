package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/pkg/errors"
	"libdb.so/camthing"
	"libdb.so/camthing/internal/button"
	"libdb.so/camthing/internal/camera"
	"libdb.so/camthing/internal/gps"
	"libdb.so/camthing/internal/network"
	"libdb.so/camthing/internal/pwm"
	"libdb.so/camthing/internal/upload"
	"libdb.so/camthing/led"
	"periph.io/x/conn/v3/physic"
)

// hardware is everything the device is wired to.
type hardware struct {
	status        *led.LED
	collaborators camthing.Collaborators
	closers       []closer
	logger        *slog.Logger
}

type closer struct {
	name  string
	close func() error
}

func (h *hardware) addCloser(name string, fn func() error) {
	h.closers = append(h.closers, closer{name, fn})
}

// Close releases the hardware in reverse order of opening. Failures are
// logged.
func (h *hardware) Close() {
	for i := len(h.closers) - 1; i >= 0; i-- {
		c := h.closers[i]
		if err := c.close(); err != nil {
			h.logger.Warn(
				"failed to release hardware",
				"hardware", c.name,
				"error", err)
		}
	}
	h.closers = nil
}

func openHardware(cfg *camthing.Config, logger *slog.Logger) (*hardware, error) {
	hw := &hardware{logger: logger}

	if err := hw.openStatusLED(cfg, logger); err != nil {
		hw.Close()
		return nil, err
	}

	if dryRun {
		logger.Info("dry run, press Enter to take a photo")
		hw.collaborators.Button = button.ReadLines(os.Stdin)
	} else {
		b, err := button.OpenPin(cfg.Button.Pin, !cfg.Button.ActiveHigh)
		if err != nil {
			hw.Close()
			return nil, errors.Wrap(err, "failed to open button")
		}
		hw.collaborators.Button = b
	}

	hw.collaborators.Camera = camera.New(
		cfg.Camera.Command,
		time.Duration(cfg.Camera.Timeout),
		logger.With("component", "camera"))

	if cfg.GPS.Enabled {
		r, err := gps.Open(cfg.GPS.Device, cfg.GPS.Baud, logger.With("component", "gps"))
		if err != nil {
			hw.Close()
			return nil, err
		}
		hw.collaborators.Locator = locator{r}
		hw.collaborators.Background = append(hw.collaborators.Background, r)
	}

	hw.collaborators.Network = network.New(network.Config{
		LinkCommand:   cfg.Network.LinkCommand,
		Address:       cfg.Network.ProbeAddress,
		Attempts:      cfg.Network.Attempts,
		Trials:        cfg.Network.Trials,
		TrialInterval: time.Duration(cfg.Network.TrialInterval),
		DialTimeout:   time.Duration(cfg.Network.DialTimeout),
	}, nil, nil, logger.With("component", "network"))

	hw.collaborators.Uploader = uploader{upload.New(
		cfg.Upload.Endpoint,
		cfg.Upload.AuthToken,
		logger.With("component", "upload"))}

	return hw, nil
}

func (hw *hardware) openStatusLED(cfg *camthing.Config, logger *slog.Logger) error {
	var out led.PWM
	pin := cfg.LED.Pin

	switch cfg.LED.Driver {
	case camthing.PeriphDriver:
		p, err := pwm.OpenPin(cfg.LED.Pin, physic.Frequency(cfg.LED.Frequency)*physic.Hertz, cfg.LED.ActiveLow)
		if err != nil {
			return errors.Wrap(err, "failed to open LED pin")
		}
		hw.addCloser("LED pin "+cfg.LED.Pin, p.Close)
		out = p

	case camthing.SerialDriver:
		link, err := pwm.OpenLink(
			cfg.LED.Device,
			cfg.LED.Baud,
			uint8(cfg.LED.Channels),
			logger.With("component", "co-processor"))
		if err != nil {
			return errors.Wrap(err, "failed to open LED co-processor")
		}
		hw.collaborators.Background = append(hw.collaborators.Background, link)
		out = link.Channel(uint8(cfg.LED.Channel))
		pin = cfg.LED.Device

	default:
		out = &pwm.Log{Logger: logger.With("component", "led")}
		pin = "none"
	}

	hw.status = led.New(cfg.LED.Name, pin, uint8(cfg.LED.Channel), out, led.EngineConfig{
		Logger:         logger,
		SampleInterval: time.Duration(cfg.LED.SampleInterval),
		BlankOnStop:    cfg.LED.BlankOnStop,
	})

	return nil
}

var (
	_ camthing.Locator  = locator{}
	_ camthing.Runner   = (*gps.Receiver)(nil)
	_ camthing.Uploader = uploader{}
	_ camthing.Runner   = (*pwm.Link)(nil)
)

// locator adapts a GPS receiver to camthing.Locator.
type locator struct {
	*gps.Receiver
}

func (l locator) Locate(ctx context.Context, timeout time.Duration) (camthing.Location, bool, error) {
	fix, err := l.Receiver.Locate(ctx, timeout)
	if err != nil {
		if errors.Is(err, gps.ErrNoFix) {
			return camthing.Location{}, false, nil
		}
		return camthing.Location{}, false, fmt.Errorf("GPS: %w", err)
	}
	return camthing.Location{Latitude: fix.Latitude, Longitude: fix.Longitude}, true, nil
}

// uploader adapts an upload client to camthing.Uploader.
type uploader struct {
	*upload.Client
}

func (u uploader) Upload(ctx context.Context, timeout time.Duration, image []byte, loc *camthing.Location) (string, error) {
	var l *upload.Location
	if loc != nil {
		l = &upload.Location{Latitude: loc.Latitude, Longitude: loc.Longitude}
	}
	return u.Client.Upload(ctx, timeout, image, l)
}
