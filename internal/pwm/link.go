package pwm

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/pkg/errors"
	"go.bug.st/serial"
	"golang.org/x/sync/errgroup"
	"libdb.so/camthing/led"
	"libdb.so/camthing/ledserial"
)

// Link is a serial connection to an LED co-processor running the ledserial
// protocol. Each of its channels is a separate led.PWM.
type Link struct {
	port   io.ReadWriteCloser
	logger *slog.Logger

	mu sync.Mutex // guards writes to port
}

// OpenLink opens the serial device and initializes the co-processor with the
// given number of channels.
func OpenLink(device string, baud int, channels uint8, logger *slog.Logger) (*Link, error) {
	port, err := serial.Open(device, &serial.Mode{
		BaudRate: baud,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to open serial port")
	}

	if err := port.SetReadTimeout(serial.NoTimeout); err != nil {
		port.Close()
		return nil, errors.Wrap(err, "failed to reset read timeout")
	}

	l, err := NewLink(port, channels, logger)
	if err != nil {
		port.Close()
		return nil, err
	}

	return l, nil
}

// NewLink creates a link over an already opened port and initializes the
// co-processor.
func NewLink(port io.ReadWriteCloser, channels uint8, logger *slog.Logger) (*Link, error) {
	l := &Link{
		port:   port,
		logger: logger,
	}

	if err := l.write(ledserial.InitializePacket{NumChannels: channels}); err != nil {
		return nil, errors.Wrap(err, "failed to initialize co-processor")
	}

	return l, nil
}

// Channel returns the PWM output for the given co-processor channel.
func (l *Link) Channel(ch uint8) led.PWM {
	return linkChannel{link: l, ch: ch}
}

// Run reads packets from the co-processor and logs them until ctx is
// canceled or the co-processor panics. It closes the port when it returns.
func (l *Link) Run(ctx context.Context) error {
	errg, ctx := errgroup.WithContext(ctx)
	errg.Go(func() error {
		<-ctx.Done()
		l.logger.Debug("closing co-processor link")
		if err := l.port.Close(); err != nil {
			return errors.Wrap(err, "failed to close serial port")
		}
		return ctx.Err()
	})
	errg.Go(func() error {
		return l.readPackets(ctx)
	})
	return errg.Wait()
}

func (l *Link) readPackets(ctx context.Context) error {
	for ctx.Err() == nil {
		p, err := ledserial.ReadOutgoingPacket(l.port)
		if err != nil {
			if errors.Is(err, io.EOF) && ctx.Err() == nil {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errors.Wrap(err, "failed to read packet")
		}

		switch p := p.(type) {
		case ledserial.AckPacket:
			l.logger.Debug(
				"co-processor acked packet",
				"acked_for", p.IncomingPacketType)

		case ledserial.LogPacket:
			l.logger.Info(
				"co-processor log",
				"message", p.Message)

		case ledserial.ErrorPacket:
			l.logger.Warn(
				"co-processor reported error",
				"message", p.Message)

		case ledserial.PanicPacket:
			l.logger.Error("co-processor unrecoverably panicked")
			return errors.New("co-processor panicked")
		}
	}

	return ctx.Err()
}

func (l *Link) write(p ledserial.IncomingPacket) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	return ledserial.WriteIncomingPacket(l.port, p)
}

type linkChannel struct {
	link *Link
	ch   uint8
}

func (c linkChannel) SetDuty(duty uint8) error {
	return c.link.write(ledserial.SetPacket{Channel: c.ch, Duty: duty})
}
