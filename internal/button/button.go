// Package button reads the shutter button.
package button

import (
	"bufio"
	"io"
	"sync"

	"github.com/pkg/errors"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// Pin is a button wired to a GPIO input.
type Pin struct {
	pin       gpio.PinIn
	activeLow bool
}

// OpenPin opens the named GPIO pin as a button input. Active low buttons
// connect the pin to ground and use the internal pull-up.
func OpenPin(name string, activeLow bool) (*Pin, error) {
	if _, err := host.Init(); err != nil {
		return nil, errors.Wrap(err, "failed to initialize periph host")
	}

	pin := gpioreg.ByName(name)
	if pin == nil {
		return nil, errors.Errorf("no GPIO pin named %q", name)
	}

	return NewPin(pin, activeLow)
}

// NewPin configures pin as a button input.
func NewPin(pin gpio.PinIn, activeLow bool) (*Pin, error) {
	pull := gpio.PullDown
	if activeLow {
		pull = gpio.PullUp
	}

	if err := pin.In(pull, gpio.NoEdge); err != nil {
		return nil, errors.Wrapf(err, "failed to set %s as input", pin)
	}

	return &Pin{pin: pin, activeLow: activeLow}, nil
}

// Pressed returns whether the button is held down.
func (p *Pin) Pressed() bool {
	return (p.pin.Read() == gpio.High) != p.activeLow
}

// Lines is a button pressed once for every line read from a reader. It is
// used for dry runs where the button is the Enter key.
type Lines struct {
	mu      sync.Mutex
	pending int
	held    bool
}

// ReadLines returns a button reading lines from r in the background.
func ReadLines(r io.Reader) *Lines {
	l := &Lines{}
	go func() {
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			l.mu.Lock()
			l.pending++
			l.mu.Unlock()
		}
	}()
	return l
}

// Pressed reports a press for one poll per line read, with a release poll in
// between consecutive presses.
func (l *Lines) Pressed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.held {
		l.held = false
		return false
	}

	if l.pending > 0 {
		l.pending--
		l.held = true
		return true
	}

	return false
}
