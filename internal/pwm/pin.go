// Package pwm provides led.PWM outputs: host GPIO pins, channels on a
// serial-attached LED co-processor, and a logging sink for dry runs.
package pwm

import (
	"fmt"

	"github.com/pkg/errors"
	"libdb.so/camthing/led"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"
)

// DefaultFrequency is the PWM frequency used when none is configured.
const DefaultFrequency = 5 * physic.KiloHertz

// Pin drives an LED from a host GPIO pin.
type Pin struct {
	pin       gpio.PinOut
	freq      physic.Frequency
	activeLow bool
}

var _ led.PWM = (*Pin)(nil)

// OpenPin initializes the host's GPIO drivers and opens the pin with the
// given name, e.g. "GPIO18".
func OpenPin(name string, freq physic.Frequency, activeLow bool) (*Pin, error) {
	if _, err := host.Init(); err != nil {
		return nil, errors.Wrap(err, "failed to initialize host drivers")
	}

	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("no GPIO pin named %q", name)
	}

	return NewPin(p, freq, activeLow), nil
}

// NewPin wraps an already opened pin. If activeLow is true, the LED is lit
// when the pin is low.
func NewPin(pin gpio.PinOut, freq physic.Frequency, activeLow bool) *Pin {
	if freq == 0 {
		freq = DefaultFrequency
	}
	return &Pin{
		pin:       pin,
		freq:      freq,
		activeLow: activeLow,
	}
}

// SetDuty implements led.PWM. Fully off and fully on are driven as plain
// levels, since not every pin can PWM at 0% or 100%.
func (p *Pin) SetDuty(duty uint8) error {
	if p.activeLow {
		duty = led.MaxDuty - duty
	}

	switch duty {
	case 0:
		return p.pin.Out(gpio.Low)
	case led.MaxDuty:
		return p.pin.Out(gpio.High)
	}

	d := gpio.Duty(int64(gpio.DutyMax) * int64(duty) / led.MaxDuty)
	if err := p.pin.PWM(d, p.freq); err != nil {
		return errors.Wrapf(err, "failed to set %s to %s", p.pin, d)
	}
	return nil
}

// Close turns the LED off and releases the pin.
func (p *Pin) Close() error {
	if err := p.SetDuty(0); err != nil {
		return err
	}
	return p.pin.Halt()
}
