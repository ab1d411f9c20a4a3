package led

import (
	"fmt"
	"math"
	"time"

	"github.com/pkg/errors"
)

// MaxDuty is the duty cycle of a fully lit LED.
const MaxDuty = 0xFF

// Animation is a brightness curve over time. It is implemented by Blink,
// Flash, Triangle, Breathe, Throb and Step only.
type Animation interface {
	fmt.Stringer
	// Duty returns the duty cycle of the animation after elapsed time since
	// it started. It is a pure function of elapsed.
	Duty(elapsed time.Duration) uint8
	// Validate returns an error if the animation's parameters cannot be
	// rendered meaningfully.
	Validate() error

	animation()
}

var (
	_ Animation = Blink{}
	_ Animation = Flash{}
	_ Animation = Triangle{}
	_ Animation = Breathe{}
	_ Animation = Throb{}
	_ Animation = Step{}
)

// Blink toggles the LED fully on for On and fully off for Off.
type Blink struct {
	On  time.Duration
	Off time.Duration
}

// Flash is a symmetric Blink, usually a rapid one.
type Flash struct {
	Delay time.Duration
}

// Triangle ramps the LED linearly up and back down once per Period.
type Triangle struct {
	Period time.Duration
}

// Breathe ramps the LED up and down along a raised cosine once per Period.
type Breathe struct {
	Period time.Duration
}

// Throb is an asymmetric Breathe: the LED rises along a half cosine for
// Attack and falls along a half cosine for Decay.
type Throb struct {
	Attack time.Duration
	Decay  time.Duration
}

// Step is a Triangle's rising edge quantized into Steps evenly spaced
// levels, restarting from zero every Period.
type Step struct {
	Period time.Duration
	Steps  int
}

func (Blink) animation()    {}
func (Flash) animation()    {}
func (Triangle) animation() {}
func (Breathe) animation()  {}
func (Throb) animation()    {}
func (Step) animation()     {}

func (a Blink) Duty(elapsed time.Duration) uint8 {
	cycle := a.On + a.Off
	if a.On <= 0 || cycle <= 0 {
		return 0
	}
	if wrap(elapsed, cycle) < a.On {
		return MaxDuty
	}
	return 0
}

func (a Flash) Duty(elapsed time.Duration) uint8 {
	return a.Blink().Duty(elapsed)
}

// Blink returns the equivalent Blink animation.
func (a Flash) Blink() Blink {
	return Blink{On: a.Delay, Off: a.Delay}
}

func (a Triangle) Duty(elapsed time.Duration) uint8 {
	if a.Period <= 0 {
		return 0
	}
	x := float64(wrap(elapsed, a.Period)) / float64(a.Period)
	if x < 0.5 {
		return duty(2 * x)
	}
	return duty(2 - 2*x)
}

func (a Breathe) Duty(elapsed time.Duration) uint8 {
	if a.Period <= 0 {
		return 0
	}
	x := float64(wrap(elapsed, a.Period)) / float64(a.Period)
	return duty((1 - math.Cos(2*math.Pi*x)) / 2)
}

func (a Throb) Duty(elapsed time.Duration) uint8 {
	if a.Attack < 0 || a.Decay < 0 || a.Attack+a.Decay <= 0 {
		return 0
	}
	pos := wrap(elapsed, a.Attack+a.Decay)
	if pos < a.Attack {
		x := float64(pos) / float64(a.Attack)
		return duty((1 - math.Cos(math.Pi*x)) / 2)
	}
	if a.Decay == 0 {
		return MaxDuty
	}
	x := float64(pos-a.Attack) / float64(a.Decay)
	return duty((1 + math.Cos(math.Pi*x)) / 2)
}

func (a Step) Duty(elapsed time.Duration) uint8 {
	switch {
	case a.Period <= 0 || a.Steps <= 0:
		return 0
	case a.Steps == 1:
		return MaxDuty
	}
	pos := float64(wrap(elapsed, a.Period)) / float64(a.Period)
	level := math.Round(pos*float64(a.Steps) - 0.5)
	return duty(level / float64(a.Steps-1))
}

func (a Blink) Validate() error {
	if a.On <= 0 || a.Off <= 0 {
		return errors.Errorf("blink on and off must be positive, got %v/%v", a.On, a.Off)
	}
	return nil
}

func (a Flash) Validate() error {
	if a.Delay <= 0 {
		return errors.Errorf("flash delay must be positive, got %v", a.Delay)
	}
	return nil
}

func (a Triangle) Validate() error { return validatePeriod("triangle", a.Period) }
func (a Breathe) Validate() error  { return validatePeriod("breathe", a.Period) }

func (a Throb) Validate() error {
	if a.Attack <= 0 || a.Decay <= 0 {
		return errors.Errorf("throb attack and decay must be positive, got %v/%v", a.Attack, a.Decay)
	}
	return nil
}

func (a Step) Validate() error {
	if err := validatePeriod("step", a.Period); err != nil {
		return err
	}
	if a.Steps < 2 {
		return errors.Errorf("step needs at least 2 steps, got %d", a.Steps)
	}
	return nil
}

func validatePeriod(kind string, period time.Duration) error {
	if period <= 0 {
		return errors.Errorf("%s period must be positive, got %v", kind, period)
	}
	return nil
}

func (a Blink) String() string    { return fmt.Sprintf("blink(%v/%v)", a.On, a.Off) }
func (a Flash) String() string    { return fmt.Sprintf("flash(%v)", a.Delay) }
func (a Triangle) String() string { return fmt.Sprintf("triangle(%v)", a.Period) }
func (a Breathe) String() string  { return fmt.Sprintf("breathe(%v)", a.Period) }
func (a Throb) String() string    { return fmt.Sprintf("throb(%v/%v)", a.Attack, a.Decay) }
func (a Step) String() string     { return fmt.Sprintf("step(%v, %d)", a.Period, a.Steps) }

// wrap returns elapsed modulo period. Negative elapsed times, which a
// monotonic clock never produces, are folded into [0, period).
func wrap(elapsed, period time.Duration) time.Duration {
	x := elapsed % period
	if x < 0 {
		x += period
	}
	return x
}

// duty converts a brightness fraction into a duty cycle, rounding to the
// nearest integer and clamping to [0, MaxDuty].
func duty(fraction float64) uint8 {
	v := math.Round(fraction * MaxDuty)
	switch {
	case math.IsNaN(v) || v <= 0:
		return 0
	case v >= MaxDuty:
		return MaxDuty
	default:
		return uint8(v)
	}
}
