package camthing

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
	"libdb.so/camthing/led"
)

// Mode names what the status LED is communicating.
type Mode string

const (
	ModeBoot            Mode = "boot"
	ModeCapture         Mode = "capture"
	ModeLocating        Mode = "locating"
	ModeHardwareFailure Mode = "hardware_failure"
	ModeNetworkFailure  Mode = "network_failure"
	ModeUploading       Mode = "uploading"
	ModeSuccess         Mode = "success"
	ModeBusy            Mode = "busy"
)

// ModeKind is how a mode drives the LED.
type ModeKind string

const (
	KindOn       ModeKind = "on"
	KindOff      ModeKind = "off"
	KindSet      ModeKind = "set"
	KindBlink    ModeKind = "blink"
	KindFlash    ModeKind = "flash"
	KindTriangle ModeKind = "triangle"
	KindBreathe  ModeKind = "breathe"
	KindThrob    ModeKind = "throb"
	KindStep     ModeKind = "step"
)

// ModeConfig describes a static level or an animation for the status LED.
// Only the fields used by Kind are read.
type ModeConfig struct {
	Kind ModeKind `toml:"kind"`

	On     TOMLDuration `toml:"on"`
	Off    TOMLDuration `toml:"off"`
	Delay  TOMLDuration `toml:"delay"`
	Period TOMLDuration `toml:"period"`
	Attack TOMLDuration `toml:"attack"`
	Decay  TOMLDuration `toml:"decay"`
	Steps  int          `toml:"steps"`
	// Duty is the level for the "set" kind, from 0 to 255.
	Duty int `toml:"duty"`
}

// DefaultModes returns the default LED modes.
func DefaultModes() ModesConfig {
	ms := func(n int) TOMLDuration { return TOMLDuration(time.Duration(n) * time.Millisecond) }

	return ModesConfig{
		Boot:            ModeConfig{Kind: KindBreathe, Period: ms(2000)},
		Capture:         ModeConfig{Kind: KindOn},
		Locating:        ModeConfig{Kind: KindThrob, Attack: ms(900), Decay: ms(100)},
		HardwareFailure: ModeConfig{Kind: KindBlink, On: ms(100), Off: ms(100)},
		NetworkFailure:  ModeConfig{Kind: KindStep, Period: ms(2000), Steps: 4},
		Uploading:       ModeConfig{Kind: KindThrob, Attack: ms(100), Decay: ms(900)},
		Success:         ModeConfig{Kind: KindFlash, Delay: ms(50)},
		Busy:            ModeConfig{Kind: KindFlash, Delay: ms(30)},
	}
}

// Animation returns the animation of the mode. It returns false for static
// kinds.
func (m ModeConfig) Animation() (led.Animation, bool) {
	d := func(v TOMLDuration) time.Duration { return time.Duration(v) }

	switch m.Kind {
	case KindBlink:
		return led.Blink{On: d(m.On), Off: d(m.Off)}, true
	case KindFlash:
		return led.Flash{Delay: d(m.Delay)}, true
	case KindTriangle:
		return led.Triangle{Period: d(m.Period)}, true
	case KindBreathe:
		return led.Breathe{Period: d(m.Period)}, true
	case KindThrob:
		return led.Throb{Attack: d(m.Attack), Decay: d(m.Decay)}, true
	case KindStep:
		return led.Step{Period: d(m.Period), Steps: m.Steps}, true
	default:
		return nil, false
	}
}

// Validate checks that the mode can be shown.
func (m ModeConfig) Validate() error {
	switch m.Kind {
	case KindOn, KindOff:
		return nil
	case KindSet:
		if m.Duty < 0 || m.Duty > led.MaxDuty {
			return fmt.Errorf("duty %d out of range [0, %d]", m.Duty, led.MaxDuty)
		}
		return nil
	}

	a, ok := m.Animation()
	if !ok {
		return errors.Errorf("unknown kind %q", m.Kind)
	}
	return a.Validate()
}

// Apply shows the mode on the LED.
func (m ModeConfig) Apply(l *led.LED) {
	switch m.Kind {
	case KindOn:
		l.On()
	case KindOff:
		l.Off()
	case KindSet:
		l.Set(uint8(m.Duty))
	default:
		if a, ok := m.Animation(); ok {
			l.Play(a)
		} else {
			l.Off()
		}
	}
}

func (m ModeConfig) String() string {
	switch m.Kind {
	case KindSet:
		return fmt.Sprintf("set(%d)", m.Duty)
	case KindOn, KindOff:
		return string(m.Kind)
	}
	if a, ok := m.Animation(); ok {
		return a.String()
	}
	return fmt.Sprintf("unknown(%q)", m.Kind)
}
