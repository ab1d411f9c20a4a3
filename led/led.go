package led

import (
	"fmt"
	"log/slog"
	"time"
)

// LED is a single PWM-driven LED. Every method cancels whatever the LED was
// previously doing.
type LED struct {
	// Name is a human-readable name for the LED, e.g. "status".
	Name string
	// Pin identifies the physical pin the LED is wired to.
	Pin string
	// Channel is the logical PWM channel driving the pin.
	Channel uint8

	engine *Engine
	logger *slog.Logger
}

// New creates a new LED writing to out. cfg configures the LED's engine.
func New(name, pin string, channel uint8, out PWM, cfg EngineConfig) *LED {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	cfg.Logger = cfg.Logger.With(
		"led", name,
		"pin", pin,
		"channel", channel)

	return &LED{
		Name:    name,
		Pin:     pin,
		Channel: channel,
		engine:  NewEngine(out, cfg),
		logger:  cfg.Logger,
	}
}

// String returns the LED's name and pin.
func (l *LED) String() string {
	return fmt.Sprintf("%s (pin %s, channel %d)", l.Name, l.Pin, l.Channel)
}

// Engine returns the engine rendering the LED's animations.
func (l *LED) Engine() *Engine { return l.engine }

// On turns the LED fully on.
func (l *LED) On() {
	l.logger.Debug("turning LED on")
	l.engine.Write(MaxDuty)
}

// Off turns the LED off.
func (l *LED) Off() {
	l.logger.Debug("turning LED off")
	l.engine.Write(0)
}

// Set sets the LED to a fixed duty cycle.
func (l *LED) Set(duty uint8) {
	l.logger.Debug("setting LED duty cycle", "duty", duty)
	l.engine.Write(duty)
}

// Blink toggles the LED on for on and off for off.
func (l *LED) Blink(on, off time.Duration) { l.Play(Blink{On: on, Off: off}) }

// Flash toggles the LED with a symmetric delay.
func (l *LED) Flash(delay time.Duration) { l.Play(Flash{Delay: delay}) }

// Triangle ramps the LED linearly up and down once per period.
func (l *LED) Triangle(period time.Duration) { l.Play(Triangle{Period: period}) }

// Breathe smoothly ramps the LED up and down once per period.
func (l *LED) Breathe(period time.Duration) { l.Play(Breathe{Period: period}) }

// Throb smoothly ramps the LED up over attack and down over decay.
func (l *LED) Throb(attack, decay time.Duration) {
	l.Play(Throb{Attack: attack, Decay: decay})
}

// Step ramps the LED up in steps discrete levels once per period.
func (l *LED) Step(period time.Duration, steps int) {
	l.Play(Step{Period: period, Steps: steps})
}

// Play starts rendering the given animation.
func (l *LED) Play(a Animation) {
	l.engine.Start(a)
}

// Stop stops the current animation, leaving the LED as the engine is
// configured to.
func (l *LED) Stop() {
	l.engine.Stop()
}

// Animating returns true if the LED is currently animating.
func (l *LED) Animating() bool {
	return l.engine.Animating()
}
