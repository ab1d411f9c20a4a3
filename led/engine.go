// Package led renders status animations on a single PWM-driven LED.
//
// An Engine owns at most one running animation at a time. Each animation is
// rendered by its own goroutine, which is torn down synchronously whenever
// the animation is replaced, stopped or overridden by a static write, so the
// caller can fire off an animation and carry on with blocking work.
package led

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
	"gopkg.in/tomb.v2"
)

// DefaultSampleInterval is the interval at which sampled animations write a
// new duty cycle.
const DefaultSampleInterval = 30 * time.Millisecond

// PWM is a duty cycle output. Implementations need not be safe for
// concurrent use: the Engine never calls SetDuty from two goroutines at
// once.
type PWM interface {
	// SetDuty sets the output's duty cycle, where 0 is off and MaxDuty is
	// fully on.
	SetDuty(duty uint8) error
}

// EngineConfig configures an Engine. The zero value is usable.
type EngineConfig struct {
	// Clock is the clock animations are timed against. Defaults to the real
	// clock.
	Clock clockwork.Clock
	// Logger receives diagnostics. Defaults to slog.Default().
	Logger *slog.Logger
	// SampleInterval is the interval between duty cycle writes for sampled
	// animations. Blink and Flash are not sampled; they toggle at their own
	// boundaries. Defaults to DefaultSampleInterval.
	SampleInterval time.Duration
	// BlankOnStop turns the LED off when an animation is stopped. If false,
	// the LED is left at the last duty cycle the animation wrote.
	BlankOnStop bool
}

// Engine drives a PWM output with at most one animation at a time.
type Engine struct {
	out    PWM
	cfg    EngineConfig
	logger *slog.Logger

	mu     sync.Mutex
	active *render

	errMu  sync.Mutex // guards err; renders record faults while mu is held
	err    error
	faults chan error

	running atomic.Int32 // live render goroutines
	failing atomic.Bool  // last SetDuty failed
}

type render struct {
	anim Animation
	tomb tomb.Tomb
}

// NewEngine creates a new engine writing to out.
func NewEngine(out PWM, cfg EngineConfig) *Engine {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.SampleInterval <= 0 {
		cfg.SampleInterval = DefaultSampleInterval
	}

	return &Engine{
		out:    out,
		cfg:    cfg,
		logger: cfg.Logger,
		faults: make(chan error, 1),
	}
}

// Start stops the current animation, if any, and starts rendering a. When
// Start returns, a is the only animation driving the output.
func (e *Engine) Start(a Animation) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.stop()

	r := &render{anim: a}
	e.running.Add(1)
	r.tomb.Go(func() error { return e.render(r) })
	e.active = r

	e.logger.Debug("started animation", "animation", a)
}

// Stop stops the current animation. It is a no-op if nothing is animating.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.stop()
}

// Write stops the current animation and sets the output to a fixed duty
// cycle.
func (e *Engine) Write(duty uint8) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.stop()
	e.write(duty)
}

// Animating returns true if an animation is currently being rendered. An
// animation whose render died is not animating.
func (e *Engine) Animating() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.active != nil && e.active.tomb.Alive()
}

// Current returns the animation currently being rendered, or nil.
func (e *Engine) Current() Animation {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.active == nil || !e.active.tomb.Alive() {
		return nil
	}
	return e.active.anim
}

// Err returns the reason the last abnormally terminated render died, or nil.
func (e *Engine) Err() error {
	e.errMu.Lock()
	defer e.errMu.Unlock()

	return e.err
}

// Faults returns a channel that receives the reason a render died
// abnormally. The output is no longer driven once a fault is sent, so the
// owner should treat it as a hardware failure. Only the most recent unread
// fault is kept.
func (e *Engine) Faults() <-chan error {
	return e.faults
}

// fault is called by a dying render goroutine. It must not take e.mu.
func (e *Engine) fault(r *render, err error) {
	e.errMu.Lock()
	e.err = err
	e.errMu.Unlock()

	e.logger.Error(
		"animation died",
		"animation", r.anim,
		"error", err)

	select {
	case e.faults <- err:
	default:
	}
}

// stop must be called with e.mu held.
func (e *Engine) stop() {
	r := e.active
	if r == nil {
		return
	}
	e.active = nil

	r.tomb.Kill(nil)
	r.tomb.Wait()

	e.logger.Debug("stopped animation", "animation", r.anim)

	if e.cfg.BlankOnStop {
		e.write(0)
	}
}

func (e *Engine) render(r *render) (err error) {
	defer e.running.Add(-1)

	defer func() {
		if v := recover(); v != nil {
			err = errors.Errorf("rendering %v panicked: %v", r.anim, v)
			e.fault(r, err)
		}
	}()

	if err := r.anim.Validate(); err != nil {
		e.logger.Warn(
			"rendering invalid animation as a static level",
			"animation", r.anim,
			"error", err)
		e.write(r.anim.Duty(0))
		<-r.tomb.Dying()
		return nil
	}

	start := e.cfg.Clock.Now()

	switch a := r.anim.(type) {
	case Blink:
		e.toggle(r, start, a)
	case Flash:
		e.toggle(r, start, a.Blink())
	default:
		e.sample(r, start)
	}

	return nil
}

// toggle renders a step waveform by writing at each edge. Edges are
// scheduled relative to start so that slow writes do not accumulate drift.
func (e *Engine) toggle(r *render, start time.Time, a Blink) {
	edge := start
	for {
		e.write(MaxDuty)
		edge = edge.Add(a.On)
		if !e.sleepUntil(r, edge) {
			return
		}

		e.write(0)
		edge = edge.Add(a.Off)
		if !e.sleepUntil(r, edge) {
			return
		}
	}
}

func (e *Engine) sample(r *render, start time.Time) {
	for {
		e.write(r.anim.Duty(e.cfg.Clock.Since(start)))
		if !e.sleep(r, e.cfg.SampleInterval) {
			return
		}
	}
}

func (e *Engine) sleepUntil(r *render, t time.Time) bool {
	d := t.Sub(e.cfg.Clock.Now())
	if d < 0 {
		d = 0
	}
	return e.sleep(r, d)
}

// sleep waits for d and reports whether the render should continue.
func (e *Engine) sleep(r *render, d time.Duration) bool {
	timer := e.cfg.Clock.NewTimer(d)
	defer timer.Stop()

	select {
	case <-r.tomb.Dying():
		return false
	case <-timer.Chan():
		return true
	}
}

func (e *Engine) write(duty uint8) {
	if err := e.out.SetDuty(duty); err != nil {
		// Only log the first failure of a streak; renders write every few
		// milliseconds.
		if !e.failing.Swap(true) {
			e.logger.Warn(
				"failed to set duty cycle",
				"duty", duty,
				"error", err)
		}
		return
	}

	if e.failing.Swap(false) {
		e.logger.Info("duty cycle writes recovered", "duty", duty)
	}
}
