package led

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

// recorder is a PWM that records every duty cycle written to it.
type recorder struct {
	mu     sync.Mutex
	duties []uint8
	err    error
	panics bool
}

func (r *recorder) SetDuty(duty uint8) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.panics {
		panic("pwm unplugged")
	}
	r.duties = append(r.duties, duty)
	return r.err
}

func (r *recorder) writes() []uint8 {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]uint8(nil), r.duties...)
}

func (r *recorder) last(t *testing.T) uint8 {
	t.Helper()

	w := r.writes()
	if len(w) == 0 {
		t.Fatal("nothing written")
	}
	return w[len(w)-1]
}

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func newTestEngine(cfg EngineConfig) (*Engine, *recorder, clockwork.FakeClock) {
	clock := clockwork.NewFakeClock()
	cfg.Clock = clock
	cfg.Logger = discardLogger

	out := &recorder{}
	return NewEngine(out, cfg), out, clock
}

func TestEngineBlink(t *testing.T) {
	e, out, clock := newTestEngine(EngineConfig{})
	defer e.Stop()

	e.Start(Blink{On: 100 * ms, Off: 100 * ms})
	clock.BlockUntil(1)

	if d := out.last(t); d != MaxDuty {
		t.Fatalf("duty at 0ms = %d, want %d", d, MaxDuty)
	}

	clock.Advance(50 * ms)
	if d := out.last(t); d != MaxDuty {
		t.Fatalf("duty at 50ms = %d, want %d", d, MaxDuty)
	}

	clock.Advance(100 * ms)
	clock.BlockUntil(1)
	if d := out.last(t); d != 0 {
		t.Fatalf("duty at 150ms = %d, want 0", d)
	}

	// The next edge is anchored to the start, not to when the last edge was
	// observed.
	clock.Advance(50 * ms)
	clock.BlockUntil(1)
	if d := out.last(t); d != MaxDuty {
		t.Fatalf("duty at 200ms = %d, want %d", d, MaxDuty)
	}

	if got := out.writes(); len(got) != 3 {
		t.Fatalf("blink wrote %v, want only edges", got)
	}
}

func TestEngineSamples(t *testing.T) {
	e, out, clock := newTestEngine(EngineConfig{})
	defer e.Stop()

	a := Triangle{Period: time.Second}
	e.Start(a)
	clock.BlockUntil(1)

	for i := 0; i < 5; i++ {
		clock.Advance(DefaultSampleInterval)
		clock.BlockUntil(1)
	}

	var want []uint8
	for i := 0; i <= 5; i++ {
		want = append(want, a.Duty(time.Duration(i)*DefaultSampleInterval))
	}
	assertDuties(t, out.writes(), want)
}

func TestEngineReplace(t *testing.T) {
	e, out, clock := newTestEngine(EngineConfig{})
	defer e.Stop()

	e.Start(Breathe{Period: time.Second})
	clock.BlockUntil(1)
	clock.Advance(300 * ms)
	clock.BlockUntil(1)

	before := len(out.writes())

	throb := Throb{Attack: 100 * ms, Decay: 900 * ms}
	e.Start(throb)

	if n := e.running.Load(); n != 1 {
		t.Fatalf("%d renders running after replacing, want 1", n)
	}
	if cur := e.Current(); cur != throb {
		t.Fatalf("current animation = %v, want %v", cur, throb)
	}

	clock.BlockUntil(1)
	clock.Advance(DefaultSampleInterval)
	clock.BlockUntil(1)

	// Everything written after Start returned must come from the throb, timed
	// from its own start.
	assertDuties(t, out.writes()[before:], []uint8{
		throb.Duty(0),
		throb.Duty(DefaultSampleInterval),
	})
}

func TestEngineStaticWritesCancel(t *testing.T) {
	e, out, clock := newTestEngine(EngineConfig{})

	e.Start(Breathe{Period: time.Second})
	clock.BlockUntil(1)

	e.Write(42)

	if e.Animating() {
		t.Fatal("still animating after a static write")
	}
	if n := e.running.Load(); n != 0 {
		t.Fatalf("%d renders running after a static write", n)
	}
	if d := out.last(t); d != 42 {
		t.Fatalf("last duty = %d, want 42", d)
	}

	n := len(out.writes())
	clock.Advance(time.Second)
	if got := len(out.writes()); got != n {
		t.Fatalf("%d writes after the animation was cancelled", got-n)
	}
}

func TestEngineStopIdempotent(t *testing.T) {
	e, out, clock := newTestEngine(EngineConfig{})

	e.Stop()
	e.Stop()

	e.Start(Throb{Attack: 100 * ms, Decay: 100 * ms})
	clock.BlockUntil(1)
	clock.Advance(60 * ms)
	clock.BlockUntil(1)
	last := out.last(t)

	e.Stop()
	e.Stop()

	if e.Animating() {
		t.Fatal("still animating after Stop")
	}
	if e.Current() != nil {
		t.Fatalf("current animation = %v after Stop", e.Current())
	}
	if d := out.last(t); d != last {
		t.Fatalf("Stop changed the duty from %d to %d", last, d)
	}
	if err := e.Err(); err != nil {
		t.Fatalf("unexpected render error: %v", err)
	}
}

func TestEngineBlankOnStop(t *testing.T) {
	e, out, clock := newTestEngine(EngineConfig{BlankOnStop: true})

	e.Start(Triangle{Period: 200 * ms})
	clock.BlockUntil(1)
	clock.Advance(90 * ms)
	clock.BlockUntil(1)

	e.Stop()
	if d := out.last(t); d != 0 {
		t.Fatalf("duty after Stop = %d, want 0", d)
	}
}

func TestEngineInvalidAnimation(t *testing.T) {
	e, out, _ := newTestEngine(EngineConfig{})

	e.Start(Step{Period: time.Second, Steps: 1})
	if !e.Animating() {
		t.Fatal("not animating")
	}

	e.Stop()
	assertDuties(t, out.writes(), []uint8{MaxDuty})
}

func TestEngineWriteErrors(t *testing.T) {
	e, out, clock := newTestEngine(EngineConfig{})
	defer e.Stop()

	out.err = errors.New("bus error")

	e.Start(Breathe{Period: time.Second})
	clock.BlockUntil(1)
	clock.Advance(DefaultSampleInterval)
	clock.BlockUntil(1)

	if n := len(out.writes()); n != 2 {
		t.Fatalf("render wrote %d times, want it to keep going after errors", n)
	}
}

func TestEngineRenderPanic(t *testing.T) {
	e, out, _ := newTestEngine(EngineConfig{})
	out.panics = true

	e.Start(Breathe{Period: time.Second})

	var fault error
	select {
	case fault = <-e.Faults():
	case <-time.After(5 * time.Second):
		t.Fatal("render panic was not reported")
	}

	e.mu.Lock()
	dead := e.active.tomb.Dead()
	e.mu.Unlock()
	<-dead

	if e.Animating() {
		t.Error("engine reports animating after its render died")
	}
	if e.Current() != nil {
		t.Errorf("current animation = %v after its render died", e.Current())
	}
	if e.Err() != fault {
		t.Errorf("Err() = %v, want %v", e.Err(), fault)
	}
	if n := e.running.Load(); n != 0 {
		t.Errorf("%d render goroutines running, want 0", n)
	}

	e.Stop()
	if e.Err() == nil {
		t.Fatal("Stop cleared the render fault")
	}
}

func assertDuties(t *testing.T, got, want []uint8) {
	t.Helper()

	if len(got) != len(want) {
		t.Fatalf("duties = %v, want %v", got, want)
	}
	for i := range got {
		if got[i] != want[i] {
			t.Fatalf("duties = %v, want %v", got, want)
		}
	}
}
