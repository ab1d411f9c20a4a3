package led

import (
	"math"
	"sort"
	"testing"
	"time"
)

const ms = time.Millisecond

func TestDutyBounds(t *testing.T) {
	anims := []Animation{
		Blink{On: 100 * ms, Off: 300 * ms},
		Flash{Delay: 50 * ms},
		Triangle{Period: time.Second},
		Breathe{Period: 2 * time.Second},
		Throb{Attack: 100 * ms, Decay: 900 * ms},
		Step{Period: time.Second, Steps: 5},
	}
	elapsed := []time.Duration{
		0,
		1,
		29 * ms,
		time.Second,
		time.Hour,
		1 << 62,
		math.MaxInt64,
		-15 * ms,
	}

	for _, a := range anims {
		for _, e := range elapsed {
			// Duty is a uint8, so the range check is really a check that the
			// float math never wraps around when converted.
			d := a.Duty(e)
			if e == 0 && d != 0 && !isToggle(a) {
				t.Errorf("%v: duty at 0 = %d, want 0", a, d)
			}
		}
	}
}

func isToggle(a Animation) bool {
	switch a.(type) {
	case Blink, Flash:
		return true
	}
	return false
}

func TestBreathe(t *testing.T) {
	a := Breathe{Period: time.Second}

	if d := a.Duty(0); d != 0 {
		t.Errorf("duty(0) = %d, want 0", d)
	}
	if d := a.Duty(500 * ms); d != MaxDuty {
		t.Errorf("duty(period/2) = %d, want %d", d, MaxDuty)
	}

	for e := time.Duration(0); e < time.Second; e += 7 * ms {
		want := a.Duty(e)
		for _, k := range []time.Duration{1, 2, 1000, 1 << 20} {
			if got := a.Duty(e + k*a.Period); got != want {
				t.Fatalf("duty(%v + %d periods) = %d, want %d", e, k, got, want)
			}
		}
	}
}

func TestThrob(t *testing.T) {
	a := Throb{Attack: 100 * ms, Decay: 900 * ms}

	tests := []struct {
		elapsed time.Duration
		want    uint8
	}{
		{0, 0},
		{100 * ms, 255}, // peak
		{1000 * ms, 0},  // cycle boundary
		{1100 * ms, 255},
	}

	for _, test := range tests {
		if got := a.Duty(test.elapsed); got != test.want {
			t.Errorf("duty(%v) = %d, want %d", test.elapsed, got, test.want)
		}
	}

	// Rising uses only the attack, falling uses only the decay.
	b := Throb{Attack: 100 * ms, Decay: 100 * ms}
	for e := time.Duration(0); e < 100*ms; e += ms {
		if a.Duty(e) != b.Duty(e) {
			t.Fatalf("rising duty(%v) differs between decays: %d != %d", e, a.Duty(e), b.Duty(e))
		}
	}
	if a.Duty(150*ms) == b.Duty(150*ms) {
		t.Errorf("falling duty(150ms) should depend on decay, both %d", a.Duty(150*ms))
	}
}

func TestTriangle(t *testing.T) {
	a := Triangle{Period: time.Second}

	tests := []struct {
		elapsed time.Duration
		want    uint8
	}{
		{0, 0},
		{250 * ms, 128},
		{500 * ms, 255},
		{750 * ms, 128},
		{1000 * ms, 0},
	}

	for _, test := range tests {
		if got := a.Duty(test.elapsed); got != test.want {
			t.Errorf("duty(%v) = %d, want %d", test.elapsed, got, test.want)
		}
	}

	for e := ms; e < 500*ms; e += 3 * ms {
		up := int(a.Duty(e))
		down := int(a.Duty(a.Period - e))
		if diff := up - down; diff < -1 || diff > 1 {
			t.Errorf("slopes not symmetric at %v: %d vs %d", e, up, down)
		}
	}
}

func TestStep(t *testing.T) {
	for _, steps := range []int{2, 3, 4, 8} {
		a := Step{Period: time.Second, Steps: steps}

		seen := make(map[uint8]bool)
		for e := time.Duration(0); e < a.Period; e += ms {
			seen[a.Duty(e)] = true
		}

		levels := make([]int, 0, len(seen))
		for d := range seen {
			levels = append(levels, int(d))
		}
		sort.Ints(levels)

		if len(levels) != steps {
			t.Errorf("steps=%d: got %d levels %v", steps, len(levels), levels)
			continue
		}
		if levels[0] != 0 || levels[len(levels)-1] != MaxDuty {
			t.Errorf("steps=%d: levels %v do not span 0..255", steps, levels)
		}
		for i, l := range levels {
			want := int(math.Round(float64(i) * MaxDuty / float64(steps-1)))
			if l != want {
				t.Errorf("steps=%d: level %d = %d, want %d", steps, i, l, want)
			}
		}
	}
}

func TestBlink(t *testing.T) {
	a := Blink{On: 100 * ms, Off: 100 * ms}

	if d := a.Duty(50 * ms); d != MaxDuty {
		t.Errorf("duty(50ms) = %d, want %d", d, MaxDuty)
	}
	if d := a.Duty(150 * ms); d != 0 {
		t.Errorf("duty(150ms) = %d, want 0", d)
	}

	f := Flash{Delay: 100 * ms}
	for e := time.Duration(0); e < time.Second; e += 10 * ms {
		if f.Duty(e) != a.Duty(e) {
			t.Fatalf("flash and blink disagree at %v", e)
		}
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		anim  Animation
		valid bool
	}{
		{Blink{On: ms, Off: ms}, true},
		{Blink{On: ms}, false},
		{Flash{}, false},
		{Triangle{Period: -time.Second}, false},
		{Breathe{Period: time.Second}, true},
		{Throb{Attack: ms}, false},
		{Step{Period: time.Second, Steps: 1}, false},
		{Step{Period: time.Second, Steps: 2}, true},
	}

	for _, test := range tests {
		err := test.anim.Validate()
		if (err == nil) != test.valid {
			t.Errorf("%v: Validate() = %v, want valid=%v", test.anim, err, test.valid)
		}
	}
}

func TestDegenerateDuty(t *testing.T) {
	tests := []struct {
		anim Animation
		want uint8
	}{
		{Triangle{}, 0},
		{Breathe{}, 0},
		{Throb{}, 0},
		{Step{Period: time.Second, Steps: 1}, MaxDuty},
		{Step{Period: time.Second}, 0},
		{Blink{}, 0},
	}

	for _, test := range tests {
		if got := test.anim.Duty(123 * ms); got != test.want {
			t.Errorf("%v: duty = %d, want %d", test.anim, got, test.want)
		}
	}
}
