package button

import (
	"io"
	"testing"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
)

func TestPinActiveLow(t *testing.T) {
	p := &gpiotest.Pin{N: "GPIO17", Num: 17, L: gpio.High}

	b, err := NewPin(p, true)
	if err != nil {
		t.Fatal(err)
	}
	if p.P != gpio.PullUp {
		t.Fatalf("pull = %v, want pull up", p.P)
	}

	if b.Pressed() {
		t.Fatal("released button reads as pressed")
	}

	p.L = gpio.Low
	if !b.Pressed() {
		t.Fatal("pressed button reads as released")
	}
}

func TestPinActiveHigh(t *testing.T) {
	p := &gpiotest.Pin{N: "GPIO27", Num: 27}

	b, err := NewPin(p, false)
	if err != nil {
		t.Fatal(err)
	}
	if p.P != gpio.PullDown {
		t.Fatalf("pull = %v, want pull down", p.P)
	}

	p.L = gpio.High
	if !b.Pressed() {
		t.Fatal("pressed button reads as released")
	}
}

func TestLines(t *testing.T) {
	pr, pw := io.Pipe()
	l := ReadLines(pr)

	if l.Pressed() {
		t.Fatal("pressed before any line")
	}

	io.WriteString(pw, "\n\n")
	pw.Close()

	// Wait for the reader goroutine to count both lines.
	deadline := time.Now().Add(5 * time.Second)
	for {
		l.mu.Lock()
		n := l.pending
		l.mu.Unlock()
		if n == 2 || time.Now().After(deadline) {
			break
		}
		time.Sleep(time.Millisecond)
	}

	var got []bool
	for i := 0; i < 5; i++ {
		got = append(got, l.Pressed())
	}

	want := []bool{true, false, true, false, false}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("polls = %v, want %v", got, want)
		}
	}
}
