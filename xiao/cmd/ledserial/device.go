package main

import (
	"fmt"
	"io"
	"machine"
	"time"

	"libdb.so/camthing/ledserial"
)

// pwmGroup is a hardware PWM slice, such as machine.PWM5.
type pwmGroup interface {
	Configure(config machine.PWMConfig) error
	Channel(pin machine.Pin) (uint8, error)
	Top() uint32
	Set(channel uint8, value uint32)
}

// Output is a pin that can be driven as an LED channel.
type Output struct {
	Pin machine.Pin
	PWM pwmGroup
}

type channel struct {
	pwm pwmGroup
	ch  uint8
}

// Device stores the current state of the device.
type Device struct {
	serial  io.ReadWriter
	outputs []Output
	period  uint64

	channels []channel
}

// NewDevice creates a new device driving outputs with the given PWM period in
// nanoseconds.
func NewDevice(serial machine.Serialer, outputs []Output, period uint64) *Device {
	return &Device{
		serial:  port{serial},
		outputs: outputs,
		period:  period,
	}
}

// Run runs the device loop forever.
func (d *Device) Run() {
	defer func() {
		if v := recover(); v != nil {
			d.sendPacket(ledserial.PanicPacket{})
			setMainLED(255, 0, 0)
			for {
				// Keep the main LED lit until someone power cycles us.
			}
		}
	}()

	d.log("ready")

	for {
		p, err := d.readPacket()
		if err != nil {
			d.logError(err)
			continue
		}

		if err := d.handlePacket(p); err != nil {
			d.logError(err)
			continue
		}

		d.sendPacket(ledserial.AckPacket{
			IncomingPacketType: p.Type(),
		})
	}
}

func (d *Device) log(msg string) {
	d.sendPacket(ledserial.LogPacket{Message: msg})
}

func (d *Device) logError(err error) {
	setMainLED(255, 0, 0)
	d.sendPacket(ledserial.ErrorPacket{Message: err.Error()})
}

func (d *Device) sendPacket(p ledserial.OutgoingPacket) {
	ledserial.WriteOutgoingPacket(d.serial, p)
}

func (d *Device) readPacket() (ledserial.IncomingPacket, error) {
	return ledserial.ReadIncomingPacket(d.serial)
}

func (d *Device) handlePacket(p ledserial.IncomingPacket) error {
	switch p := p.(type) {
	case ledserial.InitializePacket:
		return d.initialize(int(p.NumChannels))

	case ledserial.ClearPacket:
		d.clear()

	case ledserial.SetPacket:
		if int(p.Channel) >= len(d.channels) {
			return fmt.Errorf("channel %d out of %d channels", p.Channel, len(d.channels))
		}
		c := d.channels[p.Channel]
		c.pwm.Set(c.ch, uint32(uint64(c.pwm.Top())*uint64(p.Duty)/0xFF))
		setMainLED(0, 32, 0)

	default:
		return fmt.Errorf("unknown packet type: %T", p)
	}

	return nil
}

func (d *Device) initialize(n int) error {
	if n < 1 || n > len(d.outputs) {
		return fmt.Errorf("invalid number of channels: %d (have %d outputs)", n, len(d.outputs))
	}

	d.clear()
	d.channels = d.channels[:0]

	for _, out := range d.outputs[:n] {
		if err := out.PWM.Configure(machine.PWMConfig{Period: d.period}); err != nil {
			return fmt.Errorf("failed to configure PWM for %v: %w", out.Pin, err)
		}

		ch, err := out.PWM.Channel(out.Pin)
		if err != nil {
			return fmt.Errorf("no PWM channel for %v: %w", out.Pin, err)
		}

		out.PWM.Set(ch, 0)
		d.channels = append(d.channels, channel{pwm: out.PWM, ch: ch})
	}

	d.log(fmt.Sprintf("initialized %d channels", n))
	setMainLED(0, 0, 32)
	return nil
}

func (d *Device) clear() {
	for _, c := range d.channels {
		c.pwm.Set(c.ch, 0)
	}
}

// port reads and writes packets over a machine.Serialer.
type port struct {
	machine.Serialer
}

// Read blocks until at least one byte is buffered, then drains as much of
// the receive buffer as fits in b.
func (p port) Read(b []byte) (int, error) {
	if len(b) == 0 {
		return 0, nil
	}

	for p.Buffered() == 0 {
		time.Sleep(time.Millisecond)
	}

	var n int
	for n < len(b) && p.Buffered() > 0 {
		c, err := p.ReadByte()
		if err != nil {
			return n, err
		}
		b[n] = c
		n++
	}

	return n, nil
}

func (p port) Write(b []byte) (int, error) {
	for i, c := range b {
		if err := p.WriteByte(c); err != nil {
			return i, err
		}
	}
	return len(b), nil
}
