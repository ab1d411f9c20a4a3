package main

import "machine"

// pwmPeriod is the PWM period in nanoseconds, 5kHz.
const pwmPeriod = 1e9 / 5000

func main() {
	machine.Serial.Configure(machine.UARTConfig{})

	// D0 to D3 on the XIAO RP2040 header.
	outputs := []Output{
		{Pin: machine.GPIO26, PWM: machine.PWM5},
		{Pin: machine.GPIO27, PWM: machine.PWM5},
		{Pin: machine.GPIO28, PWM: machine.PWM6},
		{Pin: machine.GPIO29, PWM: machine.PWM6},
	}

	d := NewDevice(machine.Serial, outputs, pwmPeriod)
	d.Run()
}
