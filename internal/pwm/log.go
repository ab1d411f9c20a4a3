package pwm

import (
	"log/slog"

	"libdb.so/camthing/led"
)

// Log is a PWM output that only logs duty cycle changes. It is used for dry
// runs on machines without an LED.
type Log struct {
	Logger *slog.Logger

	last    uint8
	written bool
}

var _ led.PWM = (*Log)(nil)

// SetDuty implements led.PWM.
func (l *Log) SetDuty(duty uint8) error {
	if l.written && duty == l.last {
		return nil
	}
	l.last, l.written = duty, true

	l.Logger.Debug("duty cycle changed", "duty", duty)
	return nil
}
