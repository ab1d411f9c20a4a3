package camthing

import (
	"strings"
	"testing"
	"time"
)

const testConfigTOML = `
[led]
driver = "serial"
device = "/dev/ttyACM0"
channels = 2
channel = 1
blank_on_stop = true

[button]
pin = "GPIO27"
poll_interval = "10ms"

[camera]
command = ["cat", "still.jpg"]

[gps]
enabled = true
timeout = "2s"

[network]
link_command = ["pon", "gprs"]
attempts = 2

[upload]
endpoint = "http://tweeter.local:8080"
auth_token = "hunter2"

[policy]
on_upload_failure = "restart"

[modes.boot]
kind = "triangle"
period = "1s"

[modes.success]
kind = "set"
duty = 128
`

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig(strings.NewReader(testConfigTOML))
	if err != nil {
		t.Fatal(err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}

	if cfg.LED.Driver != SerialDriver || cfg.LED.Channel != 1 || !cfg.LED.BlankOnStop {
		t.Errorf("unexpected LED config %+v", cfg.LED)
	}
	if cfg.LED.Baud != 115200 {
		t.Errorf("LED baud = %d, want the default", cfg.LED.Baud)
	}
	if time.Duration(cfg.Button.PollInterval) != 10*time.Millisecond {
		t.Errorf("poll interval = %v", time.Duration(cfg.Button.PollInterval))
	}
	if len(cfg.Camera.Command) != 2 || cfg.Camera.Command[1] != "still.jpg" {
		t.Errorf("camera command = %q", cfg.Camera.Command)
	}
	if !cfg.GPS.Enabled || time.Duration(cfg.GPS.Timeout) != 2*time.Second {
		t.Errorf("unexpected GPS config %+v", cfg.GPS)
	}
	if cfg.Network.Attempts != 2 || cfg.Network.Trials != 60 {
		t.Errorf("attempts, trials = %d, %d", cfg.Network.Attempts, cfg.Network.Trials)
	}
	if cfg.Network.ProbeAddress != "tweeter.local:8080" {
		t.Errorf("probe address = %q", cfg.Network.ProbeAddress)
	}
	if cfg.Policy.OnUploadFailure != RestartOnFailure {
		t.Errorf("on_upload_failure = %q", cfg.Policy.OnUploadFailure)
	}

	if m := cfg.Modes.Get(ModeBoot); m.String() != "triangle(1s)" {
		t.Errorf("boot mode = %v", m)
	}
	if m := cfg.Modes.Get(ModeSuccess); m.String() != "set(128)" {
		t.Errorf("success mode = %v", m)
	}
	if m := cfg.Modes.Get(ModeLocating); m.String() != "throb(900ms/100ms)" {
		t.Errorf("locating mode = %v, want the default", m)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"unknown driver", func(c *Config) { c.LED.Driver = "laser" }},
		{"serial without device", func(c *Config) { c.LED.Driver = SerialDriver }},
		{"channel out of range", func(c *Config) {
			c.LED.Driver = SerialDriver
			c.LED.Device = "/dev/ttyACM0"
			c.LED.Channel = 1
		}},
		{"bad endpoint", func(c *Config) { c.Upload.Endpoint = "ftp://example.com" }},
		{"bad policy", func(c *Config) { c.Policy.OnUploadFailure = "panic" }},
		{"bad mode", func(c *Config) { c.Modes.Busy = ModeConfig{Kind: KindBlink} }},
		{"duty out of range", func(c *Config) { c.Modes.Capture = ModeConfig{Kind: KindSet, Duty: 256} }},
		{"unknown mode kind", func(c *Config) { c.Modes.Capture = ModeConfig{Kind: "strobe"} }},
		{"gps without timeout", func(c *Config) {
			c.GPS.Enabled = true
			c.GPS.Timeout = 0
		}},
	}

	if err := testConfig().Validate(); err != nil {
		t.Fatalf("test config is invalid: %v", err)
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cfg := testConfig()
			test.modify(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected a validation error")
			}
		})
	}
}

func TestProbeAddress(t *testing.T) {
	tests := map[string]string{
		"https://example.com":        "example.com:443",
		"http://example.com/api":     "example.com:80",
		"http://10.0.0.2:8080":       "10.0.0.2:8080",
		"":                           "",
		"https://[2001:db8::1]:8443": "[2001:db8::1]:8443",
	}

	for endpoint, want := range tests {
		if got := probeAddress(endpoint); got != want {
			t.Errorf("probeAddress(%q) = %q, want %q", endpoint, got, want)
		}
	}
}
