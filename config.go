package camthing

import (
	"encoding"
	"fmt"
	"io"
	"net"
	"net/url"
	"time"

	"github.com/pelletier/go-toml"
	"github.com/pkg/errors"
)

// Config is the configuration for the camera thing.
type Config struct {
	// LED configures the status LED.
	LED LEDConfig `toml:"led"`
	// Button configures the shutter button.
	Button ButtonConfig `toml:"button"`
	// Camera configures photo capture.
	Camera CameraConfig `toml:"camera"`
	// GPS configures geolocation of photos.
	GPS GPSConfig `toml:"gps"`
	// Network configures the uplink.
	Network NetworkConfig `toml:"network"`
	// Upload configures the report service.
	Upload UploadConfig `toml:"upload"`
	// Policy configures how failures and successes are handled.
	Policy PolicyConfig `toml:"policy"`
	// Modes overrides the LED modes. Missing modes use DefaultModes.
	Modes ModesConfig `toml:"modes"`
}

// LEDDriver is the output that drives the status LED.
type LEDDriver string

const (
	// PeriphDriver drives a PWM capable GPIO pin on the host.
	PeriphDriver LEDDriver = "periph"
	// SerialDriver drives a channel of an LED co-processor over a serial link.
	SerialDriver LEDDriver = "serial"
	// NoDriver only logs duty cycle changes.
	NoDriver LEDDriver = "none"
)

// LEDConfig is the configuration for the status LED.
type LEDConfig struct {
	// Name is used in logs.
	Name string `toml:"name"`
	// Driver is one of "periph", "serial" or "none".
	Driver LEDDriver `toml:"driver"`
	// Pin is the GPIO pin name for the periph driver, e.g. "GPIO18".
	Pin string `toml:"pin"`
	// Channel is the co-processor channel for the serial driver.
	Channel int `toml:"channel"`
	// ActiveLow inverts the output for LEDs wired to sink current.
	ActiveLow bool `toml:"active_low"`
	// Frequency is the PWM frequency in Hz for the periph driver.
	Frequency int `toml:"frequency"`
	// Device is the serial device of the co-processor, usually /dev/ttyACM0.
	Device string `toml:"device"`
	// Baud is the baud rate of the co-processor link.
	Baud int `toml:"baud"`
	// Channels is the number of co-processor channels to initialize.
	Channels int `toml:"channels"`
	// BlankOnStop turns the LED off whenever an animation is stopped.
	BlankOnStop bool `toml:"blank_on_stop"`
	// SampleInterval is how often continuous animations are sampled.
	SampleInterval TOMLDuration `toml:"sample_interval"`
}

// ButtonConfig is the configuration for the shutter button.
type ButtonConfig struct {
	// Pin is the GPIO pin name, e.g. "GPIO17".
	Pin string `toml:"pin"`
	// ActiveHigh is set for buttons that pull the pin high when pressed. By
	// default the button connects the pin to ground.
	ActiveHigh bool `toml:"active_high"`
	// PollInterval is how often the button is read.
	PollInterval TOMLDuration `toml:"poll_interval"`
}

// CameraConfig is the configuration for photo capture.
type CameraConfig struct {
	// Command is the capture command. It must write a JPEG to stdout.
	Command []string `toml:"command"`
	// Timeout bounds a single capture.
	Timeout TOMLDuration `toml:"timeout"`
}

// GPSConfig is the configuration for the GPS module.
type GPSConfig struct {
	Enabled bool   `toml:"enabled"`
	Device  string `toml:"device"`
	Baud    int    `toml:"baud"`
	// Timeout is how long to wait for a fix before uploading without one.
	Timeout TOMLDuration `toml:"timeout"`
}

// NetworkConfig is the configuration for the uplink.
type NetworkConfig struct {
	// LinkCommand brings the link up, e.g. ["nmcli", "radio", "wifi", "on"].
	LinkCommand []string `toml:"link_command"`
	// ProbeAddress is dialed to check connectivity. It defaults to the
	// upload endpoint's host.
	ProbeAddress  string       `toml:"probe_address"`
	Attempts      int          `toml:"attempts"`
	Trials        int          `toml:"trials"`
	TrialInterval TOMLDuration `toml:"trial_interval"`
	DialTimeout   TOMLDuration `toml:"dial_timeout"`
}

// UploadConfig is the configuration for the report service.
type UploadConfig struct {
	// Endpoint is the base URL of the service.
	Endpoint  string       `toml:"endpoint"`
	AuthToken string       `toml:"auth_token"`
	Timeout   TOMLDuration `toml:"timeout"`
}

// UploadFailurePolicy is what the device does after a failed upload.
type UploadFailurePolicy string

const (
	// IdleOnFailure goes back to waiting for the button.
	IdleOnFailure UploadFailurePolicy = "idle"
	// RestartOnFailure stops the device with ErrRestart.
	RestartOnFailure UploadFailurePolicy = "restart"
)

// PolicyConfig is the configuration for failure and success handling.
type PolicyConfig struct {
	// Cooldown is how long a failure mode is shown before acting on it.
	Cooldown TOMLDuration `toml:"cooldown"`
	// OnUploadFailure is "idle" or "restart".
	OnUploadFailure UploadFailurePolicy `toml:"on_upload_failure"`
	// ReportDuration is how long the success mode is shown.
	ReportDuration TOMLDuration `toml:"report_duration"`
}

// ModesConfig overrides the LED modes.
type ModesConfig struct {
	Boot            ModeConfig `toml:"boot"`
	Capture         ModeConfig `toml:"capture"`
	Locating        ModeConfig `toml:"locating"`
	HardwareFailure ModeConfig `toml:"hardware_failure"`
	NetworkFailure  ModeConfig `toml:"network_failure"`
	Uploading       ModeConfig `toml:"uploading"`
	Success         ModeConfig `toml:"success"`
	Busy            ModeConfig `toml:"busy"`
}

func (m *ModesConfig) fields() map[Mode]*ModeConfig {
	return map[Mode]*ModeConfig{
		ModeBoot:            &m.Boot,
		ModeCapture:         &m.Capture,
		ModeLocating:        &m.Locating,
		ModeHardwareFailure: &m.HardwareFailure,
		ModeNetworkFailure:  &m.NetworkFailure,
		ModeUploading:       &m.Uploading,
		ModeSuccess:         &m.Success,
		ModeBusy:            &m.Busy,
	}
}

// Get returns the configuration of the given mode.
func (m *ModesConfig) Get(mode Mode) ModeConfig {
	if f, ok := m.fields()[mode]; ok {
		return *f
	}
	return ModeConfig{}
}

// DefaultConfig returns the configuration used for everything missing from a
// configuration file.
func DefaultConfig() *Config {
	return &Config{
		LED: LEDConfig{
			Name:           "status",
			Driver:         PeriphDriver,
			Pin:            "GPIO18",
			Frequency:      5000,
			Baud:           115200,
			Channels:       1,
			SampleInterval: TOMLDuration(30 * time.Millisecond),
		},
		Button: ButtonConfig{
			Pin:          "GPIO17",
			PollInterval: TOMLDuration(20 * time.Millisecond),
		},
		Camera: CameraConfig{
			Timeout: TOMLDuration(10 * time.Second),
		},
		GPS: GPSConfig{
			Device:  "/dev/serial0",
			Baud:    9600,
			Timeout: TOMLDuration(5 * time.Second),
		},
		Network: NetworkConfig{
			Attempts:      3,
			Trials:        60,
			TrialInterval: TOMLDuration(time.Second),
			DialTimeout:   TOMLDuration(5 * time.Second),
		},
		Upload: UploadConfig{
			Timeout: TOMLDuration(30 * time.Second),
		},
		Policy: PolicyConfig{
			Cooldown:        TOMLDuration(5 * time.Second),
			OnUploadFailure: IdleOnFailure,
			ReportDuration:  TOMLDuration(3 * time.Second),
		},
		Modes: DefaultModes(),
	}
}

// setDefaults fills zero fields from DefaultConfig.
func (c *Config) setDefaults() {
	def := DefaultConfig()

	setString(&c.LED.Name, def.LED.Name)
	if c.LED.Driver == "" {
		c.LED.Driver = def.LED.Driver
	}
	if c.LED.Driver == PeriphDriver {
		setString(&c.LED.Pin, def.LED.Pin)
	}
	setInt(&c.LED.Frequency, def.LED.Frequency)
	setInt(&c.LED.Baud, def.LED.Baud)
	setInt(&c.LED.Channels, def.LED.Channels)
	setDuration(&c.LED.SampleInterval, def.LED.SampleInterval)

	setString(&c.Button.Pin, def.Button.Pin)
	setDuration(&c.Button.PollInterval, def.Button.PollInterval)

	setDuration(&c.Camera.Timeout, def.Camera.Timeout)

	setString(&c.GPS.Device, def.GPS.Device)
	setInt(&c.GPS.Baud, def.GPS.Baud)
	setDuration(&c.GPS.Timeout, def.GPS.Timeout)

	setInt(&c.Network.Attempts, def.Network.Attempts)
	setInt(&c.Network.Trials, def.Network.Trials)
	setDuration(&c.Network.TrialInterval, def.Network.TrialInterval)
	setDuration(&c.Network.DialTimeout, def.Network.DialTimeout)
	if c.Network.ProbeAddress == "" {
		c.Network.ProbeAddress = probeAddress(c.Upload.Endpoint)
	}

	setDuration(&c.Upload.Timeout, def.Upload.Timeout)

	setDuration(&c.Policy.Cooldown, def.Policy.Cooldown)
	setDuration(&c.Policy.ReportDuration, def.Policy.ReportDuration)
	if c.Policy.OnUploadFailure == "" {
		c.Policy.OnUploadFailure = def.Policy.OnUploadFailure
	}

	defModes := def.Modes.fields()
	for mode, m := range c.Modes.fields() {
		if m.Kind == "" {
			*m = *defModes[mode]
		}
	}
}

func setString(v *string, def string) {
	if *v == "" {
		*v = def
	}
}

func setInt(v *int, def int) {
	if *v == 0 {
		*v = def
	}
}

func setDuration(v *TOMLDuration, def TOMLDuration) {
	if *v == 0 {
		*v = def
	}
}

// probeAddress returns the host:port of an endpoint URL, or an empty string
// if it cannot be parsed.
func probeAddress(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil || u.Hostname() == "" {
		return ""
	}

	port := u.Port()
	if port == "" {
		switch u.Scheme {
		case "http":
			port = "80"
		default:
			port = "443"
		}
	}

	return net.JoinHostPort(u.Hostname(), port)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	switch c.LED.Driver {
	case PeriphDriver:
		if c.LED.Pin == "" {
			return errors.New("led: pin is required for the periph driver")
		}
		if c.LED.Frequency <= 0 {
			return fmt.Errorf("led: invalid frequency %d", c.LED.Frequency)
		}
	case SerialDriver:
		if c.LED.Device == "" {
			return errors.New("led: device is required for the serial driver")
		}
		if c.LED.Channels < 1 || c.LED.Channels > 0xFF {
			return fmt.Errorf("led: invalid channel count %d", c.LED.Channels)
		}
		if c.LED.Channel < 0 || c.LED.Channel >= c.LED.Channels {
			return fmt.Errorf("led: channel %d out of %d channels", c.LED.Channel, c.LED.Channels)
		}
	case NoDriver:
	default:
		return fmt.Errorf("led: unknown driver %q", c.LED.Driver)
	}

	if c.LED.SampleInterval <= 0 {
		return errors.New("led: sample_interval must be positive")
	}

	if c.Button.PollInterval <= 0 {
		return errors.New("button: poll_interval must be positive")
	}

	if c.GPS.Enabled {
		if c.GPS.Device == "" {
			return errors.New("gps: device is required when enabled")
		}
		if c.GPS.Timeout <= 0 {
			return errors.New("gps: timeout must be positive")
		}
	}

	u, err := url.Parse(c.Upload.Endpoint)
	if err != nil {
		return errors.Wrap(err, "upload: invalid endpoint")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("upload: endpoint %q must be an http or https URL", c.Upload.Endpoint)
	}

	if c.Network.ProbeAddress == "" {
		return errors.New("network: probe_address is required")
	}
	if c.Network.Attempts < 1 || c.Network.Trials < 1 {
		return errors.New("network: attempts and trials must be positive")
	}

	switch c.Policy.OnUploadFailure {
	case IdleOnFailure, RestartOnFailure:
	default:
		return fmt.Errorf("policy: unknown on_upload_failure %q", c.Policy.OnUploadFailure)
	}

	for mode, m := range c.Modes.fields() {
		if err := m.Validate(); err != nil {
			return errors.Wrapf(err, "modes: %s", mode)
		}
	}

	return nil
}

// TOMLDuration is a duration that can be parsed from TOML.
type TOMLDuration time.Duration

var (
	_ encoding.TextUnmarshaler = (*TOMLDuration)(nil)
	_ encoding.TextMarshaler   = (*TOMLDuration)(nil)
)

func (d *TOMLDuration) UnmarshalText(text []byte) error {
	duration, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = TOMLDuration(duration)
	return nil
}

func (d TOMLDuration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// ParseConfig parses a configuration from a reader. Missing fields are taken
// from DefaultConfig.
func ParseConfig(r io.Reader) (*Config, error) {
	var config Config
	if err := toml.NewDecoder(r).Decode(&config); err != nil {
		return nil, err
	}
	config.setDefaults()
	return &config, nil
}
