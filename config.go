package pushover

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/hay-kot/criterio"
	"gopkg.in/yaml.v3"
)

// Service endpoints and defaults.
const (
	DefaultAPIBaseURL       = "https://api.pushover.net/1/"
	DefaultRealtimeURL      = "wss://client.pushover.net/push"
	DefaultRestartDelay     = 10 * time.Second
	DefaultRequestTimeout   = 15 * time.Second
	DefaultKeepaliveTimeout = 2 * time.Minute
	DefaultCommandTitle     = "heyu"
)

var deviceNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,25}$`)

// Config holds the configuration for an Agent.
type Config struct {
	// Email is the Pushover account login.
	// Fallback: PUSHOVER_EMAIL environment variable.
	Email string `yaml:"email"`

	// Password is the Pushover account password.
	// Fallback: PUSHOVER_PASSWORD environment variable.
	Password string `yaml:"password"`

	// CommandPath is the external command run for the startup hook and for
	// every recognized notification.
	// Fallback: PUSHOVER_COMMAND environment variable.
	CommandPath string `yaml:"command"`

	// DeviceName registers a fresh desktop device on every run.
	// Mutually exclusive with DeviceID.
	// Fallback: PUSHOVER_DEVICE_NAME environment variable.
	DeviceName string `yaml:"device_name"`

	// DeviceID reuses a device registered on an earlier run.
	// Mutually exclusive with DeviceName.
	// Fallback: PUSHOVER_DEVICE_ID environment variable.
	DeviceID string `yaml:"device_id"`

	// CommandTitles are the notification titles that trigger the command.
	CommandTitles []string `yaml:"command_titles"`

	// DiscardBacklog acknowledges notifications pending at startup without
	// dispatching them.
	DiscardBacklog bool `yaml:"discard_backlog"`

	APIBaseURL       string        `yaml:"api_base_url"`
	RealtimeURL      string        `yaml:"realtime_url"`
	RestartDelay     time.Duration `yaml:"restart_delay"`
	MaxRestartDelay  time.Duration `yaml:"max_restart_delay"` // zero means RestartDelay
	RequestTimeout   time.Duration `yaml:"request_timeout"`
	KeepaliveTimeout time.Duration `yaml:"keepalive_timeout"`
	CommandTimeout   time.Duration `yaml:"command_timeout"` // zero disables
}

// DefaultConfig returns a Config with the service endpoints and timings filled
// in. MaxRestartDelay is left zero so it follows whatever RestartDelay ends up
// being.
func DefaultConfig() Config {
	return Config{
		CommandTitles:    []string{DefaultCommandTitle},
		APIBaseURL:       DefaultAPIBaseURL,
		RealtimeURL:      DefaultRealtimeURL,
		RestartDelay:     DefaultRestartDelay,
		RequestTimeout:   DefaultRequestTimeout,
		KeepaliveTimeout: DefaultKeepaliveTimeout,
	}
}

// LoadConfigFile reads a YAML config file over DefaultConfig. A missing file
// yields the defaults.
func LoadConfigFile(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config file: %w", err)
	}
	return cfg, nil
}

// resolveConfig fills empty fields from environment variables and defaults,
// then validates. It never touches the network.
func resolveConfig(cfg Config) (Config, error) {
	if cfg.Email == "" {
		cfg.Email = os.Getenv("PUSHOVER_EMAIL")
	}
	if cfg.Password == "" {
		cfg.Password = os.Getenv("PUSHOVER_PASSWORD")
	}
	if cfg.CommandPath == "" {
		cfg.CommandPath = os.Getenv("PUSHOVER_COMMAND")
	}
	// Only fall back when neither device input was given, otherwise an
	// exported variable could silently make an explicit config ambiguous.
	if cfg.DeviceID == "" && cfg.DeviceName == "" {
		cfg.DeviceID = os.Getenv("PUSHOVER_DEVICE_ID")
		cfg.DeviceName = os.Getenv("PUSHOVER_DEVICE_NAME")
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// applyDefaults sets default values for any unset option.
func (c *Config) applyDefaults() {
	defaults := DefaultConfig()
	if len(c.CommandTitles) == 0 {
		c.CommandTitles = defaults.CommandTitles
	}
	if c.APIBaseURL == "" {
		c.APIBaseURL = defaults.APIBaseURL
	}
	if c.RealtimeURL == "" {
		c.RealtimeURL = defaults.RealtimeURL
	}
	if c.RestartDelay == 0 {
		c.RestartDelay = defaults.RestartDelay
	}
	if c.MaxRestartDelay == 0 {
		c.MaxRestartDelay = c.RestartDelay
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = defaults.RequestTimeout
	}
	if c.KeepaliveTimeout == 0 {
		c.KeepaliveTimeout = defaults.KeepaliveTimeout
	}
}

// Validate checks required fields and the device id / device name exclusivity.
func (c *Config) Validate() error {
	return criterio.ValidateStruct(
		criterio.Run("email", c.Email, required),
		criterio.Run("password", c.Password, required),
		criterio.Run("command", c.CommandPath, required),
		c.validateDevice(),
		c.validateTimings(),
	)
}

func (c *Config) validateDevice() error {
	switch {
	case c.DeviceName != "" && c.DeviceID != "":
		return criterio.NewFieldErrors("device_name", errors.New("device_name and device_id are mutually exclusive"))
	case c.DeviceName == "" && c.DeviceID == "":
		return criterio.NewFieldErrors("device_id", errors.New("one of device_name or device_id is required"))
	case c.DeviceName != "":
		return criterio.Run("device_name", c.DeviceName, validDeviceName)
	}
	return nil
}

func (c *Config) validateTimings() error {
	var errs criterio.FieldErrorsBuilder
	if c.RestartDelay < 0 {
		errs = errs.Append("restart_delay", errors.New("must not be negative"))
	}
	if c.MaxRestartDelay < c.RestartDelay {
		errs = errs.Append("max_restart_delay", fmt.Errorf("must be at least restart_delay (%s)", c.RestartDelay))
	}
	if c.RequestTimeout < 0 {
		errs = errs.Append("request_timeout", errors.New("must not be negative"))
	}
	if c.KeepaliveTimeout < 0 {
		errs = errs.Append("keepalive_timeout", errors.New("must not be negative"))
	}
	if c.CommandTimeout < 0 {
		errs = errs.Append("command_timeout", errors.New("must not be negative"))
	}
	for i, title := range c.CommandTitles {
		if title == "" {
			errs = errs.Append(fmt.Sprintf("command_titles[%d]", i), errors.New("is empty"))
		}
	}
	return errs.ToError()
}

func required(s string) error {
	if s == "" {
		return errors.New("is required")
	}
	return nil
}

func validDeviceName(name string) error {
	if !deviceNamePattern.MatchString(name) {
		return fmt.Errorf("%q must be 1-25 letters, digits, '_' or '-'", name)
	}
	return nil
}
