// Package config reads ttsd settings from TTSD_* environment variables.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/viper"

	"github.com/blacktop/ttsd/internal/state"
	"github.com/blacktop/ttsd/internal/supervisor"
)

const (
	EnvPrefix = "TTSD"

	DefaultPort     = 8080
	DefaultLogLevel = "info"

	KeyStateDir     = "state_dir"
	KeyPort         = "port"
	KeyStopTimeout  = "stop_timeout"
	KeyPollInterval = "poll_interval"
	KeyLogLevel     = "log_level"
)

// ErrInvalidPort is returned for port values that are not an integer in
// 1-65535. It is the same sentinel the supervisor returns.
var ErrInvalidPort = state.ErrInvalidPort

// Config holds the resolved settings.
type Config struct {
	// StateDir is the raw override; empty means use the platform default.
	StateDir     string
	StopTimeout  time.Duration
	PollInterval time.Duration
	LogLevel     string

	// port is validated lazily so that stop and status keep working with a
	// broken TTSD_PORT.
	port string
}

// NewViper returns a viper instance bound to the TTSD_* environment.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	v.SetDefault(KeyPort, strconv.Itoa(DefaultPort))
	v.SetDefault(KeyStopTimeout, supervisor.DefaultStopTimeout)
	v.SetDefault(KeyPollInterval, supervisor.DefaultPollInterval)
	v.SetDefault(KeyLogLevel, DefaultLogLevel)
	return v
}

// Load extracts a Config from v.
func Load(v *viper.Viper) (*Config, error) {
	cfg := fromViper(v)
	if err := cfg.validateTimings(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault is Load for commands that must not fail on bad settings.
// Invalid stop timings are replaced by their defaults with a warning.
func LoadOrDefault(v *viper.Viper) *Config {
	cfg := fromViper(v)
	if err := cfg.validateTimings(); err != nil {
		log.Warn("Ignoring invalid stop timings, using defaults", "error", err)
		cfg.StopTimeout = supervisor.DefaultStopTimeout
		cfg.PollInterval = supervisor.DefaultPollInterval
	}
	return cfg
}

func fromViper(v *viper.Viper) *Config {
	return &Config{
		StateDir:     strings.TrimSpace(v.GetString(KeyStateDir)),
		StopTimeout:  v.GetDuration(KeyStopTimeout),
		PollInterval: v.GetDuration(KeyPollInterval),
		LogLevel:     v.GetString(KeyLogLevel),
		port:         strings.TrimSpace(v.GetString(KeyPort)),
	}
}

func (c *Config) validateTimings() error {
	if c.StopTimeout <= 0 {
		return fmt.Errorf("%s must be a positive duration", KeyStopTimeout)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("%s must be a positive duration", KeyPollInterval)
	}
	if c.PollInterval > c.StopTimeout {
		return fmt.Errorf("%s (%s) must not exceed %s (%s)", KeyPollInterval, c.PollInterval, KeyStopTimeout, c.StopTimeout)
	}
	return nil
}

// LogLevel resolves the log level set in v. verbose forces debug. An
// unrecognised level is reported and info is returned alongside the error.
func LogLevel(v *viper.Viper, verbose bool) (log.Level, error) {
	if verbose {
		return log.DebugLevel, nil
	}
	level := v.GetString(KeyLogLevel)
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return log.InfoLevel, fmt.Errorf("invalid %s %q", KeyLogLevel, level)
	}
	return lvl, nil
}

// Port returns the default port for start, from TTSD_PORT or the built-in
// default.
func (c *Config) Port() (int, error) {
	if c.port == "" {
		return DefaultPort, nil
	}
	p, err := ParsePort(c.port)
	if err != nil {
		return 0, fmt.Errorf("%s_%s: %w", EnvPrefix, strings.ToUpper(KeyPort), err)
	}
	return p, nil
}

// FallbackPort is Port with invalid values replaced by DefaultPort. It is
// what the state store reports when metadata is unreadable.
func (c *Config) FallbackPort() int {
	if p, err := c.Port(); err == nil {
		return p
	}
	return DefaultPort
}

// ParsePort parses s as a port number.
func ParsePort(s string) (int, error) {
	p, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%w %q: not a number", ErrInvalidPort, s)
	}
	if err := ValidatePort(p); err != nil {
		return 0, err
	}
	return p, nil
}

// ValidatePort checks that p is within 1-65535.
func ValidatePort(p int) error {
	return state.ValidatePort(p)
}
