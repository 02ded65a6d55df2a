// Package config assembles the clicker settings from flags and the environment using Viper
package config

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/bnema/wl-clicker/internal/logger"
	"github.com/spf13/viper"
)

const (
	// DefaultClicksPerSecond is used when no rate argument is given
	DefaultClicksPerSecond = 1

	// IdleTimeout bounds each wait while the hotkey is inactive
	IdleTimeout = time.Second

	// LogLevelEnv names the environment variable read when --log-level is not given
	LogLevelEnv = "LOG_LEVEL"

	envLogLevelKey = "env_log_level"
)

var (
	// ErrInvalidArgument marks malformed command-line input
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrZeroRate is returned for a rate of zero clicks per second
	ErrZeroRate = errors.New("clicks per second must be at least 1")
)

// Config represents the clicker configuration
type Config struct {
	ClicksPerSecond int    `mapstructure:"clicks_per_second"`
	Button          int    `mapstructure:"button"`    // 0 left, 1 right, 2 middle
	Toggle          bool   `mapstructure:"toggle"`    // TOGGLE policy instead of HOLD
	Device          string `mapstructure:"device"`    // Keyboard event node, empty for discovery
	LogLevel        string `mapstructure:"log_level"` // Overrides LOG_LEVEL env var
}

// SetDefaults registers the default values on v
func SetDefaults(v *viper.Viper) {
	v.SetDefault("clicks_per_second", DefaultClicksPerSecond)
	v.SetDefault("button", 0)
	v.SetDefault("toggle", false)
	v.SetDefault("device", "")
	v.SetDefault("log_level", "")
}

// BindEnv binds the environment variables Load consults. LOG_LEVEL is kept
// under its own key so a bad value there is not mistaken for a bad flag.
func BindEnv(v *viper.Viper) error {
	return v.BindEnv(envLogLevelKey, LogLevelEnv)
}

// Load builds a validated Config from v and the positional arguments.
// The first positional argument, when present, is the click rate.
func Load(v *viper.Viper, args []string) (*Config, error) {
	SetDefaults(v)

	if len(args) > 1 {
		return nil, fmt.Errorf("%w: expected at most one positional argument, got %d", ErrInvalidArgument, len(args))
	}
	if len(args) == 1 {
		cps, err := ParseClicksPerSecond(args[0])
		if err != nil {
			return nil, err
		}
		v.Set("clicks_per_second", cps)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unable to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = envLogLevel(v)
	}
	return cfg, nil
}

// envLogLevel returns the LOG_LEVEL value, or empty when it is unset or not
// a level name. Unknown names fall back to info like the logger itself does.
func envLogLevel(v *viper.Viper) string {
	level := v.GetString(envLogLevelKey)
	if level == "" {
		return ""
	}
	if _, err := logger.ParseLevel(level); err != nil {
		logger.Warn("Ignoring LOG_LEVEL, using info", "error", err)
		return ""
	}
	return level
}

// ParseClicksPerSecond parses a rate argument. Negative values are taken
// by magnitude.
func ParseClicksPerSecond(arg string) (int, error) {
	n, err := strconv.Atoi(arg)
	if err != nil {
		return 0, fmt.Errorf("%w: clicks per second %q is not an integer", ErrInvalidArgument, arg)
	}
	if n < 0 {
		if -n < 0 {
			return 0, fmt.Errorf("%w: clicks per second %q is out of range", ErrInvalidArgument, arg)
		}
		n = -n
	}
	return n, nil
}

// Validate checks the configuration for values the clicker cannot run with
func (c *Config) Validate() error {
	if c.ClicksPerSecond == 0 {
		return ErrZeroRate
	}
	if c.ClicksPerSecond < 0 {
		return fmt.Errorf("clicks per second must be positive, got %d", c.ClicksPerSecond)
	}
	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	return nil
}

// Interval returns the click period. It is never zero.
func (c *Config) Interval() time.Duration {
	if c.ClicksPerSecond <= 0 {
		return time.Second
	}
	interval := time.Second / time.Duration(c.ClicksPerSecond)
	if interval <= 0 {
		return time.Nanosecond
	}
	return interval
}
