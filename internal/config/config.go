// Package config loads the mount server's YAML configuration.
package config

import (
	"fmt"
	"io/ioutil"
	"time"

	"gopkg.in/yaml.v3"
)

// SerialConfig selects and tunes the hardware link. An empty port
// selects the built-in simulator.
type SerialConfig struct {
	Port      string `yaml:"port"`       // e.g., /dev/ttyUSB0; empty = simulator
	Baud      int    `yaml:"baud"`       // defaults to 9600
	TimeoutMs int    `yaml:"timeout_ms"` // per-command reply timeout, defaults to 2000
}

// SiteConfig locates the observer for horizontal-coordinate goals.
type SiteConfig struct {
	LatitudeDeg  float64 `yaml:"latitude_deg"`
	LongitudeDeg float64 `yaml:"longitude_deg"` // east positive
}

// MotionConfig tunes the movement orchestrator.
type MotionConfig struct {
	ToleranceDeg   float64 `yaml:"tolerance_deg"`    // goal tolerance per axis, defaults to 0.05
	PollIntervalMs int     `yaml:"poll_interval_ms"` // movement loop period, defaults to 100
	ParkRA         float64 `yaml:"park_ra"`
	ParkDec        float64 `yaml:"park_dec"`
	HomeRA         float64 `yaml:"home_ra"`
	HomeDec        float64 `yaml:"home_dec"`
	MinDec         float64 `yaml:"min_dec"`      // defaults to -90
	MaxDec         float64 `yaml:"max_dec"`      // defaults to 90
	MaxPulseMs     int     `yaml:"max_pulse_ms"` // defaults to 10000
}

// PowerConfig describes the optional modbus drive-power box. Either a
// local serial port or a remote modbus_server URL.
type PowerConfig struct {
	Port string `yaml:"port"`
	Baud int    `yaml:"baud"` // defaults to 19200
	URL  string `yaml:"url"`
}

// Config aggregates the whole server configuration.
type Config struct {
	Serial SerialConfig `yaml:"serial"`
	Site   SiteConfig   `yaml:"site"`
	Motion MotionConfig `yaml:"motion"`
	Power  *PowerConfig `yaml:"power,omitempty"` // optional
}

// Load reads a YAML file, applies defaults and validates.
func Load(path string) (*Config, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a configuration suitable for the simulator.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (cfg *Config) applyDefaults() error {
	if cfg.Serial.Baud == 0 {
		cfg.Serial.Baud = 9600
	}
	if cfg.Serial.TimeoutMs <= 0 {
		cfg.Serial.TimeoutMs = 2000
	}
	if cfg.Site.LatitudeDeg < -90 || cfg.Site.LatitudeDeg > 90 {
		return fmt.Errorf("site.latitude_deg must be within [-90, 90], got %.3f", cfg.Site.LatitudeDeg)
	}
	if cfg.Motion.ToleranceDeg < 0 {
		return fmt.Errorf("motion.tolerance_deg must be >= 0, got %.3f", cfg.Motion.ToleranceDeg)
	}
	if cfg.Motion.ToleranceDeg == 0 {
		cfg.Motion.ToleranceDeg = 0.05
	}
	if cfg.Motion.PollIntervalMs <= 0 {
		cfg.Motion.PollIntervalMs = 100
	}
	if cfg.Motion.MinDec == 0 && cfg.Motion.MaxDec == 0 {
		cfg.Motion.MinDec, cfg.Motion.MaxDec = -90, 90
	}
	if cfg.Motion.MinDec >= cfg.Motion.MaxDec {
		return fmt.Errorf("motion.min_dec %.1f must be below motion.max_dec %.1f", cfg.Motion.MinDec, cfg.Motion.MaxDec)
	}
	if cfg.Motion.MaxPulseMs <= 0 {
		cfg.Motion.MaxPulseMs = 10000
	}
	if cfg.Power != nil && cfg.Power.Baud == 0 {
		cfg.Power.Baud = 19200
	}
	return nil
}

// SerialTimeout returns the per-command reply timeout.
func (cfg *Config) SerialTimeout() time.Duration {
	return time.Duration(cfg.Serial.TimeoutMs) * time.Millisecond
}

// PollInterval returns the movement loop period.
func (cfg *Config) PollInterval() time.Duration {
	return time.Duration(cfg.Motion.PollIntervalMs) * time.Millisecond
}

// MaxPulse returns the longest accepted pulse-guide duration.
func (cfg *Config) MaxPulse() time.Duration {
	return time.Duration(cfg.Motion.MaxPulseMs) * time.Millisecond
}
