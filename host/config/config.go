// Package config loads rtc-host settings from a YAML file
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"rtclock/host/serial"
)

// Defaults for values the file leaves out
const (
	DefaultDevice       = "/dev/ttyUSB0"
	DefaultReadTimeout  = 100 * time.Millisecond
	DefaultAckTimeout   = 2 * time.Second
	DefaultDictChunk    = 40
	DefaultTickInterval = time.Second
)

// Config is the rtc-host configuration
type Config struct {
	Device      string        `yaml:"device"`
	Baud        int           `yaml:"baud"`
	ReadTimeout time.Duration `yaml:"read_timeout"`
	AckTimeout  time.Duration `yaml:"ack_timeout"`

	// DictChunk is the identify chunk size requested from the board
	DictChunk int `yaml:"dict_chunk"`

	Sim SimConfig `yaml:"sim"`
}

// SimConfig controls the in-process simulated board
type SimConfig struct {
	// TickInterval is how often the simulated crystal advances the counter.
	// Zero leaves the clock stopped.
	TickInterval time.Duration `yaml:"tick_interval"`

	// Counter seeds the simulated counter on first power-up
	Counter uint32 `yaml:"counter"`
}

// Default returns a configuration with every default filled in
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	if c.Device == "" {
		c.Device = DefaultDevice
	}
	if c.Baud == 0 {
		c.Baud = serial.DefaultBaud
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.AckTimeout == 0 {
		c.AckTimeout = DefaultAckTimeout
	}
	if c.DictChunk == 0 {
		c.DictChunk = DefaultDictChunk
	}
	if c.Sim.TickInterval == 0 {
		c.Sim.TickInterval = DefaultTickInterval
	}
}

// Validate rejects settings the host cannot use
func (c *Config) Validate() error {
	if c.Baud < 0 {
		return fmt.Errorf("baud must be positive, got %d", c.Baud)
	}
	if c.ReadTimeout < 0 || c.AckTimeout < 0 {
		return errors.New("timeouts must not be negative")
	}
	if c.DictChunk < 1 || c.DictChunk > 255 {
		return fmt.Errorf("dict_chunk must be in 1..255, got %d", c.DictChunk)
	}
	return nil
}

// Parse decodes YAML data and applies defaults
func Parse(data []byte) (*Config, error) {
	c := &Config{}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Load reads the file at path. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// Serial returns the port settings
func (c *Config) Serial() *serial.Config {
	return &serial.Config{
		Device:      c.Device,
		Baud:        c.Baud,
		ReadTimeout: c.ReadTimeout,
	}
}
