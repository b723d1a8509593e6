package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/goccy/go-yaml"
	"github.com/kelseyhightower/envconfig"

	"github.com/GriffinCanCode/AgentOS/kernel/internal/pidtable"
)

// Config holds all kernel configuration.
type Config struct {
	Kernel  KernelConfig `yaml:"kernel"`
	Logging LogConfig    `yaml:"logging"`
	Debug   DebugConfig  `yaml:"debug"`
}

// KernelConfig sizes the process subsystem.
type KernelConfig struct {
	PidMax   int    `envconfig:"KERNEL_PID_MAX" default:"250" yaml:"pid_max"`
	OpenMax  int    `envconfig:"KERNEL_OPEN_MAX" default:"128" yaml:"open_max"`
	ReapMode string `envconfig:"KERNEL_REAP_MODE" default:"wait" yaml:"reap_mode"`
	// MemPages caps physical pages across all address spaces; 0 is no cap.
	MemPages int `envconfig:"KERNEL_MEM_PAGES" default:"0" yaml:"mem_pages"`
	ArgMax   int `envconfig:"KERNEL_ARG_MAX" default:"65536" yaml:"arg_max"`
	PathMax  int `envconfig:"KERNEL_PATH_MAX" default:"1024" yaml:"path_max"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info" yaml:"level"`
	Development bool   `envconfig:"LOG_DEV" default:"false" yaml:"development"`
}

// DebugConfig holds the debug HTTP endpoint configuration.
type DebugConfig struct {
	Enabled           bool   `envconfig:"DEBUG_ENABLED" default:"false" yaml:"enabled"`
	Addr              string `envconfig:"DEBUG_ADDR" default:":9090" yaml:"addr"`
	RequestsPerSecond int    `envconfig:"DEBUG_RPS" default:"20" yaml:"rps"`
	Burst             int    `envconfig:"DEBUG_BURST" default:"40" yaml:"burst"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFile loads configuration from the environment and then overlays the
// YAML boot file at path. Keys present in the file win.
func LoadFile(path string) (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read boot file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse boot file %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Kernel: KernelConfig{
			PidMax:   pidtable.DefaultPidMax,
			OpenMax:  128,
			ReapMode: "wait",
			ArgMax:   65536,
			PathMax:  1024,
		},
		Logging: LogConfig{
			Level: "info",
		},
		Debug: DebugConfig{
			Addr:              ":9090",
			RequestsPerSecond: 20,
			Burst:             40,
		},
	}
}

// Validate checks the values that cannot be caught by type.
func (c *Config) Validate() error {
	var errs []error
	if c.Kernel.PidMax < pidtable.PidMin {
		errs = append(errs, fmt.Errorf("kernel.pid_max %d is below %d", c.Kernel.PidMax, pidtable.PidMin))
	}
	// Every program starts with the console on descriptors 0 to 2.
	if c.Kernel.OpenMax < 3 {
		errs = append(errs, fmt.Errorf("kernel.open_max %d leaves no room for the console", c.Kernel.OpenMax))
	}
	if _, err := c.ReapMode(); err != nil {
		errs = append(errs, fmt.Errorf("kernel.reap_mode: %w", err))
	}
	if c.Kernel.MemPages < 0 {
		errs = append(errs, fmt.Errorf("kernel.mem_pages %d is negative", c.Kernel.MemPages))
	}
	if c.Kernel.ArgMax <= 0 || c.Kernel.PathMax <= 0 {
		errs = append(errs, errors.New("kernel.arg_max and kernel.path_max must be positive"))
	}
	if c.Debug.Enabled && (c.Debug.RequestsPerSecond <= 0 || c.Debug.Burst <= 0) {
		errs = append(errs, errors.New("debug.rps and debug.burst must be positive"))
	}
	return errors.Join(errs...)
}

// ReapMode parses Kernel.ReapMode.
func (c *Config) ReapMode() (pidtable.ReapMode, error) {
	return pidtable.ParseReapMode(c.Kernel.ReapMode)
}
