// Package config holds the runtime configuration for devices, logging and CPU parallelism.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Driver names accepted in Device.Driver.
const (
	DriverAuto   = "auto"
	DriverNative = "native"
	DriverSoft   = "soft"
)

// Config is the top-level configuration.
type Config struct {
	Device   Device   `yaml:"device"`
	Log      Log      `yaml:"log"`
	Parallel Parallel `yaml:"parallel"`
}

// Device configures how a GPU device context is opened and bounded.
type Device struct {
	Driver          string        `yaml:"driver"`           // auto, native or soft
	Ordinal         int           `yaml:"ordinal"`          // adapter index
	PowerPreference string        `yaml:"power_preference"` // high-performance or low-power
	ReadbackTimeout time.Duration `yaml:"readback_timeout"` // bound on each read-back wait
	MaxBufferSize   uint64        `yaml:"max_buffer_size"`  // 0 = adapter limit
	MemoryBudget    uint64        `yaml:"memory_budget"`    // 0 = unlimited
	StagingPool     int           `yaml:"staging_pool"`     // staging buffers kept for reuse
	Soft            Soft          `yaml:"soft"`
}

// Soft configures the software driver.
type Soft struct {
	Adapters      int           `yaml:"adapters"`        // number of enumerable adapters
	QueueLatency  time.Duration `yaml:"queue_latency"`   // artificial per-submission latency
	MaxBufferSize uint64        `yaml:"max_buffer_size"` // per-buffer limit reported by the adapter
}

// Log configures the global logger.
type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // console or json
}

// Parallel configures CPU kernel parallelism.
type Parallel struct {
	Enabled      bool `yaml:"enabled"`
	Workers      int  `yaml:"workers"`        // 0 = runtime.NumCPU()
	MinChunkSize int  `yaml:"min_chunk_size"` // minimum items per goroutine
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		Device: Device{
			Driver:          DriverAuto,
			PowerPreference: "high-performance",
			ReadbackTimeout: 10 * time.Second,
			StagingPool:     8,
			Soft: Soft{
				Adapters:      1,
				MaxBufferSize: 256 << 20,
			},
		},
		Log: Log{
			Level:  "warn",
			Format: "console",
		},
		Parallel: Parallel{
			Enabled:      true,
			MinChunkSize: 64,
		},
	}
}

// Validate checks the configuration for inconsistent values.
func (c *Config) Validate() error {
	if err := c.Device.Validate(); err != nil {
		return err
	}
	switch strings.ToLower(c.Log.Format) {
	case "console", "json":
	default:
		return fmt.Errorf("invalid log format: %q (must be console or json)", c.Log.Format)
	}
	if c.Parallel.Workers < 0 {
		return fmt.Errorf("invalid parallel workers: %d (must be >= 0)", c.Parallel.Workers)
	}
	if c.Parallel.MinChunkSize < 0 {
		return fmt.Errorf("invalid parallel min_chunk_size: %d (must be >= 0)", c.Parallel.MinChunkSize)
	}
	return nil
}

// Validate checks the device section.
func (d *Device) Validate() error {
	switch d.Driver {
	case DriverAuto, DriverNative, DriverSoft:
	default:
		return fmt.Errorf("invalid device driver: %q (must be auto, native or soft)", d.Driver)
	}
	if d.Ordinal < 0 {
		return fmt.Errorf("invalid device ordinal: %d (must be >= 0)", d.Ordinal)
	}
	switch d.PowerPreference {
	case "", "high-performance", "low-power":
	default:
		return fmt.Errorf("invalid power preference: %q", d.PowerPreference)
	}
	if d.ReadbackTimeout <= 0 {
		return fmt.Errorf("invalid readback timeout: %v (must be positive)", d.ReadbackTimeout)
	}
	if d.StagingPool < 0 {
		return fmt.Errorf("invalid staging pool: %d (must be >= 0)", d.StagingPool)
	}
	if d.Soft.Adapters < 1 {
		return fmt.Errorf("invalid soft adapters: %d (must be >= 1)", d.Soft.Adapters)
	}
	if d.Soft.QueueLatency < 0 {
		return fmt.Errorf("invalid soft queue latency: %v", d.Soft.QueueLatency)
	}
	return nil
}

// Load reads a YAML file on top of the defaults and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	//nolint:gosec // G304: config path is supplied by the operator
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from BORN_* environment variables.
func (c *Config) ApplyEnv() error {
	return c.applyEnv(os.LookupEnv)
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("BORN_DEVICE_DRIVER"); ok {
		c.Device.Driver = strings.ToLower(v)
	}
	if v, ok := lookup("BORN_DEVICE_ORDINAL"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid BORN_DEVICE_ORDINAL: %w", err)
		}
		c.Device.Ordinal = n
	}
	if v, ok := lookup("BORN_READBACK_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid BORN_READBACK_TIMEOUT: %w", err)
		}
		c.Device.ReadbackTimeout = d
	}
	if v, ok := lookup("BORN_LOG_LEVEL"); ok {
		c.Log.Level = v
	}
	if v, ok := lookup("BORN_LOG_FORMAT"); ok {
		c.Log.Format = v
	}
	return c.Validate()
}
