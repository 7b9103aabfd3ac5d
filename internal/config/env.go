package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// envBinding connects one environment variable to one typed setter. The
// explicit table keeps the env surface greppable and rejects typos instead
// of silently inventing settings.
type envBinding struct {
	name string
	set  func(cfg *Config, value string) error
}

func envBindings() []envBinding {
	return []envBinding{
		{"GADUGI_POOL_MAX_SIZE", intSetter(func(c *Config) *int { return &c.Pool.MaxSize })},
		{"GADUGI_POOL_MIN_SIZE", intSetter(func(c *Config) *int { return &c.Pool.MinSize })},
		{"GADUGI_POOL_IDLE_TIMEOUT", durationSetter(func(c *Config) *time.Duration { return &c.Pool.IdleTimeout })},
		{"GADUGI_POOL_MAX_AGE", durationSetter(func(c *Config) *time.Duration { return &c.Pool.MaxAge })},
		{"GADUGI_POOL_ACQUISITION_TIMEOUT", durationSetter(func(c *Config) *time.Duration { return &c.Pool.AcquisitionTimeout })},

		{"GADUGI_MEMORY_MAX_HEAP", uint64Setter(func(c *Config) *uint64 { return &c.Memory.MaxHeapUsed })},
		{"GADUGI_MEMORY_MAX_RSS", uint64Setter(func(c *Config) *uint64 { return &c.Memory.MaxRSS })},
		{"GADUGI_MEMORY_GC_THRESHOLD", intSetter(func(c *Config) *int { return &c.Memory.GCThresholdPercent })},
		{"GADUGI_MEMORY_MONITOR_INTERVAL", durationSetter(func(c *Config) *time.Duration { return &c.Memory.CheckInterval })},

		{"GADUGI_BUFFER_MAX_SIZE", intSetter(func(c *Config) *int { return &c.Buffer.MaxBufferSize })},
		{"GADUGI_BUFFER_MAX_TOTAL", intSetter(func(c *Config) *int { return &c.Buffer.MaxTotalBuffers })},
		{"GADUGI_BUFFER_COMPRESSION_THRESHOLD", intSetter(func(c *Config) *int { return &c.Buffer.CompressionThreshold })},
		{"GADUGI_BUFFER_ROTATION_INTERVAL", durationSetter(func(c *Config) *time.Duration { return &c.Buffer.RotationInterval })},

		{"GADUGI_ENABLE_METRICS", boolSetter(func(c *Config) *bool { return &c.EnableMetrics })},
		{"GADUGI_ENABLE_GC", boolSetter(func(c *Config) *bool { return &c.EnableGC })},
	}
}

// ApplyEnv overlays GADUGI_* environment variables onto cfg. Parse errors
// name the offending variable.
func ApplyEnv(cfg *Config) error {
	for _, b := range envBindings() {
		value, ok := os.LookupEnv(b.name)
		if !ok {
			continue
		}
		if err := b.set(cfg, value); err != nil {
			return fmt.Errorf("%s: %w", b.name, err)
		}
	}
	return nil
}

func intSetter(field func(*Config) *int) func(*Config, string) error {
	return func(cfg *Config, value string) error {
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid integer %q", value)
		}
		*field(cfg) = n
		return nil
	}
}

func uint64Setter(field func(*Config) *uint64) func(*Config, string) error {
	return func(cfg *Config, value string) error {
		n, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid unsigned integer %q", value)
		}
		*field(cfg) = n
		return nil
	}
}

func durationSetter(field func(*Config) *time.Duration) func(*Config, string) error {
	return func(cfg *Config, value string) error {
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration %q", value)
		}
		*field(cfg) = d
		return nil
	}
}

func boolSetter(field func(*Config) *bool) func(*Config, string) error {
	return func(cfg *Config, value string) error {
		v, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean %q", value)
		}
		*field(cfg) = v
		return nil
	}
}
