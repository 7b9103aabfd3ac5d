package config

import (
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rysweet/gadugi-agentic-test-sub003/internal/buffer"
	"github.com/rysweet/gadugi-agentic-test-sub003/internal/memory"
	"github.com/rysweet/gadugi-agentic-test-sub003/internal/pool"
	"github.com/rysweet/gadugi-agentic-test-sub003/internal/resource"
)

// Config is the full runtime configuration.
type Config struct {
	Pool   pool.Config
	Memory memory.Config
	Buffer buffer.Config

	// EnableMetrics turns on periodic metrics events.
	EnableMetrics bool

	// EnableGC allows the memory monitor to trigger collections.
	EnableGC bool
}

// Default returns the compiled-in configuration.
func Default() Config {
	return Config{
		Pool: pool.Config{
			MaxSize:            pool.DefaultMaxSize,
			IdleTimeout:        pool.DefaultIdleTimeout,
			MaxAge:             pool.DefaultMaxAge,
			AcquisitionTimeout: pool.DefaultAcquisitionTimeout,
		},
		Memory: memory.Config{
			MaxHeapUsed:        memory.DefaultMaxHeapUsed,
			MaxRSS:             memory.DefaultMaxRSS,
			GCThresholdPercent: memory.DefaultGCThresholdPercent,
			CheckInterval:      memory.DefaultCheckInterval,
		},
		Buffer: buffer.Config{
			MaxBufferSize:        buffer.DefaultMaxBufferSize,
			MaxTotalBuffers:      buffer.DefaultMaxTotalBuffers,
			CompressionThreshold: buffer.DefaultCompressionThreshold,
			RotationInterval:     buffer.DefaultRotationInterval,
		},
		EnableMetrics: false,
		EnableGC:      true,
	}
}

// Resource maps the configuration onto the optimizer's view, folding the
// top-level GC switch into the memory section.
func (c Config) Resource() resource.Config {
	mem := c.Memory
	mem.EnableGC = c.EnableGC
	return resource.Config{
		Pool:          c.Pool,
		Memory:        mem,
		Buffer:        c.Buffer,
		EnableMetrics: c.EnableMetrics,
	}
}

// Duration parses "30s" style strings from YAML and TOML.
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	return d.UnmarshalText([]byte(node.Value))
}

// File is the on-disk overlay. Every field is a pointer so an absent key
// leaves the default untouched.
type File struct {
	Pool   *PoolFile   `yaml:"pool" toml:"pool"`
	Memory *MemoryFile `yaml:"memory" toml:"memory"`
	Buffer *BufferFile `yaml:"buffer" toml:"buffer"`

	EnableMetrics *bool `yaml:"enableMetrics" toml:"enableMetrics"`
	EnableGC      *bool `yaml:"enableGarbageCollection" toml:"enableGarbageCollection"`
}

// PoolFile overlays the pool section.
type PoolFile struct {
	MaxSize            *int      `yaml:"maxSize" toml:"maxSize"`
	MinSize            *int      `yaml:"minSize" toml:"minSize"`
	IdleTimeout        *Duration `yaml:"idleTimeout" toml:"idleTimeout"`
	MaxAge             *Duration `yaml:"maxAge" toml:"maxAge"`
	AcquisitionTimeout *Duration `yaml:"acquisitionTimeout" toml:"acquisitionTimeout"`
}

// MemoryFile overlays the memory section.
type MemoryFile struct {
	MaxHeapUsed        *uint64   `yaml:"maxHeapUsed" toml:"maxHeapUsed"`
	MaxRSS             *uint64   `yaml:"maxRSS" toml:"maxRSS"`
	GCThresholdPercent *int      `yaml:"gcThreshold" toml:"gcThreshold"`
	CheckInterval      *Duration `yaml:"monitorInterval" toml:"monitorInterval"`
}

// BufferFile overlays the buffer section.
type BufferFile struct {
	MaxBufferSize        *int      `yaml:"maxBufferSize" toml:"maxBufferSize"`
	MaxTotalBuffers      *int      `yaml:"maxTotalBuffers" toml:"maxTotalBuffers"`
	CompressionThreshold *int      `yaml:"compressionThreshold" toml:"compressionThreshold"`
	RotationInterval     *Duration `yaml:"rotationInterval" toml:"rotationInterval"`
}

// Merge folds a file overlay onto a configuration. A nil overlay is a
// no-op, matching a missing config file.
func Merge(cfg Config, f *File) Config {
	if f == nil {
		return cfg
	}

	if p := f.Pool; p != nil {
		setInt(&cfg.Pool.MaxSize, p.MaxSize)
		setInt(&cfg.Pool.MinSize, p.MinSize)
		setDuration(&cfg.Pool.IdleTimeout, p.IdleTimeout)
		setDuration(&cfg.Pool.MaxAge, p.MaxAge)
		setDuration(&cfg.Pool.AcquisitionTimeout, p.AcquisitionTimeout)
	}
	if m := f.Memory; m != nil {
		if m.MaxHeapUsed != nil {
			cfg.Memory.MaxHeapUsed = *m.MaxHeapUsed
		}
		if m.MaxRSS != nil {
			cfg.Memory.MaxRSS = *m.MaxRSS
		}
		setInt(&cfg.Memory.GCThresholdPercent, m.GCThresholdPercent)
		setDuration(&cfg.Memory.CheckInterval, m.CheckInterval)
	}
	if b := f.Buffer; b != nil {
		setInt(&cfg.Buffer.MaxBufferSize, b.MaxBufferSize)
		setInt(&cfg.Buffer.MaxTotalBuffers, b.MaxTotalBuffers)
		setInt(&cfg.Buffer.CompressionThreshold, b.CompressionThreshold)
		setDuration(&cfg.Buffer.RotationInterval, b.RotationInterval)
	}
	if f.EnableMetrics != nil {
		cfg.EnableMetrics = *f.EnableMetrics
	}
	if f.EnableGC != nil {
		cfg.EnableGC = *f.EnableGC
	}
	return cfg
}

func setInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

func setDuration(dst *time.Duration, src *Duration) {
	if src != nil {
		*dst = time.Duration(*src)
	}
}
