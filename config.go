package gpures

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied when a Config or component Options field is zero.
const (
	DefaultMaxPoolSize           = 50
	DefaultCleanupInterval       = 60 * time.Second
	DefaultShaderLifetime        = 5 * time.Minute
	DefaultShaderCleanupInterval = 60 * time.Second
	DefaultMaxPrograms           = 256
	DefaultHistoryLimit          = 3600
	DefaultFPSWindow             = time.Second

	DefaultGeometryLifetime        = time.Minute
	DefaultGeometryCleanupInterval = 30 * time.Second
)

// Config collects the tunables of every component. It is normally loaded
// from YAML:
//
//	pool:
//	  max_pool_size: 64
//	  cleanup_interval: 30s
//	shader:
//	  lifetime: 10m
//	monitor:
//	  memory_budget: 268435456
//
// Zero fields mean "use the default"; see WithDefaults.
type Config struct {
	Pool     PoolConfig     `yaml:"pool"`
	Shader   ShaderConfig   `yaml:"shader"`
	Geometry GeometryConfig `yaml:"geometry"`
	Monitor  MonitorConfig  `yaml:"monitor"`
}

// PoolConfig configures BufferPool and TexturePool.
type PoolConfig struct {
	MaxPoolSize     int           `yaml:"max_pool_size"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// ShaderConfig configures the program cache.
type ShaderConfig struct {
	Lifetime        time.Duration `yaml:"lifetime"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
	MaxPrograms     int           `yaml:"max_programs"`
}

// GeometryConfig configures the keyed geometry cache.
type GeometryConfig struct {
	// Lifetime is how long a cached mesh may go unused before a sweep
	// hands its buffers back to the pool.
	Lifetime        time.Duration `yaml:"lifetime"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// MonitorConfig configures the performance monitor.
type MonitorConfig struct {
	HistoryLimit int           `yaml:"history_limit"`
	FPSWindow    time.Duration `yaml:"fps_window"`

	// MemoryBudget is the estimated byte total above which the monitor
	// recommends shrinking the pools. Zero disables the check.
	MemoryBudget int64 `yaml:"memory_budget"`
}

// DefaultConfig returns a Config with every field set to its default.
func DefaultConfig() Config {
	return Config{}.WithDefaults()
}

// WithDefaults returns a copy of c with zero fields replaced by defaults.
// MemoryBudget has no default.
func (c Config) WithDefaults() Config {
	if c.Pool.MaxPoolSize == 0 {
		c.Pool.MaxPoolSize = DefaultMaxPoolSize
	}
	if c.Pool.CleanupInterval == 0 {
		c.Pool.CleanupInterval = DefaultCleanupInterval
	}
	if c.Shader.Lifetime == 0 {
		c.Shader.Lifetime = DefaultShaderLifetime
	}
	if c.Shader.CleanupInterval == 0 {
		c.Shader.CleanupInterval = DefaultShaderCleanupInterval
	}
	if c.Shader.MaxPrograms == 0 {
		c.Shader.MaxPrograms = DefaultMaxPrograms
	}
	if c.Geometry.Lifetime == 0 {
		c.Geometry.Lifetime = DefaultGeometryLifetime
	}
	if c.Geometry.CleanupInterval == 0 {
		c.Geometry.CleanupInterval = DefaultGeometryCleanupInterval
	}
	if c.Monitor.HistoryLimit == 0 {
		c.Monitor.HistoryLimit = DefaultHistoryLimit
	}
	if c.Monitor.FPSWindow == 0 {
		c.Monitor.FPSWindow = DefaultFPSWindow
	}
	return c
}

// Validate rejects negative values.
func (c Config) Validate() error {
	checks := []struct {
		name string
		bad  bool
	}{
		{"pool.max_pool_size", c.Pool.MaxPoolSize < 0},
		{"pool.cleanup_interval", c.Pool.CleanupInterval < 0},
		{"shader.lifetime", c.Shader.Lifetime < 0},
		{"shader.cleanup_interval", c.Shader.CleanupInterval < 0},
		{"shader.max_programs", c.Shader.MaxPrograms < 0},
		{"geometry.lifetime", c.Geometry.Lifetime < 0},
		{"geometry.cleanup_interval", c.Geometry.CleanupInterval < 0},
		{"monitor.history_limit", c.Monitor.HistoryLimit < 0},
		{"monitor.fps_window", c.Monitor.FPSWindow < 0},
		{"monitor.memory_budget", c.Monitor.MemoryBudget < 0},
	}
	for _, ch := range checks {
		if ch.bad {
			return fmt.Errorf("gpures: config: %s must not be negative", ch.name)
		}
	}
	return nil
}

// ParseConfig decodes YAML, validates it and applies defaults.
func ParseConfig(data []byte) (Config, error) {
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Config{}, fmt.Errorf("gpures: config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c.WithDefaults(), nil
}

// LoadConfig reads and parses a YAML config file.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("gpures: config: %w", err)
	}
	return ParseConfig(data)
}
