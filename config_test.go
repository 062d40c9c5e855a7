package gpures

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	c := DefaultConfig()
	if c.Pool.MaxPoolSize != 50 {
		t.Errorf("Pool.MaxPoolSize = %d, want 50", c.Pool.MaxPoolSize)
	}
	if c.Pool.CleanupInterval != time.Minute {
		t.Errorf("Pool.CleanupInterval = %v, want 1m", c.Pool.CleanupInterval)
	}
	if c.Shader.Lifetime != 5*time.Minute {
		t.Errorf("Shader.Lifetime = %v, want 5m", c.Shader.Lifetime)
	}
	if c.Geometry.Lifetime != time.Minute || c.Geometry.CleanupInterval != 30*time.Second {
		t.Errorf("Geometry = %+v, want lifetime 1m, cleanup 30s", c.Geometry)
	}
	if c.Monitor.HistoryLimit != 3600 {
		t.Errorf("Monitor.HistoryLimit = %d, want 3600", c.Monitor.HistoryLimit)
	}
	if c.Monitor.MemoryBudget != 0 {
		t.Errorf("Monitor.MemoryBudget = %d, want 0", c.Monitor.MemoryBudget)
	}
}

func TestParseConfig(t *testing.T) {
	src := `
pool:
  max_pool_size: 8
  cleanup_interval: 250ms
shader:
  lifetime: 10m
geometry:
  lifetime: 90s
monitor:
  memory_budget: 1048576
`
	c, err := ParseConfig([]byte(src))
	if err != nil {
		t.Fatalf("ParseConfig() error = %v", err)
	}
	if c.Pool.MaxPoolSize != 8 {
		t.Errorf("Pool.MaxPoolSize = %d, want 8", c.Pool.MaxPoolSize)
	}
	if c.Pool.CleanupInterval != 250*time.Millisecond {
		t.Errorf("Pool.CleanupInterval = %v, want 250ms", c.Pool.CleanupInterval)
	}
	if c.Shader.Lifetime != 10*time.Minute {
		t.Errorf("Shader.Lifetime = %v, want 10m", c.Shader.Lifetime)
	}
	if c.Shader.CleanupInterval != DefaultShaderCleanupInterval {
		t.Errorf("Shader.CleanupInterval = %v, want default", c.Shader.CleanupInterval)
	}
	if c.Geometry.Lifetime != 90*time.Second {
		t.Errorf("Geometry.Lifetime = %v, want 1m30s", c.Geometry.Lifetime)
	}
	if c.Monitor.MemoryBudget != 1<<20 {
		t.Errorf("Monitor.MemoryBudget = %d, want %d", c.Monitor.MemoryBudget, 1<<20)
	}
}

func TestParseConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"negative pool size", "pool:\n  max_pool_size: -1\n", "pool.max_pool_size"},
		{"negative geometry lifetime", "geometry:\n  lifetime: -1s\n", "geometry.lifetime"},
		{"negative budget", "monitor:\n  memory_budget: -5\n", "monitor.memory_budget"},
		{"bad duration", "shader:\n  lifetime: soon\n", "gpures: config"},
		{"bad yaml", "pool: [", "gpures: config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig([]byte(tt.src))
			if err == nil {
				t.Fatal("ParseConfig() error = nil, want error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("ParseConfig() error = %q, want it to mention %q", err, tt.want)
			}
		})
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gpures.yaml")
	if err := os.WriteFile(path, []byte("pool:\n  max_pool_size: 3\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	c, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if c.Pool.MaxPoolSize != 3 {
		t.Errorf("Pool.MaxPoolSize = %d, want 3", c.Pool.MaxPoolSize)
	}

	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("LoadConfig(missing) error = nil, want error")
	}
}
