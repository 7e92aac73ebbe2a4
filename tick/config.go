package tick

import (
	"os"

	yaml "github.com/goccy/go-yaml"
)

// Config carries the tunables for the engine, the batch scheduler, and the
// worker channel. Invalid values are clamped, never fatal.
type Config struct {
	TicksPerSecond     float64 `yaml:"ticks_per_second"`
	AutoSaveIntervalMs float64 `yaml:"auto_save_interval_ms"`
	MaxBatchSize       int     `yaml:"max_batch_size"`
	FrameBudgetMs      float64 `yaml:"frame_budget_ms"`
	IdleSkipEnabled    bool    `yaml:"idle_skip_enabled"`
	IdleSkipThreshold  int     `yaml:"idle_skip_threshold"`
	WorkerTimeoutMs    float64 `yaml:"worker_timeout_ms"`
	RefreshIntervalMs  float64 `yaml:"refresh_interval_ms"`
}

// DefaultConfig returns the safe defaults.
func DefaultConfig() Config {
	return Config{
		TicksPerSecond:     1.0,
		AutoSaveIntervalMs: 60000,
		MaxBatchSize:       1000,
		FrameBudgetMs:      50,
		IdleSkipEnabled:    true,
		IdleSkipThreshold:  10,
		WorkerTimeoutMs:    5000,
		RefreshIntervalMs:  16.667,
	}
}

// LoadConfig reads YAML from path and overlays it on the defaults. An empty
// path or an unreadable file yields the defaults. The result is always
// sanitized.
func LoadConfig(path string) Config {
	cfg := DefaultConfig()

	if path == "" {
		return cfg
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg
	}

	_ = yaml.Unmarshal(data, &cfg)

	return cfg.Sanitized()
}

// Sanitized returns a copy of the config with every field clamped to its
// valid range.
func (c Config) Sanitized() Config {
	c.TicksPerSecond = clampFloat(c.TicksPerSecond, 0.1, 10)
	c.MaxBatchSize = clampInt(c.MaxBatchSize, 1, 100000)
	c.FrameBudgetMs = clampFloat(c.FrameBudgetMs, 1, 1000)
	c.WorkerTimeoutMs = clampFloat(c.WorkerTimeoutMs, 100, 120000)
	if c.IdleSkipThreshold < 0 {
		c.IdleSkipThreshold = 0
	}
	if c.RefreshIntervalMs <= 0 {
		c.RefreshIntervalMs = 16.667
	}
	return c
}

// TickDurationMs returns the fixed timestep implied by the configured tick
// rate.
func (c Config) TickDurationMs() float64 {
	tps := clampFloat(c.TicksPerSecond, 0.1, 10)
	return 1000.0 / tps
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
