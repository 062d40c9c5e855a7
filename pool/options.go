package pool

import (
	"time"

	"github.com/gogpu/gpures"
)

// Options configures a BufferPool or TexturePool.
type Options struct {
	// MaxPoolSize is the number of entries per class a sweep keeps.
	// Defaults to gpures.DefaultMaxPoolSize if <= 0.
	MaxPoolSize int

	// CleanupInterval is the period of the background sweep.
	// Zero means gpures.DefaultCleanupInterval; negative disables the
	// background sweep, leaving Cleanup to the caller.
	CleanupInterval time.Duration

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// OptionsFromConfig returns pool options for cfg.
func OptionsFromConfig(cfg gpures.PoolConfig) Options {
	return Options{
		MaxPoolSize:     cfg.MaxPoolSize,
		CleanupInterval: cfg.CleanupInterval,
	}
}

func (o Options) withDefaults() Options {
	if o.MaxPoolSize <= 0 {
		o.MaxPoolSize = gpures.DefaultMaxPoolSize
	}
	if o.CleanupInterval == 0 {
		o.CleanupInterval = gpures.DefaultCleanupInterval
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}
