package shader

import (
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/gogpu/gpures"
	"github.com/gogpu/gpures/device"
	"github.com/gogpu/gpures/internal/sweep"
	"github.com/gogpu/gpures/registry"
)

// ProgramConfig identifies a program by its source text.
type ProgramConfig struct {
	VertexSource   string
	FragmentSource string

	// Uniforms lists default uniform values the caller applies after
	// binding. They do not take part in cache identity.
	Uniforms map[string]any
}

// programKey is the cache identity: the exact pair of sources.
type programKey struct {
	vertex, fragment string
}

type cacheEntry struct {
	program  device.ProgramID
	lastUsed time.Time
}

// Options configures a Cache.
type Options struct {
	// Lifetime is how long a program may go unused before a sweep
	// destroys it. Defaults to gpures.DefaultShaderLifetime.
	Lifetime time.Duration

	// CleanupInterval is the sweep period. Zero means
	// gpures.DefaultShaderCleanupInterval; negative disables the sweep.
	CleanupInterval time.Duration

	// MaxPrograms caps the number of cached programs; adding beyond it
	// destroys the least recently used. Defaults to
	// gpures.DefaultMaxPrograms.
	MaxPrograms int

	// Observer receives compile timings. May be nil.
	Observer Observer

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// OptionsFromConfig returns cache options for cfg.
func OptionsFromConfig(cfg gpures.ShaderConfig) Options {
	return Options{
		Lifetime:        cfg.Lifetime,
		CleanupInterval: cfg.CleanupInterval,
		MaxPrograms:     cfg.MaxPrograms,
	}
}

// Stats is a snapshot of cache activity.
type Stats struct {
	Programs    int
	Hits        uint64
	Misses      uint64
	Compiles    uint64
	Evictions   uint64
	LastCompile time.Duration
}

// String returns a human-readable summary.
func (s Stats) String() string {
	return fmt.Sprintf("ShaderCache[%d programs, %d hits, %d misses, %d evictions]",
		s.Programs, s.Hits, s.Misses, s.Evictions)
}

// Cache hands out linked programs keyed by their exact source pair.
//
// Requests for a pair already cached return the same program without
// touching the device. Cache is safe for concurrent use; concurrent
// requests for the same new pair compile it once.
type Cache struct {
	mu       sync.Mutex
	reg      *registry.Registry
	compiler *Compiler
	opts     Options
	programs *lru.Cache[programKey, *cacheEntry]
	sweep    *sweep.Sweeper

	hits, misses, compiles, evictions uint64
	lastCompile                       time.Duration
	closed                            bool
}

// NewCache creates a program cache over reg and starts its sweep.
func NewCache(reg *registry.Registry, opts Options) *Cache {
	if opts.Lifetime <= 0 {
		opts.Lifetime = gpures.DefaultShaderLifetime
	}
	if opts.CleanupInterval == 0 {
		opts.CleanupInterval = gpures.DefaultShaderCleanupInterval
	}
	if opts.MaxPrograms <= 0 {
		opts.MaxPrograms = gpures.DefaultMaxPrograms
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	c := &Cache{
		reg:      reg,
		compiler: NewCompiler(reg, opts.Observer),
		opts:     opts,
	}
	// Only fails for a non-positive size, which defaults rule out.
	c.programs, _ = lru.NewWithEvict[programKey, *cacheEntry](opts.MaxPrograms, c.onEvict)
	c.sweep = sweep.Start(opts.CleanupInterval, func() { c.Cleanup() })
	return c
}

// onEvict runs inside the lru cache with c.mu held.
func (c *Cache) onEvict(_ programKey, e *cacheEntry) {
	c.evictions++
	c.reg.DestroyProgram(e.program)
}

// GetProgram returns the program for cfg, building it on first use.
// Build failures are returned as *gpures.CompileError or *gpures.LinkError
// and nothing is cached.
func (c *Cache) GetProgram(cfg ProgramConfig) (device.ProgramID, error) {
	key := programKey{vertex: cfg.VertexSource, fragment: cfg.FragmentSource}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return device.InvalidID, gpures.ErrClosed
	}

	now := c.opts.Now()
	if e, ok := c.programs.Get(key); ok {
		e.lastUsed = now
		c.hits++
		return e.program, nil
	}
	c.misses++

	start := time.Now()
	id, err := c.compiler.Build(cfg.VertexSource, cfg.FragmentSource)
	if err != nil {
		return device.InvalidID, err
	}
	c.compiles++
	c.lastCompile = time.Since(start)
	c.programs.Add(key, &cacheEntry{program: id, lastUsed: now})

	gpures.Logger().Debug("shader: program built", "id", id, "elapsed", c.lastCompile)
	return id, nil
}

// Cleanup destroys programs unused for longer than Lifetime and returns
// how many it destroyed.
func (c *Cache) Cleanup() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0
	}
	cutoff := c.opts.Now().Add(-c.opts.Lifetime)
	removed := 0
	for _, key := range c.programs.Keys() {
		e, ok := c.programs.Peek(key)
		if ok && e.lastUsed.Before(cutoff) {
			c.programs.Remove(key)
			removed++
		}
	}
	if removed > 0 {
		gpures.Logger().Debug("shader: programs expired", "count", removed)
	}
	return removed
}

// Len returns the number of cached programs.
func (c *Cache) Len() int {
	return c.programs.Len()
}

// Stats returns a snapshot of cache activity.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Programs:    c.programs.Len(),
		Hits:        c.hits,
		Misses:      c.misses,
		Compiles:    c.compiles,
		Evictions:   c.evictions,
		LastCompile: c.lastCompile,
	}
}

// Close stops the sweep and destroys every cached program. Close is
// idempotent.
func (c *Cache) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.programs.Purge()
	c.mu.Unlock()

	c.sweep.Stop()
}
