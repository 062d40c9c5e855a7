// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package geometry caches uploaded meshes by key.
//
// A mesh is the vertex, index and texture coordinate buffers of one
// geometry pattern, taken from a pool.BufferPool and filled once. Asking
// for a key already cached returns the same buffers without rebuilding or
// re-uploading. Meshes left unused for longer than the cache lifetime go
// back to the pool on the next sweep.
package geometry

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/emirpasic/gods/maps/treemap"

	"github.com/gogpu/gpures"
	"github.com/gogpu/gpures/device"
	"github.com/gogpu/gpures/internal/sweep"
	"github.com/gogpu/gpures/pool"
)

// Data is the CPU-side geometry uploaded when a key is first requested.
// Indices and TexCoords may be empty.
type Data struct {
	Vertices  []float32
	Indices   []uint32
	TexCoords []float32
}

// Mesh is the set of buffers cached for one key. Absent parts are
// device.InvalidID.
type Mesh struct {
	Vertices  device.BufferID
	Indices   device.BufferID
	TexCoords device.BufferID

	VertexFloats int
	IndexCount   int
}

// Key builds the cache key of a pattern from its kind, complexity and
// vertex count.
func Key(kind string, complexity, vertexCount int) string {
	return fmt.Sprintf("%s-%d-%d", kind, complexity, vertexCount)
}

// Options configures a Cache.
type Options struct {
	// Lifetime defaults to gpures.DefaultGeometryLifetime.
	Lifetime time.Duration

	// CleanupInterval is the sweep period. Zero means
	// gpures.DefaultGeometryCleanupInterval; negative disables the sweep.
	CleanupInterval time.Duration

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// OptionsFromConfig returns cache options for cfg.
func OptionsFromConfig(cfg gpures.GeometryConfig) Options {
	return Options{
		Lifetime:        cfg.Lifetime,
		CleanupInterval: cfg.CleanupInterval,
	}
}

// Stats is a snapshot of cache activity.
type Stats struct {
	Meshes  int
	Hits    uint64
	Misses  uint64
	Expired uint64
}

func (s Stats) String() string {
	return fmt.Sprintf("GeometryCache[%d meshes, %d hits, %d misses, %d expired]",
		s.Meshes, s.Hits, s.Misses, s.Expired)
}

type entry struct {
	mesh     Mesh
	lastUsed time.Time
}

// Cache maps keys to uploaded meshes. It is safe for concurrent use.
type Cache struct {
	mu      sync.Mutex
	buffers *pool.BufferPool
	dev     device.BufferDevice
	opts    Options
	meshes  *treemap.Map // string -> *entry
	sweep   *sweep.Sweeper

	hits, misses, expired uint64
	closed                bool
}

// New creates a cache that takes buffers from buffers, uploads through dev
// and starts its sweep.
func New(buffers *pool.BufferPool, dev device.BufferDevice, opts Options) *Cache {
	if opts.Lifetime <= 0 {
		opts.Lifetime = gpures.DefaultGeometryLifetime
	}
	if opts.CleanupInterval == 0 {
		opts.CleanupInterval = gpures.DefaultGeometryCleanupInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	c := &Cache{
		buffers: buffers,
		dev:     dev,
		opts:    opts,
		meshes:  treemap.NewWithStringComparator(),
	}
	c.sweep = sweep.Start(opts.CleanupInterval, func() { c.Cleanup() })
	return c
}

// Get returns the mesh cached under key, calling build and uploading its
// result on a miss. Both paths mark the mesh as used now.
//
// build runs with the cache locked and must not call back into it. When
// build or an upload fails nothing is cached and every buffer already
// taken goes back to the pool.
func (c *Cache) Get(key string, build func() (Data, error)) (Mesh, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return Mesh{}, gpures.ErrClosed
	}
	now := c.opts.Now()
	if v, ok := c.meshes.Get(key); ok {
		e := v.(*entry)
		e.lastUsed = now
		c.hits++
		return e.mesh, nil
	}
	c.misses++

	data, err := build()
	if err != nil {
		return Mesh{}, fmt.Errorf("geometry: build %q: %w", key, err)
	}
	if len(data.Vertices) == 0 {
		return Mesh{}, fmt.Errorf("%w: geometry %q has no vertices", gpures.ErrInvalidSize, key)
	}
	mesh, err := c.upload(data)
	if err != nil {
		return Mesh{}, fmt.Errorf("geometry: upload %q: %w", key, err)
	}
	c.meshes.Put(key, &entry{mesh: mesh, lastUsed: now})
	gpures.Logger().Debug("geometry: mesh cached", "key", key, "vertices", mesh.VertexFloats, "indices", mesh.IndexCount)
	return mesh, nil
}

// Lookup returns the mesh cached under key without building it, marking
// it as used.
func (c *Cache) Lookup(key string) (Mesh, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.meshes.Get(key)
	if !ok || c.closed {
		return Mesh{}, false
	}
	e := v.(*entry)
	e.lastUsed = c.opts.Now()
	c.hits++
	return e.mesh, true
}

type part struct {
	raw   []byte
	usage device.Usage
	id    *device.BufferID
}

func (c *Cache) upload(data Data) (Mesh, error) {
	mesh := Mesh{VertexFloats: len(data.Vertices), IndexCount: len(data.Indices)}
	parts := []part{{encodeFloats(data.Vertices), device.StaticVertex, &mesh.Vertices}}
	if len(data.Indices) > 0 {
		parts = append(parts, part{encodeIndices(data.Indices), device.StaticIndex, &mesh.Indices})
	}
	if len(data.TexCoords) > 0 {
		parts = append(parts, part{encodeFloats(data.TexCoords), device.StaticVertex, &mesh.TexCoords})
	}

	for i, p := range parts {
		id, err := c.buffers.RequestBuffer(pool.BufferRequest{Size: len(p.raw), Usage: p.usage})
		if err == nil {
			err = c.dev.WriteBuffer(id, 0, p.raw)
			if err != nil {
				c.buffers.ReleaseBuffer(id, p.usage)
			}
		}
		if err != nil {
			for _, done := range parts[:i] {
				c.buffers.ReleaseBuffer(*done.id, done.usage)
			}
			return Mesh{}, err
		}
		*p.id = id
	}
	return mesh, nil
}

func (c *Cache) release(m Mesh) {
	if m.TexCoords != device.InvalidID {
		c.buffers.ReleaseBuffer(m.TexCoords, device.StaticVertex)
	}
	if m.Indices != device.InvalidID {
		c.buffers.ReleaseBuffer(m.Indices, device.StaticIndex)
	}
	c.buffers.ReleaseBuffer(m.Vertices, device.StaticVertex)
}

// Remove hands the buffers of key back to the pool. Unknown keys are
// ignored.
func (c *Cache) Remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.meshes.Get(key); ok {
		c.meshes.Remove(key)
		c.release(v.(*entry).mesh)
	}
}

// Cleanup hands back the buffers of every mesh unused for longer than
// Lifetime, in key order, and returns how many meshes it dropped.
func (c *Cache) Cleanup() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0
	}
	cutoff := c.opts.Now().Add(-c.opts.Lifetime)
	removed := 0
	for _, k := range c.meshes.Keys() {
		v, _ := c.meshes.Get(k)
		e := v.(*entry)
		if e.lastUsed.Before(cutoff) {
			c.meshes.Remove(k)
			c.release(e.mesh)
			removed++
		}
	}
	c.expired += uint64(removed) //nolint:gosec // removed is non-negative
	if removed > 0 {
		gpures.Logger().Debug("geometry: meshes expired", "count", removed)
	}
	return removed
}

// Len returns the number of cached meshes.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.meshes.Size()
}

// Stats returns a snapshot of cache activity.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Meshes:  c.meshes.Size(),
		Hits:    c.hits,
		Misses:  c.misses,
		Expired: c.expired,
	}
}

// Close stops the sweep and hands every cached mesh back to the pool.
// Close is idempotent.
func (c *Cache) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	for _, v := range c.meshes.Values() {
		c.release(v.(*entry).mesh)
	}
	c.meshes.Clear()
	c.mu.Unlock()

	c.sweep.Stop()
}

func encodeFloats(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func encodeIndices(v []uint32) []byte {
	buf := make([]byte, len(v)*4)
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], x)
	}
	return buf
}
