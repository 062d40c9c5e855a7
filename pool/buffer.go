// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package pool

import (
	"sync"

	"github.com/gogpu/gpures"
	"github.com/gogpu/gpures/device"
	"github.com/gogpu/gpures/internal/sweep"
	"github.com/gogpu/gpures/registry"
)

// BufferRequest describes the buffer a caller needs.
type BufferRequest struct {
	// Size is the minimum capacity in bytes. Must be positive.
	Size int

	// Usage is the usage class. Buffers are only reused within a class.
	Usage device.Usage
}

// BufferPool reuses buffers across frames, grouped by usage class.
//
// A request returns the first idle pooled buffer of the same class whose
// capacity covers the request, and mints a new buffer through the registry
// only when none fits. Callers hand buffers back with ReleaseBuffer.
//
// BufferPool is safe for concurrent use.
type BufferPool struct {
	mu     sync.Mutex
	reg    *registry.Registry
	opts   Options
	store  *store[device.Usage, device.BufferID, int]
	sweep  *sweep.Sweeper
	evicts uint64
	closed bool
}

// NewBufferPool creates a pool that mints buffers through reg and starts
// its background sweep.
func NewBufferPool(reg *registry.Registry, opts Options) *BufferPool {
	p := &BufferPool{
		reg:  reg,
		opts: opts.withDefaults(),
		store: newStore[device.Usage, device.BufferID](
			func(have, want int) bool { return have >= want },
			func(size int) int { return size },
			reg.HasBuffer,
		),
	}
	p.sweep = sweep.Start(p.opts.CleanupInterval, func() { p.Cleanup() })
	return p
}

// RequestBuffer returns a buffer of at least req.Size bytes in req.Usage.
//
// The returned buffer may be larger than requested and may hold stale
// data from a previous user. Pooled buffers the registry no longer tracks,
// for example after Registry.DisposeAll, are dropped instead of reused. Device failures are returned as
// *gpures.AllocationError and leave the pool unchanged.
func (p *BufferPool) RequestBuffer(req BufferRequest) (device.BufferID, error) {
	if req.Size <= 0 {
		return device.InvalidID, gpures.ErrInvalidSize
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return device.InvalidID, gpures.ErrClosed
	}
	id, dropped, ok := p.store.acquire(req.Usage, req.Size, p.opts.Now())
	p.mu.Unlock()
	if dropped > 0 {
		gpures.Logger().Debug("pool: dropped destroyed buffers", "count", dropped, "usage", req.Usage)
	}
	if ok {
		gpures.Logger().Debug("pool: buffer reused", "id", id, "size", req.Size)
		return id, nil
	}

	id, err := p.reg.CreateBuffer(req.Size, req.Usage)
	if err != nil {
		return device.InvalidID, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		// Closed while the device call was in flight.
		p.reg.DestroyBuffer(id)
		return device.InvalidID, gpures.ErrClosed
	}
	p.store.insert(req.Usage, id, req.Size, p.opts.Now())
	return id, nil
}

// ReleaseBuffer returns a buffer to the pool for reuse. Releasing a buffer
// the pool does not hold under usage is a no-op.
func (p *BufferPool) ReleaseBuffer(id device.BufferID, usage device.Usage) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	if !p.store.release(usage, id, p.opts.Now()) {
		gpures.Logger().Warn("pool: release of unknown buffer", "id", id, "usage", usage)
	}
}

// Cleanup trims every usage class to MaxPoolSize entries, destroying the
// least recently used idle buffers. It returns the number destroyed.
// Cleanup runs periodically in the background; calling it directly forces
// a sweep.
func (p *BufferPool) Cleanup() int {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0
	}
	evicted := p.store.sweep(p.opts.MaxPoolSize)
	p.evicts += uint64(len(evicted))
	p.mu.Unlock()

	for _, id := range evicted {
		p.reg.DestroyBuffer(id)
	}
	if len(evicted) > 0 {
		gpures.Logger().Debug("pool: buffers evicted", "count", len(evicted))
	}
	return len(evicted)
}

// ClassLen returns the number of pooled buffers in usage.
func (p *BufferPool) ClassLen(usage device.Usage) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.store.classLen(usage)
}

// Stats returns a snapshot of the pool.
func (p *BufferPool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	st := p.store.stats()
	st.Evictions = p.evicts
	return st
}

// Close stops the background sweep and destroys every pooled buffer,
// including buffers still handed out. Close is idempotent.
func (p *BufferPool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	all := p.store.drain()
	p.mu.Unlock()

	p.sweep.Stop()
	for _, id := range all {
		p.reg.DestroyBuffer(id)
	}
}
