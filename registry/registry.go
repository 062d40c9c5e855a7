// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package registry tracks every live GPU handle so that a visualisation can
// tear down all of its device objects in one call.
//
// A Registry is created explicitly by the composition root and passed to the
// pools and caches that need it. There is no package-level instance.
package registry

import (
	"fmt"
	"slices"
	"sync"

	"github.com/gogpu/gpures"
	"github.com/gogpu/gpures/device"
)

// Counts holds the number of live handles per category.
type Counts struct {
	Buffers      int
	Textures     int
	Shaders      int
	Programs     int
	Framebuffers int
}

// Total returns the sum over all categories.
func (c Counts) Total() int {
	return c.Buffers + c.Textures + c.Shaders + c.Programs + c.Framebuffers
}

// String returns a human-readable summary.
func (c Counts) String() string {
	return fmt.Sprintf("Registry[%d buffers, %d textures, %d shaders, %d programs, %d framebuffers]",
		c.Buffers, c.Textures, c.Shaders, c.Programs, c.Framebuffers)
}

// set is an unordered set of handles.
type set[T ~uint64] map[T]struct{}

func (s set[T]) sorted() []T {
	out := make([]T, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// Registry records live handles by category and owns their destruction.
//
// Registry is safe for concurrent use.
type Registry struct {
	mu  sync.RWMutex
	dev device.Device

	buffers      set[device.BufferID]
	textures     set[device.TextureID]
	shaders      set[device.ShaderID]
	programs     set[device.ProgramID]
	framebuffers set[device.FramebufferID]
}

// New creates an empty registry over dev.
func New(dev device.Device) *Registry {
	return &Registry{
		dev:          dev,
		buffers:      make(set[device.BufferID]),
		textures:     make(set[device.TextureID]),
		shaders:      make(set[device.ShaderID]),
		programs:     make(set[device.ProgramID]),
		framebuffers: make(set[device.FramebufferID]),
	}
}

// Device returns the device the registry creates handles on.
func (r *Registry) Device() device.Device {
	return r.dev
}

// CreateBuffer mints a buffer and tracks it.
func (r *Registry) CreateBuffer(size int, usage device.Usage) (device.BufferID, error) {
	id, err := r.dev.CreateBuffer(size, usage)
	if err != nil || id == device.InvalidID {
		return device.InvalidID, &gpures.AllocationError{Resource: "buffer", Size: size, Err: err}
	}
	r.TrackBuffer(id)
	gpures.Logger().Debug("registry: buffer created", "id", id, "size", size, "usage", usage)
	return id, nil
}

// CreateTexture mints a texture and tracks it.
func (r *Registry) CreateTexture(desc device.TextureDescriptor) (device.TextureID, error) {
	id, err := r.dev.CreateTexture(desc)
	if err != nil || id == device.InvalidID {
		return device.InvalidID, &gpures.AllocationError{Resource: "texture", Size: desc.SizeBytes(), Err: err}
	}
	r.TrackTexture(id)
	gpures.Logger().Debug("registry: texture created", "id", id,
		"width", desc.Width, "height", desc.Height, "format", desc.Format)
	return id, nil
}

// CreateShader mints a shader object for stage and tracks it.
func (r *Registry) CreateShader(stage device.Stage) (device.ShaderID, error) {
	id, err := r.dev.CreateShader(stage)
	if err != nil || id == device.InvalidID {
		return device.InvalidID, &gpures.AllocationError{Resource: stage.String() + " shader", Err: err}
	}
	r.TrackShader(id)
	return id, nil
}

// CreateProgram mints a program object and tracks it.
func (r *Registry) CreateProgram() (device.ProgramID, error) {
	id, err := r.dev.CreateProgram()
	if err != nil || id == device.InvalidID {
		return device.InvalidID, &gpures.AllocationError{Resource: "program", Err: err}
	}
	r.TrackProgram(id)
	return id, nil
}

// CreateFramebuffer mints a framebuffer and tracks it.
func (r *Registry) CreateFramebuffer(width, height int) (device.FramebufferID, error) {
	id, err := r.dev.CreateFramebuffer(width, height)
	if err != nil || id == device.InvalidID {
		return device.InvalidID, &gpures.AllocationError{Resource: "framebuffer", Err: err}
	}
	r.TrackFramebuffer(id)
	return id, nil
}

// TrackBuffer records an externally created buffer.
func (r *Registry) TrackBuffer(id device.BufferID) { track(r, r.buffers, id) }

// TrackTexture records an externally created texture.
func (r *Registry) TrackTexture(id device.TextureID) { track(r, r.textures, id) }

// TrackShader records an externally created shader.
func (r *Registry) TrackShader(id device.ShaderID) { track(r, r.shaders, id) }

// TrackProgram records an externally created program.
func (r *Registry) TrackProgram(id device.ProgramID) { track(r, r.programs, id) }

// TrackFramebuffer records an externally created framebuffer.
func (r *Registry) TrackFramebuffer(id device.FramebufferID) { track(r, r.framebuffers, id) }

func track[T ~uint64](r *Registry, s set[T], id T) {
	if id == device.InvalidID {
		return
	}
	r.mu.Lock()
	s[id] = struct{}{}
	r.mu.Unlock()
}

// untrack removes id and reports whether it was present.
func untrack[T ~uint64](r *Registry, s set[T], id T) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := s[id]; !ok {
		return false
	}
	delete(s, id)
	return true
}

// DestroyBuffer destroys a tracked buffer. Untracked handles are ignored.
func (r *Registry) DestroyBuffer(id device.BufferID) {
	if untrack(r, r.buffers, id) {
		r.dev.DestroyBuffer(id)
	}
}

// DestroyTexture destroys a tracked texture. Untracked handles are ignored.
func (r *Registry) DestroyTexture(id device.TextureID) {
	if untrack(r, r.textures, id) {
		r.dev.DestroyTexture(id)
	}
}

// DestroyShader destroys a tracked shader. Untracked handles are ignored.
func (r *Registry) DestroyShader(id device.ShaderID) {
	if untrack(r, r.shaders, id) {
		r.dev.DestroyShader(id)
	}
}

// DestroyProgram destroys a tracked program. Untracked handles are ignored.
func (r *Registry) DestroyProgram(id device.ProgramID) {
	if untrack(r, r.programs, id) {
		r.dev.DestroyProgram(id)
	}
}

// DestroyFramebuffer destroys a tracked framebuffer. Untracked handles are
// ignored.
func (r *Registry) DestroyFramebuffer(id device.FramebufferID) {
	if untrack(r, r.framebuffers, id) {
		r.dev.DestroyFramebuffer(id)
	}
}

// DisposeAll destroys every tracked handle: framebuffers, then programs,
// then shaders, then textures, then buffers. Within a category handles are
// destroyed in ascending ID order. The registry stays usable afterwards and
// a second call is a no-op.
func (r *Registry) DisposeAll() {
	r.mu.Lock()
	framebuffers := r.framebuffers.sorted()
	programs := r.programs.sorted()
	shaders := r.shaders.sorted()
	textures := r.textures.sorted()
	buffers := r.buffers.sorted()
	clear(r.framebuffers)
	clear(r.programs)
	clear(r.shaders)
	clear(r.textures)
	clear(r.buffers)
	r.mu.Unlock()

	for _, id := range framebuffers {
		r.dev.DestroyFramebuffer(id)
	}
	for _, id := range programs {
		r.dev.DestroyProgram(id)
	}
	for _, id := range shaders {
		r.dev.DestroyShader(id)
	}
	for _, id := range textures {
		r.dev.DestroyTexture(id)
	}
	for _, id := range buffers {
		r.dev.DestroyBuffer(id)
	}

	if n := len(framebuffers) + len(programs) + len(shaders) + len(textures) + len(buffers); n > 0 {
		gpures.Logger().Debug("registry: disposed", "handles", n)
	}
}

// Counts returns the number of live handles per category.
func (r *Registry) Counts() Counts {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Counts{
		Buffers:      len(r.buffers),
		Textures:     len(r.textures),
		Shaders:      len(r.shaders),
		Programs:     len(r.programs),
		Framebuffers: len(r.framebuffers),
	}
}

// Len returns the total number of live handles.
func (r *Registry) Len() int {
	return r.Counts().Total()
}

// HasBuffer reports whether id is tracked.
func (r *Registry) HasBuffer(id device.BufferID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.buffers[id]
	return ok
}

// HasTexture reports whether id is tracked.
func (r *Registry) HasTexture(id device.TextureID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.textures[id]
	return ok
}
