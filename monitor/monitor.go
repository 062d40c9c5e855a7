// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package monitor samples frame rate, draw calls and GPU memory estimates.
//
// The host calls RecordFrame (or BeginFrame/EndFrame) once per rendered
// frame. Once per FPS window the monitor takes a sample of every attached
// resource source and appends it to a bounded history, which can be
// exported as JSON or InfluxDB line protocol.
package monitor

import (
	"fmt"
	"sync"
	"time"

	"github.com/gogpu/gpures"
	"github.com/gogpu/gpures/pool"
	"github.com/gogpu/gpures/registry"
)

// PoolSource is a buffer or texture pool.
type PoolSource interface {
	Stats() pool.Stats
	Cleanup() int
}

// ProgramSource is a shader program cache.
type ProgramSource interface {
	Len() int
}

// InstanceSource is an instanced geometry manager.
type InstanceSource interface {
	Len() int
	TotalInstances() int
}

// RegistrySource is a resource registry.
type RegistrySource interface {
	Counts() registry.Counts
}

// Options configures a Monitor. Every source may be nil.
type Options struct {
	Buffers   PoolSource
	Textures  PoolSource
	Programs  ProgramSource
	Instances InstanceSource
	Registry  RegistrySource

	// HistoryLimit caps the number of samples kept. Defaults to
	// gpures.DefaultHistoryLimit.
	HistoryLimit int

	// FPSWindow is the sampling period. Defaults to gpures.DefaultFPSWindow.
	FPSWindow time.Duration

	// MemoryBudget is the estimated byte total above which ShouldShrink
	// reports true. Zero disables the check.
	MemoryBudget int64

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// OptionsFromConfig returns monitor options for cfg. Sources are left for
// the caller to fill in.
func OptionsFromConfig(cfg gpures.MonitorConfig) Options {
	return Options{
		HistoryLimit: cfg.HistoryLimit,
		FPSWindow:    cfg.FPSWindow,
		MemoryBudget: cfg.MemoryBudget,
	}
}

// MemoryUsage is an estimate of device memory held by the pools.
type MemoryUsage struct {
	GeometryBuffers int64 `json:"geometryBuffers"`
	TextureMemory   int64 `json:"textureMemory"`
	TotalMemory     int64 `json:"totalMemory"`
}

// ResourceCounts counts live resources.
type ResourceCounts struct {
	// Buffers and Textures count pooled handles currently handed out.
	Buffers  int `json:"buffers"`
	Textures int `json:"textures"`

	// Instances counts instance sets, InstancesDrawn the instances in them.
	Instances      int `json:"instances"`
	InstancesDrawn int `json:"instancesDrawn"`

	Programs int `json:"programs"`

	// Handles is the total tracked by the registry.
	Handles int `json:"handles"`
}

// Metrics is one snapshot of renderer performance.
type Metrics struct {
	FPS float64 `json:"fps"`

	// FrameTimeMS is the duration of the last frame in milliseconds.
	FrameTimeMS float64 `json:"frameTime"`

	// DrawCalls is the number of draws issued during the last completed
	// frame; TotalDrawCalls counts since creation or Reset.
	DrawCalls      int    `json:"drawCalls"`
	TotalDrawCalls uint64 `json:"totalDrawCalls"`

	// ShaderCompileMS is the time spent compiling shaders since creation or
	// Reset, in milliseconds.
	ShaderCompileMS float64 `json:"shaderCompileTime"`

	MemoryUsage    MemoryUsage    `json:"memoryUsage"`
	ResourceCounts ResourceCounts `json:"resourceCounts"`
}

// String returns a one-line summary.
func (m Metrics) String() string {
	return fmt.Sprintf("Metrics[%.1f fps, %.2f ms, %d draws, %d KB]",
		m.FPS, m.FrameTimeMS, m.DrawCalls, m.MemoryUsage.TotalMemory/1024)
}

// Sample is a timestamped Metrics in the history.
type Sample struct {
	Timestamp time.Time `json:"timestamp"`
	Metrics   Metrics   `json:"metrics"`
}

// Monitor tracks frame timing and resource usage. It is safe for
// concurrent use.
type Monitor struct {
	mu   sync.Mutex
	opts Options

	lastFrame      time.Time
	frameTime      time.Duration
	windowStart    time.Time
	windowFrames   int
	fps            float64
	frameDraws     int
	lastFrameDraws int
	totalDraws     uint64
	compileTime    time.Duration

	history []Sample
}

// New creates a monitor.
func New(opts Options) *Monitor {
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = gpures.DefaultHistoryLimit
	}
	if opts.FPSWindow <= 0 {
		opts.FPSWindow = gpures.DefaultFPSWindow
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Monitor{opts: opts}
}

// WatchPrograms sets the program source after construction, for caches
// that report their compiles to this monitor.
func (m *Monitor) WatchPrograms(src ProgramSource) {
	m.mu.Lock()
	m.opts.Programs = src
	m.mu.Unlock()
}

// WatchInstances sets the instance source after construction, for
// managers that report their draws to this monitor.
func (m *Monitor) WatchInstances(src InstanceSource) {
	m.mu.Lock()
	m.opts.Instances = src
	m.mu.Unlock()
}

// BeginFrame starts counting draw calls for a new frame.
func (m *Monitor) BeginFrame() {
	m.mu.Lock()
	m.frameDraws = 0
	m.mu.Unlock()
}

// EndFrame closes the current frame and records it at the current time.
func (m *Monitor) EndFrame() {
	m.RecordFrame(m.opts.Now())
}

// RecordFrame records a frame presented at ts. When a full FPS window has
// elapsed it computes the frame rate and appends a sample to the history.
func (m *Monitor) RecordFrame(ts time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.lastFrame.IsZero() {
		m.frameTime = ts.Sub(m.lastFrame)
	}
	m.lastFrame = ts
	m.lastFrameDraws = m.frameDraws
	m.frameDraws = 0

	if m.windowStart.IsZero() {
		m.windowStart = ts
	}
	m.windowFrames++

	elapsed := ts.Sub(m.windowStart)
	if elapsed < m.opts.FPSWindow {
		return
	}
	m.fps = float64(m.windowFrames) / elapsed.Seconds()
	m.windowFrames = 0
	m.windowStart = ts

	m.history = append(m.history, Sample{Timestamp: ts, Metrics: m.snapshotLocked()})
	if over := len(m.history) - m.opts.HistoryLimit; over > 0 {
		m.history = append(m.history[:0], m.history[over:]...)
	}
}

// TrackDrawCall counts one draw call in the current frame.
func (m *Monitor) TrackDrawCall() {
	m.mu.Lock()
	m.frameDraws++
	m.totalDraws++
	m.mu.Unlock()
}

// TrackShaderCompile adds d to the accumulated shader compile time.
func (m *Monitor) TrackShaderCompile(d time.Duration) {
	m.mu.Lock()
	m.compileTime += d
	m.mu.Unlock()
}

// Current returns the latest metrics with fresh resource figures.
func (m *Monitor) Current() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Monitor) snapshotLocked() Metrics {
	met := Metrics{
		FPS:             m.fps,
		FrameTimeMS:     durationMS(m.frameTime),
		DrawCalls:       m.lastFrameDraws,
		TotalDrawCalls:  m.totalDraws,
		ShaderCompileMS: durationMS(m.compileTime),
	}
	if m.opts.Buffers != nil {
		st := m.opts.Buffers.Stats()
		met.MemoryUsage.GeometryBuffers = st.Bytes
		met.ResourceCounts.Buffers = st.InUse
	}
	if m.opts.Textures != nil {
		st := m.opts.Textures.Stats()
		met.MemoryUsage.TextureMemory = st.Bytes
		met.ResourceCounts.Textures = st.InUse
	}
	met.MemoryUsage.TotalMemory = met.MemoryUsage.GeometryBuffers + met.MemoryUsage.TextureMemory
	if m.opts.Instances != nil {
		met.ResourceCounts.Instances = m.opts.Instances.Len()
		met.ResourceCounts.InstancesDrawn = m.opts.Instances.TotalInstances()
	}
	if m.opts.Programs != nil {
		met.ResourceCounts.Programs = m.opts.Programs.Len()
	}
	if m.opts.Registry != nil {
		met.ResourceCounts.Handles = m.opts.Registry.Counts().Total()
	}
	return met
}

// History returns a copy of the recorded samples, oldest first.
func (m *Monitor) History() []Sample {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Sample, len(m.history))
	copy(out, m.history)
	return out
}

// ShouldShrink reports whether the estimated pool memory exceeds the
// configured budget.
func (m *Monitor) ShouldShrink() bool {
	if m.opts.MemoryBudget <= 0 {
		return false
	}
	return m.Current().MemoryUsage.TotalMemory > m.opts.MemoryBudget
}

// Shrink forces a cleanup sweep on both pools and returns the number of
// handles destroyed.
func (m *Monitor) Shrink() int {
	n := 0
	if m.opts.Buffers != nil {
		n += m.opts.Buffers.Cleanup()
	}
	if m.opts.Textures != nil {
		n += m.opts.Textures.Cleanup()
	}
	if n > 0 {
		gpures.Logger().Info("monitor: pools shrunk", "evicted", n)
	}
	return n
}

// Reset clears counters and history.
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastFrame = time.Time{}
	m.frameTime = 0
	m.windowStart = time.Time{}
	m.windowFrames = 0
	m.fps = 0
	m.frameDraws = 0
	m.lastFrameDraws = 0
	m.totalDraws = 0
	m.compileTime = 0
	m.history = nil
}

func durationMS(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
