//go:build !nogpu

// Package haldev implements device.Device on top of a gogpu/wgpu HAL
// device, so the gpures core runs unchanged on Vulkan, Metal, DX12 and
// GLES backends.
//
// The HAL has no separate shader and program objects. haldev maps them as
// follows:
//
//   - a shader is a WGSL module compiled to SPIR-V with naga and loaded as a
//     hal.ShaderModule (entry point vs_main or fs_main by stage)
//   - a program is a render pipeline built from a vertex and a fragment
//     module, targeting the device's color format
//   - a framebuffer is a render-attachment texture with its view
//
// Compile and link failures are reported through the info log, the same
// way a GL driver reports them.
package haldev

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/gpures"
	"github.com/gogpu/gpures/device"
)

// Entry points expected in WGSL modules.
const (
	VertexEntryPoint   = "vs_main"
	FragmentEntryPoint = "fs_main"
)

// ErrContextLost is returned by create calls after MarkLost.
var ErrContextLost = errors.New("haldev: device lost")

type buffer struct {
	buf  hal.Buffer
	size int
}

type texture struct {
	tex  hal.Texture
	view hal.TextureView
	desc device.TextureDescriptor
}

type shader struct {
	stage  device.Stage
	module hal.ShaderModule // nil until compiled
}

type program struct {
	layout   hal.PipelineLayout
	pipeline hal.RenderPipeline
}

// Option configures a Device.
type Option func(*Device)

// WithVertexLayouts sets the vertex buffer layouts every program is linked
// with. Slot i of an encoder corresponds to layouts[i].
func WithVertexLayouts(layouts ...gputypes.VertexBufferLayout) Option {
	return func(d *Device) {
		d.vertexLayouts = layouts
	}
}

// WithColorFormat sets the color target format of programs and
// framebuffers. Defaults to BGRA8Unorm.
func WithColorFormat(format gputypes.TextureFormat) Option {
	return func(d *Device) {
		d.colorFormat = format
	}
}

// WithAdapter records the adapter the HAL device was opened from, so
// Capabilities reports its limits, name and vendor. Without it
// Capabilities reports the WebGPU default limits.
func WithAdapter(a hal.ExposedAdapter) Option {
	return func(d *Device) {
		d.info = a.Info
		d.limits = a.Capabilities.Limits
	}
}

// Device adapts a hal.Device and hal.Queue to device.Device.
//
// Device is safe for concurrent use. It does not own the HAL device; Close
// releases only the objects it created.
type Device struct {
	mu    sync.RWMutex
	dev   hal.Device
	queue hal.Queue

	colorFormat   gputypes.TextureFormat
	vertexLayouts []gputypes.VertexBufferLayout
	info          gputypes.AdapterInfo
	limits        gputypes.Limits

	nextID atomic.Uint64
	lost   atomic.Bool

	buffers      map[device.BufferID]*buffer
	textures     map[device.TextureID]*texture
	shaders      map[device.ShaderID]*shader
	programs     map[device.ProgramID]*program
	framebuffers map[device.FramebufferID]*texture
}

// New wraps a HAL device and queue.
func New(dev hal.Device, queue hal.Queue, opts ...Option) *Device {
	d := &Device{
		dev:          dev,
		queue:        queue,
		colorFormat:  gputypes.TextureFormatBGRA8Unorm,
		limits:       gputypes.DefaultLimits(),
		buffers:      make(map[device.BufferID]*buffer),
		textures:     make(map[device.TextureID]*texture),
		shaders:      make(map[device.ShaderID]*shader),
		programs:     make(map[device.ProgramID]*program),
		framebuffers: make(map[device.FramebufferID]*texture),
	}
	for _, opt := range opts {
		opt(d)
	}
	// Start ID generation at 1 (0 is invalid)
	d.nextID.Store(1)
	return d
}

// FromProvider builds a Device from a host that exposes its HAL objects
// through HalDevice() any and HalQueue() any, as gogpu windows do. When the
// host is also a gpucontext.DeviceProvider its surface format becomes the
// default color format.
func FromProvider(provider any, opts ...Option) (*Device, error) {
	type halProvider interface {
		HalDevice() any
		HalQueue() any
	}
	hp, ok := provider.(halProvider)
	if !ok {
		return nil, fmt.Errorf("haldev: provider does not expose HAL types")
	}
	dev, ok := hp.HalDevice().(hal.Device)
	if !ok || dev == nil {
		return nil, fmt.Errorf("haldev: provider HalDevice is not hal.Device")
	}
	queue, ok := hp.HalQueue().(hal.Queue)
	if !ok || queue == nil {
		return nil, fmt.Errorf("haldev: provider HalQueue is not hal.Queue")
	}
	if dp, ok := provider.(gpucontext.DeviceProvider); ok {
		if format := dp.SurfaceFormat(); format != gputypes.TextureFormatUndefined {
			opts = append([]Option{WithColorFormat(format)}, opts...)
		}
	}
	return New(dev, queue, opts...), nil
}

func (d *Device) newID() uint64 {
	return d.nextID.Add(1) - 1
}

// MarkLost records that the HAL device was lost. Subsequent creates fail
// with ErrContextLost and uploads are dropped.
func (d *Device) MarkLost() {
	if !d.lost.Swap(true) {
		gpures.Logger().Warn("haldev: device lost")
	}
}

// IsContextLost implements device.Device.
func (d *Device) IsContextLost() bool {
	return d.lost.Load()
}

// Capabilities implements device.CapabilityReporter.
func (d *Device) Capabilities() device.Capabilities {
	return device.Capabilities{
		MaxTextureSize:  int(d.limits.MaxTextureDimension2D),
		MaxTextureUnits: int(d.limits.MaxSampledTexturesPerShaderStage),
		Vendor:          d.info.Vendor,
		Renderer:        d.info.Name,
	}
}

// === Buffers ===

// CreateBuffer implements device.BufferDevice.
func (d *Device) CreateBuffer(size int, usage device.Usage) (device.BufferID, error) {
	if d.lost.Load() {
		return device.InvalidID, ErrContextLost
	}
	if size <= 0 {
		return device.InvalidID, fmt.Errorf("haldev: buffer size must be positive")
	}
	buf, err := d.dev.CreateBuffer(&hal.BufferDescriptor{
		Label: "gpures_" + usage.Hint.String(),
		Size:  uint64(size),
		Usage: usage.Flags | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return device.InvalidID, fmt.Errorf("haldev: create buffer: %w", err)
	}

	id := device.BufferID(d.newID())
	d.mu.Lock()
	d.buffers[id] = &buffer{buf: buf, size: size}
	d.mu.Unlock()
	return id, nil
}

// WriteBuffer implements device.BufferDevice.
func (d *Device) WriteBuffer(id device.BufferID, offset int, data []byte) error {
	if d.lost.Load() || len(data) == 0 {
		return nil
	}
	d.mu.RLock()
	b, ok := d.buffers[id]
	d.mu.RUnlock()
	if !ok {
		return fmt.Errorf("haldev: unknown buffer %d", id)
	}
	if offset < 0 || offset+len(data) > b.size {
		return fmt.Errorf("haldev: write of %d bytes at %d overflows buffer of %d", len(data), offset, b.size)
	}
	d.queue.WriteBuffer(b.buf, uint64(offset), data)
	return nil
}

// DestroyBuffer implements device.BufferDevice.
func (d *Device) DestroyBuffer(id device.BufferID) {
	d.mu.Lock()
	b, ok := d.buffers[id]
	if ok {
		delete(d.buffers, id)
	}
	d.mu.Unlock()

	if ok {
		d.dev.DestroyBuffer(b.buf)
	}
}

// === Textures ===

func (d *Device) createTexture(label string, desc device.TextureDescriptor, usage gputypes.TextureUsage) (*texture, error) {
	if desc.Width <= 0 || desc.Height <= 0 {
		return nil, fmt.Errorf("haldev: texture size %dx%d", desc.Width, desc.Height)
	}
	desc.Format = device.NormalizeFormat(desc.Format)
	mips := uint32(1)
	if desc.Mipmaps {
		mips = mipLevels(desc.Width, desc.Height)
	}

	tex, err := d.dev.CreateTexture(&hal.TextureDescriptor{
		Label: label,
		Size: hal.Extent3D{
			Width:              uint32(desc.Width),  //nolint:gosec // validated positive
			Height:             uint32(desc.Height), //nolint:gosec // validated positive
			DepthOrArrayLayers: 1,
		},
		MipLevelCount: mips,
		SampleCount:   1,
		Dimension:     gputypes.TextureDimension2D,
		Format:        desc.Format,
		Usage:         usage,
	})
	if err != nil {
		return nil, fmt.Errorf("haldev: create texture: %w", err)
	}
	view, err := d.dev.CreateTextureView(tex, &hal.TextureViewDescriptor{
		Label:         label + "_view",
		Format:        desc.Format,
		Dimension:     gputypes.TextureViewDimension2D,
		Aspect:        gputypes.TextureAspectAll,
		MipLevelCount: mips,
	})
	if err != nil {
		d.dev.DestroyTexture(tex)
		return nil, fmt.Errorf("haldev: create texture view: %w", err)
	}
	return &texture{tex: tex, view: view, desc: desc}, nil
}

func (d *Device) destroyTexture(t *texture) {
	d.dev.DestroyTextureView(t.view)
	d.dev.DestroyTexture(t.tex)
}

// mipLevels returns the length of a full mip chain.
func mipLevels(w, h int) uint32 {
	n := uint32(1)
	for w > 1 || h > 1 {
		w, h = max(w/2, 1), max(h/2, 1)
		n++
	}
	return n
}

// CreateTexture implements device.TextureDevice.
func (d *Device) CreateTexture(desc device.TextureDescriptor) (device.TextureID, error) {
	if d.lost.Load() {
		return device.InvalidID, ErrContextLost
	}
	label := desc.Label
	if label == "" {
		label = "gpures_texture"
	}
	t, err := d.createTexture(label, desc, gputypes.TextureUsageTextureBinding|gputypes.TextureUsageCopyDst)
	if err != nil {
		return device.InvalidID, err
	}
	id := device.TextureID(d.newID())
	d.mu.Lock()
	d.textures[id] = t
	d.mu.Unlock()
	return id, nil
}

// WriteTexture implements device.TextureDevice.
func (d *Device) WriteTexture(id device.TextureID, width, height int, data []byte) error {
	if d.lost.Load() {
		return nil
	}
	d.mu.RLock()
	t, ok := d.textures[id]
	d.mu.RUnlock()
	if !ok {
		return fmt.Errorf("haldev: unknown texture %d", id)
	}
	if width > t.desc.Width || height > t.desc.Height {
		return fmt.Errorf("haldev: %dx%d upload exceeds %dx%d texture", width, height, t.desc.Width, t.desc.Height)
	}
	bpp := device.BytesPerPixel(t.desc.Format)
	if len(data) != width*height*bpp {
		return fmt.Errorf("haldev: %d bytes for %dx%d upload, want %d", len(data), width, height, width*height*bpp)
	}

	//nolint:gosec // dimensions validated against the texture
	d.queue.WriteTexture(
		&hal.ImageCopyTexture{
			Texture:  t.tex,
			MipLevel: 0,
		},
		data,
		&hal.ImageDataLayout{
			Offset:       0,
			BytesPerRow:  uint32(width * bpp),
			RowsPerImage: uint32(height),
		},
		&hal.Extent3D{Width: uint32(width), Height: uint32(height), DepthOrArrayLayers: 1},
	)
	return nil
}

// DestroyTexture implements device.TextureDevice.
func (d *Device) DestroyTexture(id device.TextureID) {
	d.mu.Lock()
	t, ok := d.textures[id]
	if ok {
		delete(d.textures, id)
	}
	d.mu.Unlock()

	if ok {
		d.destroyTexture(t)
	}
}

// TextureView returns the view of a texture for binding.
func (d *Device) TextureView(id device.TextureID) (hal.TextureView, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	t, ok := d.textures[id]
	if !ok {
		return nil, false
	}
	return t.view, true
}

// === Framebuffers ===

// CreateFramebuffer implements device.FramebufferDevice.
func (d *Device) CreateFramebuffer(width, height int) (device.FramebufferID, error) {
	if d.lost.Load() {
		return device.InvalidID, ErrContextLost
	}
	t, err := d.createTexture("gpures_framebuffer",
		device.TextureDescriptor{Width: width, Height: height, Format: d.colorFormat},
		gputypes.TextureUsageRenderAttachment|gputypes.TextureUsageTextureBinding|gputypes.TextureUsageCopySrc)
	if err != nil {
		return device.InvalidID, err
	}
	id := device.FramebufferID(d.newID())
	d.mu.Lock()
	d.framebuffers[id] = t
	d.mu.Unlock()
	return id, nil
}

// DestroyFramebuffer implements device.FramebufferDevice.
func (d *Device) DestroyFramebuffer(id device.FramebufferID) {
	d.mu.Lock()
	t, ok := d.framebuffers[id]
	if ok {
		delete(d.framebuffers, id)
	}
	d.mu.Unlock()

	if ok {
		d.destroyTexture(t)
	}
}

// FramebufferView returns the color attachment view of a framebuffer.
func (d *Device) FramebufferView(id device.FramebufferID) (hal.TextureView, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	t, ok := d.framebuffers[id]
	if !ok {
		return nil, false
	}
	return t.view, true
}

// Close destroys every object the device still holds. The HAL device
// itself is left to its owner.
func (d *Device) Close() {
	d.mu.Lock()
	programs, shaders := d.programs, d.shaders
	framebuffers, textures, buffers := d.framebuffers, d.textures, d.buffers
	d.programs = make(map[device.ProgramID]*program)
	d.shaders = make(map[device.ShaderID]*shader)
	d.framebuffers = make(map[device.FramebufferID]*texture)
	d.textures = make(map[device.TextureID]*texture)
	d.buffers = make(map[device.BufferID]*buffer)
	d.mu.Unlock()

	for _, p := range programs {
		d.destroyProgram(p)
	}
	for _, s := range shaders {
		if s.module != nil {
			d.dev.DestroyShaderModule(s.module)
		}
	}
	for _, t := range framebuffers {
		d.destroyTexture(t)
	}
	for _, t := range textures {
		d.destroyTexture(t)
	}
	for _, b := range buffers {
		d.dev.DestroyBuffer(b.buf)
	}
}

var _ device.Device = (*Device)(nil)
