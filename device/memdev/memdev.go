// Package memdev provides an in-memory implementation of device.Device.
//
// The device keeps every object it creates in maps, records the order of
// create and destroy calls, and validates WGSL with naga when a shader is
// compiled. It backs the unit tests of every gpures package and headless
// runs of the soak command.
//
// Failures are injected with WithFailCreate. Context loss is simulated
// with LoseContext: creates keep handing out handles and uploads are
// silently dropped, the way a lost WebGL context behaves.
package memdev

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/gogpu/naga"

	"github.com/gogpu/gpures/device"
)

// Kind identifies an object category.
type Kind uint8

// Object categories.
const (
	KindBuffer Kind = iota + 1
	KindTexture
	KindShader
	KindProgram
	KindFramebuffer
)

// String returns the category name.
func (k Kind) String() string {
	switch k {
	case KindBuffer:
		return "buffer"
	case KindTexture:
		return "texture"
	case KindShader:
		return "shader"
	case KindProgram:
		return "program"
	case KindFramebuffer:
		return "framebuffer"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Op is a recorded device operation.
type Op uint8

// Recorded operations.
const (
	OpCreate Op = iota + 1
	OpDestroy
)

// Call is one entry of the call log.
type Call struct {
	Op   Op
	Kind Kind
	ID   uint64
}

func (c Call) String() string {
	verb := "create"
	if c.Op == OpDestroy {
		verb = "destroy"
	}
	return fmt.Sprintf("%s %s %d", verb, c.Kind, c.ID)
}

// ErrNullHandle, when returned by a failure hook, makes the create call return
// InvalidID with a nil error, the way GL reports allocation failure.
var ErrNullHandle = errors.New("memdev: null handle")

// ErrUnknownObject is returned by uploads to IDs the device does not own.
var ErrUnknownObject = errors.New("memdev: unknown object")

// ErrOutOfRange is returned by uploads that do not fit the target.
var ErrOutOfRange = errors.New("memdev: write out of range")

// CompileFunc validates shader source for a stage.
type CompileFunc func(stage device.Stage, source string) (infoLog string, ok bool)

// Option configures a Device.
type Option func(*Device)

// WithFailCreate installs a hook consulted before every create call. n is
// the 1-based count of create calls of that kind so far, including this
// one. A non-nil error fails the call.
func WithFailCreate(fn func(kind Kind, n int) error) Option {
	return func(d *Device) {
		d.failCreate = fn
	}
}

// WithCompiler replaces the shader validator. The default is ValidateWGSL.
func WithCompiler(fn CompileFunc) Option {
	return func(d *Device) {
		d.compile = fn
	}
}

// WithCapabilities sets what Capabilities reports.
func WithCapabilities(c device.Capabilities) Option {
	return func(d *Device) {
		d.caps = c
	}
}

// DefaultCapabilities is what a Device reports unless WithCapabilities
// says otherwise. The limits are the WebGPU defaults.
var DefaultCapabilities = device.Capabilities{
	MaxTextureSize:  8192,
	MaxTextureUnits: 16,
	Vendor:          "gogpu",
	Renderer:        "memdev",
}

// FailEvery returns a failure hook that fails every k-th create of kind.
func FailEvery(kind Kind, k int) func(Kind, int) error {
	return func(got Kind, n int) error {
		if got == kind && k > 0 && n%k == 0 {
			return fmt.Errorf("memdev: injected %s failure #%d", kind, n)
		}
		return nil
	}
}

// ValidateWGSL compiles source with naga and reports the diagnostic on
// failure.
func ValidateWGSL(_ device.Stage, source string) (string, bool) {
	if strings.TrimSpace(source) == "" {
		return "empty shader source", false
	}
	if _, err := naga.Compile(source); err != nil {
		return err.Error(), false
	}
	return "", true
}

type buffer struct {
	usage device.Usage
	data  []byte
}

type texture struct {
	desc device.TextureDescriptor
	data []byte
}

type shader struct {
	stage    device.Stage
	compiled bool
}

type framebuffer struct {
	width, height int
}

// Device is an in-memory graphics device. It is safe for concurrent use.
type Device struct {
	mu         sync.Mutex
	failCreate func(Kind, int) error
	compile    CompileFunc
	caps       device.Capabilities

	nextID  uint64
	created map[Kind]int

	buffers      map[device.BufferID]*buffer
	textures     map[device.TextureID]*texture
	shaders      map[device.ShaderID]*shader
	programs     map[device.ProgramID]bool // linked
	framebuffers map[device.FramebufferID]framebuffer

	calls []Call
	lost  bool
}

// New creates an empty device.
func New(opts ...Option) *Device {
	d := &Device{
		caps:         DefaultCapabilities,
		created:      make(map[Kind]int),
		buffers:      make(map[device.BufferID]*buffer),
		textures:     make(map[device.TextureID]*texture),
		shaders:      make(map[device.ShaderID]*shader),
		programs:     make(map[device.ProgramID]bool),
		framebuffers: make(map[device.FramebufferID]framebuffer),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.compile == nil {
		d.compile = ValidateWGSL
	}
	return d
}

// SetFailCreate replaces the failure hook. Nil disables injection.
func (d *Device) SetFailCreate(fn func(Kind, int) error) {
	d.mu.Lock()
	d.failCreate = fn
	d.mu.Unlock()
}

// LoseContext simulates context loss.
func (d *Device) LoseContext() {
	d.mu.Lock()
	d.lost = true
	d.mu.Unlock()
}

// RestoreContext ends a simulated context loss.
func (d *Device) RestoreContext() {
	d.mu.Lock()
	d.lost = false
	d.mu.Unlock()
}

// IsContextLost implements device.Device.
func (d *Device) IsContextLost() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lost
}

// Capabilities implements device.CapabilityReporter.
func (d *Device) Capabilities() device.Capabilities {
	c := d.caps
	c.Extensions = slices.Clone(c.Extensions)
	return c
}

// mint allocates an ID for kind. Must be called with d.mu held.
func (d *Device) mint(kind Kind) (uint64, error) {
	d.created[kind]++
	if fail := d.failCreate; fail != nil {
		if err := fail(kind, d.created[kind]); err != nil {
			if errors.Is(err, ErrNullHandle) {
				return device.InvalidID, nil
			}
			return device.InvalidID, err
		}
	}
	d.nextID++
	d.calls = append(d.calls, Call{Op: OpCreate, Kind: kind, ID: d.nextID})
	return d.nextID, nil
}

func (d *Device) record(kind Kind, id uint64) {
	d.calls = append(d.calls, Call{Op: OpDestroy, Kind: kind, ID: id})
}

// CreateBuffer implements device.BufferDevice.
func (d *Device) CreateBuffer(size int, usage device.Usage) (device.BufferID, error) {
	if size <= 0 {
		return device.InvalidID, fmt.Errorf("memdev: buffer size %d", size)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	id, err := d.mint(KindBuffer)
	if err != nil || id == device.InvalidID {
		return device.InvalidID, err
	}
	d.buffers[device.BufferID(id)] = &buffer{usage: usage, data: make([]byte, size)}
	return device.BufferID(id), nil
}

// WriteBuffer implements device.BufferDevice. Writes are dropped while
// the context is lost.
func (d *Device) WriteBuffer(id device.BufferID, offset int, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lost {
		return nil
	}
	b, ok := d.buffers[id]
	if !ok {
		return fmt.Errorf("%w: buffer %d", ErrUnknownObject, id)
	}
	if offset < 0 || offset+len(data) > len(b.data) {
		return fmt.Errorf("%w: %d bytes at %d into buffer of %d", ErrOutOfRange, len(data), offset, len(b.data))
	}
	copy(b.data[offset:], data)
	return nil
}

// DestroyBuffer implements device.BufferDevice.
func (d *Device) DestroyBuffer(id device.BufferID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.buffers[id]; !ok {
		return
	}
	delete(d.buffers, id)
	d.record(KindBuffer, uint64(id))
}

// CreateTexture implements device.TextureDevice.
func (d *Device) CreateTexture(desc device.TextureDescriptor) (device.TextureID, error) {
	if desc.Width <= 0 || desc.Height <= 0 {
		return device.InvalidID, fmt.Errorf("memdev: texture size %dx%d", desc.Width, desc.Height)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	id, err := d.mint(KindTexture)
	if err != nil || id == device.InvalidID {
		return device.InvalidID, err
	}
	desc.Format = device.NormalizeFormat(desc.Format)
	d.textures[device.TextureID(id)] = &texture{desc: desc}
	return device.TextureID(id), nil
}

// WriteTexture implements device.TextureDevice.
func (d *Device) WriteTexture(id device.TextureID, width, height int, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lost {
		return nil
	}
	t, ok := d.textures[id]
	if !ok {
		return fmt.Errorf("%w: texture %d", ErrUnknownObject, id)
	}
	if width > t.desc.Width || height > t.desc.Height {
		return fmt.Errorf("%w: %dx%d into texture of %dx%d", ErrOutOfRange, width, height, t.desc.Width, t.desc.Height)
	}
	if want := width * height * device.BytesPerPixel(t.desc.Format); len(data) != want {
		return fmt.Errorf("%w: %d bytes for %dx%d, want %d", ErrOutOfRange, len(data), width, height, want)
	}
	t.data = append(t.data[:0], data...)
	return nil
}

// DestroyTexture implements device.TextureDevice.
func (d *Device) DestroyTexture(id device.TextureID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.textures[id]; !ok {
		return
	}
	delete(d.textures, id)
	d.record(KindTexture, uint64(id))
}

// CreateShader implements device.ShaderDevice.
func (d *Device) CreateShader(stage device.Stage) (device.ShaderID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id, err := d.mint(KindShader)
	if err != nil || id == device.InvalidID {
		return device.InvalidID, err
	}
	d.shaders[device.ShaderID(id)] = &shader{stage: stage}
	return device.ShaderID(id), nil
}

// CompileShader implements device.ShaderDevice.
func (d *Device) CompileShader(id device.ShaderID, source string) (string, bool) {
	d.mu.Lock()
	s, ok := d.shaders[id]
	compile := d.compile
	d.mu.Unlock()
	if !ok {
		return fmt.Sprintf("memdev: unknown shader %d", id), false
	}

	// Compile outside the lock; naga can take a while on large modules.
	log, compiled := compile(s.stage, source)

	d.mu.Lock()
	if cur, ok := d.shaders[id]; ok {
		cur.compiled = compiled
	}
	d.mu.Unlock()
	return log, compiled
}

// DestroyShader implements device.ShaderDevice.
func (d *Device) DestroyShader(id device.ShaderID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.shaders[id]; !ok {
		return
	}
	delete(d.shaders, id)
	d.record(KindShader, uint64(id))
}

// CreateProgram implements device.ShaderDevice.
func (d *Device) CreateProgram() (device.ProgramID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id, err := d.mint(KindProgram)
	if err != nil || id == device.InvalidID {
		return device.InvalidID, err
	}
	d.programs[device.ProgramID(id)] = false
	return device.ProgramID(id), nil
}

// LinkProgram implements device.ShaderDevice. Linking succeeds when both
// shaders exist, compiled, and have the expected stages.
func (d *Device) LinkProgram(id device.ProgramID, vertex, fragment device.ShaderID) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.programs[id]; !ok {
		return fmt.Sprintf("memdev: unknown program %d", id), false
	}
	if log := checkStage(d.shaders[vertex], device.StageVertex); log != "" {
		return log, false
	}
	if log := checkStage(d.shaders[fragment], device.StageFragment); log != "" {
		return log, false
	}
	d.programs[id] = true
	return "", true
}

func checkStage(s *shader, want device.Stage) string {
	switch {
	case s == nil:
		return fmt.Sprintf("link: missing %s shader", want)
	case s.stage != want:
		return fmt.Sprintf("link: %s shader attached as %s", s.stage, want)
	case !s.compiled:
		return fmt.Sprintf("link: %s shader not compiled", want)
	}
	return ""
}

// DestroyProgram implements device.ShaderDevice.
func (d *Device) DestroyProgram(id device.ProgramID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.programs[id]; !ok {
		return
	}
	delete(d.programs, id)
	d.record(KindProgram, uint64(id))
}

// CreateFramebuffer implements device.FramebufferDevice.
func (d *Device) CreateFramebuffer(width, height int) (device.FramebufferID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id, err := d.mint(KindFramebuffer)
	if err != nil || id == device.InvalidID {
		return device.InvalidID, err
	}
	d.framebuffers[device.FramebufferID(id)] = framebuffer{width: width, height: height}
	return device.FramebufferID(id), nil
}

// DestroyFramebuffer implements device.FramebufferDevice.
func (d *Device) DestroyFramebuffer(id device.FramebufferID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.framebuffers[id]; !ok {
		return
	}
	delete(d.framebuffers, id)
	d.record(KindFramebuffer, uint64(id))
}

// Calls returns a copy of the call log.
func (d *Device) Calls() []Call {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Call, len(d.calls))
	copy(out, d.calls)
	return out
}

// Destroyed returns the destroy calls in order.
func (d *Device) Destroyed() []Call {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []Call
	for _, c := range d.calls {
		if c.Op == OpDestroy {
			out = append(out, c)
		}
	}
	return out
}

// Live returns the number of live objects of kind.
func (d *Device) Live(kind Kind) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch kind {
	case KindBuffer:
		return len(d.buffers)
	case KindTexture:
		return len(d.textures)
	case KindShader:
		return len(d.shaders)
	case KindProgram:
		return len(d.programs)
	case KindFramebuffer:
		return len(d.framebuffers)
	}
	return 0
}

// Created returns the number of create calls of kind, including failed
// ones.
func (d *Device) Created(kind Kind) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.created[kind]
}

// BufferData returns a copy of a buffer's contents.
func (d *Device) BufferData(id device.BufferID) ([]byte, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.buffers[id]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), b.data...), true
}

// BufferSize returns a buffer's size.
func (d *Device) BufferSize(id device.BufferID) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if b, ok := d.buffers[id]; ok {
		return len(b.data)
	}
	return 0
}

// TextureData returns a copy of the last upload to a texture.
func (d *Device) TextureData(id device.TextureID) ([]byte, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.textures[id]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), t.data...), true
}

// TextureDesc returns the descriptor a texture was created with.
func (d *Device) TextureDesc(id device.TextureID) (device.TextureDescriptor, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.textures[id]
	if !ok {
		return device.TextureDescriptor{}, false
	}
	return t.desc, true
}

// Linked reports whether a program exists and linked successfully.
func (d *Device) Linked(id device.ProgramID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.programs[id]
}

var _ device.Device = (*Device)(nil)
