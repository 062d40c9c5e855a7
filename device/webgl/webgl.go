//go:build js && wasm

// Package webgl implements device.Device on a browser WebGL2 context.
package webgl

import (
	"errors"
	"fmt"
	"sync"
	"syscall/js"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/gpures"
	"github.com/gogpu/gpures/device"
)

var (
	// ErrNoContext is returned by New when the value is not a WebGL2 context.
	ErrNoContext = errors.New("webgl: webgl2 context is required")

	// ErrContextLost is returned by create calls while the context is lost
	// and after Dispose.
	ErrContextLost = errors.New("webgl: context lost")
)

type glConsts struct {
	arrayBuffer      int
	elementBuffer    int
	uniformBuffer    int
	staticDraw       int
	dynamicDraw      int
	streamDraw       int
	floatType        int
	texture2D        int
	rgba8            int
	rgba             int
	r8               int
	red              int
	unsignedByte     int
	textureMinFilter int
	textureMagFilter int
	linear           int
	clampToEdge      int
	textureWrapS     int
	textureWrapT     int
	framebuffer      int
	colorAttachment0 int
	compileStatus    int
	linkStatus       int
	vertexShader     int
	fragmentShader   int
	triangles        int
	triangleStrip    int
	lines            int
	lineStrip        int
	points           int
	unpackAlignment  int
	maxTextureSize   int
	maxTextureUnits  int
	vendor           int
	renderer         int
}

func readConsts(gl js.Value) glConsts {
	return glConsts{
		arrayBuffer:      gl.Get("ARRAY_BUFFER").Int(),
		elementBuffer:    gl.Get("ELEMENT_ARRAY_BUFFER").Int(),
		uniformBuffer:    gl.Get("UNIFORM_BUFFER").Int(),
		staticDraw:       gl.Get("STATIC_DRAW").Int(),
		dynamicDraw:      gl.Get("DYNAMIC_DRAW").Int(),
		streamDraw:       gl.Get("STREAM_DRAW").Int(),
		floatType:        gl.Get("FLOAT").Int(),
		texture2D:        gl.Get("TEXTURE_2D").Int(),
		rgba8:            gl.Get("RGBA8").Int(),
		rgba:             gl.Get("RGBA").Int(),
		r8:               gl.Get("R8").Int(),
		red:              gl.Get("RED").Int(),
		unsignedByte:     gl.Get("UNSIGNED_BYTE").Int(),
		textureMinFilter: gl.Get("TEXTURE_MIN_FILTER").Int(),
		textureMagFilter: gl.Get("TEXTURE_MAG_FILTER").Int(),
		linear:           gl.Get("LINEAR").Int(),
		clampToEdge:      gl.Get("CLAMP_TO_EDGE").Int(),
		textureWrapS:     gl.Get("TEXTURE_WRAP_S").Int(),
		textureWrapT:     gl.Get("TEXTURE_WRAP_T").Int(),
		framebuffer:      gl.Get("FRAMEBUFFER").Int(),
		colorAttachment0: gl.Get("COLOR_ATTACHMENT0").Int(),
		compileStatus:    gl.Get("COMPILE_STATUS").Int(),
		linkStatus:       gl.Get("LINK_STATUS").Int(),
		vertexShader:     gl.Get("VERTEX_SHADER").Int(),
		fragmentShader:   gl.Get("FRAGMENT_SHADER").Int(),
		triangles:        gl.Get("TRIANGLES").Int(),
		triangleStrip:    gl.Get("TRIANGLE_STRIP").Int(),
		lines:            gl.Get("LINES").Int(),
		lineStrip:        gl.Get("LINE_STRIP").Int(),
		points:           gl.Get("POINTS").Int(),
		unpackAlignment:  gl.Get("UNPACK_ALIGNMENT").Int(),
		maxTextureSize:   gl.Get("MAX_TEXTURE_SIZE").Int(),
		maxTextureUnits:  gl.Get("MAX_TEXTURE_IMAGE_UNITS").Int(),
		vendor:           gl.Get("VENDOR").Int(),
		renderer:         gl.Get("RENDERER").Int(),
	}
}

type buffer struct {
	obj    js.Value
	target int
	size   int
}

type texture struct {
	obj  js.Value
	desc device.TextureDescriptor
}

type framebuffer struct {
	fbo js.Value
	tex js.Value
}

// Device adapts a WebGL2RenderingContext to device.Device.
//
// WebGL objects belong to the JS thread; the mutex only protects the
// handle tables.
type Device struct {
	mu     sync.Mutex
	gl     js.Value
	consts glConsts
	nextID uint64

	extensions map[string]js.Value // getExtension results, null included
	caps       *device.Capabilities
	disposed   bool

	buffers      map[device.BufferID]*buffer
	textures     map[device.TextureID]*texture
	shaders      map[device.ShaderID]js.Value
	programs     map[device.ProgramID]js.Value
	framebuffers map[device.FramebufferID]*framebuffer
}

// New wraps a WebGL2 context, typically canvas.getContext("webgl2").
func New(gl js.Value) (*Device, error) {
	if gl.IsUndefined() || gl.IsNull() {
		return nil, ErrNoContext
	}
	return &Device{
		gl:           gl,
		consts:       readConsts(gl),
		nextID:       1,
		extensions:   make(map[string]js.Value),
		buffers:      make(map[device.BufferID]*buffer),
		textures:     make(map[device.TextureID]*texture),
		shaders:      make(map[device.ShaderID]js.Value),
		programs:     make(map[device.ProgramID]js.Value),
		framebuffers: make(map[device.FramebufferID]*framebuffer),
	}, nil
}

func (d *Device) newID() uint64 {
	id := d.nextID
	d.nextID++
	return id
}

// IsContextLost implements device.Device.
func (d *Device) IsContextLost() bool {
	return d.gl.Call("isContextLost").Bool()
}

func uint8Array(data []byte) js.Value {
	arr := js.Global().Get("Uint8Array").New(len(data))
	js.CopyBytesToJS(arr, data)
	return arr
}

func (d *Device) bufferTarget(u device.Usage) int {
	switch {
	case u.Flags&gputypes.BufferUsageIndex != 0:
		return d.consts.elementBuffer
	case u.Flags&gputypes.BufferUsageUniform != 0:
		return d.consts.uniformBuffer
	default:
		return d.consts.arrayBuffer
	}
}

func (d *Device) bufferHint(h device.Hint) int {
	switch h {
	case device.HintDynamic:
		return d.consts.dynamicDraw
	case device.HintStream:
		return d.consts.streamDraw
	default:
		return d.consts.staticDraw
	}
}

// CreateBuffer implements device.BufferDevice.
func (d *Device) CreateBuffer(size int, usage device.Usage) (device.BufferID, error) {
	if d.unusable() {
		return device.InvalidID, ErrContextLost
	}
	obj := d.gl.Call("createBuffer")
	if !obj.Truthy() {
		return device.InvalidID, nil
	}
	target := d.bufferTarget(usage)
	d.gl.Call("bindBuffer", target, obj)
	d.gl.Call("bufferData", target, size, d.bufferHint(usage.Hint))

	d.mu.Lock()
	defer d.mu.Unlock()
	id := device.BufferID(d.newID())
	d.buffers[id] = &buffer{obj: obj, target: target, size: size}
	return id, nil
}

// WriteBuffer implements device.BufferDevice.
func (d *Device) WriteBuffer(id device.BufferID, offset int, data []byte) error {
	d.mu.Lock()
	b, ok := d.buffers[id]
	d.mu.Unlock()
	if !ok {
		return fmt.Errorf("webgl: unknown buffer %d", id)
	}
	if offset < 0 || offset+len(data) > b.size {
		return fmt.Errorf("webgl: write of %d bytes at %d overflows buffer of %d", len(data), offset, b.size)
	}
	if len(data) == 0 {
		return nil
	}
	d.gl.Call("bindBuffer", b.target, b.obj)
	d.gl.Call("bufferSubData", b.target, offset, uint8Array(data))
	return nil
}

// DestroyBuffer implements device.BufferDevice.
func (d *Device) DestroyBuffer(id device.BufferID) {
	d.mu.Lock()
	b, ok := d.buffers[id]
	delete(d.buffers, id)
	d.mu.Unlock()
	if ok {
		d.gl.Call("deleteBuffer", b.obj)
	}
}

// texFormat returns the internal format, format and type of f.
func (d *Device) texFormat(f gputypes.TextureFormat) (internal, format, typ int, err error) {
	switch device.NormalizeFormat(f) {
	case gputypes.TextureFormatRGBA8Unorm:
		return d.consts.rgba8, d.consts.rgba, d.consts.unsignedByte, nil
	case gputypes.TextureFormatR8Unorm:
		return d.consts.r8, d.consts.red, d.consts.unsignedByte, nil
	default:
		return 0, 0, 0, fmt.Errorf("webgl: texture format %v not supported", f)
	}
}

func (d *Device) allocTexture(w, h int, f gputypes.TextureFormat) (js.Value, error) {
	internal, format, typ, err := d.texFormat(f)
	if err != nil {
		return js.Undefined(), err
	}
	obj := d.gl.Call("createTexture")
	if !obj.Truthy() {
		return obj, nil
	}
	t2d := d.consts.texture2D
	d.gl.Call("bindTexture", t2d, obj)
	d.gl.Call("texParameteri", t2d, d.consts.textureMinFilter, d.consts.linear)
	d.gl.Call("texParameteri", t2d, d.consts.textureMagFilter, d.consts.linear)
	d.gl.Call("texParameteri", t2d, d.consts.textureWrapS, d.consts.clampToEdge)
	d.gl.Call("texParameteri", t2d, d.consts.textureWrapT, d.consts.clampToEdge)
	d.gl.Call("texImage2D", t2d, 0, internal, w, h, 0, format, typ, nil)
	return obj, nil
}

// CreateTexture implements device.TextureDevice.
func (d *Device) CreateTexture(desc device.TextureDescriptor) (device.TextureID, error) {
	if d.unusable() {
		return device.InvalidID, ErrContextLost
	}
	obj, err := d.allocTexture(desc.Width, desc.Height, desc.Format)
	if err != nil {
		return device.InvalidID, err
	}
	if !obj.Truthy() {
		return device.InvalidID, nil
	}
	desc.Format = device.NormalizeFormat(desc.Format)

	d.mu.Lock()
	defer d.mu.Unlock()
	id := device.TextureID(d.newID())
	d.textures[id] = &texture{obj: obj, desc: desc}
	return id, nil
}

// WriteTexture implements device.TextureDevice.
func (d *Device) WriteTexture(id device.TextureID, width, height int, data []byte) error {
	d.mu.Lock()
	t, ok := d.textures[id]
	d.mu.Unlock()
	if !ok {
		return fmt.Errorf("webgl: unknown texture %d", id)
	}
	if width > t.desc.Width || height > t.desc.Height {
		return fmt.Errorf("webgl: %dx%d upload exceeds %dx%d texture", width, height, t.desc.Width, t.desc.Height)
	}
	bpp := device.BytesPerPixel(t.desc.Format)
	if len(data) != width*height*bpp {
		return fmt.Errorf("webgl: %d bytes for %dx%d upload, want %d", len(data), width, height, width*height*bpp)
	}
	_, format, typ, err := d.texFormat(t.desc.Format)
	if err != nil {
		return err
	}
	t2d := d.consts.texture2D
	d.gl.Call("bindTexture", t2d, t.obj)
	d.gl.Call("pixelStorei", d.consts.unpackAlignment, 1)
	d.gl.Call("texSubImage2D", t2d, 0, 0, 0, width, height, format, typ, uint8Array(data))
	if t.desc.Mipmaps {
		d.gl.Call("generateMipmap", t2d)
	}
	return nil
}

// DestroyTexture implements device.TextureDevice.
func (d *Device) DestroyTexture(id device.TextureID) {
	d.mu.Lock()
	t, ok := d.textures[id]
	delete(d.textures, id)
	d.mu.Unlock()
	if ok {
		d.gl.Call("deleteTexture", t.obj)
	}
}

// CreateShader implements device.ShaderDevice.
func (d *Device) CreateShader(stage device.Stage) (device.ShaderID, error) {
	if d.unusable() {
		return device.InvalidID, ErrContextLost
	}
	typ := d.consts.vertexShader
	if stage == device.StageFragment {
		typ = d.consts.fragmentShader
	}
	obj := d.gl.Call("createShader", typ)
	if !obj.Truthy() {
		return device.InvalidID, nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	id := device.ShaderID(d.newID())
	d.shaders[id] = obj
	return id, nil
}

// CompileShader implements device.ShaderDevice.
func (d *Device) CompileShader(id device.ShaderID, source string) (string, bool) {
	d.mu.Lock()
	obj, ok := d.shaders[id]
	d.mu.Unlock()
	if !ok {
		return fmt.Sprintf("webgl: unknown shader %d", id), false
	}
	d.gl.Call("shaderSource", obj, source)
	d.gl.Call("compileShader", obj)
	if !d.gl.Call("getShaderParameter", obj, d.consts.compileStatus).Bool() {
		return d.gl.Call("getShaderInfoLog", obj).String(), false
	}
	return "", true
}

// DestroyShader implements device.ShaderDevice.
func (d *Device) DestroyShader(id device.ShaderID) {
	d.mu.Lock()
	obj, ok := d.shaders[id]
	delete(d.shaders, id)
	d.mu.Unlock()
	if ok {
		d.gl.Call("deleteShader", obj)
	}
}

// CreateProgram implements device.ShaderDevice.
func (d *Device) CreateProgram() (device.ProgramID, error) {
	if d.unusable() {
		return device.InvalidID, ErrContextLost
	}
	obj := d.gl.Call("createProgram")
	if !obj.Truthy() {
		return device.InvalidID, nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	id := device.ProgramID(d.newID())
	d.programs[id] = obj
	return id, nil
}

// LinkProgram implements device.ShaderDevice. The shaders are detached
// after linking so they can be deleted independently.
func (d *Device) LinkProgram(id device.ProgramID, vertex, fragment device.ShaderID) (string, bool) {
	d.mu.Lock()
	prog, okp := d.programs[id]
	vs, okv := d.shaders[vertex]
	fs, okf := d.shaders[fragment]
	d.mu.Unlock()
	if !okp || !okv || !okf {
		return "webgl: link of unknown object", false
	}
	d.gl.Call("attachShader", prog, vs)
	d.gl.Call("attachShader", prog, fs)
	d.gl.Call("linkProgram", prog)
	linked := d.gl.Call("getProgramParameter", prog, d.consts.linkStatus).Bool()
	d.gl.Call("detachShader", prog, vs)
	d.gl.Call("detachShader", prog, fs)
	if !linked {
		return d.gl.Call("getProgramInfoLog", prog).String(), false
	}
	return "", true
}

// DestroyProgram implements device.ShaderDevice.
func (d *Device) DestroyProgram(id device.ProgramID) {
	d.mu.Lock()
	obj, ok := d.programs[id]
	delete(d.programs, id)
	d.mu.Unlock()
	if ok {
		d.gl.Call("deleteProgram", obj)
	}
}

// CreateFramebuffer implements device.FramebufferDevice with an RGBA8
// color attachment.
func (d *Device) CreateFramebuffer(width, height int) (device.FramebufferID, error) {
	if d.unusable() {
		return device.InvalidID, ErrContextLost
	}
	tex, err := d.allocTexture(width, height, gputypes.TextureFormatRGBA8Unorm)
	if err != nil {
		return device.InvalidID, err
	}
	fbo := d.gl.Call("createFramebuffer")
	if !tex.Truthy() || !fbo.Truthy() {
		if tex.Truthy() {
			d.gl.Call("deleteTexture", tex)
		}
		return device.InvalidID, nil
	}
	fb := d.consts.framebuffer
	d.gl.Call("bindFramebuffer", fb, fbo)
	d.gl.Call("framebufferTexture2D", fb, d.consts.colorAttachment0, d.consts.texture2D, tex, 0)
	d.gl.Call("bindFramebuffer", fb, js.Null())

	d.mu.Lock()
	defer d.mu.Unlock()
	id := device.FramebufferID(d.newID())
	d.framebuffers[id] = &framebuffer{fbo: fbo, tex: tex}
	return id, nil
}

// DestroyFramebuffer implements device.FramebufferDevice.
func (d *Device) DestroyFramebuffer(id device.FramebufferID) {
	d.mu.Lock()
	f, ok := d.framebuffers[id]
	delete(d.framebuffers, id)
	d.mu.Unlock()
	if ok {
		d.gl.Call("deleteFramebuffer", f.fbo)
		d.gl.Call("deleteTexture", f.tex)
	}
}

// UseProgram makes a linked program current.
func (d *Device) UseProgram(id device.ProgramID) bool {
	d.mu.Lock()
	obj, ok := d.programs[id]
	d.mu.Unlock()
	if ok {
		d.gl.Call("useProgram", obj)
	} else {
		gpures.Logger().Warn("webgl: use of unknown program", "id", uint64(id))
	}
	return ok
}

var _ device.Device = (*Device)(nil)
