//go:build js && wasm

package webgl

import (
	"syscall/js"

	"github.com/gogpu/gpures"
	"github.com/gogpu/gpures/device"
)

// Extensions read by the device itself.
const (
	DebugRendererInfo = "WEBGL_debug_renderer_info"
	LoseContext       = "WEBGL_lose_context"
)

// Extension returns the extension object for name. Lookups are cached,
// misses included, until Dispose.
func (d *Device) Extension(name string) (js.Value, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.extensionLocked(name)
}

func (d *Device) extensionLocked(name string) (js.Value, bool) {
	ext, ok := d.extensions[name]
	if !ok {
		ext = d.gl.Call("getExtension", name)
		d.extensions[name] = ext
	}
	return ext, ext.Truthy()
}

// Capabilities implements device.CapabilityReporter. The context is
// queried once; later calls return the same values.
//
// Vendor and Renderer are the unmasked strings when the browser exposes
// WEBGL_debug_renderer_info, and the masked ones otherwise.
func (d *Device) Capabilities() device.Capabilities {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.caps == nil {
		c := d.queryCapabilities()
		d.caps = &c
	}
	c := *d.caps
	c.Extensions = append([]string(nil), c.Extensions...)
	return c
}

func (d *Device) queryCapabilities() device.Capabilities {
	param := func(p int) js.Value { return d.gl.Call("getParameter", p) }

	c := device.Capabilities{
		MaxTextureSize:  param(d.consts.maxTextureSize).Int(),
		MaxTextureUnits: param(d.consts.maxTextureUnits).Int(),
		Vendor:          param(d.consts.vendor).String(),
		Renderer:        param(d.consts.renderer).String(),
	}
	if info, ok := d.extensionLocked(DebugRendererInfo); ok {
		c.Vendor = param(info.Get("UNMASKED_VENDOR_WEBGL").Int()).String()
		c.Renderer = param(info.Get("UNMASKED_RENDERER_WEBGL").Int()).String()
	}
	if list := d.gl.Call("getSupportedExtensions"); list.Truthy() {
		n := list.Length()
		c.Extensions = make([]string, n)
		for i := range n {
			c.Extensions[i] = list.Index(i).String()
		}
	}
	return c
}

// Dispose deletes every object the device still owns and then forces
// context loss through WEBGL_lose_context, so the browser can reclaim the
// context at once. Creates fail with ErrContextLost afterwards. Dispose is
// idempotent.
func (d *Device) Dispose() {
	d.mu.Lock()
	if d.disposed {
		d.mu.Unlock()
		return
	}
	d.disposed = true
	loser, canLose := d.extensionLocked(LoseContext)

	framebuffers, programs, shaders := d.framebuffers, d.programs, d.shaders
	textures, buffers := d.textures, d.buffers
	d.framebuffers = make(map[device.FramebufferID]*framebuffer)
	d.programs = make(map[device.ProgramID]js.Value)
	d.shaders = make(map[device.ShaderID]js.Value)
	d.textures = make(map[device.TextureID]*texture)
	d.buffers = make(map[device.BufferID]*buffer)
	d.extensions = make(map[string]js.Value)
	d.caps = nil
	d.mu.Unlock()

	for _, f := range framebuffers {
		d.gl.Call("deleteFramebuffer", f.fbo)
		d.gl.Call("deleteTexture", f.tex)
	}
	for _, p := range programs {
		d.gl.Call("deleteProgram", p)
	}
	for _, s := range shaders {
		d.gl.Call("deleteShader", s)
	}
	for _, t := range textures {
		d.gl.Call("deleteTexture", t.obj)
	}
	for _, b := range buffers {
		d.gl.Call("deleteBuffer", b.obj)
	}

	n := len(framebuffers) + len(programs) + len(shaders) + len(textures) + len(buffers)
	if canLose {
		loser.Call("loseContext")
	}
	gpures.Logger().Info("webgl: disposed", "objects", n, "context_lost", canLose)
}

func (d *Device) unusable() bool {
	d.mu.Lock()
	disposed := d.disposed
	d.mu.Unlock()
	return disposed || d.IsContextLost()
}
