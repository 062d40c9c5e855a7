// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package device defines the graphics device contract consumed by the
// gpures resource layer.
//
// The resource layer never talks to a graphics API directly. It receives a
// [Device] from the host application and works purely in terms of opaque
// IDs. Each implementation keeps its own mapping between IDs and real
// backend objects:
//
//   - device/memdev: in-memory device for tests and headless runs
//   - device/haldev: gogpu/wgpu HAL (Vulkan, Metal, DX12, GLES)
//   - device/webgl: browser WebGL2 context (js/wasm only)
//
// Resource lifecycle:
//   - Objects are created via Create* methods and must be destroyed
//     explicitly via the matching Destroy* method
//   - Create* returns an error (or InvalidID) when allocation fails
//   - Destroying an ID the device does not know is a no-op
//   - IDs are never reused by a device after destruction
package device

// BufferID is an opaque handle to a GPU buffer.
type BufferID uint64

// TextureID is an opaque handle to a 2D texture.
type TextureID uint64

// ShaderID is an opaque handle to a single shader stage object.
type ShaderID uint64

// ProgramID is an opaque handle to a linked vertex/fragment program.
type ProgramID uint64

// FramebufferID is an opaque handle to a render target.
type FramebufferID uint64

// InvalidID is the zero value, representing an invalid/null resource.
const InvalidID = 0

// Device is the full set of operations the resource layer needs.
type Device interface {
	BufferDevice
	TextureDevice
	ShaderDevice
	FramebufferDevice

	// IsContextLost reports whether the underlying context is currently
	// unusable. Callers in this module never treat it as an error; it is
	// exposed for diagnostics only.
	IsContextLost() bool
}

// BufferDevice creates, fills and destroys buffers.
type BufferDevice interface {
	// CreateBuffer allocates a buffer of size bytes.
	CreateBuffer(size int, usage Usage) (BufferID, error)

	// WriteBuffer copies data into the buffer starting at offset.
	WriteBuffer(id BufferID, offset int, data []byte) error

	// DestroyBuffer releases a buffer.
	DestroyBuffer(id BufferID)
}

// TextureDevice creates, fills and destroys 2D textures.
type TextureDevice interface {
	// CreateTexture allocates a texture described by desc.
	CreateTexture(desc TextureDescriptor) (TextureID, error)

	// WriteTexture uploads tightly packed pixels covering width x height
	// texels from the origin.
	WriteTexture(id TextureID, width, height int, data []byte) error

	// DestroyTexture releases a texture.
	DestroyTexture(id TextureID)
}

// ShaderDevice builds shader stages and programs.
//
// Compile and link status are reported the way GL reports them: a boolean
// and the driver's info log. Turning those into errors is the caller's job.
type ShaderDevice interface {
	CreateShader(stage Stage) (ShaderID, error)
	CompileShader(id ShaderID, source string) (infoLog string, ok bool)
	DestroyShader(id ShaderID)

	CreateProgram() (ProgramID, error)
	LinkProgram(id ProgramID, vertex, fragment ShaderID) (infoLog string, ok bool)
	DestroyProgram(id ProgramID)
}

// FramebufferDevice creates and destroys render targets.
type FramebufferDevice interface {
	CreateFramebuffer(width, height int) (FramebufferID, error)
	DestroyFramebuffer(id FramebufferID)
}

// Encoder records draw commands for the current frame.
//
// Encoders are obtained from the host per frame (a GL context, a HAL render
// pass). The resource layer only binds buffers, declares attributes and
// issues instanced draws.
type Encoder interface {
	// SetVertexBuffer binds a buffer to a vertex input slot.
	SetVertexBuffer(slot uint32, id BufferID, offset uint64)

	// SetInstanceAttribute declares an attribute read from the currently
	// bound instance buffer, advancing once per instance.
	SetInstanceAttribute(attr Attribute)

	// DrawInstanced draws vertexCount vertices instanceCount times.
	DrawInstanced(topology Topology, firstVertex, vertexCount, instanceCount uint32)
}
