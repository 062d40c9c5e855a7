//go:build !nogpu

package haldev

import (
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/gpures/device"
)

// Encoder records gpures draws into a HAL render pass.
//
// Vertex attributes are part of the pipeline in the HAL, fixed by
// WithVertexLayouts when the program is linked, so SetInstanceAttribute
// only records the declaration. The topology of a draw is likewise fixed
// by the pipeline.
type Encoder struct {
	dev   *Device
	pass  hal.RenderPassEncoder
	attrs []device.Attribute
}

// NewEncoder wraps pass. Buffer IDs are resolved through dev.
func (d *Device) NewEncoder(pass hal.RenderPassEncoder) *Encoder {
	return &Encoder{dev: d, pass: pass}
}

// SetProgram binds the pipeline of a linked program.
func (e *Encoder) SetProgram(id device.ProgramID) bool {
	p, ok := e.dev.Pipeline(id)
	if ok {
		e.pass.SetPipeline(p)
	}
	return ok
}

// SetVertexBuffer implements device.Encoder. Unknown buffers are skipped.
func (e *Encoder) SetVertexBuffer(slot uint32, id device.BufferID, offset uint64) {
	e.dev.mu.RLock()
	b, ok := e.dev.buffers[id]
	e.dev.mu.RUnlock()
	if ok {
		e.pass.SetVertexBuffer(slot, b.buf, offset)
	}
}

// SetInstanceAttribute implements device.Encoder.
func (e *Encoder) SetInstanceAttribute(attr device.Attribute) {
	e.attrs = append(e.attrs, attr)
}

// Attributes returns the attributes declared since the last draw.
func (e *Encoder) Attributes() []device.Attribute {
	return e.attrs
}

// DrawInstanced implements device.Encoder.
func (e *Encoder) DrawInstanced(_ device.Topology, firstVertex, vertexCount, instanceCount uint32) {
	e.pass.Draw(vertexCount, instanceCount, firstVertex, 0)
	e.attrs = e.attrs[:0]
}

var _ device.Encoder = (*Encoder)(nil)
