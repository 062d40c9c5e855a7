//go:build js && wasm

package webgl

import (
	"syscall/js"

	"github.com/gogpu/gpures/device"
)

// Encoder issues draws straight into the WebGL context. A vertex array
// object isolates the attribute state it sets up.
//
// The buffer at slot 0 feeds attribute location 0 with GeometryComponents
// floats per vertex.
type Encoder struct {
	GeometryComponents int

	d     *Device
	vao   js.Value
	bound map[uint32]device.BufferID
}

// NewEncoder creates an encoder with its own vertex array object.
func (d *Device) NewEncoder() *Encoder {
	return &Encoder{
		GeometryComponents: 2,

		d:     d,
		vao:   d.gl.Call("createVertexArray"),
		bound: make(map[uint32]device.BufferID),
	}
}

// SetVertexBuffer implements device.Encoder. The buffer bound at the
// highest slot receives the instance attributes declared next.
func (e *Encoder) SetVertexBuffer(slot uint32, id device.BufferID, _ uint64) {
	e.bound[slot] = id
}

func (e *Encoder) bindAttribute(id device.BufferID, location uint32, components int, normalized bool, stride, offset, divisor int) {
	e.d.mu.Lock()
	b, ok := e.d.buffers[id]
	e.d.mu.Unlock()
	if !ok {
		return
	}
	gl := e.d.gl
	gl.Call("bindVertexArray", e.vao)
	gl.Call("bindBuffer", e.d.consts.arrayBuffer, b.obj)
	gl.Call("enableVertexAttribArray", location)
	gl.Call("vertexAttribPointer", location, components, e.d.consts.floatType, normalized, stride, offset)
	gl.Call("vertexAttribDivisor", location, divisor)
}

func (e *Encoder) instanceBuffer() (device.BufferID, bool) {
	var (
		best  uint32
		id    device.BufferID
		found bool
	)
	for slot, b := range e.bound {
		if !found || slot > best {
			best, id, found = slot, b, true
		}
	}
	return id, found
}

// SetInstanceAttribute implements device.Encoder with a divisor of one.
func (e *Encoder) SetInstanceAttribute(attr device.Attribute) {
	if id, ok := e.instanceBuffer(); ok {
		e.bindAttribute(id, attr.Location, attr.Components, attr.Normalized, attr.Stride, attr.Offset, 1)
	}
}

func (e *Encoder) mode(t device.Topology) int {
	c := e.d.consts
	switch t {
	case device.TopologyTriangleStrip:
		return c.triangleStrip
	case device.TopologyLines:
		return c.lines
	case device.TopologyLineStrip:
		return c.lineStrip
	case device.TopologyPoints:
		return c.points
	default:
		return c.triangles
	}
}

// DrawInstanced implements device.Encoder.
func (e *Encoder) DrawInstanced(topology device.Topology, firstVertex, vertexCount, instanceCount uint32) {
	if geom, ok := e.bound[0]; ok && len(e.bound) > 1 {
		e.bindAttribute(geom, 0, e.GeometryComponents, false, 0, 0, 0)
	}
	gl := e.d.gl
	gl.Call("bindVertexArray", e.vao)
	gl.Call("drawArraysInstanced", e.mode(topology), firstVertex, vertexCount, instanceCount)
	gl.Call("bindVertexArray", nil)
}

// Release deletes the encoder's vertex array object.
func (e *Encoder) Release() {
	e.d.gl.Call("deleteVertexArray", e.vao)
}

var _ device.Encoder = (*Encoder)(nil)
