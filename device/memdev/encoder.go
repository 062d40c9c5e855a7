package memdev

import (
	"sort"
	"sync"

	"github.com/gogpu/gpures/device"
)

// Binding is a vertex buffer bound to a slot.
type Binding struct {
	Slot   uint32
	Buffer device.BufferID
	Offset uint64
}

// Draw is one recorded instanced draw, with the state bound at the time.
type Draw struct {
	Topology      device.Topology
	FirstVertex   uint32
	VertexCount   uint32
	InstanceCount uint32
	Bindings      []Binding
	Attributes    []device.Attribute
}

// Encoder records commands instead of executing them.
type Encoder struct {
	mu       sync.Mutex
	bindings map[uint32]Binding
	attrs    []device.Attribute
	draws    []Draw
}

// NewEncoder returns an empty recording encoder.
func NewEncoder() *Encoder {
	return &Encoder{bindings: make(map[uint32]Binding)}
}

// SetVertexBuffer implements device.Encoder.
func (e *Encoder) SetVertexBuffer(slot uint32, id device.BufferID, offset uint64) {
	e.mu.Lock()
	e.bindings[slot] = Binding{Slot: slot, Buffer: id, Offset: offset}
	e.mu.Unlock()
}

// SetInstanceAttribute implements device.Encoder.
func (e *Encoder) SetInstanceAttribute(attr device.Attribute) {
	e.mu.Lock()
	e.attrs = append(e.attrs, attr)
	e.mu.Unlock()
}

// DrawInstanced implements device.Encoder. The attribute list is consumed
// by the draw.
func (e *Encoder) DrawInstanced(topology device.Topology, firstVertex, vertexCount, instanceCount uint32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	d := Draw{
		Topology:      topology,
		FirstVertex:   firstVertex,
		VertexCount:   vertexCount,
		InstanceCount: instanceCount,
		Attributes:    e.attrs,
	}
	for _, b := range e.bindings {
		d.Bindings = append(d.Bindings, b)
	}
	sort.Slice(d.Bindings, func(i, j int) bool { return d.Bindings[i].Slot < d.Bindings[j].Slot })
	e.draws = append(e.draws, d)
	e.attrs = nil
}

// Draws returns the recorded draws.
func (e *Encoder) Draws() []Draw {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Draw, len(e.draws))
	copy(out, e.draws)
	return out
}

// Binding returns the buffer bound to slot.
func (e *Encoder) Binding(slot uint32) (Binding, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	b, ok := e.bindings[slot]
	return b, ok
}

var _ device.Encoder = (*Encoder)(nil)
