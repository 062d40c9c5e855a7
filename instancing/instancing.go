// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package instancing draws many copies of one geometry with per-instance
// attributes.
//
// Each instance set owns two pooled buffers: a static buffer with the base
// geometry and a dynamic buffer with packed per-instance float32 data.
// Attributes read from the instance buffer advance once per instance.
package instancing

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/emirpasic/gods/trees/btree"
	"github.com/emirpasic/gods/utils"

	"github.com/gogpu/gpures"
	"github.com/gogpu/gpures/device"
	"github.com/gogpu/gpures/pool"
)

// Vertex buffer slots used by SetupAttributes.
const (
	GeometrySlot uint32 = 0
	InstanceSlot uint32 = 1
)

const treeOrder = 8

// Observer is notified of every draw call issued.
type Observer interface {
	TrackDrawCall()
}

// Options configures a Manager.
type Options struct {
	// Observer may be nil.
	Observer Observer
}

type record struct {
	id int

	geometry      device.BufferID
	geometryBytes int

	instances device.BufferID
	capacity  int // bytes requested for the instance buffer
	count     int

	stride int // float32 components per instance
	layout []device.Attribute
}

// Manager tracks instance sets. It is safe for concurrent use.
type Manager struct {
	mu       sync.Mutex
	buffers  *pool.BufferPool
	dev      device.BufferDevice
	observer Observer
	records  *btree.Tree // int -> *record
	nextID   int
}

// New returns a manager that takes buffers from buffers and uploads through
// dev.
func New(buffers *pool.BufferPool, dev device.BufferDevice, opts Options) *Manager {
	return &Manager{
		buffers:  buffers,
		dev:      dev,
		observer: opts.Observer,
		records:  btree.NewWith(treeOrder, utils.IntComparator),
		nextID:   1,
	}
}

// CreateInstance uploads base geometry and per-instance data and returns
// the id of the new instance set, starting from 1.
//
// layout describes one instance; its Stride and Offset fields are computed
// from the component counts, packed in order. The number of instances is
// len(data) divided by the total component count, rounded down.
//
// On failure every buffer already taken goes back to the pool and no
// instance set is recorded.
func (m *Manager) CreateInstance(base, data []float32, layout []device.Attribute) (int, error) {
	stride := device.Stride(layout)
	if stride <= 0 {
		return 0, fmt.Errorf("%w: empty attribute layout", gpures.ErrInvalidSize)
	}
	if len(base) == 0 {
		return 0, fmt.Errorf("%w: empty base geometry", gpures.ErrInvalidSize)
	}

	geomBytes := encodeFloats(base)
	geometry, err := m.buffers.RequestBuffer(pool.BufferRequest{Size: len(geomBytes), Usage: device.StaticVertex})
	if err != nil {
		return 0, fmt.Errorf("instancing: geometry buffer: %w", err)
	}
	if err := m.dev.WriteBuffer(geometry, 0, geomBytes); err != nil {
		m.buffers.ReleaseBuffer(geometry, device.StaticVertex)
		return 0, fmt.Errorf("instancing: upload geometry: %w", err)
	}

	instBytes := encodeFloats(data)
	capacity := max(len(instBytes), stride*4)
	instances, err := m.buffers.RequestBuffer(pool.BufferRequest{Size: capacity, Usage: device.DynamicVertex})
	if err != nil {
		m.buffers.ReleaseBuffer(geometry, device.StaticVertex)
		return 0, fmt.Errorf("instancing: instance buffer: %w", err)
	}
	if len(instBytes) > 0 {
		if err := m.dev.WriteBuffer(instances, 0, instBytes); err != nil {
			m.buffers.ReleaseBuffer(instances, device.DynamicVertex)
			m.buffers.ReleaseBuffer(geometry, device.StaticVertex)
			return 0, fmt.Errorf("instancing: upload instances: %w", err)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	r := &record{
		id:            m.nextID,
		geometry:      geometry,
		geometryBytes: len(geomBytes),
		instances:     instances,
		capacity:      capacity,
		count:         len(data) / stride,
		stride:        stride,
		layout:        packLayout(layout),
	}
	m.nextID++
	m.records.Put(r.id, r)

	gpures.Logger().Debug("instancing: created", "id", r.id, "instances", r.count)
	return r.id, nil
}

// UpdateInstanceData replaces the per-instance data of id.
//
// The data is written into the existing instance buffer when it fits;
// otherwise a larger buffer is requested from the pool and the old one is
// released. The instance count becomes len(data) divided by the layout's
// component count.
func (m *Manager) UpdateInstanceData(id int, data []float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, err := m.lookup(id)
	if err != nil {
		return err
	}

	raw := encodeFloats(data)
	if len(raw) <= r.capacity {
		if len(raw) > 0 {
			if err := m.dev.WriteBuffer(r.instances, 0, raw); err != nil {
				return fmt.Errorf("instancing: upload instances: %w", err)
			}
		}
		r.count = len(data) / r.stride
		return nil
	}

	grown, err := m.buffers.RequestBuffer(pool.BufferRequest{Size: len(raw), Usage: device.DynamicVertex})
	if err != nil {
		return fmt.Errorf("instancing: grow instance buffer: %w", err)
	}
	if err := m.dev.WriteBuffer(grown, 0, raw); err != nil {
		m.buffers.ReleaseBuffer(grown, device.DynamicVertex)
		return fmt.Errorf("instancing: upload instances: %w", err)
	}
	m.buffers.ReleaseBuffer(r.instances, device.DynamicVertex)
	gpures.Logger().Debug("instancing: instance buffer grown", "id", id, "from", r.capacity, "to", len(raw))

	r.instances = grown
	r.capacity = len(raw)
	r.count = len(data) / r.stride
	return nil
}

// SetupAttributes binds the geometry and instance buffers of id and
// declares its per-instance attributes on enc.
func (m *Manager) SetupAttributes(enc device.Encoder, id int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, err := m.lookup(id)
	if err != nil {
		return err
	}
	setup(enc, r)
	return nil
}

func setup(enc device.Encoder, r *record) {
	enc.SetVertexBuffer(GeometrySlot, r.geometry, 0)
	enc.SetVertexBuffer(InstanceSlot, r.instances, 0)
	for _, a := range r.layout {
		enc.SetInstanceAttribute(a)
	}
}

// DrawInstanced sets up the attributes of id and issues one instanced draw
// of vertexCount vertices covering every tracked instance.
func (m *Manager) DrawInstanced(enc device.Encoder, id int, topology device.Topology, vertexCount uint32) error {
	m.mu.Lock()
	r, err := m.lookup(id)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	setup(enc, r)
	enc.DrawInstanced(topology, 0, vertexCount, uint32(r.count)) //nolint:gosec // count derives from a slice length
	m.mu.Unlock()

	if m.observer != nil {
		m.observer.TrackDrawCall()
	}
	return nil
}

// DeleteInstance releases both buffers of id to the pool. Unknown ids are
// ignored.
func (m *Manager) DeleteInstance(id int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteLocked(id)
}

func (m *Manager) deleteLocked(id int) {
	v, found := m.records.Get(id)
	if !found {
		return
	}
	r := v.(*record)
	m.records.Remove(id)
	m.buffers.ReleaseBuffer(r.instances, device.DynamicVertex)
	m.buffers.ReleaseBuffer(r.geometry, device.StaticVertex)
}

// Dispose deletes every instance set in id order. It is idempotent.
func (m *Manager) Dispose() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range m.records.Keys() {
		m.deleteLocked(k.(int))
	}
}

// Len returns the number of instance sets.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.records.Size()
}

// InstanceCount returns the number of instances tracked for id.
func (m *Manager) InstanceCount(id int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, err := m.lookup(id)
	if err != nil {
		return 0, err
	}
	return r.count, nil
}

// TotalInstances returns the instance count summed over all sets.
func (m *Manager) TotalInstances() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, v := range m.records.Values() {
		total += v.(*record).count
	}
	return total
}

func (m *Manager) lookup(id int) (*record, error) {
	v, found := m.records.Get(id)
	if !found {
		return nil, &gpures.NotFoundError{Kind: "instance", ID: uint64(id)} //nolint:gosec // ids are positive
	}
	return v.(*record), nil
}

// packLayout returns a copy of layout with byte offsets and stride filled
// in for tightly packed float32 components.
func packLayout(layout []device.Attribute) []device.Attribute {
	out := make([]device.Attribute, len(layout))
	stride := device.Stride(layout) * 4
	offset := 0
	for i, a := range layout {
		a.Stride = stride
		a.Offset = offset
		offset += a.Components * 4
		out[i] = a
	}
	return out
}

func encodeFloats(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}
