//go:build !nogpu

package haldev

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/naga"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/gpures/device"
)

// compileSPIRV compiles WGSL source to SPIR-V words.
func compileSPIRV(source string) ([]uint32, error) {
	spirvBytes, err := naga.Compile(source)
	if err != nil {
		return nil, err
	}
	if len(spirvBytes)%4 != 0 {
		return nil, fmt.Errorf("SPIR-V length %d is not word aligned", len(spirvBytes))
	}

	// SPIR-V is little-endian 32-bit words
	words := make([]uint32, len(spirvBytes)/4)
	for i := range words {
		words[i] = uint32(spirvBytes[i*4]) |
			uint32(spirvBytes[i*4+1])<<8 |
			uint32(spirvBytes[i*4+2])<<16 |
			uint32(spirvBytes[i*4+3])<<24
	}
	return words, nil
}

// CreateShader implements device.ShaderDevice. The module is created on
// CompileShader.
func (d *Device) CreateShader(stage device.Stage) (device.ShaderID, error) {
	if d.lost.Load() {
		return device.InvalidID, ErrContextLost
	}
	id := device.ShaderID(d.newID())
	d.mu.Lock()
	d.shaders[id] = &shader{stage: stage}
	d.mu.Unlock()
	return id, nil
}

// CompileShader implements device.ShaderDevice. The info log holds the
// naga diagnostic on failure.
func (d *Device) CompileShader(id device.ShaderID, source string) (string, bool) {
	d.mu.RLock()
	s, ok := d.shaders[id]
	d.mu.RUnlock()
	if !ok {
		return fmt.Sprintf("haldev: unknown shader %d", id), false
	}

	words, err := compileSPIRV(source)
	if err != nil {
		return err.Error(), false
	}
	module, err := d.dev.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label: "gpures_" + s.stage.String(),
		Source: hal.ShaderSource{
			SPIRV: words,
		},
	})
	if err != nil {
		return fmt.Sprintf("create shader module: %v", err), false
	}

	d.mu.Lock()
	cur, ok := d.shaders[id]
	if !ok {
		// Destroyed while compiling.
		d.mu.Unlock()
		d.dev.DestroyShaderModule(module)
		return fmt.Sprintf("haldev: shader %d destroyed during compile", id), false
	}
	old := cur.module
	cur.module = module
	d.mu.Unlock()

	if old != nil {
		d.dev.DestroyShaderModule(old)
	}
	return "", true
}

// DestroyShader implements device.ShaderDevice.
func (d *Device) DestroyShader(id device.ShaderID) {
	d.mu.Lock()
	s, ok := d.shaders[id]
	if ok {
		delete(d.shaders, id)
	}
	d.mu.Unlock()

	if ok && s.module != nil {
		d.dev.DestroyShaderModule(s.module)
	}
}

// CreateProgram implements device.ShaderDevice. The pipeline is built on
// LinkProgram.
func (d *Device) CreateProgram() (device.ProgramID, error) {
	if d.lost.Load() {
		return device.InvalidID, ErrContextLost
	}
	id := device.ProgramID(d.newID())
	d.mu.Lock()
	d.programs[id] = &program{}
	d.mu.Unlock()
	return id, nil
}

// LinkProgram implements device.ShaderDevice by building a render
// pipeline from the two modules.
func (d *Device) LinkProgram(id device.ProgramID, vertex, fragment device.ShaderID) (string, bool) {
	d.mu.RLock()
	_, known := d.programs[id]
	vs, fs := d.shaders[vertex], d.shaders[fragment]
	d.mu.RUnlock()

	switch {
	case !known:
		return fmt.Sprintf("haldev: unknown program %d", id), false
	case vs == nil || vs.module == nil || vs.stage != device.StageVertex:
		return "link: vertex shader missing or not compiled", false
	case fs == nil || fs.module == nil || fs.stage != device.StageFragment:
		return "link: fragment shader missing or not compiled", false
	}

	layout, err := d.dev.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            "gpures_program_layout",
		BindGroupLayouts: []hal.BindGroupLayout{},
	})
	if err != nil {
		return fmt.Sprintf("create pipeline layout: %v", err), false
	}
	pipeline, err := d.dev.CreateRenderPipeline(&hal.RenderPipelineDescriptor{
		Label:  "gpures_program",
		Layout: layout,
		Vertex: hal.VertexState{
			Module:     vs.module,
			EntryPoint: VertexEntryPoint,
			Buffers:    d.vertexLayouts,
		},
		Fragment: &hal.FragmentState{
			Module:     fs.module,
			EntryPoint: FragmentEntryPoint,
			Targets: []gputypes.ColorTargetState{
				{
					Format:    d.colorFormat,
					WriteMask: gputypes.ColorWriteMaskAll,
				},
			},
		},
		Primitive: gputypes.PrimitiveState{
			Topology: gputypes.PrimitiveTopologyTriangleList,
			CullMode: gputypes.CullModeNone,
		},
		Multisample: gputypes.MultisampleState{
			Count: 1,
			Mask:  0xFFFFFFFF,
		},
	})
	if err != nil {
		d.dev.DestroyPipelineLayout(layout)
		return fmt.Sprintf("create render pipeline: %v", err), false
	}

	d.mu.Lock()
	p, ok := d.programs[id]
	if !ok {
		d.mu.Unlock()
		d.destroyProgram(&program{layout: layout, pipeline: pipeline})
		return fmt.Sprintf("haldev: program %d destroyed during link", id), false
	}
	old := *p
	p.layout, p.pipeline = layout, pipeline
	d.mu.Unlock()

	d.destroyProgram(&old)
	return "", true
}

func (d *Device) destroyProgram(p *program) {
	if p.pipeline != nil {
		d.dev.DestroyRenderPipeline(p.pipeline)
	}
	if p.layout != nil {
		d.dev.DestroyPipelineLayout(p.layout)
	}
}

// DestroyProgram implements device.ShaderDevice.
func (d *Device) DestroyProgram(id device.ProgramID) {
	d.mu.Lock()
	p, ok := d.programs[id]
	if ok {
		delete(d.programs, id)
	}
	d.mu.Unlock()

	if ok {
		d.destroyProgram(p)
	}
}

// Pipeline returns the render pipeline of a linked program.
func (d *Device) Pipeline(id device.ProgramID) (hal.RenderPipeline, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.programs[id]
	if !ok || p.pipeline == nil {
		return nil, false
	}
	return p.pipeline, true
}
