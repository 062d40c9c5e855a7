// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package shader builds shader programs and caches them by source.
//
// Compiler turns source text into linked programs and guarantees that no
// shader or program object outlives a failed build. Cache sits on top of
// Compiler and hands out one program per distinct (vertex, fragment) source
// pair, destroying programs that go unused.
package shader

import (
	"time"

	"github.com/gogpu/gpures"
	"github.com/gogpu/gpures/device"
	"github.com/gogpu/gpures/registry"
)

// Observer receives compile timings.
type Observer interface {
	TrackShaderCompile(d time.Duration)
}

// Compiler compiles and links shaders through a registry.
type Compiler struct {
	reg      *registry.Registry
	observer Observer
}

// NewCompiler returns a compiler that creates objects through reg.
// observer may be nil.
func NewCompiler(reg *registry.Registry, observer Observer) *Compiler {
	return &Compiler{reg: reg, observer: observer}
}

// Compile creates a shader for stage and compiles source into it.
//
// On failure the shader object is destroyed and a *gpures.CompileError
// carrying the driver log is returned.
func (c *Compiler) Compile(stage device.Stage, source string) (device.ShaderID, error) {
	id, err := c.reg.CreateShader(stage)
	if err != nil {
		return device.InvalidID, err
	}

	start := time.Now()
	log, ok := c.reg.Device().CompileShader(id, source)
	if c.observer != nil {
		c.observer.TrackShaderCompile(time.Since(start))
	}
	if !ok {
		c.reg.DestroyShader(id)
		cerr := gpures.NewCompileError(stage, source, log)
		gpures.Logger().Warn("shader: compile failed", "stage", stage, "line", cerr.Line, "log", cerr.Log)
		return device.InvalidID, cerr
	}
	return id, nil
}

// Link creates a program from compiled vertex and fragment shaders.
//
// On failure the program object is destroyed and a *gpures.LinkError is
// returned. The shaders are left to the caller.
func (c *Compiler) Link(vertex, fragment device.ShaderID) (device.ProgramID, error) {
	id, err := c.reg.CreateProgram()
	if err != nil {
		return device.InvalidID, err
	}
	if log, ok := c.reg.Device().LinkProgram(id, vertex, fragment); !ok {
		c.reg.DestroyProgram(id)
		gpures.Logger().Warn("shader: link failed", "log", log)
		return device.InvalidID, &gpures.LinkError{Log: log}
	}
	return id, nil
}

// Build compiles both stages and links them. The intermediate shader
// objects are destroyed whether or not the build succeeds, so a successful
// Build leaves exactly one new program and a failed one leaves nothing.
func (c *Compiler) Build(vertexSource, fragmentSource string) (device.ProgramID, error) {
	vs, err := c.Compile(device.StageVertex, vertexSource)
	if err != nil {
		return device.InvalidID, err
	}
	defer c.reg.DestroyShader(vs)

	fs, err := c.Compile(device.StageFragment, fragmentSource)
	if err != nil {
		return device.InvalidID, err
	}
	defer c.reg.DestroyShader(fs)

	return c.Link(vs, fs)
}
