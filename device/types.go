// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package device

import (
	"fmt"

	"github.com/gogpu/gputypes"
)

// Hint describes how often a buffer's contents are expected to change.
// It mirrors the GL STATIC_DRAW / DYNAMIC_DRAW / STREAM_DRAW hints.
type Hint uint8

// Buffer update hints.
const (
	// HintStatic is for data uploaded once and drawn many times.
	HintStatic Hint = iota

	// HintDynamic is for data updated repeatedly and drawn many times.
	HintDynamic

	// HintStream is for data updated every frame and drawn a few times.
	HintStream
)

// String returns the hint name.
func (h Hint) String() string {
	switch h {
	case HintStatic:
		return "static"
	case HintDynamic:
		return "dynamic"
	case HintStream:
		return "stream"
	default:
		return fmt.Sprintf("Hint(%d)", uint8(h))
	}
}

// Usage is the usage class of a buffer: what it binds as and how often it
// changes. Usage is comparable and serves as the buffer pool class key.
type Usage struct {
	Flags gputypes.BufferUsage
	Hint  Hint
}

// Common buffer usage classes.
var (
	// StaticVertex is a vertex buffer filled once.
	StaticVertex = Usage{Flags: gputypes.BufferUsageVertex | gputypes.BufferUsageCopyDst, Hint: HintStatic}

	// DynamicVertex is a vertex buffer rewritten between frames.
	DynamicVertex = Usage{Flags: gputypes.BufferUsageVertex | gputypes.BufferUsageCopyDst, Hint: HintDynamic}

	// StaticIndex is an index buffer filled once.
	StaticIndex = Usage{Flags: gputypes.BufferUsageIndex | gputypes.BufferUsageCopyDst, Hint: HintStatic}

	// DynamicUniform is a uniform buffer rewritten between frames.
	DynamicUniform = Usage{Flags: gputypes.BufferUsageUniform | gputypes.BufferUsageCopyDst, Hint: HintDynamic}
)

// String returns a compact description such as "0x28/static".
func (u Usage) String() string {
	return fmt.Sprintf("%#x/%s", uint32(u.Flags), u.Hint)
}

// DefaultTextureFormat is used when a request leaves the format unset.
const DefaultTextureFormat = gputypes.TextureFormatRGBA8Unorm

// NormalizeFormat maps the undefined format to DefaultTextureFormat.
func NormalizeFormat(f gputypes.TextureFormat) gputypes.TextureFormat {
	if f == gputypes.TextureFormatUndefined {
		return DefaultTextureFormat
	}
	return f
}

// BytesPerPixel returns the storage size of one texel of the format.
// Unknown formats are assumed to be 4 bytes per pixel.
func BytesPerPixel(f gputypes.TextureFormat) int {
	switch f {
	case gputypes.TextureFormatR8Unorm:
		return 1
	default:
		return 4
	}
}

// TextureDescriptor describes a 2D texture.
type TextureDescriptor struct {
	// Label is an optional debug label.
	Label string

	// Width and Height are the texture size in pixels.
	Width  int
	Height int

	// Format is the pixel format. Zero means DefaultTextureFormat.
	Format gputypes.TextureFormat

	// Mipmaps requests a full mip chain.
	Mipmaps bool
}

// SizeBytes estimates the memory footprint of the base level.
func (d TextureDescriptor) SizeBytes() int {
	return d.Width * d.Height * BytesPerPixel(NormalizeFormat(d.Format))
}

// Capabilities is what a device reports about its limits and identity.
// Zero limits mean the device did not report them.
type Capabilities struct {
	// MaxTextureSize is the largest width or height of a 2D texture.
	MaxTextureSize int

	// MaxTextureUnits is the number of textures one fragment stage can
	// sample.
	MaxTextureUnits int

	Vendor   string
	Renderer string

	// Extensions lists optional features the device has enabled.
	Extensions []string
}

// FitsTexture reports whether a width x height texture is within
// MaxTextureSize. Every size fits when the limit is unknown.
func (c Capabilities) FitsTexture(width, height int) bool {
	return c.MaxTextureSize <= 0 || (width <= c.MaxTextureSize && height <= c.MaxTextureSize)
}

// CapabilityReporter is implemented by devices that can describe
// themselves.
type CapabilityReporter interface {
	Capabilities() Capabilities
}

// Stage identifies a programmable pipeline stage.
type Stage uint8

// Shader stages.
const (
	StageVertex Stage = iota + 1
	StageFragment
)

// String returns the stage name.
func (s Stage) String() string {
	switch s {
	case StageVertex:
		return "vertex"
	case StageFragment:
		return "fragment"
	default:
		return fmt.Sprintf("Stage(%d)", uint8(s))
	}
}

// Topology is the primitive assembly mode of a draw.
type Topology uint8

// Primitive topologies.
const (
	TopologyTriangles Topology = iota
	TopologyTriangleStrip
	TopologyLines
	TopologyLineStrip
	TopologyPoints
)

// Attribute describes one per-instance vertex attribute.
//
// Components is the number of float32 components (1 to 4). Stride and
// Offset are in bytes within the instance buffer.
type Attribute struct {
	Location   uint32
	Components int
	Normalized bool
	Stride     int
	Offset     int
}

// Stride returns the number of float32 components one instance occupies in
// the given layout, the sum of every attribute's component count.
func Stride(layout []Attribute) int {
	total := 0
	for _, a := range layout {
		total += a.Components
	}
	return total
}
