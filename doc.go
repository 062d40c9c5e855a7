// Package gpures manages the lifecycle of GPU resources for interactive
// visualisations.
//
// # Overview
//
// Rendering code that creates buffers, textures and shader programs every
// frame leaks driver memory and stalls on allocation. gpures sits between
// the renderer and the graphics device and keeps those objects alive for
// reuse:
//
//   - registry: every live handle, with a single teardown point
//   - pool: reuse pools for buffers (by usage class) and textures (by format)
//   - shader: compile/link with cleanup on failure, plus a program cache
//   - instancing: per-instance buffers and instanced draws
//   - geometry: uploaded meshes cached by pattern key
//   - monitor: frame rate, draw calls and memory estimates
//
// # Quick Start
//
//	dev := memdev.New() // or haldev.New(halDevice, halQueue)
//	reg := registry.New(dev)
//	defer reg.DisposeAll()
//
//	buffers := pool.NewBufferPool(reg, pool.Options{})
//	defer buffers.Close()
//
//	id, err := buffers.RequestBuffer(pool.BufferRequest{Size: 4096, Usage: device.DynamicVertex})
//	if err != nil {
//		return err
//	}
//	defer buffers.ReleaseBuffer(id, device.DynamicVertex)
//
// # Devices
//
// The core consumes the [device.Device] interface and never touches a
// graphics API. Backends live under device/: memdev for tests and headless
// runs, haldev for gogpu/wgpu HAL devices and webgl for browsers.
//
// # Configuration
//
// [Config] gathers every tunable and loads from YAML with [LoadConfig].
//
// # Logging
//
// gpures is silent by default. Call [SetLogger] to route diagnostics to a
// slog.Logger.
package gpures
