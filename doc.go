// Package gpusort sorts float32 slices on the GPU with a bitonic sorting
// network.
//
// # Overview
//
// gpusort runs the sort as three compute kernels over one storage buffer:
// a Local Sort that sorts every workgroup-sized block in shared memory,
// a Global Compare-Exchange for compare distances at or above the workgroup
// size, and a Local Merge that finishes each round in shared memory. All
// dispatches are recorded into a single compute pass and submitted once.
//
// # Quick Start
//
//	import (
//	    "github.com/gogpu/gpusort"
//	    _ "github.com/gogpu/gpusort/backend/allbackends"
//	)
//
//	s, err := gpusort.New(ctx)
//	if err != nil {
//	    return err // errors.Is(err, gpusort.ErrUnsupportedDevice) without a device
//	}
//	defer s.Close()
//
//	data := []float32{0.5, 0.25, 1, 0.75}
//	err = s.Sort(ctx, data)
//
// # Lengths
//
// A length must be a power of two no larger than Capability.Bound, which is
// the workgroup size T times the largest workgroup count G. Lengths above T
// must be multiples of T; shorter inputs are padded with +Inf internally.
// Capability.Lengths lists the lengths from 256 up to the bound.
//
// # Backends
//
// Backends register themselves by name on import:
//   - native: a gogpu/wgpu device (Vulkan, Metal, DX12, GLES)
//   - software: an emulated device that runs the same protocol on the CPU
//
// New tries native first and falls back to software. Use WithBackend to
// select one explicitly, or WithBackendInstance to pass a configured
// backend such as one sharing an application's device.
//
// # Logging
//
// gpusort is silent by default. SetLogger enables structured logging via
// log/slog.
package gpusort

// Version information
const (
	// Version is the current version of the library
	Version = "0.1.0"

	// VersionMajor is the major version
	VersionMajor = 0

	// VersionMinor is the minor version
	VersionMinor = 1

	// VersionPatch is the patch version
	VersionPatch = 0
)
