// Package software provides a CPU emulation of a compute device for gpusort.
//
// The emulated device mirrors the parts of WebGPU the sort uses: buffers with
// usage flags, compute pipelines for the three sort kernels, bind groups with
// dynamic uniform offsets, a command encoder with compute passes and buffer
// copies, and an in-order queue. Each dispatch runs its workgroups on a
// worker pool and waits for all of them before the next command starts.
// Inside a workgroup the invocations advance one network stage at a time,
// which is the emulated workgroup barrier.
//
// The backend registers itself as gpusort.BackendSoftware on import:
//
//	import _ "github.com/gogpu/gpusort/backend/software"
package software
