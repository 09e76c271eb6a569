// Package native provides a GPU sort backend using gogpu/wgpu.
//
// The backend owns a wgpu instance, adapter and device (or borrows a shared
// device from a gpucontext.DeviceProvider), compiles the three sort kernels
// for the device's workgroup size and runs each sort as one command buffer:
// a compute pass with every dispatch, followed by copies into staging
// buffers that are mapped for readback.
//
// Importing the package registers it as gpusort.BackendNative together with
// every wgpu HAL (Vulkan, Metal, DX12, GLES, software):
//
//	import _ "github.com/gogpu/gpusort/backend/native"
package native
