package native

import (
	"fmt"

	"github.com/gogpu/gpusort"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu"
)

// Bind group indices used by the sort kernels.
const (
	storageGroup = 0
	uniformGroup = 1
)

// kernels holds the compiled pipelines and the layouts they share.
type kernels struct {
	storageLayout *wgpu.BindGroupLayout
	uniformLayout *wgpu.BindGroupLayout
	localLayout   *wgpu.PipelineLayout
	globalLayout  *wgpu.PipelineLayout

	modules   [len(gpusort.Kernels)]*wgpu.ShaderModule
	pipelines [len(gpusort.Kernels)]*wgpu.ComputePipeline
}

// newKernels creates the bind group layouts, pipeline layouts and the three
// compute pipelines for capability c. On failure everything created so far
// is released.
func newKernels(device *wgpu.Device, c gpusort.Capability) (*kernels, error) {
	ks := &kernels{}
	if err := ks.createLayouts(device); err != nil {
		ks.release()
		return nil, err
	}
	for i, k := range gpusort.Kernels {
		if err := ks.createPipeline(device, i, k, c); err != nil {
			ks.release()
			return nil, err
		}
	}
	return ks, nil
}

func (ks *kernels) createLayouts(device *wgpu.Device) error {
	var err error
	ks.storageLayout, err = device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label: "sort storage layout",
		Entries: []wgpu.BindGroupLayoutEntry{{
			Binding:    0,
			Visibility: wgpu.ShaderStageCompute,
			Buffer:     &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeStorage},
		}},
	})
	if err != nil {
		return fmt.Errorf("%w: storage layout: %w", gpusort.ErrResourceCreation, err)
	}

	ks.uniformLayout, err = device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label: "sort uniform layout",
		Entries: []wgpu.BindGroupLayoutEntry{{
			Binding:    0,
			Visibility: wgpu.ShaderStageCompute,
			Buffer: &gputypes.BufferBindingLayout{
				Type:             gputypes.BufferBindingTypeUniform,
				HasDynamicOffset: true,
				MinBindingSize:   16, // sizeof(Params)
			},
		}},
	})
	if err != nil {
		return fmt.Errorf("%w: uniform layout: %w", gpusort.ErrResourceCreation, err)
	}

	ks.localLayout, err = device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		Label:            "sort local layout",
		BindGroupLayouts: []*wgpu.BindGroupLayout{ks.storageLayout},
	})
	if err != nil {
		return fmt.Errorf("%w: local pipeline layout: %w", gpusort.ErrResourceCreation, err)
	}

	ks.globalLayout, err = device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		Label:            "sort global layout",
		BindGroupLayouts: []*wgpu.BindGroupLayout{ks.storageLayout, ks.uniformLayout},
	})
	if err != nil {
		return fmt.Errorf("%w: global pipeline layout: %w", gpusort.ErrResourceCreation, err)
	}
	return nil
}

func (ks *kernels) createPipeline(device *wgpu.Device, i int, k gpusort.Kernel, c gpusort.Capability) error {
	src, err := gpusort.KernelSource(k, c)
	if err != nil {
		return fmt.Errorf("%w: %w", gpusort.ErrResourceCreation, err)
	}
	if err := gpusort.CheckKernelSource(k, src); err != nil {
		return err
	}

	ks.modules[i], err = device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label: k.String(),
		WGSL:  src,
	})
	if err != nil {
		return fmt.Errorf("%w: %s shader: %w", gpusort.ErrResourceCreation, k, err)
	}

	layout := ks.localLayout
	if k.UsesUniforms() {
		layout = ks.globalLayout
	}
	ks.pipelines[i], err = device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
		Label:      k.String(),
		Layout:     layout,
		Module:     ks.modules[i],
		EntryPoint: gpusort.EntryPoint,
	})
	if err != nil {
		return fmt.Errorf("%w: %s pipeline: %w", gpusort.ErrResourceCreation, k, err)
	}

	gpusort.Logger().Debug("native: pipeline created", "kernel", k.String(), "workgroup_size", c.MaxThreadsPerWorkgroup)
	return nil
}

// pipeline returns the compute pipeline for k.
func (ks *kernels) pipeline(k gpusort.Kernel) *wgpu.ComputePipeline {
	return ks.pipelines[k]
}

func (ks *kernels) release() {
	for i := range ks.pipelines {
		if ks.pipelines[i] != nil {
			ks.pipelines[i].Release()
			ks.pipelines[i] = nil
		}
		if ks.modules[i] != nil {
			ks.modules[i].Release()
			ks.modules[i] = nil
		}
	}
	if ks.globalLayout != nil {
		ks.globalLayout.Release()
		ks.globalLayout = nil
	}
	if ks.localLayout != nil {
		ks.localLayout.Release()
		ks.localLayout = nil
	}
	if ks.uniformLayout != nil {
		ks.uniformLayout.Release()
		ks.uniformLayout = nil
	}
	if ks.storageLayout != nil {
		ks.storageLayout.Release()
		ks.storageLayout = nil
	}
}
