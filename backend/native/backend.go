package native

import (
	"context"
	"fmt"
	"sync"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gpusort"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu"

	// Register every HAL backend available on this platform.
	_ "github.com/gogpu/wgpu/hal/allbackends"
)

// init registers the native backend on package import.
func init() {
	gpusort.Register(gpusort.BackendNative, func() gpusort.Backend {
		return New()
	})
}

// Backend runs sorts on a wgpu device.
type Backend struct {
	mu sync.Mutex

	power    wgpu.PowerPreference
	limits   *wgpu.Limits
	provider gpucontext.DeviceProvider
	allowCPU bool

	instance *wgpu.Instance
	adapter  *wgpu.Adapter
	device   *wgpu.Device
	info     gpucontext.AdapterInfo
	cap      gpusort.Capability
	kernels  *kernels

	externalDevice bool // true when using a shared device (don't release on Close)
}

// New creates a native backend. Call Init before use.
func New(opts ...Option) *Backend {
	b := &Backend{power: wgpu.PowerPreferenceHighPerformance}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name returns gpusort.BackendNative.
func (b *Backend) Name() string { return gpusort.BackendNative }

// Init acquires the device and compiles the sort kernels.
// Calling Init on an initialized backend is a no-op.
func (b *Backend) Init(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.device != nil {
		return nil
	}

	var err error
	if b.provider != nil {
		err = b.useProvider()
	} else {
		err = b.openDevice()
	}
	if err != nil {
		b.releaseLocked()
		return err
	}

	b.cap = gpusort.CapabilityFromLimits(b.device.Limits())
	if err := b.cap.Validate(); err != nil {
		b.releaseLocked()
		return err
	}
	if b.kernels, err = newKernels(b.device, b.cap); err != nil {
		b.releaseLocked()
		return err
	}
	if b.info.Type == gpucontext.AdapterTypeSoftware {
		if err := b.selfCheck(ctx); err != nil {
			b.releaseLocked()
			return fmt.Errorf("%w: adapter %q: %w", gpusort.ErrUnsupportedDevice, b.info.Name, err)
		}
	}

	gpusort.Logger().Info("native: device ready",
		"adapter", b.info.Name,
		"type", b.info.Type.String(),
		"shared", b.externalDevice,
		"capability", b.cap)
	return nil
}

func (b *Backend) openDevice() error {
	instance, err := wgpu.CreateInstance(nil)
	if err != nil {
		return fmt.Errorf("%w: create instance: %w", gpusort.ErrUnsupportedDevice, err)
	}
	b.instance = instance

	adapter, err := instance.RequestAdapter(&wgpu.RequestAdapterOptions{PowerPreference: b.power})
	if err != nil {
		return fmt.Errorf("%w: request adapter: %w", gpusort.ErrUnsupportedDevice, err)
	}
	b.adapter = adapter

	info := adapter.Info()
	b.info = gpucontext.AdapterInfo{Name: info.Name, Type: adapterType(info.DeviceType)}
	if info.DeviceType == gputypes.DeviceTypeCPU && !b.allowCPU {
		return fmt.Errorf("%w: adapter %q is a CPU adapter", gpusort.ErrUnsupportedDevice, info.Name)
	}

	limits := adapter.Limits()
	if b.limits != nil {
		limits = *b.limits
	}
	device, err := adapter.RequestDevice(&wgpu.DeviceDescriptor{
		Label:          "gpusort",
		RequiredLimits: limits,
	})
	if err != nil {
		return fmt.Errorf("%w: request device: %w", gpusort.ErrUnsupportedDevice, err)
	}
	b.device = device
	return nil
}

// selfCheck sorts a descending input of up to four workgroups on the
// device. CPU adapters may ignore dynamic offsets or barriers and
// return unsorted data without reporting an error.
func (b *Backend) selfCheck(ctx context.Context) error {
	data := selfCheckInput(b.cap)
	plan, err := gpusort.NewPlan(b.cap, uint32(len(data))) //nolint:gosec // bounded by the capability
	if err != nil {
		return err
	}
	job := &gpusort.Job{Plan: plan, Data: data}
	if plan.NeedsGlobalPhase {
		if job.Uniforms, err = gpusort.Pack(plan.GlobalSteps, b.cap); err != nil {
			return err
		}
	}
	if err := b.execute(ctx, job); err != nil {
		return fmt.Errorf("self-check: %w", err)
	}
	if err := gpusort.Validate(data[:plan.Length]); err != nil {
		return fmt.Errorf("self-check: %w", err)
	}
	return nil
}

// selfCheckInput returns min(4T, Bound) values in descending order.
func selfCheckInput(c gpusort.Capability) []float32 {
	n := min(4*uint64(c.MaxThreadsPerWorkgroup), c.Bound())
	data := make([]float32, n)
	for i := range data {
		data[i] = float32(len(data) - i)
	}
	return data
}

func (b *Backend) useProvider() error {
	device, ok := b.provider.Device().(*wgpu.Device)
	if !ok || device == nil {
		return fmt.Errorf("%w: provider device is %T, not *wgpu.Device", gpusort.ErrUnsupportedDevice, b.provider.Device())
	}
	b.device = device
	b.externalDevice = true
	b.info = b.provider.AdapterInfo()
	return nil
}

// adapterType maps a wgpu device type to a gpucontext adapter type.
func adapterType(t gputypes.DeviceType) gpucontext.AdapterType {
	switch t {
	case gputypes.DeviceTypeDiscreteGPU:
		return gpucontext.AdapterTypeDiscrete
	case gputypes.DeviceTypeIntegratedGPU:
		return gpucontext.AdapterTypeIntegrated
	case gputypes.DeviceTypeCPU:
		return gpucontext.AdapterTypeSoftware
	default:
		return gpucontext.AdapterTypeUnknown
	}
}

// Capability returns the device capability. Valid after Init.
func (b *Backend) Capability() gpusort.Capability {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cap
}

// AdapterInfo describes the selected adapter. Valid after Init.
func (b *Backend) AdapterInfo() gpucontext.AdapterInfo {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.info
}

// Close releases the kernels and, unless the device is shared, the device,
// adapter and instance. Close is safe to call multiple times.
func (b *Backend) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.releaseLocked()
}

func (b *Backend) releaseLocked() {
	if b.kernels != nil {
		b.kernels.release()
		b.kernels = nil
	}
	if !b.externalDevice {
		if b.device != nil {
			b.device.Release()
		}
		if b.adapter != nil {
			b.adapter.Release()
		}
		if b.instance != nil {
			b.instance.Release()
		}
	}
	b.device = nil
	b.adapter = nil
	b.instance = nil
	b.externalDevice = false
}
