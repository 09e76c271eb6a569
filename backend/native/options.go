package native

import (
	"github.com/gogpu/gpucontext"
	"github.com/gogpu/wgpu"
)

// Option configures a Backend.
type Option func(*Backend)

// WithPowerPreference selects the adapter power preference.
// The default is wgpu.PowerPreferenceHighPerformance.
func WithPowerPreference(p wgpu.PowerPreference) Option {
	return func(b *Backend) {
		b.power = p
	}
}

// WithLimits requests specific device limits instead of the adapter's.
func WithLimits(l wgpu.Limits) Option {
	return func(b *Backend) {
		b.limits = &l
	}
}

// WithDeviceProvider uses the device of an external provider, such as a
// gogpu application. The provider's Device must be a *wgpu.Device. The
// shared device is not released on Close.
func WithDeviceProvider(p gpucontext.DeviceProvider) Option {
	return func(b *Backend) {
		b.provider = p
	}
}

// WithAllowSoftwareAdapter controls whether a CPU adapter (the wgpu
// software HAL) may be selected. By default Init reports
// gpusort.ErrUnsupportedDevice for CPU adapters, and gpusort.New moves on
// to the software backend. An allowed CPU adapter must first sort a known
// input correctly; otherwise Init reports gpusort.ErrUnsupportedDevice.
func WithAllowSoftwareAdapter(allow bool) Option {
	return func(b *Backend) {
		b.allowCPU = allow
	}
}
