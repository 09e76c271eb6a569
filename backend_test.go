package gpusort

import (
	"context"
	"slices"
	"testing"

	"github.com/gogpu/gpucontext"
)

// stubBackend is a Backend that records calls without a device.
type stubBackend struct {
	name   string
	initOK bool
	closed bool
}

func (b *stubBackend) Name() string { return b.name }
func (b *stubBackend) Init(context.Context) error {
	if !b.initOK {
		return ErrUnsupportedDevice
	}
	return nil
}
func (b *stubBackend) Capability() Capability { return testCapability(64, 16) }
func (b *stubBackend) AdapterInfo() gpucontext.AdapterInfo {
	return gpucontext.AdapterInfo{Name: b.name, Type: gpucontext.AdapterTypeUnknown}
}
func (b *stubBackend) Execute(context.Context, *Job) error { return nil }
func (b *stubBackend) Close()                              { b.closed = true }

// withRegistry swaps the registry for the duration of a test.
func withRegistry(t *testing.T, entries map[string]BackendFactory) {
	t.Helper()
	registryMu.Lock()
	saved := backends
	backends = entries
	registryMu.Unlock()
	t.Cleanup(func() {
		registryMu.Lock()
		backends = saved
		registryMu.Unlock()
	})
}

func TestRegistry(t *testing.T) {
	withRegistry(t, map[string]BackendFactory{})

	if Default() != nil {
		t.Error("Default() should be nil with no backends")
	}
	Register("zeta", func() Backend { return &stubBackend{name: "zeta"} })
	Register(BackendSoftware, func() Backend { return &stubBackend{name: BackendSoftware} })
	Register(BackendNative, func() Backend { return &stubBackend{name: BackendNative} })

	if got := Available(); !slices.Equal(got, []string{BackendNative, BackendSoftware, "zeta"}) {
		t.Errorf("Available() = %v", got)
	}
	if !IsRegistered("zeta") || IsRegistered("missing") {
		t.Error("IsRegistered mismatch")
	}
	if Get("missing") != nil {
		t.Error("Get(missing) should be nil")
	}
	if b := Default(); b == nil || b.Name() != BackendNative {
		t.Errorf("Default() = %v, want native", b)
	}
	if got := defaultOrder(); !slices.Equal(got, []string{BackendNative, BackendSoftware, "zeta"}) {
		t.Errorf("defaultOrder() = %v", got)
	}

	Unregister(BackendNative)
	if b := Default(); b == nil || b.Name() != BackendSoftware {
		t.Errorf("Default() after Unregister = %v, want software", b)
	}
}
