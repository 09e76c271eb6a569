package gpusort

import (
	"context"
	"slices"
	"sync"

	"github.com/gogpu/gpucontext"
)

// Backend names.
const (
	// BackendNative is the GPU backend built on gogpu/wgpu.
	BackendNative = "native"

	// BackendSoftware is the CPU emulation of the device.
	BackendSoftware = "software"
)

// Job is one sort submission handed to a backend.
type Job struct {
	// Plan is the dispatch plan. Data holds Plan.PaddedLength elements.
	Plan Plan

	// Uniforms is the packed global-phase uniform buffer, nil when
	// Plan.NeedsGlobalPhase is false.
	Uniforms *PackedUniforms

	// Data is uploaded to the storage buffer before submission. On success
	// its first Plan.Length elements are replaced with the sorted result.
	Data []float32

	// ReadbackChunkSize caps the bytes copied back per staging buffer.
	ReadbackChunkSize uint64
}

// Backend executes sort jobs on a device.
//
// Backends must be registered via Register and are selected via Get or
// Default. A Backend is used by one Sorter at a time.
type Backend interface {
	// Name returns the backend identifier (e.g., "native", "software").
	Name() string

	// Init acquires the adapter and device. It returns ErrUnsupportedDevice
	// when no compatible device exists.
	Init(ctx context.Context) error

	// Capability returns the device capability. Valid after Init.
	Capability() Capability

	// AdapterInfo describes the selected adapter. Valid after Init.
	AdapterInfo() gpucontext.AdapterInfo

	// Execute uploads job.Data, records the dispatches of job.Plan, submits
	// them and reads the result back into job.Data.
	Execute(ctx context.Context, job *Job) error

	// Close releases all device resources.
	Close()
}

// BackendFactory creates a new backend instance.
type BackendFactory func() Backend

var (
	registryMu sync.RWMutex
	backends   = make(map[string]BackendFactory)
	// Priority order for backend selection (first available wins).
	backendPriority = []string{BackendNative, BackendSoftware}
)

// Register registers a backend factory with the given name.
// This is typically called from init() functions in backend packages.
// If a backend with the same name is already registered, it is replaced.
func Register(name string, factory BackendFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	backends[name] = factory
}

// Unregister removes a backend from the registry.
// This is useful for testing.
func Unregister(name string) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(backends, name)
}

// Available returns the sorted names of registered backends.
func Available() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// IsRegistered checks if a backend with the given name is registered.
func IsRegistered(name string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := backends[name]
	return ok
}

// Get returns a new backend instance by name, or nil if the backend is not
// registered.
func Get(name string) Backend {
	registryMu.RLock()
	factory, ok := backends[name]
	registryMu.RUnlock()

	if !ok {
		return nil
	}
	return factory()
}

// Default returns the best registered backend by priority: native, then
// software, then any other. Returns nil if no backends are registered.
func Default() Backend {
	for _, name := range defaultOrder() {
		if b := Get(name); b != nil {
			return b
		}
	}
	return nil
}

// defaultOrder lists registered names in selection order.
func defaultOrder() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	order := make([]string, 0, len(backends))
	for _, name := range backendPriority {
		if _, ok := backends[name]; ok {
			order = append(order, name)
		}
	}
	rest := make([]string, 0, len(backends))
	for name := range backends {
		if !slices.Contains(backendPriority, name) {
			rest = append(rest, name)
		}
	}
	slices.Sort(rest)
	return append(order, rest...)
}
