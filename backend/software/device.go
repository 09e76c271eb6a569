package software

import (
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gogpu/gpusort"
	"github.com/gogpu/gpusort/internal/parallel"
	"github.com/gogpu/gputypes"
)

// Device is an emulated compute device.
//
// Resources created by a Device are plain host memory; the Device only
// enforces the limits and usage rules a real device would.
type Device struct {
	limits gputypes.Limits
	cap    gpusort.Capability
	pool   *parallel.WorkerPool
	queue  *Queue

	// scratch holds workgroup memory, one []float32 of T elements per
	// running workgroup batch.
	scratch sync.Pool

	destroyed atomic.Bool
}

// NewDevice creates an emulated device with the given limits, running
// workgroups on the given number of workers (0 means GOMAXPROCS).
func NewDevice(limits gputypes.Limits, workers int) (*Device, error) {
	c := gpusort.CapabilityFromLimits(limits)
	if err := c.Validate(); err != nil {
		return nil, err
	}

	d := &Device{
		limits: limits,
		cap:    c,
		pool:   parallel.NewWorkerPool(workers),
	}
	t := int(c.MaxThreadsPerWorkgroup)
	d.scratch.New = func() any {
		s := make([]float32, t)
		return &s
	}
	d.queue = &Queue{device: d}
	return d, nil
}

// Limits returns the device limits.
func (d *Device) Limits() gputypes.Limits { return d.limits }

// Capability returns the sort capability derived from the limits.
func (d *Device) Capability() gpusort.Capability { return d.cap }

// Queue returns the device queue.
func (d *Device) Queue() *Queue { return d.queue }

// Workers returns the number of goroutines executing workgroups.
func (d *Device) Workers() int { return d.pool.Workers() }

// Destroy stops the worker pool. Resources created by the device become
// unusable. Destroy is safe to call multiple times.
func (d *Device) Destroy() {
	if d.destroyed.CompareAndSwap(false, true) {
		d.pool.Close()
	}
}

func (d *Device) checkAlive() error {
	if d.destroyed.Load() {
		return ErrDeviceDestroyed
	}
	return nil
}

// =============================================================================
// Buffers
// =============================================================================

// BufferDescriptor describes a buffer to create.
type BufferDescriptor struct {
	Label string
	Size  uint64
	Usage gputypes.BufferUsage
}

// Buffer is an emulated device buffer holding 32-bit words.
type Buffer struct {
	label    string
	size     uint64
	usage    gputypes.BufferUsage
	words    []uint32
	released bool
}

// CreateBuffer allocates a zeroed buffer.
//
// It fails with gpusort.ErrResourceCreation when the size is zero, not a
// multiple of 4, or above the device's maxBufferSize.
func (d *Device) CreateBuffer(desc *BufferDescriptor) (*Buffer, error) {
	if err := d.checkAlive(); err != nil {
		return nil, err
	}
	if desc.Size == 0 || desc.Size%4 != 0 {
		return nil, fmt.Errorf("%w: buffer %q: size %d", gpusort.ErrResourceCreation, desc.Label, desc.Size)
	}
	if d.limits.MaxBufferSize != 0 && desc.Size > d.limits.MaxBufferSize {
		return nil, fmt.Errorf("%w: buffer %q: size %d exceeds maxBufferSize %d",
			gpusort.ErrResourceCreation, desc.Label, desc.Size, d.limits.MaxBufferSize)
	}
	if desc.Usage == gputypes.BufferUsageNone || desc.Usage.ContainsUnknownBits() {
		return nil, fmt.Errorf("%w: buffer %q: usage %#x", gpusort.ErrResourceCreation, desc.Label, uint64(desc.Usage))
	}

	gpusort.Logger().Debug("software: create buffer", "label", desc.Label, "size", desc.Size)
	return &Buffer{
		label: desc.Label,
		size:  desc.Size,
		usage: desc.Usage,
		words: make([]uint32, desc.Size/4),
	}, nil
}

// Size returns the buffer size in bytes.
func (b *Buffer) Size() uint64 { return b.size }

// Usage returns the buffer usage flags.
func (b *Buffer) Usage() gputypes.BufferUsage { return b.usage }

// Release frees the buffer memory. Release is safe to call multiple times.
func (b *Buffer) Release() {
	b.released = true
	b.words = nil
}

func (b *Buffer) checkRange(offset, size uint64) error {
	if b.released {
		return fmt.Errorf("%w: %q", ErrBufferReleased, b.label)
	}
	if offset%4 != 0 || size%4 != 0 {
		return fmt.Errorf("%w: %q offset %d size %d", ErrNotAligned, b.label, offset, size)
	}
	if offset > b.size || size > b.size-offset {
		return fmt.Errorf("%w: %q [%d,%d) of %d bytes", ErrOutOfBounds, b.label, offset, offset+size, b.size)
	}
	return nil
}

// Read copies size bytes at offset into a new slice. The buffer must have
// MapRead usage; the emulated map completes immediately.
func (b *Buffer) Read(offset, size uint64) ([]byte, error) {
	if err := b.checkRange(offset, size); err != nil {
		return nil, err
	}
	if !b.usage.Contains(gputypes.BufferUsageMapRead) {
		return nil, fmt.Errorf("%w: %q is not MapRead", ErrInvalidUsage, b.label)
	}
	out := make([]byte, size)
	src := b.words[offset/4:]
	for i := range size / 4 {
		binary.LittleEndian.PutUint32(out[i*4:], src[i])
	}
	return out, nil
}

// =============================================================================
// Pipelines and bind groups
// =============================================================================

// ComputePipeline is one of the three sort kernels, specialised for the
// device workgroup size.
type ComputePipeline struct {
	kernel gpusort.Kernel
	t      uint32
	stages []gpusort.Step
}

// Kernel returns the kernel the pipeline runs.
func (p *ComputePipeline) Kernel() gpusort.Kernel { return p.kernel }

// CreateComputePipeline prepares kernel k. With checkSource set, the WGSL
// source a hardware device would compile is generated and validated too.
func (d *Device) CreateComputePipeline(k gpusort.Kernel, checkSource bool) (*ComputePipeline, error) {
	if err := d.checkAlive(); err != nil {
		return nil, err
	}
	if checkSource {
		src, err := gpusort.KernelSource(k, d.cap)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", gpusort.ErrResourceCreation, err)
		}
		if err := gpusort.CheckKernelSource(k, src); err != nil {
			return nil, err
		}
	}

	t := d.cap.MaxThreadsPerWorkgroup
	p := &ComputePipeline{kernel: k, t: t}
	switch k {
	case gpusort.KernelLocalSort:
		p.stages = gpusort.LocalSortStages(t)
	case gpusort.KernelLocalMerge:
		p.stages = gpusort.LocalMergeStages(t)
	case gpusort.KernelGlobalCompareExchange:
	default:
		return nil, fmt.Errorf("%w: unknown kernel %s", gpusort.ErrResourceCreation, k)
	}
	return p, nil
}

// BindGroupDescriptor describes a single-buffer bind group.
type BindGroupDescriptor struct {
	Label  string
	Buffer *Buffer

	// Size is the binding size in bytes. Zero binds the whole buffer.
	Size uint64

	// Dynamic marks a uniform binding that takes a dynamic offset.
	Dynamic bool
}

// BindGroup binds one buffer to a kernel.
type BindGroup struct {
	label   string
	buffer  *Buffer
	size    uint64
	dynamic bool
}

// CreateBindGroup validates and creates a bind group. Storage bindings need
// Storage usage and dynamic bindings need Uniform usage.
func (d *Device) CreateBindGroup(desc *BindGroupDescriptor) (*BindGroup, error) {
	if err := d.checkAlive(); err != nil {
		return nil, err
	}
	b := desc.Buffer
	if b == nil || b.released {
		return nil, fmt.Errorf("%w: bind group %q: no buffer", gpusort.ErrResourceCreation, desc.Label)
	}
	size := desc.Size
	if size == 0 {
		size = b.size
	}
	if size > b.size {
		return nil, fmt.Errorf("%w: bind group %q: size %d exceeds buffer %d", gpusort.ErrResourceCreation, desc.Label, size, b.size)
	}

	want := gputypes.BufferUsageStorage
	if desc.Dynamic {
		want = gputypes.BufferUsageUniform
	}
	if !b.usage.Contains(want) {
		return nil, fmt.Errorf("%w: bind group %q: buffer %q lacks usage %#x",
			gpusort.ErrResourceCreation, desc.Label, b.label, uint64(want))
	}
	if !desc.Dynamic && d.limits.MaxStorageBufferBindingSize != 0 && size > d.limits.MaxStorageBufferBindingSize {
		return nil, fmt.Errorf("%w: bind group %q: storage binding %d exceeds limit %d",
			gpusort.ErrResourceCreation, desc.Label, size, d.limits.MaxStorageBufferBindingSize)
	}
	return &BindGroup{label: desc.Label, buffer: b, size: size, dynamic: desc.Dynamic}, nil
}

// =============================================================================
// Queue
// =============================================================================

// Queue executes submitted command buffers in order.
type Queue struct {
	device *Device
	mu     sync.Mutex
}

// WriteBuffer copies data into the buffer at offset. The buffer must have
// CopyDst usage.
func (q *Queue) WriteBuffer(b *Buffer, offset uint64, data []byte) error {
	if err := q.device.checkAlive(); err != nil {
		return err
	}
	if err := b.checkRange(offset, uint64(len(data))); err != nil {
		return err
	}
	if !b.usage.Contains(gputypes.BufferUsageCopyDst) {
		return fmt.Errorf("%w: %q is not CopyDst", ErrInvalidUsage, b.label)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	dst := b.words[offset/4:]
	for i := range len(data) / 4 {
		dst[i] = binary.LittleEndian.Uint32(data[i*4:])
	}
	return nil
}
