package software

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gpusort"
	"github.com/gogpu/gpusort/internal/readback"
	"github.com/gogpu/gputypes"
)

// AdapterName is the adapter name reported by the software backend.
const AdapterName = "gpusort software device"

// init registers the software backend on package import.
func init() {
	gpusort.Register(gpusort.BackendSoftware, func() gpusort.Backend {
		return New()
	})
}

// Option configures a Backend.
type Option func(*Backend)

// WithLimits sets the emulated device limits. The default is
// gputypes.DefaultLimits().
func WithLimits(l gputypes.Limits) Option {
	return func(b *Backend) {
		b.limits = l
	}
}

// WithWorkers sets the number of goroutines executing workgroups.
// Zero or negative uses GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(b *Backend) {
		b.workers = n
	}
}

// WithShaderCheck makes pipeline creation generate and validate the WGSL
// kernels as a hardware backend would.
func WithShaderCheck(enabled bool) Option {
	return func(b *Backend) {
		b.checkShaders = enabled
	}
}

// Backend runs sorts on an emulated device.
type Backend struct {
	mu           sync.Mutex
	limits       gputypes.Limits
	workers      int
	checkShaders bool

	device    *Device
	pipelines [len(gpusort.Kernels)]*ComputePipeline
}

// New creates a software backend. Call Init before use.
func New(opts ...Option) *Backend {
	b := &Backend{limits: gputypes.DefaultLimits()}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name returns gpusort.BackendSoftware.
func (b *Backend) Name() string { return gpusort.BackendSoftware }

// Init creates the emulated device and the three kernel pipelines.
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
	d, err := NewDevice(b.limits, b.workers)
	if err != nil {
		return err
	}
	for i, k := range gpusort.Kernels {
		p, err := d.CreateComputePipeline(k, b.checkShaders)
		if err != nil {
			d.Destroy()
			return err
		}
		b.pipelines[i] = p
	}
	b.device = d

	gpusort.Logger().Info("software: device created",
		"workers", d.Workers(),
		"capability", d.Capability())
	return nil
}

// Capability returns the emulated device capability.
func (b *Backend) Capability() gpusort.Capability {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.device == nil {
		return gpusort.CapabilityFromLimits(b.limits)
	}
	return b.device.Capability()
}

// AdapterInfo reports a software adapter.
func (b *Backend) AdapterInfo() gpucontext.AdapterInfo {
	return gpucontext.AdapterInfo{Name: AdapterName, Type: gpucontext.AdapterTypeSoftware}
}

// Device returns the emulated device, or nil before Init.
func (b *Backend) Device() *Device {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.device
}

// Close destroys the emulated device. Close is safe to call multiple times.
func (b *Backend) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.device != nil {
		b.device.Destroy()
		b.device = nil
	}
}

// Execute uploads the job data and uniforms, records the sort protocol into
// one compute pass, copies the result into chunked staging buffers, submits
// everything in one command buffer and reads the result back.
func (b *Backend) Execute(ctx context.Context, job *gpusort.Job) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	d := b.device
	if d == nil {
		return ErrNotInitialized
	}
	plan := job.Plan
	if uint32(len(job.Data)) != plan.PaddedLength { //nolint:gosec // length checked by the planner
		return fmt.Errorf("software: job has %d elements, plan needs %d", len(job.Data), plan.PaddedLength)
	}

	var res resources
	defer res.release()

	storageSize := uint64(plan.PaddedLength) * 4
	storage, err := res.buffer(d, &BufferDescriptor{
		Label: "sort storage",
		Size:  storageSize,
		Usage: gputypes.BufferUsageStorage | gputypes.BufferUsageCopyDst | gputypes.BufferUsageCopySrc,
	})
	if err != nil {
		return err
	}
	if err := d.Queue().WriteBuffer(storage, 0, encodeFloats(job.Data)); err != nil {
		return err
	}
	storageBG, err := d.CreateBindGroup(&BindGroupDescriptor{Label: "sort storage", Buffer: storage})
	if err != nil {
		return err
	}

	var uniformBG *BindGroup
	if plan.NeedsGlobalPhase {
		u := job.Uniforms
		ubuf, err := res.buffer(d, &BufferDescriptor{
			Label: "sort uniforms",
			Size:  u.Size(),
			Usage: gputypes.BufferUsageUniform | gputypes.BufferUsageCopyDst,
		})
		if err != nil {
			return err
		}
		if err := d.Queue().WriteBuffer(ubuf, 0, u.Bytes()); err != nil {
			return err
		}
		uniformBG, err = d.CreateBindGroup(&BindGroupDescriptor{
			Label:   "sort uniforms",
			Buffer:  ubuf,
			Size:    uint64(u.BindingSize()),
			Dynamic: true,
		})
		if err != nil {
			return err
		}
	}

	enc, err := d.CreateCommandEncoder("sort")
	if err != nil {
		return err
	}
	pass, err := enc.BeginComputePass()
	if err != nil {
		return err
	}
	if err := pass.SetBindGroup(storageGroup, storageBG, nil); err != nil {
		return err
	}
	pe := &passEncoder{pass: pass, pipelines: &b.pipelines, uniforms: uniformBG}
	n, err := gpusort.Record(plan, job.Uniforms, pe)
	if err != nil {
		return err
	}
	if err := pass.End(); err != nil {
		return err
	}

	chunkSize := job.ReadbackChunkSize
	if chunkSize == 0 {
		chunkSize = readback.DefaultMaxChunkSize
	}
	chunks := readback.Split(uint64(plan.Length)*4, chunkSize)
	staging := make([]*Buffer, len(chunks))
	for i, c := range chunks {
		staging[i], err = res.buffer(d, &BufferDescriptor{
			Label: fmt.Sprintf("sort readback %d", i),
			Size:  c.Size,
			Usage: gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst,
		})
		if err != nil {
			return err
		}
		if err := enc.CopyBufferToBuffer(storage, c.Offset, staging[i], 0, c.Size); err != nil {
			return err
		}
	}

	cb, err := enc.Finish()
	if err != nil {
		return err
	}
	gpusort.Logger().Debug("software: submit", "dispatches", n, "readback_chunks", len(chunks))
	if err := d.Queue().Submit(ctx, cb); err != nil {
		return err
	}

	for i, c := range chunks {
		raw, err := staging[i].Read(0, c.Size)
		if err != nil {
			return err
		}
		decodeFloats(job.Data[c.Offset/4:c.End()/4], raw)
	}
	return nil
}

// passEncoder adapts a ComputePass to gpusort.Encoder.
type passEncoder struct {
	pass      *ComputePass
	pipelines *[len(gpusort.Kernels)]*ComputePipeline
	uniforms  *BindGroup
}

func (e *passEncoder) SetKernel(k gpusort.Kernel) error {
	return e.pass.SetPipeline(e.pipelines[k])
}

func (e *passEncoder) SetUniformSlot(offset uint32) error {
	if e.uniforms == nil {
		return fmt.Errorf("%w: uniforms", ErrMissingBindGroup)
	}
	return e.pass.SetBindGroup(uniformGroup, e.uniforms, []uint32{offset})
}

func (e *passEncoder) Dispatch(workgroups uint32) error {
	return e.pass.Dispatch(workgroups)
}

// resources tracks buffers created during one Execute.
type resources struct {
	buffers []*Buffer
}

func (r *resources) buffer(d *Device, desc *BufferDescriptor) (*Buffer, error) {
	buf, err := d.CreateBuffer(desc)
	if err != nil {
		return nil, err
	}
	r.buffers = append(r.buffers, buf)
	return buf, nil
}

func (r *resources) release() {
	for _, buf := range r.buffers {
		buf.Release()
	}
	r.buffers = nil
}

func encodeFloats(data []float32) []byte {
	out := make([]byte, len(data)*4)
	for i, v := range data {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
	}
	return out
}

func decodeFloats(dst []float32, raw []byte) {
	for i := range dst {
		dst[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
}
