package native

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/gogpu/gpusort"
	"github.com/gogpu/gpusort/internal/readback"
	"github.com/gogpu/wgpu"
)

// Execute uploads the job data and uniforms, records the sort protocol into
// one compute pass, copies the result into chunked staging buffers, submits
// everything in one command buffer and maps each chunk back.
func (b *Backend) Execute(ctx context.Context, job *gpusort.Job) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.execute(ctx, job)
}

func (b *Backend) execute(ctx context.Context, job *gpusort.Job) error {
	d := b.device
	if d == nil || b.kernels == nil {
		return fmt.Errorf("native: %w", gpusort.ErrClosed)
	}
	plan := job.Plan
	if uint32(len(job.Data)) != plan.PaddedLength { //nolint:gosec // length checked by the planner
		return fmt.Errorf("native: job has %d elements, plan needs %d", len(job.Data), plan.PaddedLength)
	}

	var res resources
	defer res.release()

	storageSize := uint64(plan.PaddedLength) * 4
	storage, err := res.buffer(d, &wgpu.BufferDescriptor{
		Label: "sort storage",
		Size:  storageSize,
		Usage: wgpu.BufferUsageStorage | wgpu.BufferUsageCopyDst | wgpu.BufferUsageCopySrc,
	})
	if err != nil {
		return err
	}
	if err := d.Queue().WriteBuffer(storage, 0, encodeFloats(job.Data)); err != nil {
		return fmt.Errorf("native: upload: %w", err)
	}
	storageBG, err := res.bindGroup(d, &wgpu.BindGroupDescriptor{
		Label:   "sort storage",
		Layout:  b.kernels.storageLayout,
		Entries: []wgpu.BindGroupEntry{{Binding: 0, Buffer: storage, Size: storageSize}},
	})
	if err != nil {
		return err
	}

	var uniformBG *wgpu.BindGroup
	if plan.NeedsGlobalPhase {
		u := job.Uniforms
		ubuf, err := res.buffer(d, &wgpu.BufferDescriptor{
			Label: "sort uniforms",
			Size:  u.Size(),
			Usage: wgpu.BufferUsageUniform | wgpu.BufferUsageCopyDst,
		})
		if err != nil {
			return err
		}
		if err := d.Queue().WriteBuffer(ubuf, 0, u.Bytes()); err != nil {
			return fmt.Errorf("native: upload uniforms: %w", err)
		}
		uniformBG, err = res.bindGroup(d, &wgpu.BindGroupDescriptor{
			Label:   "sort uniforms",
			Layout:  b.kernels.uniformLayout,
			Entries: []wgpu.BindGroupEntry{{Binding: 0, Buffer: ubuf, Size: uint64(u.BindingSize())}},
		})
		if err != nil {
			return err
		}
	}

	enc, err := d.CreateCommandEncoder(&wgpu.CommandEncoderDescriptor{Label: "sort"})
	if err != nil {
		return fmt.Errorf("native: command encoder: %w", err)
	}
	pass, err := enc.BeginComputePass(&wgpu.ComputePassDescriptor{Label: "bitonic sort"})
	if err != nil {
		return fmt.Errorf("native: begin compute pass: %w", err)
	}
	pass.SetBindGroup(storageGroup, storageBG, nil)
	pe := &passEncoder{pass: pass, kernels: b.kernels, uniforms: uniformBG}
	n, err := gpusort.Record(plan, job.Uniforms, pe)
	if err != nil {
		_ = pass.End()
		return err
	}
	if err := pass.End(); err != nil {
		return fmt.Errorf("native: end compute pass: %w", err)
	}

	chunkSize := job.ReadbackChunkSize
	if chunkSize == 0 {
		chunkSize = readback.DefaultMaxChunkSize
	}
	chunks := readback.Split(uint64(plan.Length)*4, chunkSize)
	staging := make([]*wgpu.Buffer, len(chunks))
	for i, c := range chunks {
		staging[i], err = res.buffer(d, &wgpu.BufferDescriptor{
			Label: fmt.Sprintf("sort readback %d", i),
			Size:  c.Size,
			Usage: wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst,
		})
		if err != nil {
			return err
		}
		enc.CopyBufferToBuffer(storage, c.Offset, staging[i], 0, c.Size)
	}

	cb, err := enc.Finish()
	if err != nil {
		return fmt.Errorf("native: finish: %w", err)
	}

	gpusort.Logger().Debug("native: submit", "dispatches", n, "readback_chunks", len(chunks))
	if _, err := d.Queue().Submit(cb); err != nil {
		cb.Release()
		return fmt.Errorf("native: submit: %w", err)
	}

	for i, c := range chunks {
		if err := readChunk(ctx, staging[i], c, job.Data[c.Offset/4:c.End()/4]); err != nil {
			return fmt.Errorf("native: readback chunk %d: %w", i, err)
		}
	}
	return nil
}

// readChunk maps a staging buffer, decodes it into dst and unmaps it.
func readChunk(ctx context.Context, buf *wgpu.Buffer, c readback.Chunk, dst []float32) error {
	if err := buf.Map(ctx, wgpu.MapModeRead, 0, c.Size); err != nil {
		return err
	}
	rng, err := buf.MappedRange(0, c.Size)
	if err != nil {
		_ = buf.Unmap()
		return err
	}
	decodeFloats(dst, rng.Bytes())
	rng.Release()
	return buf.Unmap()
}

// passEncoder adapts a wgpu compute pass to gpusort.Encoder. Recording
// errors surface from End and Finish.
type passEncoder struct {
	pass     *wgpu.ComputePassEncoder
	kernels  *kernels
	uniforms *wgpu.BindGroup
}

func (e *passEncoder) SetKernel(k gpusort.Kernel) error {
	e.pass.SetPipeline(e.kernels.pipeline(k))
	return nil
}

func (e *passEncoder) SetUniformSlot(offset uint32) error {
	if e.uniforms == nil {
		return fmt.Errorf("native: no uniform bind group for offset %d", offset)
	}
	e.pass.SetBindGroup(uniformGroup, e.uniforms, []uint32{offset})
	return nil
}

func (e *passEncoder) Dispatch(workgroups uint32) error {
	e.pass.Dispatch(workgroups, 1, 1)
	return nil
}

// resources tracks the objects created during one Execute.
type resources struct {
	buffers    []*wgpu.Buffer
	bindGroups []*wgpu.BindGroup
}

func (r *resources) buffer(d *wgpu.Device, desc *wgpu.BufferDescriptor) (*wgpu.Buffer, error) {
	buf, err := d.CreateBuffer(desc)
	if err != nil {
		return nil, fmt.Errorf("%w: buffer %q: %w", gpusort.ErrResourceCreation, desc.Label, err)
	}
	r.buffers = append(r.buffers, buf)
	return buf, nil
}

func (r *resources) bindGroup(d *wgpu.Device, desc *wgpu.BindGroupDescriptor) (*wgpu.BindGroup, error) {
	bg, err := d.CreateBindGroup(desc)
	if err != nil {
		return nil, fmt.Errorf("%w: bind group %q: %w", gpusort.ErrResourceCreation, desc.Label, err)
	}
	r.bindGroups = append(r.bindGroups, bg)
	return bg, nil
}

func (r *resources) release() {
	for _, bg := range r.bindGroups {
		bg.Release()
	}
	for _, buf := range r.buffers {
		buf.Release()
	}
	r.bindGroups = nil
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
