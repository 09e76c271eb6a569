package software

import (
	"context"
	"fmt"

	"github.com/gogpu/gpusort"
	"github.com/gogpu/gputypes"
)

// Bind group indices used by the sort kernels.
const (
	storageGroup = 0
	uniformGroup = 1
	numGroups    = 2
)

// command is one recorded operation of a command buffer.
type command interface {
	execute(d *Device) error
}

// CommandEncoder records compute passes and buffer copies.
//
// State machine:
//
//	Recording -> BeginComputePass -> Locked
//	Locked    -> ComputePass.End  -> Recording
//	Recording -> Finish           -> Finished
//
// CommandEncoder is NOT safe for concurrent use.
type CommandEncoder struct {
	device   *Device
	label    string
	cmds     []command
	pass     *ComputePass
	finished bool
}

// CreateCommandEncoder creates an encoder in the Recording state.
func (d *Device) CreateCommandEncoder(label string) (*CommandEncoder, error) {
	if err := d.checkAlive(); err != nil {
		return nil, err
	}
	return &CommandEncoder{device: d, label: label}, nil
}

func (e *CommandEncoder) checkRecording() error {
	switch {
	case e.finished:
		return ErrEncoderFinished
	case e.pass != nil:
		return ErrEncoderLocked
	}
	return nil
}

// BeginComputePass opens a compute pass and locks the encoder until the
// pass ends.
func (e *CommandEncoder) BeginComputePass() (*ComputePass, error) {
	if err := e.checkRecording(); err != nil {
		return nil, err
	}
	e.pass = &ComputePass{encoder: e}
	return e.pass, nil
}

// CopyBufferToBuffer records a copy of size bytes from src to dst.
func (e *CommandEncoder) CopyBufferToBuffer(src *Buffer, srcOffset uint64, dst *Buffer, dstOffset, size uint64) error {
	if err := e.checkRecording(); err != nil {
		return err
	}
	if err := src.checkRange(srcOffset, size); err != nil {
		return err
	}
	if err := dst.checkRange(dstOffset, size); err != nil {
		return err
	}
	if !src.usage.Contains(gputypes.BufferUsageCopySrc) {
		return fmt.Errorf("%w: %q is not CopySrc", ErrInvalidUsage, src.label)
	}
	if !dst.usage.Contains(gputypes.BufferUsageCopyDst) {
		return fmt.Errorf("%w: %q is not CopyDst", ErrInvalidUsage, dst.label)
	}
	e.cmds = append(e.cmds, &copyCommand{src: src, dst: dst, srcOffset: srcOffset, dstOffset: dstOffset, size: size})
	return nil
}

// Finish ends recording and returns the command buffer.
func (e *CommandEncoder) Finish() (*CommandBuffer, error) {
	if err := e.checkRecording(); err != nil {
		return nil, err
	}
	e.finished = true
	cb := &CommandBuffer{label: e.label, cmds: e.cmds}
	e.cmds = nil
	return cb, nil
}

// CommandBuffer is a finished list of commands, submittable once.
type CommandBuffer struct {
	label    string
	cmds     []command
	consumed bool
}

// Len returns the number of recorded commands.
func (cb *CommandBuffer) Len() int { return len(cb.cmds) }

// ComputePass records dispatches.
type ComputePass struct {
	encoder  *CommandEncoder
	pipeline *ComputePipeline
	groups   [numGroups]*BindGroup
	offsets  [numGroups]uint32
	ended    bool
}

func (p *ComputePass) checkOpen() error {
	if p.ended {
		return ErrPassEnded
	}
	return nil
}

// SetPipeline sets the pipeline for subsequent dispatches.
func (p *ComputePass) SetPipeline(pipeline *ComputePipeline) error {
	if err := p.checkOpen(); err != nil {
		return err
	}
	p.pipeline = pipeline
	return nil
}

// SetBindGroup binds bg at index. A dynamic bind group takes exactly one
// offset, aligned to the device's minUniformBufferOffsetAlignment.
func (p *ComputePass) SetBindGroup(index uint32, bg *BindGroup, offsets []uint32) error {
	if err := p.checkOpen(); err != nil {
		return err
	}
	if index >= numGroups || bg == nil {
		return fmt.Errorf("%w: index %d", ErrMissingBindGroup, index)
	}

	var off uint32
	switch {
	case bg.dynamic && len(offsets) != 1:
		return fmt.Errorf("software: bind group %q: want 1 dynamic offset, got %d", bg.label, len(offsets))
	case !bg.dynamic && len(offsets) != 0:
		return fmt.Errorf("software: bind group %q: unexpected dynamic offsets", bg.label)
	case bg.dynamic:
		off = offsets[0]
		align := p.encoder.device.cap.MinUniformOffsetAlignment
		if off%align != 0 {
			return fmt.Errorf("%w: dynamic offset %d, alignment %d", ErrNotAligned, off, align)
		}
		if uint64(off)+bg.size > bg.buffer.size {
			return fmt.Errorf("%w: dynamic offset %d + %d exceeds %q (%d bytes)",
				ErrOutOfBounds, off, bg.size, bg.buffer.label, bg.buffer.size)
		}
	}
	p.groups[index] = bg
	p.offsets[index] = off
	return nil
}

// Dispatch records a dispatch of workgroups along x.
func (p *ComputePass) Dispatch(workgroups uint32) error {
	if err := p.checkOpen(); err != nil {
		return err
	}
	if p.pipeline == nil {
		return ErrNoPipeline
	}
	d := p.encoder.device
	if workgroups == 0 {
		return nil
	}
	if limit := d.limits.MaxComputeWorkgroupsPerDimension; limit != 0 && workgroups > limit {
		return fmt.Errorf("software: %d workgroups exceeds maxComputeWorkgroupsPerDimension %d", workgroups, limit)
	}

	storage := p.groups[storageGroup]
	if storage == nil || storage.dynamic {
		return fmt.Errorf("%w: storage at group %d", ErrMissingBindGroup, storageGroup)
	}
	if need := uint64(workgroups) * uint64(p.pipeline.t) * 4; need > storage.size {
		return fmt.Errorf("%w: %d invocations need %d bytes, binding has %d", ErrOutOfBounds, uint64(workgroups)*uint64(p.pipeline.t), need, storage.size)
	}

	cmd := &dispatchCommand{
		pipeline:   p.pipeline,
		storage:    storage.buffer,
		workgroups: workgroups,
	}
	if p.pipeline.kernel.UsesUniforms() {
		u := p.groups[uniformGroup]
		if u == nil || !u.dynamic {
			return fmt.Errorf("%w: uniforms at group %d", ErrMissingBindGroup, uniformGroup)
		}
		cmd.uniforms = u.buffer
		cmd.offset = p.offsets[uniformGroup]
	}
	p.encoder.cmds = append(p.encoder.cmds, cmd)
	return nil
}

// End closes the pass and unlocks the encoder.
func (p *ComputePass) End() error {
	if err := p.checkOpen(); err != nil {
		return err
	}
	p.ended = true
	p.encoder.pass = nil
	return nil
}

// =============================================================================
// Submission
// =============================================================================

// Submit executes the command buffers in order. Each command completes
// before the next starts. ctx is checked between commands; on cancellation
// the rest of the submission is abandoned and ctx.Err() is returned.
func (q *Queue) Submit(ctx context.Context, cbs ...*CommandBuffer) error {
	if err := q.device.checkAlive(); err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	for _, cb := range cbs {
		if cb.consumed {
			return fmt.Errorf("%w: %q", ErrCommandBufferConsumed, cb.label)
		}
		cb.consumed = true
		for i, cmd := range cb.cmds {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := cmd.execute(q.device); err != nil {
				return fmt.Errorf("software: %q command %d: %w", cb.label, i, err)
			}
		}
	}
	return nil
}

type copyCommand struct {
	src, dst             *Buffer
	srcOffset, dstOffset uint64
	size                 uint64
}

func (c *copyCommand) execute(*Device) error {
	if err := c.src.checkRange(c.srcOffset, c.size); err != nil {
		return err
	}
	if err := c.dst.checkRange(c.dstOffset, c.size); err != nil {
		return err
	}
	n := c.size / 4
	copy(c.dst.words[c.dstOffset/4:c.dstOffset/4+n], c.src.words[c.srcOffset/4:])
	return nil
}

type dispatchCommand struct {
	pipeline   *ComputePipeline
	storage    *Buffer
	uniforms   *Buffer
	offset     uint32
	workgroups uint32
}

func (c *dispatchCommand) execute(d *Device) error {
	if c.storage.released || (c.uniforms != nil && c.uniforms.released) {
		return ErrBufferReleased
	}

	var step gpusort.Step
	if c.uniforms != nil {
		w := c.uniforms.words[c.offset/4:]
		step = gpusort.Step{Stride: w[0], CompareDistance: w[1]}
	}
	d.dispatch(c.pipeline, c.storage.words, step, c.workgroups)
	return nil
}
