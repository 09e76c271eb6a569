package gpusort

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/gogpu/gpucontext"
)

// Sorter sorts float32 slices on one backend device.
//
// Sort calls on a Sorter are serialised. Independent Sorters share no device
// state and may run concurrently.
type Sorter struct {
	mu      sync.Mutex
	backend Backend
	cap     Capability
	opts    options
	closed  bool
}

// New creates a Sorter on the selected backend.
//
// Without WithBackend or WithBackendInstance, registered backends are tried
// in priority order and the first whose device initializes is used.
// New returns ErrBackendNotAvailable for an unknown backend name and
// ErrUnsupportedDevice when no backend has a usable device.
func New(ctx context.Context, opts ...Option) (*Sorter, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	if o.backend != nil {
		return open(ctx, o.backend, o)
	}
	if o.backendName != "" {
		b := Get(o.backendName)
		if b == nil {
			return nil, fmt.Errorf("%w: %q", ErrBackendNotAvailable, o.backendName)
		}
		return open(ctx, b, o)
	}

	names := defaultOrder()
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: no backends registered", ErrUnsupportedDevice)
	}
	var errs []error
	for _, name := range names {
		b := Get(name)
		if b == nil {
			continue
		}
		s, err := open(ctx, b, o)
		if err == nil {
			return s, nil
		}
		if ctx.Err() != nil {
			return nil, err
		}
		Logger().Warn("gpusort: backend unavailable, trying next", "backend", name, "err", err)
		errs = append(errs, err)
	}
	return nil, fmt.Errorf("%w: %w", ErrUnsupportedDevice, errors.Join(errs...))
}

func open(ctx context.Context, b Backend, o options) (*Sorter, error) {
	if err := b.Init(ctx); err != nil {
		b.Close()
		return nil, fmt.Errorf("gpusort: init %s backend: %w", b.Name(), err)
	}
	c := b.Capability()
	if err := c.Validate(); err != nil {
		b.Close()
		return nil, fmt.Errorf("gpusort: %s backend: %w", b.Name(), err)
	}

	info := b.AdapterInfo()
	Logger().Info("gpusort: backend opened",
		"backend", b.Name(),
		"adapter", info.Name,
		"type", info.Type.String(),
		"capability", c)

	return &Sorter{backend: b, cap: c, opts: o}, nil
}

// Capability returns the device capability of the Sorter's backend.
func (s *Sorter) Capability() Capability { return s.cap }

// Backend returns the name of the Sorter's backend.
func (s *Sorter) Backend() string { return s.backend.Name() }

// AdapterInfo describes the device the Sorter runs on.
func (s *Sorter) AdapterInfo() gpucontext.AdapterInfo { return s.backend.AdapterInfo() }

// Sort sorts data ascending in place.
//
// len(data) must be a power of two no larger than Capability().Bound(), and
// a multiple of the workgroup size when larger than it. Length errors are
// reported before any device work. On error data may be partially updated
// only when the backend failed after readback began.
func (s *Sorter) Sort(ctx context.Context, data []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if uint64(len(data)) > math.MaxUint32 {
		return fmt.Errorf("%w: %d exceeds uint32", ErrInvalidLength, len(data))
	}

	plan, err := NewPlan(s.cap, uint32(len(data))) //nolint:gosec // checked above
	if err != nil {
		return err
	}
	if err := s.checkCapacity(plan); err != nil {
		return err
	}

	var uniforms *PackedUniforms
	if plan.NeedsGlobalPhase {
		if uniforms, err = Pack(plan.GlobalSteps, s.cap); err != nil {
			return err
		}
	}

	buf := data
	if plan.PaddedLength > plan.Length {
		buf = make([]float32, plan.PaddedLength)
		copy(buf, data)
		inf := float32(math.Inf(1))
		for i := plan.Length; i < plan.PaddedLength; i++ {
			buf[i] = inf
		}
	}

	Logger().Debug("gpusort: sort", "plan", plan, "dispatches", 1+plan.NumGlobalSteps()+plan.NumRounds())

	start := time.Now()
	job := &Job{Plan: plan, Uniforms: uniforms, Data: buf, ReadbackChunkSize: s.opts.readbackSize}
	if err := s.backend.Execute(ctx, job); err != nil {
		return fmt.Errorf("gpusort: %s: %w", s.backend.Name(), err)
	}
	if len(buf) != len(data) {
		copy(data, buf[:plan.Length])
	}
	Logger().Debug("gpusort: sorted", "length", plan.Length, "elapsed", time.Since(start))

	if s.opts.validate {
		return Validate(data)
	}
	return nil
}

// checkCapacity rejects storage buffers the device cannot hold.
func (s *Sorter) checkCapacity(p Plan) error {
	size := uint64(p.PaddedLength) * 4
	if s.cap.MaxBufferSize != 0 && size > s.cap.MaxBufferSize {
		return fmt.Errorf("%w: storage buffer %d bytes exceeds limit %d", ErrCapacityExceeded, size, s.cap.MaxBufferSize)
	}
	if s.cap.MaxStorageBindingSize != 0 && size > s.cap.MaxStorageBindingSize {
		return fmt.Errorf("%w: storage binding %d bytes exceeds limit %d", ErrCapacityExceeded, size, s.cap.MaxStorageBindingSize)
	}
	return nil
}

// Close releases the backend. Close is safe to call multiple times.
func (s *Sorter) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	s.backend.Close()
}

// Sort sorts data ascending in place on a temporary Sorter.
// Use New to reuse one device across calls.
func Sort(ctx context.Context, data []float32, opts ...Option) error {
	s, err := New(ctx, opts...)
	if err != nil {
		return err
	}
	defer s.Close()
	return s.Sort(ctx, data)
}
