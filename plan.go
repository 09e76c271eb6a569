package gpusort

import (
	"fmt"
	"log/slog"
)

// Step is one Global Compare-Exchange parameter pair.
type Step struct {
	// Stride is the bitonic block size k. It selects the sort direction:
	// index i is ordered ascending when i&Stride == 0.
	Stride uint32

	// CompareDistance is j: index i is compared with i XOR j.
	CompareDistance uint32
}

// Round is one outer round of the global phase: its Global Compare-Exchange
// steps followed by a single Local Merge with the same stride.
type Round struct {
	Stride uint32
	Steps  []Step
}

// Dispatch is one kernel dispatch of a sort submission.
type Dispatch struct {
	Kernel Kernel

	// Slot is the packed uniform slot bound for this dispatch, or -1 when the
	// kernel reads no uniforms.
	Slot int

	// Workgroups is the number of workgroups dispatched.
	Workgroups uint32
}

// Plan describes the dispatch order for one sort request.
//
// A Plan is pure data derived from a Capability and a length; it owns no
// device resources.
type Plan struct {
	// Length is the requested element count.
	Length uint32

	// PaddedLength is the element count of the device buffer, max(Length, T).
	// Every dispatch covers exactly PaddedLength invocations.
	PaddedLength uint32

	// WorkgroupSize is T, the invocations per workgroup.
	WorkgroupSize uint32

	// WorkgroupCount is max(1, Length/T).
	WorkgroupCount uint32

	// NeedsGlobalPhase reports whether WorkgroupCount > 1.
	NeedsGlobalPhase bool

	// Rounds holds the global phase, log2(WorkgroupCount) rounds.
	Rounds []Round

	// GlobalSteps is Rounds' steps flattened in dispatch order. Its index is
	// the packed uniform slot of the step.
	GlobalSteps []Step
}

// NewPlan computes the dispatch plan for sorting length elements.
//
// It returns ErrInvalidLength if length is zero, not a power of two, above
// c.Bound(), or above T without being a multiple of T.
func NewPlan(c Capability, length uint32) (Plan, error) {
	if err := c.Validate(); err != nil {
		return Plan{}, err
	}
	if length == 0 {
		return Plan{}, fmt.Errorf("%w: length is zero", ErrInvalidLength)
	}
	if !isPow2(length) {
		return Plan{}, fmt.Errorf("%w: %d is not a power of two", ErrInvalidLength, length)
	}
	if uint64(length) > c.Bound() {
		return Plan{}, fmt.Errorf("%w: %d exceeds device bound %d", ErrInvalidLength, length, c.Bound())
	}

	t := c.MaxThreadsPerWorkgroup
	if length > t && length%t != 0 {
		return Plan{}, fmt.Errorf("%w: %d is not a multiple of workgroup size %d", ErrInvalidLength, length, t)
	}

	p := Plan{
		Length:         length,
		PaddedLength:   max(length, t),
		WorkgroupSize:  t,
		WorkgroupCount: max(1, length/t),
	}
	p.NeedsGlobalPhase = p.WorkgroupCount > 1
	if !p.NeedsGlobalPhase {
		return p, nil
	}

	numRounds := log2(p.WorkgroupCount)
	p.Rounds = make([]Round, 0, numRounds)
	p.GlobalSteps = make([]Step, 0, numRounds*(numRounds+1)/2)
	for k := 2 * uint64(t); k <= uint64(length); k <<= 1 {
		stride := uint32(k) //nolint:gosec // k <= length
		r := Round{Stride: stride}
		for j := stride >> 1; j >= t; j >>= 1 {
			r.Steps = append(r.Steps, Step{Stride: stride, CompareDistance: j})
		}
		p.Rounds = append(p.Rounds, r)
		p.GlobalSteps = append(p.GlobalSteps, r.Steps...)
	}
	return p, nil
}

// NumRounds returns the number of global rounds, log2(WorkgroupCount).
// Each round ends with one Local Merge dispatch.
func (p Plan) NumRounds() int {
	return len(p.Rounds)
}

// NumGlobalSteps returns the number of Global Compare-Exchange dispatches,
// NumRounds*(NumRounds+1)/2.
func (p Plan) NumGlobalSteps() int {
	return len(p.GlobalSteps)
}

// Dispatches returns the ordered dispatch list of the sort submission:
// one Local Sort, then for each round its Global Compare-Exchange dispatches
// followed by one Local Merge. The Local Merge reads its stride from the
// slot of the round's last step.
func (p Plan) Dispatches() []Dispatch {
	out := make([]Dispatch, 0, 1+len(p.GlobalSteps)+len(p.Rounds))
	out = append(out, Dispatch{Kernel: KernelLocalSort, Slot: -1, Workgroups: p.WorkgroupCount})

	slot := 0
	for _, r := range p.Rounds {
		for range r.Steps {
			out = append(out, Dispatch{Kernel: KernelGlobalCompareExchange, Slot: slot, Workgroups: p.WorkgroupCount})
			slot++
		}
		out = append(out, Dispatch{Kernel: KernelLocalMerge, Slot: slot - 1, Workgroups: p.WorkgroupCount})
	}
	return out
}

// LogValue implements slog.LogValuer.
func (p Plan) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Any("length", p.Length),
		slog.Any("workgroups", p.WorkgroupCount),
		slog.Int("rounds", p.NumRounds()),
		slog.Int("steps", p.NumGlobalSteps()),
	)
}
