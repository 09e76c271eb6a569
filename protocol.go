package gpusort

import "fmt"

// Encoder records the dispatches of one sort submission.
//
// Backends implement Encoder over their compute pass; Record drives it so
// that every backend interleaves the three kernels identically.
type Encoder interface {
	// SetKernel selects the pipeline of k for subsequent dispatches.
	SetKernel(k Kernel) error

	// SetUniformSlot binds the packed uniform buffer at the given dynamic
	// offset for subsequent dispatches.
	SetUniformSlot(offset uint32) error

	// Dispatch records a dispatch of the given number of workgroups.
	Dispatch(workgroups uint32) error
}

// Record records the dispatch sequence of p into enc and returns the number
// of dispatches recorded.
//
// The sequence is one Local Sort, then for each global round its Global
// Compare-Exchange dispatches, each bound to the next uniform slot, followed
// by one Local Merge that reuses the round's last slot. Each slot is decoded
// before it is bound and must hold the plan's step. uniforms may be nil only
// when p has no global phase.
func Record(p Plan, uniforms *PackedUniforms, enc Encoder) (int, error) {
	if p.NeedsGlobalPhase && (uniforms == nil || uniforms.Len() < len(p.GlobalSteps)) {
		return 0, fmt.Errorf("gpusort: record: %d uniform slots required", len(p.GlobalSteps))
	}

	n := 0
	current := Kernel(numKernels)
	for _, d := range p.Dispatches() {
		if d.Kernel != current {
			if err := enc.SetKernel(d.Kernel); err != nil {
				return n, fmt.Errorf("gpusort: record: set %s: %w", d.Kernel, err)
			}
			current = d.Kernel
		}
		if d.Slot >= 0 {
			off := uniforms.OffsetOf(d.Slot)
			step, err := uniforms.Slot(off)
			if err != nil {
				return n, fmt.Errorf("gpusort: record: slot %d: %w", d.Slot, err)
			}
			if step != p.GlobalSteps[d.Slot] {
				return n, fmt.Errorf("gpusort: record: slot %d holds %+v, plan needs %+v", d.Slot, step, p.GlobalSteps[d.Slot])
			}
			if err := enc.SetUniformSlot(off); err != nil {
				return n, fmt.Errorf("gpusort: record: slot %d: %w", d.Slot, err)
			}
		}
		if err := enc.Dispatch(d.Workgroups); err != nil {
			return n, fmt.Errorf("gpusort: record: dispatch %d (%s): %w", n, d.Kernel, err)
		}
		n++
	}
	return n, nil
}
