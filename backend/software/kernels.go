package software

import (
	"math"

	"github.com/gogpu/gpusort"
)

// dispatch runs one kernel over workgroups workgroups of T invocations and
// returns when every workgroup has finished.
func (d *Device) dispatch(p *ComputePipeline, words []uint32, step gpusort.Step, workgroups uint32) {
	t := p.t
	switch p.kernel {
	case gpusort.KernelGlobalCompareExchange:
		d.pool.Range(int(workgroups), func(lo, hi int) {
			for i := uint32(lo) * t; i < uint32(hi)*t; i++ { //nolint:gosec // hi <= workgroups
				globalCompareExchange(words, i, step)
			}
		})
	default:
		d.pool.Range(int(workgroups), func(lo, hi int) {
			sp := d.scratch.Get().(*[]float32)
			defer d.scratch.Put(sp)
			for wg := lo; wg < hi; wg++ {
				runWorkgroup(words, *sp, uint32(wg)*t, p.stages, step.Stride) //nolint:gosec // wg < workgroups
			}
		})
	}
}

// globalCompareExchange is the body of one Global Compare-Exchange
// invocation. Only the lower index of a pair acts, so invocations of one
// dispatch touch disjoint elements.
func globalCompareExchange(words []uint32, i uint32, step gpusort.Step) {
	partner := i ^ step.CompareDistance
	if partner <= i {
		return
	}
	a := math.Float32frombits(words[i])
	b := math.Float32frombits(words[partner])
	if outOfOrder(a, b, i&step.Stride == 0) {
		words[i] = math.Float32bits(b)
		words[partner] = math.Float32bits(a)
	}
}

// runWorkgroup executes a shared-memory kernel for the workgroup starting at
// base. All invocations finish a stage before the next begins. A stage with
// zero Stride takes its direction from stride, the bound uniform value.
func runWorkgroup(words []uint32, shared []float32, base uint32, stages []gpusort.Step, stride uint32) {
	t := uint32(len(shared)) //nolint:gosec // T fits in uint32
	for li := range t {
		shared[li] = math.Float32frombits(words[base+li])
	}

	for _, s := range stages {
		k := s.Stride
		if k == 0 {
			k = stride
		}
		j := s.CompareDistance
		for li := range t {
			p := li ^ j
			if p <= li {
				continue
			}
			if outOfOrder(shared[li], shared[p], (base+li)&k == 0) {
				shared[li], shared[p] = shared[p], shared[li]
			}
		}
	}

	for li := range t {
		words[base+li] = math.Float32bits(shared[li])
	}
}

// outOfOrder reports whether the pair (a, b) at (lower, upper) index must be
// swapped for the given direction.
func outOfOrder(a, b float32, ascending bool) bool {
	if ascending {
		return a > b
	}
	return a < b
}
