package gpusort

import (
	"fmt"
	"log/slog"
	"math/bits"

	"github.com/gogpu/gputypes"
)

// DefaultUniformOffsetAlignment is the WebGPU default for
// minUniformBufferOffsetAlignment, used when a limit set leaves it unset.
const DefaultUniformOffsetAlignment = 256

// minMenuLength is the smallest length offered by Capability.Lengths.
const minMenuLength = 1 << 8

// Capability holds the device limits that shape a sort.
//
// A Capability is immutable once queried. MaxThreadsPerWorkgroup (T) and
// MaxWorkgroupsPerDispatch (G) are always powers of two when built by
// CapabilityFromLimits, so Bound() = T*G is a power of two as well.
type Capability struct {
	// MaxThreadsPerWorkgroup is the workgroup size T used by all three kernels.
	MaxThreadsPerWorkgroup uint32

	// MaxWorkgroupsPerDispatch is the largest workgroup count G of one dispatch.
	MaxWorkgroupsPerDispatch uint32

	// MinUniformOffsetAlignment is the dynamic uniform offset alignment in bytes.
	MinUniformOffsetAlignment uint32

	// MaxBufferSize is the largest buffer the device can create (0 = unlimited).
	MaxBufferSize uint64

	// MaxStorageBindingSize is the largest storage binding (0 = unlimited).
	MaxStorageBindingSize uint64
}

// CapabilityFromLimits derives a Capability from device limits.
//
// T is the largest power of two not above maxComputeWorkgroupSizeX,
// maxComputeInvocationsPerWorkgroup and the number of f32 values that fit in
// workgroup storage. G is maxComputeWorkgroupsPerDimension floored to a power
// of two. Both are rounded down, never up, so the result never exceeds the
// true device limits.
func CapabilityFromLimits(l gputypes.Limits) Capability {
	t := l.MaxComputeWorkgroupSizeX
	if l.MaxComputeInvocationsPerWorkgroup != 0 {
		t = min(t, l.MaxComputeInvocationsPerWorkgroup)
	}
	if l.MaxComputeWorkgroupStorageSize != 0 {
		t = min(t, l.MaxComputeWorkgroupStorageSize/4)
	}

	align := l.MinUniformBufferOffsetAlignment
	if align == 0 {
		align = DefaultUniformOffsetAlignment
	}

	return Capability{
		MaxThreadsPerWorkgroup:    floorPow2(t),
		MaxWorkgroupsPerDispatch:  floorPow2(l.MaxComputeWorkgroupsPerDimension),
		MinUniformOffsetAlignment: align,
		MaxBufferSize:             l.MaxBufferSize,
		MaxStorageBindingSize:     l.MaxStorageBufferBindingSize,
	}
}

// DefaultCapability returns the Capability of a device that exposes exactly
// the WebGPU default limits.
func DefaultCapability() Capability {
	return CapabilityFromLimits(gputypes.DefaultLimits())
}

// Validate reports whether the capability can drive a sort.
func (c Capability) Validate() error {
	if !isPow2(c.MaxThreadsPerWorkgroup) {
		return fmt.Errorf("%w: workgroup size %d is not a power of two", ErrUnsupportedDevice, c.MaxThreadsPerWorkgroup)
	}
	if !isPow2(c.MaxWorkgroupsPerDispatch) {
		return fmt.Errorf("%w: workgroup count %d is not a power of two", ErrUnsupportedDevice, c.MaxWorkgroupsPerDispatch)
	}
	if c.MinUniformOffsetAlignment == 0 {
		return fmt.Errorf("%w: zero uniform offset alignment", ErrUnsupportedDevice)
	}
	return nil
}

// Bound returns the maximum sortable length T*G.
func (c Capability) Bound() uint64 {
	return uint64(c.MaxThreadsPerWorkgroup) * uint64(c.MaxWorkgroupsPerDispatch)
}

// Lengths returns the menu of selectable sort lengths: 256, 512, ... up to
// Bound(). It is empty when the bound is below 256.
func (c Capability) Lengths() []uint32 {
	bound := c.Bound()
	if bound < minMenuLength {
		return nil
	}
	n := bits.Len64(bound) - bits.Len64(minMenuLength) + 1
	lengths := make([]uint32, 0, n)
	for l := uint64(minMenuLength); l <= bound && l <= 1<<31; l <<= 1 {
		lengths = append(lengths, uint32(l)) //nolint:gosec // bounded above
	}
	return lengths
}

// LogValue implements slog.LogValuer.
func (c Capability) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Any("threads", c.MaxThreadsPerWorkgroup),
		slog.Any("workgroups", c.MaxWorkgroupsPerDispatch),
		slog.Any("align", c.MinUniformOffsetAlignment),
		slog.Uint64("bound", c.Bound()),
	)
}

// floorPow2 returns the largest power of two <= x, or 0 for x == 0.
func floorPow2(x uint32) uint32 {
	if x == 0 {
		return 0
	}
	return 1 << (bits.Len32(x) - 1)
}

func isPow2(x uint32) bool {
	return x != 0 && x&(x-1) == 0
}

// log2 returns log2(x) for a power of two x.
func log2(x uint32) int {
	return bits.TrailingZeros32(x)
}
