package gpusort

import (
	"encoding/binary"
	"fmt"
	"math"
)

// uniformDataSize is the payload of one slot: stride, compareDistance and two
// padding words, matching the kernels' Params struct.
const uniformDataSize = 16

// PackedUniforms is the contiguous uniform buffer of a sort's global phase.
//
// Slot i holds the parameters of GlobalSteps[i] at byte offset i*SlotSize,
// where SlotSize is the payload rounded up to the device's dynamic offset
// alignment. It is uploaded once, before submission.
type PackedUniforms struct {
	slotSize uint32
	count    int
	data     []byte
}

// Pack lays out steps as dynamic-offset uniform slots.
//
// It returns ErrCapacityExceeded when the buffer would exceed the device's
// MaxBufferSize or the last offset would not fit in a uint32.
func Pack(steps []Step, c Capability) (*PackedUniforms, error) {
	if c.MinUniformOffsetAlignment == 0 {
		return nil, fmt.Errorf("%w: zero uniform offset alignment", ErrUnsupportedDevice)
	}
	slot := roundUp(uniformDataSize, uint64(c.MinUniformOffsetAlignment))
	total := slot * uint64(len(steps))
	if slot > math.MaxUint32 || total > math.MaxUint32+slot {
		return nil, fmt.Errorf("%w: %d uniform slots of %d bytes", ErrCapacityExceeded, len(steps), slot)
	}
	if c.MaxBufferSize != 0 && total > c.MaxBufferSize {
		return nil, fmt.Errorf("%w: uniform buffer %d bytes exceeds limit %d", ErrCapacityExceeded, total, c.MaxBufferSize)
	}

	u := &PackedUniforms{
		slotSize: uint32(slot), //nolint:gosec // checked above
		count:    len(steps),
		data:     make([]byte, total),
	}
	for i, s := range steps {
		off := uint64(i) * slot
		binary.LittleEndian.PutUint32(u.data[off:], s.Stride)
		binary.LittleEndian.PutUint32(u.data[off+4:], s.CompareDistance)
	}
	return u, nil
}

// Len returns the number of slots.
func (u *PackedUniforms) Len() int { return u.count }

// SlotSize returns the byte distance between consecutive slots.
func (u *PackedUniforms) SlotSize() uint32 { return u.slotSize }

// BindingSize returns the size of the dynamically offset uniform binding.
func (u *PackedUniforms) BindingSize() uint32 { return uniformDataSize }

// OffsetOf returns the dynamic offset of slot i.
func (u *PackedUniforms) OffsetOf(i int) uint32 {
	return uint32(i) * u.slotSize //nolint:gosec // i < count, total fits in uint32+slot
}

// Bytes returns the buffer contents. The returned slice must not be modified.
func (u *PackedUniforms) Bytes() []byte { return u.data }

// Size returns the buffer size in bytes.
func (u *PackedUniforms) Size() uint64 { return uint64(len(u.data)) }

// Slot decodes the step stored at byte offset off. Record uses it to check
// every offset it binds.
func (u *PackedUniforms) Slot(off uint32) (Step, error) {
	if uint64(off)+uniformDataSize > uint64(len(u.data)) {
		return Step{}, fmt.Errorf("gpusort: uniform offset %d out of range (%d bytes)", off, len(u.data))
	}
	if off%u.slotSize != 0 {
		return Step{}, fmt.Errorf("gpusort: uniform offset %d not aligned to %d", off, u.slotSize)
	}
	return Step{
		Stride:          binary.LittleEndian.Uint32(u.data[off:]),
		CompareDistance: binary.LittleEndian.Uint32(u.data[off+4:]),
	}, nil
}

func roundUp(n, align uint64) uint64 {
	return (n + align - 1) / align * align
}
