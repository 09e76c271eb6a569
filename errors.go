package gpusort

import (
	"errors"
	"fmt"
)

// Sort errors. Backends wrap these sentinels so callers can classify
// failures with errors.Is regardless of which backend produced them.
var (
	// ErrUnsupportedDevice is returned when no compatible GPU backend or
	// device is available. No work is performed.
	ErrUnsupportedDevice = errors.New("gpusort: unsupported device")

	// ErrInvalidLength is returned when a length is zero, not a power of two,
	// not a multiple of the workgroup size, or above the capability bound.
	// It is reported before any device resource is allocated.
	ErrInvalidLength = errors.New("gpusort: invalid length")

	// ErrResourceCreation is returned when a buffer, shader module, bind group
	// or pipeline cannot be created. Resources already created are released.
	ErrResourceCreation = errors.New("gpusort: resource creation failed")

	// ErrValidation is returned when a sorted result is not in ascending order.
	ErrValidation = errors.New("gpusort: validation failed")

	// ErrCapacityExceeded is returned when a buffer would exceed the device
	// buffer size limits.
	ErrCapacityExceeded = errors.New("gpusort: capacity exceeded")

	// ErrClosed is returned when a Sorter or backend is used after Close.
	ErrClosed = errors.New("gpusort: closed")

	// ErrBackendNotAvailable is returned when a requested backend is not registered.
	ErrBackendNotAvailable = errors.New("gpusort: backend not available")
)

// ValidationError describes the first out-of-order pair found in a result.
type ValidationError struct {
	// Index is the position i where data[i] > data[i+1].
	Index int

	// Left and Right are data[i] and data[i+1].
	Left, Right float32
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("gpusort: validation failed at index %d: %g > %g", e.Index, e.Left, e.Right)
}

// Unwrap returns ErrValidation.
func (e *ValidationError) Unwrap() error {
	return ErrValidation
}
