package software

import "errors"

// Emulated device errors.
var (
	// ErrNotInitialized is returned when Execute is called before Init.
	ErrNotInitialized = errors.New("software: backend not initialized")

	// ErrDeviceDestroyed is returned when a destroyed device is used.
	ErrDeviceDestroyed = errors.New("software: device destroyed")

	// ErrBufferReleased is returned when a released buffer is used.
	ErrBufferReleased = errors.New("software: buffer released")

	// ErrInvalidUsage is returned when a buffer is used in a way its usage
	// flags do not allow.
	ErrInvalidUsage = errors.New("software: invalid buffer usage")

	// ErrOutOfBounds is returned when a write, copy or binding exceeds the
	// buffer size.
	ErrOutOfBounds = errors.New("software: range out of bounds")

	// ErrNotAligned is returned when an offset or size is not 4-byte aligned,
	// or a dynamic offset is not aligned to the uniform offset alignment.
	ErrNotAligned = errors.New("software: offset not aligned")

	// ErrEncoderLocked is returned when an encoder operation is called while
	// a compute pass is open.
	ErrEncoderLocked = errors.New("software: encoder is locked (pass in progress)")

	// ErrEncoderFinished is returned when a finished encoder is used.
	ErrEncoderFinished = errors.New("software: encoder already finished")

	// ErrPassEnded is returned when an ended compute pass is used.
	ErrPassEnded = errors.New("software: compute pass already ended")

	// ErrNoPipeline is returned when Dispatch is called without a pipeline.
	ErrNoPipeline = errors.New("software: no pipeline set")

	// ErrMissingBindGroup is returned when Dispatch is called without the
	// bind groups the pipeline requires.
	ErrMissingBindGroup = errors.New("software: missing bind group")

	// ErrCommandBufferConsumed is returned when a command buffer is submitted twice.
	ErrCommandBufferConsumed = errors.New("software: command buffer already submitted")
)
