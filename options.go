package gpusort

import "github.com/gogpu/gpusort/internal/readback"

// Option configures a Sorter during creation.
// Use functional options to customize Sorter behavior.
//
// Example:
//
//	// Best available backend
//	s, err := gpusort.New(ctx)
//
//	// Force the CPU emulation and check every result
//	s, err := gpusort.New(ctx,
//	    gpusort.WithBackend(gpusort.BackendSoftware),
//	    gpusort.WithValidation(true))
type Option func(*options)

// options holds optional configuration for Sorter creation.
type options struct {
	backendName  string
	backend      Backend
	validate     bool
	readbackSize uint64
}

// defaultOptions returns the default sorter options.
func defaultOptions() options {
	return options{
		readbackSize: readback.DefaultMaxChunkSize,
	}
}

// WithBackend selects a registered backend by name. Without it, New tries
// registered backends in priority order and keeps the first whose device
// initializes.
func WithBackend(name string) Option {
	return func(o *options) {
		o.backendName = name
	}
}

// WithBackendInstance uses b directly instead of the registry.
// The Sorter takes ownership of b and closes it on Close.
func WithBackendInstance(b Backend) Option {
	return func(o *options) {
		o.backend = b
	}
}

// WithValidation enables the ascending-order check after every sort.
// A failed check returns a *ValidationError.
func WithValidation(enabled bool) Option {
	return func(o *options) {
		o.validate = enabled
	}
}

// WithReadbackChunkSize caps the bytes copied back per staging buffer.
// Values of zero keep the default, readback.DefaultMaxChunkSize.
func WithReadbackChunkSize(bytes uint64) Option {
	return func(o *options) {
		if bytes != 0 {
			o.readbackSize = bytes
		}
	}
}
