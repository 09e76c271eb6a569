package gpusort

import (
	"context"
	"errors"
	"math"
	"slices"
	"testing"
)

// hostBackend sorts on the host and remembers the last job.
type hostBackend struct {
	stubBackend
	last    *Job
	corrupt bool
}

func (b *hostBackend) Execute(_ context.Context, job *Job) error {
	b.last = job
	slices.Sort(job.Data)
	if b.corrupt && len(job.Data) > 1 {
		job.Data[0], job.Data[1] = 2, 1
	}
	return nil
}

func TestSorter_Padding(t *testing.T) {
	b := &hostBackend{stubBackend: stubBackend{name: "host", initOK: true}}
	s, err := New(context.Background(), WithBackendInstance(b))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	data := []float32{3, -1, 2, 0}
	if err := s.Sort(context.Background(), data); err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(data, []float32{-1, 0, 2, 3}) {
		t.Errorf("data = %v", data)
	}
	if len(b.last.Data) != 64 || b.last.Plan.PaddedLength != 64 || b.last.Uniforms != nil {
		t.Fatalf("job: %d elements, plan %+v", len(b.last.Data), b.last.Plan)
	}
	for i := 4; i < 64; i++ {
		if !math.IsInf(float64(b.last.Data[i]), 1) {
			t.Fatalf("padding[%d] = %v, want +Inf", i, b.last.Data[i])
		}
	}
	if b.last.ReadbackChunkSize == 0 {
		t.Error("readback chunk size not set")
	}
}

func TestSorter_InPlace(t *testing.T) {
	b := &hostBackend{stubBackend: stubBackend{name: "host", initOK: true}}
	s, err := New(context.Background(), WithBackendInstance(b), WithReadbackChunkSize(1024))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	data := make([]float32, 256)
	for i := range data {
		data[i] = float32(len(data) - i)
	}
	if err := s.Sort(context.Background(), data); err != nil {
		t.Fatal(err)
	}
	if &b.last.Data[0] != &data[0] {
		t.Error("lengths >= T should be sorted without a copy")
	}
	if b.last.Uniforms == nil || b.last.Uniforms.Len() != 3 {
		t.Errorf("uniforms = %+v, want 3 slots", b.last.Uniforms)
	}
	if b.last.ReadbackChunkSize != 1024 {
		t.Errorf("ReadbackChunkSize = %d", b.last.ReadbackChunkSize)
	}
}

func TestSorter_Errors(t *testing.T) {
	b := &hostBackend{stubBackend: stubBackend{name: "host", initOK: true}, corrupt: true}
	s, err := New(context.Background(), WithBackendInstance(b), WithValidation(true))
	if err != nil {
		t.Fatal(err)
	}

	if err := s.Sort(context.Background(), make([]float32, 3)); !errors.Is(err, ErrInvalidLength) {
		t.Errorf("Sort(3) = %v, want ErrInvalidLength", err)
	}
	if b.last != nil {
		t.Error("invalid length reached the backend")
	}
	if err := s.Sort(context.Background(), make([]float32, 2048)); !errors.Is(err, ErrInvalidLength) {
		t.Errorf("Sort(2048) = %v, want ErrInvalidLength (bound 1024)", err)
	}

	var verr *ValidationError
	if err := s.Sort(context.Background(), []float32{1, 2}); !errors.As(err, &verr) || verr.Index != 0 {
		t.Errorf("Sort with corrupt backend = %v, want *ValidationError at 0", err)
	}

	s.Close()
	s.Close()
	if !b.closed {
		t.Error("Close did not close the backend")
	}
	if err := s.Sort(context.Background(), []float32{1}); !errors.Is(err, ErrClosed) {
		t.Errorf("Sort after Close = %v, want ErrClosed", err)
	}
}

func TestSorter_CapacityExceeded(t *testing.T) {
	b := &capBackend{hostBackend{stubBackend: stubBackend{name: "host", initOK: true}}}
	s, err := New(context.Background(), WithBackendInstance(b))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	if err := s.Sort(context.Background(), make([]float32, 512)); !errors.Is(err, ErrCapacityExceeded) {
		t.Errorf("Sort = %v, want ErrCapacityExceeded", err)
	}
}

type capBackend struct{ hostBackend }

func (b *capBackend) Capability() Capability {
	c := testCapability(64, 16)
	c.MaxStorageBindingSize = 1024
	return c
}

func TestNew_Selection(t *testing.T) {
	var native *stubBackend
	withRegistry(t, map[string]BackendFactory{
		BackendNative: func() Backend {
			native = &stubBackend{name: BackendNative}
			return native
		},
		BackendSoftware: func() Backend {
			return &stubBackend{name: BackendSoftware, initOK: true}
		},
	})

	s, err := New(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if s.Backend() != BackendSoftware {
		t.Errorf("Backend() = %q, want fallback to software", s.Backend())
	}
	if !native.closed {
		t.Error("failed native backend was not closed")
	}
	s.Close()

	if _, err := New(context.Background(), WithBackend("missing")); !errors.Is(err, ErrBackendNotAvailable) {
		t.Errorf("New(missing) = %v, want ErrBackendNotAvailable", err)
	}
	if _, err := New(context.Background(), WithBackend(BackendNative)); !errors.Is(err, ErrUnsupportedDevice) {
		t.Errorf("New(native) = %v, want ErrUnsupportedDevice", err)
	}

	Unregister(BackendSoftware)
	if _, err := New(context.Background()); !errors.Is(err, ErrUnsupportedDevice) {
		t.Errorf("New with no usable device = %v, want ErrUnsupportedDevice", err)
	}
}
