package software

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"math"
	"math/rand/v2"
	"slices"
	"strings"
	"testing"

	"github.com/gogpu/gpusort"
	"github.com/gogpu/gputypes"
)

// smallLimits gives T = 16 and G = 64, so every length up to 1024 can be
// exercised quickly.
func smallLimits() gputypes.Limits {
	l := gputypes.DefaultLimits()
	l.MaxComputeWorkgroupSizeX = 16
	l.MaxComputeInvocationsPerWorkgroup = 16
	l.MaxComputeWorkgroupsPerDimension = 64
	return l
}

func newSorter(t testing.TB, opts ...Option) *gpusort.Sorter {
	t.Helper()
	s, err := gpusort.New(context.Background(),
		gpusort.WithBackendInstance(New(opts...)),
		gpusort.WithValidation(true))
	if err != nil {
		t.Fatalf("gpusort.New: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func randomData(rng *rand.Rand, n int) []float32 {
	data := make([]float32, n)
	for i := range data {
		data[i] = rng.Float32()
	}
	return data
}

// =============================================================================
// Sort Property Tests
// =============================================================================

func TestSort_AllLengths(t *testing.T) {
	s := newSorter(t, WithLimits(smallLimits()), WithWorkers(4))
	rng := rand.New(rand.NewPCG(1, 2))

	for n := 1; uint64(n) <= s.Capability().Bound(); n <<= 1 {
		data := randomData(rng, n)
		want := slices.Clone(data)
		slices.Sort(want)

		if err := s.Sort(context.Background(), data); err != nil {
			t.Fatalf("N=%d: %v", n, err)
		}
		if !slices.Equal(data, want) {
			t.Errorf("N=%d: result is not the sorted permutation of the input", n)
		}
	}
}

func TestSort_Inputs(t *testing.T) {
	s := newSorter(t, WithLimits(smallLimits()))
	inf := float32(math.Inf(1))

	tests := []struct {
		name string
		data []float32
	}{
		{"all equal", slices.Repeat([]float32{0.5}, 64)},
		{"already sorted", func() []float32 {
			d := make([]float32, 256)
			for i := range d {
				d[i] = float32(i)
			}
			return d
		}()},
		{"reversed", func() []float32 {
			d := make([]float32, 256)
			for i := range d {
				d[i] = float32(len(d) - i)
			}
			return d
		}()},
		{"duplicates and signs", []float32{3, -1, 3, 0, -inf, 2, -1, inf}},
		{"below workgroup size", []float32{0.9, 0.1}},
		{"single", []float32{42}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := slices.Clone(tt.data)
			want := slices.Clone(tt.data)
			slices.Sort(want)

			if err := s.Sort(context.Background(), data); err != nil {
				t.Fatal(err)
			}
			if !slices.Equal(data, want) {
				t.Errorf("got %v, want %v", data, want)
			}

			// Sorting a sorted slice leaves it unchanged.
			if err := s.Sort(context.Background(), data); err != nil {
				t.Fatal(err)
			}
			if !slices.Equal(data, want) {
				t.Errorf("second sort changed the result: %v", data)
			}
		})
	}
}

func TestSort_DefaultLimits(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping large sort in short mode")
	}
	s := newSorter(t)
	if got := s.Capability().MaxThreadsPerWorkgroup; got != 256 {
		t.Fatalf("T = %d, want 256", got)
	}

	data := randomData(rand.New(rand.NewPCG(3, 4)), 1<<16)
	want := slices.Clone(data)
	slices.Sort(want)
	if err := s.Sort(context.Background(), data); err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(data, want) {
		t.Error("result is not the sorted permutation of the input")
	}
}

func TestSort_ChunkedReadback(t *testing.T) {
	s, err := gpusort.New(context.Background(),
		gpusort.WithBackendInstance(New(WithLimits(smallLimits()))),
		gpusort.WithReadbackChunkSize(100))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	data := randomData(rand.New(rand.NewPCG(5, 6)), 1024)
	want := slices.Clone(data)
	slices.Sort(want)
	if err := s.Sort(context.Background(), data); err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(data, want) {
		t.Error("chunked readback lost or reordered elements")
	}
}

func TestSort_Canceled(t *testing.T) {
	s := newSorter(t, WithLimits(smallLimits()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	data := []float32{2, 1, 4, 3}
	if err := s.Sort(ctx, data); !errors.Is(err, context.Canceled) {
		t.Errorf("Sort = %v, want context.Canceled", err)
	}
}

func TestSort_InvalidLength(t *testing.T) {
	s := newSorter(t, WithLimits(smallLimits()))
	for _, n := range []int{0, 3, 100, 2048} {
		if err := s.Sort(context.Background(), make([]float32, n)); !errors.Is(err, gpusort.ErrInvalidLength) {
			t.Errorf("Sort(%d) = %v, want ErrInvalidLength", n, err)
		}
	}
}

func TestBackend_ShaderCheck(t *testing.T) {
	b := New(WithLimits(smallLimits()), WithShaderCheck(true))
	if err := b.Init(context.Background()); err != nil {
		t.Fatalf("Init with shader check: %v", err)
	}
	b.Close()
}

func TestBackend_Lifecycle(t *testing.T) {
	b := New(WithLimits(smallLimits()))
	if b.Name() != gpusort.BackendSoftware {
		t.Errorf("Name() = %q", b.Name())
	}
	if err := b.Execute(context.Background(), &gpusort.Job{}); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Execute before Init = %v, want ErrNotInitialized", err)
	}
	if err := b.Init(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := b.Init(context.Background()); err != nil {
		t.Errorf("second Init = %v", err)
	}
	if b.Device() == nil {
		t.Error("Device() is nil after Init")
	}
	b.Close()
	b.Close()
	if b.Device() != nil {
		t.Error("Device() not nil after Close")
	}
}

func TestBackend_Registered(t *testing.T) {
	if !gpusort.IsRegistered(gpusort.BackendSoftware) {
		t.Fatal("software backend not registered")
	}
	s, err := gpusort.New(context.Background(), gpusort.WithBackend(gpusort.BackendSoftware))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if info := s.AdapterInfo(); info.Name != AdapterName {
		t.Errorf("AdapterInfo = %+v", info)
	}
}

func BenchmarkSort(b *testing.B) {
	s := newSorter(b)
	src := randomData(rand.New(rand.NewPCG(7, 8)), 1<<16)
	data := make([]float32, len(src))

	b.ReportAllocs()
	for b.Loop() {
		copy(data, src)
		if err := s.Sort(context.Background(), data); err != nil {
			b.Fatal(err)
		}
	}
}

func TestBackend_Logging(t *testing.T) {
	var buf bytes.Buffer
	gpusort.SetLogger(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { gpusort.SetLogger(nil) })

	s := newSorter(t, WithLimits(smallLimits()), WithWorkers(2))
	if err := s.Sort(context.Background(), randomData(rand.New(rand.NewPCG(7, 7)), 256)); err != nil {
		t.Fatal(err)
	}

	out := buf.String()
	for _, want := range []string{
		`level=INFO msg="software: device created" workers=2`,
		`level=INFO msg="gpusort: backend opened" backend=software`,
		`level=DEBUG msg="software: submit"`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("logs missing %q:\n%s", want, out)
		}
	}
}
