package gpusort

import (
	"errors"
	"testing"

	"github.com/gogpu/gputypes"
)

// testCapability returns a capability with workgroup size t and g workgroups.
func testCapability(t, g uint32) Capability {
	return Capability{
		MaxThreadsPerWorkgroup:    t,
		MaxWorkgroupsPerDispatch:  g,
		MinUniformOffsetAlignment: DefaultUniformOffsetAlignment,
	}
}

// =============================================================================
// Capability Tests
// =============================================================================

func TestCapabilityFromLimits(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*gputypes.Limits)
		wantT   uint32
		wantG   uint32
		wantAln uint32
	}{
		{"defaults", func(*gputypes.Limits) {}, 256, 32768, 256},
		{"invocations cap", func(l *gputypes.Limits) { l.MaxComputeInvocationsPerWorkgroup = 128 }, 128, 32768, 256},
		{"storage cap", func(l *gputypes.Limits) { l.MaxComputeWorkgroupStorageSize = 512 }, 128, 32768, 256},
		{"non power of two size", func(l *gputypes.Limits) {
			l.MaxComputeWorkgroupSizeX = 1000
			l.MaxComputeInvocationsPerWorkgroup = 1024
			l.MaxComputeWorkgroupStorageSize = 32768
		}, 512, 32768, 256},
		{"power of two count", func(l *gputypes.Limits) { l.MaxComputeWorkgroupsPerDimension = 1 << 16 }, 256, 1 << 16, 256},
		{"small alignment", func(l *gputypes.Limits) { l.MinUniformBufferOffsetAlignment = 64 }, 256, 32768, 64},
		{"zero alignment", func(l *gputypes.Limits) { l.MinUniformBufferOffsetAlignment = 0 }, 256, 32768, DefaultUniformOffsetAlignment},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := gputypes.DefaultLimits()
			tt.mutate(&l)
			c := CapabilityFromLimits(l)
			if c.MaxThreadsPerWorkgroup != tt.wantT {
				t.Errorf("T = %d, want %d", c.MaxThreadsPerWorkgroup, tt.wantT)
			}
			if c.MaxWorkgroupsPerDispatch != tt.wantG {
				t.Errorf("G = %d, want %d", c.MaxWorkgroupsPerDispatch, tt.wantG)
			}
			if c.MinUniformOffsetAlignment != tt.wantAln {
				t.Errorf("alignment = %d, want %d", c.MinUniformOffsetAlignment, tt.wantAln)
			}
			if err := c.Validate(); err != nil {
				t.Errorf("Validate() = %v", err)
			}
		})
	}
}

func TestCapabilityValidate(t *testing.T) {
	bad := []Capability{
		{},
		testCapability(0, 16),
		testCapability(256, 0),
		testCapability(100, 16),
		{MaxThreadsPerWorkgroup: 256, MaxWorkgroupsPerDispatch: 16},
	}
	for _, c := range bad {
		if err := c.Validate(); !errors.Is(err, ErrUnsupportedDevice) {
			t.Errorf("Validate(%+v) = %v, want ErrUnsupportedDevice", c, err)
		}
	}
}

func TestCapabilityLengths(t *testing.T) {
	tests := []struct {
		t, g  uint32
		first uint32
		last  uint32
		count int
	}{
		{256, 32768, 256, 1 << 23, 16},
		{64, 4, 256, 256, 1},
		{64, 2, 0, 0, 0},
		{256, 1 << 24, 256, 1 << 31, 24},
	}
	for _, tt := range tests {
		got := testCapability(tt.t, tt.g).Lengths()
		if len(got) != tt.count {
			t.Errorf("T=%d G=%d: %d lengths, want %d", tt.t, tt.g, len(got), tt.count)
			continue
		}
		if tt.count == 0 {
			continue
		}
		if got[0] != tt.first || got[len(got)-1] != tt.last {
			t.Errorf("T=%d G=%d: lengths %d..%d, want %d..%d", tt.t, tt.g, got[0], got[len(got)-1], tt.first, tt.last)
		}
		for i := 1; i < len(got); i++ {
			if got[i] != got[i-1]<<1 {
				t.Errorf("T=%d G=%d: lengths[%d] = %d, want %d", tt.t, tt.g, i, got[i], got[i-1]<<1)
			}
		}
	}
}

// =============================================================================
// Planner Tests
// =============================================================================

func TestNewPlan_InvalidLength(t *testing.T) {
	c := testCapability(256, 16)
	for _, n := range []uint32{0, 3, 6, 1000, 256*16 + 256, 256 * 32} {
		if _, err := NewPlan(c, n); !errors.Is(err, ErrInvalidLength) {
			t.Errorf("NewPlan(%d) = %v, want ErrInvalidLength", n, err)
		}
	}
}

func TestNewPlan_InvalidCapability(t *testing.T) {
	if _, err := NewPlan(testCapability(100, 16), 256); !errors.Is(err, ErrUnsupportedDevice) {
		t.Errorf("NewPlan = %v, want ErrUnsupportedDevice", err)
	}
}

func TestNewPlan_SingleWorkgroup(t *testing.T) {
	c := testCapability(256, 16)
	for _, n := range []uint32{1, 2, 64, 128, 256} {
		p, err := NewPlan(c, n)
		if err != nil {
			t.Fatalf("NewPlan(%d): %v", n, err)
		}
		if p.NeedsGlobalPhase || p.NumRounds() != 0 || p.NumGlobalSteps() != 0 {
			t.Errorf("N=%d: unexpected global phase: %+v", n, p)
		}
		if p.WorkgroupCount != 1 || p.PaddedLength != 256 || p.Length != n {
			t.Errorf("N=%d: workgroups=%d padded=%d length=%d", n, p.WorkgroupCount, p.PaddedLength, p.Length)
		}
		d := p.Dispatches()
		if len(d) != 1 || d[0].Kernel != KernelLocalSort || d[0].Slot != -1 || d[0].Workgroups != 1 {
			t.Errorf("N=%d: dispatches = %+v", n, d)
		}
	}
}

func TestNewPlan_FourWorkgroups(t *testing.T) {
	const T = 256
	p, err := NewPlan(testCapability(T, 16), 4*T)
	if err != nil {
		t.Fatal(err)
	}

	wantSteps := []Step{{2 * T, T}, {4 * T, 2 * T}, {4 * T, T}}
	if len(p.GlobalSteps) != len(wantSteps) {
		t.Fatalf("GlobalSteps = %v, want %v", p.GlobalSteps, wantSteps)
	}
	for i, s := range wantSteps {
		if p.GlobalSteps[i] != s {
			t.Errorf("GlobalSteps[%d] = %+v, want %+v", i, p.GlobalSteps[i], s)
		}
	}

	want := []Dispatch{
		{KernelLocalSort, -1, 4},
		{KernelGlobalCompareExchange, 0, 4},
		{KernelLocalMerge, 0, 4},
		{KernelGlobalCompareExchange, 1, 4},
		{KernelGlobalCompareExchange, 2, 4},
		{KernelLocalMerge, 2, 4},
	}
	got := p.Dispatches()
	if len(got) != len(want) {
		t.Fatalf("Dispatches = %+v, want %+v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("dispatch %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestNewPlan_Counts(t *testing.T) {
	const T = 64
	c := testCapability(T, 1<<20)
	for r := 0; r <= 20; r++ {
		n := uint32(T) << r
		p, err := NewPlan(c, n)
		if err != nil {
			t.Fatalf("NewPlan(%d): %v", n, err)
		}
		if p.NumRounds() != r {
			t.Errorf("N=%d: rounds = %d, want %d", n, p.NumRounds(), r)
		}
		if want := r * (r + 1) / 2; p.NumGlobalSteps() != want {
			t.Errorf("N=%d: steps = %d, want %d", n, p.NumGlobalSteps(), want)
		}
		if p.WorkgroupCount*p.WorkgroupSize != p.PaddedLength {
			t.Errorf("N=%d: %d workgroups * %d != %d", n, p.WorkgroupCount, p.WorkgroupSize, p.PaddedLength)
		}
		for i, round := range p.Rounds {
			if round.Stride != 2*T<<i || len(round.Steps) != i+1 {
				t.Errorf("N=%d round %d: stride %d with %d steps", n, i, round.Stride, len(round.Steps))
			}
			if last := round.Steps[len(round.Steps)-1]; last.CompareDistance != T {
				t.Errorf("N=%d round %d: last distance %d, want %d", n, i, last.CompareDistance, T)
			}
		}
	}
}

func TestNewPlan_MaxLength(t *testing.T) {
	p, err := NewPlan(testCapability(256, 1<<23), 1<<31)
	if err != nil {
		t.Fatal(err)
	}
	if p.NumRounds() != 23 || p.NumGlobalSteps() != 23*24/2 {
		t.Errorf("rounds = %d, steps = %d", p.NumRounds(), p.NumGlobalSteps())
	}
}

func BenchmarkNewPlan(b *testing.B) {
	c := DefaultCapability()
	b.ReportAllocs()
	for b.Loop() {
		_, _ = NewPlan(c, 1<<23)
	}
}
