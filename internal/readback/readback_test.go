package readback

import "testing"

func TestSplit(t *testing.T) {
	tests := []struct {
		name     string
		size     uint64
		maxChunk uint64
		want     []Chunk
	}{
		{"empty", 0, 16, nil},
		{"single", 12, 16, []Chunk{{0, 12}}},
		{"exact", 32, 16, []Chunk{{0, 16}, {16, 16}}},
		{"tail", 40, 16, []Chunk{{0, 16}, {16, 16}, {32, 8}}},
		{"unaligned cap", 20, 10, []Chunk{{0, 8}, {8, 8}, {16, 4}}},
		{"tiny cap", 8, 1, []Chunk{{0, 4}, {4, 4}}},
		{"default", 4 << 20, DefaultMaxChunkSize, []Chunk{
			{0, 1 << 19}, {1 << 19, 1 << 19}, {2 << 19, 1 << 19}, {3 << 19, 1 << 19},
			{4 << 19, 1 << 19}, {5 << 19, 1 << 19}, {6 << 19, 1 << 19}, {7 << 19, 1 << 19},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Split(tt.size, tt.maxChunk)
			if len(got) != len(tt.want) {
				t.Fatalf("Split(%d, %d) = %v, want %v", tt.size, tt.maxChunk, got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("chunk %d = %+v, want %+v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestSplitCoversRange(t *testing.T) {
	for _, size := range []uint64{4, 1024, 1 << 20, 3<<20 + 12} {
		chunks := Split(size, DefaultMaxChunkSize)
		var next uint64
		for _, c := range chunks {
			if c.Offset != next {
				t.Fatalf("size %d: gap at %d (chunk starts %d)", size, next, c.Offset)
			}
			if c.Size == 0 || c.Size > DefaultMaxChunkSize {
				t.Fatalf("size %d: chunk size %d out of range", size, c.Size)
			}
			next = c.End()
		}
		if next != size {
			t.Errorf("size %d: chunks end at %d", size, next)
		}
	}
}

func BenchmarkSplit(b *testing.B) {
	b.ReportAllocs()
	for b.Loop() {
		_ = Split(64<<20, DefaultMaxChunkSize)
	}
}
