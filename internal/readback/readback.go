// Package readback splits a device-to-host copy into bounded chunks.
//
// Some platforms fail or stall when a single mapped staging buffer is too
// large, so results are copied back through several staging buffers of at
// most a fixed size each.
package readback

// DefaultMaxChunkSize is the default cap on one staging buffer, in bytes.
const DefaultMaxChunkSize = 2 << 18

// CopyAlignment is the required alignment of buffer copy offsets and sizes.
const CopyAlignment = 4

// Chunk is one contiguous byte range of a readback.
type Chunk struct {
	Offset uint64
	Size   uint64
}

// End returns the first byte past the chunk.
func (c Chunk) End() uint64 { return c.Offset + c.Size }

// Split covers [0, size) with consecutive chunks of at most maxChunk bytes.
//
// maxChunk is rounded down to CopyAlignment so every chunk but the last
// starts and ends on an aligned offset. A maxChunk below CopyAlignment is
// treated as CopyAlignment. Split returns nil for size 0.
func Split(size, maxChunk uint64) []Chunk {
	if size == 0 {
		return nil
	}
	maxChunk -= maxChunk % CopyAlignment
	if maxChunk == 0 {
		maxChunk = CopyAlignment
	}

	chunks := make([]Chunk, 0, (size+maxChunk-1)/maxChunk)
	for off := uint64(0); off < size; off += maxChunk {
		chunks = append(chunks, Chunk{Offset: off, Size: min(maxChunk, size-off)})
	}
	return chunks
}
