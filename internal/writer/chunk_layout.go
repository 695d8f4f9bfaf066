package writer

import (
	"fmt"

	"github.com/scigolib/missingframes/internal/utils"
)

// ChunkLayout maps element coordinates of a chunked dataset onto chunks.
//
// Key Concepts:
//   - Chunk dimensions: size of each chunk in each dimension, fixed at creation
//   - Scaled coordinates: chunk indices [c0, c1, ..., cN] where
//     c[i] = element[i] / chunkDims[i]
//   - Edge chunks: chunks at the current extent boundary that are only
//     partly inside the dataset. They are always stored at full size.
//
// The layout does not depend on the dataset's current dimensions, so it stays
// valid while the dataset grows. Methods that need the extent take it as an
// argument.
//
// Example (3D dataset growing along axis 0):
//
//	Chunk dims: 2x4x6
//	Element [5,1,3] -> chunk [2,0,0], offset 1*24 + 1*6 + 3 = 33 within it
type ChunkLayout struct {
	chunkDims  []uint64
	strides    []uint64 // element strides inside a chunk, row-major
	elemSize   uint32
	chunkElems uint64
	chunkBytes uint64
}

// NewChunkLayout validates chunkDims and precomputes per-chunk strides.
func NewChunkLayout(chunkDims []uint64, elemSize uint32) (*ChunkLayout, error) {
	chunkBytes, err := utils.ChunkBytes(chunkDims, uint64(elemSize))
	if err != nil {
		return nil, fmt.Errorf("invalid chunk layout: %w", err)
	}

	rank := len(chunkDims)
	strides := make([]uint64, rank)
	stride := uint64(1)
	for i := rank - 1; i >= 0; i-- {
		strides[i] = stride
		stride *= chunkDims[i]
	}

	return &ChunkLayout{
		chunkDims:  append([]uint64(nil), chunkDims...),
		strides:    strides,
		elemSize:   elemSize,
		chunkElems: stride,
		chunkBytes: chunkBytes,
	}, nil
}

// Rank returns the number of dimensions.
func (l *ChunkLayout) Rank() int { return len(l.chunkDims) }

// ChunkDims returns a copy of the chunk dimensions.
func (l *ChunkLayout) ChunkDims() []uint64 { return append([]uint64(nil), l.chunkDims...) }

// ElementSize returns the size of one element in bytes.
func (l *ChunkLayout) ElementSize() uint32 { return l.elemSize }

// ChunkElements returns the number of elements in a full chunk.
func (l *ChunkLayout) ChunkElements() uint64 { return l.chunkElems }

// ChunkBytes returns the unfiltered size of a chunk in bytes.
func (l *ChunkLayout) ChunkBytes() uint64 { return l.chunkBytes }

// Scaled writes the scaled chunk coordinates of an element into out and
// reports whether they differ from what out held before. out must have the
// layout's rank.
func (l *ChunkLayout) Scaled(coord, out []uint64) bool {
	changed := false
	for i, c := range coord {
		s := c / l.chunkDims[i]
		if out[i] != s {
			out[i] = s
			changed = true
		}
	}
	return changed
}

// ByteOffset returns the byte offset of an element within its chunk.
func (l *ChunkLayout) ByteOffset(coord []uint64) uint64 {
	var idx uint64
	for i, c := range coord {
		idx += (c % l.chunkDims[i]) * l.strides[i]
	}
	return idx * uint64(l.elemSize)
}

// ChunkStart returns the element coordinates of a chunk's first element.
func (l *ChunkLayout) ChunkStart(scaled []uint64) []uint64 {
	start := make([]uint64, len(scaled))
	for i, s := range scaled {
		start[i] = s * l.chunkDims[i]
	}
	return start
}

// NumChunks returns the number of chunks per dimension needed to cover dims
// (ceiling division). A zero dimension needs zero chunks.
func (l *ChunkLayout) NumChunks(dims []uint64) []uint64 {
	n := make([]uint64, len(dims))
	for i, d := range dims {
		n[i] = (d + l.chunkDims[i] - 1) / l.chunkDims[i]
	}
	return n
}

// LinearIndex converts scaled coordinates to a row-major chunk index over
// the chunk grid covering dims. The leading dimension varies slowest, so
// growth along axis 0 never changes existing indices.
func (l *ChunkLayout) LinearIndex(scaled, dims []uint64) uint64 {
	var idx uint64
	for i, s := range scaled {
		n := (dims[i] + l.chunkDims[i] - 1) / l.chunkDims[i]
		if n == 0 {
			n = 1
		}
		idx = idx*n + s
	}
	return idx
}

// ValidElements returns how many elements of a chunk lie inside dims.
// It is ChunkElements for interior chunks and less for edge chunks.
func (l *ChunkLayout) ValidElements(scaled, dims []uint64) uint64 {
	count := uint64(1)
	for i, s := range scaled {
		start := s * l.chunkDims[i]
		if start >= dims[i] {
			return 0
		}
		count *= min(l.chunkDims[i], dims[i]-start)
	}
	return count
}

// Fill returns a new chunk buffer with every element set to fill.
// A nil or all-zero fill leaves the buffer zeroed.
func (l *ChunkLayout) Fill(fill []byte) []byte {
	buf := make([]byte, l.chunkBytes)
	if len(fill) != int(l.elemSize) || isZero(fill) {
		return buf
	}
	for off := 0; off < len(buf); off += len(fill) {
		copy(buf[off:], fill)
	}
	return buf
}

func isZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}
