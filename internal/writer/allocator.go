package writer

import (
	"cmp"
	"fmt"
	"math"
	"slices"
)

// AllocatedBlock tracks an allocated region of the file.
type AllocatedBlock struct {
	Offset uint64 // Start address
	Size   uint64 // Size in bytes
}

// Allocator hands out file space for metadata blocks, chunk index nodes and
// chunk data.
//
// Strategy:
//   - End-of-file allocation: every allocation starts at the current end of file
//   - No freed space reuse: a chunk that outgrows its block is reallocated and
//     the old block is abandoned
//   - All allocations tracked, so tests can assert there are no overlaps
//
// Thread Safety: NOT thread-safe. The owning FileWriter is single-threaded.
type Allocator struct {
	blocks     []AllocatedBlock
	nextOffset uint64
	total      uint64
}

// NewAllocator creates a space allocator whose first allocation starts at
// initialOffset (the superblock size for a new file, the recorded end of file
// for a reopened one).
//
// Example:
//
//	alloc := NewAllocator(48)
//	addr, err := alloc.Allocate(1024)
//	if err != nil {
//	    return err
//	}
//	// addr == 48
func NewAllocator(initialOffset uint64) *Allocator {
	return &Allocator{
		blocks:     make([]AllocatedBlock, 0, 16),
		nextOffset: initialOffset,
	}
}

// Allocate reserves size bytes at the end of the file and returns their address.
func (a *Allocator) Allocate(size uint64) (uint64, error) {
	if size == 0 {
		return 0, fmt.Errorf("cannot allocate zero bytes")
	}
	if size > math.MaxInt64-a.nextOffset {
		return 0, fmt.Errorf("allocation of %d bytes at %d exceeds the addressable file size", size, a.nextOffset)
	}

	addr := a.nextOffset
	a.blocks = append(a.blocks, AllocatedBlock{Offset: addr, Size: size})
	a.nextOffset = addr + size
	a.total += size

	return addr, nil
}

// IsAllocated reports whether [offset, offset+size) overlaps any block
// handed out by this allocator.
func (a *Allocator) IsAllocated(offset, size uint64) bool {
	if size == 0 {
		return false
	}

	rangeEnd := offset + size
	for _, block := range a.blocks {
		// [a1,a2) and [b1,b2) overlap if a1 < b2 && b1 < a2.
		if offset < block.Offset+block.Size && block.Offset < rangeEnd {
			return true
		}
	}

	return false
}

// EndOfFile returns the address where the next allocation would start.
func (a *Allocator) EndOfFile() uint64 {
	return a.nextOffset
}

// Allocated returns the number of bytes handed out since the allocator was created.
func (a *Allocator) Allocated() uint64 {
	return a.total
}

// Blocks returns a copy of all allocated blocks, sorted by offset.
func (a *Allocator) Blocks() []AllocatedBlock {
	blocks := slices.Clone(a.blocks)
	slices.SortFunc(blocks, func(x, y AllocatedBlock) int {
		return cmp.Compare(x.Offset, y.Offset)
	})
	return blocks
}

// ValidateNoOverlaps checks that no two allocated blocks overlap.
func (a *Allocator) ValidateNoOverlaps() error {
	blocks := a.Blocks()

	for i := 0; i < len(blocks)-1; i++ {
		current, next := blocks[i], blocks[i+1]
		if current.Offset+current.Size > next.Offset {
			return fmt.Errorf("overlap detected: block at %d (size %d) overlaps block at %d",
				current.Offset, current.Size, next.Offset)
		}
	}

	return nil
}
