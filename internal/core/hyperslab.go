package core

import (
	"fmt"

	"github.com/scigolib/missingframes/internal/utils"
)

// Hyperslab selects a rectangular pattern of elements: in each dimension
// Count blocks of Block elements, Stride apart, starting at Start.
//
// The total number of elements selected is product(Count[i] * Block[i]).
//
// Example - frame i of a [N,4,6] dataset:
//
//	sel := &Hyperslab{
//	    Start: []uint64{i, 0, 0},
//	    Count: []uint64{1, 4, 6},
//	}
type Hyperslab struct {
	Start  []uint64
	Count  []uint64
	Stride []uint64 // nil means all 1s (contiguous selection)
	Block  []uint64 // nil means all 1s (single element blocks)
}

// Validate checks the selection against dims and fills in nil Stride and
// Block. It rejects mismatched ranks, zero counts, strides or blocks, and
// selections that reach past dims.
func (h *Hyperslab) Validate(dims []uint64) error {
	ndims := len(dims)

	if err := h.validateRank(ndims); err != nil {
		return err
	}
	h.fillDefaults(ndims)

	for i := range dims {
		if err := h.validateDimension(dims, i); err != nil {
			return err
		}
	}

	_, err := h.Elements()
	return err
}

func (h *Hyperslab) validateRank(ndims int) error {
	if len(h.Start) != ndims {
		return fmt.Errorf("start dimensions (%d) != dataset dimensions (%d)", len(h.Start), ndims)
	}
	if len(h.Count) != ndims {
		return fmt.Errorf("count dimensions (%d) != dataset dimensions (%d)", len(h.Count), ndims)
	}
	if h.Stride != nil && len(h.Stride) != ndims {
		return fmt.Errorf("stride dimensions (%d) != dataset dimensions (%d)", len(h.Stride), ndims)
	}
	if h.Block != nil && len(h.Block) != ndims {
		return fmt.Errorf("block dimensions (%d) != dataset dimensions (%d)", len(h.Block), ndims)
	}
	return nil
}

func (h *Hyperslab) fillDefaults(ndims int) {
	if h.Stride == nil {
		h.Stride = ones(ndims)
	}
	if h.Block == nil {
		h.Block = ones(ndims)
	}
}

func ones(n int) []uint64 {
	s := make([]uint64, n)
	for i := range s {
		s[i] = 1
	}
	return s
}

func (h *Hyperslab) validateDimension(dims []uint64, dim int) error {
	if h.Count[dim] == 0 {
		return fmt.Errorf("count must be > 0 in dimension %d", dim)
	}
	if h.Stride[dim] == 0 {
		return fmt.Errorf("stride must be > 0 in dimension %d", dim)
	}
	if h.Block[dim] == 0 {
		return fmt.Errorf("block must be > 0 in dimension %d", dim)
	}
	if h.Count[dim] > 1 && h.Stride[dim] < h.Block[dim] {
		return fmt.Errorf("stride %d < block %d in dimension %d: blocks overlap", h.Stride[dim], h.Block[dim], dim)
	}

	// start + (count-1)*stride + block must not exceed the dimension.
	span, err := utils.SafeMultiply(h.Count[dim]-1, h.Stride[dim])
	if err != nil {
		return fmt.Errorf("selection span in dimension %d: %w", dim, err)
	}
	end := h.Start[dim] + span + h.Block[dim]
	if end < h.Start[dim] || end > dims[dim] {
		return fmt.Errorf("selection in dimension %d: start=%d + (count-1)*stride + block > size=%d: %w",
			dim, h.Start[dim], dims[dim], ErrOutOfBounds)
	}
	return nil
}

// Elements returns the number of selected elements.
func (h *Hyperslab) Elements() (uint64, error) {
	total := uint64(1)
	for i := range h.Count {
		block := uint64(1)
		if h.Block != nil {
			block = h.Block[i]
		}
		perDim, err := utils.SafeMultiply(h.Count[i], block)
		if err != nil {
			return 0, err
		}
		if total, err = utils.SafeMultiply(total, perDim); err != nil {
			return 0, err
		}
	}
	if total > utils.MaxSelectionElements {
		return 0, fmt.Errorf("selection of %d elements exceeds maximum %d", total, utils.MaxSelectionElements)
	}
	return total, nil
}

// Each calls fn with the coordinates of every selected element in row-major
// order (last dimension fastest), which is also the order of the elements in
// a dense memory buffer. The coord slice is reused between calls. Validate
// must have succeeded first. Each stops at the first error fn returns.
func (h *Hyperslab) Each(fn func(coord []uint64) error) error {
	rank := len(h.Start)
	if rank == 0 {
		return nil
	}

	// Per dimension: which block, and which element inside that block.
	blockIdx := make([]uint64, rank)
	inBlock := make([]uint64, rank)
	coord := make([]uint64, rank)
	copy(coord, h.Start)

	for {
		if err := fn(coord); err != nil {
			return err
		}

		dim := rank - 1
		for ; dim >= 0; dim-- {
			inBlock[dim]++
			if inBlock[dim] < h.Block[dim] {
				coord[dim]++
				break
			}
			inBlock[dim] = 0
			blockIdx[dim]++
			if blockIdx[dim] < h.Count[dim] {
				coord[dim] = h.Start[dim] + blockIdx[dim]*h.Stride[dim]
				break
			}
			blockIdx[dim] = 0
			coord[dim] = h.Start[dim]
		}
		if dim < 0 {
			return nil
		}
	}
}
