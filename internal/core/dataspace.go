package core

import (
	"errors"
	"fmt"
	"slices"

	"github.com/scigolib/missingframes/internal/utils"
)

// Unlimited marks a dimension with no maximum size.
const Unlimited = ^uint64(0)

// MaxRank is the largest supported number of dimensions.
const MaxRank = 32

// Dataspace errors.
var (
	// ErrShrink is returned when a new extent is smaller than the current one
	// in some dimension. Datasets only grow.
	ErrShrink = errors.New("extent cannot shrink")

	// ErrOutOfBounds is returned for extents beyond the maximum dimensions and
	// for selections outside the current extent.
	ErrOutOfBounds = errors.New("out of bounds")
)

// Dataspace is the shape of a dataset: current and maximum dimensions.
// A current dimension may be zero when its maximum allows growth.
type Dataspace struct {
	Dims    []uint64
	MaxDims []uint64 // Unlimited for unbounded dimensions
}

// NewDataspace validates a shape. A nil maxDims fixes the shape at dims.
func NewDataspace(dims, maxDims []uint64) (Dataspace, error) {
	rank := len(dims)
	if rank == 0 || rank > MaxRank {
		return Dataspace{}, fmt.Errorf("rank %d out of range 1..%d", rank, MaxRank)
	}
	if maxDims == nil {
		maxDims = dims
	}
	if len(maxDims) != rank {
		return Dataspace{}, fmt.Errorf("max dimensions have rank %d, dimensions have rank %d", len(maxDims), rank)
	}

	for i := range dims {
		if maxDims[i] == 0 {
			return Dataspace{}, fmt.Errorf("max dimension %d is zero", i)
		}
		if dims[i] > maxDims[i] {
			return Dataspace{}, fmt.Errorf("dimension %d: %d exceeds max %d: %w", i, dims[i], maxDims[i], ErrOutOfBounds)
		}
	}

	if _, err := utils.ElementCount(dims); err != nil {
		return Dataspace{}, err
	}

	return Dataspace{Dims: slices.Clone(dims), MaxDims: slices.Clone(maxDims)}, nil
}

// Rank returns the number of dimensions.
func (s Dataspace) Rank() int { return len(s.Dims) }

// Clone returns a deep copy.
func (s Dataspace) Clone() Dataspace {
	return Dataspace{Dims: slices.Clone(s.Dims), MaxDims: slices.Clone(s.MaxDims)}
}

// Extendible reports whether any dimension can still grow.
func (s Dataspace) Extendible() bool {
	for i := range s.Dims {
		if s.MaxDims[i] > s.Dims[i] {
			return true
		}
	}
	return false
}

// Elements returns the number of elements in the current extent.
func (s Dataspace) Elements() uint64 {
	n, _ := utils.ElementCount(s.Dims) // checked by NewDataspace and Resize
	return n
}

// Resize returns the dataspace with new current dimensions. Every dimension
// must stay within its maximum and must not shrink.
func (s Dataspace) Resize(dims []uint64) (Dataspace, error) {
	if len(dims) != len(s.Dims) {
		return Dataspace{}, fmt.Errorf("new extent has rank %d, dataset has rank %d", len(dims), len(s.Dims))
	}

	for i, d := range dims {
		if d < s.Dims[i] {
			return Dataspace{}, fmt.Errorf("dimension %d: %d < current %d: %w", i, d, s.Dims[i], ErrShrink)
		}
		if d > s.MaxDims[i] {
			return Dataspace{}, fmt.Errorf("dimension %d: %d exceeds max %d: %w", i, d, s.MaxDims[i], ErrOutOfBounds)
		}
	}

	if _, err := utils.ElementCount(dims); err != nil {
		return Dataspace{}, err
	}

	return Dataspace{Dims: slices.Clone(dims), MaxDims: slices.Clone(s.MaxDims)}, nil
}

// String formats the shape like "[3/unlimited 4/4 6/6]".
func (s Dataspace) String() string {
	parts := make([]byte, 0, 16*len(s.Dims))
	parts = append(parts, '[')
	for i := range s.Dims {
		if i > 0 {
			parts = append(parts, ' ')
		}
		maxDim := "unlimited"
		if s.MaxDims[i] != Unlimited {
			maxDim = fmt.Sprint(s.MaxDims[i])
		}
		parts = fmt.Appendf(parts, "%d/%s", s.Dims[i], maxDim)
	}
	return string(append(parts, ']'))
}
