package utils

import (
	"fmt"
	"math"
)

// MaxChunkSize limits a single chunk to 1GB of uncompressed data.
const MaxChunkSize = 1024 * 1024 * 1024

// MaxSelectionElements limits a hyperslab selection to 1 billion elements.
const MaxSelectionElements = 1_000_000_000

// CheckMultiplyOverflow checks if multiplying two uint64 values would overflow.
func CheckMultiplyOverflow(a, b uint64) error {
	if a == 0 || b == 0 {
		return nil
	}
	if a > math.MaxUint64/b {
		return fmt.Errorf("multiplication overflow: %d * %d exceeds uint64 max", a, b)
	}
	return nil
}

// SafeMultiply multiplies two uint64 values, failing instead of wrapping.
func SafeMultiply(a, b uint64) (uint64, error) {
	if err := CheckMultiplyOverflow(a, b); err != nil {
		return 0, err
	}
	return a * b, nil
}

// ElementCount returns the product of dims. An empty slice is a scalar (1).
func ElementCount(dims []uint64) (uint64, error) {
	total := uint64(1)
	for i, d := range dims {
		next, err := SafeMultiply(total, d)
		if err != nil {
			return 0, fmt.Errorf("element count overflow at dimension %d: %w", i, err)
		}
		total = next
	}
	return total, nil
}

// ChunkBytes returns the uncompressed byte size of a chunk with the given
// dimensions, rejecting chunks above MaxChunkSize.
func ChunkBytes(chunkDims []uint64, elementSize uint64) (uint64, error) {
	if len(chunkDims) == 0 {
		return 0, fmt.Errorf("no chunk dimensions provided")
	}
	if elementSize == 0 {
		return 0, fmt.Errorf("element size cannot be zero")
	}
	for i, d := range chunkDims {
		if d == 0 {
			return 0, fmt.Errorf("chunk dimension %d cannot be zero", i)
		}
	}

	n, err := ElementCount(chunkDims)
	if err != nil {
		return 0, err
	}
	size, err := SafeMultiply(n, elementSize)
	if err != nil {
		return 0, fmt.Errorf("chunk size overflow: %w", err)
	}
	if err := ValidateBufferSize(size, MaxChunkSize, "chunk"); err != nil {
		return 0, err
	}
	return size, nil
}

// ValidateBufferSize validates that a buffer size is non-zero and within maxSize.
func ValidateBufferSize(size, maxSize uint64, description string) error {
	if size == 0 {
		return fmt.Errorf("%s: size cannot be zero", description)
	}
	if size > maxSize {
		return fmt.Errorf("%s: size %d exceeds maximum %d", description, size, maxSize)
	}
	return nil
}
