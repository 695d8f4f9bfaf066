package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDataspace(t *testing.T) {
	tests := []struct {
		name    string
		dims    []uint64
		maxDims []uint64
		wantErr error
		anyErr  bool
	}{
		{name: "empty extendible", dims: []uint64{0, 4, 6}, maxDims: []uint64{Unlimited, 4, 6}},
		{name: "fixed", dims: []uint64{10, 20}},
		{name: "bounded growth", dims: []uint64{1}, maxDims: []uint64{5}},
		{name: "scalar rejected", dims: nil, anyErr: true},
		{name: "rank mismatch", dims: []uint64{1, 2}, maxDims: []uint64{1}, anyErr: true},
		{name: "zero max", dims: []uint64{0}, maxDims: []uint64{0}, anyErr: true},
		{name: "dim above max", dims: []uint64{6}, maxDims: []uint64{5}, wantErr: ErrOutOfBounds},
		{name: "overflow", dims: []uint64{1 << 40, 1 << 40}, anyErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ds, err := NewDataspace(tt.dims, tt.maxDims)
			switch {
			case tt.wantErr != nil:
				require.ErrorIs(t, err, tt.wantErr)
			case tt.anyErr:
				require.Error(t, err)
			default:
				require.NoError(t, err)
				assert.Equal(t, len(tt.dims), ds.Rank())
				assert.Equal(t, tt.dims, ds.Dims)
			}
		})
	}
}

func TestDataspace_Resize(t *testing.T) {
	ds, err := NewDataspace([]uint64{0, 4, 6}, []uint64{Unlimited, 4, 6})
	require.NoError(t, err)
	assert.True(t, ds.Extendible())
	assert.Equal(t, uint64(0), ds.Elements())

	grown, err := ds.Resize([]uint64{3, 4, 6})
	require.NoError(t, err)
	assert.Equal(t, uint64(72), grown.Elements())
	assert.Equal(t, []uint64{0, 4, 6}, ds.Dims, "resize returns a copy")

	same, err := grown.Resize([]uint64{3, 4, 6})
	require.NoError(t, err, "resizing to the current extent is a no-op")
	assert.Equal(t, grown.Dims, same.Dims)

	_, err = grown.Resize([]uint64{2, 4, 6})
	require.ErrorIs(t, err, ErrShrink)

	_, err = grown.Resize([]uint64{3, 5, 6})
	require.ErrorIs(t, err, ErrOutOfBounds)

	_, err = grown.Resize([]uint64{3, 4})
	require.Error(t, err)
}

func TestDataspace_CloneAndString(t *testing.T) {
	ds, err := NewDataspace([]uint64{2, 4, 6}, []uint64{Unlimited, 4, 6})
	require.NoError(t, err)

	c := ds.Clone()
	c.Dims[0] = 99
	assert.Equal(t, uint64(2), ds.Dims[0])

	assert.Equal(t, "[2/unlimited 4/4 6/6]", ds.String())

	fixed, err := NewDataspace([]uint64{3}, nil)
	require.NoError(t, err)
	assert.False(t, fixed.Extendible())
}
