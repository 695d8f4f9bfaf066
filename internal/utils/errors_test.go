package utils

import (
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStoreError_Error(t *testing.T) {
	err := &StoreError{Context: "reading superblock", Cause: errors.New("invalid signature")}
	require.Equal(t, "reading superblock: invalid signature", err.Error())
}

func TestWrapError(t *testing.T) {
	require.Nil(t, WrapError("noop", nil))
	require.Nil(t, WrapErrorf(nil, "frame %d", 3))

	err := WrapError("flush chunk", io.ErrShortWrite)
	require.ErrorIs(t, err, io.ErrShortWrite)

	var se *StoreError
	require.True(t, errors.As(err, &se))
	require.Equal(t, "flush chunk", se.Context)
}

func TestWrapErrorf_Chained(t *testing.T) {
	base := errors.New("unexpected EOF")
	level1 := WrapErrorf(base, "read chunk %v", []uint64{3, 0, 0})
	level2 := WrapError("read frame", level1)

	require.Equal(t, "read frame: read chunk [3 0 0]: unexpected EOF", level2.Error())
	require.ErrorIs(t, level2, base)

	var se *StoreError
	require.True(t, errors.As(errors.Unwrap(level2), &se))
	require.Equal(t, "read chunk [3 0 0]", se.Context)
}
