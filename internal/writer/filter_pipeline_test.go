package writer

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

// mockFilter is a test filter that transforms data in a predictable way.
type mockFilter struct {
	id         FilterID
	name       string
	flags      uint16
	cdValues   []uint32
	grow       int // bytes appended by Apply
	shouldFail bool
}

func (m *mockFilter) ID() FilterID {
	return m.id
}

func (m *mockFilter) Name() string {
	return m.name
}

func (m *mockFilter) Apply(data []byte) ([]byte, error) {
	if m.shouldFail {
		return nil, errors.New("mock filter apply failed")
	}
	result := make([]byte, len(data), len(data)+m.grow)
	for i, b := range data {
		result[i] = b + byte(m.id)
	}
	return append(result, make([]byte, m.grow)...), nil
}

func (m *mockFilter) Remove(data []byte) ([]byte, error) {
	if m.shouldFail {
		return nil, errors.New("mock filter remove failed")
	}
	data = data[:len(data)-m.grow]
	result := make([]byte, len(data))
	for i, b := range data {
		result[i] = b - byte(m.id)
	}
	return result, nil
}

func (m *mockFilter) Encode() (flags uint16, cdValues []uint32) {
	return m.flags, m.cdValues
}

func frameBytes() []byte {
	data := make([]byte, 96)
	for row := 0; row < 4; row++ {
		for col := 0; col < 6; col++ {
			v := uint32((row+1)*10 + col + 1)
			binary.LittleEndian.PutUint32(data[(row*6+col)*4:], v)
		}
	}
	return data
}

func TestNewFilterPipeline(t *testing.T) {
	fp, err := NewFilterPipeline()
	require.NoError(t, err)
	require.True(t, fp.IsEmpty())
	require.Equal(t, 0, fp.Count())

	many := make([]Filter, MaxFilters+1)
	for i := range many {
		many[i] = NewFletcher32Filter()
	}
	_, err = NewFilterPipeline(many...)
	require.Error(t, err)
}

func TestFilterPipeline_EmptyIsIdentity(t *testing.T) {
	fp, err := NewFilterPipeline()
	require.NoError(t, err)

	data := frameBytes()
	out, mask, err := fp.Apply(data)
	require.NoError(t, err)
	require.Zero(t, mask)
	require.Equal(t, data, out)

	restored, err := fp.Remove(out, mask)
	require.NoError(t, err)
	require.Equal(t, data, restored)
}

func TestFilterPipeline_RoundTrip(t *testing.T) {
	deflate, err := NewDeflateFilter(6)
	require.NoError(t, err)

	fp, err := NewFilterPipeline(NewShuffleFilter(4), deflate, NewFletcher32Filter())
	require.NoError(t, err)
	require.Equal(t, []string{"shuffle", "deflate", "fletcher32"}, fp.Names())

	data := make([]byte, 96*64)
	for i := 0; i < 64; i++ {
		copy(data[i*96:], frameBytes())
	}

	stored, mask, err := fp.Apply(data)
	require.NoError(t, err)
	require.Zero(t, mask, "repetitive frames compress")
	require.Less(t, len(stored), len(data))

	restored, err := fp.Remove(stored, mask)
	require.NoError(t, err)
	require.Equal(t, data, restored)
}

func TestFilterPipeline_OptionalSkippedWhenNoGain(t *testing.T) {
	growing := &mockFilter{id: 9, name: "grow", flags: FlagOptional, grow: 8}
	mandatory := &mockFilter{id: 1, name: "plus-one"}

	fp, err := NewFilterPipeline(growing, mandatory)
	require.NoError(t, err)

	data := []byte{1, 2, 3, 4}
	stored, mask, err := fp.Apply(data)
	require.NoError(t, err)
	require.Equal(t, uint32(0b01), mask)
	require.Equal(t, []byte{2, 3, 4, 5}, stored)

	restored, err := fp.Remove(stored, mask)
	require.NoError(t, err)
	require.Equal(t, data, restored)
}

func TestFilterPipeline_Errors(t *testing.T) {
	t.Run("optional failure is skipped", func(t *testing.T) {
		fp, err := NewFilterPipeline(&mockFilter{id: 1, name: "bad", flags: FlagOptional, shouldFail: true})
		require.NoError(t, err)

		out, mask, err := fp.Apply([]byte{7})
		require.NoError(t, err)
		require.Equal(t, uint32(1), mask)
		require.Equal(t, []byte{7}, out)
	})

	t.Run("mandatory failure stops the pipeline", func(t *testing.T) {
		fp, err := NewFilterPipeline(&mockFilter{id: 1, name: "bad", shouldFail: true})
		require.NoError(t, err)

		_, _, err = fp.Apply([]byte{7})
		require.ErrorContains(t, err, "filter bad failed")

		_, err = fp.Remove([]byte{7}, 0)
		require.ErrorContains(t, err, "filter bad remove failed")
	})
}

func TestFilterPipeline_EncodeDecode(t *testing.T) {
	deflate, err := NewDeflateFilter(3)
	require.NoError(t, err)

	fp, err := NewFilterPipeline(NewShuffleFilter(4), deflate, NewSnappyFilter(), NewLZ4Filter(),
		NewZstdFilter(), NewFletcher32Filter())
	require.NoError(t, err)

	encoded := fp.EncodePipeline()
	encoded = append(encoded, 0xAA, 0xBB) // trailing bytes belong to the caller

	decoded, n, err := DecodePipeline(encoded)
	require.NoError(t, err)
	require.Equal(t, len(encoded)-2, n)
	require.Equal(t, fp.Names(), decoded.Names())

	flags, cd := decoded.filters[1].Encode()
	require.Equal(t, FlagOptional, flags)
	require.Equal(t, []uint32{3}, cd)

	_, cd = decoded.filters[0].Encode()
	require.Equal(t, []uint32{4}, cd)
}

func TestDecodePipeline_Invalid(t *testing.T) {
	tests := []struct {
		name string
		buf  []byte
	}{
		{"truncated header", []byte{1}},
		{"too many filters", []byte{MaxFilters + 1, 0, 0, 0}},
		{"truncated filter", []byte{1, 0, 0, 0, 2, 0}},
		{"truncated client data", []byte{1, 0, 0, 0, 2, 0, 0, 0, 1, 0, 0, 0}},
		{"unknown filter", []byte{1, 0, 0, 0, 0x34, 0x12, 0, 0, 0, 0, 0, 0}},
		{"shuffle without element size", []byte{1, 0, 0, 0, 2, 0, 0, 0, 0, 0, 0, 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := DecodePipeline(tt.buf)
			require.Error(t, err)
		})
	}
}

func TestFilterByName(t *testing.T) {
	tests := []struct {
		name    string
		wantID  FilterID
		wantErr bool
	}{
		{"shuffle", FilterShuffle, false},
		{"Fletcher32", FilterFletcher32, false},
		{"deflate", FilterDeflate, false},
		{"deflate=9", FilterDeflate, false},
		{"gzip", FilterDeflate, false},
		{"snappy", FilterSnappy, false},
		{"lz4", FilterLZ4, false},
		{" zstd ", FilterZstd, false},
		{"deflate=x", 0, true},
		{"deflate=12", 0, true},
		{"bzip2", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := FilterByName(tt.name, 4)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.wantID, f.ID())
		})
	}
}
