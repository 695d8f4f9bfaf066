package core

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mocktesting "github.com/scigolib/missingframes/internal/testing"
)

func TestSuperblock_RoundTrip(t *testing.T) {
	tests := []struct {
		name string
		sb   *Superblock
	}{
		{"new file", NewSuperblock(32)},
		{
			name: "written file",
			sb: &Superblock{
				Version:       Version1,
				Flags:         FlagWriteOpen,
				IstoreK:       32770,
				EndOfFile:     1 << 20,
				DatasetHeader: 48,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := tt.sb.Encode()
			require.Len(t, buf, SuperblockSize)
			assert.Equal(t, Signature, string(buf[:8]))

			got, err := ReadSuperblock(bytes.NewReader(buf))
			require.NoError(t, err)
			assert.Equal(t, tt.sb, got)
		})
	}
}

func TestNewSuperblock(t *testing.T) {
	sb := NewSuperblock(32769)
	assert.Equal(t, uint32(32769), sb.IstoreK)
	assert.Equal(t, uint64(SuperblockSize), sb.EndOfFile)
	assert.Equal(t, UndefinedAddress, sb.DatasetHeader)
	assert.False(t, sb.WriteOpen())

	sb.Flags |= FlagWriteOpen
	assert.True(t, sb.WriteOpen())
}

func TestValidateIstoreK(t *testing.T) {
	for _, k := range []uint32{1, 16, 32, 32769, 32770, 65535} {
		assert.NoError(t, ValidateIstoreK(k), "k=%d", k)
	}
	for _, k := range []uint32{0, 65536, 1 << 20} {
		assert.Error(t, ValidateIstoreK(k), "k=%d", k)
	}
	assert.Equal(t, uint32(32), DefaultIstoreK())
}

func TestDecodeSuperblock_Corrupt(t *testing.T) {
	good := NewSuperblock(32).Encode()

	tests := []struct {
		name   string
		mutate func([]byte) []byte
	}{
		{"truncated", func(b []byte) []byte { return b[:20] }},
		{"bad signature", func(b []byte) []byte { b[1] = 'X'; return b }},
		{"flipped eof bit", func(b []byte) []byte { b[17] ^= 0x01; return b }},
		{"flipped checksum", func(b []byte) []byte { b[SuperblockSize-1] ^= 0xFF; return b }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := tt.mutate(append([]byte(nil), good...))
			_, err := DecodeSuperblock(buf)
			require.ErrorIs(t, err, ErrCorrupt)
		})
	}
}

func TestDecodeSuperblock_InvalidFields(t *testing.T) {
	t.Run("istore K zero", func(t *testing.T) {
		sb := NewSuperblock(0)
		_, err := DecodeSuperblock(sb.Encode())
		require.ErrorIs(t, err, ErrCorrupt)
	})

	t.Run("end of file inside superblock", func(t *testing.T) {
		sb := NewSuperblock(32)
		sb.EndOfFile = 10
		_, err := DecodeSuperblock(sb.Encode())
		require.ErrorIs(t, err, ErrCorrupt)
	})

	t.Run("unknown version", func(t *testing.T) {
		sb := NewSuperblock(32)
		sb.Version = 9
		_, err := DecodeSuperblock(sb.Encode())
		require.ErrorContains(t, err, "unsupported superblock version")
	})
}

func TestReadSuperblock_SmallFile(t *testing.T) {
	for _, data := range [][]byte{nil, []byte(Signature), make([]byte, SuperblockSize-1)} {
		_, err := ReadSuperblock(mocktesting.NewMockReaderAt(data))
		require.ErrorIs(t, err, ErrCorrupt, "%d bytes", len(data))
	}
}

func TestSuperblock_LayoutOffsets(t *testing.T) {
	sb := &Superblock{Version: Version1, IstoreK: 7, EndOfFile: 1000, DatasetHeader: 48}
	buf := sb.Encode()

	assert.Equal(t, uint32(7), binary.LittleEndian.Uint32(buf[12:16]))
	assert.Equal(t, uint64(1000), binary.LittleEndian.Uint64(buf[16:24]))
	assert.Equal(t, uint64(48), binary.LittleEndian.Uint64(buf[24:32]))
}
