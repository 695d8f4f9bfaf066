package writer

import (
	"bytes"
	"fmt"
	"io"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// DefaultDeflateLevel is used when no level is given.
const DefaultDeflateLevel = 6

// DeflateFilter compresses chunks with zlib (FilterID = 1).
// The client data value is the compression level, 1-9.
type DeflateFilter struct {
	level int
}

// NewDeflateFilter creates a deflate filter. Level must be in 1..9.
func NewDeflateFilter(level int) (*DeflateFilter, error) {
	if level < 1 || level > 9 {
		return nil, fmt.Errorf("invalid deflate level %d: must be 1-9", level)
	}
	return &DeflateFilter{level: level}, nil
}

// ID returns the filter identifier for deflate.
func (f *DeflateFilter) ID() FilterID { return FilterDeflate }

// Name returns the filter name.
func (f *DeflateFilter) Name() string { return "deflate" }

// Apply compresses data.
func (f *DeflateFilter) Apply(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := zlib.NewWriterLevel(&buf, f.level)
	if err != nil {
		return nil, fmt.Errorf("zlib writer: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("zlib write: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("zlib close: %w", err)
	}
	return buf.Bytes(), nil
}

// Remove decompresses data.
func (f *DeflateFilter) Remove(data []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("zlib reader: %w", err)
	}
	defer func() { _ = r.Close() }()
	return io.ReadAll(r)
}

// Encode returns the optional flag and the compression level.
func (f *DeflateFilter) Encode() (flags uint16, cdValues []uint32) {
	return FlagOptional, []uint32{uint32(f.level)} //nolint:gosec // G115: level is 1-9
}

// SnappyFilter compresses chunks with Snappy block format (FilterID = 32003).
type SnappyFilter struct{}

// NewSnappyFilter creates a snappy filter.
func NewSnappyFilter() *SnappyFilter { return &SnappyFilter{} }

// ID returns the filter identifier for snappy.
func (f *SnappyFilter) ID() FilterID { return FilterSnappy }

// Name returns the filter name.
func (f *SnappyFilter) Name() string { return "snappy" }

// Apply compresses data.
func (f *SnappyFilter) Apply(data []byte) ([]byte, error) {
	return snappy.Encode(nil, data), nil
}

// Remove decompresses data.
func (f *SnappyFilter) Remove(data []byte) ([]byte, error) {
	out, err := snappy.Decode(nil, data)
	if err != nil {
		return nil, fmt.Errorf("snappy decode: %w", err)
	}
	return out, nil
}

// Encode returns the optional flag.
func (f *SnappyFilter) Encode() (flags uint16, cdValues []uint32) {
	return FlagOptional, nil
}

// LZ4Filter compresses chunks with the LZ4 frame format (FilterID = 32004).
type LZ4Filter struct{}

// NewLZ4Filter creates an lz4 filter.
func NewLZ4Filter() *LZ4Filter { return &LZ4Filter{} }

// ID returns the filter identifier for lz4.
func (f *LZ4Filter) ID() FilterID { return FilterLZ4 }

// Name returns the filter name.
func (f *LZ4Filter) Name() string { return "lz4" }

// Apply compresses data.
func (f *LZ4Filter) Apply(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if err := w.Apply(lz4.CompressionLevelOption(lz4.Fast)); err != nil {
		return nil, fmt.Errorf("lz4 apply level: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("lz4 write: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("lz4 close: %w", err)
	}
	return buf.Bytes(), nil
}

// Remove decompresses data.
func (f *LZ4Filter) Remove(data []byte) ([]byte, error) {
	out, err := io.ReadAll(lz4.NewReader(bytes.NewReader(data)))
	if err != nil {
		return nil, fmt.Errorf("lz4 read: %w", err)
	}
	return out, nil
}

// Encode returns the optional flag.
func (f *LZ4Filter) Encode() (flags uint16, cdValues []uint32) {
	return FlagOptional, nil
}

// ZstdFilter compresses chunks with Zstandard (FilterID = 32015).
type ZstdFilter struct{}

// NewZstdFilter creates a zstd filter.
func NewZstdFilter() *ZstdFilter { return &ZstdFilter{} }

// ID returns the filter identifier for zstd.
func (f *ZstdFilter) ID() FilterID { return FilterZstd }

// Name returns the filter name.
func (f *ZstdFilter) Name() string { return "zstd" }

// Apply compresses data.
func (f *ZstdFilter) Apply(data []byte) ([]byte, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	defer func() { _ = encoder.Close() }()
	return encoder.EncodeAll(data, nil), nil
}

// Remove decompresses data.
func (f *ZstdFilter) Remove(data []byte) ([]byte, error) {
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}
	defer decoder.Close()

	out, err := decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decode: %w", err)
	}
	return out, nil
}

// Encode returns the optional flag.
func (f *ZstdFilter) Encode() (flags uint16, cdValues []uint32) {
	return FlagOptional, nil
}
