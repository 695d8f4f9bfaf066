package writer

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

// FilterID is a chunk filter identifier. Values follow the registered
// HDF5 filter numbers.
type FilterID uint16

const (
	FilterNone       FilterID = 0
	FilterDeflate    FilterID = 1     // zlib deflate
	FilterShuffle    FilterID = 2     // Byte shuffle
	FilterFletcher32 FilterID = 3     // Fletcher32 checksum
	FilterSnappy     FilterID = 32003 // Snappy block compression
	FilterLZ4        FilterID = 32004 // LZ4 frame compression
	FilterZstd       FilterID = 32015 // Zstandard
)

// FlagOptional marks a filter that may be skipped for a chunk.
// Compression filters set it: a chunk they cannot shrink is stored without them.
const FlagOptional uint16 = 0x0001

// MaxFilters is the number of filters a pipeline can hold; one bit of the
// per-chunk filter mask per filter.
const MaxFilters = 32

// ErrChecksum reports stored chunk data that failed checksum verification.
var ErrChecksum = errors.New("chunk checksum mismatch")

// Filter transforms chunk data.
// Filters are applied in sequence during write (e.g., Shuffle -> Deflate -> Fletcher32)
// and reversed during read (Fletcher32 -> Deflate -> Shuffle).
type Filter interface {
	// ID returns the filter identifier.
	ID() FilterID

	// Name returns human-readable filter name.
	Name() string

	// Apply applies filter to data (compression/checksum on write path).
	Apply(data []byte) ([]byte, error)

	// Remove reverses filter (decompression/verification on read path).
	Remove(data []byte) ([]byte, error)

	// Encode returns the filter flags and client data values stored in the
	// dataset header.
	Encode() (flags uint16, cdValues []uint32)
}

// FilterPipeline manages a chain of filters applied to chunk data.
//
// On write: data -> Shuffle -> Deflate -> Fletcher32 -> stored.
// On read:  stored -> Fletcher32 -> Deflate -> Shuffle -> data.
//
// Each stored chunk carries a filter mask. Bit i set means filter i was
// skipped when the chunk was written and must not be removed on read.
type FilterPipeline struct {
	filters []Filter
}

// NewFilterPipeline creates a pipeline from filters, in application order.
func NewFilterPipeline(filters ...Filter) (*FilterPipeline, error) {
	if len(filters) > MaxFilters {
		return nil, fmt.Errorf("too many filters: %d (max %d)", len(filters), MaxFilters)
	}
	return &FilterPipeline{filters: append([]Filter(nil), filters...)}, nil
}

// Apply runs all filters in sequence (write path) and returns the stored
// bytes and the chunk's filter mask.
//
// An optional filter that fails, or whose output is not smaller than its
// input, is skipped and its mask bit set. A mandatory filter failure stops
// the pipeline.
func (fp *FilterPipeline) Apply(data []byte) ([]byte, uint32, error) {
	result := data
	var mask uint32

	for i, filter := range fp.filters {
		flags, _ := filter.Encode()
		optional := flags&FlagOptional != 0

		out, err := filter.Apply(result)
		if err != nil {
			if optional {
				mask |= 1 << i
				continue
			}
			return nil, 0, fmt.Errorf("filter %s failed: %w", filter.Name(), err)
		}

		if optional && len(out) >= len(result) {
			mask |= 1 << i
			continue
		}
		result = out
	}

	return result, mask, nil
}

// Remove reverses all filters not excluded by mask, in reverse order (read path).
func (fp *FilterPipeline) Remove(data []byte, mask uint32) ([]byte, error) {
	result := data
	for i := len(fp.filters) - 1; i >= 0; i-- {
		if mask&(1<<i) != 0 {
			continue
		}

		filter := fp.filters[i]
		var err error
		result, err = filter.Remove(result)
		if err != nil {
			return nil, fmt.Errorf("filter %s remove failed: %w", filter.Name(), err)
		}
	}
	return result, nil
}

// IsEmpty returns true if the pipeline has no filters.
func (fp *FilterPipeline) IsEmpty() bool {
	return len(fp.filters) == 0
}

// Count returns the number of filters in the pipeline.
func (fp *FilterPipeline) Count() int {
	return len(fp.filters)
}

// Names returns the filter names in application order.
func (fp *FilterPipeline) Names() []string {
	names := make([]string, len(fp.filters))
	for i, f := range fp.filters {
		names[i] = f.Name()
	}
	return names
}

// EncodePipeline serializes the pipeline for the dataset header.
//
// Format:
//
//	Byte 0:    number of filters
//	Bytes 1-3: reserved
//	Per filter:
//	  Filter ID (2 bytes)
//	  Flags (2 bytes)
//	  Number of CD values (2 bytes)
//	  Reserved (2 bytes)
//	  CD values (4 bytes each)
func (fp *FilterPipeline) EncodePipeline() []byte {
	buf := make([]byte, 4, 4+len(fp.filters)*16)
	buf[0] = byte(len(fp.filters))

	for _, filter := range fp.filters {
		flags, cdValues := filter.Encode()

		hdr := make([]byte, 8)
		binary.LittleEndian.PutUint16(hdr[0:2], uint16(filter.ID()))
		binary.LittleEndian.PutUint16(hdr[2:4], flags)
		binary.LittleEndian.PutUint16(hdr[4:6], uint16(len(cdValues))) //nolint:gosec // G115: at most a handful of CD values
		buf = append(buf, hdr...)

		for _, val := range cdValues {
			buf = binary.LittleEndian.AppendUint32(buf, val)
		}
	}

	return buf
}

// DecodePipeline parses a pipeline written by EncodePipeline and returns it
// with the number of bytes consumed.
func DecodePipeline(buf []byte) (*FilterPipeline, int, error) {
	if len(buf) < 4 {
		return nil, 0, fmt.Errorf("filter pipeline truncated: %d bytes", len(buf))
	}

	count := int(buf[0])
	if count > MaxFilters {
		return nil, 0, fmt.Errorf("too many filters: %d (max %d)", count, MaxFilters)
	}

	offset := 4
	filters := make([]Filter, 0, count)
	for i := 0; i < count; i++ {
		if offset+8 > len(buf) {
			return nil, 0, fmt.Errorf("filter %d header truncated", i)
		}
		id := FilterID(binary.LittleEndian.Uint16(buf[offset:]))
		nCD := int(binary.LittleEndian.Uint16(buf[offset+4:]))
		offset += 8

		if offset+nCD*4 > len(buf) {
			return nil, 0, fmt.Errorf("filter %d client data truncated", i)
		}
		cdValues := make([]uint32, nCD)
		for j := range cdValues {
			cdValues[j] = binary.LittleEndian.Uint32(buf[offset:])
			offset += 4
		}

		f, err := NewFilter(id, cdValues)
		if err != nil {
			return nil, 0, err
		}
		filters = append(filters, f)
	}

	return &FilterPipeline{filters: filters}, offset, nil
}

// NewFilter constructs a filter from its identifier and client data, as
// stored in a dataset header.
func NewFilter(id FilterID, cdValues []uint32) (Filter, error) {
	switch id {
	case FilterDeflate:
		level := DefaultDeflateLevel
		if len(cdValues) > 0 {
			level = int(cdValues[0])
		}
		return NewDeflateFilter(level)
	case FilterShuffle:
		if len(cdValues) != 1 || cdValues[0] == 0 {
			return nil, fmt.Errorf("shuffle filter needs the element size")
		}
		return NewShuffleFilter(cdValues[0]), nil
	case FilterFletcher32:
		return NewFletcher32Filter(), nil
	case FilterSnappy:
		return NewSnappyFilter(), nil
	case FilterLZ4:
		return NewLZ4Filter(), nil
	case FilterZstd:
		return NewZstdFilter(), nil
	default:
		return nil, fmt.Errorf("unsupported filter id %d", id)
	}
}

// FilterByName constructs a filter from a user-facing name.
// Names: shuffle, fletcher32, snappy, lz4, zstd, deflate or deflate=<level>.
func FilterByName(name string, elemSize uint32) (Filter, error) {
	base, arg, hasArg := strings.Cut(strings.ToLower(strings.TrimSpace(name)), "=")

	switch base {
	case "deflate", "gzip", "zlib":
		level := DefaultDeflateLevel
		if hasArg {
			if _, err := fmt.Sscanf(arg, "%d", &level); err != nil {
				return nil, fmt.Errorf("invalid deflate level %q", arg)
			}
		}
		return NewDeflateFilter(level)
	case "shuffle":
		return NewShuffleFilter(elemSize), nil
	case "fletcher32":
		return NewFletcher32Filter(), nil
	case "snappy":
		return NewSnappyFilter(), nil
	case "lz4":
		return NewLZ4Filter(), nil
	case "zstd":
		return NewZstdFilter(), nil
	default:
		return nil, fmt.Errorf("unknown filter %q", name)
	}
}
