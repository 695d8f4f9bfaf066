package core

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/zeebo/xxh3"

	"github.com/scigolib/missingframes/internal/utils"
)

const (
	datasetSignature     = "DSET"
	datasetHeaderVersion = 1
	datasetFixedSize     = 16 // signature .. reserved, before the dimension arrays
	datasetTrailerSize   = 24 // index root, index entries, checksum
	maxNameLength        = math.MaxUint16
)

// DatasetHeader describes the single dataset of a file.
//
// Layout (little-endian):
//
//	0-3    "DSET"
//	4      version
//	5      rank
//	6      datatype
//	7      reserved
//	8-11   element size
//	12-13  name length
//	14-15  pipeline length
//	       dims, max dims, chunk dims (rank x 8 bytes each)
//	       fill value (element size bytes)
//	       name
//	       encoded filter pipeline
//	       chunk index root address (8), chunk index entries (8)
//	       xxh3-64 of everything above (8)
//
// Everything that changes after creation (dims and the index fields) has a
// fixed width, so the header is rewritten in place.
type DatasetHeader struct {
	Name       string
	Datatype   Datatype
	Space      Dataspace
	ChunkDims  []uint64
	FillValue  []byte
	Pipeline   []byte // opaque, encoded by the writer package
	IndexRoot  uint64
	IndexCount uint64
}

// Size returns the encoded size in bytes.
func (h *DatasetHeader) Size() int {
	rank := h.Space.Rank()
	return datasetFixedSize + 3*rank*8 + int(h.Datatype.Size()) + len(h.Name) + len(h.Pipeline) + datasetTrailerSize
}

// Validate checks internal consistency before encoding.
func (h *DatasetHeader) Validate() error {
	if h.Name == "" {
		return errors.New("dataset name is empty")
	}
	if len(h.Name) > maxNameLength {
		return fmt.Errorf("dataset name too long: %d bytes", len(h.Name))
	}
	if err := h.Datatype.Validate(); err != nil {
		return err
	}
	rank := h.Space.Rank()
	if rank == 0 || rank > MaxRank || len(h.Space.MaxDims) != rank {
		return fmt.Errorf("invalid dataspace rank %d", rank)
	}
	if len(h.ChunkDims) != rank {
		return fmt.Errorf("chunk rank %d != dataset rank %d", len(h.ChunkDims), rank)
	}
	for i, c := range h.ChunkDims {
		if c == 0 {
			return fmt.Errorf("chunk dimension %d is zero", i)
		}
	}
	if len(h.FillValue) != int(h.Datatype.Size()) {
		return fmt.Errorf("fill value is %d bytes, element size is %d", len(h.FillValue), h.Datatype.Size())
	}
	if len(h.Pipeline) > math.MaxUint16 {
		return fmt.Errorf("filter pipeline too long: %d bytes", len(h.Pipeline))
	}
	return nil
}

// Encode serializes the header with its checksum.
func (h *DatasetHeader) Encode() ([]byte, error) {
	if err := h.Validate(); err != nil {
		return nil, err
	}

	buf := make([]byte, 0, h.Size())
	buf = append(buf, datasetSignature...)
	buf = append(buf, datasetHeaderVersion, byte(h.Space.Rank()), byte(h.Datatype), 0)
	buf = binary.LittleEndian.AppendUint32(buf, h.Datatype.Size())
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(h.Name)))     //nolint:gosec // G115: checked by Validate
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(h.Pipeline))) //nolint:gosec // G115: checked by Validate

	for _, dims := range [][]uint64{h.Space.Dims, h.Space.MaxDims, h.ChunkDims} {
		for _, d := range dims {
			buf = binary.LittleEndian.AppendUint64(buf, d)
		}
	}

	buf = append(buf, h.FillValue...)
	buf = append(buf, h.Name...)
	buf = append(buf, h.Pipeline...)
	buf = binary.LittleEndian.AppendUint64(buf, h.IndexRoot)
	buf = binary.LittleEndian.AppendUint64(buf, h.IndexCount)
	buf = binary.LittleEndian.AppendUint64(buf, xxh3.Hash(buf))

	return buf, nil
}

// ReadDatasetHeader reads and validates the header at addr.
func ReadDatasetHeader(r io.ReaderAt, addr uint64) (*DatasetHeader, error) {
	if addr == UndefinedAddress {
		return nil, fmt.Errorf("dataset header address undefined: %w", ErrCorrupt)
	}

	fixed := make([]byte, datasetFixedSize)
	if err := ReadFull(r, fixed, addr); err != nil {
		return nil, utils.WrapError("dataset header read failed", err)
	}
	if string(fixed[:4]) != datasetSignature {
		return nil, fmt.Errorf("invalid dataset header signature at %d: %w", addr, ErrCorrupt)
	}
	if fixed[4] != datasetHeaderVersion {
		return nil, fmt.Errorf("unsupported dataset header version: %d", fixed[4])
	}

	rank := int(fixed[5])
	elemSize := binary.LittleEndian.Uint32(fixed[8:12])
	nameLen := int(binary.LittleEndian.Uint16(fixed[12:14]))
	pipelineLen := int(binary.LittleEndian.Uint16(fixed[14:16]))
	if rank == 0 || rank > MaxRank {
		return nil, fmt.Errorf("dataset rank %d: %w", rank, ErrCorrupt)
	}
	if elemSize == 0 || elemSize > 64 {
		return nil, fmt.Errorf("element size %d: %w", elemSize, ErrCorrupt)
	}

	total := datasetFixedSize + 3*rank*8 + int(elemSize) + nameLen + pipelineLen + datasetTrailerSize
	buf := make([]byte, total)
	if err := ReadFull(r, buf, addr); err != nil {
		return nil, utils.WrapError("dataset header read failed", err)
	}
	return DecodeDatasetHeader(buf)
}

// DecodeDatasetHeader parses an encoded header.
func DecodeDatasetHeader(buf []byte) (*DatasetHeader, error) {
	if len(buf) < datasetFixedSize+datasetTrailerSize || !bytes.Equal(buf[:4], []byte(datasetSignature)) {
		return nil, fmt.Errorf("dataset header truncated or unsigned: %w", ErrCorrupt)
	}

	body := len(buf) - 8
	stored := binary.LittleEndian.Uint64(buf[body:])
	if calc := xxh3.Hash(buf[:body]); calc != stored {
		return nil, fmt.Errorf("dataset header checksum stored=%016x calculated=%016x: %w", stored, calc, ErrCorrupt)
	}

	rank := int(buf[5])
	dtype := Datatype(buf[6])
	elemSize := int(binary.LittleEndian.Uint32(buf[8:12]))
	nameLen := int(binary.LittleEndian.Uint16(buf[12:14]))
	pipelineLen := int(binary.LittleEndian.Uint16(buf[14:16]))

	if err := dtype.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", err, ErrCorrupt)
	}
	if int(dtype.Size()) != elemSize {
		return nil, fmt.Errorf("element size %d does not match %s: %w", elemSize, dtype, ErrCorrupt)
	}
	if want := datasetFixedSize + 3*rank*8 + elemSize + nameLen + pipelineLen + datasetTrailerSize; want != len(buf) {
		return nil, fmt.Errorf("dataset header is %d bytes, fields need %d: %w", len(buf), want, ErrCorrupt)
	}

	pos := datasetFixedSize
	readDims := func() []uint64 {
		dims := make([]uint64, rank)
		for i := range dims {
			dims[i] = binary.LittleEndian.Uint64(buf[pos:])
			pos += 8
		}
		return dims
	}
	dims := readDims()
	maxDims := readDims()
	chunkDims := readDims()

	h := &DatasetHeader{
		Datatype:  dtype,
		ChunkDims: chunkDims,
		FillValue: append([]byte(nil), buf[pos:pos+elemSize]...),
	}
	pos += elemSize
	h.Name = string(buf[pos : pos+nameLen])
	pos += nameLen
	h.Pipeline = append([]byte(nil), buf[pos:pos+pipelineLen]...)
	pos += pipelineLen
	h.IndexRoot = binary.LittleEndian.Uint64(buf[pos:])
	h.IndexCount = binary.LittleEndian.Uint64(buf[pos+8:])

	space, err := NewDataspace(dims, maxDims)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", err, ErrCorrupt)
	}
	h.Space = space

	if err := h.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", err, ErrCorrupt)
	}
	return h, nil
}

// ReadFull reads exactly len(buf) bytes at addr. A short read is ErrCorrupt:
// every address the store reads was written by it.
func ReadFull(r io.ReaderAt, buf []byte, addr uint64) error {
	if addr > math.MaxInt64 {
		return fmt.Errorf("address %d out of range: %w", addr, ErrCorrupt)
	}
	n, err := r.ReadAt(buf, int64(addr))
	if n == len(buf) {
		return nil
	}
	if err == nil || errors.Is(err, io.EOF) {
		return fmt.Errorf("short read at %d: %d of %d bytes: %w", addr, n, len(buf), ErrCorrupt)
	}
	return err
}
