// Package core defines the on-disk metadata of a chunk store file: the
// superblock, the dataset header, dataspaces and hyperslab selections.
package core

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/zeebo/xxh3"

	"github.com/scigolib/missingframes/internal/utils"
)

// File signature and supported superblock version.
const (
	Signature      = "\x89CHK\r\n\x1a\n"
	Version1       = 1
	SuperblockSize = 48
	checksumOffset = SuperblockSize - 8
	defaultIstoreK = 32
	maxIstoreK     = 65535
)

// UndefinedAddress marks an address field that points nowhere.
const UndefinedAddress = ^uint64(0)

// Superblock flags.
const (
	// FlagWriteOpen is set while a writer has the file open and cleared by a
	// clean close. A read-only open of a file with the flag set sees whatever
	// the last flush left behind.
	FlagWriteOpen uint8 = 0x01
)

// ErrCorrupt reports on-disk metadata that fails validation.
var ErrCorrupt = errors.New("corrupt file")

// Superblock is the fixed-size block at offset 0.
//
// Layout (48 bytes, little-endian):
//
//	0-7   signature
//	8     version
//	9     flags
//	10-11 reserved
//	12-15 istore K (chunk index B-tree order)
//	16-23 end-of-file address
//	24-31 dataset header address (UndefinedAddress before a dataset exists)
//	32-39 reserved
//	40-47 xxh3-64 of bytes 0-39
type Superblock struct {
	Version       uint8
	Flags         uint8
	IstoreK       uint32
	EndOfFile     uint64
	DatasetHeader uint64
}

// NewSuperblock returns the superblock of an empty file.
func NewSuperblock(istoreK uint32) *Superblock {
	return &Superblock{
		Version:       Version1,
		IstoreK:       istoreK,
		EndOfFile:     SuperblockSize,
		DatasetHeader: UndefinedAddress,
	}
}

// DefaultIstoreK is the chunk index order used when none is configured.
func DefaultIstoreK() uint32 { return defaultIstoreK }

// ValidateIstoreK checks a chunk index B-tree order.
func ValidateIstoreK(k uint32) error {
	if k == 0 || k > maxIstoreK {
		return fmt.Errorf("istore K %d out of range 1..%d", k, maxIstoreK)
	}
	return nil
}

// Encode serializes the superblock and its checksum.
func (sb *Superblock) Encode() []byte {
	buf := make([]byte, SuperblockSize)
	copy(buf[0:8], Signature)
	buf[8] = sb.Version
	buf[9] = sb.Flags
	binary.LittleEndian.PutUint32(buf[12:16], sb.IstoreK)
	binary.LittleEndian.PutUint64(buf[16:24], sb.EndOfFile)
	binary.LittleEndian.PutUint64(buf[24:32], sb.DatasetHeader)
	binary.LittleEndian.PutUint64(buf[checksumOffset:], xxh3.Hash(buf[:checksumOffset]))
	return buf
}

// DecodeSuperblock parses and validates an encoded superblock.
func DecodeSuperblock(buf []byte) (*Superblock, error) {
	if len(buf) < SuperblockSize {
		return nil, fmt.Errorf("superblock truncated (%d bytes): %w", len(buf), ErrCorrupt)
	}
	if string(buf[:8]) != Signature {
		return nil, fmt.Errorf("invalid signature: %w", ErrCorrupt)
	}

	stored := binary.LittleEndian.Uint64(buf[checksumOffset:SuperblockSize])
	if calc := xxh3.Hash(buf[:checksumOffset]); calc != stored {
		return nil, fmt.Errorf("superblock checksum stored=%016x calculated=%016x: %w", stored, calc, ErrCorrupt)
	}

	sb := &Superblock{
		Version:       buf[8],
		Flags:         buf[9],
		IstoreK:       binary.LittleEndian.Uint32(buf[12:16]),
		EndOfFile:     binary.LittleEndian.Uint64(buf[16:24]),
		DatasetHeader: binary.LittleEndian.Uint64(buf[24:32]),
	}

	if sb.Version != Version1 {
		return nil, fmt.Errorf("unsupported superblock version: %d", sb.Version)
	}
	if err := ValidateIstoreK(sb.IstoreK); err != nil {
		return nil, fmt.Errorf("%w: %w", err, ErrCorrupt)
	}
	if sb.EndOfFile < SuperblockSize {
		return nil, fmt.Errorf("end of file %d inside superblock: %w", sb.EndOfFile, ErrCorrupt)
	}

	return sb, nil
}

// ReadSuperblock reads and validates the superblock at offset 0.
func ReadSuperblock(r io.ReaderAt) (*Superblock, error) {
	buf := utils.GetBuffer(SuperblockSize)
	defer utils.ReleaseBuffer(buf)

	n, err := r.ReadAt(buf, 0)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, utils.WrapError("superblock read failed", err)
	}
	if n < SuperblockSize {
		return nil, fmt.Errorf("file too small to contain a superblock: %w", ErrCorrupt)
	}

	return DecodeSuperblock(buf)
}

// WriteOpen reports whether the file was left open for writing.
func (sb *Superblock) WriteOpen() bool {
	return sb.Flags&FlagWriteOpen != 0
}
