// Package writer provides the byte-level file access used by the chunk store:
// end-of-file space allocation, address-based reads and writes, a read-only
// memory-mapped backend, chunk geometry and the chunk filter pipeline.
package writer

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/edsrzf/mmap-go"
)

// ErrReadOnly is returned by every mutating call on a read-only backend.
var ErrReadOnly = errors.New("file is open read-only")

// Backend is the byte-addressed storage a store file lives on.
// FileWriter implements it for read-write access, MappedReader for read-only access.
type Backend interface {
	io.ReaderAt

	// WriteAtAddress writes data at addr. The range should come from Allocate.
	WriteAtAddress(data []byte, addr uint64) error

	// Allocate reserves size bytes at the end of the file.
	Allocate(size uint64) (uint64, error)

	// EndOfFile returns the address where the next allocation would start.
	EndOfFile() uint64

	// Flush commits written data to stable storage.
	Flush() error

	Close() error

	ReadOnly() bool
}

// FileWriter wraps an os.File opened for reading and writing.
// It provides:
// - Space allocation tracking (via Allocator)
// - Write-at-address operations
// - End-of-file tracking
// - Flush control
//
// Thread-safety: Not thread-safe. Caller must synchronize access.
type FileWriter struct {
	file      *os.File   // Underlying OS file
	allocator *Allocator // Space allocation tracker
}

// CreateMode specifies the file creation behavior.
type CreateMode int

const (
	// ModeTruncate creates a new file, truncating if it exists.
	// Equivalent to os.Create() behavior.
	ModeTruncate CreateMode = iota

	// ModeExclusive creates a new file, fails if it exists.
	// Equivalent to os.O_CREATE | os.O_EXCL.
	ModeExclusive
)

// NewFileWriter creates a writer for a new file.
//
// Parameters:
//   - filename: Path to file to create
//   - mode: Creation mode (truncate or exclusive)
//   - initialOffset: Starting address for allocations (the superblock size)
//
// The superblock at offset 0 is not tracked by the allocator.
func NewFileWriter(filename string, mode CreateMode, initialOffset uint64) (*FileWriter, error) {
	var osFile *os.File
	var err error

	switch mode {
	case ModeTruncate:
		osFile, err = os.Create(filename)

	case ModeExclusive:
		osFile, err = os.OpenFile(filename, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o666)

	default:
		return nil, fmt.Errorf("invalid create mode: %d", mode)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}

	return &FileWriter{
		file:      osFile,
		allocator: NewAllocator(initialOffset),
	}, nil
}

// OpenFileWriter opens an existing file for further writing.
// Allocations continue at endOfFile, the address recorded in the superblock.
func OpenFileWriter(filename string, endOfFile uint64) (*FileWriter, error) {
	osFile, err := os.OpenFile(filename, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}

	return &FileWriter{
		file:      osFile,
		allocator: NewAllocator(endOfFile),
	}, nil
}

// Allocate reserves a block of space at the end of the file.
// The space is not zeroed - caller must write data to the allocated block.
//
// Example:
//
//	addr, err := writer.Allocate(1024)
//	if err != nil {
//	    return err
//	}
//	err = writer.WriteAtAddress(data, addr)
func (w *FileWriter) Allocate(size uint64) (uint64, error) {
	if w.file == nil {
		return 0, fmt.Errorf("writer is closed")
	}

	return w.allocator.Allocate(size)
}

// WriteAt writes data at a specific offset in the file.
// Implements io.WriterAt.
func (w *FileWriter) WriteAt(data []byte, offset int64) (int, error) {
	if w.file == nil {
		return 0, fmt.Errorf("writer is closed")
	}

	if len(data) == 0 {
		return 0, nil
	}

	n, err := w.file.WriteAt(data, offset)
	if err != nil {
		return n, fmt.Errorf("write at address %d failed: %w", offset, err)
	}

	if n != len(data) {
		return n, fmt.Errorf("incomplete write at address %d: wrote %d of %d bytes", offset, n, len(data))
	}

	return n, nil
}

// WriteAtAddress writes data at a specific address (convenience method with uint64 address).
func (w *FileWriter) WriteAtAddress(data []byte, addr uint64) error {
	_, err := w.WriteAt(data, int64(addr)) //nolint:gosec // G115: addresses come from the allocator
	return err
}

// ReadAt reads data at a specific address.
// Implements io.ReaderAt.
func (w *FileWriter) ReadAt(buf []byte, addr int64) (int, error) {
	if w.file == nil {
		return 0, fmt.Errorf("writer is closed")
	}

	return w.file.ReadAt(buf, addr)
}

// EndOfFile returns the current end-of-file address.
func (w *FileWriter) EndOfFile() uint64 {
	return w.allocator.EndOfFile()
}

// Flush ensures all writes are committed to disk.
func (w *FileWriter) Flush() error {
	if w.file == nil {
		return fmt.Errorf("writer is closed")
	}

	return w.file.Sync()
}

// Close closes the underlying file.
// This does NOT automatically flush - call Flush() first if needed.
func (w *FileWriter) Close() error {
	if w.file == nil {
		return nil
	}

	err := w.file.Close()
	w.file = nil
	return err
}

// ReadOnly reports false: a FileWriter always accepts writes.
func (w *FileWriter) ReadOnly() bool { return false }

// Allocator returns the space allocator.
// Useful for debugging and testing allocation patterns.
func (w *FileWriter) Allocator() *Allocator {
	return w.allocator
}

// WriteAtWithAllocation allocates len(data) bytes and writes data there.
// Returns the address where data was written.
func (w *FileWriter) WriteAtWithAllocation(data []byte) (uint64, error) {
	if len(data) == 0 {
		return 0, fmt.Errorf("cannot write empty data")
	}

	addr, err := w.Allocate(uint64(len(data)))
	if err != nil {
		return 0, err
	}

	if err := w.WriteAtAddress(data, addr); err != nil {
		return 0, err
	}

	return addr, nil
}

// MappedReader is a read-only Backend over a memory-mapped file.
type MappedReader struct {
	file *os.File
	data mmap.MMap
}

// OpenMapped maps filename read-only.
func OpenMapped(filename string) (*MappedReader, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("stat %s: %w", filename, err)
	}
	if info.Size() == 0 {
		_ = f.Close()
		return nil, fmt.Errorf("file %s is empty", filename)
	}

	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("mmap %s: %w", filename, err)
	}

	return &MappedReader{file: f, data: m}, nil
}

// ReadAt copies from the mapping. Reads past the end return io.EOF.
func (r *MappedReader) ReadAt(buf []byte, off int64) (int, error) {
	if r.data == nil {
		return 0, fmt.Errorf("reader is closed")
	}
	if off < 0 {
		return 0, fmt.Errorf("negative offset %d", off)
	}
	if off >= int64(len(r.data)) {
		return 0, io.EOF
	}

	n := copy(buf, r.data[off:])
	if n < len(buf) {
		return n, io.EOF
	}
	return n, nil
}

// WriteAtAddress always fails with ErrReadOnly.
func (r *MappedReader) WriteAtAddress([]byte, uint64) error { return ErrReadOnly }

// Allocate always fails with ErrReadOnly.
func (r *MappedReader) Allocate(uint64) (uint64, error) { return 0, ErrReadOnly }

// EndOfFile returns the mapped length.
func (r *MappedReader) EndOfFile() uint64 { return uint64(len(r.data)) }

// Flush is a no-op for a read-only mapping.
func (r *MappedReader) Flush() error { return nil }

// ReadOnly reports true.
func (r *MappedReader) ReadOnly() bool { return true }

// Close unmaps the file and closes it.
func (r *MappedReader) Close() error {
	if r.data == nil {
		return nil
	}

	unmapErr := r.data.Unmap()
	closeErr := r.file.Close()
	r.data = nil
	r.file = nil

	if unmapErr != nil {
		return fmt.Errorf("unmap: %w", unmapErr)
	}
	return closeErr
}
