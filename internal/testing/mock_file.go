// Package testing provides test utilities for the store packages.
package testing

import (
	"errors"
	"io"
)

// MockFile is an in-memory file for testing code that allocates, writes and
// reads back file space. It implements io.ReaderAt plus the Allocate and
// WriteAtAddress methods of the file writer.
type MockFile struct {
	data []byte
}

// NewMockFile creates a mock file whose first allocation starts at startAddr.
func NewMockFile(startAddr uint64) *MockFile {
	return &MockFile{data: make([]byte, startAddr)}
}

// NewMockReaderAt creates a mock file holding data.
func NewMockReaderAt(data []byte) *MockFile {
	return &MockFile{data: data}
}

// Allocate appends size zero bytes and returns their address.
func (m *MockFile) Allocate(size uint64) (uint64, error) {
	addr := uint64(len(m.data))
	m.data = append(m.data, make([]byte, size)...)
	return addr, nil
}

// WriteAtAddress writes data at address, growing the file if needed.
func (m *MockFile) WriteAtAddress(data []byte, address uint64) error {
	end := address + uint64(len(data))
	if end > uint64(len(m.data)) {
		m.data = append(m.data, make([]byte, end-uint64(len(m.data)))...)
	}
	copy(m.data[address:], data)
	return nil
}

// ReadAt implements io.ReaderAt. Reads past the end return io.EOF.
func (m *MockFile) ReadAt(p []byte, off int64) (n int, err error) {
	if off < 0 {
		return 0, errors.New("negative offset")
	}
	if off >= int64(len(m.data)) {
		return 0, io.EOF
	}

	n = copy(p, m.data[off:])
	if n < len(p) {
		err = io.EOF
	}
	return
}

// Bytes returns the file contents. Changes to the slice change the file.
func (m *MockFile) Bytes() []byte { return m.data }

// Size returns the file length.
func (m *MockFile) Size() int64 { return int64(len(m.data)) }
