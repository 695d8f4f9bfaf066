package utils

import "sync"

// Scratch buffers for metadata blocks (superblock, dataset header, index
// nodes). Chunk payloads are owned by the chunk cache and never pooled.
var bufferPool = sync.Pool{
	New: func() interface{} {
		return make([]byte, 0, 4096)
	},
}

// GetBuffer returns a zero-length-extended slice of exactly size bytes.
// The contents are not cleared.
func GetBuffer(size int) []byte {
	buf := bufferPool.Get().([]byte)
	if cap(buf) < size {
		return make([]byte, size, size*2)
	}
	return buf[:size]
}

// ReleaseBuffer returns a buffer to the pool. The caller must not use buf afterwards.
func ReleaseBuffer(buf []byte) {
	//nolint:staticcheck // SA6002: slice descriptor copy is acceptable for sync.Pool
	bufferPool.Put(buf[:0])
}
