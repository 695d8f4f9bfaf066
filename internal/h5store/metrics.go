package h5store

import (
	"fmt"
	"path/filepath"

	"github.com/VictoriaMetrics/metrics"
)

// storeMetrics are the counters of one file. They back CacheStats.
type storeMetrics struct {
	hits       *metrics.Counter
	misses     *metrics.Counter
	evictions  *metrics.Counter
	writeBacks *metrics.Counter
	bypasses   *metrics.Counter
	chunkBytes *metrics.Counter // stored bytes written by write-backs
	indexNodes *metrics.Counter
}

func newStoreMetrics(set *metrics.Set, path string) *storeMetrics {
	label := fmt.Sprintf(`{file=%q}`, filepath.Base(path))
	counter := func(name string) *metrics.Counter {
		return set.GetOrCreateCounter("h5store_" + name + label)
	}
	return &storeMetrics{
		hits:       counter("chunk_cache_hits_total"),
		misses:     counter("chunk_cache_misses_total"),
		evictions:  counter("chunk_cache_evictions_total"),
		writeBacks: counter("chunk_writebacks_total"),
		bypasses:   counter("chunk_cache_bypasses_total"),
		chunkBytes: counter("chunk_stored_bytes_total"),
		indexNodes: counter("chunk_index_nodes_written_total"),
	}
}

// CacheStats is a snapshot of the chunk cache counters of a file.
type CacheStats struct {
	Hits       uint64 // chunk lookups served from the cache
	Misses     uint64 // chunk lookups that loaded or created the chunk
	Evictions  uint64 // chunks removed from the cache to make room
	WriteBacks uint64 // chunks written to the file
	Bypasses   uint64 // chunks accessed without caching
}

func (m *storeMetrics) snapshot() CacheStats {
	return CacheStats{
		Hits:       m.hits.Get(),
		Misses:     m.misses.Get(),
		Evictions:  m.evictions.Get(),
		WriteBacks: m.writeBacks.Get(),
		Bypasses:   m.bypasses.Get(),
	}
}
