package h5store

import (
	"errors"
	"testing"

	"github.com/VictoriaMetrics/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cacheHarness struct {
	cache   *chunkCache
	written []uint64 // leading scaled coordinate of each write-back
	fail    error
}

func newCacheHarness(t *testing.T, cfg CacheConfig) *cacheHarness {
	t.Helper()
	h := &cacheHarness{}
	c, err := newChunkCache(cfg, func(ch *cachedChunk) error {
		if h.fail != nil {
			return h.fail
		}
		h.written = append(h.written, ch.scaled[0])
		ch.dirty = false
		return nil
	}, newStoreMetrics(metrics.NewSet(), "cache.h5"))
	require.NoError(t, err)
	h.cache = c
	return h
}

// add inserts a dirty 96-byte chunk for frame i with linear index i.
func (h *cacheHarness) add(t *testing.T, i uint64) *cachedChunk {
	t.Helper()
	scaled := []uint64{i, 0, 0}
	ch := &cachedChunk{key: chunkKey(scaled), scaled: scaled, data: make([]byte, 96), dirty: true}
	require.True(t, h.cache.accepts(96))
	require.NoError(t, h.cache.insert(ch, i))
	return ch
}

func (h *cacheHarness) cached(i uint64) bool {
	_, ok := h.cache.get(chunkKey([]uint64{i, 0, 0}))
	return ok
}

func TestCacheConfig_Validate(t *testing.T) {
	require.NoError(t, DefaultCacheConfig().Validate())
	require.NoError(t, CacheConfig{Slots: 3, Bytes: 192, W0: 1}.Validate())
	require.Error(t, CacheConfig{Slots: -1}.Validate())
	require.Error(t, CacheConfig{Slots: 3, W0: -0.1}.Validate())
	require.Error(t, CacheConfig{Slots: 3, W0: 1.01}.Validate())
}

func TestChunkCache_Disabled(t *testing.T) {
	for _, cfg := range []CacheConfig{{Slots: 0, Bytes: 1 << 20}, {Slots: 8, Bytes: 0}} {
		h := newCacheHarness(t, cfg)
		assert.False(t, h.cache.accepts(96))
		assert.Zero(t, h.cache.count())
		require.NoError(t, h.cache.flush())
		h.cache.purge()
	}
}

func TestChunkCache_ChunkLargerThanBudget(t *testing.T) {
	h := newCacheHarness(t, CacheConfig{Slots: 3, Bytes: 192, W0: 1})
	assert.True(t, h.cache.accepts(192))
	assert.False(t, h.cache.accepts(193))
}

func TestChunkCache_SlotCollision(t *testing.T) {
	h := newCacheHarness(t, CacheConfig{Slots: 3, Bytes: 1 << 20, W0: 0})

	h.add(t, 0)
	h.add(t, 1)
	h.add(t, 3) // slot 0 again

	assert.False(t, h.cached(0))
	assert.True(t, h.cached(1))
	assert.True(t, h.cached(3))
	assert.Equal(t, []uint64{0}, h.written, "dirty occupant written back")
	assert.Equal(t, uint64(1), h.cache.m.evictions.Get())
}

func TestChunkCache_SameChunkReinsertKeepsSlot(t *testing.T) {
	h := newCacheHarness(t, CacheConfig{Slots: 3, Bytes: 1 << 20, W0: 0})
	h.add(t, 4)
	ch, ok := h.cache.get(chunkKey([]uint64{4, 0, 0}))
	require.True(t, ok)
	assert.Equal(t, uint64(1), ch.slot)
	assert.Equal(t, 1, h.cache.count())
}

func TestChunkCache_ByteBudget(t *testing.T) {
	h := newCacheHarness(t, CacheConfig{Slots: 16, Bytes: 192, W0: 0})

	h.add(t, 0)
	h.add(t, 1)
	assert.Equal(t, uint64(192), h.cache.used)

	// Touch 0 so 1 becomes least recently used.
	_, ok := h.cache.get(chunkKey([]uint64{0, 0, 0}))
	require.True(t, ok)

	h.add(t, 2)
	assert.True(t, h.cached(0))
	assert.False(t, h.cached(1))
	assert.True(t, h.cached(2))
	assert.Equal(t, []uint64{1}, h.written)
	assert.Equal(t, uint64(192), h.cache.used)
}

func TestChunkCache_W0PrefersFullChunks(t *testing.T) {
	tests := []struct {
		name    string
		w0      float64
		evicted uint64
	}{
		{"w0 zero evicts LRU", 0, 0},
		{"w0 one evicts full chunk", 1, 1},
		{"w0 half reaches rank 1", 0.5, 1},
		{"w0 small stays at LRU", 0.4, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newCacheHarness(t, CacheConfig{Slots: 16, Bytes: 3 * 96, W0: tt.w0})
			h.add(t, 0)
			h.add(t, 1).full = true
			h.add(t, 2)

			h.add(t, 3)
			assert.False(t, h.cached(tt.evicted), "chunk %d evicted", tt.evicted)
			assert.Equal(t, []uint64{tt.evicted}, h.written)
			assert.Equal(t, 3, h.cache.count())
		})
	}
}

func TestChunkCache_CleanChunkNotWritten(t *testing.T) {
	h := newCacheHarness(t, CacheConfig{Slots: 1, Bytes: 1 << 20, W0: 0})
	h.add(t, 0).dirty = false
	h.add(t, 1)
	assert.Empty(t, h.written)
	assert.False(t, h.cached(0))
}

func TestChunkCache_WriteBackFailureKeepsChunk(t *testing.T) {
	h := newCacheHarness(t, CacheConfig{Slots: 1, Bytes: 1 << 20, W0: 0})
	h.add(t, 0)

	h.fail = errors.New("disk full")
	scaled := []uint64{1, 0, 0}
	err := h.cache.insert(&cachedChunk{key: chunkKey(scaled), scaled: scaled, data: make([]byte, 96)}, 1)
	require.ErrorIs(t, err, h.fail)
	assert.True(t, h.cached(0))
	assert.False(t, h.cached(1))
}

func TestChunkCache_FlushKeepsChunks(t *testing.T) {
	h := newCacheHarness(t, CacheConfig{Slots: 8, Bytes: 1 << 20, W0: 0})
	h.add(t, 0)
	h.add(t, 1).dirty = false
	h.add(t, 2)

	require.NoError(t, h.cache.flush())
	assert.Equal(t, []uint64{0, 2}, h.written)
	assert.Equal(t, 3, h.cache.count())

	require.NoError(t, h.cache.flush())
	assert.Len(t, h.written, 2, "nothing dirty left")

	h.cache.purge()
	assert.Zero(t, h.cache.count())
	assert.Zero(t, h.cache.used)
}

func TestChunkCache_Reslot(t *testing.T) {
	h := newCacheHarness(t, CacheConfig{Slots: 4, Bytes: 1 << 20, W0: 0})
	h.add(t, 0)
	h.add(t, 1)

	// A grid change maps both chunks to slot 2; the older one goes.
	require.NoError(t, h.cache.reslot(func([]uint64) uint64 { return 6 }))
	assert.False(t, h.cached(0))
	assert.True(t, h.cached(1))
	assert.Equal(t, []uint64{0}, h.written)

	ch, _ := h.cache.get(chunkKey([]uint64{1, 0, 0}))
	assert.Equal(t, uint64(2), ch.slot)
}
