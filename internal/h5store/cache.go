package h5store

import (
	"encoding/binary"
	"fmt"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// CacheConfig holds the raw-data chunk cache parameters of a dataset.
type CacheConfig struct {
	// Slots is the number of hash slots. A chunk goes to slot
	// (linear chunk index mod Slots); a different chunk in that slot is
	// evicted first. Zero disables the cache.
	Slots int

	// Bytes is the byte budget. Chunks are evicted until a new one fits;
	// a chunk larger than the budget is never cached.
	Bytes uint64

	// W0 is the preemption weight in [0,1]. When choosing a victim, a chunk
	// that has been fully read or written is preferred over the least
	// recently used one if its LRU rank is within W0*(len-1). With 0 the
	// LRU chunk is always chosen.
	W0 float64
}

// DefaultCacheConfig returns the usual HDF5 defaults: 521 slots, 1 MiB, 0.75.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{Slots: 521, Bytes: 1 << 20, W0: 0.75}
}

// Validate checks the parameter ranges.
func (c CacheConfig) Validate() error {
	if c.Slots < 0 {
		return fmt.Errorf("chunk cache slots %d is negative", c.Slots)
	}
	if c.W0 < 0 || c.W0 > 1 {
		return fmt.Errorf("chunk cache w0 %g out of range [0,1]", c.W0)
	}
	return nil
}

// cachedChunk is one chunk held in memory, decoded (filters removed).
type cachedChunk struct {
	key     string
	scaled  []uint64
	slot    uint64
	data    []byte
	dirty   bool
	full    bool // every valid element was covered by one read or write
	touched uint64
	opSeq   uint64 // operation that last reset touched
}

func chunkKey(scaled []uint64) string {
	buf := make([]byte, 0, len(scaled)*8)
	for _, s := range scaled {
		buf = binary.LittleEndian.AppendUint64(buf, s)
	}
	return string(buf)
}

// chunkCache is the raw-data chunk cache of a dataset.
//
// Recency is kept by a simplelru.LRU sized to the slot count; the slot table
// and the byte budget are enforced here before every insert, so the LRU never
// evicts on its own.
type chunkCache struct {
	cfg   CacheConfig
	lru   *simplelru.LRU[string, *cachedChunk]
	slots map[uint64]string
	used  uint64

	writeBack func(*cachedChunk) error
	m         *storeMetrics
}

func newChunkCache(cfg CacheConfig, writeBack func(*cachedChunk) error, m *storeMetrics) (*chunkCache, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &chunkCache{
		cfg:       cfg,
		slots:     make(map[uint64]string),
		writeBack: writeBack,
		m:         m,
	}
	if cfg.Slots == 0 || cfg.Bytes == 0 {
		return c, nil
	}

	lru, err := simplelru.NewLRU[string, *cachedChunk](cfg.Slots, c.onEvict)
	if err != nil {
		return nil, fmt.Errorf("chunk cache: %w", err)
	}
	c.lru = lru
	return c, nil
}

func (c *chunkCache) onEvict(_ string, ch *cachedChunk) {
	c.used -= uint64(len(ch.data))
	if c.slots[ch.slot] == ch.key {
		delete(c.slots, ch.slot)
	}
}

// accepts reports whether a chunk of size bytes can be cached at all.
func (c *chunkCache) accepts(size uint64) bool {
	return c.lru != nil && size <= c.cfg.Bytes
}

func (c *chunkCache) get(key string) (*cachedChunk, bool) {
	if c.lru == nil {
		return nil, false
	}
	return c.lru.Get(key)
}

func (c *chunkCache) count() int {
	if c.lru == nil {
		return 0
	}
	return c.lru.Len()
}

// insert caches ch under linear chunk index idx, evicting whatever the slot
// and the byte budget require. The caller has checked accepts.
func (c *chunkCache) insert(ch *cachedChunk, idx uint64) error {
	ch.slot = idx % uint64(c.cfg.Slots) //nolint:gosec // G115: Slots > 0 here

	if occupant, ok := c.slots[ch.slot]; ok && occupant != ch.key {
		if err := c.evict(occupant); err != nil {
			return err
		}
	}

	size := uint64(len(ch.data))
	for c.used+size > c.cfg.Bytes && c.lru.Len() > 0 {
		if err := c.evict(c.victim()); err != nil {
			return err
		}
	}

	c.lru.Add(ch.key, ch)
	c.slots[ch.slot] = ch.key
	c.used += size
	return nil
}

// victim picks the chunk to evict: the least recently used fully accessed
// chunk within the w0 window, otherwise the least recently used chunk.
func (c *chunkCache) victim() string {
	keys := c.lru.Keys() // oldest first
	window := int(c.cfg.W0 * float64(len(keys)-1))
	for _, key := range keys[:window+1] {
		if ch, ok := c.lru.Peek(key); ok && ch.full {
			return key
		}
	}
	return keys[0]
}

// evict writes key back if dirty and drops it. A failed write-back leaves the
// chunk cached and dirty.
func (c *chunkCache) evict(key string) error {
	ch, ok := c.lru.Peek(key)
	if !ok {
		return nil
	}
	if ch.dirty {
		if err := c.writeBack(ch); err != nil {
			return err
		}
	}
	c.lru.Remove(key)
	c.m.evictions.Inc()
	return nil
}

// flush writes back every dirty chunk, oldest first, and keeps them cached.
func (c *chunkCache) flush() error {
	if c.lru == nil {
		return nil
	}
	for _, key := range c.lru.Keys() {
		ch, _ := c.lru.Peek(key)
		if ch == nil || !ch.dirty {
			continue
		}
		if err := c.writeBack(ch); err != nil {
			return err
		}
	}
	return nil
}

// reslot recomputes slots after the extent changed the chunk grid. Of two
// chunks landing in one slot the less recently used is evicted.
func (c *chunkCache) reslot(index func(scaled []uint64) uint64) error {
	if c.lru == nil {
		return nil
	}

	keys := c.lru.Keys()
	clear(c.slots)
	for i := len(keys) - 1; i >= 0; i-- {
		ch, _ := c.lru.Peek(keys[i])
		slot := index(ch.scaled) % uint64(c.cfg.Slots) //nolint:gosec // G115: Slots > 0 here
		if _, taken := c.slots[slot]; taken {
			if err := c.evict(keys[i]); err != nil {
				return err
			}
			continue
		}
		ch.slot = slot
		c.slots[slot] = ch.key
	}
	return nil
}

// purge drops every chunk without writing anything. flush first.
func (c *chunkCache) purge() {
	if c.lru == nil {
		return
	}
	c.lru.Purge()
	clear(c.slots)
	c.used = 0
}
