package h5store

import (
	"encoding/binary"
	"fmt"
	"math"
	"slices"

	"github.com/scigolib/missingframes/internal/core"
	"github.com/scigolib/missingframes/internal/structures"
	"github.com/scigolib/missingframes/internal/utils"
	"github.com/scigolib/missingframes/internal/writer"
)

// Dataset is a handle to the dataset of a file. Several handles may be open
// at once; they share the dataset's chunk cache and index.
type Dataset struct {
	f      *File
	st     *datasetState
	closed bool
}

// datasetState is the in-memory dataset shared by all handles.
type datasetState struct {
	f          *File
	header     *core.DatasetHeader
	headerAddr uint64
	dirty      bool // header changed since written

	layout    *writer.ChunkLayout
	pipeline  *writer.FilterPipeline
	index     *structures.ChunkIndex
	cache     *chunkCache
	fillChunk []byte
	opSeq     uint64
}

// ChunkInfo describes a stored chunk.
type ChunkInfo struct {
	Offset     []uint64 // element coordinates of the chunk's first element
	Address    uint64   // file address of the stored bytes
	Size       uint32   // stored (filtered) size
	FilterMask uint32   // bit i set: filter i was skipped for this chunk
}

// CreateDataset creates the file's dataset. A store file holds exactly one
// dataset; a second call fails with ErrDatasetExists.
//
// dims is the initial extent and may contain zeros when WithMaxDims allows
// growth. WithChunkDims is required.
//
// Example:
//
//	ds, err := f.CreateDataset("ExtendibleArray", h5store.Int32, []uint64{0, 4, 6},
//	    h5store.WithMaxDims([]uint64{h5store.Unlimited, 4, 6}),
//	    h5store.WithChunkDims([]uint64{1, 4, 6}),
//	    h5store.WithFillValue(0),
//	    h5store.WithChunkCache(3, 192, 1.0))
func (f *File) CreateDataset(name string, dtype Datatype, dims []uint64, opts ...DatasetOption) (*Dataset, error) {
	if err := f.writable(); err != nil {
		return nil, utils.WrapError("dataset create failed", err)
	}
	if f.dset != nil || f.sb.DatasetHeader != core.UndefinedAddress {
		return nil, utils.WrapErrorf(ErrDatasetExists, "create dataset %q", name)
	}

	cfg := newDatasetConfig(opts)
	if err := dtype.Validate(); err != nil {
		return nil, utils.WrapError("dataset create failed", err)
	}

	space, err := core.NewDataspace(dims, cfg.maxDims)
	if err != nil {
		return nil, utils.WrapError("invalid dataspace", err)
	}
	if err := validateChunkDims(cfg.chunkDims, space); err != nil {
		return nil, utils.WrapError("invalid chunk dimensions", err)
	}

	filters := make([]writer.Filter, 0, len(cfg.filters))
	for _, fname := range cfg.filters {
		flt, err := writer.FilterByName(fname, dtype.Size())
		if err != nil {
			return nil, utils.WrapError("invalid filter", err)
		}
		filters = append(filters, flt)
	}
	pipeline, err := writer.NewFilterPipeline(filters...)
	if err != nil {
		return nil, utils.WrapError("invalid filter pipeline", err)
	}

	fill := binary.LittleEndian.AppendUint32(nil, uint32(cfg.fill)) //nolint:gosec // G115: two's complement bit pattern

	header := &core.DatasetHeader{
		Name:       name,
		Datatype:   dtype,
		Space:      space,
		ChunkDims:  slices.Clone(cfg.chunkDims),
		FillValue:  fill,
		Pipeline:   pipeline.EncodePipeline(),
		IndexRoot:  core.UndefinedAddress,
		IndexCount: 0,
	}
	enc, err := header.Encode()
	if err != nil {
		return nil, utils.WrapError("dataset header encode failed", err)
	}

	addr, err := f.backend.Allocate(uint64(len(enc)))
	if err != nil {
		return nil, utils.WrapError("dataset header allocation failed", err)
	}
	if err := f.backend.WriteAtAddress(enc, addr); err != nil {
		return nil, utils.WrapError("dataset header write failed", err)
	}

	index, err := structures.NewChunkIndex(space.Rank(), f.sb.IstoreK)
	if err != nil {
		return nil, utils.WrapError("chunk index create failed", err)
	}

	st, err := newDatasetState(f, header, addr, pipeline, index, cfg.cache)
	if err != nil {
		return nil, err
	}

	f.sb.DatasetHeader = addr
	if err := f.writeSuperblock(); err != nil {
		return nil, utils.WrapError("superblock write failed", err)
	}
	f.dset = st

	f.log.Debug("Created dataset", "name", name, "space", space, "chunk", cfg.chunkDims,
		"filters", pipeline.Names(), "cache_slots", cfg.cache.Slots, "cache_bytes", cfg.cache.Bytes, "w0", cfg.cache.W0)
	return f.newHandle(), nil
}

// validateChunkDims requires one positive chunk dimension per dataset
// dimension, none larger than a bounded maximum.
func validateChunkDims(chunkDims []uint64, space core.Dataspace) error {
	if chunkDims == nil {
		return fmt.Errorf("chunked layout required: use WithChunkDims")
	}
	if len(chunkDims) != space.Rank() {
		return fmt.Errorf("chunk rank %d != dataset rank %d", len(chunkDims), space.Rank())
	}
	for i, c := range chunkDims {
		if c == 0 {
			return fmt.Errorf("chunk dimension %d is zero", i)
		}
		if limit := space.MaxDims[i]; limit != Unlimited && c > limit {
			return fmt.Errorf("chunk dimension %d: %d exceeds max dimension %d", i, c, limit)
		}
	}
	return nil
}

// OpenDataset opens the file's dataset by name. Only WithChunkCache applies;
// it replaces the cache of the shared dataset state after writing back its
// dirty chunks.
func (f *File) OpenDataset(name string, opts ...DatasetOption) (*Dataset, error) {
	if err := f.usable(); err != nil {
		return nil, utils.WrapError("dataset open failed", err)
	}
	cfg := newDatasetConfig(opts)

	if f.dset != nil {
		if f.dset.header.Name != name {
			return nil, utils.WrapErrorf(ErrDatasetNotFound, "open dataset %q", name)
		}
		if cfg.cacheSet {
			if err := f.dset.setCache(cfg.cache); err != nil {
				return nil, err
			}
		}
		return f.newHandle(), nil
	}

	if f.sb.DatasetHeader == core.UndefinedAddress {
		return nil, utils.WrapErrorf(ErrDatasetNotFound, "open dataset %q", name)
	}

	header, err := core.ReadDatasetHeader(f.backend, f.sb.DatasetHeader)
	if err != nil {
		return nil, utils.WrapError("dataset header read failed", err)
	}
	if header.Name != name {
		return nil, utils.WrapErrorf(ErrDatasetNotFound, "open dataset %q (file holds %q)", name, header.Name)
	}

	pipeline, _, err := writer.DecodePipeline(header.Pipeline)
	if err != nil {
		return nil, utils.WrapError("filter pipeline decode failed", fmt.Errorf("%w: %w", err, ErrCorrupt))
	}

	index, err := structures.ReadChunkIndex(f.backend, header.IndexRoot, header.Space.Rank(), f.sb.IstoreK)
	if err != nil {
		return nil, utils.WrapError("chunk index read failed", err)
	}
	if uint64(index.Len()) != header.IndexCount {
		return nil, utils.WrapError("chunk index read failed",
			fmt.Errorf("index holds %d chunks, header records %d: %w", index.Len(), header.IndexCount, ErrCorrupt))
	}

	st, err := newDatasetState(f, header, f.sb.DatasetHeader, pipeline, index, cfg.cache)
	if err != nil {
		return nil, err
	}
	f.dset = st

	f.log.Debug("Opened dataset", "name", name, "space", header.Space, "chunks", index.Len(),
		"cache_slots", cfg.cache.Slots, "cache_bytes", cfg.cache.Bytes, "w0", cfg.cache.W0)
	return f.newHandle(), nil
}

func newDatasetState(f *File, header *core.DatasetHeader, addr uint64, pipeline *writer.FilterPipeline,
	index *structures.ChunkIndex, cacheCfg CacheConfig) (*datasetState, error) {
	layout, err := writer.NewChunkLayout(header.ChunkDims, header.Datatype.Size())
	if err != nil {
		return nil, utils.WrapError("invalid chunk layout", err)
	}

	st := &datasetState{
		f:          f,
		header:     header,
		headerAddr: addr,
		layout:     layout,
		pipeline:   pipeline,
		index:      index,
	}
	st.fillChunk = layout.Fill(header.FillValue)

	st.cache, err = newChunkCache(cacheCfg, st.writeBack, f.m)
	if err != nil {
		return nil, utils.WrapError("invalid chunk cache", err)
	}
	return st, nil
}

func (f *File) newHandle() *Dataset {
	d := &Dataset{f: f, st: f.dset}
	f.handles[d] = struct{}{}
	return d
}

// usable checks the handle, not the file: under CloseWeak a handle stays
// usable after File.Close until it is closed itself.
func (d *Dataset) usable() error {
	if d.closed || d.f.closed {
		return ErrClosed
	}
	return nil
}

func (d *Dataset) writable() error {
	if err := d.usable(); err != nil {
		return err
	}
	if d.f.backend.ReadOnly() {
		return ErrReadOnly
	}
	return nil
}

// Name returns the dataset name.
func (d *Dataset) Name() string { return d.st.header.Name }

// Datatype returns the element type.
func (d *Dataset) Datatype() Datatype { return d.st.header.Datatype }

// Space returns a copy of the current dataspace.
func (d *Dataset) Space() Dataspace { return d.st.header.Space.Clone() }

// Extent returns a copy of the current dimensions.
func (d *Dataset) Extent() []uint64 { return slices.Clone(d.st.header.Space.Dims) }

// ChunkDims returns a copy of the chunk dimensions.
func (d *Dataset) ChunkDims() []uint64 { return d.st.layout.ChunkDims() }

// FillValue returns the value of elements never written.
func (d *Dataset) FillValue() int32 {
	return int32(binary.LittleEndian.Uint32(d.st.header.FillValue)) //nolint:gosec // G115: two's complement bit pattern
}

// Filters returns the names of the chunk filters in application order.
func (d *Dataset) Filters() []string { return d.st.pipeline.Names() }

// NumChunks returns the number of allocated chunks, including cached chunks
// not yet written.
func (d *Dataset) NumChunks() int {
	n := d.st.index.Len()
	if d.st.cache.lru != nil {
		for _, key := range d.st.cache.lru.Keys() {
			ch, _ := d.st.cache.lru.Peek(key)
			if _, stored := d.st.index.Get(ch.scaled); !stored && ch.dirty {
				n++
			}
		}
	}
	return n
}

// SetExtent changes the current dimensions. The rank must match, no dimension
// may exceed its maximum (ErrOutOfBounds) and none may shrink (ErrShrink).
// New elements read as the fill value until written.
func (d *Dataset) SetExtent(dims []uint64) error {
	if err := d.writable(); err != nil {
		return utils.WrapError("set extent failed", err)
	}
	return d.st.setExtent(dims)
}

func (st *datasetState) setExtent(dims []uint64) error {
	space, err := st.header.Space.Resize(dims)
	if err != nil {
		return utils.WrapErrorf(err, "set extent %v", dims)
	}
	if slices.Equal(space.Dims, st.header.Space.Dims) {
		return nil
	}

	st.header.Space = space
	st.dirty = true

	// Slot assignment follows the chunk grid, which just changed.
	return st.cache.reslot(func(scaled []uint64) uint64 {
		return st.layout.LinearIndex(scaled, space.Dims)
	})
}

// Write stores data into the selected elements, in row-major selection order.
// len(data) must equal the number of selected elements.
func (d *Dataset) Write(sel Hyperslab, data []int32) error {
	if err := d.writable(); err != nil {
		return utils.WrapError("dataset write failed", err)
	}
	return d.st.write(&sel, data)
}

// Read fills buf from the selected elements, in row-major selection order.
// len(buf) must equal the number of selected elements. Elements never written
// read as the fill value.
func (d *Dataset) Read(sel Hyperslab, buf []int32) error {
	if err := d.usable(); err != nil {
		return utils.WrapError("dataset read failed", err)
	}
	return d.st.read(&sel, buf)
}

func (st *datasetState) checkSelection(sel *Hyperslab, n int) error {
	if err := sel.Validate(st.header.Space.Dims); err != nil {
		return utils.WrapError("invalid selection", err)
	}
	elems, err := sel.Elements()
	if err != nil {
		return utils.WrapError("invalid selection", err)
	}
	if uint64(n) != elems { //nolint:gosec // G115: slice length
		return fmt.Errorf("buffer holds %d elements, selection has %d", n, elems)
	}
	return nil
}

func (st *datasetState) write(sel *Hyperslab, data []int32) error {
	if err := st.checkSelection(sel, len(data)); err != nil {
		return err
	}

	op := st.beginOp(true)
	i := 0
	err := sel.Each(func(coord []uint64) error {
		ch, err := op.chunkFor(coord)
		if err != nil {
			return err
		}
		off := st.layout.ByteOffset(coord)
		binary.LittleEndian.PutUint32(ch.data[off:], uint32(data[i])) //nolint:gosec // G115: two's complement bit pattern
		ch.dirty = true
		op.touch(ch)
		i++
		return nil
	})
	if endErr := op.end(); err == nil {
		err = endErr
	}
	if err != nil {
		return utils.WrapError("dataset write failed", err)
	}
	return nil
}

func (st *datasetState) read(sel *Hyperslab, buf []int32) error {
	if err := st.checkSelection(sel, len(buf)); err != nil {
		return err
	}

	op := st.beginOp(false)
	i := 0
	err := sel.Each(func(coord []uint64) error {
		ch, err := op.chunkFor(coord)
		if err != nil {
			return err
		}
		off := st.layout.ByteOffset(coord)
		buf[i] = int32(binary.LittleEndian.Uint32(ch.data[off:])) //nolint:gosec // G115: two's complement bit pattern
		op.touch(ch)
		i++
		return nil
	})
	if endErr := op.end(); err == nil {
		err = endErr
	}
	if err != nil {
		return utils.WrapError("dataset read failed", err)
	}
	return nil
}

// chunkOp walks the chunks of one Read or Write. It holds one chunk at a
// time; a chunk that is not cached is written back when the walk moves on.
type chunkOp struct {
	st     *datasetState
	write  bool
	seq    uint64
	scaled []uint64
	cur    *cachedChunk
	cached bool
	valid  uint64
}

func (st *datasetState) beginOp(write bool) *chunkOp {
	st.opSeq++
	return &chunkOp{
		st:     st,
		write:  write,
		seq:    st.opSeq,
		scaled: make([]uint64, st.layout.Rank()),
	}
}

func (op *chunkOp) chunkFor(coord []uint64) (*cachedChunk, error) {
	changed := op.st.layout.Scaled(coord, op.scaled)
	if op.cur != nil && !changed {
		return op.cur, nil
	}

	if err := op.release(); err != nil {
		return nil, err
	}

	ch, cached, err := op.st.acquire(op.scaled, op.write)
	if err != nil {
		return nil, err
	}
	if ch.opSeq != op.seq {
		ch.opSeq = op.seq
		ch.touched = 0
	}
	op.cur, op.cached = ch, cached
	op.valid = op.st.layout.ValidElements(op.scaled, op.st.header.Space.Dims)
	return ch, nil
}

// touch counts an element access; a chunk whose valid elements were all
// accessed by this operation becomes a preferred eviction victim.
func (op *chunkOp) touch(ch *cachedChunk) {
	ch.touched++
	if ch.touched >= op.valid {
		ch.full = true
	}
}

func (op *chunkOp) release() error {
	ch := op.cur
	op.cur = nil
	if ch == nil || op.cached || !ch.dirty {
		return nil
	}
	return op.st.writeBack(ch)
}

func (op *chunkOp) end() error {
	return op.release()
}

// acquire returns the chunk at scaled and whether it lives in the cache.
// A read of a chunk that was never allocated gets the fill chunk, uncached.
func (st *datasetState) acquire(scaled []uint64, write bool) (*cachedChunk, bool, error) {
	key := chunkKey(scaled)
	if ch, ok := st.cache.get(key); ok {
		st.f.m.hits.Inc()
		return ch, true, nil
	}
	st.f.m.misses.Inc()

	rec, allocated := st.index.Get(scaled)
	if !allocated && !write {
		return &cachedChunk{key: key, scaled: slices.Clone(scaled), data: st.fillChunk}, false, nil
	}

	data, err := st.load(rec, allocated)
	if err != nil {
		return nil, false, err
	}
	ch := &cachedChunk{key: key, scaled: slices.Clone(scaled), data: data}

	if !st.cache.accepts(uint64(len(data))) {
		st.f.m.bypasses.Inc()
		return ch, false, nil
	}
	if err := st.cache.insert(ch, st.layout.LinearIndex(scaled, st.header.Space.Dims)); err != nil {
		return nil, false, err
	}
	return ch, true, nil
}

// load returns the decoded bytes of a chunk: the stored bytes with filters
// removed, or a new fill chunk when nothing is stored.
func (st *datasetState) load(rec structures.ChunkRecord, allocated bool) ([]byte, error) {
	if !allocated {
		return st.layout.Fill(st.header.FillValue), nil
	}

	stored := make([]byte, rec.Size)
	if err := core.ReadFull(st.f.backend, stored, rec.Address); err != nil {
		return nil, utils.WrapErrorf(err, "read chunk %v", rec.Coords)
	}

	data, err := st.pipeline.Remove(stored, rec.FilterMask)
	if err != nil {
		return nil, utils.WrapErrorf(err, "decode chunk %v", rec.Coords)
	}
	if uint64(len(data)) != st.layout.ChunkBytes() {
		return nil, fmt.Errorf("chunk %v decodes to %d bytes, want %d: %w",
			rec.Coords, len(data), st.layout.ChunkBytes(), ErrCorrupt)
	}
	return data, nil
}

// writeBack filters a dirty chunk and writes it. A chunk is rewritten in
// place when the new stored size fits its current space, otherwise it moves
// to newly allocated space.
func (st *datasetState) writeBack(ch *cachedChunk) error {
	stored, mask, err := st.pipeline.Apply(ch.data)
	if err != nil {
		return utils.WrapErrorf(err, "encode chunk %v", ch.scaled)
	}
	size := uint64(len(stored))
	if size == 0 || size > math.MaxUint32 {
		return fmt.Errorf("chunk %v: stored size %d out of range", ch.scaled, size)
	}

	rec, exists := st.index.Get(ch.scaled)
	addr := rec.Address
	if !exists || size > uint64(rec.Size) {
		if addr, err = st.f.backend.Allocate(size); err != nil {
			return utils.WrapErrorf(err, "allocate chunk %v", ch.scaled)
		}
	}

	if err := st.f.backend.WriteAtAddress(stored, addr); err != nil {
		return utils.WrapErrorf(err, "write chunk %v", ch.scaled)
	}
	if err := st.index.Insert(structures.ChunkRecord{
		Coords:     ch.scaled,
		Size:       uint32(size),
		FilterMask: mask,
		Address:    addr,
	}); err != nil {
		return err
	}

	ch.dirty = false
	st.f.m.writeBacks.Inc()
	st.f.m.chunkBytes.Add(len(stored))
	st.f.log.Trace("Chunk written", "chunk", ch.scaled, "addr", addr, "size", size, "mask", mask)
	return nil
}

// flush writes back dirty chunks, then the chunk index and the header if they
// changed.
func (st *datasetState) flush() error {
	if err := st.cache.flush(); err != nil {
		return err
	}

	if st.index.Dirty() {
		stats, err := st.index.WriteTo(st.f.backend, st.f.backend)
		if err != nil {
			return utils.WrapError("chunk index write failed", err)
		}
		st.header.IndexRoot = stats.Root
		st.header.IndexCount = uint64(st.index.Len())
		st.dirty = true
		st.f.m.indexNodes.Add(stats.Nodes)
		st.f.log.Debug("Chunk index written", "chunks", st.index.Len(), "root", stats.Root,
			"levels", stats.Levels, "nodes", stats.Nodes, "istorek", st.index.K())
	}

	if st.dirty {
		enc, err := st.header.Encode()
		if err != nil {
			return utils.WrapError("dataset header encode failed", err)
		}
		if err := st.f.backend.WriteAtAddress(enc, st.headerAddr); err != nil {
			return utils.WrapError("dataset header write failed", err)
		}
		st.dirty = false
	}
	return nil
}

// setCache replaces the chunk cache.
func (st *datasetState) setCache(cfg CacheConfig) error {
	cache, err := newChunkCache(cfg, st.writeBack, st.f.m)
	if err != nil {
		return utils.WrapError("invalid chunk cache", err)
	}
	if err := st.cache.flush(); err != nil {
		return utils.WrapError("chunk cache flush failed", err)
	}
	st.cache.purge()
	st.cache = cache
	return nil
}

// ChunkInfo returns where the chunk containing the element at coord is
// stored. A cached dirty chunk is written first. ErrChunkNotAllocated is
// returned for chunks that were never written.
func (d *Dataset) ChunkInfo(coord []uint64) (ChunkInfo, error) {
	if err := d.usable(); err != nil {
		return ChunkInfo{}, err
	}
	st := d.st
	if len(coord) != st.layout.Rank() {
		return ChunkInfo{}, fmt.Errorf("coordinate rank %d != dataset rank %d", len(coord), st.layout.Rank())
	}

	scaled := make([]uint64, len(coord))
	st.layout.Scaled(coord, scaled)

	if ch, ok := st.cache.get(chunkKey(scaled)); ok && ch.dirty {
		if err := d.writable(); err != nil {
			return ChunkInfo{}, err
		}
		if err := st.writeBack(ch); err != nil {
			return ChunkInfo{}, utils.WrapError("chunk info failed", err)
		}
	}

	rec, ok := st.index.Get(scaled)
	if !ok {
		return ChunkInfo{}, utils.WrapErrorf(ErrChunkNotAllocated, "chunk at %v", coord)
	}
	return ChunkInfo{
		Offset:     st.layout.ChunkStart(scaled),
		Address:    rec.Address,
		Size:       rec.Size,
		FilterMask: rec.FilterMask,
	}, nil
}

// Flush writes the dataset's dirty chunks and metadata and syncs the file.
func (d *Dataset) Flush() error {
	if err := d.usable(); err != nil {
		return err
	}
	return d.f.flush()
}

// CacheStats returns the chunk cache counters of the file.
func (d *Dataset) CacheStats() CacheStats { return d.f.CacheStats() }

// Close releases the handle. Closing the last handle writes back the chunk
// cache; under CloseWeak it also completes a pending file close.
// It is safe to call Close multiple times.
func (d *Dataset) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	delete(d.f.handles, d)

	if len(d.f.handles) > 0 {
		return nil
	}
	if d.f.closing {
		return d.f.release()
	}
	if !d.f.backend.ReadOnly() && !d.f.closed {
		if err := d.st.cache.flush(); err != nil {
			return utils.WrapError("dataset close failed", err)
		}
	}
	return nil
}
