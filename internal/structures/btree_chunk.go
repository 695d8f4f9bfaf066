// Package structures holds the chunk index: an ordered map from scaled chunk
// coordinates to stored chunk locations, kept in memory as a B-tree and
// persisted as a tree of "TREE" nodes.
package structures

import (
	"encoding/binary"
	"fmt"
	"io"
	"slices"

	"github.com/google/btree"
	"github.com/zeebo/xxh3"

	"github.com/scigolib/missingframes/internal/core"
)

// Node format constants.
const (
	nodeSignature  = "TREE"
	nodeTypeChunk  = 1
	nodeHeaderSize = 28 // sig(4) type(1) level(1) reserved(2) entries(4) left(8) right(8)
	maxNodeLevel   = 64
)

// ChunkRecord locates one stored chunk.
type ChunkRecord struct {
	Coords     []uint64 // Scaled chunk coordinates
	Size       uint32   // Stored (filtered) size in bytes
	FilterMask uint32   // Bit i set: filter i was skipped for this chunk
	Address    uint64   // File address of the stored chunk
}

// ChunkIndex is the chunk index of one dataset.
//
// In memory it is a github.com/google/btree B-tree whose degree is the
// file's istore K. On disk it is written as a B-tree of nodes holding at most
// 2K entries each, built bottom-up from the sorted records when the file is
// flushed:
//
//   - Leaf nodes (level 0) hold chunk records; the child pointer of each
//     entry is the chunk address.
//   - Internal nodes hold the first key of each child node and its address.
//   - Every node ends with a sentinel key (all coordinates max uint64) and
//     an xxh3-64 checksum.
//
// Node layout (little-endian):
//
//	"TREE" | type(1)=1 | level(1) | reserved(2) | entries(4) | left(8) | right(8)
//	keys:     (entries+1) x [size(4) mask(4) coords(rank x 8)]
//	children: entries x address(8)
//	checksum(8)
//
// Thread-safety: Not thread-safe. The owning dataset serializes access.
type ChunkIndex struct {
	rank  int
	k     int
	tree  *btree.BTreeG[ChunkRecord]
	dirty bool
}

// NewChunkIndex creates an empty index for a dataset of the given rank.
// k is the istore K of the file (1..65535).
func NewChunkIndex(rank int, k uint32) (*ChunkIndex, error) {
	if rank <= 0 || rank > core.MaxRank {
		return nil, fmt.Errorf("chunk index rank %d out of range 1..%d", rank, core.MaxRank)
	}
	if err := core.ValidateIstoreK(k); err != nil {
		return nil, err
	}

	// google/btree needs degree >= 2; K=1 still bounds the on-disk nodes at 2 entries.
	degree := max(int(k), 2)

	return &ChunkIndex{
		rank: rank,
		k:    int(k),
		tree: btree.NewG(degree, lessRecord),
	}, nil
}

func lessRecord(a, b ChunkRecord) bool {
	return compareChunkCoords(a.Coords, b.Coords) < 0
}

// compareChunkCoords compares coordinates in row-major order: dimension 0
// is most significant.
//
// Examples (2D):
//   - [0,0] < [0,1] < [1,0] < [1,1]
//   - [1,10] < [2,0]
func compareChunkCoords(a, b []uint64) int {
	return slices.Compare(a, b)
}

// Rank returns the dataset rank the index was created for.
func (ix *ChunkIndex) Rank() int { return ix.rank }

// K returns the istore K.
func (ix *ChunkIndex) K() int { return ix.k }

// Len returns the number of indexed chunks.
func (ix *ChunkIndex) Len() int { return ix.tree.Len() }

// Dirty reports whether the index changed since it was last written or loaded.
func (ix *ChunkIndex) Dirty() bool { return ix.dirty }

// Get returns the record for coords.
func (ix *ChunkIndex) Get(coords []uint64) (ChunkRecord, bool) {
	return ix.tree.Get(ChunkRecord{Coords: coords})
}

// Insert adds or replaces the record for rec.Coords. The coordinates are copied.
func (ix *ChunkIndex) Insert(rec ChunkRecord) error {
	if len(rec.Coords) != ix.rank {
		return fmt.Errorf("coordinate dimensionality mismatch: expected %d, got %d", ix.rank, len(rec.Coords))
	}
	if rec.Size == 0 {
		return fmt.Errorf("chunk %v has zero stored size", rec.Coords)
	}

	rec.Coords = slices.Clone(rec.Coords)
	ix.tree.ReplaceOrInsert(rec)
	ix.dirty = true
	return nil
}

// Ascend calls fn for each record in coordinate order until fn returns false.
func (ix *ChunkIndex) Ascend(fn func(ChunkRecord) bool) {
	ix.tree.Ascend(fn)
}

// Writer interface for WriteAtAddress method.
// Implemented by internal/writer.FileWriter.
type Writer interface {
	WriteAtAddress(data []byte, address uint64) error
}

// Allocator interface for space allocation.
// Implemented by internal/writer.FileWriter.
type Allocator interface {
	Allocate(size uint64) (uint64, error)
}

// nodeEntry is one key/child pair of an on-disk node.
type nodeEntry struct {
	coords []uint64
	size   uint32
	mask   uint32
	child  uint64
}

// WriteStats describes a written index.
type WriteStats struct {
	Root   uint64 // Address of the root node, core.UndefinedAddress when empty
	Levels int    // Tree height; 0 when empty, 1 for a single leaf
	Nodes  int    // Nodes written across all levels
}

// WriteTo writes the whole index as a new tree and returns its root.
// Space of a previously written tree is not reused.
func (ix *ChunkIndex) WriteTo(w Writer, a Allocator) (WriteStats, error) {
	stats := WriteStats{Root: core.UndefinedAddress}
	if ix.tree.Len() == 0 {
		ix.dirty = false
		return stats, nil
	}

	entries := make([]nodeEntry, 0, ix.tree.Len())
	ix.tree.Ascend(func(rec ChunkRecord) bool {
		entries = append(entries, nodeEntry{
			coords: rec.Coords,
			size:   rec.Size,
			mask:   rec.FilterMask,
			child:  rec.Address,
		})
		return true
	})

	for level := 0; ; level++ {
		parents, err := ix.writeLevel(w, a, uint8(level), entries) //nolint:gosec // G115: bounded by maxNodeLevel
		if err != nil {
			return WriteStats{Root: core.UndefinedAddress}, err
		}
		stats.Nodes += len(parents)
		stats.Levels = level + 1

		if len(parents) == 1 {
			stats.Root = parents[0].child
			ix.dirty = false
			return stats, nil
		}
		if level+1 >= maxNodeLevel {
			return WriteStats{Root: core.UndefinedAddress}, fmt.Errorf("chunk index deeper than %d levels", maxNodeLevel)
		}
		entries = parents
	}
}

// writeLevel packs entries into nodes of at most 2K entries, writes them
// with sibling links and returns one parent entry per node.
func (ix *ChunkIndex) writeLevel(w Writer, a Allocator, level uint8, entries []nodeEntry) ([]nodeEntry, error) {
	perNode := 2 * ix.k
	nNodes := (len(entries) + perNode - 1) / perNode

	addrs := make([]uint64, nNodes)
	for i := range addrs {
		n := min(perNode, len(entries)-i*perNode)
		addr, err := a.Allocate(uint64(nodeSize(ix.rank, n))) //nolint:gosec // G115: node size is positive
		if err != nil {
			return nil, fmt.Errorf("failed to allocate space for B-tree node: %w", err)
		}
		addrs[i] = addr
	}

	parents := make([]nodeEntry, nNodes)
	for i, addr := range addrs {
		group := entries[i*perNode : min((i+1)*perNode, len(entries))]

		left, right := core.UndefinedAddress, core.UndefinedAddress
		if i > 0 {
			left = addrs[i-1]
		}
		if i < nNodes-1 {
			right = addrs[i+1]
		}

		buf := encodeNode(ix.rank, level, left, right, group)
		if err := w.WriteAtAddress(buf, addr); err != nil {
			return nil, fmt.Errorf("failed to write B-tree node at address %d: %w", addr, err)
		}

		parents[i] = nodeEntry{coords: group[0].coords, child: addr}
	}

	return parents, nil
}

func keySize(rank int) int { return 8 + rank*8 }

func nodeSize(rank, entries int) int {
	return nodeHeaderSize + (entries+1)*keySize(rank) + entries*8 + 8
}

func encodeNode(rank int, level uint8, left, right uint64, entries []nodeEntry) []byte {
	buf := make([]byte, 0, nodeSize(rank, len(entries)))

	buf = append(buf, nodeSignature...)
	buf = append(buf, nodeTypeChunk, level, 0, 0)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(entries))) //nolint:gosec // G115: at most 2*65535
	buf = binary.LittleEndian.AppendUint64(buf, left)
	buf = binary.LittleEndian.AppendUint64(buf, right)

	appendKey := func(size, mask uint32, coords []uint64) {
		buf = binary.LittleEndian.AppendUint32(buf, size)
		buf = binary.LittleEndian.AppendUint32(buf, mask)
		for _, c := range coords {
			buf = binary.LittleEndian.AppendUint64(buf, c)
		}
	}

	for _, e := range entries {
		appendKey(e.size, e.mask, e.coords)
	}

	// Sentinel max key closes the key range of the node.
	maxKey := make([]uint64, rank)
	for i := range maxKey {
		maxKey[i] = ^uint64(0)
	}
	appendKey(0, 0, maxKey)

	for _, e := range entries {
		buf = binary.LittleEndian.AppendUint64(buf, e.child)
	}

	return binary.LittleEndian.AppendUint64(buf, xxh3.Hash(buf))
}

// decodedNode is a validated on-disk node.
type decodedNode struct {
	level   uint8
	left    uint64
	right   uint64
	entries []nodeEntry
}

func (ix *ChunkIndex) readNode(r io.ReaderAt, addr uint64) (*decodedNode, error) {
	header := make([]byte, nodeHeaderSize)
	if err := core.ReadFull(r, header, addr); err != nil {
		return nil, fmt.Errorf("B-tree node at %d: %w", addr, err)
	}
	if string(header[:4]) != nodeSignature {
		return nil, fmt.Errorf("invalid B-tree node signature at %d: %w", addr, core.ErrCorrupt)
	}
	if header[4] != nodeTypeChunk {
		return nil, fmt.Errorf("B-tree node at %d has type %d: %w", addr, header[4], core.ErrCorrupt)
	}

	n := int(binary.LittleEndian.Uint32(header[8:12]))
	if n == 0 || n > 2*ix.k {
		return nil, fmt.Errorf("B-tree node at %d has %d entries, order %d allows 1..%d: %w",
			addr, n, ix.k, 2*ix.k, core.ErrCorrupt)
	}

	buf := make([]byte, nodeSize(ix.rank, n))
	if err := core.ReadFull(r, buf, addr); err != nil {
		return nil, fmt.Errorf("B-tree node at %d: %w", addr, err)
	}

	body := len(buf) - 8
	if stored, calc := binary.LittleEndian.Uint64(buf[body:]), xxh3.Hash(buf[:body]); stored != calc {
		return nil, fmt.Errorf("B-tree node at %d checksum stored=%016x calculated=%016x: %w",
			addr, stored, calc, core.ErrCorrupt)
	}

	node := &decodedNode{
		level:   buf[5],
		left:    binary.LittleEndian.Uint64(buf[12:20]),
		right:   binary.LittleEndian.Uint64(buf[20:28]),
		entries: make([]nodeEntry, n),
	}

	pos := nodeHeaderSize
	for i := range node.entries {
		e := &node.entries[i]
		e.size = binary.LittleEndian.Uint32(buf[pos:])
		e.mask = binary.LittleEndian.Uint32(buf[pos+4:])
		pos += 8
		e.coords = make([]uint64, ix.rank)
		for d := range e.coords {
			e.coords[d] = binary.LittleEndian.Uint64(buf[pos:])
			pos += 8
		}
		if i > 0 && compareChunkCoords(node.entries[i-1].coords, e.coords) >= 0 {
			return nil, fmt.Errorf("B-tree node at %d keys out of order: %w", addr, core.ErrCorrupt)
		}
	}
	pos += keySize(ix.rank) // sentinel

	for i := range node.entries {
		node.entries[i].child = binary.LittleEndian.Uint64(buf[pos:])
		pos += 8
	}

	return node, nil
}

// ReadChunkIndex loads an index written by WriteTo. A root of
// core.UndefinedAddress yields an empty index.
func ReadChunkIndex(r io.ReaderAt, root uint64, rank int, k uint32) (*ChunkIndex, error) {
	ix, err := NewChunkIndex(rank, k)
	if err != nil {
		return nil, err
	}
	if root == core.UndefinedAddress {
		return ix, nil
	}

	var last []uint64
	if err := ix.load(r, root, -1, nil, &last); err != nil {
		return nil, err
	}
	ix.dirty = false
	return ix, nil
}

// load walks the subtree at addr. wantLevel is the level the parent expects
// (-1 at the root) and wantFirst the key the parent recorded for it.
func (ix *ChunkIndex) load(r io.ReaderAt, addr uint64, wantLevel int, wantFirst []uint64, last *[]uint64) error {
	node, err := ix.readNode(r, addr)
	if err != nil {
		return err
	}

	if int(node.level) >= maxNodeLevel {
		return fmt.Errorf("B-tree node at %d has level %d: %w", addr, node.level, core.ErrCorrupt)
	}
	if wantLevel >= 0 && int(node.level) != wantLevel {
		return fmt.Errorf("B-tree node at %d has level %d, parent expects %d: %w",
			addr, node.level, wantLevel, core.ErrCorrupt)
	}
	if wantFirst != nil && compareChunkCoords(wantFirst, node.entries[0].coords) != 0 {
		return fmt.Errorf("B-tree node at %d first key %v, parent key %v: %w",
			addr, node.entries[0].coords, wantFirst, core.ErrCorrupt)
	}

	if node.level > 0 {
		for _, e := range node.entries {
			if err := ix.load(r, e.child, int(node.level)-1, e.coords, last); err != nil {
				return err
			}
		}
		return nil
	}

	for _, e := range node.entries {
		if *last != nil && compareChunkCoords(*last, e.coords) >= 0 {
			return fmt.Errorf("chunk %v after %v: %w", e.coords, *last, core.ErrCorrupt)
		}
		if e.size == 0 || e.child == core.UndefinedAddress {
			return fmt.Errorf("chunk %v has no storage: %w", e.coords, core.ErrCorrupt)
		}
		ix.tree.ReplaceOrInsert(ChunkRecord{
			Coords:     e.coords,
			Size:       e.size,
			FilterMask: e.mask,
			Address:    e.child,
		})
		*last = e.coords
	}
	return nil
}
