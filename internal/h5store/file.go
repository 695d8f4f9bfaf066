// Package h5store is a minimal chunked array store: one file holds one
// chunked, extendible dataset of fixed-size integers.
//
// It keeps the storage model of an HDF5 chunked dataset where it matters for
// frame-append workloads: chunks are located through a B-tree of order K
// (istore K), cached in memory by a raw-data chunk cache with hash slots, a
// byte budget and a preemption weight, and passed through an optional filter
// pipeline on their way to the file. Datasets grow with SetExtent and are
// accessed through hyperslab selections.
//
// Example:
//
//	f, err := h5store.Create("frames.h5", h5store.CreateTruncate, h5store.WithIstoreK(64))
//	if err != nil {
//	    return err
//	}
//	defer f.Close()
//
//	ds, err := f.CreateDataset("frames", h5store.Int32, []uint64{0, 4, 6},
//	    h5store.WithMaxDims([]uint64{h5store.Unlimited, 4, 6}),
//	    h5store.WithChunkDims([]uint64{1, 4, 6}))
//
// Files and datasets are not safe for concurrent use.
package h5store

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/ledgerwatch/log/v3"

	"github.com/scigolib/missingframes/internal/core"
	"github.com/scigolib/missingframes/internal/utils"
	"github.com/scigolib/missingframes/internal/writer"
)

// Type aliases for the metadata types callers build selections and shapes from.
type (
	Dataspace = core.Dataspace
	Hyperslab = core.Hyperslab
	Datatype  = core.Datatype
)

// Int32 is a 4-byte little-endian signed integer.
const Int32 = core.Int32

// File is an open store file.
type File struct {
	path    string
	backend writer.Backend
	sb      *core.Superblock
	degree  CloseDegree
	log     log.Logger
	m       *storeMetrics

	dset    *datasetState // the file's dataset once created or opened
	handles map[*Dataset]struct{}
	closing bool // Close under CloseWeak is waiting for the last handle
	closed  bool
}

// Create creates a new store file opened for reading and writing.
//
// Parameters:
//   - path: file to create
//   - mode: CreateTruncate or CreateExclusive
//   - opts: WithIstoreK, WithCloseDegree, WithLogger, WithMetrics
func Create(path string, mode CreateMode, opts ...FileOption) (*File, error) {
	cfg := newFileConfig(opts)
	if err := core.ValidateIstoreK(cfg.istoreK); err != nil {
		return nil, utils.WrapError("file create failed", err)
	}

	var wmode writer.CreateMode
	switch mode {
	case CreateTruncate:
		wmode = writer.ModeTruncate
	case CreateExclusive:
		wmode = writer.ModeExclusive
	default:
		return nil, fmt.Errorf("invalid create mode: %d", mode)
	}

	fw, err := writer.NewFileWriter(path, wmode, core.SuperblockSize)
	if err != nil {
		return nil, utils.WrapError("file create failed", err)
	}

	f := newFile(path, fw, core.NewSuperblock(cfg.istoreK), cfg)
	f.sb.Flags |= core.FlagWriteOpen
	if err := f.writeSuperblock(); err != nil {
		_ = fw.Close()
		return nil, utils.WrapError("file create failed", err)
	}

	f.log.Debug("Created file", "istorek", cfg.istoreK, "degree", f.degree)
	return f, nil
}

// Open opens an existing store file.
//
// OpenReadOnly memory-maps the file. A file whose writer did not close it
// cleanly is opened with a warning; its contents are whatever the last
// flush wrote. OpenReadWrite refuses such a file with ErrWriteOpen.
// WithIstoreK is ignored: the order recorded in the file is used.
func Open(path string, mode OpenMode, opts ...FileOption) (*File, error) {
	cfg := newFileConfig(opts)

	mapped, err := writer.OpenMapped(path)
	if err != nil {
		return nil, utils.WrapError("file open failed", err)
	}

	sb, err := core.ReadSuperblock(mapped)
	if err != nil {
		_ = mapped.Close()
		return nil, utils.WrapError("superblock read failed", err)
	}

	switch mode {
	case OpenReadOnly:
		f := newFile(path, mapped, sb, cfg)
		if sb.WriteOpen() {
			f.log.Warn("File was not closed cleanly, reading last flushed state")
		}
		f.log.Debug("Opened file read-only", "istorek", sb.IstoreK, "eof", sb.EndOfFile)
		return f, nil

	case OpenReadWrite:
		if err := mapped.Close(); err != nil {
			return nil, utils.WrapError("file open failed", err)
		}
		if sb.WriteOpen() {
			return nil, utils.WrapErrorf(ErrWriteOpen, "open %s for writing", path)
		}

		fw, err := writer.OpenFileWriter(path, sb.EndOfFile)
		if err != nil {
			return nil, utils.WrapError("file open failed", err)
		}
		f := newFile(path, fw, sb, cfg)
		f.sb.Flags |= core.FlagWriteOpen
		if err := f.writeSuperblock(); err != nil {
			_ = fw.Close()
			return nil, utils.WrapError("file open failed", err)
		}
		f.log.Debug("Opened file read-write", "istorek", sb.IstoreK, "eof", sb.EndOfFile)
		return f, nil

	default:
		_ = mapped.Close()
		return nil, fmt.Errorf("invalid open mode: %d", mode)
	}
}

func newFile(path string, backend writer.Backend, sb *core.Superblock, cfg *fileConfig) *File {
	return &File{
		path:    path,
		backend: backend,
		sb:      sb,
		degree:  cfg.degree,
		log:     cfg.logger.New("file", filepath.Base(path)),
		m:       newStoreMetrics(cfg.metrics, path),
		handles: make(map[*Dataset]struct{}),
	}
}

// Path returns the path the file was created or opened with.
func (f *File) Path() string { return f.path }

// IstoreK returns the chunk index B-tree order recorded in the file.
func (f *File) IstoreK() uint32 { return f.sb.IstoreK }

// ReadOnly reports whether the file was opened with OpenReadOnly.
func (f *File) ReadOnly() bool { return f.backend.ReadOnly() }

// CacheStats returns the chunk cache counters of this file.
func (f *File) CacheStats() CacheStats { return f.m.snapshot() }

func (f *File) usable() error {
	if f.closed || f.closing {
		return ErrClosed
	}
	return nil
}

func (f *File) writable() error {
	if err := f.usable(); err != nil {
		return err
	}
	if f.backend.ReadOnly() {
		return ErrReadOnly
	}
	return nil
}

func (f *File) writeSuperblock() error {
	f.sb.EndOfFile = f.backend.EndOfFile()
	return f.backend.WriteAtAddress(f.sb.Encode(), 0)
}

// Flush writes cached chunks, the chunk index, the dataset header and the
// superblock, then syncs the file. A read-only file has nothing to flush.
func (f *File) Flush() error {
	if err := f.usable(); err != nil {
		return err
	}
	return f.flush()
}

func (f *File) flush() error {
	if f.backend.ReadOnly() {
		return nil
	}
	if f.dset != nil {
		if err := f.dset.flush(); err != nil {
			return utils.WrapError("dataset flush failed", err)
		}
	}
	if err := f.writeSuperblock(); err != nil {
		return utils.WrapError("superblock write failed", err)
	}
	if err := f.backend.Flush(); err != nil {
		return utils.WrapError("file sync failed", err)
	}
	return nil
}

// Close closes the file according to its close degree:
//
//   - CloseStrong (default): open dataset handles are closed first.
//   - CloseSemi: fails with ErrObjectsOpen while handles are open.
//   - CloseWeak: with handles open, returns nil and defers the close until
//     the last handle is closed.
//
// It is safe to call Close multiple times.
func (f *File) Close() error {
	if f.closed || f.closing {
		return nil
	}

	if n := len(f.handles); n > 0 {
		switch f.degree {
		case CloseSemi:
			return utils.WrapErrorf(ErrObjectsOpen, "close %s: %d dataset handles", filepath.Base(f.path), n)
		case CloseWeak:
			f.log.Debug("Deferring close until datasets are closed", "open", n)
			f.closing = true
			return nil
		default:
			f.log.Debug("Closing open datasets", "open", n)
			for h := range f.handles {
				h.closed = true
			}
			clear(f.handles)
		}
	}

	return f.release()
}

// release performs the real close: final flush with the write-open flag
// cleared, then the backend.
func (f *File) release() error {
	f.closed = true
	f.closing = false

	var flushErr error
	if !f.backend.ReadOnly() {
		f.sb.Flags &^= core.FlagWriteOpen
		flushErr = f.flush()
	}
	if f.dset != nil {
		f.dset.cache.purge()
	}

	closeErr := f.backend.Close()
	if err := errors.Join(flushErr, closeErr); err != nil {
		return utils.WrapError("file close failed", err)
	}

	f.log.Debug("Closed file")
	return nil
}
