package missingframes

import (
	"context"
	"errors"
	"time"

	"github.com/ledgerwatch/log/v3"

	"github.com/scigolib/missingframes/internal/h5store"
)

// WriteStats describes a finished writer phase.
type WriteStats struct {
	Frames   int
	Chunks   int // chunks allocated in the file
	Duration time.Duration
	Cache    h5store.CacheStats
}

// WriteFrames runs the writer phase: it creates cfg.Path, appends cfg.Frames
// copies of the pattern one frame at a time and closes the file.
//
// Any storage failure aborts the phase and is returned as a *PhaseError.
func WriteFrames(ctx context.Context, cfg Config, opts ...Option) (*WriteStats, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return writeFrames(ctx, cfg, newRunConfig(opts))
}

func writeFrames(ctx context.Context, cfg Config, rc *runConfig) (*WriteStats, error) {
	logger := rc.logger.New("variant", cfg.Name, "phase", PhaseWrite)
	start := time.Now()

	f, err := h5store.Create(cfg.Path, h5store.CreateTruncate,
		h5store.WithIstoreK(cfg.IstoreK),
		h5store.WithCloseDegree(h5store.CloseStrong),
		h5store.WithLogger(logger),
		h5store.WithMetrics(rc.metrics.Set()))
	if err != nil {
		return nil, writeErr("create file", -1, err)
	}
	before := f.CacheStats()

	chunk := cfg.ChunkDims
	ds, err := f.CreateDataset(DatasetName, h5store.Int32, []uint64{0, FrameRows, FrameCols},
		h5store.WithMaxDims([]uint64{h5store.Unlimited, FrameRows, FrameCols}),
		h5store.WithChunkDims(chunk[:]),
		h5store.WithFillValue(0),
		h5store.WithFilters(cfg.Filters...),
		h5store.WithChunkCache(cfg.CacheSlots, cfg.CacheSize.Bytes(), cfg.CacheW0))
	if err != nil {
		return nil, errors.Join(writeErr("create dataset", -1, err), f.Close())
	}
	logger.Info("Writing frames", "frames", cfg.Frames, "chunk", cfg.ChunkDims, "istorek", cfg.IstoreK)

	if err := appendFrames(ctx, ds, cfg, rc, logger); err != nil {
		return nil, errors.Join(err, ds.Close(), f.Close())
	}

	chunks := ds.NumChunks()
	if err := ds.Close(); err != nil {
		return nil, errors.Join(writeErr("close dataset", -1, err), f.Close())
	}
	if err := f.Close(); err != nil {
		return nil, writeErr("close file", -1, err)
	}

	stats := &WriteStats{
		Frames:   cfg.Frames,
		Chunks:   chunks,
		Duration: time.Since(start),
		Cache:    cacheDelta(before, f.CacheStats()),
	}
	logger.Info("Frames written", "frames", stats.Frames, "chunks", stats.Chunks,
		"evictions", stats.Cache.Evictions, "elapsed", stats.Duration)
	return stats, nil
}

func appendFrames(ctx context.Context, ds *h5store.Dataset, cfg Config, rc *runConfig, logger log.Logger) error {
	vm := rc.metrics.variant(cfg.Name)
	pattern := Pattern()
	data := pattern.Values()

	extent := []uint64{0, FrameRows, FrameCols}
	sel := h5store.Hyperslab{
		Start: []uint64{0, 0, 0},
		Count: []uint64{1, FrameRows, FrameCols},
	}

	for i := 0; i < cfg.Frames; i++ {
		if err := ctx.Err(); err != nil {
			return writeErr("append", i, err)
		}
		t := time.Now()

		extent[0] = uint64(i + 1)
		if err := ds.SetExtent(extent); err != nil {
			return writeErr("set extent", i, err)
		}
		sel.Start[0] = uint64(i)
		if err := ds.Write(sel, data); err != nil {
			return writeErr("write frame", i, err)
		}

		vm.writeLatency.UpdateDuration(t)
		vm.framesWritten.Inc()
		if rc.progress(i) {
			logger.Debug("Write progress", "frame", i, "chunks", ds.NumChunks())
		}
	}
	return nil
}

// cacheDelta returns the counters accumulated between two snapshots of the
// same file.
func cacheDelta(before, after h5store.CacheStats) h5store.CacheStats {
	return h5store.CacheStats{
		Hits:       after.Hits - before.Hits,
		Misses:     after.Misses - before.Misses,
		Evictions:  after.Evictions - before.Evictions,
		WriteBacks: after.WriteBacks - before.WriteBacks,
		Bypasses:   after.Bypasses - before.Bypasses,
	}
}
