package missingframes

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/RoaringBitmap/roaring/roaring64"
	"github.com/ledgerwatch/log/v3"

	"github.com/scigolib/missingframes/internal/h5store"
)

// Verification is the outcome of the verifier phase.
type Verification struct {
	Extent  uint64 // frames in the reopened dataset
	Missing uint64

	// FirstMissing is the 1-based index of the first missing frame, 0 if none.
	FirstMissing uint64

	// MissingFrames holds the 0-based index of every missing frame.
	MissingFrames *roaring64.Bitmap

	Duration time.Duration
	Cache    h5store.CacheStats
}

// OK reports whether every frame read back as written.
func (v *Verification) OK() bool { return v.Missing == 0 }

// VerifyFrames runs the verifier phase: it reopens cfg.Path read-only and
// reads every frame of the dataset back. A frame is missing when its first
// element differs from the pattern; missing frames are tallied, not errors.
//
// Storage failures are returned as a *PhaseError.
func VerifyFrames(ctx context.Context, cfg Config, opts ...Option) (*Verification, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return verifyFrames(ctx, cfg, newRunConfig(opts))
}

func verifyFrames(ctx context.Context, cfg Config, rc *runConfig) (*Verification, error) {
	logger := rc.logger.New("variant", cfg.Name, "phase", PhaseVerify)
	start := time.Now()

	f, err := h5store.Open(cfg.Path, h5store.OpenReadOnly,
		h5store.WithCloseDegree(h5store.CloseStrong),
		h5store.WithLogger(logger),
		h5store.WithMetrics(rc.metrics.Set()))
	if err != nil {
		return nil, verifyErr("open file", -1, err)
	}
	before := f.CacheStats()

	ds, err := f.OpenDataset(DatasetName,
		h5store.WithChunkCache(cfg.CacheSlots, cfg.CacheSize.Bytes(), cfg.CacheW0))
	if err != nil {
		return nil, errors.Join(verifyErr("open dataset", -1, err), f.Close())
	}

	v, err := readFrames(ctx, ds, cfg, rc, logger)
	if err != nil {
		return nil, errors.Join(err, ds.Close(), f.Close())
	}
	if err := ds.Close(); err != nil {
		return nil, errors.Join(verifyErr("close dataset", -1, err), f.Close())
	}
	if err := f.Close(); err != nil {
		return nil, verifyErr("close file", -1, err)
	}

	v.Duration = time.Since(start)
	v.Cache = cacheDelta(before, f.CacheStats())
	logger.Info("Frames verified", "extent", v.Extent, "missing", v.Missing,
		"first_missing", v.FirstMissing, "elapsed", v.Duration)
	return v, nil
}

func readFrames(ctx context.Context, ds *h5store.Dataset, cfg Config, rc *runConfig, logger log.Logger) (*Verification, error) {
	extent := ds.Extent()
	if len(extent) != Rank {
		return nil, verifyErr("check rank", -1, fmt.Errorf("%w: %d", ErrUnexpectedRank, len(extent)))
	}
	logger.Info("Verifying frames", "extent", extent[0])

	vm := rc.metrics.variant(cfg.Name)
	v := &Verification{Extent: extent[0], MissingFrames: roaring64.New()}

	buf := make([]int32, FrameElements)
	sel := h5store.Hyperslab{
		Start: []uint64{0, 0, 0},
		Count: []uint64{1, FrameRows, FrameCols},
	}

	for i := uint64(0); i < v.Extent; i++ {
		if err := ctx.Err(); err != nil {
			return nil, verifyErr("read", int(i), err) //nolint:gosec // G115: frame index
		}

		clear(buf)
		sel.Start[0] = i
		if err := ds.Read(sel, buf); err != nil {
			return nil, verifyErr("read frame", int(i), err) //nolint:gosec // G115: frame index
		}
		vm.framesRead.Inc()

		// Only element [0][0] is compared: a zero-filled frame is the symptom.
		if buf[0] != expectedFirst {
			if v.Missing == 0 {
				v.FirstMissing = i + 1
				logger.Warn("Frame missing", "frame", i+1, "value", buf[0])
			}
			v.Missing++
			v.MissingFrames.Add(i)
			vm.framesMissing.Inc()
		}

		if rc.progress(int(i)) { //nolint:gosec // G115: frame index
			logger.Debug("Verify progress", "frame", i, "missing", v.Missing)
		}
	}
	return v, nil
}
