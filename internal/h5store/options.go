package h5store

import (
	"fmt"

	"github.com/VictoriaMetrics/metrics"
	"github.com/ledgerwatch/log/v3"

	"github.com/scigolib/missingframes/internal/core"
)

// Unlimited marks a maximum dimension with no bound.
const Unlimited = core.Unlimited

// CloseDegree controls what File.Close does with datasets that are still open.
type CloseDegree int

const (
	// CloseDefault resolves to CloseStrong.
	CloseDefault CloseDegree = iota

	// CloseWeak returns immediately; the file is really closed when the last
	// dataset handle is closed.
	CloseWeak

	// CloseSemi fails with ErrObjectsOpen while any dataset handle is open.
	CloseSemi

	// CloseStrong closes every open dataset handle, then the file.
	CloseStrong
)

// String returns the degree name.
func (d CloseDegree) String() string {
	switch d {
	case CloseDefault:
		return "default"
	case CloseWeak:
		return "weak"
	case CloseSemi:
		return "semi"
	case CloseStrong:
		return "strong"
	default:
		return fmt.Sprintf("CloseDegree(%d)", int(d))
	}
}

// CreateMode specifies how Create treats an existing file.
type CreateMode int

const (
	// CreateTruncate creates a new file, overwriting if it exists.
	CreateTruncate CreateMode = iota

	// CreateExclusive creates a new file, failing if it already exists.
	CreateExclusive
)

// OpenMode specifies how to open an existing file.
type OpenMode int

const (
	// OpenReadOnly maps the file read-only. Every mutating call fails with ErrReadOnly.
	OpenReadOnly OpenMode = iota

	// OpenReadWrite allows further writes and extension.
	OpenReadWrite
)

// FileOption configures Create and Open.
type FileOption func(*fileConfig)

type fileConfig struct {
	istoreK uint32
	degree  CloseDegree
	logger  log.Logger
	metrics *metrics.Set
}

func newFileConfig(opts []FileOption) *fileConfig {
	cfg := &fileConfig{
		istoreK: core.DefaultIstoreK(),
		degree:  CloseDefault,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.degree == CloseDefault {
		cfg.degree = CloseStrong
	}
	if cfg.logger == nil {
		cfg.logger = log.New()
	}
	if cfg.metrics == nil {
		cfg.metrics = metrics.NewSet()
	}
	return cfg
}

// WithIstoreK sets the order K of the chunk index B-tree: nodes hold at most
// 2K entries. Valid values are 1..65535; the default is 32.
// Only Create uses it; an opened file keeps the order it was created with.
func WithIstoreK(k uint32) FileOption {
	return func(cfg *fileConfig) {
		cfg.istoreK = k
	}
}

// WithCloseDegree sets the file close degree.
func WithCloseDegree(d CloseDegree) FileOption {
	return func(cfg *fileConfig) {
		cfg.degree = d
	}
}

// WithLogger sets the logger. The default is a child of the log15 root logger.
func WithLogger(l log.Logger) FileOption {
	return func(cfg *fileConfig) {
		cfg.logger = l
	}
}

// WithMetrics registers the store counters in set. Counter names carry the
// file's base name as a label, so several files can share one set.
func WithMetrics(set *metrics.Set) FileOption {
	return func(cfg *fileConfig) {
		cfg.metrics = set
	}
}

// DatasetOption configures CreateDataset and OpenDataset.
type DatasetOption func(*datasetConfig)

type datasetConfig struct {
	chunkDims []uint64
	maxDims   []uint64
	fill      int32
	filters   []string
	cache     CacheConfig
	cacheSet  bool
}

func newDatasetConfig(opts []DatasetOption) *datasetConfig {
	cfg := &datasetConfig{cache: DefaultCacheConfig()}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// WithChunkDims sets the chunk shape. Required by CreateDataset: every
// dataset of this store is chunked.
func WithChunkDims(dims []uint64) DatasetOption {
	return func(cfg *datasetConfig) {
		cfg.chunkDims = dims
	}
}

// WithMaxDims sets the maximum dimensions; Unlimited leaves a dimension
// unbounded. Without it the dataset cannot grow.
func WithMaxDims(dims []uint64) DatasetOption {
	return func(cfg *datasetConfig) {
		cfg.maxDims = dims
	}
}

// WithFillValue sets the value read back for elements never written.
// The default is 0.
func WithFillValue(v int32) DatasetOption {
	return func(cfg *datasetConfig) {
		cfg.fill = v
	}
}

// WithFilters sets the chunk filter pipeline by filter name, in application
// order: "shuffle", "deflate" (or "deflate=N" for level N), "fletcher32",
// "snappy", "lz4", "zstd".
//
// Example:
//
//	ds, err := f.CreateDataset("frames", h5store.Int32, []uint64{0, 4, 6},
//	    h5store.WithChunkDims([]uint64{1, 4, 6}),
//	    h5store.WithFilters("shuffle", "deflate=6", "fletcher32"))
func WithFilters(names ...string) DatasetOption {
	return func(cfg *datasetConfig) {
		cfg.filters = names
	}
}

// WithChunkCache sets the raw-data chunk cache of a dataset handle: the number
// of hash slots, the byte budget and the preemption weight w0 in [0,1].
// Zero slots or a budget smaller than one chunk disables caching.
func WithChunkCache(slots int, bytes uint64, w0 float64) DatasetOption {
	return func(cfg *datasetConfig) {
		cfg.cache = CacheConfig{Slots: slots, Bytes: bytes, W0: w0}
		cfg.cacheSet = true
	}
}
