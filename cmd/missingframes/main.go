// Package main runs the missing-frames harness: it writes the frames of one
// or more variants, reopens each file and reports frames that read back
// zero-filled.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/VictoriaMetrics/metrics"
	"github.com/c2h5oh/datasize"
	"github.com/ledgerwatch/log/v3"

	"github.com/scigolib/missingframes"
)

// Exit codes.
const (
	exitOK      = 0
	exitFailure = 1 // a storage call failed
	exitUsage   = 2
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

type options struct {
	variant   string
	all       bool
	parallel  int
	frames    int
	chunk     string
	istoreK   uint
	slots     int
	cacheSize datasize.ByteSize
	w0        float64
	filters   string
	file      string
	dir       string
	keep      bool
	metrics   bool
	verbosity string
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("missingframes", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var o options
	preset := missingframes.Test1()
	fs.StringVar(&o.variant, "variant", preset.Name, "Preset to run: test1, test2 or test3")
	fs.BoolVar(&o.all, "all", false, "Run every preset")
	fs.IntVar(&o.parallel, "parallel", 1, "Presets run at once with -all (0 = all)")
	fs.IntVar(&o.frames, "frames", preset.Frames, "Number of frames to append")
	fs.StringVar(&o.chunk, "chunk", "1,4,6", "Chunk dimensions")
	fs.UintVar(&o.istoreK, "istorek", uint(preset.IstoreK), "Chunk index B-tree order")
	fs.IntVar(&o.slots, "cache-slots", preset.CacheSlots, "Chunk cache hash slots")
	fs.TextVar(&o.cacheSize, "cache-size", preset.CacheSize, "Chunk cache byte budget (e.g. 192B, 1MB)")
	fs.Float64Var(&o.w0, "cache-w0", preset.CacheW0, "Chunk cache preemption weight in [0,1]")
	fs.StringVar(&o.filters, "filters", "", "Comma-separated chunk filters (shuffle, deflate[=N], fletcher32, snappy, lz4, zstd)")
	fs.StringVar(&o.file, "file", "", "Output file (default: the preset's file name)")
	fs.StringVar(&o.dir, "dir", ".", "Directory for output files")
	fs.BoolVar(&o.keep, "keep", true, "Keep the files after verification")
	fs.BoolVar(&o.metrics, "metrics", false, "Print metrics in Prometheus format after the report")
	fs.StringVar(&o.verbosity, "verbosity", "info", "Log level: crit, error, warn, info, debug, trace")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}
	if fs.NArg() > 0 {
		fmt.Fprintf(stderr, "unexpected arguments: %v\n", fs.Args())
		fs.Usage()
		return exitUsage
	}

	lvl, err := log.LvlFromString(o.verbosity)
	if err != nil {
		fmt.Fprintf(stderr, "invalid -verbosity: %v\n", err)
		return exitUsage
	}
	logger := log.New()
	logger.SetHandler(log.LvlFilterHandler(lvl, log.StreamHandler(stderr, log.LogfmtFormat())))

	cfgs, err := buildConfigs(fs, &o)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitUsage
	}

	m := missingframes.NewMetrics(metrics.NewSet())
	results, err := missingframes.RunAll(ctx, cfgs, o.parallel,
		missingframes.WithLogger(logger), missingframes.WithMetrics(m))
	if err != nil {
		logger.Error("Run failed", "err", err)
		return exitFailure
	}

	for _, res := range results {
		if len(results) > 1 {
			fmt.Fprintf(stdout, "%s:\n", res.Config.Name)
		}
		if err := missingframes.Report(stdout, &res.Verification); err != nil {
			logger.Error("Report failed", "err", err)
			return exitFailure
		}
	}
	if len(results) > 1 {
		fmt.Fprintln(stdout)
		if err := missingframes.ReportSummary(stdout, results); err != nil {
			logger.Error("Report failed", "err", err)
			return exitFailure
		}
	}
	if o.metrics {
		fmt.Fprintln(stdout)
		m.WritePrometheus(stdout)
	}

	if !o.keep {
		for _, cfg := range cfgs {
			if err := os.Remove(cfg.Path); err != nil {
				logger.Warn("Failed to remove file", "path", cfg.Path, "err", err)
			}
		}
	}
	return exitOK
}

// buildConfigs selects the presets and applies the flags that were set on
// the command line.
func buildConfigs(fs *flag.FlagSet, o *options) ([]missingframes.Config, error) {
	var cfgs []missingframes.Config
	if o.all {
		cfgs = missingframes.Variants()
	} else {
		cfg, err := missingframes.VariantByName(o.variant)
		if err != nil {
			return nil, err
		}
		cfgs = []missingframes.Config{cfg}
	}

	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	if set["file"] && len(cfgs) > 1 {
		return nil, errors.New("-file cannot be combined with -all")
	}

	var chunk [missingframes.Rank]uint64
	if set["chunk"] {
		var err error
		if chunk, err = parseChunk(o.chunk); err != nil {
			return nil, err
		}
	}

	for i := range cfgs {
		c := &cfgs[i]
		if set["frames"] {
			c.Frames = o.frames
		}
		if set["chunk"] {
			c.ChunkDims = chunk
		}
		if set["istorek"] {
			if o.istoreK > uint(^uint32(0)) {
				return nil, fmt.Errorf("-istorek %d out of range", o.istoreK)
			}
			c.IstoreK = uint32(o.istoreK)
		}
		if set["cache-slots"] {
			c.CacheSlots = o.slots
		}
		if set["cache-size"] {
			c.CacheSize = o.cacheSize
		}
		if set["cache-w0"] {
			c.CacheW0 = o.w0
		}
		if set["filters"] {
			c.Filters = splitList(o.filters)
		}
		if set["file"] {
			c.Path = o.file
		}
		if !filepath.IsAbs(c.Path) {
			c.Path = filepath.Join(o.dir, c.Path)
		}

		if err := c.Validate(); err != nil {
			return nil, err
		}
	}
	return cfgs, nil
}

func parseChunk(s string) ([missingframes.Rank]uint64, error) {
	var dims [missingframes.Rank]uint64
	parts := splitList(s)
	if len(parts) != missingframes.Rank {
		return dims, fmt.Errorf("-chunk %q: want %d dimensions", s, missingframes.Rank)
	}
	for i, p := range parts {
		d, err := strconv.ParseUint(p, 10, 64)
		if err != nil {
			return dims, fmt.Errorf("-chunk %q: %w", s, err)
		}
		dims[i] = d
	}
	return dims, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
