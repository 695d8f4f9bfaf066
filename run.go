package missingframes

import (
	"context"
	"fmt"
	"path/filepath"

	"golang.org/x/sync/errgroup"
)

// Result is the outcome of one variant: writer phase stats plus the
// verification of the file it left behind.
type Result struct {
	Config Config
	Write  *WriteStats
	Verification
}

// Run executes the writer phase and then the verifier phase on the closed
// file. The verifier depends only on what reached the file.
func Run(ctx context.Context, cfg Config, opts ...Option) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	rc := newRunConfig(opts)

	ws, err := writeFrames(ctx, cfg, rc)
	if err != nil {
		return nil, err
	}
	v, err := verifyFrames(ctx, cfg, rc)
	if err != nil {
		return nil, err
	}
	return &Result{Config: cfg, Write: ws, Verification: *v}, nil
}

// RunAll runs several variants, at most parallel at a time (0 means no
// limit). Each variant needs its own file. Results are in the order of cfgs.
// The first storage failure cancels the variants still running.
func RunAll(ctx context.Context, cfgs []Config, parallel int, opts ...Option) ([]*Result, error) {
	seen := make(map[string]string, len(cfgs))
	for _, cfg := range cfgs {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		abs, err := filepath.Abs(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("variant %q: %w", cfg.Name, err)
		}
		if other, ok := seen[abs]; ok {
			return nil, fmt.Errorf("variants %q and %q share file %s", other, cfg.Name, cfg.Path)
		}
		seen[abs] = cfg.Name
	}

	results := make([]*Result, len(cfgs))
	g, gctx := errgroup.WithContext(ctx)
	if parallel > 0 {
		g.SetLimit(parallel)
	}
	for i, cfg := range cfgs {
		i, cfg := i, cfg
		g.Go(func() error {
			res, err := Run(gctx, cfg, opts...)
			if err != nil {
				return fmt.Errorf("variant %q: %w", cfg.Name, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
