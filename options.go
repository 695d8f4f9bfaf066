package missingframes

import (
	"github.com/VictoriaMetrics/metrics"
	"github.com/ledgerwatch/log/v3"
)

// DefaultProgressEvery is how often the phases log progress, in frames.
const DefaultProgressEvery = 10000

// Option configures a run.
type Option func(*runConfig)

type runConfig struct {
	logger        log.Logger
	metrics       *Metrics
	progressEvery int
}

func newRunConfig(opts []Option) *runConfig {
	rc := &runConfig{progressEvery: DefaultProgressEvery}
	for _, opt := range opts {
		opt(rc)
	}
	if rc.logger == nil {
		rc.logger = log.New()
	}
	if rc.metrics == nil {
		rc.metrics = NewMetrics(metrics.NewSet())
	}
	return rc
}

// WithLogger sets the logger of the run and of the files it opens.
func WithLogger(l log.Logger) Option {
	return func(rc *runConfig) {
		rc.logger = l
	}
}

// WithMetrics registers the run's counters in m.
func WithMetrics(m *Metrics) Option {
	return func(rc *runConfig) {
		rc.metrics = m
	}
}

// WithProgressEvery logs progress every n frames. Zero disables it.
func WithProgressEvery(n int) Option {
	return func(rc *runConfig) {
		if n >= 0 {
			rc.progressEvery = n
		}
	}
}

func (rc *runConfig) progress(i int) bool {
	return rc.progressEvery > 0 && i > 0 && i%rc.progressEvery == 0
}
