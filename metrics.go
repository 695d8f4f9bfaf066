package missingframes

import (
	"fmt"
	"io"

	"github.com/VictoriaMetrics/metrics"
)

// Metrics holds the harness counters. The store registers its chunk cache
// counters in the same set.
type Metrics struct {
	set *metrics.Set
}

// NewMetrics wraps set. A nil set gets a private one.
func NewMetrics(set *metrics.Set) *Metrics {
	if set == nil {
		set = metrics.NewSet()
	}
	return &Metrics{set: set}
}

// Set returns the underlying metrics set.
func (m *Metrics) Set() *metrics.Set { return m.set }

// WritePrometheus writes every counter in Prometheus text format.
func (m *Metrics) WritePrometheus(w io.Writer) {
	m.set.WritePrometheus(w)
}

type variantMetrics struct {
	framesWritten *metrics.Counter
	framesRead    *metrics.Counter
	framesMissing *metrics.Counter
	writeLatency  *metrics.Histogram
}

func (m *Metrics) variant(name string) *variantMetrics {
	label := func(metric string) string {
		return fmt.Sprintf(`missingframes_%s{variant=%q}`, metric, name)
	}
	return &variantMetrics{
		framesWritten: m.set.GetOrCreateCounter(label("frames_written_total")),
		framesRead:    m.set.GetOrCreateCounter(label("frames_read_total")),
		framesMissing: m.set.GetOrCreateCounter(label("frames_missing_total")),
		writeLatency:  m.set.GetOrCreateHistogram(label("frame_write_duration_seconds")),
	}
}
