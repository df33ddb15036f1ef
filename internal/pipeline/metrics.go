package pipeline

import (
	"io"
	"time"

	"github.com/VictoriaMetrics/metrics"

	"pea/internal/escape"
)

// Metrics counts pipeline work in Prometheus form. A nil *Metrics records nothing.
type Metrics struct {
	set *metrics.Set

	functions    *metrics.Counter
	failed       *metrics.Counter
	virtualized  *metrics.Counter
	materialized *metrics.Counter
	passes       *metrics.Counter
	cacheHits    *metrics.Counter
	cacheMisses  *metrics.Counter
	duration     *metrics.Histogram
}

// NewMetrics registers the pipeline metrics in a fresh set.
func NewMetrics() *Metrics {
	s := metrics.NewSet()
	return &Metrics{
		set:          s,
		functions:    s.NewCounter(`pea_functions_total`),
		failed:       s.NewCounter(`pea_functions_failed_total`),
		virtualized:  s.NewCounter(`pea_allocations_virtualized_total`),
		materialized: s.NewCounter(`pea_allocations_materialized_total`),
		passes:       s.NewCounter(`pea_escape_passes_total`),
		cacheHits:    s.NewCounter(`pea_cache_requests_total{result="hit"}`),
		cacheMisses:  s.NewCounter(`pea_cache_requests_total{result="miss"}`),
		duration:     s.NewHistogram(`pea_function_duration_seconds`),
	}
}

func (m *Metrics) observe(stats escape.Result, err error, cached bool, start time.Time) {
	if m == nil {
		return
	}
	m.functions.Inc()
	m.duration.UpdateDuration(start)
	if err != nil {
		m.failed.Inc()
		return
	}
	if cached {
		return
	}
	m.virtualized.Add(stats.Virtualized)
	m.materialized.Add(stats.Materialized)
	m.passes.Add(stats.Passes)
}

func (m *Metrics) cacheLookup(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.cacheHits.Inc()
	} else {
		m.cacheMisses.Inc()
	}
}

// Functions returns the number of functions processed so far.
func (m *Metrics) Functions() uint64 {
	if m == nil {
		return 0
	}
	return m.functions.Get()
}

// CacheHits returns the number of functions served from the cache.
func (m *Metrics) CacheHits() uint64 {
	if m == nil {
		return 0
	}
	return m.cacheHits.Get()
}

// WritePrometheus writes all metrics in Prometheus text format.
func (m *Metrics) WritePrometheus(w io.Writer) {
	if m == nil {
		return
	}
	m.set.WritePrometheus(w)
}
