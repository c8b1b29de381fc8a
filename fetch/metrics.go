package fetch

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics tracks fetch throughput on a dedicated registry.
type Metrics struct {
	registry *prometheus.Registry

	pagesFetched  prometheus.Counter
	pagesSkipped  prometheus.Counter
	pagesFailed   prometheus.Counter
	fetchDuration prometheus.Histogram
}

// NewMetrics builds the fetch metric set on its own registry so tests never
// collide on the global one.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		pagesFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wholescrape_pages_fetched_total",
			Help: "Product pages fetched and persisted.",
		}),
		pagesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wholescrape_pages_skipped_total",
			Help: "Product pages skipped because they were already on disk.",
		}),
		pagesFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wholescrape_pages_failed_total",
			Help: "Product pages that failed to fetch.",
		}),
		fetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "wholescrape_fetch_duration_seconds",
			Help:    "Wall time to fetch and persist one product page.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
		}),
	}
	m.registry.MustRegister(m.pagesFetched, m.pagesSkipped, m.pagesFailed, m.fetchDuration)
	return m
}

// Registry exposes the underlying registry for the metrics HTTP handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) observeFetched(d time.Duration) {
	if m == nil {
		return
	}
	m.pagesFetched.Inc()
	m.fetchDuration.Observe(d.Seconds())
}

func (m *Metrics) observeSkipped() {
	if m == nil {
		return
	}
	m.pagesSkipped.Inc()
}

func (m *Metrics) observeFailed() {
	if m == nil {
		return
	}
	m.pagesFailed.Inc()
}
