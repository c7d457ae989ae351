package scraper

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks extraction calls per mart on a registry owned by one ingestion run.
type Metrics struct {
	Registry *prometheus.Registry

	calls       *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	entries     *prometheus.CounterVec
	retries     *prometheus.CounterVec
	failures    *prometheus.CounterVec
	lastSuccess *prometheus.GaugeVec
}

// NewMetrics registers the extraction collectors on a fresh registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		Registry: registry,
		calls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "martprice_extract_requests_total",
			Help: "Extraction calls by mart and outcome.",
		}, []string{"mart", "outcome"}),
		latency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name: "martprice_extract_duration_seconds",
			Help: "Latency of extraction calls by mart.",
			// The extraction service renders the page before answering.
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 40, 60},
		}, []string{"mart"}),
		entries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "martprice_entries_extracted_total",
			Help: "Price entries handed to the snapshot pipeline by mart.",
		}, []string{"mart"}),
		retries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "martprice_extract_retries_total",
			Help: "Extraction retries by mart.",
		}, []string{"mart"}),
		failures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "martprice_extract_errors_total",
			Help: "Failed mart/item pairs by mart and error type.",
		}, []string{"mart", "error_type"}),
		lastSuccess: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "martprice_extract_last_success_timestamp_seconds",
			Help: "Unix time of the last entry collected from each mart.",
		}, []string{"mart"}),
	}
}

func (m *Metrics) call(mart, outcome string) {
	if m == nil {
		return
	}
	m.calls.WithLabelValues(mart, outcome).Inc()
}

func (m *Metrics) observe(mart string, d time.Duration) {
	if m == nil {
		return
	}
	m.latency.WithLabelValues(mart).Observe(d.Seconds())
}

// collected counts an entry and stamps the mart's last success.
func (m *Metrics) collected(mart string, at time.Time) {
	if m == nil {
		return
	}
	m.entries.WithLabelValues(mart).Inc()
	m.lastSuccess.WithLabelValues(mart).Set(float64(at.Unix()))
}

func (m *Metrics) retried(mart string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(mart).Inc()
}

func (m *Metrics) failed(mart, errorType string) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(mart, errorType).Inc()
}
