// Package metrics provides Prometheus instrumentation for the word filter.
// It exposes counters for filtered documents, replacements and settings
// saves, a histogram for filter latency and a gauge for preview sockets.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Document sources.
const (
	SourceHTTP    = "http"
	SourceNATS    = "nats"
	SourcePreview = "preview"
)

// Save outcomes.
const (
	OutcomeSaved       = "saved"
	OutcomeDenied      = "denied"
	OutcomeRateLimited = "rate_limited"
	OutcomeError       = "error"
)

var (
	// DocumentsTotal counts documents run through the filter, labeled by
	// the transport that delivered them.
	DocumentsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wordfilter_documents_total",
		Help: "Total number of documents filtered",
	}, []string{"source"}) // source = "http", "nats", "preview"

	// ReplacementsTotal counts replaced term occurrences.
	ReplacementsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "wordfilter_replacements_total",
		Help: "Total number of term occurrences replaced",
	})

	// FilterLatency records time spent filtering one document in seconds.
	FilterLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "wordfilter_filter_latency_seconds",
		Help:    "Document filtering latency in seconds",
		Buckets: []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .5},
	})

	// SettingsSaves counts admin save attempts by setting and outcome.
	SettingsSaves = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wordfilter_settings_saves_total",
		Help: "Total number of settings save attempts",
	}, []string{"setting", "outcome"})

	// PreviewConnections tracks open live-preview WebSocket connections.
	PreviewConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "wordfilter_preview_connections",
		Help: "Current number of open preview WebSocket connections",
	})
)

func init() {
	prometheus.MustRegister(
		DocumentsTotal,
		ReplacementsTotal,
		FilterLatency,
		SettingsSaves,
		PreviewConnections,
	)
}

// ObserveFilter records one filtered document.
func ObserveFilter(source string, replacements int, elapsed time.Duration) {
	DocumentsTotal.WithLabelValues(source).Inc()
	ReplacementsTotal.Add(float64(replacements))
	FilterLatency.Observe(elapsed.Seconds())
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
