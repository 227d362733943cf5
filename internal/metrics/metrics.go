// Package metrics holds the Prometheus collectors shared by the pipeline
// and the reports API.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	FetchTotal     *prometheus.CounterVec
	FetchDuration  *prometheus.HistogramVec
	RowsNormalized *prometheus.CounterVec
	HTTPRequests   *prometheus.CounterVec
	HTTPLatency    *prometheus.HistogramVec
}

// New registers the pipeline collectors on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		FetchTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "greenpulse_fetch_total",
			Help: "Fetch attempts per source and outcome.",
		}, []string{"source", "outcome"}),
		FetchDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "greenpulse_fetch_duration_seconds",
			Help:    "Duration of the fetch-normalize-persist path per source.",
			Buckets: prometheus.DefBuckets,
		}, []string{"source"}),
		RowsNormalized: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "greenpulse_rows_normalized_total",
			Help: "Observation rows emitted by normalization per source.",
		}, []string{"source"}),
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "greenpulse_http_requests_total",
			Help: "Reports API requests per route and status code.",
		}, []string{"route", "code"}),
		HTTPLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "greenpulse_http_request_duration_seconds",
			Help:    "Reports API request latency per route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}
}
