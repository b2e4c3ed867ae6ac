// Package metrics exposes Prometheus instruments for the TBDB integration.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TBDBRequests counts API responses by endpoint and HTTP status code.
	TBDBRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shelflife_tbdb_requests_total",
			Help: "TBDB API responses by endpoint and status code",
		},
		[]string{"endpoint", "code"},
	)

	TBDBRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "shelflife_tbdb_request_duration_seconds",
			Help:    "TBDB API request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	TBDBThrottleWait = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "shelflife_tbdb_throttle_wait_seconds",
		Help:    "Time spent self-throttling before TBDB requests",
		Buckets: []float64{0, 0.1, 0.25, 0.5, 1, 2, 5},
	})

	TBDBRateLimited = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shelflife_tbdb_rate_limited_total",
			Help: "429/503 responses by how they were handled",
		},
		[]string{"action"}, // backoff, rate_limit_error, quota_exhausted
	)

	TBDBQuotaRemaining = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "shelflife_tbdb_quota_remaining",
		Help: "Remaining daily TBDB calls from the latest response",
	})

	// EnrichmentJobs counts job attempts by their outcome.
	EnrichmentJobs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shelflife_enrichment_jobs_total",
			Help: "Enrichment job attempts by outcome",
		},
		[]string{"outcome"}, // done, retry, discard, failed
	)

	CoverDownloads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shelflife_cover_downloads_total",
			Help: "Cover image downloads by result",
		},
		[]string{"result"}, // ok, error, breaker_open, skipped
	)
)
