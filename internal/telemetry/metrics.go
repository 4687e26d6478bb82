package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	EnqueueCounter     = prometheus.NewCounter(prometheus.CounterOpts{Name: "discovery_jobs_enqueued_total", Help: "Total discovery jobs enqueued"})
	RateLimitRejects   = prometheus.NewCounter(prometheus.CounterOpts{Name: "trigger_rate_limit_rejects_total", Help: "Trigger requests rejected by rate limiter"})
	SearchesTotal      = prometheus.NewCounter(prometheus.CounterOpts{Name: "provider_searches_total", Help: "External provider search calls"})
	SearchFailures     = prometheus.NewCounter(prometheus.CounterOpts{Name: "provider_search_failures_total", Help: "External provider search calls that failed"})
	PostsDiscovered    = prometheus.NewCounter(prometheus.CounterOpts{Name: "posts_discovered_total", Help: "Newly persisted posts"})
	ChannelsDiscovered = prometheus.NewCounter(prometheus.CounterOpts{Name: "channels_discovered_total", Help: "Newly persisted channels"})
	AnalysisFailures   = prometheus.NewCounter(prometheus.CounterOpts{Name: "analysis_failures_total", Help: "Fire-and-forget analyses that failed"})
	JobsCompleted      = prometheus.NewCounter(prometheus.CounterOpts{Name: "discovery_jobs_completed_total", Help: "Discovery jobs that completed"})
	JobsFailed         = prometheus.NewCounter(prometheus.CounterOpts{Name: "discovery_jobs_failed_total", Help: "Discovery jobs that failed"})
	JobsDeadLetter     = prometheus.NewCounter(prometheus.CounterOpts{Name: "discovery_jobs_dead_letter_total", Help: "Discovery jobs moved to DLQ"})
	QueueDepthGauge    = prometheus.NewGauge(prometheus.GaugeOpts{Name: "discovery_queue_depth", Help: "Ready queue depth across job kinds"})
	InFlightGauge      = prometheus.NewGauge(prometheus.GaugeOpts{Name: "discovery_jobs_inflight", Help: "Jobs currently leased"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			EnqueueCounter,
			RateLimitRejects,
			SearchesTotal,
			SearchFailures,
			PostsDiscovered,
			ChannelsDiscovered,
			AnalysisFailures,
			JobsCompleted,
			JobsFailed,
			JobsDeadLetter,
			QueueDepthGauge,
			InFlightGauge,
		)
	})
	return promhttp.Handler()
}
