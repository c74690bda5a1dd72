package messaging

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus counters for engine diagnostics. Registered on the default
// registry; the app exposes them on /metrics.
var (
	metricCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "skiff_conversation_cache_hits_total",
		Help: "Conversation cache lookups served from memory or the durable tier.",
	})
	metricCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "skiff_conversation_cache_misses_total",
		Help: "Conversation cache lookups that fell through to the network.",
	})
	metricCacheEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "skiff_conversation_cache_evictions_total",
		Help: "Cache entries evicted by LRU pressure or TTL expiry.",
	})

	metricPollFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "skiff_poll_failures_total",
		Help: "Failed poll fetches across all conversations.",
	})
	metricReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "skiff_poll_reconnects_total",
		Help: "Successful recoveries from the disconnected state.",
	})

	metricSends = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "skiff_sends_total",
		Help: "Send attempts by terminal result.",
	}, []string{"result"})

	metricRateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "skiff_rate_limited_sends_total",
		Help: "Sends rejected by the per-user sliding window limiter.",
	})
)

const (
	sendResultConfirmed = "confirmed"
	sendResultFailed    = "failed"
	sendResultRejected  = "rejected"
)
