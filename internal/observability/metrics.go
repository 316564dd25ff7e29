package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrderTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "vai_no_pulo", Name: "order_transitions_total", Help: "Order state transitions by resulting status"},
		[]string{"to"},
	)
	OrderConflictsTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: "vai_no_pulo", Name: "order_conflicts_total", Help: "Order transitions lost to a concurrent update"})

	MatchEvaluationsTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: "vai_no_pulo", Name: "match_evaluations_total", Help: "Route match evaluations performed"})
	MatchHitsTotal        = promauto.NewCounter(prometheus.CounterOpts{Namespace: "vai_no_pulo", Name: "match_hits_total", Help: "Route match evaluations that produced a match"})

	NotifyPublishedTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: "vai_no_pulo", Name: "notify_published_total", Help: "Order events published to the event stream"})
	NotifyDroppedTotal   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "vai_no_pulo", Name: "notify_dropped_total", Help: "Order events that failed to publish"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "vai_no_pulo", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "vai_no_pulo",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
