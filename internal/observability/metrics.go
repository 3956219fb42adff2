package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "roadside_dispatch"

var (
	AssignmentsCreated = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "assignments_created_total", Help: "Assignments created"})
	Transitions        = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "transitions_total", Help: "Applied status transitions"},
		[]string{"source", "from", "to"},
	)
	Conflicts = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "transition_conflicts_total", Help: "Conditional updates that lost a race"},
		[]string{"source"},
	)
	DriverReplies = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "driver_replies_total", Help: "Inbound driver messages by keyword and result"},
		[]string{"keyword", "result"},
	)
	IVROutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "ivr_outcomes_total", Help: "IVR digit lookups by decision"},
		[]string{"action"},
	)
	NotificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "notifications_sent_total", Help: "Notifications handed to a transport"},
		[]string{"channel", "transport"},
	)
	NotificationsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "notifications_failed_total", Help: "Notifications a transport rejected"},
		[]string{"channel", "transport"},
	)

	RankingLatency        = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: "ranking_latency_seconds", Help: "Driver ranking latency seconds"})
	RankingCandidates     = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: "ranking_candidates", Help: "Drivers returned per ranking", Buckets: []float64{0, 1, 2, 5, 10, 20, 50, 100}})
	RankingLookupFailures = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "ranking_lookup_failures_total", Help: "Active assignment checks that failed and excluded a driver"})
	DriversOnline         = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "drivers_online", Help: "Drivers flagged online in the last roster read"})

	RateLimited = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "rate_limited_total", Help: "Requests rejected by the rate limiter"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
