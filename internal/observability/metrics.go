package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "dispatch_core"

var (
	AuthResults = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "auth_results_total", Help: "Session resolutions by resolver and outcome"},
		[]string{"resolver", "outcome"},
	)
	SessionTouchErrors = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "session_touch_errors_total", Help: "Failed last_seen_at updates"})

	RateLimitDenied  = promauto.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "rate_limit_denied_total", Help: "Requests denied by the rate limiter"}, []string{"class"})
	RateLimitEntries = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "rate_limit_entries", Help: "Identifiers tracked after the last sweep"})

	MatchEligible = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: "match_eligible_jobs", Help: "Eligible jobs per match", Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100}})
	MatchFlagged  = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "match_flagged_jobs_total", Help: "Jobs excluded for invalid destination"})
	MatchLatency  = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: "match_latency_seconds", Help: "Match latency seconds"})

	LedgerCreated     = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "ledger_entries_created_total", Help: "Ledger entries created"})
	LedgerTransitions = promauto.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "ledger_transitions_total", Help: "Ledger state transitions"}, []string{"from", "to", "override"})
	PayoutMismatches  = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "payout_mismatches_total", Help: "Recomputed payouts disagreeing with the stored estimate"})
	Disbursements     = promauto.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "payout_disbursements_total", Help: "Payout transfers by outcome"}, []string{"outcome"})

	StoreErrors = promauto.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "store_errors_total", Help: "Record store failures"}, []string{"op"})

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
