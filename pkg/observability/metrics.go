package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Authorization metrics. Decision counters are labelled with the
// outcome and the check that produced it so intrusion-detection
// dashboards can separate capability denials from ownership denials.
var (
	AuthzDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stacks",
		Subsystem: "authz",
		Name:      "decisions_total",
		Help:      "Authorization decisions by outcome and check.",
	}, []string{"decision", "check"})

	ResolveDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "stacks",
		Subsystem: "authz",
		Name:      "resolve_duration_seconds",
		Help:      "Latency of effective permission resolution.",
		Buckets:   prometheus.DefBuckets,
	})

	SessionRefreshFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "stacks",
		Subsystem: "auth",
		Name:      "session_refresh_failures_total",
		Help:      "Sessions invalidated because the backing user record was gone.",
	})

	ValidationCacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stacks",
		Subsystem: "validation",
		Name:      "cache_hits_total",
		Help:      "Email validation cache outcomes by layer.",
	}, []string{"layer"})
)
