package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// HTTPRequestDuration tracks HTTP request latency.
var HTTPRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "sessiond",
		Subsystem: "api",
		Name:      "request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"method", "path", "status"},
)

// SessionsCreatedTotal counts successful session creations.
var SessionsCreatedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "sessiond",
		Subsystem: "sessions",
		Name:      "created_total",
		Help:      "Total number of sessions created.",
	},
)

// SessionsExpiredTotal counts sessions expired by the revoker or on access.
var SessionsExpiredTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "sessiond",
		Subsystem: "sessions",
		Name:      "expired_total",
		Help:      "Total number of sessions expired by the background revoker or on access.",
	},
)

// SessionsRevokedTotal counts sessions revoked, by actor.
var SessionsRevokedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "sessiond",
		Subsystem: "sessions",
		Name:      "revoked_total",
		Help:      "Total number of sessions revoked.",
	},
	[]string{"actor"}, // "user" or "admin"
)

// IPPoolExhaustedTotal counts failed allocations due to pool exhaustion.
var IPPoolExhaustedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "sessiond",
		Subsystem: "ippool",
		Name:      "exhausted_total",
		Help:      "Total number of IP allocation attempts that found no free address.",
	},
)

// IPPoolReleasedTotal counts IPs released from quarantine back to FREE.
var IPPoolReleasedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "sessiond",
		Subsystem: "ippool",
		Name:      "released_total",
		Help:      "Total number of IP addresses released from quarantine.",
	},
)

// PeerRPCFailuresTotal counts failed calls to the wgctl daemon, by operation.
var PeerRPCFailuresTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "sessiond",
		Subsystem: "peer",
		Name:      "rpc_failures_total",
		Help:      "Total number of failed wgctl peer RPC calls.",
	},
	[]string{"operation"},
)

// All returns the service-specific metrics for registration.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		SessionsCreatedTotal,
		SessionsExpiredTotal,
		SessionsRevokedTotal,
		IPPoolExhaustedTotal,
		IPPoolReleasedTotal,
		PeerRPCFailuresTotal,
	}
}

// NewMetricsRegistry creates a Prometheus registry with Go/process collectors,
// the shared HTTPRequestDuration metric, and any additional collectors passed in.
func NewMetricsRegistry(extra ...prometheus.Collector) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		HTTPRequestDuration,
	)
	for _, c := range extra {
		reg.MustRegister(c)
	}
	return reg
}
