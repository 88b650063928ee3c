// Package metrics exposes the Prometheus instrumentation shared by
// the service binaries (cmd/management, which also hosts the
// Scheduler, and cmd/frontend): task
// lifecycle counts, CAS retry/contention, lease expiry, and audit
// pipeline health.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TasksByStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "teaclave_tasks_by_status",
			Help: "Current number of tasks in each lifecycle status",
		},
		[]string{"status"},
	)

	TaskTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "teaclave_task_transitions_total",
			Help: "Total number of task state machine transitions by event and outcome",
		},
		[]string{"event", "outcome"},
	)

	CASRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "teaclave_cas_retries_total",
			Help: "Total number of compare-and-swap retries by operation",
		},
		[]string{"operation"},
	)

	CASExhaustedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "teaclave_cas_exhausted_total",
			Help: "Total number of operations that gave up after exhausting their CAS retry budget",
		},
		[]string{"operation"},
	)

	LeaseExpiriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "teaclave_lease_expiries_total",
			Help: "Total number of task leases the scheduler's failure-detection tick found expired",
		},
	)

	SchedulingLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "teaclave_scheduling_latency_seconds",
			Help:    "Time from a task entering the ready queue to being pulled by a worker",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReadyQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "teaclave_ready_queue_depth",
			Help: "Current number of staged tasks waiting to be pulled",
		},
	)

	RegisteredWorkers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "teaclave_registered_workers",
			Help: "Current number of workers registered with the scheduler",
		},
	)

	AuditAppendsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "teaclave_audit_appends_total",
			Help: "Total number of audit entries appended, by result",
		},
		[]string{"result"},
	)

	AuditAgentEntriesDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "teaclave_audit_agent_entries_dropped_total",
			Help: "Total number of audit entries dropped because the agent's bounded buffer was full",
		},
	)

	AuditAgentFlushFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "teaclave_audit_agent_flush_failures_total",
			Help: "Total number of failed save_logs flush attempts by the audit agent",
		},
	)

	RPCRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "teaclave_rpc_requests_total",
			Help: "Total number of RPC requests handled, by method and domain error kind",
		},
		[]string{"method", "kind"},
	)

	RPCDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "teaclave_rpc_duration_seconds",
			Help:    "RPC handler duration in seconds by method",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	AttestationFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "teaclave_attestation_failures_total",
			Help: "Total number of rejected attested-TLS handshakes",
		},
	)
)

func init() {
	prometheus.MustRegister(
		TasksByStatus,
		TaskTransitionsTotal,
		CASRetriesTotal,
		CASExhaustedTotal,
		LeaseExpiriesTotal,
		SchedulingLatency,
		ReadyQueueDepth,
		RegisteredWorkers,
		AuditAppendsTotal,
		AuditAgentEntriesDroppedTotal,
		AuditAgentFlushFailuresTotal,
		RPCRequestsTotal,
		RPCDuration,
		AttestationFailuresTotal,
	)
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
