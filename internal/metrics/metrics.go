// Package metrics holds the Prometheus collectors exported by the job runner.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Invocations counts handler invocations by outcome (ok, empty, timeout, fault).
	Invocations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ojs_jobrunner_invocations_total",
		Help: "Total number of handler invocations.",
	}, []string{"job", "kind", "outcome"})

	// InvocationDuration measures handler wall time.
	InvocationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ojs_jobrunner_invocation_duration_seconds",
		Help:    "Duration of handler invocations in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job", "kind"})

	// Records counts subscription records; stage is received or accepted.
	Records = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ojs_jobrunner_records_total",
		Help: "Total number of records seen by subscription jobs.",
	}, []string{"job", "stage"})

	// Statements counts statements forwarded to the output sink.
	Statements = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ojs_jobrunner_statements_total",
		Help: "Total number of statements applied to the output sink.",
	}, []string{"outcome"})

	// Jobs tracks how many jobs are in each state.
	Jobs = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ojs_jobrunner_jobs",
		Help: "Number of registered jobs by kind and state.",
	}, []string{"kind", "state"})

	// ServerInfo exposes the running version.
	ServerInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ojs_jobrunner_server_info",
		Help: "Job runner build information.",
	}, []string{"version"})
)

// Init sets the server info gauge.
func Init(version string) {
	ServerInfo.WithLabelValues(version).Set(1)
}

// ObserveInvocation records one finished handler invocation.
func ObserveInvocation(job, kind, outcome string, seconds float64) {
	Invocations.WithLabelValues(job, kind, outcome).Inc()
	InvocationDuration.WithLabelValues(job, kind).Observe(seconds)
}

// StateChange moves one job between state gauges. An empty from only increments.
func StateChange(kind, from, to string) {
	if from == to {
		return
	}
	if from != "" {
		Jobs.WithLabelValues(kind, from).Dec()
	}
	if to != "" {
		Jobs.WithLabelValues(kind, to).Inc()
	}
}
