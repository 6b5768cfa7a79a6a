// Package metrics exposes Prometheus instrumentation for the graph engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal counts connection attempts by outcome
	// ("created", "duplicate", "self", "type_mismatch", ...).
	ConnectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nodeflow_connections_total",
		Help: "Connection create attempts by result",
	}, []string{"result"})

	// AnalysisDuration tracks graph analysis latency per operation.
	AnalysisDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "nodeflow_analysis_duration_seconds",
		Help:    "Duration of graph analysis operations",
		Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5},
	}, []string{"operation"})

	// ExecutionsTotal counts executions by terminal phase.
	ExecutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nodeflow_executions_total",
		Help: "Workflow executions by final status",
	}, []string{"status"})

	// ExecutionsActive is the number of executions currently running.
	ExecutionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "nodeflow_executions_active",
		Help: "Workflow executions currently running",
	})

	// PollsTotal counts backend status polls by result ("ok", "error").
	PollsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nodeflow_execution_polls_total",
		Help: "Execution status polls by result",
	}, []string{"result"})
)

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
