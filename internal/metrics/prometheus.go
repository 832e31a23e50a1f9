// Package metrics provides Prometheus metrics collection for the chat
// service. It tracks turn outcomes, retrieval volume, generation latency and
// memory distillation results.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "wellbot"

// LatencyBuckets defines histogram buckets for latency metrics (in seconds).
// Wide on the high end because local model generation routinely takes
// multiple seconds.
var LatencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5,
	1.0, 2.0, 3.0, 5.0, 7.5, 10.0,
	15.0, 20.0, 30.0, 60.0, 120.0, 300.0,
}

var (
	// TurnsTotal counts processed turns by outcome ("ok" or the pipeline
	// error type).
	TurnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Total number of processed chat turns",
		},
		[]string{"outcome"},
	)

	// TurnLatency tracks end-to-end turn latency.
	TurnLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_latency_seconds",
			Help:      "End-to-end turn latency in seconds",
			Buckets:   LatencyBuckets,
		},
		[]string{"model"},
	)

	// RetrievedDocuments counts documents returned per search by collection.
	RetrievedDocuments = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retrieved_documents",
			Help:      "Documents returned per vector search",
			Buckets:   []float64{0, 1, 2, 3, 4, 6, 8, 12, 16},
		},
		[]string{"collection"},
	)

	// GenerationMode counts generation calls by delivery mode
	// ("stream", "fallback", "blocking").
	GenerationMode = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generation_mode_total",
			Help:      "Generation calls by delivery mode",
		},
		[]string{"mode"},
	)

	// TokenFramesSent counts token frames delivered to clients.
	TokenFramesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_frames_sent_total",
			Help:      "Total token frames delivered over the transport",
		},
	)

	// DistillationsTotal counts end-of-session distillations by result
	// ("written", "nothing_durable", "empty_history", "error").
	DistillationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "distillations_total",
			Help:      "End-of-session memory distillations by result",
		},
		[]string{"result"},
	)

	// ActiveSessions gauges currently connected chat sessions.
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Currently connected chat sessions",
		},
	)
)
