// Package metrics holds the daemon's prometheus collectors. They register
// with the default registry, which the /metrics endpoint serves.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Capture and transcript outcomes.
const (
	OutcomeAccepted   = "accepted"
	OutcomeRejected   = "rejected"
	OutcomeSuppressed = "suppressed"
	OutcomeInvalid    = "invalid"
	OutcomeFailed     = "failed"
	OutcomePaused     = "paused"
)

// Synthesis outcomes.
const (
	SynthesisOK      = "ok"
	SynthesisError   = "error"
	SynthesisBusy    = "busy"
	SynthesisSkipped = "below_threshold"
)

var (
	Captures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "opscribe_captures_total",
		Help: "Screen captures by gate and validation outcome",
	}, []string{"outcome"})

	Transcripts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "opscribe_transcript_fragments_total",
		Help: "Transcript fragments by outcome",
	}, []string{"outcome"})

	Syntheses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "opscribe_syntheses_total",
		Help: "Synthesis attempts by document kind and outcome",
	}, []string{"kind", "outcome"})

	SynthesisDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "opscribe_synthesis_duration_seconds",
		Help:    "Synthesis backend call duration",
		Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 60, 120},
	}, []string{"kind"})

	DescribeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "opscribe_describe_duration_seconds",
		Help:    "Vision describe call duration",
		Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20},
	})

	Listeners = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "opscribe_listeners",
		Help: "Connected websocket listeners across all meetings",
	})

	BroadcastDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "opscribe_broadcast_dropped_total",
		Help: "Messages dropped because a listener buffer was full",
	})

	RelayErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "opscribe_relay_errors_total",
		Help: "Failed cross-instance relay publishes",
	})

	BackendCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "opscribe_backend_calls_total",
		Help: "Inference backend chat calls by backend and outcome",
	}, []string{"backend", "outcome"})

	BackendLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "opscribe_backend_call_duration_seconds",
		Help:    "Inference backend chat call duration",
		Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
	}, []string{"backend"})

	FlowchartJobs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "opscribe_flowchart_jobs_total",
		Help: "Flowchart derivation jobs by outcome",
	}, []string{"outcome"})
)
