package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CaptureObserved = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eventsynth_capture_requests_observed_total",
		Help: "Outgoing browser requests seen during capture, labelled by whether they matched the vendor pattern.",
	}, []string{"matched"})

	CaptureDecoded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eventsynth_capture_payloads_decoded_total",
		Help: "Captured payloads, labelled by the decode stage that succeeded (\"none\" on failure).",
	}, []string{"stage"})

	ReplaySessions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eventsynth_replay_sessions_total",
		Help: "Synthetic user sessions replayed, labelled by path.",
	}, []string{"path_id"})

	ReplayRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eventsynth_replay_requests_total",
		Help: "Outbound replay requests, labelled by status (success, http_error, transport_error).",
	}, []string{"status"})

	ReplayBatches = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eventsynth_replay_batches_total",
		Help: "Replay batches fully dispatched.",
	})

	ReplayRequestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "eventsynth_replay_request_duration_ms",
		Help:    "Outbound replay request latency in milliseconds.",
		Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	})

	Executions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eventsynth_executions_total",
		Help: "Record-and-replay executions, labelled by mode and outcome.",
	}, []string{"mode", "outcome"})

	JobQueueUtilization = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "eventsynth_job_queue_utilization_ratio",
		Help: "Current async execution queue utilization (0–1).",
	})
)
