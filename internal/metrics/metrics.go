// Package metrics declares the process-wide Prometheus collectors the
// Coordinator and Worker report against, as package-level promauto
// collectors registered at import time.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cdc_relay_events_processed_total",
		Help: "counter of change events admitted into the buffer",
	}, []string{"source_type", "source_id"})

	BufferOccupancy = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "cdc_relay_buffer_occupancy",
		Help: "number of messages currently held in the coordinator's buffer",
	}, []string{"source_type", "source_id"})

	FlushesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cdc_relay_flushes_total",
		Help: "counter of flush attempts by outcome",
	}, []string{"source_type", "source_id", "outcome"})

	CheckpointWritesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cdc_relay_checkpoint_writes_total",
		Help: "counter of checkpoint store writes by outcome",
	}, []string{"source_type", "source_id", "outcome"})

	WorkerIdleSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cdc_relay_worker_idle_backoff_seconds",
		Help:    "observed idle backoff durations slept by the worker",
		Buckets: prometheus.ExponentialBuckets(0.1, 1.5, 10),
	}, []string{"source_type", "source_id"})

	SourceServerIDCollisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cdc_relay_source_server_id_collisions_total",
		Help: "counter of replication server-id registration collisions encountered on connect",
	}, []string{"source_type", "source_id"})
)

// Outcome labels used with FlushesTotal and CheckpointWritesTotal.
const (
	OutcomeOK     = "ok"
	OutcomeFailed = "failed"
	OutcomeElided = "elided"
)
