// Package metrics is the flywheel's Prometheus self-exposition surface:
// drop counters, DLQ counters, retry counters, queue-depth gauges and
// confidence histograms, collected the way the pack's other ingest
// pipelines (stage-level promauto vars registered against the default
// registerer) do it.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var confidenceBuckets = prometheus.LinearBuckets(0, 0.1, 11)

var (
	// SamplesDropped counts a sample or event discarded without retry.
	// It is incremented for an undecodable datapoints.raw payload and for
	// a failed individual correlation pair.
	SamplesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flywheel_samples_dropped_total",
		Help: "samples or events dropped without retry, by stage and reason",
	}, []string{"stage", "reason"})

	// DLQMessages counts a message routed to a dead-letter topic.
	DLQMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flywheel_dlq_messages_total",
		Help: "messages published to a dead-letter topic",
	}, []string{"topic"})

	// RetriesDeferred counts a sample deferred into a retry window
	// (e.g. an unresolved point address) rather than dropped outright.
	RetriesDeferred = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flywheel_retries_deferred_total",
		Help: "samples deferred into a retry window before falling through to the DLQ",
	}, []string{"stage"})

	// QueueDepth reports the current size of an in-memory backlog, such
	// as the ingestion consumer's unresolved-address retry buffer.
	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "flywheel_queue_depth",
		Help: "current size of an in-process backlog",
	}, []string{"queue"})

	// PatternConfidence observes a pattern's confidence every time a
	// feedback decision nudges it, so operators can watch the
	// distribution drift rather than only its latest point value.
	PatternConfidence = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "flywheel_pattern_confidence",
		Help:    "pattern confidence at the time of each feedback decision",
		Buckets: confidenceBuckets,
	}, []string{"pattern"})
)
