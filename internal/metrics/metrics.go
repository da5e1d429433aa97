// Package metrics holds the prometheus collectors for both pipelines.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ES pipeline metrics
	ESBatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamsift_es_batches_total",
			Help: "Total number of batches processed by the ES pipeline",
		},
		[]string{"status"},
	)

	ESEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamsift_es_events_total",
			Help: "Total number of events classified by the ES pipeline",
		},
		[]string{"outcome"},
	)

	ESFailedDocsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "streamsift_es_failed_docs_total",
			Help: "Total number of documents that failed the first bulk submit",
		},
	)

	ESAbandonedDocsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "streamsift_es_abandoned_docs_total",
			Help: "Total number of documents quarantined to the abandoned index",
		},
	)

	ESSubmitDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "streamsift_es_submit_duration_seconds",
			Help:    "Duration of the first bulk submit including retries",
			Buckets: prometheus.DefBuckets,
		},
	)

	// CA pipeline metrics
	CARecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamsift_ca_records_total",
			Help: "Total number of records appended per schema",
		},
		[]string{"schema"},
	)

	CADroppedRecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamsift_ca_dropped_records_total",
			Help: "Total number of records dropped (oversize, unencodable or undecodable)",
		},
		[]string{"schema", "reason"},
	)

	CAFlushesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamsift_ca_flushes_total",
			Help: "Total number of buffer flushes per schema",
		},
		[]string{"schema"},
	)

	CABlobBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamsift_ca_blob_bytes_total",
			Help: "Total payload bytes uploaded per schema",
		},
		[]string{"schema"},
	)

	CABlobErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "streamsift_ca_blob_errors_total",
			Help: "Total number of blob upload attempts that failed",
		},
	)

	CANotifyFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "streamsift_ca_notify_failures_total",
			Help: "Total number of notification callbacks that exhausted retries",
		},
	)

	// Shared
	CheckpointsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamsift_checkpoints_total",
			Help: "Total number of partition checkpoints issued",
		},
		[]string{"pipeline"},
	)
)
