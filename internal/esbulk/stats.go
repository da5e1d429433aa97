package esbulk

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/seaward-systems/streamsift/internal/event"
)

// BatchTimings carries the observability counters from the previous batch
// that are embedded in the next batch's stats items.
type BatchTimings struct {
	Elapsed       time.Duration
	FailedDocs    int
	AbandonedDocs int
}

type batchStatsBody struct {
	LastMessageTimestampInBatch            time.Time `json:"lastMessageTimestampInBatch"`
	LastMessageEnqueueTimeInBatch          time.Time `json:"lastMessageEnqueueTimeInBatch"`
	OldestMessageTimestampInBatch          time.Time `json:"oldestMessageTimestampInBatch"`
	OldestMessageEnqueueTimeInBatch        time.Time `json:"oldestMessageEnqueueTimeInBatch"`
	IDOfOldestMessageInBatch               string    `json:"idOfOldestMessageInBatch"`
	IDOfOldestEnqueuedMessageInBatch       string    `json:"idOfOldestEnqueuedMessageInBatch"`
	LagInMilliseconds                      int64     `json:"lagInMilliseconds"`
	MaxLagInMilliseconds                   int64     `json:"maxLagInMilliseconds"`
	LagInMinutes                           float64   `json:"lagInMinutes"`
	MaxLagInMinutes                        float64   `json:"maxLagInMinutes"`
	LagFromMessageCreationTimeInMinutes    float64   `json:"lagFromMessageCreationTimeInMinutes"`
	MaxLagFromMessageCreationTimeInMinutes float64   `json:"maxLagFromMessageCreationTimeInMinutes"`
	Timestamp                              time.Time `json:"timestamp"`
	LastBatchElapsedTimeInMilliseconds     int64     `json:"lastBatchElapsedTimeInMilliseconds"`
	TaskID                                 string    `json:"taskId"`
	BatchSize                              int       `json:"batchSize"`
	LastBatchFailedDocuments               int       `json:"lastBatchFailedDocuments"`
	LastBatchAbandonedDocuments            int       `json:"lastBatchAbandonedDocuments"`
}

type perPartitionStatsBody struct {
	PartitionID          string    `json:"partitionId"`
	TaskID               string    `json:"taskId"`
	LagInMilliseconds    int64     `json:"lagInMilliseconds"`
	MaxLagInMilliseconds int64     `json:"maxLagInMilliseconds"`
	LagInMinutes         float64   `json:"lagInMinutes"`
	MaxLagInMinutes      float64   `json:"maxLagInMinutes"`
	Timestamp            time.Time `json:"timestamp"`
	BatchSize            int       `json:"batchSize"`
}

// StatsBuilder produces the two self-instrumentation items appended to each
// framed batch. NewID and Now are overridable for tests.
type StatsBuilder struct {
	PartitionID string
	Now         func() time.Time
	NewID       func() string
}

func (b *StatsBuilder) now() time.Time {
	if b.Now != nil {
		return b.Now()
	}
	return time.Now().UTC()
}

func (b *StatsBuilder) newID() string {
	if b.NewID != nil {
		return b.NewID()
	}
	return uuid.NewString()
}

// Build computes batch aggregates over the framed user items and returns the
// batchstats and perpartitionstats items, in that order. Negative lags are
// clamped to zero.
func (b *StatsBuilder) Build(items []event.BulkItem, last BatchTimings) []event.BulkItem {
	now := b.now()

	stats := batchStatsBody{
		Timestamp:                          now,
		LastBatchElapsedTimeInMilliseconds: last.Elapsed.Milliseconds(),
		TaskID:                             b.PartitionID,
		BatchSize:                          len(items),
		LastBatchFailedDocuments:           last.FailedDocs,
		LastBatchAbandonedDocuments:        last.AbandonedDocs,
	}

	if len(items) > 0 {
		lastItem := items[len(items)-1]
		oldestByTS := items[0]
		oldestByEnqueue := items[0]
		for _, it := range items[1:] {
			if it.Timestamp.Before(oldestByTS.Timestamp) {
				oldestByTS = it
			}
			if it.EnqueueTime.Before(oldestByEnqueue.EnqueueTime) {
				oldestByEnqueue = it
			}
		}

		stats.LastMessageTimestampInBatch = lastItem.Timestamp
		stats.LastMessageEnqueueTimeInBatch = lastItem.EnqueueTime
		stats.OldestMessageTimestampInBatch = oldestByTS.Timestamp
		stats.OldestMessageEnqueueTimeInBatch = oldestByEnqueue.EnqueueTime
		stats.IDOfOldestMessageInBatch = oldestByTS.DocID
		stats.IDOfOldestEnqueuedMessageInBatch = oldestByEnqueue.DocID

		lag := clampDuration(now.Sub(lastItem.EnqueueTime))
		maxLag := clampDuration(now.Sub(oldestByEnqueue.EnqueueTime))
		stats.LagInMilliseconds = lag.Milliseconds()
		stats.MaxLagInMilliseconds = maxLag.Milliseconds()
		stats.LagInMinutes = lag.Minutes()
		stats.MaxLagInMinutes = maxLag.Minutes()
		stats.LagFromMessageCreationTimeInMinutes = clampDuration(now.Sub(lastItem.Timestamp)).Minutes()
		stats.MaxLagFromMessageCreationTimeInMinutes = clampDuration(now.Sub(oldestByTS.Timestamp)).Minutes()
	}

	partition := perPartitionStatsBody{
		PartitionID:          b.PartitionID,
		TaskID:               b.PartitionID,
		LagInMilliseconds:    stats.LagInMilliseconds,
		MaxLagInMilliseconds: stats.MaxLagInMilliseconds,
		LagInMinutes:         stats.LagInMinutes,
		MaxLagInMinutes:      stats.MaxLagInMinutes,
		Timestamp:            now,
		BatchSize:            len(items),
	}

	return []event.BulkItem{
		b.statsItem(event.DocTypeBatchStats, stats, now),
		b.statsItem(event.DocTypePerPartitionStats, partition, now),
	}
}

func (b *StatsBuilder) statsItem(docType string, body any, now time.Time) event.BulkItem {
	encoded, _ := json.Marshal(body)
	return event.BulkItem{
		IndexBase:   event.IndexIngestionStats,
		IndexName:   event.TimePartitionedIndex(event.IndexIngestionStats, now),
		DocType:     docType,
		DocID:       b.newID(),
		Timestamp:   now,
		EnqueueTime: now,
		Body:        string(encoded),
	}
}

func clampDuration(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}
