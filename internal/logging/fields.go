package logging

import (
	"log/slog"
	"time"
)

// Common field names for consistent logging across the pipelines.
const (
	FieldPipeline  = "pipeline"
	FieldPartition = "partition"
	FieldIndex     = "index"
	FieldSchema    = "schema"
	FieldDocID     = "doc_id"
	FieldBlob      = "blob"
	FieldContainer = "container"
	FieldAccount   = "account"
	FieldAttempt   = "attempt"
	FieldBatchSize = "batch_size"
	FieldDuration  = "duration_ms"
	FieldError     = "error"
)

// Pipeline returns a slog attribute for the pipeline name ("es" or "ca").
func Pipeline(name string) slog.Attr {
	return slog.String(FieldPipeline, name)
}

// Partition returns a slog attribute for the partition id.
func Partition(id string) slog.Attr {
	return slog.String(FieldPartition, id)
}

// Index returns a slog attribute for the destination index name.
func Index(name string) slog.Attr {
	return slog.String(FieldIndex, name)
}

// Schema returns a slog attribute for the CA schema name.
func Schema(name string) slog.Attr {
	return slog.String(FieldSchema, name)
}

// DocID returns a slog attribute for a document id.
func DocID(id string) slog.Attr {
	return slog.String(FieldDocID, id)
}

// Attempt returns a slog attribute for a retry attempt counter.
func Attempt(n int) slog.Attr {
	return slog.Int(FieldAttempt, n)
}

// BatchSize returns a slog attribute for the number of events in a batch.
func BatchSize(n int) slog.Attr {
	return slog.Int(FieldBatchSize, n)
}

// Duration returns a slog attribute for an elapsed duration in milliseconds.
func Duration(d time.Duration) slog.Attr {
	return slog.Int64(FieldDuration, d.Milliseconds())
}

// Err returns a slog attribute for an error value.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.String(FieldError, "")
	}
	return slog.String(FieldError, err.Error())
}
