package event

import "time"

// Index family names. Time-partitioned families resolve to
// "<base>-<yyyy.MM.dd>"; azure-resources is flat.
const (
	IndexLogstash          = "logstash"
	IndexRoboInteractions  = "robointeractions"
	IndexExternalTelemetry = "externaltelemetry"
	IndexAzureResources    = "azure-resources"
	IndexIngestionStats    = "ingestionstats"
	IndexAbandonedDocs     = "abandoneddocs"
)

// Document type discriminators within an index family.
const (
	DocTypeLogEvent          = "logevent"
	DocTypeInteraction       = "interaction"
	DocTypeTelemetryEvent    = "telemetryevent"
	DocTypeMetadata          = "metadata"
	DocTypeBatchStats        = "batchstats"
	DocTypePerPartitionStats = "perpartitionstats"
	DocTypeAbandonedDocInfo  = "abandoneddocinfo"
)

// BulkItem is the normalized, index-routed form of one valid event.
// Body never contains a newline; the classifier rejects bodies that do.
type BulkItem struct {
	IndexBase   string
	IndexName   string
	DocType     string
	DocID       string
	Timestamp   time.Time
	EnqueueTime time.Time
	Body        string
}

// InvalidItem describes an event that could not become a valid BulkItem.
// It is quarantined without submission; Reason carries the classification
// failure text.
type InvalidItem struct {
	DocID       string
	Timestamp   time.Time
	EnqueueTime time.Time
	Body        string
	Reason      string
}

// TimePartitionedIndex resolves a time-partitioned index family to its
// dated destination, e.g. "logstash-2026.08.06".
func TimePartitionedIndex(base string, ts time.Time) string {
	return base + "-" + ts.UTC().Format("2006.01.02")
}
