// Package host defines the consumer-host contract both pipelines are driven
// by, and implements it over JetStream durable consumers.
package host

import (
	"context"

	"github.com/seaward-systems/streamsift/internal/event"
)

// CloseReason tells a closing partition processor why its lease ended. It
// is defined in internal/event to avoid an import cycle with the pipeline
// packages this package's adapters depend on.
type CloseReason = event.CloseReason

const (
	// ReasonShutdown is a clean stop; the processor issues an unconditional
	// checkpoint before returning.
	ReasonShutdown = event.ReasonShutdown

	// ReasonLeaseLost means another host took the partition. The processor
	// must not checkpoint.
	ReasonLeaseLost = event.ReasonLeaseLost

	// ReasonFailure is an abnormal close. The processor must not checkpoint.
	ReasonFailure = event.ReasonFailure
)

// Checkpointer acknowledges progress up to the latest delivered event of
// the partition it was created for.
type Checkpointer func(ctx context.Context) error

// PartitionProcessor receives the lifecycle calls for one partition. The
// host serializes Open, ProcessBatch, and Close within a partition.
type PartitionProcessor interface {
	Open(ctx context.Context) error
	ProcessBatch(ctx context.Context, events []event.RawEvent) error
	Close(ctx context.Context, reason CloseReason) error
}

// ProcessorFactory builds one PartitionProcessor per owned partition.
type ProcessorFactory interface {
	Create(partitionID string, checkpoint Checkpointer) (PartitionProcessor, error)
}
