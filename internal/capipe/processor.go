package capipe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/seaward-systems/streamsift/internal/casink"
	"github.com/seaward-systems/streamsift/internal/checkpoint"
	"github.com/seaward-systems/streamsift/internal/event"
	"github.com/seaward-systems/streamsift/internal/logging"
	"github.com/seaward-systems/streamsift/internal/metrics"
)

// Sink is the processor's view of one schema buffer. *casink.SchemaSink is
// the production implementation.
type Sink interface {
	Append(ctx context.Context, record any, ts time.Time) (bool, error)
	Flush(ctx context.Context) error
	Counters(reset bool) casink.Counters
}

// Config holds the per-partition pipeline settings.
type Config struct {
	PartitionID        string
	StatsEnabled       bool
	CheckpointInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.CheckpointInterval == 0 {
		c.CheckpointInterval = 3 * time.Minute
	}
	return c
}

// Processor owns one partition of the analytics pipeline: decode by Type,
// route to the schema sink, checkpoint when data was flushed or the
// interval elapsed.
type Processor struct {
	cfg             Config
	logSink         Sink
	interactionSink Sink
	coord           *checkpoint.Coordinator
	log             *logging.Logger
	stats           BatchStats

	// Now and NewID are overridable for tests.
	Now   func() time.Time
	NewID func() string
}

// NewProcessor builds the pipeline for one partition over the two schema
// sinks fixed at construction.
func NewProcessor(cfg Config, logSink, interactionSink Sink, coord *checkpoint.Coordinator, log *logging.Logger) *Processor {
	cfg = cfg.withDefaults()
	return &Processor{
		cfg:             cfg,
		logSink:         logSink,
		interactionSink: interactionSink,
		coord:           coord,
		log:             log.With(logging.Pipeline("ca"), logging.Partition(cfg.PartitionID)),
		Now:             func() time.Time { return time.Now().UTC() },
		NewID:           uuid.NewString,
	}
}

// Open marks the partition as owned.
func (p *Processor) Open(ctx context.Context) error {
	p.log.Info("partition opened")
	return nil
}

// Close ends the partition lease. A clean shutdown drains the buffers and
// checkpoints; any other reason leaves buffered records to redelivery.
func (p *Processor) Close(ctx context.Context, reason event.CloseReason) error {
	p.log.Info("partition closing", slog.String("reason", reason.String()))
	if reason != event.ReasonShutdown {
		return nil
	}
	if err := p.flushAll(ctx); err != nil {
		return err
	}
	if err := p.coord.Force(ctx); err != nil {
		return fmt.Errorf("checkpoint on shutdown: %w", err)
	}
	metrics.CheckpointsTotal.WithLabelValues("ca").Inc()
	return nil
}

// ProcessBatch decodes and buffers one batch of raw events.
func (p *Processor) ProcessBatch(ctx context.Context, events []event.RawEvent) error {
	anyFlushed := false
	for _, ev := range events {
		flushed, err := p.processEvent(ctx, ev)
		if err != nil {
			return p.failBatch(err)
		}
		anyFlushed = anyFlushed || flushed
	}

	if anyFlushed || p.coord.Due() {
		if err := p.flushAll(ctx); err != nil {
			return p.failBatch(err)
		}
		p.stats.Reset()
		if err := p.coord.Force(ctx); err != nil {
			return p.failBatch(fmt.Errorf("checkpoint: %w", err))
		}
		metrics.CheckpointsTotal.WithLabelValues("ca").Inc()
	}
	return nil
}

// processEvent decodes one event and appends it to its sink. Decode
// failures are logged and the event dropped; only sink errors fail the
// batch.
func (p *Processor) processEvent(ctx context.Context, ev event.RawEvent) (bool, error) {
	typeAttr, _, err := ev.Properties.String(event.PropType)
	if err != nil {
		p.log.Warn("unreadable Type property, dropping event", logging.Err(err))
		p.stats.RecordError()
		return false, nil
	}
	msgID, _, _ := ev.Properties.String(event.PropMessageID)
	if msgID == "" {
		msgID = p.NewID()
	}

	switch typeAttr {
	case event.TypeSerilog:
		started := time.Now()
		rec, err := DecodeLogRecord(ev.Body, msgID, p.fallbackTimestamp(ev))
		if err != nil {
			p.dropUndecodable(SchemaLog, msgID, err)
			return false, nil
		}
		p.stats.Record(time.Since(started))

		flushed, err := p.logSink.Append(ctx, rec, rec.Timestamp)
		if err != nil {
			return false, err
		}
		if flushed && p.cfg.StatsEnabled {
			if err := p.appendStatsRecord(ctx); err != nil {
				return false, err
			}
		}
		return flushed, nil

	case event.TypeInteraction:
		started := time.Now()
		rec, err := DecodeInteractionRecord(ev.Body, msgID, p.fallbackTimestamp(ev))
		if err != nil {
			p.dropUndecodable(SchemaInteractions, msgID, err)
			return false, nil
		}
		p.stats.Record(time.Since(started))
		return p.interactionSink.Append(ctx, rec, rec.Timestamp)

	default:
		// Telemetry and resource events belong to the ES pipeline only.
		return false, nil
	}
}

// appendStatsRecord writes the synthesized batch-stats record into the Log
// sink and resets the sink's blob counters.
func (p *Processor) appendStatsRecord(ctx context.Context) error {
	now := p.Now()
	counters := p.logSink.Counters(true)

	var oldestLagMs int64
	if !counters.OldestDoc.IsZero() {
		if lag := now.Sub(counters.OldestDoc); lag > 0 {
			oldestLagMs = lag.Milliseconds()
		}
	}

	rec := statsLogRecord{
		Timestamp:              now,
		MessageID:              p.NewID(),
		Level:                  "Information",
		Message:                "analytics sink batch statistics",
		PartitionID:            p.cfg.PartitionID,
		DeserializedEvents:     p.stats.Count,
		DeserializationErrors:  p.stats.Errors,
		MinDeserializationMs:   p.stats.MinMs,
		MaxDeserializationMs:   p.stats.MaxMs,
		TotalDeserializationMs: p.stats.TotalMs,
		BlobsWritten:           counters.BlobsWritten,
		BlobBytes:              counters.BlobBytes,
		UploadErrors:           counters.UploadErrors,
		EventsTotal:            counters.EventsTotal,
		OldestDocLagMs:         oldestLagMs,
	}
	_, err := p.logSink.Append(ctx, rec, now)
	return err
}

func (p *Processor) flushAll(ctx context.Context) error {
	if err := p.logSink.Flush(ctx); err != nil {
		return err
	}
	return p.interactionSink.Flush(ctx)
}

func (p *Processor) fallbackTimestamp(ev event.RawEvent) time.Time {
	if tsAttr, ok, _ := ev.Properties.String(event.PropTimestamp); ok {
		if ts, err := time.Parse(time.RFC3339Nano, tsAttr); err == nil {
			return ts
		}
	}
	if !ev.EnqueuedAt.IsZero() {
		return ev.EnqueuedAt
	}
	return p.Now()
}

func (p *Processor) dropUndecodable(schema, msgID string, err error) {
	p.stats.RecordError()
	metrics.CADroppedRecordsTotal.WithLabelValues(schema, "decode").Inc()
	p.log.Warn("undecodable event dropped", logging.Schema(schema), logging.DocID(msgID), logging.Err(err))
}

func (p *Processor) failBatch(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		p.log.Info("batch cancelled", logging.Err(err))
	} else {
		p.log.Error("batch failed", logging.Err(err))
	}
	return err
}
