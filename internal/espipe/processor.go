// Package espipe orchestrates the search-engine delivery pipeline for one
// partition: classify, frame, submit, retry failures, quarantine survivors.
package espipe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/seaward-systems/streamsift/internal/checkpoint"
	"github.com/seaward-systems/streamsift/internal/esbulk"
	"github.com/seaward-systems/streamsift/internal/event"
	"github.com/seaward-systems/streamsift/internal/logging"
	"github.com/seaward-systems/streamsift/internal/metrics"
)

// BulkSender submits one framed bulk body. *esbulk.Submitter is the
// production implementation.
type BulkSender interface {
	Submit(ctx context.Context, body []byte) esbulk.Response
}

// Config holds the per-partition pipeline settings.
type Config struct {
	PartitionID            string
	StatsEnabled           bool
	MaxFailedDocRetries    int
	MaxAbandonedDocRetries int
	CheckpointInterval     time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxFailedDocRetries == 0 {
		c.MaxFailedDocRetries = 10
	}
	if c.MaxAbandonedDocRetries == 0 {
		c.MaxAbandonedDocRetries = 10
	}
	if c.CheckpointInterval == 0 {
		c.CheckpointInterval = time.Minute
	}
	return c
}

// Processor owns the per-partition state of the ES pipeline. The host
// serializes all calls within a partition.
type Processor struct {
	cfg        Config
	classifier *event.Classifier
	sender     BulkSender
	stats      *esbulk.StatsBuilder
	coord      *checkpoint.Coordinator
	log        *logging.Logger

	lastElapsed   time.Duration
	lastFailed    int
	lastAbandoned int
}

// NewProcessor builds the pipeline for one partition.
func NewProcessor(cfg Config, sender BulkSender, coord *checkpoint.Coordinator, log *logging.Logger) *Processor {
	cfg = cfg.withDefaults()
	return &Processor{
		cfg:        cfg,
		classifier: event.NewClassifier(),
		sender:     sender,
		stats:      &esbulk.StatsBuilder{PartitionID: cfg.PartitionID},
		coord:      coord,
		log:        log.With(logging.Pipeline("es"), logging.Partition(cfg.PartitionID)),
	}
}

// Open marks the partition as owned.
func (p *Processor) Open(ctx context.Context) error {
	p.log.Info("partition opened")
	return nil
}

// Close ends the partition lease. Only a clean shutdown checkpoints.
func (p *Processor) Close(ctx context.Context, reason event.CloseReason) error {
	p.log.Info("partition closing", slog.String("reason", reason.String()))
	if reason != event.ReasonShutdown {
		return nil
	}
	if err := p.coord.Force(ctx); err != nil {
		return fmt.Errorf("checkpoint on shutdown: %w", err)
	}
	metrics.CheckpointsTotal.WithLabelValues("es").Inc()
	return nil
}

// ProcessBatch delivers one batch of raw events.
func (p *Processor) ProcessBatch(ctx context.Context, events []event.RawEvent) error {
	valid := make([]event.BulkItem, 0, len(events))
	var invalid []event.InvalidItem
	for _, ev := range events {
		item, inv := p.classifier.Classify(ev)
		if inv != nil {
			invalid = append(invalid, *inv)
			continue
		}
		valid = append(valid, *item)
	}
	metrics.ESEventsTotal.WithLabelValues("valid").Add(float64(len(valid)))
	metrics.ESEventsTotal.WithLabelValues("invalid").Add(float64(len(invalid)))

	failedDocs := 0
	abandonedDocs := 0
	var elapsed time.Duration

	if len(valid) > 0 || p.cfg.StatsEnabled {
		frame := esbulk.NewFrame(valid)
		if p.cfg.StatsEnabled {
			for _, item := range p.stats.Build(valid, esbulk.BatchTimings{
				Elapsed:       p.lastElapsed,
				FailedDocs:    p.lastFailed,
				AbandonedDocs: p.lastAbandoned,
			}) {
				frame.Append(item)
			}
		}

		started := time.Now()
		resp, err := esbulk.SendWithRetries(ctx, func(ctx context.Context) esbulk.Response {
			return p.sender.Submit(ctx, frame.Body)
		}, esbulk.TransportSucceeded, esbulk.RetryForever, p.log.Logger)
		elapsed = time.Since(started)
		metrics.ESSubmitDuration.Observe(elapsed.Seconds())
		if err != nil {
			return p.failBatch(err)
		}
		if resp.Kind == esbulk.ServerError {
			metrics.ESBatchesTotal.WithLabelValues("error").Inc()
			return fmt.Errorf("bulk submit rejected with status %d: %s", resp.StatusCode, resp.RawBody)
		}

		failed := resp.FailedItems()
		failedDocs = len(failed)
		if failedDocs > 0 {
			metrics.ESFailedDocsTotal.Add(float64(failedDocs))
			survivors, err := p.retryFailed(ctx, frame, failed)
			if err != nil {
				return p.failBatch(err)
			}
			abandonedDocs += len(survivors)
			if err := p.quarantine(ctx, survivors); err != nil {
				return p.failBatch(err)
			}
		}
	}

	if len(invalid) > 0 {
		quarantined := make([]event.BulkItem, 0, len(invalid))
		now := time.Now().UTC()
		for _, inv := range invalid {
			quarantined = append(quarantined, newAbandonedItem(inv.DocID, inv.Body, inv.Reason, now))
		}
		abandonedDocs += len(quarantined)
		if err := p.quarantine(ctx, quarantined); err != nil {
			return p.failBatch(err)
		}
	}

	p.lastElapsed = elapsed
	p.lastFailed = failedDocs
	p.lastAbandoned = abandonedDocs
	if abandonedDocs > 0 {
		metrics.ESAbandonedDocsTotal.Add(float64(abandonedDocs))
	}
	metrics.ESBatchesTotal.WithLabelValues("ok").Inc()

	if issued, err := p.coord.Maybe(ctx); err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	} else if issued {
		metrics.CheckpointsTotal.WithLabelValues("es").Inc()
	}
	return nil
}

// retryFailed reframes only the failed items, without new stats items, and
// retries the bounded policy. It returns the abandoned items for the docs
// still failing afterwards.
func (p *Processor) retryFailed(ctx context.Context, frame *esbulk.Frame, failed map[string]esbulk.ItemError) ([]event.BulkItem, error) {
	ids := make(map[string]struct{}, len(failed))
	for id := range failed {
		ids[id] = struct{}{}
	}
	retryItems := frame.Select(ids)
	retryFrame := esbulk.NewFrame(retryItems)

	p.log.Warn("retrying failed documents", slog.Int("count", len(retryItems)))

	resp, err := esbulk.SendWithRetries(ctx, func(ctx context.Context) esbulk.Response {
		return p.sender.Submit(ctx, retryFrame.Body)
	}, esbulk.FullySucceeded, p.cfg.MaxFailedDocRetries, p.log.Logger)
	if err != nil {
		return nil, err
	}
	if esbulk.FullySucceeded(resp) {
		return nil, nil
	}

	now := time.Now().UTC()
	var survivors []event.BulkItem
	if stillFailed := resp.FailedItems(); len(stillFailed) > 0 {
		for _, item := range retryFrame.Select(idSet(stillFailed)) {
			survivors = append(survivors, newAbandonedItem(item.DocID, item.Body, stillFailed[item.DocID].String(), now))
		}
		return survivors, nil
	}

	// The whole retry body kept failing at the transport or request level;
	// every retried document is quarantined with the last response's error.
	lastErr := "bulk retry exhausted"
	if resp.Err != nil {
		lastErr = resp.Err.Error()
	} else if resp.Kind == esbulk.ServerError {
		lastErr = fmt.Sprintf("bulk retry rejected with status %d", resp.StatusCode)
	}
	for _, item := range retryItems {
		survivors = append(survivors, newAbandonedItem(item.DocID, item.Body, lastErr, now))
	}
	return survivors, nil
}

// quarantine submits abandoned items with the bounded policy. Quarantine is
// best-effort delivery: an unaccepted last response is logged, not failed.
func (p *Processor) quarantine(ctx context.Context, items []event.BulkItem) error {
	if len(items) == 0 {
		return nil
	}
	frame := esbulk.NewFrame(items)
	resp, err := esbulk.SendWithRetries(ctx, func(ctx context.Context) esbulk.Response {
		return p.sender.Submit(ctx, frame.Body)
	}, esbulk.FullySucceeded, p.cfg.MaxAbandonedDocRetries, p.log.Logger)
	if err != nil {
		return err
	}
	if !esbulk.FullySucceeded(resp) {
		p.log.Error("quarantine submit did not fully succeed",
			slog.Int("count", len(items)),
			slog.String("kind", resp.Kind.String()),
		)
	}
	return nil
}

// failBatch logs the terminal error for this batch. Cancellation is routine
// during shutdown and logs at info.
func (p *Processor) failBatch(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		p.log.Info("batch cancelled", logging.Err(err))
	} else {
		p.log.Error("batch failed", logging.Err(err))
		metrics.ESBatchesTotal.WithLabelValues("error").Inc()
	}
	return err
}

func idSet(m map[string]esbulk.ItemError) map[string]struct{} {
	set := make(map[string]struct{}, len(m))
	for id := range m {
		set[id] = struct{}{}
	}
	return set
}
