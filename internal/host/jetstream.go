package host

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/seaward-systems/streamsift/internal/checkpoint"
	"github.com/seaward-systems/streamsift/internal/event"
	"github.com/seaward-systems/streamsift/internal/logging"
)

// RunnerConfig describes one pipeline's consumption of the partitioned
// stream: a durable consumer per partition subject under one group name.
type RunnerConfig struct {
	Pipeline      string
	Stream        string
	SubjectPrefix string
	Group         string
	Partitions    int
	BatchSize     int
	AckWait       time.Duration
}

func (c RunnerConfig) withDefaults() RunnerConfig {
	if c.BatchSize == 0 {
		c.BatchSize = 100
	}
	if c.AckWait == 0 {
		// acks are withheld until the processor checkpoints, so the wait
		// must comfortably exceed the checkpoint interval
		c.AckWait = 10 * time.Minute
	}
	return c
}

// Runner is the consumer host: it owns one worker per partition, delivers
// batches to the partition's processor, and exposes the checkpoint
// callback that persists and acknowledges progress.
type Runner struct {
	js      jetstream.JetStream
	factory ProcessorFactory
	store   *checkpoint.Store
	cfg     RunnerConfig
	log     *logging.Logger
}

// NewRunner creates a consumer host for one pipeline.
func NewRunner(js jetstream.JetStream, factory ProcessorFactory, store *checkpoint.Store, cfg RunnerConfig, log *logging.Logger) *Runner {
	cfg = cfg.withDefaults()
	return &Runner{
		js:      js,
		factory: factory,
		store:   store,
		cfg:     cfg,
		log:     log.With(logging.Pipeline(cfg.Pipeline)),
	}
}

// Run consumes every partition until ctx is cancelled, then closes each
// partition with the shutdown reason. A partition whose consumer is deleted
// or missing stops early and closes with the lease-lost reason.
func (r *Runner) Run(ctx context.Context) error {
	stream, err := r.js.Stream(ctx, r.cfg.Stream)
	if err != nil {
		return fmt.Errorf("open stream %s: %w", r.cfg.Stream, err)
	}

	var wg sync.WaitGroup
	for p := 0; p < r.cfg.Partitions; p++ {
		partitionID := strconv.Itoa(p)
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.runPartition(ctx, stream, partitionID)
		}()
	}
	wg.Wait()
	return nil
}

func (r *Runner) runPartition(ctx context.Context, stream jetstream.Stream, partitionID string) {
	log := r.log.With(logging.Partition(partitionID))

	consumer, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Name:          r.cfg.Group + "-" + partitionID,
		Durable:       r.cfg.Group + "-" + partitionID,
		FilterSubject: r.cfg.SubjectPrefix + "." + partitionID,
		// AckAll lets one ack of the batch's last message acknowledge the
		// whole checkpointed range.
		AckPolicy:     jetstream.AckAllPolicy,
		AckWait:       r.cfg.AckWait,
		MaxAckPending: -1,
	})
	if err != nil {
		log.Error("create partition consumer", logging.Err(err))
		return
	}

	worker := &partitionWorker{
		partitionID: partitionID,
		group:       r.cfg.Group,
		store:       r.store,
	}
	processor, err := r.factory.Create(partitionID, worker.checkpoint)
	if err != nil {
		log.Error("create partition processor", logging.Err(err))
		return
	}
	worker.processor = processor

	if err := processor.Open(ctx); err != nil {
		log.Error("open partition", logging.Err(err))
		return
	}

	closeReason := ReasonShutdown
	for ctx.Err() == nil {
		batch, err := consumer.Fetch(r.cfg.BatchSize, jetstream.FetchMaxWait(time.Second))
		if err != nil {
			if errors.Is(err, jetstream.ErrConsumerDeleted) || errors.Is(err, jetstream.ErrConsumerNotFound) {
				closeReason = ReasonLeaseLost
				break
			}
			if ctx.Err() != nil {
				break
			}
			log.Warn("fetch failed", logging.Err(err))
			continue
		}

		var msgs []jetstream.Msg
		for msg := range batch.Messages() {
			msgs = append(msgs, msg)
		}
		if err := batch.Error(); err != nil {
			log.Warn("batch delivery error", logging.Err(err))
		}

		if err := worker.deliver(ctx, msgs); err != nil {
			if ctx.Err() != nil {
				break
			}
		}
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := processor.Close(closeCtx, closeReason); err != nil {
		log.Error("close partition", logging.Err(err))
	}
}

// partitionWorker holds one partition's delivery cursor. The processor's
// checkpoint calls land on checkpoint, which persists and acknowledges the
// cursor's stream sequence.
type partitionWorker struct {
	partitionID string
	group       string
	store       *checkpoint.Store
	processor   PartitionProcessor

	// lastDelivered is the terminal message of the batch currently (or most
	// recently) handed to the processor.
	lastDelivered jetstream.Msg
}

// deliver hands one fetched batch to the processor. The cursor is advanced
// to the batch's terminal message before delivery, so a checkpoint fired
// from inside ProcessBatch acknowledges the batch whose data was just made
// durable downstream, not the previous one. On failure the cursor is
// restored and the batch nacked for redelivery.
func (w *partitionWorker) deliver(ctx context.Context, msgs []jetstream.Msg) error {
	events := make([]event.RawEvent, 0, len(msgs))
	for _, msg := range msgs {
		events = append(events, toRawEvent(msg))
	}

	prev := w.lastDelivered
	if len(msgs) > 0 {
		w.lastDelivered = msgs[len(msgs)-1]
	}

	if err := w.processor.ProcessBatch(ctx, events); err != nil {
		w.lastDelivered = prev
		for _, msg := range msgs {
			_ = msg.Nak()
		}
		return err
	}
	return nil
}

// checkpoint persists the cursor's stream sequence and acks it; with
// AckAll that acknowledges every delivered message at or below it.
func (w *partitionWorker) checkpoint(ctx context.Context) error {
	if w.lastDelivered == nil {
		return nil
	}
	meta, err := w.lastDelivered.Metadata()
	if err != nil {
		return fmt.Errorf("read message metadata: %w", err)
	}
	if err := w.store.Save(ctx, w.group, w.partitionID, meta.Sequence.Stream); err != nil {
		return err
	}
	if err := w.lastDelivered.Ack(); err != nil && !errors.Is(err, jetstream.ErrMsgAlreadyAckd) {
		return fmt.Errorf("ack checkpointed range: %w", err)
	}
	return nil
}

// toRawEvent converts a broker message into the pipeline envelope. Header
// values become string properties; the broker receive time is the enqueue
// time.
func toRawEvent(msg jetstream.Msg) event.RawEvent {
	props := make(event.Properties)
	for key, values := range msg.Headers() {
		if len(values) > 0 {
			props[key] = values[0]
		}
	}
	ev := event.RawEvent{
		Body:       msg.Data(),
		Properties: props,
	}
	if meta, err := msg.Metadata(); err == nil {
		ev.EnqueuedAt = meta.Timestamp
	}
	return ev
}
