package capipe_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seaward-systems/streamsift/internal/capipe"
	"github.com/seaward-systems/streamsift/internal/casink"
	"github.com/seaward-systems/streamsift/internal/checkpoint"
	"github.com/seaward-systems/streamsift/internal/event"
	"github.com/seaward-systems/streamsift/internal/logging"
)

// fakeSink records appended records and scripts flush returns.
type fakeSink struct {
	appended    []any
	flushes     int
	flushOnNext bool
	counters    casink.Counters
}

func (f *fakeSink) Append(ctx context.Context, record any, ts time.Time) (bool, error) {
	f.appended = append(f.appended, record)
	if f.flushOnNext {
		f.flushOnNext = false
		return true, nil
	}
	return false, nil
}

func (f *fakeSink) Flush(ctx context.Context) error {
	f.flushes++
	return nil
}

func (f *fakeSink) Counters(reset bool) casink.Counters {
	return f.counters
}

type caPipeline struct {
	processor       *capipe.Processor
	logSink         *fakeSink
	interactionSink *fakeSink
	checkpoints     *int
}

func newCAPipeline(t *testing.T, statsEnabled bool) caPipeline {
	t.Helper()
	logSink := &fakeSink{}
	interactionSink := &fakeSink{}
	checkpoints := 0
	coord := checkpoint.NewCoordinator(func(ctx context.Context) error {
		checkpoints++
		return nil
	}, 3*time.Minute)
	// pin the clock so interval checkpoints fire only when the test says so
	now := time.Date(2026, 8, 6, 12, 0, 0, 0, time.UTC)
	coord.Clock = func() time.Time { return now }
	require.NoError(t, coord.Force(context.Background()))
	checkpoints = 0

	processor := capipe.NewProcessor(capipe.Config{
		PartitionID:  "4",
		StatsEnabled: statsEnabled,
	}, logSink, interactionSink, coord, logging.Default())

	return caPipeline{processor: processor, logSink: logSink, interactionSink: interactionSink, checkpoints: &checkpoints}
}

func serilogRaw(id string) event.RawEvent {
	return event.RawEvent{
		Body:       []byte(`{"@timestamp":"2026-08-06T11:00:00Z","level":"Information","message":"hello","messageTemplate":"hello","fields":{"MachineName":"m1"}}`),
		EnqueuedAt: time.Now().UTC(),
		Properties: event.Properties{"Type": "SerilogEvent", "MessageId": id},
	}
}

func interactionRaw(id string) event.RawEvent {
	return event.RawEvent{
		Body:       []byte(`{"RobotName":"bot","Interaction":{"HappinessGrade":"Happy","TimeTaken":10,"TimeInteractionRecorded":"x"}}`),
		EnqueuedAt: time.Now().UTC(),
		Properties: event.Properties{"Type": "RoboCustosInteraction", "MessageId": id},
	}
}

func TestProcessBatch_RoutesBySchema(t *testing.T) {
	p := newCAPipeline(t, false)

	batch := []event.RawEvent{
		serilogRaw("m-1"),
		interactionRaw("m-2"),
		{Body: []byte(`{"t":1}`), Properties: event.Properties{"Type": "ExternalTelemetry"}},
		{Body: []byte(`{"r":1}`), Properties: event.Properties{"Type": "azure-resources"}},
	}
	require.NoError(t, p.processor.ProcessBatch(context.Background(), batch))

	require.Len(t, p.logSink.appended, 1)
	require.Len(t, p.interactionSink.appended, 1)

	logRec := p.logSink.appended[0].(*capipe.LogRecord)
	assert.Equal(t, "m-1", logRec.MessageID)
	assert.Equal(t, "m1", logRec.MachineName)

	intRec := p.interactionSink.appended[0].(*capipe.InteractionRecord)
	assert.Equal(t, "m-2", intRec.MessageID)
	assert.Equal(t, "bot", intRec.RobotName)
}

func TestProcessBatch_UndecodableEventIsDroppedSilently(t *testing.T) {
	p := newCAPipeline(t, false)

	batch := []event.RawEvent{
		{Body: []byte(`not json`), Properties: event.Properties{"Type": "SerilogEvent", "MessageId": "bad"}},
		serilogRaw("good"),
	}
	require.NoError(t, p.processor.ProcessBatch(context.Background(), batch), "the batch proceeds past the bad event")
	require.Len(t, p.logSink.appended, 1)
}

func TestProcessBatch_NoFlushNoCheckpointWithinInterval(t *testing.T) {
	p := newCAPipeline(t, false)

	require.NoError(t, p.processor.ProcessBatch(context.Background(), []event.RawEvent{serilogRaw("m-1")}))
	assert.Zero(t, p.logSink.flushes)
	assert.Zero(t, *p.checkpoints)
}

func TestProcessBatch_FlushForcesCheckpoint(t *testing.T) {
	p := newCAPipeline(t, false)
	p.logSink.flushOnNext = true

	require.NoError(t, p.processor.ProcessBatch(context.Background(), []event.RawEvent{serilogRaw("m-1")}))

	assert.Equal(t, 1, p.logSink.flushes, "every sink is drained after a flush")
	assert.Equal(t, 1, p.interactionSink.flushes)
	assert.Equal(t, 1, *p.checkpoints)
}

func TestProcessBatch_StatsRecordAppendedAfterFlush(t *testing.T) {
	p := newCAPipeline(t, true)
	p.logSink.flushOnNext = true
	p.logSink.counters = casink.Counters{BlobsWritten: 2, BlobBytes: 2048, EventsTotal: 99}

	require.NoError(t, p.processor.ProcessBatch(context.Background(), []event.RawEvent{serilogRaw("m-1")}))

	require.Len(t, p.logSink.appended, 2, "user record plus synthesized stats record")
	assert.IsType(t, &capipe.LogRecord{}, p.logSink.appended[0])
	_, isUserRecord := p.logSink.appended[1].(*capipe.LogRecord)
	assert.False(t, isUserRecord, "second append is the synthesized stats record")
	assert.Empty(t, p.interactionSink.appended, "stats go to the Log sink only")
}

func TestClose_ShutdownDrainsAndCheckpoints(t *testing.T) {
	p := newCAPipeline(t, false)

	require.NoError(t, p.processor.Close(context.Background(), event.ReasonShutdown))
	assert.Equal(t, 1, p.logSink.flushes)
	assert.Equal(t, 1, p.interactionSink.flushes)
	assert.Equal(t, 1, *p.checkpoints)
}

func TestClose_LeaseLostDoesNotCheckpoint(t *testing.T) {
	p := newCAPipeline(t, false)

	require.NoError(t, p.processor.Close(context.Background(), event.ReasonLeaseLost))
	assert.Zero(t, p.logSink.flushes)
	assert.Zero(t, *p.checkpoints)
}
