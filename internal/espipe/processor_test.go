package espipe_test

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seaward-systems/streamsift/internal/checkpoint"
	"github.com/seaward-systems/streamsift/internal/esbulk"
	"github.com/seaward-systems/streamsift/internal/espipe"
	"github.com/seaward-systems/streamsift/internal/event"
	"github.com/seaward-systems/streamsift/internal/logging"
)

// fakeSender records every submitted body and answers from a scripted
// response function.
type fakeSender struct {
	bodies  [][]byte
	respond func(call int, body []byte) esbulk.Response
}

func (f *fakeSender) Submit(ctx context.Context, body []byte) esbulk.Response {
	f.bodies = append(f.bodies, body)
	return f.respond(len(f.bodies), body)
}

func okResponse(body []byte) esbulk.Response {
	bulk := &esbulk.BulkResponse{}
	for _, id := range docIDs(body) {
		bulk.Items = append(bulk.Items, map[string]esbulk.ResponseItem{
			"index": {ID: id, Status: 201},
		})
	}
	return esbulk.Response{Kind: esbulk.ServerSuccess, StatusCode: 200, Bulk: bulk}
}

func failDocsResponse(body []byte, failing ...string) esbulk.Response {
	failSet := make(map[string]bool, len(failing))
	for _, id := range failing {
		failSet[id] = true
	}
	bulk := &esbulk.BulkResponse{}
	for _, id := range docIDs(body) {
		item := esbulk.ResponseItem{ID: id, Status: 201}
		if failSet[id] {
			item.Status = 400
			item.Error = &esbulk.ItemError{Type: "mapper_parsing_exception", Reason: "failed to parse"}
			bulk.Errors = true
		}
		bulk.Items = append(bulk.Items, map[string]esbulk.ResponseItem{"index": item})
	}
	return esbulk.Response{Kind: esbulk.ServerSuccess, StatusCode: 200, Bulk: bulk}
}

// docIDs extracts the _id of every action line in a framed bulk body.
func docIDs(body []byte) []string {
	var ids []string
	lines := strings.Split(string(body), "\n")
	for i := 0; i+1 < len(lines); i += 2 {
		var action struct {
			Index struct {
				ID string `json:"_id"`
			} `json:"index"`
		}
		if json.Unmarshal([]byte(lines[i]), &action) == nil {
			ids = append(ids, action.Index.ID)
		}
	}
	return ids
}

type testPipeline struct {
	processor   *espipe.Processor
	sender      *fakeSender
	checkpoints *int
}

func newTestPipeline(t *testing.T, statsEnabled bool, respond func(call int, body []byte) esbulk.Response) testPipeline {
	t.Helper()
	sender := &fakeSender{respond: respond}
	checkpoints := 0
	coord := checkpoint.NewCoordinator(func(ctx context.Context) error {
		checkpoints++
		return nil
	}, time.Minute)

	processor := espipe.NewProcessor(espipe.Config{
		PartitionID:  "0",
		StatsEnabled: statsEnabled,
	}, sender, coord, logging.Default())

	return testPipeline{processor: processor, sender: sender, checkpoints: &checkpoints}
}

func serilogEvent(id, body string) event.RawEvent {
	return event.RawEvent{
		Body:       []byte(body),
		EnqueuedAt: time.Now().UTC(),
		Properties: event.Properties{"Type": "SerilogEvent", "MessageId": id},
	}
}

func TestProcessBatch_EmptyBatch(t *testing.T) {
	p := newTestPipeline(t, false, func(call int, body []byte) esbulk.Response {
		t.Fatal("no submit expected for an empty batch with stats disabled")
		return esbulk.Response{}
	})

	require.NoError(t, p.processor.ProcessBatch(context.Background(), nil))
	assert.Empty(t, p.sender.bodies)
}

func TestProcessBatch_SingleValidEvent(t *testing.T) {
	p := newTestPipeline(t, false, func(call int, body []byte) esbulk.Response {
		return okResponse(body)
	})

	err := p.processor.ProcessBatch(context.Background(), []event.RawEvent{serilogEvent("m-1", `{"msg":"ok"}`)})
	require.NoError(t, err)
	assert.Len(t, p.sender.bodies, 1)
	assert.Equal(t, 1, *p.checkpoints)
}

func TestProcessBatch_TransportFailuresAreRetriedUnbounded(t *testing.T) {
	p := newTestPipeline(t, false, func(call int, body []byte) esbulk.Response {
		if call <= 5 {
			return esbulk.Response{Kind: esbulk.TransportFailed, StatusCode: 502}
		}
		return okResponse(body)
	})

	err := p.processor.ProcessBatch(context.Background(), []event.RawEvent{serilogEvent("m-1", `{"msg":"ok"}`)})
	require.NoError(t, err)
	assert.Len(t, p.sender.bodies, 6, "one submit per transport failure plus the success")
}

func TestProcessBatch_FailedDocRetriesThenQuarantine(t *testing.T) {
	p := newTestPipeline(t, false, func(call int, body []byte) esbulk.Response {
		switch {
		case call == 1:
			// first submit: the empty-body doc fails
			return failDocsResponse(body, "m-2")
		case call <= 11:
			// bounded retry of just the failed doc keeps failing
			return failDocsResponse(body, "m-2")
		default:
			// quarantine submit succeeds
			return okResponse(body)
		}
	})

	batch := []event.RawEvent{
		serilogEvent("m-1", `{"msg":"a"}`),
		serilogEvent("m-2", ``),
		serilogEvent("m-3", `{"msg":"b"}`),
	}
	require.NoError(t, p.processor.ProcessBatch(context.Background(), batch))

	// 1 initial + 10 bounded retries + 1 quarantine
	require.Len(t, p.sender.bodies, 12)
	assert.Len(t, docIDs(p.sender.bodies[0]), 3)
	assert.Equal(t, []string{"m-2"}, docIDs(p.sender.bodies[1]))
	assert.Equal(t, []string{"m-2"}, docIDs(p.sender.bodies[11]))
	assert.Contains(t, string(p.sender.bodies[11]), "abandoneddocs")
	assert.Contains(t, string(p.sender.bodies[11]), "mapper_parsing_exception")
}

func TestProcessBatch_HeterogeneousBatchWithStats(t *testing.T) {
	p := newTestPipeline(t, true, func(call int, body []byte) esbulk.Response {
		return okResponse(body)
	})

	batch := []event.RawEvent{
		serilogEvent("m-1", `{"msg":"a"}`),
		{Body: []byte(`{"Interaction":{}}`), EnqueuedAt: time.Now(), Properties: event.Properties{"Type": "RoboCustosInteraction", "MessageId": "m-2"}},
		{Body: []byte(`{"t":1}`), EnqueuedAt: time.Now(), Properties: event.Properties{"Type": "ExternalTelemetry", "MessageId": "m-3"}},
		{Body: []byte(`{"r":1}`), EnqueuedAt: time.Now(), Properties: event.Properties{"Type": "azure-resources", "MessageId": "m-4"}},
	}
	require.NoError(t, p.processor.ProcessBatch(context.Background(), batch))

	require.Len(t, p.sender.bodies, 1)
	body := string(p.sender.bodies[0])
	assert.Len(t, docIDs(p.sender.bodies[0]), 6, "4 user items + 2 stats items")
	assert.Contains(t, body, `"_index":"logstash-`)
	assert.Contains(t, body, `"_index":"robointeractions-`)
	assert.Contains(t, body, `"_index":"externaltelemetry-`)
	assert.Contains(t, body, `"_index":"azure-resources"`)
	assert.Equal(t, 2, strings.Count(body, `"_index":"ingestionstats-`))
}

func TestProcessBatch_InvalidEventIsQuarantined(t *testing.T) {
	p := newTestPipeline(t, false, func(call int, body []byte) esbulk.Response {
		return okResponse(body)
	})

	err := p.processor.ProcessBatch(context.Background(), []event.RawEvent{
		serilogEvent("m-1", "line1\nline2"),
	})
	require.NoError(t, err)

	// no normal-path submit: the only submit is the quarantine one
	require.Len(t, p.sender.bodies, 1)
	body := string(p.sender.bodies[0])
	assert.Contains(t, body, "abandoneddocs")
	assert.Contains(t, body, "Document body contains newlines")
	assert.Equal(t, 1, strings.Count(body, "abandoneddocinfo"))
}

func TestProcessBatch_InvalidEventWithStatsStillSubmitsStats(t *testing.T) {
	p := newTestPipeline(t, true, func(call int, body []byte) esbulk.Response {
		return okResponse(body)
	})

	err := p.processor.ProcessBatch(context.Background(), []event.RawEvent{
		serilogEvent("m-1", "line1\nline2"),
	})
	require.NoError(t, err)

	require.Len(t, p.sender.bodies, 2)
	assert.Contains(t, string(p.sender.bodies[0]), "ingestionstats")
	assert.Contains(t, string(p.sender.bodies[1]), "abandoneddocs")
}

func TestProcessBatch_ServerErrorFailsBatch(t *testing.T) {
	p := newTestPipeline(t, false, func(call int, body []byte) esbulk.Response {
		return esbulk.Response{Kind: esbulk.ServerError, StatusCode: 400, RawBody: []byte(`{"error":{},"status":400}`)}
	})

	err := p.processor.ProcessBatch(context.Background(), []event.RawEvent{serilogEvent("m-1", `{"msg":"ok"}`)})
	require.Error(t, err)
	assert.Zero(t, *p.checkpoints, "failed batches are not checkpointed")
}

func TestClose_CheckpointOnlyOnShutdown(t *testing.T) {
	p := newTestPipeline(t, false, func(call int, body []byte) esbulk.Response {
		return okResponse(body)
	})

	require.NoError(t, p.processor.Close(context.Background(), event.ReasonLeaseLost))
	assert.Zero(t, *p.checkpoints)

	require.NoError(t, p.processor.Close(context.Background(), event.ReasonShutdown))
	assert.Equal(t, 1, *p.checkpoints)
}

func TestProcessBatch_Cancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := newTestPipeline(t, false, func(call int, body []byte) esbulk.Response {
		cancel()
		return esbulk.Response{Kind: esbulk.TransportFailed}
	})

	err := p.processor.ProcessBatch(ctx, []event.RawEvent{serilogEvent("m-1", `{"msg":"ok"}`)})
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, *p.checkpoints)
}
