package event_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seaward-systems/streamsift/internal/event"
)

var (
	fixedNow = time.Date(2026, 8, 6, 12, 0, 0, 0, time.UTC)
	enqueued = time.Date(2026, 8, 6, 11, 59, 0, 0, time.UTC)
)

func testClassifier() *event.Classifier {
	return &event.Classifier{
		Now:   func() time.Time { return fixedNow },
		NewID: func() string { return "generated-id" },
	}
}

func rawEvent(body string, props event.Properties) event.RawEvent {
	return event.RawEvent{
		Body:       []byte(body),
		EnqueuedAt: enqueued,
		Properties: props,
	}
}

func TestClassify_RoutingTable(t *testing.T) {
	testCases := []struct {
		name      string
		props     event.Properties
		indexBase string
		indexName string
		docType   string
	}{
		{
			name:      "serilog event",
			props:     event.Properties{"Type": "SerilogEvent"},
			indexBase: "logstash",
			indexName: "logstash-2026.08.06",
			docType:   "logevent",
		},
		{
			name:      "robo interaction",
			props:     event.Properties{"Type": "RoboCustosInteraction"},
			indexBase: "robointeractions",
			indexName: "robointeractions-2026.08.06",
			docType:   "interaction",
		},
		{
			name:      "external telemetry default doc type",
			props:     event.Properties{"Type": "ExternalTelemetry"},
			indexBase: "externaltelemetry",
			indexName: "externaltelemetry-2026.08.06",
			docType:   "telemetryevent",
		},
		{
			name:      "external telemetry source override",
			props:     event.Properties{"Type": "ExternalTelemetry", "Source": "synthetics"},
			indexBase: "externaltelemetry",
			indexName: "externaltelemetry-2026.08.06",
			docType:   "synthetics",
		},
		{
			name:      "azure resources is flat",
			props:     event.Properties{"Type": "azure-resources"},
			indexBase: "azure-resources",
			indexName: "azure-resources",
			docType:   "metadata",
		},
		{
			name:      "azure resources source override",
			props:     event.Properties{"Type": "azure-resources", "Source": "vmscan"},
			indexBase: "azure-resources",
			indexName: "azure-resources",
			docType:   "vmscan",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			item, inv := testClassifier().Classify(rawEvent(`{"hello":"world"}`, tc.props))
			require.Nil(t, inv)
			require.NotNil(t, item)
			assert.Equal(t, tc.indexBase, item.IndexBase)
			assert.Equal(t, tc.indexName, item.IndexName)
			assert.Equal(t, tc.docType, item.DocType)
			assert.Equal(t, enqueued, item.EnqueueTime)
		})
	}
}

func TestClassify_Defaults(t *testing.T) {
	t.Run("missing MessageId generates id", func(t *testing.T) {
		item, inv := testClassifier().Classify(rawEvent("{}", event.Properties{"Type": "SerilogEvent"}))
		require.Nil(t, inv)
		assert.Equal(t, "generated-id", item.DocID)
	})

	t.Run("supplied MessageId and Timestamp are preserved", func(t *testing.T) {
		props := event.Properties{
			"Type":      "SerilogEvent",
			"MessageId": "m-1",
			"Timestamp": "2026-08-01T09:30:00Z",
		}
		item, inv := testClassifier().Classify(rawEvent("{}", props))
		require.Nil(t, inv)
		assert.Equal(t, "m-1", item.DocID)
		assert.Equal(t, time.Date(2026, 8, 1, 9, 30, 0, 0, time.UTC), item.Timestamp)
		assert.Equal(t, "logstash-2026.08.01", item.IndexName)
	})

	t.Run("missing Timestamp falls back to wall clock", func(t *testing.T) {
		item, inv := testClassifier().Classify(rawEvent("{}", event.Properties{"Type": "SerilogEvent"}))
		require.Nil(t, inv)
		assert.Equal(t, fixedNow, item.Timestamp)
	})

	t.Run("classification is repeatable", func(t *testing.T) {
		props := event.Properties{"Type": "SerilogEvent", "MessageId": "m", "Timestamp": "2026-08-01T09:30:00Z"}
		first, inv := testClassifier().Classify(rawEvent(`{"a":1}`, props))
		require.Nil(t, inv)
		second, inv := testClassifier().Classify(rawEvent(`{"a":1}`, props))
		require.Nil(t, inv)
		assert.Equal(t, first, second)
	})
}

func TestClassify_BodyInference(t *testing.T) {
	t.Run("serilog shape without Type attribute", func(t *testing.T) {
		body := `{"message":"hi","messageTemplate":"hi","@timestamp":"2026-08-05T10:00:00Z"}`
		item, inv := testClassifier().Classify(rawEvent(body, event.Properties{}))
		require.Nil(t, inv)
		assert.Equal(t, "logstash", item.IndexBase)
		assert.Equal(t, "logevent", item.DocType)
		assert.Equal(t, time.Date(2026, 8, 5, 10, 0, 0, 0, time.UTC), item.Timestamp)
		assert.Equal(t, "logstash-2026.08.05", item.IndexName)
	})

	t.Run("non serilog body without Type is invalid", func(t *testing.T) {
		item, inv := testClassifier().Classify(rawEvent(`{"foo":"bar"}`, event.Properties{}))
		require.Nil(t, item)
		require.NotNil(t, inv)
		assert.Equal(t, "Missing or invalid Type", inv.Reason)
	})

	t.Run("non string message field is not serilog", func(t *testing.T) {
		body := `{"message":5,"messageTemplate":"hi","@timestamp":"2026-08-05T10:00:00Z"}`
		_, inv := testClassifier().Classify(rawEvent(body, event.Properties{}))
		require.NotNil(t, inv)
		assert.Equal(t, "Missing or invalid Type", inv.Reason)
	})
}

func TestClassify_Invalid(t *testing.T) {
	t.Run("newline in body", func(t *testing.T) {
		item, inv := testClassifier().Classify(rawEvent("line1\nline2", event.Properties{"Type": "SerilogEvent", "MessageId": "m"}))
		require.Nil(t, item)
		require.NotNil(t, inv)
		assert.Equal(t, "Document body contains newlines", inv.Reason)
		assert.Equal(t, "m", inv.DocID)
		assert.Equal(t, "line1\nline2", inv.Body)
	})

	t.Run("non string property kind", func(t *testing.T) {
		_, inv := testClassifier().Classify(rawEvent("{}", event.Properties{"Type": 42}))
		require.NotNil(t, inv)
		assert.Contains(t, inv.Reason, "Type")
	})

	t.Run("unknown type attribute", func(t *testing.T) {
		_, inv := testClassifier().Classify(rawEvent("{}", event.Properties{"Type": "Mystery"}))
		require.NotNil(t, inv)
		assert.Equal(t, "Unknown Type attribute", inv.Reason)
	})

	t.Run("invalid utf8 body", func(t *testing.T) {
		ev := event.RawEvent{Body: []byte{0xff, 0xfe}, EnqueuedAt: enqueued, Properties: event.Properties{"Type": "SerilogEvent"}}
		_, inv := testClassifier().Classify(ev)
		require.NotNil(t, inv)
		assert.Equal(t, "Document body is not valid UTF-8", inv.Reason)
	})

	t.Run("unparseable Timestamp attribute", func(t *testing.T) {
		_, inv := testClassifier().Classify(rawEvent("{}", event.Properties{"Type": "SerilogEvent", "Timestamp": "not-a-time"}))
		require.NotNil(t, inv)
		assert.Equal(t, "Invalid Timestamp attribute", inv.Reason)
	})
}
