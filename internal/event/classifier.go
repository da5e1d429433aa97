package event

import (
	"encoding/json"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Broker property keys read by the classifier.
const (
	PropType      = "Type"
	PropMessageID = "MessageId"
	PropTimestamp = "Timestamp"
	PropSource    = "Source"
)

// Type attribute values routed by the classifier.
const (
	TypeSerilog           = "SerilogEvent"
	TypeInteraction       = "RoboCustosInteraction"
	TypeExternalTelemetry = "ExternalTelemetry"
	TypeAzureResources    = "azure-resources"
)

// Classification failure reasons surfaced on InvalidItem.
const (
	ReasonMissingType     = "Missing or invalid Type"
	ReasonBodyNewlines    = "Document body contains newlines"
	ReasonBodyNotUTF8     = "Document body is not valid UTF-8"
	ReasonUnknownType     = "Unknown Type attribute"
	ReasonBadTimestamp    = "Invalid Timestamp attribute"
	reasonBadPropertyKind = "Invalid property kind"
)

// Classifier turns one RawEvent into exactly one of a valid BulkItem or an
// InvalidItem. Now and NewID exist so tests can pin the wall clock and
// generated ids; the zero value uses time.Now and uuid.NewString.
type Classifier struct {
	Now   func() time.Time
	NewID func() string
}

// NewClassifier returns a classifier using the real clock and uuid ids.
func NewClassifier() *Classifier {
	return &Classifier{Now: func() time.Time { return time.Now().UTC() }, NewID: uuid.NewString}
}

func (c *Classifier) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now().UTC()
}

func (c *Classifier) newID() string {
	if c.NewID != nil {
		return c.NewID()
	}
	return uuid.NewString()
}

// Classify parses, routes, and validates one raw event. Exactly one of the
// two returns is non-nil.
func (c *Classifier) Classify(ev RawEvent) (*BulkItem, *InvalidItem) {
	docID, reason := c.readStringProps(ev)
	if reason != "" {
		return nil, c.invalid(ev, docID, reason)
	}

	typeAttr, _, _ := ev.Properties.String(PropType)
	msgID, _, _ := ev.Properties.String(PropMessageID)
	tsAttr, tsPresent, _ := ev.Properties.String(PropTimestamp)
	source, _, _ := ev.Properties.String(PropSource)

	if !utf8.Valid(ev.Body) {
		return nil, c.invalid(ev, msgID, ReasonBodyNotUTF8)
	}
	body := string(ev.Body)

	item := BulkItem{
		DocID:       msgID,
		EnqueueTime: ev.EnqueuedAt,
		Body:        body,
	}

	var inferredTS time.Time
	if typeAttr == "" {
		var ok bool
		inferredTS, ok = inferSerilog(body)
		if !ok {
			return nil, c.invalid(ev, msgID, ReasonMissingType)
		}
		typeAttr = TypeSerilog
	}

	switch typeAttr {
	case TypeSerilog:
		item.IndexBase = IndexLogstash
		item.DocType = DocTypeLogEvent
	case TypeInteraction:
		item.IndexBase = IndexRoboInteractions
		item.DocType = DocTypeInteraction
	case TypeExternalTelemetry:
		item.IndexBase = IndexExternalTelemetry
		item.DocType = DocTypeTelemetryEvent
		if source != "" {
			item.DocType = source
		}
	case TypeAzureResources:
		item.IndexBase = IndexAzureResources
		item.DocType = DocTypeMetadata
		if source != "" {
			item.DocType = source
		}
	default:
		return nil, c.invalid(ev, msgID, ReasonUnknownType)
	}

	if item.DocID == "" {
		item.DocID = c.newID()
	}

	switch {
	case tsPresent:
		ts, err := parseTimestamp(tsAttr)
		if err != nil {
			return nil, c.invalid(ev, item.DocID, ReasonBadTimestamp)
		}
		item.Timestamp = ts
	case !inferredTS.IsZero():
		item.Timestamp = inferredTS
	default:
		item.Timestamp = c.now()
	}

	if strings.ContainsRune(item.Body, '\n') {
		return nil, c.invalid(ev, item.DocID, ReasonBodyNewlines)
	}

	if item.IndexBase == IndexAzureResources {
		item.IndexName = item.IndexBase
	} else {
		item.IndexName = TimePartitionedIndex(item.IndexBase, item.Timestamp)
	}

	return &item, nil
}

// readStringProps validates the kinds of the four well-known properties. It
// returns the message id (when readable) and a failure reason naming the
// offending field, or "" when all kinds are acceptable.
func (c *Classifier) readStringProps(ev RawEvent) (string, string) {
	msgID, _, _ := ev.Properties.String(PropMessageID)
	for _, key := range []string{PropType, PropMessageID, PropTimestamp, PropSource} {
		if _, _, err := ev.Properties.String(key); err != nil {
			return msgID, reasonBadPropertyKind + ": " + err.Error()
		}
	}
	return msgID, ""
}

func (c *Classifier) invalid(ev RawEvent, docID, reason string) *InvalidItem {
	if docID == "" {
		docID = c.newID()
	}
	return &InvalidItem{
		DocID:       docID,
		Timestamp:   c.now(),
		EnqueueTime: ev.EnqueuedAt,
		Body:        string(ev.Body),
		Reason:      reason,
	}
}

// inferSerilog reports whether a body with no Type attribute looks like a
// serilog event: a JSON object with string message, messageTemplate, and a
// parseable @timestamp. The parsed @timestamp is returned on success.
func inferSerilog(body string) (time.Time, bool) {
	var fields struct {
		Message         any    `json:"message"`
		MessageTemplate any    `json:"messageTemplate"`
		Timestamp       string `json:"@timestamp"`
	}
	if err := json.Unmarshal([]byte(body), &fields); err != nil {
		return time.Time{}, false
	}
	if _, ok := fields.Message.(string); !ok {
		return time.Time{}, false
	}
	if _, ok := fields.MessageTemplate.(string); !ok {
		return time.Time{}, false
	}
	if fields.Timestamp == "" {
		return time.Time{}, false
	}
	ts, err := parseTimestamp(fields.Timestamp)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

func parseTimestamp(s string) (time.Time, error) {
	ts, err := time.Parse(time.RFC3339Nano, s)
	if err == nil {
		return ts, nil
	}
	return time.Parse("2006-01-02T15:04:05", s)
}
