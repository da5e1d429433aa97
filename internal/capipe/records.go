// Package capipe decodes events into schema-typed records and routes them
// to the per-schema sinks of the analytics delivery pipeline.
package capipe

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Schema keys. Each maps to one sink, fixed at construction.
const (
	SchemaLog          = "Log"
	SchemaInteractions = "Interactions"
)

// LogRecord is the analytics projection of one serilog event. Known fields
// are typed; the remaining members of the event's fields object travel in
// Blob.
type LogRecord struct {
	Timestamp       time.Time                  `json:"timestamp"`
	MessageID       string                     `json:"messageId"`
	CorrelationID   string                     `json:"correlationId,omitempty"`
	MachineName     string                     `json:"machineName,omitempty"`
	ApplicationName string                     `json:"applicationName,omitempty"`
	Level           string                     `json:"level,omitempty"`
	Message         string                     `json:"message,omitempty"`
	MessageTemplate string                     `json:"messageTemplate,omitempty"`
	Blob            map[string]json.RawMessage `json:"blob,omitempty"`
}

type serilogBody struct {
	Timestamp       string                     `json:"@timestamp"`
	Level           string                     `json:"level"`
	Message         string                     `json:"message"`
	MessageTemplate string                     `json:"messageTemplate"`
	Fields          map[string]json.RawMessage `json:"fields"`
}

// DecodeLogRecord parses a serilog event body. fallback is used when the
// body carries no usable @timestamp.
func DecodeLogRecord(body []byte, messageID string, fallback time.Time) (*LogRecord, error) {
	var raw serilogBody
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode serilog body: %w", err)
	}

	rec := &LogRecord{
		MessageID:       messageID,
		Level:           raw.Level,
		Message:         raw.Message,
		MessageTemplate: raw.MessageTemplate,
		Timestamp:       fallback,
	}
	if raw.Timestamp != "" {
		ts, err := time.Parse(time.RFC3339Nano, raw.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("parse @timestamp: %w", err)
		}
		rec.Timestamp = ts
	}

	for key, value := range raw.Fields {
		switch key {
		case "MachineName":
			rec.MachineName = rawString(value)
		case "MachineRole":
			rec.ApplicationName = rawString(value)
		case "CorrelationId", "CorrelationID":
			rec.CorrelationID = rawString(value)
		default:
			if rec.Blob == nil {
				rec.Blob = make(map[string]json.RawMessage)
			}
			rec.Blob[key] = value
		}
	}
	return rec, nil
}

// InteractionRecord is the analytics projection of one robot interaction.
// Blob carries the entire original body.
type InteractionRecord struct {
	Timestamp            time.Time       `json:"timestamp"`
	MessageID            string          `json:"messageId"`
	CorrelationID        string          `json:"correlationId,omitempty"`
	MachineName          string          `json:"machineName,omitempty"`
	RobotName            string          `json:"robotName,omitempty"`
	Environment          string          `json:"environment,omitempty"`
	InstanceID           string          `json:"instanceId,omitempty"`
	DurationMs           float64         `json:"durationMs"`
	Happiness            string          `json:"happiness,omitempty"`
	HappinessExplanation string          `json:"happinessExplanation,omitempty"`
	Blob                 json.RawMessage `json:"blob"`
}

type interactionBody struct {
	Timestamp   string `json:"timestamp"`
	MachineName string `json:"MachineName"`
	RobotName   string `json:"RobotName"`
	Information struct {
		Product struct {
			Environment string `json:"Environment"`
		} `json:"Product"`
	} `json:"Information"`
	Tester struct {
		InstanceID string `json:"InstanceId"`
	} `json:"Tester"`
	Interaction json.RawMessage `json:"Interaction"`
}

// Happiness grades that trigger the root-cause walk.
const (
	GradeUnacceptable  = "Unacceptable"
	GradeReallyAnnoyed = "ReallyAnnoyed"
)

// DecodeInteractionRecord parses a robot interaction body. For negatively
// graded interactions the root-cause descendant's operation id becomes the
// record's correlation id.
func DecodeInteractionRecord(body []byte, messageID string, fallback time.Time) (*InteractionRecord, error) {
	var raw interactionBody
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode interaction body: %w", err)
	}
	if len(raw.Interaction) == 0 {
		return nil, fmt.Errorf("interaction body has no Interaction subtree")
	}

	rec := &InteractionRecord{
		MessageID:   messageID,
		MachineName: raw.MachineName,
		RobotName:   raw.RobotName,
		Environment: raw.Information.Product.Environment,
		InstanceID:  raw.Tester.InstanceID,
		Timestamp:   fallback,
		Blob:        json.RawMessage(body),
	}
	if raw.Timestamp != "" {
		ts, err := time.Parse(time.RFC3339Nano, raw.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("parse interaction timestamp: %w", err)
		}
		rec.Timestamp = ts
	}

	root, err := parseNode(raw.Interaction)
	if err != nil {
		return nil, fmt.Errorf("parse interaction tree: %w", err)
	}

	rec.Happiness = root.grade()
	rec.HappinessExplanation = root.stringMember("HappinessExplanation")
	if taken, ok := root.member("TimeTaken"); ok {
		ms, err := parseDurationMs(taken)
		if err != nil {
			return nil, fmt.Errorf("parse TimeTaken: %w", err)
		}
		rec.DurationMs = ms
	}

	if rec.Happiness == GradeUnacceptable || rec.Happiness == GradeReallyAnnoyed {
		if cause := rootCause(root, rec.Happiness); cause != nil {
			rec.CorrelationID = cause.operationID()
		}
	}
	return rec, nil
}

// parseDurationMs accepts either a bare millisecond count or an
// "hh:mm:ss.fff" timespan string.
func parseDurationMs(raw json.RawMessage) (float64, error) {
	var asNumber float64
	if err := json.Unmarshal(raw, &asNumber); err == nil {
		return asNumber, nil
	}
	var asString string
	if err := json.Unmarshal(raw, &asString); err != nil {
		return 0, fmt.Errorf("TimeTaken is neither number nor string")
	}

	parts := strings.Split(asString, ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("malformed timespan %q", asString)
	}
	hours, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("malformed timespan %q", asString)
	}
	minutes, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("malformed timespan %q", asString)
	}
	seconds, err := strconv.ParseFloat(parts[2], 64)
	if err != nil {
		return 0, fmt.Errorf("malformed timespan %q", asString)
	}
	return (float64(hours)*3600+float64(minutes)*60+seconds) * 1000, nil
}

func rawString(raw json.RawMessage) string {
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	return ""
}
