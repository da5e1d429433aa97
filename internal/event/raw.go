// Package event defines the raw event envelope delivered by the consumer
// host and the classifier that turns it into an index-routed bulk item.
package event

import (
	"fmt"
	"time"
)

// Properties is the string-keyed attribute map carried by a broker message.
// Values may be a string, an integer, or a timestamp. Properties are read
// through String, which reports any non-string value as an error.
type Properties map[string]any

// String returns the value for key as a string. The second return reports
// presence. An error is returned when the property exists but is not a string.
func (p Properties) String(key string) (string, bool, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return "", false, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", true, fmt.Errorf("property %s is %T, expected string", key, v)
	}
	return s, true, nil
}

// RawEvent is one message handed to a pipeline for exactly one process call.
// The pipeline must not retain references to it after that call returns.
type RawEvent struct {
	Body       []byte
	EnqueuedAt time.Time
	Properties Properties
}
