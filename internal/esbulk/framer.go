// Package esbulk frames classified items into the bulk wire format and
// submits them with response-driven retry.
package esbulk

import (
	"bytes"
	"encoding/json"

	"github.com/seaward-systems/streamsift/internal/event"
)

type actionMeta struct {
	Index string `json:"_index"`
	Type  string `json:"_type"`
	ID    string `json:"_id"`
}

type indexAction struct {
	Index actionMeta `json:"index"`
}

// Frame holds one framed bulk body together with the items it carries,
// keyed by document id so per-item failures can be mapped back.
type Frame struct {
	Body  []byte
	Items map[string]event.BulkItem
	Order []string
}

// NewFrame serializes items into the bulk wire format: for each item an
// action line and a body line, all joined by a single newline. Item bodies
// are newline-free by classification, so line positions stay aligned with
// the server's per-item response.
func NewFrame(items []event.BulkItem) *Frame {
	f := &Frame{Items: make(map[string]event.BulkItem, len(items))}
	var buf bytes.Buffer
	for _, item := range items {
		f.append(&buf, item)
	}
	f.Body = buf.Bytes()
	return f
}

// Append adds one more item to the frame, used for the self-instrumentation
// items framed after the user items.
func (f *Frame) Append(item event.BulkItem) {
	var buf bytes.Buffer
	buf.Write(f.Body)
	f.append(&buf, item)
	f.Body = buf.Bytes()
}

func (f *Frame) append(buf *bytes.Buffer, item event.BulkItem) {
	action, _ := json.Marshal(indexAction{Index: actionMeta{
		Index: item.IndexName,
		Type:  item.DocType,
		ID:    item.DocID,
	}})
	if buf.Len() > 0 {
		buf.WriteByte('\n')
	}
	buf.Write(action)
	buf.WriteByte('\n')
	buf.WriteString(item.Body)
	f.Items[item.DocID] = item
	f.Order = append(f.Order, item.DocID)
}

// Len returns the number of items in the frame.
func (f *Frame) Len() int {
	return len(f.Order)
}

// Select returns the frame's items whose document ids appear in ids,
// preserving the frame's original order.
func (f *Frame) Select(ids map[string]struct{}) []event.BulkItem {
	out := make([]event.BulkItem, 0, len(ids))
	for _, id := range f.Order {
		if _, ok := ids[id]; ok {
			out = append(out, f.Items[id])
		}
	}
	return out
}
