package espipe

import (
	"encoding/json"
	"time"
	"unicode/utf8"

	"github.com/seaward-systems/streamsift/internal/event"
)

// abandonedBodyLimit caps how much of the original document travels with
// its quarantine record.
const abandonedBodyLimit = 1024

type abandonedBody struct {
	DocID      string    `json:"docId"`
	DocContent string    `json:"docContent"`
	LastError  string    `json:"lastError"`
	Timestamp  time.Time `json:"timestamp"`
}

// newAbandonedItem wraps a failed document into its quarantine record. The
// original body travels truncated to the first abandonedBodyLimit
// characters, cut on a rune boundary so the archived tail stays valid
// UTF-8; JSON string escaping keeps the framed body newline-free even when
// the original contained newlines.
func newAbandonedItem(docID, body, lastError string, now time.Time) event.BulkItem {
	content := body
	if utf8.RuneCountInString(content) > abandonedBodyLimit {
		runes := []rune(content)
		content = string(runes[:abandonedBodyLimit])
	}
	encoded, _ := json.Marshal(abandonedBody{
		DocID:      docID,
		DocContent: content,
		LastError:  lastError,
		Timestamp:  now,
	})
	return event.BulkItem{
		IndexBase:   event.IndexAbandonedDocs,
		IndexName:   event.TimePartitionedIndex(event.IndexAbandonedDocs, now),
		DocType:     event.DocTypeAbandonedDocInfo,
		DocID:       docID,
		Timestamp:   now,
		EnqueueTime: now,
		Body:        string(encoded),
	}
}
