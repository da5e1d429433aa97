package casink

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/seaward-systems/streamsift/internal/blobstore"
	"github.com/seaward-systems/streamsift/internal/logging"
	"github.com/seaward-systems/streamsift/internal/metrics"
)

// recordSeparator joins consecutive records in one buffer so the analytics
// service can split the blob line by line.
const recordSeparator = "\r\n"

// errorLogPrefixLen caps how much of a dropped record is echoed into the
// error log.
const errorLogPrefixLen = 1000

// BlobWriter persists one flushed payload. *blobstore.Uploader is the
// production implementation.
type BlobWriter interface {
	Upload(ctx context.Context, baseContainer, schemaName string, payload []byte, compressed bool) (*blobstore.UploadResult, error)
}

// BlobNotifier announces one uploaded blob. *Notifier is the production
// implementation.
type BlobNotifier interface {
	Notify(ctx context.Context, blobSasURI string, schemaID uuid.UUID) error
}

// Config fixes one schema sink's identity and flush behaviour.
type Config struct {
	SchemaName    string
	SchemaID      uuid.UUID
	Capacity      int
	Compress      bool
	BaseContainer string
}

// Counters is a snapshot of the sink's per-flush observability state.
type Counters struct {
	BlobsWritten   int
	BlobBytes      int64
	UploadErrors   int
	EventsBuffered int
	EventsTotal    uint64
	OldestDoc      time.Time
}

// SchemaSink is the per-schema append buffer for one partition. The mutex
// is held across flush I/O so a concurrent appender cannot interleave with
// a half-written buffer.
type SchemaSink struct {
	cfg      Config
	uploader BlobWriter
	notifier BlobNotifier
	log      *logging.Logger

	// Deflate compresses a buffer range for upload. Overridable so tests
	// can exercise a failing compressor.
	Deflate func([]byte) ([]byte, error)

	mu              sync.Mutex
	buf             []byte
	pos             int
	eventCount      int
	eventCountTotal uint64
	oldestDoc       time.Time
	blobsWritten    int
	blobBytes       int64
	uploadErrors    int
}

// New creates a sink with an empty buffer of the configured capacity.
func New(cfg Config, uploader BlobWriter, notifier BlobNotifier, log *logging.Logger) *SchemaSink {
	return &SchemaSink{
		cfg:      cfg,
		uploader: uploader,
		notifier: notifier,
		log:      log.With(logging.Schema(cfg.SchemaName)),
		Deflate:  gzipBytes,
		buf:      make([]byte, cfg.Capacity),
	}
}

// Append encodes the record and writes it into the buffer, flushing first
// when it no longer fits. The return reports whether a flush occurred.
// Records larger than the whole buffer are dropped with an error log.
func (s *SchemaSink) Append(ctx context.Context, record any, ts time.Time) (bool, error) {
	data, err := json.Marshal(record)
	if err != nil {
		s.log.Error("record not encodable, dropping", logging.Err(err))
		metrics.CADroppedRecordsTotal.WithLabelValues(s.cfg.SchemaName, "encode").Inc()
		return false, nil
	}

	if len(data) > s.cfg.Capacity {
		prefix := data
		if len(prefix) > errorLogPrefixLen {
			prefix = prefix[:errorLogPrefixLen]
		}
		s.log.Error("record exceeds buffer capacity, dropping",
			slog.Int("size", len(data)),
			slog.Int("capacity", s.cfg.Capacity),
			slog.String("prefix", string(prefix)),
		)
		metrics.CADroppedRecordsTotal.WithLabelValues(s.cfg.SchemaName, "oversize").Inc()
		return false, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	needed := len(data)
	if s.pos > 0 {
		needed += len(recordSeparator)
	}

	flushed := false
	if s.pos+needed > s.cfg.Capacity {
		if err := s.flushLocked(ctx); err != nil {
			return false, err
		}
		flushed = true
	}

	if s.pos > 0 {
		s.pos += copy(s.buf[s.pos:], recordSeparator)
	}
	s.pos += copy(s.buf[s.pos:], data)
	s.eventCount++
	s.eventCountTotal++
	if s.oldestDoc.IsZero() || ts.Before(s.oldestDoc) {
		s.oldestDoc = ts
	}
	metrics.CARecordsTotal.WithLabelValues(s.cfg.SchemaName).Inc()

	return flushed, nil
}

// Flush uploads the current buffer regardless of fill level. A flush of an
// empty buffer is a no-op: no upload and no notification.
func (s *SchemaSink) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked(ctx)
}

// flushLocked runs with the mutex held; the upload may suspend on I/O. The
// buffer is reset only after a successful upload, so a failed compression
// or upload leaves it intact for re-flush.
func (s *SchemaSink) flushLocked(ctx context.Context) error {
	if s.pos == 0 {
		return nil
	}

	payload := s.buf[:s.pos]
	compressed := false
	if s.cfg.Compress {
		deflated, err := s.Deflate(payload)
		if err != nil {
			return fmt.Errorf("compress %s buffer: %w", s.cfg.SchemaName, err)
		}
		payload = deflated
		compressed = true
	}

	result, err := s.uploader.Upload(ctx, s.cfg.BaseContainer, s.cfg.SchemaName, payload, compressed)
	if err != nil {
		s.uploadErrors++
		return fmt.Errorf("flush %s buffer: %w", s.cfg.SchemaName, err)
	}

	s.blobsWritten++
	s.blobBytes += int64(result.Size)
	metrics.CAFlushesTotal.WithLabelValues(s.cfg.SchemaName).Inc()
	metrics.CABlobBytesTotal.WithLabelValues(s.cfg.SchemaName).Add(float64(result.Size))
	s.log.Info("buffer flushed",
		slog.String(logging.FieldBlob, result.Blob),
		slog.String(logging.FieldAccount, result.Account),
		slog.Int("events", s.eventCount),
		slog.Int("bytes", result.Size),
	)

	if err := s.notifier.Notify(ctx, result.SASURL, s.cfg.SchemaID); err != nil {
		// The blob is already persisted; a lost notification is logged,
		// never rolled back.
		metrics.CANotifyFailuresTotal.Inc()
		s.log.Error("blob notification failed", slog.String(logging.FieldBlob, result.Blob), logging.Err(err))
	}

	s.pos = 0
	s.eventCount = 0
	s.oldestDoc = time.Time{}
	return nil
}

// Counters snapshots the sink's observability state, optionally resetting
// the per-interval blob counters.
func (s *SchemaSink) Counters(reset bool) Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := Counters{
		BlobsWritten:   s.blobsWritten,
		BlobBytes:      s.blobBytes,
		UploadErrors:   s.uploadErrors,
		EventsBuffered: s.eventCount,
		EventsTotal:    s.eventCountTotal,
		OldestDoc:      s.oldestDoc,
	}
	if reset {
		s.blobsWritten = 0
		s.blobBytes = 0
		s.uploadErrors = 0
	}
	return snapshot
}

// SchemaName returns the sink's schema key.
func (s *SchemaSink) SchemaName() string { return s.cfg.SchemaName }

func gzipBytes(data []byte) ([]byte, error) {
	var out bytes.Buffer
	zw := gzip.NewWriter(&out)
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}
