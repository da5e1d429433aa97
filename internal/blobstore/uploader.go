package blobstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/seaward-systems/streamsift/internal/logging"
	"github.com/seaward-systems/streamsift/internal/metrics"
	"github.com/seaward-systems/streamsift/internal/retry"
)

// SASValidity is how long the read-SAS handed to the notification callback
// stays valid.
const SASValidity = 24 * time.Hour

// UploadResult describes a successfully persisted blob.
type UploadResult struct {
	Account   string
	Container string
	Blob      string
	SASURL    string
	Size      int
}

// Uploader writes flushed payloads to a randomly chosen account. On a
// missing container it creates it and retries the same target; on any other
// failure it re-selects account and target. maxAttempts (retry.DefaultAttempts)
// bounds the total upload attempts for one payload.
type Uploader struct {
	pool        *AccountPool
	maxAttempts int
	policy      retry.Policy
	log         *logging.Logger

	// Now and NewID are overridable for tests.
	Now   func() time.Time
	NewID func() string
}

// NewUploader builds an uploader over the shared account pool.
func NewUploader(pool *AccountPool, log *logging.Logger) *Uploader {
	return &Uploader{
		pool:        pool,
		maxAttempts: retry.DefaultAttempts,
		policy:      retry.DefaultPolicy(),
		log:         log,
		Now:         func() time.Time { return time.Now().UTC() },
		NewID:       uuid.NewString,
	}
}

// Upload persists one payload and returns the blob coordinates with a
// 24-hour read SAS.
func (u *Uploader) Upload(ctx context.Context, baseContainer, schemaName string, payload []byte, compressed bool) (*UploadResult, error) {
	var (
		account   BlobAccount
		container string
		blobName  string
		lastErr   error
		reuse     bool
	)

	for attempt := 1; attempt <= u.maxAttempts; attempt++ {
		if !reuse {
			account = u.pool.Pick()
			now := u.Now()
			container = ContainerName(baseContainer, now)
			blobName = BlobName(schemaName, compressed, now, u.NewID)
		}
		reuse = false

		err := account.Upload(ctx, container, blobName, payload)
		if err == nil {
			sasURL, err := account.SASURL(container, blobName, u.Now().Add(SASValidity))
			if err != nil {
				return nil, fmt.Errorf("blob uploaded but sas generation failed: %w", err)
			}
			return &UploadResult{
				Account:   account.Name(),
				Container: container,
				Blob:      blobName,
				SASURL:    sasURL,
				Size:      len(payload),
			}, nil
		}
		lastErr = err
		metrics.CABlobErrorsTotal.Inc()

		if errors.Is(err, ErrContainerNotFound) {
			cerr := account.CreateContainer(ctx, container)
			if cerr == nil {
				reuse = true
				continue
			}
			lastErr = fmt.Errorf("create container %s: %w", container, cerr)
		}

		u.log.Warn("blob upload failed",
			slog.String(logging.FieldAccount, account.Name()),
			slog.String(logging.FieldContainer, container),
			logging.Attempt(attempt),
			logging.Err(lastErr),
		)
		if attempt < u.maxAttempts {
			if err := u.policy.Sleep(ctx, attempt); err != nil {
				return nil, err
			}
		}
	}
	return nil, fmt.Errorf("blob write attempts exhausted after %d tries: %w", u.maxAttempts, lastErr)
}
