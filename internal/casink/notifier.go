// Package casink buffers schema-typed records per partition and flushes
// them to blob storage, announcing each blob to the analytics service.
package casink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/seaward-systems/streamsift/internal/logging"
	"github.com/seaward-systems/streamsift/internal/retry"
)

const notificationName = "Microsoft.ApplicationInsights.OpenSchema"

type notificationPayload struct {
	Ver  string           `json:"ver"`
	Name string           `json:"name"`
	Time time.Time        `json:"time"`
	IKey string           `json:"iKey"`
	Data notificationData `json:"data"`
}

type notificationData struct {
	BaseType string               `json:"baseType"`
	BaseData notificationBaseData `json:"baseData"`
}

type notificationBaseData struct {
	Ver           string `json:"ver"`
	BlobSasURI    string `json:"blobSasUri"`
	SourceName    string `json:"sourceName"`
	SourceVersion string `json:"sourceVersion"`
}

// Notifier posts the out-of-band callback registering each uploaded blob
// with the analytics service. The HTTP client is shared across partitions.
type Notifier struct {
	endpoint   string
	iKey       string
	httpClient *http.Client
	attempts   int
	policy     retry.Policy
	log        *logging.Logger

	// Now is overridable for tests.
	Now func() time.Time
}

// NewNotifier creates a notifier for the configured ingestion endpoint.
func NewNotifier(endpoint, instrumentationKey string, httpClient *http.Client, log *logging.Logger) *Notifier {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Notifier{
		endpoint:   endpoint,
		iKey:       instrumentationKey,
		httpClient: httpClient,
		attempts:   retry.DefaultAttempts,
		policy:     retry.DefaultPolicy(),
		log:        log,
		Now:        func() time.Time { return time.Now().UTC() },
	}
}

// Notify announces one uploaded blob. It retries on any failure with the
// shared backoff policy; an exhausted budget surfaces as an error, which
// the caller logs without rolling back the already-persisted blob.
func (n *Notifier) Notify(ctx context.Context, blobSasURI string, schemaID uuid.UUID) error {
	payload := notificationPayload{
		Ver:  "1",
		Name: notificationName,
		Time: n.Now(),
		IKey: n.iKey,
		Data: notificationData{
			BaseType: "OpenSchemaData",
			BaseData: notificationBaseData{
				Ver:           "2",
				BlobSasURI:    blobSasURI,
				SourceName:    schemaID.String(),
				SourceVersion: "1.0",
			},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	return retry.Do(ctx, n.attempts, n.policy, n.log.Logger, "notify", func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("create notification request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := n.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("post notification: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 300 {
			return fmt.Errorf("notification endpoint returned status %d", resp.StatusCode)
		}
		return nil
	})
}
