package esbulk

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/opensearch-project/opensearch-go/v2"

	"github.com/seaward-systems/streamsift/internal/logging"
)

// ClientConfig holds the search cluster connection settings.
type ClientConfig struct {
	URL      string
	Username string
	Password string
	Insecure bool
}

// NewClient builds the shared search client. It is safe for concurrent use
// and is constructed once per pipeline factory.
func NewClient(cfg ClientConfig) (*opensearch.Client, error) {
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: cfg.Insecure,
		},
	}

	client, err := opensearch.NewClient(opensearch.Config{
		Addresses: []string{cfg.URL},
		Username:  cfg.Username,
		Password:  cfg.Password,
		Transport: transport,
	})
	if err != nil {
		return nil, fmt.Errorf("create search client: %w", err)
	}
	return client, nil
}

// Submitter sends framed bulk bodies and classifies the outcome.
type Submitter struct {
	client *opensearch.Client
	log    *logging.Logger
}

// NewSubmitter creates a submitter over an existing client.
func NewSubmitter(client *opensearch.Client, log *logging.Logger) *Submitter {
	return &Submitter{client: client, log: log}
}

// Submit posts one bulk body. The frame carries no trailing newline; the
// bulk endpoint requires a terminating one, so it is appended here.
func (s *Submitter) Submit(ctx context.Context, body []byte) Response {
	payload := make([]byte, 0, len(body)+1)
	payload = append(payload, body...)
	payload = append(payload, '\n')

	res, err := s.client.Bulk(bytes.NewReader(payload), s.client.Bulk.WithContext(ctx))
	if err != nil {
		return Response{Kind: TransportFailed, Err: err}
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return Response{Kind: TransportFailed, StatusCode: res.StatusCode, Err: fmt.Errorf("read bulk response: %w", err)}
	}

	if res.IsError() {
		var envelope errorEnvelope
		if json.Unmarshal(raw, &envelope) == nil && len(envelope.Error) > 0 && envelope.Status != 0 {
			return Response{Kind: ServerError, StatusCode: res.StatusCode, RawBody: raw}
		}
		// 5xx from an intermediary with no structured body is a transport
		// failure and stays retryable.
		return Response{
			Kind:       TransportFailed,
			StatusCode: res.StatusCode,
			Err:        fmt.Errorf("bulk request returned status %d", res.StatusCode),
			RawBody:    raw,
		}
	}

	var bulk BulkResponse
	if err := json.Unmarshal(raw, &bulk); err != nil {
		return Response{Kind: TransportFailed, StatusCode: res.StatusCode, Err: fmt.Errorf("decode bulk response: %w", err), RawBody: raw}
	}

	return Response{Kind: ServerSuccess, StatusCode: res.StatusCode, Bulk: &bulk, RawBody: raw}
}
