// Package extract calls the metadata extraction engine. The engine is an
// opaque collaborator; this package only speaks its HTTP surface and maps
// its responses onto the typed report.
package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"metagate.io/internal/redact"
)

// ErrEngineUnavailable covers transport failures and 5xx answers from the
// engine. The caller releases any credit reservation when it sees this.
var ErrEngineUnavailable = errors.New("extract: engine unavailable")

// Engine produces a metadata report for a stored file.
type Engine interface {
	Extract(ctx context.Context, fileID string, tier string) (*redact.Report, error)
}

// Client is the HTTP engine client. Timeouts live on the embedded
// http.Client; the engine owns its own retry policy.
type Client struct {
	endpoint string
	hc       *http.Client
}

var _ Engine = (*Client)(nil)

// NewClient points at an engine endpoint such as
// "http://extraction-engine:9090".
func NewClient(endpoint string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		endpoint: endpoint,
		hc:       &http.Client{Timeout: timeout},
	}
}

type extractRequest struct {
	FileID string `json:"file_id"`
	Tier   string `json:"tier"`
}

type engineError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (c *Client) Extract(ctx context.Context, fileID string, tier string) (*redact.Report, error) {
	body, err := json.Marshal(extractRequest{FileID: fileID, Tier: tier})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/v1/extract", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		var report redact.Report
		if err := json.NewDecoder(io.LimitReader(resp.Body, 16<<20)).Decode(&report); err != nil {
			return nil, fmt.Errorf("extract: decoding report: %w", err)
		}
		return &report, nil
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: engine returned %d", ErrEngineUnavailable, resp.StatusCode)
	default:
		var ee engineError
		_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&ee)
		if ee.Message == "" {
			ee.Message = http.StatusText(resp.StatusCode)
		}
		return nil, fmt.Errorf("extract: engine rejected file %q: %s", fileID, ee.Message)
	}
}
