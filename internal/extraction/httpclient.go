package extraction

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/roledraft/roledraft/internal/schema"
)

// Compile-time assertion that HTTPClient satisfies Client.
var _ Client = (*HTTPClient)(nil)

// Backend endpoint paths, matching the extraction API server.
const (
	statusPath   = "/api/jd-status"
	documentPath = "/api/jd-data"
)

// defaultHTTPTimeout bounds individual backend requests when the caller
// does not provide a stricter context deadline.
const defaultHTTPTimeout = 10 * time.Second

// HTTPOption is a functional option for [NewHTTPClient].
type HTTPOption func(*HTTPClient)

// WithHTTPClient overrides the underlying [http.Client]. Primarily used in
// tests to inject transports with custom timeouts.
func WithHTTPClient(hc *http.Client) HTTPOption {
	return func(c *HTTPClient) { c.hc = hc }
}

// HTTPClient implements [Client] against the backend's REST endpoints.
type HTTPClient struct {
	baseURL string
	hc      *http.Client
}

// NewHTTPClient creates a client for the backend at baseURL
// (e.g. "http://localhost:7861").
func NewHTTPClient(baseURL string, opts ...HTTPOption) *HTTPClient {
	c := &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		hc:      &http.Client{Timeout: defaultHTTPTimeout},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// statusResponse is the wire shape of the status endpoint.
type statusResponse struct {
	Success           bool   `json:"success"`
	HasNewExtraction  bool   `json:"hasNewExtraction"`
	ExtractionCounter int64  `json:"extractionCounter"`
	Error             string `json:"error,omitempty"`
}

// documentResponse is the wire shape of the full-document endpoint. Data
// carries the raw field map; the surrounding bookkeeping fields are the
// backend's own view and are ignored in favour of local state.
type documentResponse struct {
	Success bool               `json:"success"`
	Data    schema.FieldUpdate `json:"data"`
	Error   string             `json:"error,omitempty"`
}

// Status implements [Client.Status].
func (c *HTTPClient) Status(ctx context.Context) (Status, error) {
	var res statusResponse
	if err := c.getJSON(ctx, statusPath, &res); err != nil {
		return Status{}, err
	}
	if !res.Success {
		return Status{}, fmt.Errorf("extraction: status: backend error: %s", orUnknown(res.Error))
	}
	return Status{
		HasNewExtraction:  res.HasNewExtraction,
		ExtractionCounter: res.ExtractionCounter,
	}, nil
}

// Document implements [Client.Document].
func (c *HTTPClient) Document(ctx context.Context) (schema.FieldUpdate, error) {
	var res documentResponse
	if err := c.getJSON(ctx, documentPath, &res); err != nil {
		return nil, err
	}
	if !res.Success {
		return nil, fmt.Errorf("extraction: document: backend error: %s", orUnknown(res.Error))
	}
	if res.Data == nil {
		res.Data = schema.FieldUpdate{}
	}
	return res.Data, nil
}

// getJSON performs a GET against path and decodes the JSON body into out.
func (c *HTTPClient) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("extraction: build request %s: %w", path, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("extraction: GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("extraction: GET %s: unexpected status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("extraction: decode %s response: %w", path, err)
	}
	return nil
}

// orUnknown substitutes a placeholder for empty backend error strings.
func orUnknown(msg string) string {
	if msg == "" {
		return "unknown"
	}
	return msg
}
