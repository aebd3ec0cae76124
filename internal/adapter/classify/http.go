// Package classify calls the remote classification and synthesis service.
// The capability is opaque to the orchestration core: the router and
// aggregator only see raw text and handle parsing and fallback themselves.
package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"deskpilot/internal/domain"
)

// HTTPClassifier implements domain.Classifier and domain.Synthesizer
// against a JSON-over-HTTP model service.
type HTTPClassifier struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *slog.Logger
}

// New creates the classifier. timeout bounds each call.
func New(baseURL, apiKey string, timeout time.Duration, logger *slog.Logger) *HTTPClassifier {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPClassifier{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

type classifyRequest struct {
	Query    string               `json:"query"`
	Handlers []domain.HandlerInfo `json:"handlers"`
}

type synthesizeRequest struct {
	Query   string                   `json:"query"`
	Results []domain.ExecutionResult `json:"results"`
}

type textResponse struct {
	Text string `json:"text"`
}

// Classify asks the service to select handlers for the query. Returns the
// raw response text; the router owns parsing.
func (c *HTTPClassifier) Classify(ctx context.Context, query string, handlers []domain.HandlerInfo) (string, error) {
	return c.post(ctx, "/v1/classify", classifyRequest{Query: query, Handlers: handlers})
}

// Synthesize asks the service to combine handler results into a summary.
func (c *HTTPClassifier) Synthesize(ctx context.Context, query string, results []domain.ExecutionResult) (string, error) {
	return c.post(ctx, "/v1/synthesize", synthesizeRequest{Query: query, Results: results})
}

func (c *HTTPClassifier) post(ctx context.Context, path string, body any) (string, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return "", domain.WrapOp("classify.post", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return "", domain.WrapOp("classify.post", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrClassificationUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("%w: status %d", domain.ErrClassificationUnavailable, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrClassificationUnavailable, err)
	}

	// Services return either {"text": ...} or a raw body.
	var tr textResponse
	if err := json.Unmarshal(data, &tr); err == nil && tr.Text != "" {
		return tr.Text, nil
	}
	return string(data), nil
}

var (
	_ domain.Classifier  = (*HTTPClassifier)(nil)
	_ domain.Synthesizer = (*HTTPClassifier)(nil)
)
