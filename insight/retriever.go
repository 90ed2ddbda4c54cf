package insight

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Retriever fetches raw reference chunks for a free-text query.
type Retriever interface {
	Retrieve(ctx context.Context, query string) ([]string, error)
}

// NewRetriever creates a Retriever from config. An empty endpoint yields a
// noop retriever that always returns no chunks.
func NewRetriever(cfg Config) Retriever {
	cfg.defaults()
	if cfg.RetrievalEndpoint == "" {
		return noopRetriever{}
	}
	return &httpRetriever{
		endpoint:  strings.TrimRight(cfg.RetrievalEndpoint, "/"),
		maxChunks: cfg.MaxChunks,
		client:    &http.Client{Timeout: cfg.RetrievalTimeout},
	}
}

type noopRetriever struct{}

func (noopRetriever) Retrieve(context.Context, string) ([]string, error) { return nil, nil }

// httpRetriever calls POST <endpoint>/retrieve with {"query": ...} and
// expects {"chunks": ["...", ...]} back. One attempt, timeout-bounded.
type httpRetriever struct {
	endpoint  string
	maxChunks int
	client    *http.Client
}

type retrieveRequest struct {
	Query string `json:"query"`
}

type retrieveResponse struct {
	Chunks []string `json:"chunks"`
}

func (r *httpRetriever) Retrieve(ctx context.Context, query string) ([]string, error) {
	body, err := json.Marshal(retrieveRequest{Query: query})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := r.endpoint + "/retrieve"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP POST %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("HTTP %d from %s: %s", resp.StatusCode, url, string(respBody))
	}

	var result retrieveResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(result.Chunks) > r.maxChunks {
		result.Chunks = result.Chunks[:r.maxChunks]
	}
	return result.Chunks, nil
}
