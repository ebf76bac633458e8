// ABOUTME: HTTP client for the generated-content store and its generation provider
// ABOUTME: Separates the cache-only probe from the billable generation call

package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
)

// GenerationRequest is the payload for a generation call. The store persists
// the result server-side keyed by Keyword, with Promo recording which prompt
// template produced it.
type GenerationRequest struct {
	Prompt   string `json:"prompt"`
	Keyword  string `json:"keyword"`
	Promo    string `json:"promo"`
	GPTInput string `json:"gptInput"`
}

// GenerationRecord is a stored generation result. Response stays raw so
// callers can attempt structured parsing and degrade to passthrough.
type GenerationRecord struct {
	Prompt    string          `json:"prompt"`
	Keyword   string          `json:"keyword"`
	Promo     string          `json:"promo"`
	GPTInput  string          `json:"gptInput"`
	Response  json.RawMessage `json:"response"`
	CreatedAt int64           `json:"createdAt"`
}

// GPTClient talks to the content-generation store endpoint.
type GPTClient struct {
	url    string
	http   *http.Client
	logger *slog.Logger
}

// NewGPTClient creates a client for the generation store at the given endpoint.
func NewGPTClient(endpoint string, hc *http.Client, logger *slog.Logger) *GPTClient {
	return &GPTClient{
		url:    endpoint,
		http:   hc,
		logger: logger.With("store", "gpt"),
	}
}

// Probe queries the store for an existing result without triggering
// generation. The cacheOnly flag is load-bearing: a plain read against this
// store would generate as a side effect. Returns ErrNotFound on a miss.
func (c *GPTClient) Probe(ctx context.Context, keyword string) (*GenerationRecord, error) {
	probeURL := c.url + "?keyword=" + url.QueryEscape(keyword) + "&cacheOnly=true"
	var record GenerationRecord
	if err := doJSON(ctx, c.http, http.MethodGet, probeURL, nil, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// Generate invokes the generation provider synchronously. The store persists
// the result keyed by the request keyword before answering.
func (c *GPTClient) Generate(ctx context.Context, req GenerationRequest) (*GenerationRecord, error) {
	var record GenerationRecord
	if err := doJSON(ctx, c.http, http.MethodPost, c.url, req, &record); err != nil {
		return nil, fmt.Errorf("generating content: %w", err)
	}
	c.logger.Info("content generated", "keyword", req.Keyword, "promo", req.Promo)
	return &record, nil
}
