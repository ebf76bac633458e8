// ABOUTME: Get-or-generate protocol for the content cache keyed by prompt keyword
// ABOUTME: Cache-only probe, single-flight generation on miss, parse-degrading hit path

package gencache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/singleflight"

	"github.com/funnelworks/funnel-gateway/internal/upstream"
)

// Provider is the slice of the generation store this protocol needs.
type Provider interface {
	Probe(ctx context.Context, keyword string) (*upstream.GenerationRecord, error)
	Generate(ctx context.Context, req upstream.GenerationRequest) (*upstream.GenerationRecord, error)
}

// Result is a generation result normalized for uniform downstream formatting.
// Either Groups holds the structured list-of-groups shape, or Raw carries the
// stored value as an opaque string when it was not parseable.
type Result struct {
	Groups    []map[string]any
	Raw       string
	FromCache bool
}

// Opaque reports whether the result degraded to raw passthrough.
func (r *Result) Opaque() bool {
	return r.Groups == nil
}

// Body returns the JSON-facing payload: the group list, or the raw string.
func (r *Result) Body() any {
	if r.Opaque() {
		return r.Raw
	}
	return r.Groups
}

// Cache implements the get-or-generate protocol. Generation calls have real
// latency and cost, so a cache-only probe runs first and concurrent misses for
// the same keyword within this process share one generation call. Concurrent
// misses across processes still generate twice; the store's last write wins.
type Cache struct {
	provider Provider
	inflight singleflight.Group
	logger   *slog.Logger
}

// New creates a Cache over the given generation provider.
func New(provider Provider, logger *slog.Logger) *Cache {
	return &Cache{
		provider: provider,
		logger:   logger.With("component", "gencache"),
	}
}

// GetOrGenerate looks the keyword up with a cache-only probe and, on a miss,
// builds the full prompt and invokes generation synchronously. The store
// persists the fresh result keyed by keyword together with the promo label.
// Any cache error other than not-found is fatal.
func (c *Cache) GetOrGenerate(ctx context.Context, keyword string, buildPrompt func(string) string, promo string) (*Result, error) {
	record, err := c.provider.Probe(ctx, keyword)
	if err == nil {
		result := normalize(record.Response)
		result.FromCache = true
		c.logger.Debug("cache hit", "keyword", keyword, "opaque", result.Opaque())
		return result, nil
	}
	if !errors.Is(err, upstream.ErrNotFound) {
		return nil, fmt.Errorf("probing content cache: %w", err)
	}

	value, err, shared := c.inflight.Do(keyword, func() (any, error) {
		fresh, err := c.provider.Generate(ctx, upstream.GenerationRequest{
			Prompt:   buildPrompt(keyword),
			Keyword:  keyword,
			Promo:    promo,
			GPTInput: keyword,
		})
		if err != nil {
			return nil, err
		}
		return normalize(fresh.Response), nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		c.logger.Debug("generation shared with concurrent request", "keyword", keyword)
	}

	result := value.(*Result)
	c.logger.Info("generated fresh content", "keyword", keyword, "promo", promo)
	return result, nil
}

// normalize coerces a stored response into the list-of-groups shape. A bare
// object is wrapped in a single-element list; anything that fails structured
// parsing degrades to raw passthrough instead of failing the request.
func normalize(raw json.RawMessage) *Result {
	if len(raw) == 0 {
		return &Result{Raw: ""}
	}

	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return &Result{Raw: string(raw)}
	}

	// Stored values are sometimes a JSON-encoded string of the real payload.
	if s, ok := value.(string); ok {
		var inner any
		if err := json.Unmarshal([]byte(s), &inner); err != nil {
			return &Result{Raw: s}
		}
		value = inner
	}

	switch v := value.(type) {
	case map[string]any:
		return &Result{Groups: []map[string]any{v}}
	case []any:
		groups := make([]map[string]any, 0, len(v))
		for _, item := range v {
			group, ok := item.(map[string]any)
			if !ok {
				return &Result{Raw: string(raw)}
			}
			groups = append(groups, group)
		}
		return &Result{Groups: groups}
	default:
		return &Result{Raw: string(raw)}
	}
}
