// ABOUTME: HTTP client for the powerplay store (multi-step workflow state by email)
// ABOUTME: Create, list, dotted-path merge-patch, and delete operations

package upstream

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
)

// PowerplayClient talks to the powerplay store endpoint.
type PowerplayClient struct {
	url    string
	http   *http.Client
	logger *slog.Logger
}

// NewPowerplayClient creates a client for the powerplay store at the given endpoint.
func NewPowerplayClient(endpoint string, hc *http.Client, logger *slog.Logger) *PowerplayClient {
	return &PowerplayClient{
		url:    endpoint,
		http:   hc,
		logger: logger.With("store", "powerplay"),
	}
}

// storeResponse is the store's wrapper shape: mutations come back as
// {"message": ..., "data": {record}}.
type storeResponse struct {
	Message string         `json:"message"`
	Data    map[string]any `json:"data"`
}

// Create posts the raw user-info payload to the store and returns the created
// record.
func (c *PowerplayClient) Create(ctx context.Context, method string, payload map[string]any) (map[string]any, error) {
	var resp storeResponse
	if err := doJSON(ctx, c.http, method, c.url, payload, &resp); err != nil {
		return nil, err
	}
	c.logger.Info("powerplay created", "email", payload["email"])
	return resp.Data, nil
}

// List retrieves all powerplay records for the given email.
func (c *PowerplayClient) List(ctx context.Context, email string) ([]map[string]any, error) {
	var resp struct {
		Powerplays []map[string]any `json:"powerplays"`
	}
	if err := doJSON(ctx, c.http, http.MethodGet, c.url+"?email="+url.QueryEscape(email), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Powerplays, nil
}

// Patch issues a single merge-patch write: the dotted-path fields are set on
// the record for email without replacing the rest of it. Returns the merged
// record.
func (c *PowerplayClient) Patch(ctx context.Context, email string, step int, fields map[string]any) (map[string]any, error) {
	body := make(map[string]any, len(fields)+2)
	for path, value := range fields {
		body[path] = value
	}
	body["email"] = email
	body["step"] = step

	var resp storeResponse
	if err := doJSON(ctx, c.http, http.MethodPatch, c.url, body, &resp); err != nil {
		return nil, fmt.Errorf("patching powerplay: %w", err)
	}
	c.logger.Info("powerplay patched", "email", email, "step", step, "fields", len(fields))
	return resp.Data, nil
}

// Delete removes all powerplay records for the given email.
func (c *PowerplayClient) Delete(ctx context.Context, email string) error {
	if err := doJSON(ctx, c.http, http.MethodDelete, c.url+"?email="+url.QueryEscape(email), nil, nil); err != nil {
		return fmt.Errorf("deleting powerplays: %w", err)
	}
	return nil
}
