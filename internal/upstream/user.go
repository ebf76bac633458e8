// ABOUTME: HTTP client for the user store (contact records keyed by email)
// ABOUTME: Point lookup by email plus create, update, and delete operations

package upstream

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
)

// UserRecord is a user store entity. Email is the natural key,
// case-normalized to lower case before any call.
type UserRecord struct {
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Business  string `json:"business"`
	Interest  string `json:"interest"`
}

// UserClient talks to the user store endpoint.
type UserClient struct {
	url    string
	http   *http.Client
	logger *slog.Logger
}

// NewUserClient creates a client for the user store at the given endpoint.
func NewUserClient(endpoint string, hc *http.Client, logger *slog.Logger) *UserClient {
	return &UserClient{
		url:    endpoint,
		http:   hc,
		logger: logger.With("store", "user"),
	}
}

// Get performs a point lookup by email. Returns ErrNotFound when the store
// answers 404.
func (c *UserClient) Get(ctx context.Context, email string) (map[string]any, error) {
	var record map[string]any
	err := doJSON(ctx, c.http, http.MethodGet, c.url+"?email="+url.QueryEscape(email), nil, &record)
	if err != nil {
		return nil, err
	}
	return record, nil
}

// Create writes a new user record using the caller-supplied HTTP verb.
func (c *UserClient) Create(ctx context.Context, method string, record UserRecord) error {
	if err := doJSON(ctx, c.http, method, c.url, record, nil); err != nil {
		return fmt.Errorf("creating user: %w", err)
	}
	c.logger.Info("user created", "email", record.Email)
	return nil
}

// Update unconditionally writes the updatable fields of an existing record.
// Not part of the hot-path upsert protocol.
func (c *UserClient) Update(ctx context.Context, record UserRecord) error {
	if err := doJSON(ctx, c.http, http.MethodPut, c.url, record, nil); err != nil {
		return fmt.Errorf("updating user: %w", err)
	}
	return nil
}

// Delete removes the record for the given email.
func (c *UserClient) Delete(ctx context.Context, email string) error {
	if err := doJSON(ctx, c.http, http.MethodDelete, c.url+"?email="+url.QueryEscape(email), nil, nil); err != nil {
		return fmt.Errorf("deleting user: %w", err)
	}
	return nil
}
