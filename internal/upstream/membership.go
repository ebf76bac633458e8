// ABOUTME: HTTP client for the membership store (plan, quota, and subscription window)
// ABOUTME: Read path feeds the search-mode quota and expiry enforcement

package upstream

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
)

// MembershipRecord is a membership store entity keyed by email. The quota
// counter is read and enforced here but only ever incremented by the store
// side.
type MembershipRecord struct {
	Email         string  `json:"email"`
	Plan          string  `json:"plan,omitempty"`
	Tier          string  `json:"tier"`
	PaymentFreq   string  `json:"payment_freq"`
	PaymentAmount float64 `json:"payment_amount,omitempty"`
	GPTLimit      int     `json:"gptLimit"`
	GPTCount      int     `json:"gptCount"`
	SubStart      int64   `json:"subscription_start"`
	SubEnd        int64   `json:"subscription_end"`
}

// MembershipClient talks to the membership store endpoint.
type MembershipClient struct {
	url    string
	http   *http.Client
	logger *slog.Logger
}

// NewMembershipClient creates a client for the membership store at the given endpoint.
func NewMembershipClient(endpoint string, hc *http.Client, logger *slog.Logger) *MembershipClient {
	return &MembershipClient{
		url:    endpoint,
		http:   hc,
		logger: logger.With("store", "membership"),
	}
}

// Get performs a point lookup by email. Returns ErrNotFound when the store
// answers 404.
func (c *MembershipClient) Get(ctx context.Context, email string) (*MembershipRecord, error) {
	var record MembershipRecord
	if err := doJSON(ctx, c.http, http.MethodGet, c.url+"?email="+url.QueryEscape(email), nil, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// Create writes a new membership record using the caller-supplied HTTP verb.
func (c *MembershipClient) Create(ctx context.Context, method string, record MembershipRecord) error {
	if err := doJSON(ctx, c.http, method, c.url, record, nil); err != nil {
		return fmt.Errorf("creating membership: %w", err)
	}
	c.logger.Info("membership created", "email", record.Email, "tier", record.Tier)
	return nil
}

// Update unconditionally writes the updatable fields of an existing record.
func (c *MembershipClient) Update(ctx context.Context, record MembershipRecord) error {
	if err := doJSON(ctx, c.http, http.MethodPut, c.url, record, nil); err != nil {
		return fmt.Errorf("updating membership: %w", err)
	}
	return nil
}

// Delete removes the record for the given email.
func (c *MembershipClient) Delete(ctx context.Context, email string) error {
	if err := doJSON(ctx, c.http, http.MethodDelete, c.url+"?email="+url.QueryEscape(email), nil, nil); err != nil {
		return fmt.Errorf("deleting membership: %w", err)
	}
	return nil
}
