// ABOUTME: Best-effort webhook notifier: one POST attempt, outcome logged and swallowed
// ABOUTME: Blank or literal "null" destinations are skipped without a network call

package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
)

// Status reports what happened to a notification attempt.
type Status string

const (
	StatusSkipped   Status = "skipped"
	StatusDelivered Status = "delivered"
	StatusFailed    Status = "failed"
)

// Notifier posts response payloads to caller-supplied webhook URLs. Delivery
// is fire-and-forget: one attempt, no retries, failures never surface.
type Notifier struct {
	hc     *http.Client
	logger *slog.Logger
}

func New(hc *http.Client, logger *slog.Logger) *Notifier {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Notifier{hc: hc, logger: logger.With("component", "notify")}
}

// Notify posts payload as JSON to url. Empty and "null" destinations are
// treated as absent; web form builders serialize unset fields that way.
func (n *Notifier) Notify(ctx context.Context, url string, payload any) Status {
	url = strings.TrimSpace(url)
	if url == "" || strings.EqualFold(url, "null") {
		return StatusSkipped
	}

	body, err := json.Marshal(payload)
	if err != nil {
		n.logger.Warn("webhook payload not serializable", "url", url, "error", err)
		return StatusFailed
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		n.logger.Warn("webhook request invalid", "url", url, "error", err)
		return StatusFailed
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.hc.Do(req)
	if err != nil {
		n.logger.Warn("webhook delivery failed", "url", url, "error", err)
		return StatusFailed
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		n.logger.Warn("webhook rejected", "url", url, "status", resp.StatusCode)
		return StatusFailed
	}

	n.logger.Debug("webhook delivered", "url", url, "status", resp.StatusCode)
	return StatusDelivered
}
