// ABOUTME: Shared HTTP plumbing for the backing resource store clients
// ABOUTME: Maps 404 to ErrNotFound and other failures to typed upstream errors

package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// ErrNotFound indicates the store answered 404 for a point lookup. It is the
// single expected, recoverable lookup error; callers handle it locally.
var ErrNotFound = errors.New("resource not found")

// Error represents a non-404 failure from a backing store or the generation
// provider. It is treated as fatal and surfaced upstream.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("upstream returned %d: %s", e.StatusCode, e.Message)
}

// IsDuplicateCreate reports whether the error is a store rejecting a create
// for an already-existing resource. The backing stores enforce uniqueness and
// answer 409; the upsert protocol treats that the same as pre-existing.
func IsDuplicateCreate(err error) bool {
	var ue *Error
	return errors.As(err, &ue) && ue.StatusCode == http.StatusConflict
}

// doJSON issues a JSON request and decodes the response body into out.
// A 404 response returns ErrNotFound. Any other non-2xx response returns an
// *Error carrying the store's error message when one is present.
func doJSON(ctx context.Context, hc *http.Client, method, url string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, strings.ToUpper(method), url, reqBody)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("calling %s: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &Error{StatusCode: resp.StatusCode, Message: errorMessage(data)}
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}

// errorMessage extracts the store's {"error": "..."} message, falling back to
// the raw body.
func errorMessage(data []byte) string {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &payload); err == nil && payload.Error != "" {
		return payload.Error
	}
	return strings.TrimSpace(string(data))
}
