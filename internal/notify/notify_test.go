// ABOUTME: Tests for webhook delivery: skip rules, single attempt, swallowed failures

package notify

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotify_SkipsBlankAndNullDestinations(t *testing.T) {
	n := New(nil, testLogger())
	for _, url := range []string{"", "   ", "null", "NULL", " null "} {
		assert.Equal(t, StatusSkipped, n.Notify(context.Background(), url, map[string]any{"ok": true}), "url %q", url)
	}
}

func TestNotify_PostsPayloadOnce(t *testing.T) {
	var calls atomic.Int64
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	defer srv.Close()

	n := New(srv.Client(), testLogger())
	status := n.Notify(context.Background(), srv.URL, map[string]any{"keyword": "yoga"})
	assert.Equal(t, StatusDelivered, status)
	assert.Equal(t, int64(1), calls.Load())
	assert.Equal(t, "yoga", got["keyword"])
}

func TestNotify_FailureDoesNotRetry(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	n := New(srv.Client(), testLogger())
	status := n.Notify(context.Background(), srv.URL, map[string]any{"ok": true})
	assert.Equal(t, StatusFailed, status)
	assert.Equal(t, int64(1), calls.Load(), "one attempt, no retries")
}

func TestNotify_UnreachableHostSwallowed(t *testing.T) {
	n := New(&http.Client{}, testLogger())
	status := n.Notify(context.Background(), "http://127.0.0.1:1/webhook", map[string]any{"ok": true})
	assert.Equal(t, StatusFailed, status)
}
