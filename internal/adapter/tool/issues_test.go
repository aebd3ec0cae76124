package tool

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deskpilot/internal/domain"
	"deskpilot/internal/infra/logger"
)

func issueBundle() domain.CredentialBundle {
	return domain.CredentialBundle{
		IntegrationType: domain.IntegrationIssueTracker,
		Credentials:     map[string]string{"base_url": "http://tracker.local", "api_token": "t"},
	}
}

func fastOpts() Options {
	return Options{Timeout: 2 * time.Second, MaxRetries: 0, Logger: logger.Discard()}
}

func TestIssueTrackerSearch(t *testing.T) {
	tool := NewIssueTrackerTool(MockIssueBackend{}, issueBundle(), nil, fastOpts())

	res := tool.Execute(context.Background(), map[string]any{"action": "search", "query": "login bug"})
	require.True(t, res.Success, res.Error)
	assert.Equal(t, 1, res.Data["count"])
}

func TestIssueTrackerDefaultActionIsSearch(t *testing.T) {
	tool := NewIssueTrackerTool(MockIssueBackend{}, issueBundle(), nil, fastOpts())

	res := tool.Execute(context.Background(), map[string]any{"query": "login bug"})
	require.True(t, res.Success, res.Error)
	assert.Contains(t, res.Data, "issues")
}

func TestIssueTrackerSearchRequiresQuery(t *testing.T) {
	tool := NewIssueTrackerTool(MockIssueBackend{}, issueBundle(), nil, fastOpts())

	res := tool.Execute(context.Background(), map[string]any{"action": "search"})
	require.False(t, res.Success)
	assert.Contains(t, res.Error, "validation_error")
	assert.Contains(t, res.Error, "query")
}

func TestIssueTrackerUnknownAction(t *testing.T) {
	tool := NewIssueTrackerTool(MockIssueBackend{}, issueBundle(), nil, fastOpts())

	res := tool.Execute(context.Background(), map[string]any{"action": "explode"})
	require.False(t, res.Success)
	assert.Contains(t, res.Error, "validation_error")
	assert.Contains(t, res.Error, "unknown action")
}

func TestIssueTrackerTransitionRequiresKeyAndStatus(t *testing.T) {
	tool := NewIssueTrackerTool(MockIssueBackend{}, issueBundle(), nil, fastOpts())

	res := tool.Execute(context.Background(), map[string]any{"action": "transition", "key": "DP-1"})
	require.False(t, res.Success)
	assert.Contains(t, res.Error, "status")
}

func TestIssueTrackerMissingCredentials(t *testing.T) {
	bundle := domain.CredentialBundle{Credentials: map[string]string{"base_url": "http://x"}}
	tool := NewIssueTrackerTool(MockIssueBackend{}, bundle, nil, fastOpts())

	assert.False(t, tool.ValidateCredentials())
	res := tool.Execute(context.Background(), map[string]any{"query": "x"})
	require.False(t, res.Success)
	assert.Contains(t, res.Error, "missing credentials api_token")
}

func newGuardedTestClient(t *testing.T) *GuardedClient {
	t.Helper()
	return NewGuardedClient("issues", nil, GuardConfig{BreakerMaxFailures: 100}, logger.Discard())
}

func TestHTTPIssueBackendSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/issues", r.URL.Path)
		assert.Equal(t, "login", r.URL.Query().Get("query"))
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(map[string]any{"issues": []Issue{
			{Key: "DP-1", Title: "login broken", Status: "open"},
		}})
	}))
	defer srv.Close()

	backend := NewHTTPIssueBackend(srv.URL, "secret", newGuardedTestClient(t))
	issues, err := backend.Search(context.Background(), IssueSearchOpts{Query: "login"})
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, "DP-1", issues[0].Key)
}

func TestHTTPIssueBackendAuthFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	backend := NewHTTPIssueBackend(srv.URL, "bad", newGuardedTestClient(t))
	err := backend.Ping(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrAuthFailure)
	assert.False(t, domain.IsRetryable(err))
}

func TestHTTPIssueBackendRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	backend := NewHTTPIssueBackend(srv.URL, "t", newGuardedTestClient(t))
	_, err := backend.Get(context.Background(), "DP-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrRateLimited)
	assert.True(t, domain.IsRetryable(err))
	assert.Equal(t, 7*time.Second, domain.RetryAfterHint(err))
}

func TestToolRetriesAgainstTransientBackend(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"issues": []Issue{}})
	}))
	defer srv.Close()

	bundle := domain.CredentialBundle{Credentials: map[string]string{"base_url": srv.URL, "api_token": "t"}}
	backend := NewHTTPIssueBackend(srv.URL, "t", newGuardedTestClient(t))
	tool := NewIssueTrackerTool(backend, bundle, nil, Options{Timeout: 2 * time.Second, MaxRetries: 1, Logger: logger.Discard()})

	res := tool.Execute(context.Background(), map[string]any{"query": "x"})
	require.True(t, res.Success, res.Error)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, "2", res.Metadata["attempts"])
}

func TestGuardedClientCircuitOpensAsConnectivity(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	srv.Close() // refuse all connections

	client := NewGuardedClient("issues", nil, GuardConfig{BreakerMaxFailures: 2, BreakerTimeout: time.Minute}, logger.Discard())
	backend := NewHTTPIssueBackend(srv.URL, "t", client)

	for i := 0; i < 3; i++ {
		err := backend.Ping(context.Background())
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrConnectivity)
	}

	// Breaker tripped after consecutive dial failures; calls now fail fast.
	err := backend.Ping(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrConnectivity)
	assert.Contains(t, err.Error(), "circuit open")
}
