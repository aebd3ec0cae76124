package classify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deskpilot/internal/domain"
	"deskpilot/internal/infra/logger"
)

func TestClassifyReturnsTextField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/classify", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))

		var req struct {
			Query    string               `json:"query"`
			Handlers []domain.HandlerInfo `json:"handlers"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "open bugs", req.Query)
		require.Len(t, req.Handlers, 1)

		json.NewEncoder(w).Encode(map[string]string{"text": `{"agents":["issues"]}`})
	}))
	defer srv.Close()

	c := New(srv.URL, "key", time.Second, logger.Discard())
	got, err := c.Classify(context.Background(), "open bugs", []domain.HandlerInfo{
		{ID: "issues", Type: domain.IntegrationIssueTracker},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"agents":["issues"]}`, got)
}

func TestClassifyAcceptsRawBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"agents":["crm"],"strategy":"sequential"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "", time.Second, logger.Discard())
	got, err := c.Classify(context.Background(), "q", nil)
	require.NoError(t, err)
	assert.Contains(t, got, `"crm"`)
}

func TestClassifyNon200IsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := New(srv.URL, "", time.Second, logger.Discard())
	_, err := c.Classify(context.Background(), "q", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrClassificationUnavailable)
}

func TestSynthesizeTransportErrorIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close() // refuse connections

	c := New(srv.URL, "", time.Second, logger.Discard())
	_, err := c.Synthesize(context.Background(), "q", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrClassificationUnavailable)
}
