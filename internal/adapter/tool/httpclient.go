package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"deskpilot/internal/domain"
)

// GuardConfig tunes the shared outbound-call guard for an HTTP backend.
type GuardConfig struct {
	// RateLimit is requests per second against the backend. 0 = unlimited.
	RateLimit float64
	// BreakerMaxFailures is consecutive failures before the circuit opens.
	BreakerMaxFailures uint32
	// BreakerTimeout is how long the circuit stays open.
	BreakerTimeout time.Duration
}

// GuardedClient wraps an *http.Client with a token-bucket rate limiter and
// a circuit breaker. When the backend fails repeatedly the circuit opens
// and calls fail fast as connectivity errors, preventing retry storms.
type GuardedClient struct {
	client  *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[*http.Response]
	logger  *slog.Logger
}

// NewGuardedClient builds a guarded client. client may be nil, in which
// case a pooled default is used.
func NewGuardedClient(name string, client *http.Client, cfg GuardConfig, logger *slog.Logger) *GuardedClient {
	if client == nil {
		client = newPooledClient()
	}

	maxFailures := cfg.BreakerMaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}
	timeout := cfg.BreakerTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), int(cfg.RateLimit)+1)
	}

	cb := gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        "backend:" + name,
		MaxRequests: 1, // allow 1 probe in half-open state
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		IsSuccessful: func(err error) bool {
			// Only infrastructure-level failures trip the breaker; the
			// status taxonomy is applied by the caller.
			return err == nil
		},
	})

	return &GuardedClient{client: client, limiter: limiter, breaker: cb, logger: logger}
}

// Do sends the request through the limiter and breaker. An open circuit
// surfaces as a connectivity error so the retry policy treats it as
// transient and the error taxonomy stays uniform.
func (g *GuardedClient) Do(req *http.Request) (*http.Response, error) {
	if g.limiter != nil {
		if err := g.limiter.Wait(req.Context()); err != nil {
			return nil, classifyError(err)
		}
	}

	resp, err := g.breaker.Execute(func() (*http.Response, error) {
		return g.client.Do(req)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, fmt.Errorf("%w: circuit open: %v", domain.ErrConnectivity, err)
		}
		return nil, classifyError(err)
	}
	return resp, nil
}

// DoJSON sends the request, maps non-2xx statuses into the failure
// taxonomy, and decodes the body into out (skipped when out is nil).
func (g *GuardedClient) DoJSON(req *http.Request, out any) error {
	resp, err := g.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := mapHTTPStatus(resp.StatusCode, resp.Header.Get("Retry-After")); err != nil {
		// Drain so the connection can be reused.
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return err
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %v", domain.ErrUnknown, err)
	}
	return nil
}

// State exposes the breaker state for monitoring.
func (g *GuardedClient) State() gobreaker.State { return g.breaker.State() }

// newPooledClient builds an http.Client with connection pooling sized for
// a handful of long-lived backend hosts.
func newPooledClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout: 10 * time.Second,
			MaxIdleConns:        20,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     120 * time.Second,
			ForceAttemptHTTP2:   true,
		},
	}
}

// newJSONRequest builds a JSON API request with auth header applied.
func newJSONRequest(ctx context.Context, method, url string, body io.Reader, authHeader, authValue string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authHeader != "" {
		req.Header.Set(authHeader, authValue)
	}
	return req, nil
}
