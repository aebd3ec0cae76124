package tool

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"deskpilot/internal/domain"
)

// taxonomySentinels are the classified categories a tool failure can land
// in. classifyError guarantees the returned error wraps exactly one.
var taxonomySentinels = []error{
	domain.ErrAuthFailure,
	domain.ErrRateLimited,
	domain.ErrTimeout,
	domain.ErrConnectivity,
	domain.ErrValidation,
}

// connectivityPatterns are substrings in error messages that indicate the
// external system is unreachable. Checked case-insensitively.
var connectivityPatterns = []string{
	"connection refused",
	"connection reset",
	"no such host",
	"broken pipe",
	"temporarily unavailable",
	"service unavailable",
	"network is unreachable",
	"eof",
}

// classifyError maps an arbitrary backend error into the failure taxonomy.
// Already-classified errors pass through unchanged; everything else gets
// wrapped with the matching sentinel, defaulting to unknown.
func classifyError(err error) error {
	if err == nil {
		return nil
	}

	for _, sentinel := range taxonomySentinels {
		if errors.Is(err, sentinel) {
			return err
		}
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", domain.ErrTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return fmt.Errorf("%w: %v", domain.ErrTimeout, err)
		}
		return fmt.Errorf("%w: %v", domain.ErrConnectivity, err)
	}

	lower := strings.ToLower(err.Error())
	if strings.Contains(lower, "timeout") || strings.Contains(lower, "deadline exceeded") {
		return fmt.Errorf("%w: %v", domain.ErrTimeout, err)
	}
	for _, p := range connectivityPatterns {
		if strings.Contains(lower, p) {
			return fmt.Errorf("%w: %v", domain.ErrConnectivity, err)
		}
	}

	return fmt.Errorf("%w: %v", domain.ErrUnknown, err)
}

// mapHTTPStatus converts an HTTP status into the failure taxonomy.
// retryAfter is the raw Retry-After header value, seconds or HTTP-date.
// Returns nil for 2xx.
func mapHTTPStatus(status int, retryAfter string) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == 401 || status == 403:
		return fmt.Errorf("%w: status %d", domain.ErrAuthFailure, status)
	case status == 429:
		return fmt.Errorf("status %d: %w", status, &domain.RateLimitError{RetryAfter: parseRetryAfter(retryAfter)})
	case status == 408 || status == 504:
		return fmt.Errorf("%w: status %d", domain.ErrTimeout, status)
	case status == 400 || status == 404 || status == 422:
		return fmt.Errorf("%w: status %d", domain.ErrValidation, status)
	case status >= 500:
		return fmt.Errorf("%w: status %d", domain.ErrConnectivity, status)
	default:
		return fmt.Errorf("%w: status %d", domain.ErrUnknown, status)
	}
}

// parseRetryAfter handles both delta-seconds and HTTP-date forms.
// Returns 0 when the header is absent or unparsable.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
