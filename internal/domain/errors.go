package domain

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for the orchestration core.
var (
	// Tool-level taxonomy (spec'd error strings surfaced in ExecutionResult).
	ErrAuthFailure       = fmt.Errorf("auth_failure")
	ErrRateLimited       = fmt.Errorf("rate_limited")
	ErrTimeout           = fmt.Errorf("timeout")
	ErrConnectivity      = fmt.Errorf("connectivity_error")
	ErrValidation        = fmt.Errorf("validation_error")
	ErrUnknown           = fmt.Errorf("unknown")
	ErrCredentialInvalid = fmt.Errorf("credential_invalid")

	// Router / engine level.
	ErrClassificationUnavailable = fmt.Errorf("classification_unavailable")
	ErrAggregationFailed         = fmt.Errorf("aggregation_failed")
	ErrNoHandlers                = fmt.Errorf("no handlers available")

	// Registry / lookup.
	ErrToolNotFound        = fmt.Errorf("tool not found")
	ErrIntegrationNotFound = fmt.Errorf("integration not found")

	// Infrastructure.
	ErrDecryption   = fmt.Errorf("decryption failed")
	ErrEncryption   = fmt.Errorf("encryption operation failed")
	ErrTrackerWrite = fmt.Errorf("execution tracker write failed")
	ErrConfigLoad   = fmt.Errorf("failed to load configuration")
	ErrGatewayAuth  = fmt.Errorf("gateway authentication failed")
	ErrPoolClosed   = fmt.Errorf("worker pool closed")
)

// RateLimitError wraps ErrRateLimited with the retry-after hint reported by
// the external system, when one was provided.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate_limited (retry after %s)", e.RetryAfter)
	}
	return "rate_limited"
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

// RetryAfterHint extracts the retry-after duration from an error chain.
// Returns 0 when no hint is present.
func RetryAfterHint(err error) time.Duration {
	var rle *RateLimitError
	if errors.As(err, &rle) {
		return rle.RetryAfter
	}
	return 0
}

// DomainError wraps a sentinel error with operation context.
type DomainError struct {
	Op     string // operation name (e.g. "Registry.LoadForIntegration")
	Err    error  // underlying sentinel or wrapped error
	Detail string // human-readable detail
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// WrapOp adds operation context to an error.
// Returns nil if err is nil, enabling: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// IsRetryable reports whether err is a transient failure worth retrying:
// timeouts, connectivity errors, and rate limits. Auth and validation
// failures are permanent and fail immediately.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrConnectivity) ||
		errors.Is(err, ErrRateLimited)
}

// ErrorCode is a machine-parseable error category for monitoring.
type ErrorCode string

const (
	CodeUnknown                   ErrorCode = "UNKNOWN"
	CodeAuthFailure               ErrorCode = "AUTH_FAILURE"
	CodeRateLimited               ErrorCode = "RATE_LIMITED"
	CodeTimeout                   ErrorCode = "TIMEOUT"
	CodeConnectivity              ErrorCode = "CONNECTIVITY_ERROR"
	CodeValidation                ErrorCode = "VALIDATION_ERROR"
	CodeCredentialInvalid         ErrorCode = "CREDENTIAL_INVALID"
	CodeClassificationUnavailable ErrorCode = "CLASSIFICATION_UNAVAILABLE"
	CodeAggregationFailed         ErrorCode = "AGGREGATION_FAILED"
	CodeNoHandlers                ErrorCode = "NO_HANDLERS"
	CodeToolNotFound              ErrorCode = "TOOL_NOT_FOUND"
	CodeIntegrationNotFound       ErrorCode = "INTEGRATION_NOT_FOUND"
	CodeDecryption                ErrorCode = "DECRYPTION"
	CodeEncryption                ErrorCode = "ENCRYPTION"
	CodeTrackerWrite              ErrorCode = "TRACKER_WRITE"
	CodeConfigLoad                ErrorCode = "CONFIG_LOAD"
	CodeGatewayAuth               ErrorCode = "GATEWAY_AUTH"
	CodePoolClosed                ErrorCode = "POOL_CLOSED"
)

// errorCodeMap maps sentinel errors to their machine-parseable codes.
var errorCodeMap = map[error]ErrorCode{
	ErrAuthFailure:               CodeAuthFailure,
	ErrRateLimited:               CodeRateLimited,
	ErrTimeout:                   CodeTimeout,
	ErrConnectivity:              CodeConnectivity,
	ErrValidation:                CodeValidation,
	ErrCredentialInvalid:         CodeCredentialInvalid,
	ErrClassificationUnavailable: CodeClassificationUnavailable,
	ErrAggregationFailed:         CodeAggregationFailed,
	ErrNoHandlers:                CodeNoHandlers,
	ErrToolNotFound:              CodeToolNotFound,
	ErrIntegrationNotFound:       CodeIntegrationNotFound,
	ErrDecryption:                CodeDecryption,
	ErrEncryption:                CodeEncryption,
	ErrTrackerWrite:              CodeTrackerWrite,
	ErrConfigLoad:                CodeConfigLoad,
	ErrGatewayAuth:               CodeGatewayAuth,
	ErrPoolClosed:                CodePoolClosed,
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// It unwraps DomainError and walks the chain with errors.Is.
// Returns CodeUnknown if no matching sentinel is found.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}

	if code, ok := errorCodeMap[err]; ok {
		return code
	}

	var de *DomainError
	if errors.As(err, &de) {
		if code, ok := errorCodeMap[de.Err]; ok {
			return code
		}
	}

	for sentinel, code := range errorCodeMap {
		if errors.Is(err, sentinel) {
			return code
		}
	}

	return CodeUnknown
}
