package domain

import (
	"context"
	"time"
)

// ExecutionRecord is the durable record of one tool invocation.
// StartedAt is set when tracking begins; CompletedAt is set at most once,
// always >= StartedAt, and only after the invocation has fully returned.
type ExecutionRecord struct {
	ID            string         `json:"id"`
	ToolName      string         `json:"tool_name"`
	IntegrationID string         `json:"integration_id"`
	SessionID     string         `json:"session_id"`
	UserID        string         `json:"user_id"`
	Parameters    map[string]any `json:"parameters,omitempty"`
	Success       bool           `json:"success"`
	ResultData    map[string]any `json:"result_data,omitempty"`
	ErrorMessage  string         `json:"error_message,omitempty"`
	ExecutionTime time.Duration  `json:"execution_time"`
	StartedAt     time.Time      `json:"started_at"`
	CompletedAt   *time.Time     `json:"completed_at,omitempty"`
}

// ExecutionTracker durably records tool invocations and streaming events.
// It is an external collaborator at this layer; the engine only depends on
// this interface. Tracker failures must never abort a query cycle.
type ExecutionTracker interface {
	// StartExecution opens a record and returns its execution id.
	StartExecution(ctx context.Context, toolName, integrationID, sessionID, userID string, params map[string]any) (string, error)

	// CompleteExecution closes the record. Calling it again for the same
	// execution id is a no-op.
	CompleteExecution(ctx context.Context, executionID string, result ExecutionResult) error

	// LogEvent appends a tool-level event to the record.
	LogEvent(ctx context.Context, executionID string, event ExecutionEvent) error

	// LogStreamingEvent records a client-visible streaming event.
	LogStreamingEvent(ctx context.Context, sessionID, userID string, event StreamEvent) error
}

// Publisher is the best-effort audit/analytics fan-out boundary.
// Failures are logged and swallowed; Publish must never block the
// execution path for long.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, message []byte) error
}
