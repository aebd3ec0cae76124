package domain

import (
	"context"
	"encoding/json"
	"time"
)

// ExecutionResult is the outcome of a single tool invocation.
// Invariant: Success=false implies Error is non-empty; Success=true implies
// Error is empty. Use OKResult / FailResult to preserve it.
type ExecutionResult struct {
	Success       bool              `json:"success"`
	Data          map[string]any    `json:"data,omitempty"`
	Error         string            `json:"error,omitempty"`
	ExecutionTime time.Duration     `json:"execution_time"`
	ToolName      string            `json:"tool_name"`
	Timestamp     time.Time         `json:"timestamp"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// OKResult builds a successful ExecutionResult.
func OKResult(toolName string, data map[string]any, elapsed time.Duration) ExecutionResult {
	return ExecutionResult{
		Success:       true,
		Data:          data,
		ExecutionTime: elapsed,
		ToolName:      toolName,
		Timestamp:     time.Now(),
	}
}

// FailResult builds a failed ExecutionResult. An empty errMsg is replaced
// with the unknown-error sentinel text so the invariant holds.
func FailResult(toolName, errMsg string, elapsed time.Duration) ExecutionResult {
	if errMsg == "" {
		errMsg = ErrUnknown.Error()
	}
	return ExecutionResult{
		Success:       false,
		Error:         errMsg,
		ExecutionTime: elapsed,
		ToolName:      toolName,
		Timestamp:     time.Now(),
	}
}

// ExecutionEventType classifies tool-level events.
type ExecutionEventType string

const (
	ExecEventStart    ExecutionEventType = "start"
	ExecEventProgress ExecutionEventType = "progress"
	ExecEventComplete ExecutionEventType = "complete"
	ExecEventError    ExecutionEventType = "error"
)

// ExecutionEvent is emitted by a tool during test_connection and execute.
// Zero or more progress events may occur between start and the single
// terminating complete or error event.
type ExecutionEvent struct {
	Type      ExecutionEventType `json:"type"`
	ToolName  string             `json:"tool_name"`
	Message   string             `json:"message"`
	Data      map[string]any     `json:"data,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
	// Internal marks operational detail (retry notices) that is recorded
	// in the execution audit trail but never forwarded to the client
	// stream. Clients observe retries only as elapsed execution time.
	Internal bool `json:"internal,omitempty"`
}

// EventEmitter is the single observer hook through which tools report
// execution events. Implementations must be safe for concurrent use.
type EventEmitter func(ExecutionEvent)

// ToolSchema describes a tool's parameters as a JSON Schema document.
type ToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// Tool is a credential-scoped capability object bound to one integration's
// decrypted credentials.
//
// TestConnection and Execute never panic and never return Go errors for
// operational failures; failures are reported through a failed
// ExecutionResult so one misbehaving integration cannot abort a query cycle.
type Tool interface {
	Name() string
	Description() string
	Schema() ToolSchema

	// RequiredCredentials lists the credential keys this tool needs.
	RequiredCredentials() []string

	// ValidateCredentials checks required keys are present in the bound
	// bundle. No network calls.
	ValidateCredentials() bool

	// TestConnection performs one lightweight call against the external
	// system to confirm reachability and auth validity.
	TestConnection(ctx context.Context) ExecutionResult

	// Execute performs the tool's unit of work. Credentials are validated
	// first; transient failures are retried with exponential backoff before
	// the final result is produced.
	Execute(ctx context.Context, params map[string]any) ExecutionResult
}

// ToolFactory constructs a tool instance bound to a credential bundle.
// The emitter is the only side channel the instance may use.
type ToolFactory interface {
	// ToolName is the unique name of the tool this factory builds.
	ToolName() string
	// New builds an instance owning the bundle.
	New(bundle CredentialBundle, emit EventEmitter) Tool
}
