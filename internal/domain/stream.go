package domain

import "time"

// StreamEventType identifies the kind of event on the live connection.
type StreamEventType string

const (
	StreamDebug      StreamEventType = "debug"
	StreamAgentEvent StreamEventType = "agent_event"
	StreamToolCall   StreamEventType = "tool_call"
	StreamToolResult StreamEventType = "tool_result"
	StreamToken      StreamEventType = "token"
	StreamFinal      StreamEventType = "final"
	StreamError      StreamEventType = "error"
)

// Terminal reports whether t ends a query cycle. Exactly one terminal event
// is emitted per cycle, and nothing follows it.
func (t StreamEventType) Terminal() bool {
	return t == StreamFinal || t == StreamError
}

// StreamEvent is the wire form delivered to the client, one message per
// event, in send order.
type StreamEvent struct {
	ID        string            `json:"id"`
	Type      StreamEventType   `json:"type"`
	Content   string            `json:"content,omitempty"`
	Data      map[string]any    `json:"data,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}
