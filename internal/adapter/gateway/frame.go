package gateway

import "encoding/json"

// FrameType identifies the kind of frame exchanged over the WebSocket
// connection.
type FrameType string

const (
	// FrameTypeQuery is a client-sent query request.
	FrameTypeQuery FrameType = "query"
	// FrameTypeStream carries one StreamEvent of a query cycle.
	FrameTypeStream FrameType = "stream"
	// FrameTypeStatus is a server-pushed session status update.
	FrameTypeStatus FrameType = "status"
	// FrameTypeError reports a request-level failure (bad frame, rejected
	// query). Distinct from the in-stream error terminal event.
	FrameTypeError FrameType = "error"
)

// Frame is the envelope exchanged between client and server.
type Frame struct {
	Type    FrameType       `json:"type"`
	ID      uint64          `json:"id,omitempty"`      // query/stream correlation ID
	Payload json.RawMessage `json:"payload,omitempty"` // query params or event body
	Error   string          `json:"error,omitempty"`
}

// QueryRequest is the payload of a query frame.
type QueryRequest struct {
	Query string `json:"query"`
}
