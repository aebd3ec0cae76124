package domain

import "context"

type ctxKey string

const (
	sessionCtxKey ctxKey = "session_id"
	userCtxKey    ctxKey = "user_id"
	emitterCtxKey ctxKey = "event_emitter"
)

// ContextWithSessionID returns a new context carrying the session ID.
func ContextWithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionCtxKey, sessionID)
}

// SessionIDFromContext extracts the session ID from the context.
// Returns empty string if not set.
func SessionIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(sessionCtxKey).(string); ok {
		return v
	}
	return ""
}

// ContextWithUserID returns a new context carrying the user ID.
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userCtxKey, userID)
}

// UserIDFromContext extracts the user ID from the context.
// Returns empty string if not set.
func UserIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(userCtxKey).(string); ok {
		return v
	}
	return ""
}

// ContextWithEmitter returns a context carrying a per-invocation event
// emitter. Tools constructed with a default emitter use this one instead
// when present, so concurrent query cycles sharing a tool instance each
// observe their own event stream.
func ContextWithEmitter(ctx context.Context, emit EventEmitter) context.Context {
	return context.WithValue(ctx, emitterCtxKey, emit)
}

// EmitterFromContext extracts the per-invocation emitter, or nil.
func EmitterFromContext(ctx context.Context) EventEmitter {
	if v, ok := ctx.Value(emitterCtxKey).(EventEmitter); ok {
		return v
	}
	return nil
}
