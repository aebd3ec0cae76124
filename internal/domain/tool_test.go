package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestOKResultInvariant(t *testing.T) {
	res := OKResult("issues", map[string]any{"count": 1}, time.Second)
	assert.True(t, res.Success)
	assert.Empty(t, res.Error)
	assert.Equal(t, "issues", res.ToolName)
	assert.Equal(t, time.Second, res.ExecutionTime)
	assert.False(t, res.Timestamp.IsZero())
}

func TestFailResultInvariant(t *testing.T) {
	res := FailResult("crm", "auth_failure: status 401", time.Second)
	assert.False(t, res.Success)
	assert.Equal(t, "auth_failure: status 401", res.Error)
	assert.Nil(t, res.Data)
}

func TestFailResultNeverEmptyError(t *testing.T) {
	res := FailResult("crm", "", 0)
	assert.False(t, res.Success)
	assert.Equal(t, ErrUnknown.Error(), res.Error, "a failed result always carries an error string")
}

func TestStreamEventTypeTerminal(t *testing.T) {
	assert.True(t, StreamFinal.Terminal())
	assert.True(t, StreamError.Terminal())
	for _, typ := range []StreamEventType{StreamDebug, StreamAgentEvent, StreamToolCall, StreamToolResult, StreamToken} {
		assert.False(t, typ.Terminal(), string(typ))
	}
}

func TestCredentialBundle(t *testing.T) {
	b := CredentialBundle{Credentials: map[string]string{"api_token": "t", "base_url": "http://x"}}
	assert.Equal(t, "t", b.Get("api_token"))
	assert.Empty(t, b.Get("missing"))
	assert.True(t, b.Has("base_url"))
	assert.False(t, b.Has("missing"))
}

func TestEmitterFromContext(t *testing.T) {
	assert.Nil(t, EmitterFromContext(t.Context()))

	called := 0
	ctx := ContextWithEmitter(t.Context(), func(ExecutionEvent) { called++ })
	emit := EmitterFromContext(ctx)
	if assert.NotNil(t, emit) {
		emit(ExecutionEvent{Type: ExecEventProgress})
	}
	assert.Equal(t, 1, called)
}
