package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"deskpilot/internal/domain"
	"deskpilot/internal/infra/logger"
)

// scriptedEngine replays a fixed event sequence per query.
type scriptedEngine struct {
	events []domain.StreamEvent
	err    error
}

func (e *scriptedEngine) HandleQuery(ctx context.Context, _, _, _ string) (<-chan domain.StreamEvent, error) {
	if e.err != nil {
		return nil, e.err
	}
	ch := make(chan domain.StreamEvent)
	go func() {
		defer close(ch)
		for _, ev := range e.events {
			select {
			case ch <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

func startTestServer(t *testing.T, engine QueryHandler) *Server {
	t.Helper()
	auth := NewStaticTokenAuth([]TokenEntry{{Token: "tok", UserID: "u-1", Name: "test"}})
	srv := NewServer(engine, auth, "127.0.0.1:0", nil, 0, logger.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-errCh:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("gateway did not shut down")
		}
	})

	require.Eventually(t, func() bool { return srv.BoundAddr() != "" }, 2*time.Second, 10*time.Millisecond)
	return srv
}

func dial(t *testing.T, srv *Server, token string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, _, err := websocket.Dial(ctx, fmt.Sprintf("ws://%s/ws?token=%s", srv.BoundAddr(), token), nil)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close(websocket.StatusNormalClosure, "") })
	return c
}

func TestQueryStreamsEventsInOrder(t *testing.T) {
	engine := &scriptedEngine{events: []domain.StreamEvent{
		{ID: "1", Type: domain.StreamAgentEvent, Content: "analyzing query"},
		{ID: "2", Type: domain.StreamToolCall, Content: "calling issues"},
		{ID: "3", Type: domain.StreamToolResult, Content: "issues completed"},
		{ID: "4", Type: domain.StreamFinal, Content: "done"},
	}}
	srv := startTestServer(t, engine)
	c := dial(t, srv, "tok")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, wsjson.Write(ctx, c, Frame{
		Type: FrameTypeQuery, ID: 7, Payload: json.RawMessage(`{"query":"open bugs"}`),
	}))

	var got []domain.StreamEvent
	for len(got) < 4 {
		var frame Frame
		require.NoError(t, wsjson.Read(ctx, c, &frame))
		if frame.Type == FrameTypeStatus {
			continue
		}
		require.Equal(t, FrameTypeStream, frame.Type)
		assert.Equal(t, uint64(7), frame.ID, "stream frames carry the query frame id")

		var ev domain.StreamEvent
		require.NoError(t, json.Unmarshal(frame.Payload, &ev))
		got = append(got, ev)
	}

	for i, want := range []string{"1", "2", "3", "4"} {
		assert.Equal(t, want, got[i].ID)
	}
	assert.Equal(t, domain.StreamFinal, got[3].Type)
}

func TestUnauthorizedTokenRejected(t *testing.T) {
	srv := startTestServer(t, &scriptedEngine{})

	resp, err := http.Get(fmt.Sprintf("http://%s/ws?token=wrong", srv.BoundAddr()))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestUnsupportedFrameType(t *testing.T) {
	srv := startTestServer(t, &scriptedEngine{})
	c := dial(t, srv, "tok")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, wsjson.Write(ctx, c, Frame{Type: "ping", ID: 1}))

	var frame Frame
	require.NoError(t, wsjson.Read(ctx, c, &frame))
	assert.Equal(t, FrameTypeError, frame.Type)
	assert.Equal(t, uint64(1), frame.ID)
	assert.Contains(t, frame.Error, "unsupported frame type")
}

func TestEngineRejectionBecomesErrorFrame(t *testing.T) {
	engine := &scriptedEngine{err: domain.NewDomainError("Engine.HandleQuery", domain.ErrValidation, "empty query")}
	srv := startTestServer(t, engine)
	c := dial(t, srv, "tok")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, wsjson.Write(ctx, c, Frame{Type: FrameTypeQuery, ID: 2, Payload: json.RawMessage(`{"query":""}`)}))

	var frame Frame
	require.NoError(t, wsjson.Read(ctx, c, &frame))
	assert.Equal(t, FrameTypeError, frame.Type)
	assert.Equal(t, uint64(2), frame.ID)
	assert.Contains(t, frame.Error, "validation_error")
}
