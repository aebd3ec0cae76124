// Package gateway exposes the streaming query engine over WebSocket.
// Each connection is one session; query frames start cycles and stream
// frames deliver the cycle's events in order. Disconnect cancels the
// session context explicitly.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"deskpilot/internal/domain"
)

// QueryHandler is the engine boundary the gateway depends on.
type QueryHandler interface {
	HandleQuery(ctx context.Context, query, userID, sessionID string) (<-chan domain.StreamEvent, error)
}

// StatusFunc produces the payload for periodic status pushes.
type StatusFunc func() map[string]any

// clientConn tracks a single WebSocket connection.
type clientConn struct {
	info      *ClientInfo
	sessionID string
	ws        *websocket.Conn
	sendCh    chan Frame
	done      chan struct{}
	cancel    context.CancelFunc // session context; fired on disconnect
	closeOnce sync.Once
}

func (cc *clientConn) close() {
	cc.closeOnce.Do(func() {
		cc.cancel()
		close(cc.done)
	})
}

// Server is the WebSocket gateway.
type Server struct {
	engine         QueryHandler
	auth           Authenticator
	statusFn       StatusFunc
	statusInterval time.Duration
	logger         *slog.Logger
	addr           string

	clients   sync.Map // connID (uint64) -> *clientConn
	nextID    atomic.Uint64
	httpSrv   *http.Server
	boundAddr string
}

// NewServer creates a gateway server. statusFn may be nil; statusInterval
// of 0 disables status pushes.
func NewServer(engine QueryHandler, auth Authenticator, addr string, statusFn StatusFunc, statusInterval time.Duration, logger *slog.Logger) *Server {
	return &Server{
		engine:         engine,
		auth:           auth,
		statusFn:       statusFn,
		statusInterval: statusInterval,
		logger:         logger,
		addr:           addr,
	}
}

// Start begins accepting WebSocket connections. Blocks until ctx is
// cancelled.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleUpgrade)

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("gateway listen: %w", err)
	}
	s.boundAddr = listener.Addr().String()
	s.httpSrv = &http.Server{Handler: mux}

	s.logger.Info("gateway started", "addr", s.boundAddr)

	go func() {
		<-ctx.Done()
		s.Stop(context.Background())
	}()

	if err := s.httpSrv.Serve(listener); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("gateway serve: %w", err)
	}
	return nil
}

// Stop gracefully shuts down the gateway.
func (s *Server) Stop(ctx context.Context) error {
	s.clients.Range(func(key, value any) bool {
		cc := value.(*clientConn)
		cc.close()
		cc.ws.Close(websocket.StatusGoingAway, "server shutting down")
		s.clients.Delete(key)
		return true
	})

	if s.httpSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	}
	return nil
}

// BoundAddr returns the actual bound address. Only valid after Start.
func (s *Server) BoundAddr() string { return s.boundAddr }

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	info, err := s.auth.Authenticate(token)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{
			"localhost",
			"localhost:*",
			"127.0.0.1",
			"127.0.0.1:*",
			"[::1]",
			"[::1]:*",
		},
	})
	if err != nil {
		s.logger.Warn("websocket accept failed", "error", err)
		return
	}

	// Session context: cancelled explicitly on disconnect so in-flight
	// cycles stop emitting (their dispatched work still completes).
	sessionCtx, cancel := context.WithCancel(context.Background())

	connID := s.nextID.Add(1)
	cc := &clientConn{
		info:      info,
		sessionID: uuid.NewString(),
		ws:        ws,
		sendCh:    make(chan Frame, 16),
		done:      make(chan struct{}),
		cancel:    cancel,
	}
	s.clients.Store(connID, cc)

	s.logger.Info("gateway client connected",
		"conn_id", connID, "client", info.Name, "session", cc.sessionID)

	go s.writeLoop(cc)
	if s.statusInterval > 0 {
		go s.statusLoop(cc)
	}

	s.readLoop(sessionCtx, cc)

	cc.close()
	s.clients.Delete(connID)
	ws.Close(websocket.StatusNormalClosure, "")
	s.logger.Info("gateway client disconnected", "conn_id", connID, "session", cc.sessionID)
}

func (s *Server) readLoop(ctx context.Context, cc *clientConn) {
	for {
		select {
		case <-cc.done:
			return
		default:
		}

		var frame Frame
		if err := wsjson.Read(ctx, cc.ws, &frame); err != nil {
			return // connection closed or errored
		}

		if frame.Type != FrameTypeQuery {
			s.sendError(cc, frame.ID, fmt.Sprintf("unsupported frame type %q", frame.Type))
			continue
		}

		go s.dispatchQuery(ctx, cc, frame)
	}
}

func (s *Server) writeLoop(cc *clientConn) {
	for {
		select {
		case <-cc.done:
			return
		case frame := <-cc.sendCh:
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			err := wsjson.Write(ctx, cc.ws, frame)
			cancel()
			if err != nil {
				cc.close()
				return
			}
		}
	}
}

// statusLoop pushes periodic session status frames. Status frames are
// dropped rather than queued when the client is slow; only stream frames
// have delivery-order guarantees.
func (s *Server) statusLoop(cc *clientConn) {
	ticker := time.NewTicker(s.statusInterval)
	defer ticker.Stop()
	for {
		select {
		case <-cc.done:
			return
		case <-ticker.C:
			payload := map[string]any{
				"session_id": cc.sessionID,
				"time":       time.Now().UTC().Format(time.RFC3339),
			}
			if s.statusFn != nil {
				for k, v := range s.statusFn() {
					payload[k] = v
				}
			}
			raw, err := json.Marshal(payload)
			if err != nil {
				continue
			}
			select {
			case cc.sendCh <- Frame{Type: FrameTypeStatus, Payload: raw}:
			default:
			}
		}
	}
}

// dispatchQuery runs one query cycle and streams its events in order.
// The blocking send keeps stream frames ordered; if the client goes away
// mid-cycle the session context is cancelled and the remaining events are
// drained and discarded.
func (s *Server) dispatchQuery(ctx context.Context, cc *clientConn, frame Frame) {
	var req QueryRequest
	if len(frame.Payload) > 0 {
		if err := json.Unmarshal(frame.Payload, &req); err != nil {
			s.sendError(cc, frame.ID, "invalid query payload")
			return
		}
	}

	events, err := s.engine.HandleQuery(ctx, req.Query, cc.info.UserID, cc.sessionID)
	if err != nil {
		s.sendError(cc, frame.ID, err.Error())
		return
	}

	for ev := range events {
		raw, err := json.Marshal(ev)
		if err != nil {
			s.logger.Warn("stream event marshal failed", "error", err)
			continue
		}
		select {
		case cc.sendCh <- Frame{Type: FrameTypeStream, ID: frame.ID, Payload: raw}:
		case <-cc.done:
			cc.cancel()
			for range events {
			}
			return
		}
	}
}

func (s *Server) sendError(cc *clientConn, id uint64, msg string) {
	select {
	case cc.sendCh <- Frame{Type: FrameTypeError, ID: id, Error: msg}:
	case <-cc.done:
	}
}
