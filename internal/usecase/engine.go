package usecase

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"deskpilot/internal/domain"
	"deskpilot/internal/infra/tracer"
	"deskpilot/internal/usecase/workpool"
)

// EngineConfig tunes one engine instance.
type EngineConfig struct {
	// QueryTimeout bounds one full query cycle, routing included.
	QueryTimeout time.Duration
}

// Engine runs the streaming query cycle: load tools, route, execute,
// aggregate. HandleQuery returns a channel of ordered events; exactly one
// terminal (final or error) event ends every cycle, and nothing follows it.
type Engine struct {
	registry     *Registry
	router       *Router
	aggregator   *Aggregator
	integrations domain.IntegrationStore
	tracker      domain.ExecutionTracker
	bus          domain.EventBus
	pool         *workpool.Pool
	logger       *slog.Logger
	cfg          EngineConfig
}

// NewEngine wires an engine. bus may be nil; everything else is required.
func NewEngine(
	registry *Registry,
	router *Router,
	aggregator *Aggregator,
	integrations domain.IntegrationStore,
	tracker domain.ExecutionTracker,
	bus domain.EventBus,
	pool *workpool.Pool,
	cfg EngineConfig,
	logger *slog.Logger,
) *Engine {
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = 5 * time.Minute
	}
	return &Engine{
		registry:     registry,
		router:       router,
		aggregator:   aggregator,
		integrations: integrations,
		tracker:      tracker,
		bus:          bus,
		pool:         pool,
		logger:       logger,
		cfg:          cfg,
	}
}

// HandleQuery starts one query cycle. The returned channel is unbuffered:
// each event is handed to the consumer before the next is produced, so
// send order is delivery order. Cancelling ctx stops delivery; work already
// dispatched to the pool runs to completion and its results are discarded.
func (e *Engine) HandleQuery(ctx context.Context, query, userID, sessionID string) (<-chan domain.StreamEvent, error) {
	if strings.TrimSpace(query) == "" {
		return nil, domain.NewDomainError("Engine.HandleQuery", domain.ErrValidation, "empty query")
	}
	out := make(chan domain.StreamEvent)
	go e.run(ctx, query, userID, sessionID, out)
	return out, nil
}

func (e *Engine) run(ctx context.Context, query, userID, sessionID string, out chan<- domain.StreamEvent) {
	defer close(out)

	ctx, cancel := context.WithTimeout(ctx, e.cfg.QueryTimeout)
	defer cancel()
	ctx = domain.ContextWithSessionID(ctx, sessionID)
	ctx = domain.ContextWithUserID(ctx, userID)

	ctx, span := tracer.StartSpan(ctx, "engine.query_cycle")
	defer span.End()
	span.SetAttributes(
		tracer.StringAttr("session_id", sessionID),
		tracer.StringAttr("user_id", userID),
	)

	c := &cycle{
		ctx:       ctx,
		out:       out,
		tracker:   e.tracker,
		sessionID: sessionID,
		userID:    userID,
		logger:    e.logger,
		entropy:   ulid.Monotonic(rand.Reader, 0),
	}
	c.onTerminal = func(t domain.StreamEventType) {
		e.publish(ctx, domain.EventStreamTerminal, sessionID, map[string]any{"type": string(t)})
	}

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("query cycle panicked", "session", sessionID, "panic", r)
			c.emitTerminalError(fmt.Sprintf("internal error: %v", r), nil)
		}
	}()

	e.publish(ctx, domain.EventQueryReceived, sessionID, map[string]any{"query": query, "user_id": userID})
	c.emit(domain.StreamAgentEvent, "analyzing query", nil, nil)

	refs, loadNotes := e.loadHandlers(ctx, userID)
	for _, note := range loadNotes {
		c.emit(domain.StreamDebug, note, nil, nil)
	}
	if len(refs) == 0 {
		c.emitTerminalError(fmt.Sprintf("%s: no active integrations produced a working tool", domain.ErrNoHandlers), nil)
		return
	}

	infos := make([]domain.HandlerInfo, len(refs))
	byID := make(map[string]handlerRef, len(refs))
	for i, ref := range refs {
		infos[i] = domain.HandlerInfo{ID: ref.id, Description: ref.tool.Description(), Type: ref.integ.Type}
		byID[ref.id] = ref
	}

	decision := e.router.Decide(ctx, query, infos)
	c.emit(domain.StreamAgentEvent, decision.Reasoning,
		map[string]any{
			"agents":     decision.Agents,
			"strategy":   string(decision.Strategy),
			"confidence": decision.Confidence,
		}, nil)
	e.publish(ctx, domain.EventQueryRouted, sessionID, map[string]any{
		"agents":   decision.Agents,
		"strategy": string(decision.Strategy),
	})

	selected := make([]handlerRef, 0, len(decision.Agents))
	for _, id := range decision.Agents {
		if ref, ok := byID[id]; ok {
			selected = append(selected, ref)
		}
	}
	if len(selected) == 0 {
		c.emitTerminalError("routing selected no available handlers", nil)
		return
	}

	results := e.execute(ctx, c, decision.Strategy, selected, query)

	allFailed := true
	for _, res := range results {
		if res.Success {
			allFailed = false
			break
		}
	}
	if allFailed {
		var lines []string
		data := make(map[string]any, len(results))
		for _, res := range results {
			lines = append(lines, fmt.Sprintf("%s: %s", res.ToolName, res.Error))
			data[res.ToolName] = res.Error
		}
		c.emitTerminalError("all handlers failed: "+strings.Join(lines, "; "), data)
		e.publish(ctx, domain.EventQueryCompleted, sessionID, map[string]any{"success": false})
		return
	}

	agg := e.aggregator.Aggregate(ctx, query, results)
	for _, line := range strings.Split(agg.Summary, "\n") {
		if line == "" {
			continue
		}
		c.emit(domain.StreamToken, line, nil, nil)
	}

	finalData := map[string]any{
		"summary":   agg.Summary,
		"consensus": agg.Consensus,
		"succeeded": agg.Succeeded,
		"failed":    agg.Failed,
		"results":   agg.Results,
	}
	if len(agg.Conflicts) > 0 {
		finalData["conflicts"] = agg.Conflicts
	}
	c.emitTerminal(domain.StreamFinal, agg.Summary, finalData)

	tracer.SetOK(span)
	e.publish(ctx, domain.EventQueryCompleted, sessionID, map[string]any{
		"success":   true,
		"succeeded": agg.Succeeded,
		"failed":    agg.Failed,
	})
}

// handlerRef binds a routable handler id to its tool and integration.
type handlerRef struct {
	id    string
	integ *domain.Integration
	tool  domain.Tool
}

// loadHandlers performs the per-query fresh tool lookup: every active
// integration of the user is re-loaded so revoked or changed credentials
// take effect on the very next query. A failing integration is skipped
// with a note; it never aborts the cycle.
func (e *Engine) loadHandlers(ctx context.Context, userID string) ([]handlerRef, []string) {
	integs, err := e.integrations.ListByUser(ctx, userID)
	if err != nil {
		e.logger.Error("list integrations failed", "user", userID, "error", err)
		return nil, []string{"integration lookup failed"}
	}

	var refs []handlerRef
	var notes []string
	used := make(map[string]bool)
	for _, integ := range integs {
		if !integ.Active {
			continue
		}
		tools, err := e.registry.LoadForIntegration(ctx, integ)
		if err != nil {
			e.logger.Warn("integration load failed, skipping",
				"integration", integ.ID, "error", err)
			notes = append(notes, fmt.Sprintf("integration %q unavailable: %s", integ.Name, domain.ErrorCodeOf(err)))
			continue
		}
		for _, tl := range tools {
			id := tl.Name()
			if used[id] {
				id = fmt.Sprintf("%s:%s", tl.Name(), integ.Name)
			}
			used[id] = true
			refs = append(refs, handlerRef{id: id, integ: integ, tool: tl})
		}
	}
	return refs, notes
}

// execMsg is how handler goroutines report back to the cycle goroutine.
// All client-visible emission happens on the cycle goroutine, in arrival
// order, so the stream stays ordered without locks.
type execMsg struct {
	kind      int // 0 call, 1 progress, 2 result
	handlerID string
	event     domain.ExecutionEvent
	result    domain.ExecutionResult
}

const (
	msgCall = iota
	msgProgress
	msgResult
)

// execute runs the selected handlers per the routing strategy and collects
// their results. The collect loop always runs to completion: after a client
// disconnect, in-flight handlers still finish and their results are
// discarded at the emission layer.
func (e *Engine) execute(ctx context.Context, c *cycle, strategy domain.Strategy, refs []handlerRef, query string) []domain.ExecutionResult {
	msgs := make(chan execMsg)
	params := map[string]any{"query": query}

	if strategy == domain.StrategyParallel {
		for _, ref := range refs {
			go e.runHandler(ctx, ref, params, msgs)
		}
	} else {
		go func() {
			for _, ref := range refs {
				e.runHandler(ctx, ref, params, msgs)
			}
		}()
	}

	parallel := strategy == domain.StrategyParallel
	results := make([]domain.ExecutionResult, 0, len(refs))
	for len(results) < len(refs) {
		m := <-msgs
		md := map[string]string{"handler": m.handlerID}
		switch m.kind {
		case msgCall:
			data := map[string]any{"tool": m.handlerID}
			if parallel {
				data["parallel"] = true
			}
			c.emit(domain.StreamToolCall, fmt.Sprintf("calling %s", m.handlerID), data, md)
		case msgProgress:
			c.emit(domain.StreamDebug, m.event.Message, m.event.Data, md)
		case msgResult:
			results = append(results, m.result)
			data := map[string]any{
				"success":           m.result.Success,
				"execution_time_ms": m.result.ExecutionTime.Milliseconds(),
			}
			if m.result.Success {
				data["result"] = m.result.Data
			} else {
				data["error"] = m.result.Error
			}
			content := fmt.Sprintf("%s completed", m.handlerID)
			if !m.result.Success {
				content = fmt.Sprintf("%s failed: %s", m.handlerID, m.result.Error)
			}
			c.emit(domain.StreamToolResult, content, data, md)
		}
	}
	return results
}

// runHandler executes one handler through the worker pool and reports
// call/progress/result messages. It runs on its own goroutine (or the
// sequential driver goroutine) and uses a context detached from the cycle's
// cancellation: a disconnect never cancels dispatched work.
func (e *Engine) runHandler(ctx context.Context, ref handlerRef, params map[string]any, msgs chan<- execMsg) {
	msgs <- execMsg{kind: msgCall, handlerID: ref.id}

	detached := context.WithoutCancel(ctx)

	execID, err := e.tracker.StartExecution(detached, ref.tool.Name(), ref.integ.ID,
		domain.SessionIDFromContext(ctx), domain.UserIDFromContext(ctx), params)
	if err != nil {
		e.logger.Warn("tracker start failed", "tool", ref.tool.Name(), "error", err)
	}

	e.publish(ctx, domain.EventToolExecStarted, domain.SessionIDFromContext(ctx), map[string]any{
		"tool":           ref.tool.Name(),
		"integration_id": ref.integ.ID,
		"execution_id":   execID,
	})

	emitter := domain.EventEmitter(func(ev domain.ExecutionEvent) {
		// Internal events (retry notices) go to the tracker only.
		if ev.Type == domain.ExecEventProgress && !ev.Internal {
			msgs <- execMsg{kind: msgProgress, handlerID: ref.id, event: ev}
		}
		if execID != "" {
			if err := e.tracker.LogEvent(detached, execID, ev); err != nil {
				e.logger.Debug("tracker event log failed", "error", err)
			}
		}
	})
	execCtx := domain.ContextWithEmitter(detached, emitter)

	var res domain.ExecutionResult
	reply, err := e.pool.Submit(execCtx, func(taskCtx context.Context) domain.ExecutionResult {
		return ref.tool.Execute(taskCtx, params)
	})
	if err != nil {
		res = domain.FailResult(ref.tool.Name(), fmt.Sprintf("%s: %s", domain.ErrUnknown, err), 0)
	} else {
		res = <-reply
	}

	if res.Metadata == nil {
		res.Metadata = make(map[string]string)
	}
	res.Metadata["handler"] = ref.id
	if execID != "" {
		res.Metadata["execution_id"] = execID
	}

	if execID != "" {
		if err := e.tracker.CompleteExecution(detached, execID, res); err != nil {
			e.logger.Warn("tracker complete failed", "execution_id", execID, "error", err)
		}
	}

	e.publish(ctx, domain.EventToolExecCompleted, domain.SessionIDFromContext(ctx), map[string]any{
		"tool":         ref.tool.Name(),
		"execution_id": execID,
		"success":      res.Success,
	})

	msgs <- execMsg{kind: msgResult, handlerID: ref.id, result: res}
}

func (e *Engine) publish(ctx context.Context, t domain.EventType, sessionID string, payload map[string]any) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(context.WithoutCancel(ctx), domain.Event{
		Type:      t,
		Timestamp: time.Now(),
		SessionID: sessionID,
		Payload:   mustJSON(payload),
	})
}

// cycle owns client-visible emission for one query. All methods run on the
// cycle goroutine only.
type cycle struct {
	ctx       context.Context
	out       chan<- domain.StreamEvent
	tracker   domain.ExecutionTracker
	sessionID string
	userID    string
	logger    *slog.Logger
	entropy   io.Reader

	// onTerminal runs once, after the terminal event is delivered.
	onTerminal func(domain.StreamEventType)

	terminalSent bool
	cancelled    bool
}

// emit sends one event to the client. The out channel is unbuffered, so
// the send completes only when the consumer has taken the event; this is
// the explicit flush point between events. Returns false when the event
// was dropped (cancelled stream or terminal already sent).
func (c *cycle) emit(t domain.StreamEventType, content string, data map[string]any, md map[string]string) bool {
	if c.terminalSent || c.cancelled {
		return false
	}
	select {
	case <-c.ctx.Done():
		c.cancelled = true
		return false
	default:
	}
	ev := domain.StreamEvent{
		ID:        ulid.MustNew(ulid.Timestamp(time.Now()), c.entropy).String(),
		Type:      t,
		Content:   content,
		Data:      data,
		Timestamp: time.Now(),
		Metadata:  md,
	}
	select {
	case c.out <- ev:
		if t.Terminal() {
			c.terminalSent = true
			if c.onTerminal != nil {
				c.onTerminal(t)
			}
		}
		if err := c.tracker.LogStreamingEvent(context.WithoutCancel(c.ctx), c.sessionID, c.userID, ev); err != nil {
			c.logger.Debug("streaming event log failed", "error", err)
		}
		return true
	case <-c.ctx.Done():
		c.cancelled = true
		return false
	}
}

func (c *cycle) emitTerminal(t domain.StreamEventType, content string, data map[string]any) {
	c.emit(t, content, data, nil)
}

func (c *cycle) emitTerminalError(content string, data map[string]any) {
	c.emit(domain.StreamError, content, data, nil)
}
