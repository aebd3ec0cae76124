package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"deskpilot/internal/domain"
)

// fakeDecryptor returns fixed credentials or a fixed error.
type fakeDecryptor struct {
	creds map[string]string
	err   error
}

func (d fakeDecryptor) Decrypt(_ string) (map[string]string, error) {
	if d.err != nil {
		return nil, d.err
	}
	if d.creds == nil {
		return map[string]string{}, nil
	}
	return d.creds, nil
}

// fakeTool is a scriptable domain.Tool.
type fakeTool struct {
	name     string
	testErr  string // non-empty makes TestConnection fail
	badCreds bool   // makes ValidateCredentials fail
	required []string
	execFn   func(ctx context.Context, params map[string]any) domain.ExecutionResult
}

func (f *fakeTool) Name() string        { return f.name }
func (f *fakeTool) Description() string { return "fake " + f.name }
func (f *fakeTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{Name: f.name, Parameters: json.RawMessage(`{"type":"object"}`)}
}
func (f *fakeTool) RequiredCredentials() []string { return f.required }
func (f *fakeTool) ValidateCredentials() bool     { return !f.badCreds }

func (f *fakeTool) TestConnection(_ context.Context) domain.ExecutionResult {
	if f.testErr != "" {
		return domain.FailResult(f.name, f.testErr, time.Millisecond)
	}
	return domain.OKResult(f.name, map[string]any{"status": "connected"}, time.Millisecond)
}

func (f *fakeTool) Execute(ctx context.Context, params map[string]any) domain.ExecutionResult {
	if f.execFn != nil {
		return f.execFn(ctx, params)
	}
	return domain.OKResult(f.name, map[string]any{"echo": params["query"]}, time.Millisecond)
}

// fakeFactory builds one fakeTool per bundle.
type fakeFactory struct {
	name  string
	build func(bundle domain.CredentialBundle, emit domain.EventEmitter) domain.Tool
}

func (f *fakeFactory) ToolName() string { return f.name }
func (f *fakeFactory) New(bundle domain.CredentialBundle, emit domain.EventEmitter) domain.Tool {
	if f.build != nil {
		return f.build(bundle, emit)
	}
	return &fakeTool{name: f.name}
}

// memTracker records tracker calls in memory.
type memTracker struct {
	mu        sync.Mutex
	nextID    int
	started   []string
	completed map[string]int // execution id -> completion count
	stream    []domain.StreamEvent
}

func newMemTracker() *memTracker {
	return &memTracker{completed: make(map[string]int)}
}

func (t *memTracker) StartExecution(_ context.Context, toolName, _, _, _ string, _ map[string]any) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextID++
	id := fmt.Sprintf("exec-%d-%s", t.nextID, toolName)
	t.started = append(t.started, id)
	return id, nil
}

func (t *memTracker) CompleteExecution(_ context.Context, executionID string, _ domain.ExecutionResult) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.completed[executionID]++
	return nil
}

func (t *memTracker) LogEvent(_ context.Context, _ string, _ domain.ExecutionEvent) error {
	return nil
}

func (t *memTracker) LogStreamingEvent(_ context.Context, _, _ string, event domain.StreamEvent) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stream = append(t.stream, event)
	return nil
}

func (t *memTracker) completedCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, c := range t.completed {
		n += c
	}
	return n
}

// memStore serves a fixed integration list.
type memStore struct {
	integs []*domain.Integration
}

func (s *memStore) Get(_ context.Context, id string) (*domain.Integration, error) {
	for _, in := range s.integs {
		if in.ID == id {
			return in, nil
		}
	}
	return nil, domain.ErrIntegrationNotFound
}

func (s *memStore) ListByUser(_ context.Context, userID string) ([]*domain.Integration, error) {
	var out []*domain.Integration
	for _, in := range s.integs {
		if in.UserID == userID {
			out = append(out, in)
		}
	}
	return out, nil
}

func (s *memStore) ListActive(_ context.Context) ([]*domain.Integration, error) {
	var out []*domain.Integration
	for _, in := range s.integs {
		if in.Active {
			out = append(out, in)
		}
	}
	return out, nil
}

// fakeClassifier returns a fixed response or error.
type fakeClassifier struct {
	resp string
	err  error
}

func (c fakeClassifier) Classify(_ context.Context, _ string, _ []domain.HandlerInfo) (string, error) {
	return c.resp, c.err
}

// fakeSynthesizer returns a fixed summary or error.
type fakeSynthesizer struct {
	resp string
	err  error
}

func (s fakeSynthesizer) Synthesize(_ context.Context, _ string, _ []domain.ExecutionResult) (string, error) {
	return s.resp, s.err
}

func testIntegration(id, userID string, typ domain.IntegrationType) *domain.Integration {
	return &domain.Integration{
		ID:        id,
		UserID:    userID,
		Type:      typ,
		Name:      id,
		Active:    true,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
}

// collectEvents drains a stream channel into a slice.
func collectEvents(ch <-chan domain.StreamEvent) []domain.StreamEvent {
	var out []domain.StreamEvent
	for ev := range ch {
		out = append(out, ev)
	}
	return out
}
