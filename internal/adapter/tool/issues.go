package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"deskpilot/internal/domain"
)

// Issue data types.

// Issue describes one tracked work item.
type Issue struct {
	Key      string `json:"key"`
	Title    string `json:"title"`
	Status   string `json:"status"`
	Assignee string `json:"assignee,omitempty"`
	Priority string `json:"priority,omitempty"`
	URL      string `json:"url,omitempty"`
}

// IssueSearchOpts controls issue search.
type IssueSearchOpts struct {
	Query  string `json:"query"`
	Status string `json:"status,omitempty"` // "open", "closed", "all"
	Limit  int    `json:"limit,omitempty"`
}

// IssueBackend abstracts the issue tracker API.
type IssueBackend interface {
	Ping(ctx context.Context) error
	Search(ctx context.Context, opts IssueSearchOpts) ([]Issue, error)
	Get(ctx context.Context, key string) (*Issue, error)
	Create(ctx context.Context, title, description, priority string) (*Issue, error)
	Transition(ctx context.Context, key, status string) (*Issue, error)
}

// MockIssueBackend is a canned backend for testing/development.
type MockIssueBackend struct{}

func (MockIssueBackend) Ping(_ context.Context) error { return nil }
func (MockIssueBackend) Search(_ context.Context, _ IssueSearchOpts) ([]Issue, error) {
	return []Issue{{Key: "MOCK-1", Title: "mock issue", Status: "open"}}, nil
}
func (MockIssueBackend) Get(_ context.Context, key string) (*Issue, error) {
	return &Issue{Key: key, Title: "mock issue", Status: "open"}, nil
}
func (MockIssueBackend) Create(_ context.Context, title, _, priority string) (*Issue, error) {
	return &Issue{Key: "MOCK-2", Title: title, Status: "open", Priority: priority}, nil
}
func (MockIssueBackend) Transition(_ context.Context, key, status string) (*Issue, error) {
	return &Issue{Key: key, Title: "mock issue", Status: status}, nil
}

const issuesToolName = "issues"

// IssueTrackerTool searches and manages work items in the connected issue
// tracker.
type IssueTrackerTool struct {
	Base
	backend IssueBackend
}

// NewIssueTrackerTool creates the tool bound to one integration's bundle.
func NewIssueTrackerTool(backend IssueBackend, bundle domain.CredentialBundle, emit domain.EventEmitter, opts Options) *IssueTrackerTool {
	return &IssueTrackerTool{
		Base: NewBase(
			issuesToolName,
			"Search, inspect, create, and transition issues in the connected issue tracker.",
			json.RawMessage(`{
				"type": "object",
				"properties": {
					"action": {
						"type": "string",
						"enum": ["search", "get", "create", "transition"],
						"description": "The issue action to perform (default: search)"
					},
					"query": {"type": "string", "description": "Search text"},
					"key": {"type": "string", "description": "Issue key"},
					"title": {"type": "string", "description": "Title for new issues"},
					"description": {"type": "string", "description": "Body for new issues"},
					"priority": {"type": "string", "description": "Priority for new issues"},
					"status": {"type": "string", "description": "Target status for transition, or search filter"},
					"limit": {"type": "integer", "description": "Max results for search"}
				}
			}`),
			[]string{"base_url", "api_token"},
			bundle, emit, opts,
		),
		backend: backend,
	}
}

func (t *IssueTrackerTool) TestConnection(ctx context.Context) domain.ExecutionResult {
	return t.RunTest(ctx, t.backend.Ping)
}

type issueParams struct {
	Action      string `json:"action,omitempty"`
	Query       string `json:"query,omitempty"`
	Key         string `json:"key,omitempty"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Priority    string `json:"priority,omitempty"`
	Status      string `json:"status,omitempty"`
	Limit       int    `json:"limit,omitempty"`
}

func (t *IssueTrackerTool) Execute(ctx context.Context, params map[string]any) domain.ExecutionResult {
	return t.Run(ctx, "execute", func(ctx context.Context) (map[string]any, error) {
		p, err := decodeParams[issueParams](params)
		if err != nil {
			return nil, err
		}
		action := p.Action
		if action == "" {
			action = "search"
		}
		switch action {
		case "search":
			return t.handleSearch(ctx, p)
		case "get":
			return t.handleGet(ctx, p)
		case "create":
			return t.handleCreate(ctx, p)
		case "transition":
			return t.handleTransition(ctx, p)
		default:
			return nil, fmt.Errorf("%w: unknown action %q (want: search, get, create, transition)", domain.ErrValidation, p.Action)
		}
	})
}

func (t *IssueTrackerTool) handleSearch(ctx context.Context, p issueParams) (map[string]any, error) {
	if err := RequireField("query", p.Query); err != nil {
		return nil, err
	}
	t.Progress(ctx, "searching issues", map[string]any{"query": p.Query})
	issues, err := t.backend.Search(ctx, IssueSearchOpts{Query: p.Query, Status: p.Status, Limit: p.Limit})
	if err != nil {
		return nil, err
	}
	return map[string]any{"issues": issues, "count": len(issues)}, nil
}

func (t *IssueTrackerTool) handleGet(ctx context.Context, p issueParams) (map[string]any, error) {
	if err := RequireField("key", p.Key); err != nil {
		return nil, err
	}
	issue, err := t.backend.Get(ctx, p.Key)
	if err != nil {
		return nil, err
	}
	return asData(issue), nil
}

func (t *IssueTrackerTool) handleCreate(ctx context.Context, p issueParams) (map[string]any, error) {
	if err := RequireField("title", p.Title); err != nil {
		return nil, err
	}
	issue, err := t.backend.Create(ctx, p.Title, p.Description, p.Priority)
	if err != nil {
		return nil, err
	}
	return asData(issue), nil
}

func (t *IssueTrackerTool) handleTransition(ctx context.Context, p issueParams) (map[string]any, error) {
	if err := RequireFields("key", p.Key, "status", p.Status); err != nil {
		return nil, err
	}
	issue, err := t.backend.Transition(ctx, p.Key, p.Status)
	if err != nil {
		return nil, err
	}
	return asData(issue), nil
}

// HTTPIssueBackend talks to a REST issue tracker through the guarded
// client. Auth is a bearer token from the credential bundle.
type HTTPIssueBackend struct {
	baseURL string
	token   string
	client  *GuardedClient
}

// NewHTTPIssueBackend creates the REST backend.
func NewHTTPIssueBackend(baseURL, token string, client *GuardedClient) *HTTPIssueBackend {
	return &HTTPIssueBackend{baseURL: baseURL, token: token, client: client}
}

func (b *HTTPIssueBackend) auth() (string, string) {
	return "Authorization", "Bearer " + b.token
}

func (b *HTTPIssueBackend) Ping(ctx context.Context) error {
	h, v := b.auth()
	req, err := newJSONRequest(ctx, http.MethodGet, b.baseURL+"/api/ping", nil, h, v)
	if err != nil {
		return err
	}
	return b.client.DoJSON(req, nil)
}

func (b *HTTPIssueBackend) Search(ctx context.Context, opts IssueSearchOpts) ([]Issue, error) {
	q := url.Values{}
	q.Set("query", opts.Query)
	if opts.Status != "" {
		q.Set("status", opts.Status)
	}
	if opts.Limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", opts.Limit))
	}
	h, v := b.auth()
	req, err := newJSONRequest(ctx, http.MethodGet, b.baseURL+"/api/issues?"+q.Encode(), nil, h, v)
	if err != nil {
		return nil, err
	}
	var out struct {
		Issues []Issue `json:"issues"`
	}
	if err := b.client.DoJSON(req, &out); err != nil {
		return nil, err
	}
	return out.Issues, nil
}

func (b *HTTPIssueBackend) Get(ctx context.Context, key string) (*Issue, error) {
	h, v := b.auth()
	req, err := newJSONRequest(ctx, http.MethodGet, b.baseURL+"/api/issues/"+url.PathEscape(key), nil, h, v)
	if err != nil {
		return nil, err
	}
	var issue Issue
	if err := b.client.DoJSON(req, &issue); err != nil {
		return nil, err
	}
	return &issue, nil
}

func (b *HTTPIssueBackend) Create(ctx context.Context, title, description, priority string) (*Issue, error) {
	body, _ := json.Marshal(map[string]string{
		"title": title, "description": description, "priority": priority,
	})
	h, v := b.auth()
	req, err := newJSONRequest(ctx, http.MethodPost, b.baseURL+"/api/issues", bytes.NewReader(body), h, v)
	if err != nil {
		return nil, err
	}
	var issue Issue
	if err := b.client.DoJSON(req, &issue); err != nil {
		return nil, err
	}
	return &issue, nil
}

func (b *HTTPIssueBackend) Transition(ctx context.Context, key, status string) (*Issue, error) {
	body, _ := json.Marshal(map[string]string{"status": status})
	h, v := b.auth()
	req, err := newJSONRequest(ctx, http.MethodPost, b.baseURL+"/api/issues/"+url.PathEscape(key)+"/transition", bytes.NewReader(body), h, v)
	if err != nil {
		return nil, err
	}
	var issue Issue
	if err := b.client.DoJSON(req, &issue); err != nil {
		return nil, err
	}
	return &issue, nil
}

// IssueTrackerFactory builds issue tracker instances per credential bundle.
type IssueTrackerFactory struct {
	opts    Options
	guard   GuardConfig
	backend IssueBackend // optional override; nil builds an HTTP backend
}

// NewIssueTrackerFactory creates the factory. backend overrides the HTTP
// backend when non-nil (used in tests and mock deployments).
func NewIssueTrackerFactory(opts Options, guard GuardConfig, backend IssueBackend) *IssueTrackerFactory {
	return &IssueTrackerFactory{opts: opts, guard: guard, backend: backend}
}

func (f *IssueTrackerFactory) ToolName() string { return issuesToolName }

func (f *IssueTrackerFactory) New(bundle domain.CredentialBundle, emit domain.EventEmitter) domain.Tool {
	backend := f.backend
	if backend == nil {
		client := NewGuardedClient(issuesToolName, nil, f.guard, f.opts.withDefaults().Logger)
		backend = NewHTTPIssueBackend(bundle.Get("base_url"), bundle.Get("api_token"), client)
	}
	return NewIssueTrackerTool(backend, bundle, emit, f.opts)
}
