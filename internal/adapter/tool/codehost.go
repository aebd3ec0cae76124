package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"deskpilot/internal/domain"
)

// Repo describes a hosted repository.
type Repo struct {
	FullName    string `json:"full_name"`
	Description string `json:"description,omitempty"`
	Private     bool   `json:"private"`
	Language    string `json:"language,omitempty"`
}

// PullRequest describes a pull request.
type PullRequest struct {
	Number int    `json:"number"`
	Title  string `json:"title"`
	State  string `json:"state"`
	Author string `json:"author,omitempty"`
	Branch string `json:"branch,omitempty"`
}

// CodeHostBackend abstracts the code hosting API.
type CodeHostBackend interface {
	Ping(ctx context.Context) error
	ListRepos(ctx context.Context, limit int) ([]Repo, error)
	ListPRs(ctx context.Context, repo, state string) ([]PullRequest, error)
	SearchCode(ctx context.Context, query string, limit int) ([]map[string]any, error)
}

// MockCodeHostBackend is a canned backend for testing/development.
type MockCodeHostBackend struct{}

func (MockCodeHostBackend) Ping(_ context.Context) error { return nil }
func (MockCodeHostBackend) ListRepos(_ context.Context, _ int) ([]Repo, error) {
	return []Repo{{FullName: "mock/repo"}}, nil
}
func (MockCodeHostBackend) ListPRs(_ context.Context, _, _ string) ([]PullRequest, error) {
	return []PullRequest{{Number: 1, Title: "mock pr", State: "open"}}, nil
}
func (MockCodeHostBackend) SearchCode(_ context.Context, _ string, _ int) ([]map[string]any, error) {
	return nil, nil
}

const codeHostToolName = "code"

// CodeHostTool queries repositories and pull requests on the connected
// code host.
type CodeHostTool struct {
	Base
	backend CodeHostBackend
}

func NewCodeHostTool(backend CodeHostBackend, bundle domain.CredentialBundle, emit domain.EventEmitter, opts Options) *CodeHostTool {
	return &CodeHostTool{
		Base: NewBase(
			codeHostToolName,
			"List repositories and pull requests and search code on the connected code host.",
			json.RawMessage(`{
				"type": "object",
				"properties": {
					"action": {
						"type": "string",
						"enum": ["search", "list_repos", "list_prs"],
						"description": "The code host action to perform (default: search)"
					},
					"query": {"type": "string", "description": "Code search text"},
					"repo": {"type": "string", "description": "Repository full name for PR listing"},
					"state": {"type": "string", "description": "PR state filter"},
					"limit": {"type": "integer", "description": "Max results"}
				}
			}`),
			[]string{"base_url", "api_token"},
			bundle, emit, opts,
		),
		backend: backend,
	}
}

func (t *CodeHostTool) TestConnection(ctx context.Context) domain.ExecutionResult {
	return t.RunTest(ctx, t.backend.Ping)
}

type codeHostParams struct {
	Action string `json:"action,omitempty"`
	Query  string `json:"query,omitempty"`
	Repo   string `json:"repo,omitempty"`
	State  string `json:"state,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

func (t *CodeHostTool) Execute(ctx context.Context, params map[string]any) domain.ExecutionResult {
	return t.Run(ctx, "execute", func(ctx context.Context) (map[string]any, error) {
		p, err := decodeParams[codeHostParams](params)
		if err != nil {
			return nil, err
		}
		action := p.Action
		if action == "" {
			action = "search"
		}
		switch action {
		case "search":
			if err := RequireField("query", p.Query); err != nil {
				return nil, err
			}
			hits, err := t.backend.SearchCode(ctx, p.Query, p.Limit)
			if err != nil {
				return nil, err
			}
			return map[string]any{"results": hits, "count": len(hits)}, nil
		case "list_repos":
			repos, err := t.backend.ListRepos(ctx, p.Limit)
			if err != nil {
				return nil, err
			}
			return map[string]any{"repos": repos, "count": len(repos)}, nil
		case "list_prs":
			if err := RequireField("repo", p.Repo); err != nil {
				return nil, err
			}
			prs, err := t.backend.ListPRs(ctx, p.Repo, p.State)
			if err != nil {
				return nil, err
			}
			return map[string]any{"pull_requests": prs, "count": len(prs)}, nil
		default:
			return nil, fmt.Errorf("%w: unknown action %q (want: search, list_repos, list_prs)", domain.ErrValidation, p.Action)
		}
	})
}

// HTTPCodeHostBackend talks to a REST code host through the guarded client.
type HTTPCodeHostBackend struct {
	baseURL string
	token   string
	client  *GuardedClient
}

func NewHTTPCodeHostBackend(baseURL, token string, client *GuardedClient) *HTTPCodeHostBackend {
	return &HTTPCodeHostBackend{baseURL: baseURL, token: token, client: client}
}

func (b *HTTPCodeHostBackend) get(ctx context.Context, path string, out any) error {
	req, err := newJSONRequest(ctx, http.MethodGet, b.baseURL+path, nil, "Authorization", "token "+b.token)
	if err != nil {
		return err
	}
	return b.client.DoJSON(req, out)
}

func (b *HTTPCodeHostBackend) Ping(ctx context.Context) error {
	return b.get(ctx, "/api/user", nil)
}

func (b *HTTPCodeHostBackend) ListRepos(ctx context.Context, limit int) ([]Repo, error) {
	path := "/api/repos"
	if limit > 0 {
		path += fmt.Sprintf("?limit=%d", limit)
	}
	var repos []Repo
	if err := b.get(ctx, path, &repos); err != nil {
		return nil, err
	}
	return repos, nil
}

func (b *HTTPCodeHostBackend) ListPRs(ctx context.Context, repo, state string) ([]PullRequest, error) {
	q := url.Values{}
	if state != "" {
		q.Set("state", state)
	}
	path := "/api/repos/" + repo + "/pulls"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var prs []PullRequest
	if err := b.get(ctx, path, &prs); err != nil {
		return nil, err
	}
	return prs, nil
}

func (b *HTTPCodeHostBackend) SearchCode(ctx context.Context, query string, limit int) ([]map[string]any, error) {
	q := url.Values{}
	q.Set("q", query)
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	var out struct {
		Items []map[string]any `json:"items"`
	}
	if err := b.get(ctx, "/api/search/code?"+q.Encode(), &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

// CodeHostFactory builds code host tool instances per credential bundle.
type CodeHostFactory struct {
	opts    Options
	guard   GuardConfig
	backend CodeHostBackend
}

func NewCodeHostFactory(opts Options, guard GuardConfig, backend CodeHostBackend) *CodeHostFactory {
	return &CodeHostFactory{opts: opts, guard: guard, backend: backend}
}

func (f *CodeHostFactory) ToolName() string { return codeHostToolName }

func (f *CodeHostFactory) New(bundle domain.CredentialBundle, emit domain.EventEmitter) domain.Tool {
	backend := f.backend
	if backend == nil {
		client := NewGuardedClient(codeHostToolName, nil, f.guard, f.opts.withDefaults().Logger)
		backend = NewHTTPCodeHostBackend(bundle.Get("base_url"), bundle.Get("api_token"), client)
	}
	return NewCodeHostTool(backend, bundle, emit, f.opts)
}
