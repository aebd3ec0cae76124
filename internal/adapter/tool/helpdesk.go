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

// SupportTicket is one helpdesk ticket.
type SupportTicket struct {
	ID        string `json:"id"`
	Subject   string `json:"subject"`
	Status    string `json:"status"`
	Priority  string `json:"priority,omitempty"`
	Requester string `json:"requester,omitempty"`
}

// HelpdeskBackend abstracts the support desk API.
type HelpdeskBackend interface {
	Ping(ctx context.Context) error
	SearchTickets(ctx context.Context, query, status string, limit int) ([]SupportTicket, error)
	GetTicket(ctx context.Context, id string) (*SupportTicket, error)
	AddComment(ctx context.Context, id, comment string) error
}

// MockHelpdeskBackend is a canned backend for testing/development.
type MockHelpdeskBackend struct{}

func (MockHelpdeskBackend) Ping(_ context.Context) error { return nil }
func (MockHelpdeskBackend) SearchTickets(_ context.Context, _, _ string, _ int) ([]SupportTicket, error) {
	return []SupportTicket{{ID: "t-1", Subject: "mock ticket", Status: "open"}}, nil
}
func (MockHelpdeskBackend) GetTicket(_ context.Context, id string) (*SupportTicket, error) {
	return &SupportTicket{ID: id, Subject: "mock ticket", Status: "open"}, nil
}
func (MockHelpdeskBackend) AddComment(_ context.Context, _, _ string) error { return nil }

const helpdeskToolName = "helpdesk"

// HelpdeskTool searches and updates support tickets.
type HelpdeskTool struct {
	Base
	backend HelpdeskBackend
}

func NewHelpdeskTool(backend HelpdeskBackend, bundle domain.CredentialBundle, emit domain.EventEmitter, opts Options) *HelpdeskTool {
	return &HelpdeskTool{
		Base: NewBase(
			helpdeskToolName,
			"Search support tickets, inspect ticket detail, and add comments in the connected helpdesk.",
			json.RawMessage(`{
				"type": "object",
				"properties": {
					"action": {
						"type": "string",
						"enum": ["search", "get", "comment"],
						"description": "The helpdesk action to perform (default: search)"
					},
					"query": {"type": "string", "description": "Ticket search text"},
					"id": {"type": "string", "description": "Ticket ID"},
					"status": {"type": "string", "description": "Status filter for search"},
					"comment": {"type": "string", "description": "Comment text"},
					"limit": {"type": "integer", "description": "Max results"}
				}
			}`),
			[]string{"base_url", "api_token"},
			bundle, emit, opts,
		),
		backend: backend,
	}
}

func (t *HelpdeskTool) TestConnection(ctx context.Context) domain.ExecutionResult {
	return t.RunTest(ctx, t.backend.Ping)
}

type helpdeskParams struct {
	Action  string `json:"action,omitempty"`
	Query   string `json:"query,omitempty"`
	ID      string `json:"id,omitempty"`
	Status  string `json:"status,omitempty"`
	Comment string `json:"comment,omitempty"`
	Limit   int    `json:"limit,omitempty"`
}

func (t *HelpdeskTool) Execute(ctx context.Context, params map[string]any) domain.ExecutionResult {
	return t.Run(ctx, "execute", func(ctx context.Context) (map[string]any, error) {
		p, err := decodeParams[helpdeskParams](params)
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
			tickets, err := t.backend.SearchTickets(ctx, p.Query, p.Status, p.Limit)
			if err != nil {
				return nil, err
			}
			return map[string]any{"tickets": tickets, "count": len(tickets)}, nil
		case "get":
			if err := RequireField("id", p.ID); err != nil {
				return nil, err
			}
			ticket, err := t.backend.GetTicket(ctx, p.ID)
			if err != nil {
				return nil, err
			}
			return asData(ticket), nil
		case "comment":
			if err := RequireFields("id", p.ID, "comment", p.Comment); err != nil {
				return nil, err
			}
			if err := t.backend.AddComment(ctx, p.ID, p.Comment); err != nil {
				return nil, err
			}
			return map[string]any{"id": p.ID, "commented": true}, nil
		default:
			return nil, fmt.Errorf("%w: unknown action %q (want: search, get, comment)", domain.ErrValidation, p.Action)
		}
	})
}

// HTTPHelpdeskBackend talks to a REST helpdesk through the guarded client.
type HTTPHelpdeskBackend struct {
	baseURL string
	token   string
	client  *GuardedClient
}

func NewHTTPHelpdeskBackend(baseURL, token string, client *GuardedClient) *HTTPHelpdeskBackend {
	return &HTTPHelpdeskBackend{baseURL: baseURL, token: token, client: client}
}

func (b *HTTPHelpdeskBackend) Ping(ctx context.Context) error {
	req, err := newJSONRequest(ctx, http.MethodGet, b.baseURL+"/api/ping", nil, "Authorization", "Bearer "+b.token)
	if err != nil {
		return err
	}
	return b.client.DoJSON(req, nil)
}

func (b *HTTPHelpdeskBackend) SearchTickets(ctx context.Context, query, status string, limit int) ([]SupportTicket, error) {
	q := url.Values{}
	q.Set("query", query)
	if status != "" {
		q.Set("status", status)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	req, err := newJSONRequest(ctx, http.MethodGet, b.baseURL+"/api/tickets?"+q.Encode(), nil, "Authorization", "Bearer "+b.token)
	if err != nil {
		return nil, err
	}
	var out struct {
		Tickets []SupportTicket `json:"tickets"`
	}
	if err := b.client.DoJSON(req, &out); err != nil {
		return nil, err
	}
	return out.Tickets, nil
}

func (b *HTTPHelpdeskBackend) GetTicket(ctx context.Context, id string) (*SupportTicket, error) {
	req, err := newJSONRequest(ctx, http.MethodGet, b.baseURL+"/api/tickets/"+url.PathEscape(id), nil, "Authorization", "Bearer "+b.token)
	if err != nil {
		return nil, err
	}
	var ticket SupportTicket
	if err := b.client.DoJSON(req, &ticket); err != nil {
		return nil, err
	}
	return &ticket, nil
}

func (b *HTTPHelpdeskBackend) AddComment(ctx context.Context, id, comment string) error {
	body, _ := json.Marshal(map[string]string{"comment": comment})
	req, err := newJSONRequest(ctx, http.MethodPost, b.baseURL+"/api/tickets/"+url.PathEscape(id)+"/comments", bytes.NewReader(body), "Authorization", "Bearer "+b.token)
	if err != nil {
		return err
	}
	return b.client.DoJSON(req, nil)
}

// HelpdeskFactory builds helpdesk tool instances per credential bundle.
type HelpdeskFactory struct {
	opts    Options
	guard   GuardConfig
	backend HelpdeskBackend
}

func NewHelpdeskFactory(opts Options, guard GuardConfig, backend HelpdeskBackend) *HelpdeskFactory {
	return &HelpdeskFactory{opts: opts, guard: guard, backend: backend}
}

func (f *HelpdeskFactory) ToolName() string { return helpdeskToolName }

func (f *HelpdeskFactory) New(bundle domain.CredentialBundle, emit domain.EventEmitter) domain.Tool {
	backend := f.backend
	if backend == nil {
		client := NewGuardedClient(helpdeskToolName, nil, f.guard, f.opts.withDefaults().Logger)
		backend = NewHTTPHelpdeskBackend(bundle.Get("base_url"), bundle.Get("api_token"), client)
	}
	return NewHelpdeskTool(backend, bundle, emit, f.opts)
}
