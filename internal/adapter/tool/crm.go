package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"deskpilot/internal/domain"
)

// Contact is one CRM contact record.
type Contact struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Email   string `json:"email,omitempty"`
	Company string `json:"company,omitempty"`
	Status  string `json:"status,omitempty"`
}

// Deal is one CRM opportunity.
type Deal struct {
	ID      string  `json:"id"`
	Title   string  `json:"title"`
	Stage   string  `json:"stage"`
	Amount  float64 `json:"amount,omitempty"`
	Contact string  `json:"contact,omitempty"`
}

// CRMBackend abstracts the CRM API.
type CRMBackend interface {
	Ping(ctx context.Context) error
	SearchContacts(ctx context.Context, query string, limit int) ([]Contact, error)
	GetContact(ctx context.Context, id string) (*Contact, error)
	ListDeals(ctx context.Context, stage string) ([]Deal, error)
}

// MockCRMBackend is a canned backend for testing/development.
type MockCRMBackend struct{}

func (MockCRMBackend) Ping(_ context.Context) error { return nil }
func (MockCRMBackend) SearchContacts(_ context.Context, _ string, _ int) ([]Contact, error) {
	return []Contact{{ID: "c-1", Name: "mock contact", Status: "active"}}, nil
}
func (MockCRMBackend) GetContact(_ context.Context, id string) (*Contact, error) {
	return &Contact{ID: id, Name: "mock contact", Status: "active"}, nil
}
func (MockCRMBackend) ListDeals(_ context.Context, _ string) ([]Deal, error) {
	return []Deal{{ID: "d-1", Title: "mock deal", Stage: "open"}}, nil
}

const crmToolName = "crm"

// CRMTool looks up customers and deals in the connected CRM.
type CRMTool struct {
	Base
	backend CRMBackend
}

func NewCRMTool(backend CRMBackend, bundle domain.CredentialBundle, emit domain.EventEmitter, opts Options) *CRMTool {
	return &CRMTool{
		Base: NewBase(
			crmToolName,
			"Search contacts, look up customer records, and list deals in the connected CRM.",
			json.RawMessage(`{
				"type": "object",
				"properties": {
					"action": {
						"type": "string",
						"enum": ["search", "get_contact", "list_deals"],
						"description": "The CRM action to perform (default: search)"
					},
					"query": {"type": "string", "description": "Contact search text"},
					"id": {"type": "string", "description": "Contact ID"},
					"stage": {"type": "string", "description": "Deal stage filter"},
					"limit": {"type": "integer", "description": "Max results"}
				}
			}`),
			[]string{"base_url", "api_key"},
			bundle, emit, opts,
		),
		backend: backend,
	}
}

func (t *CRMTool) TestConnection(ctx context.Context) domain.ExecutionResult {
	return t.RunTest(ctx, t.backend.Ping)
}

type crmParams struct {
	Action string `json:"action,omitempty"`
	Query  string `json:"query,omitempty"`
	ID     string `json:"id,omitempty"`
	Stage  string `json:"stage,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

func (t *CRMTool) Execute(ctx context.Context, params map[string]any) domain.ExecutionResult {
	return t.Run(ctx, "execute", func(ctx context.Context) (map[string]any, error) {
		p, err := decodeParams[crmParams](params)
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
			contacts, err := t.backend.SearchContacts(ctx, p.Query, p.Limit)
			if err != nil {
				return nil, err
			}
			return map[string]any{"contacts": contacts, "count": len(contacts)}, nil
		case "get_contact":
			if err := RequireField("id", p.ID); err != nil {
				return nil, err
			}
			contact, err := t.backend.GetContact(ctx, p.ID)
			if err != nil {
				return nil, err
			}
			return asData(contact), nil
		case "list_deals":
			deals, err := t.backend.ListDeals(ctx, p.Stage)
			if err != nil {
				return nil, err
			}
			return map[string]any{"deals": deals, "count": len(deals)}, nil
		default:
			return nil, fmt.Errorf("%w: unknown action %q (want: search, get_contact, list_deals)", domain.ErrValidation, p.Action)
		}
	})
}

// HTTPCRMBackend talks to a REST CRM through the guarded client.
type HTTPCRMBackend struct {
	baseURL string
	apiKey  string
	client  *GuardedClient
}

func NewHTTPCRMBackend(baseURL, apiKey string, client *GuardedClient) *HTTPCRMBackend {
	return &HTTPCRMBackend{baseURL: baseURL, apiKey: apiKey, client: client}
}

func (b *HTTPCRMBackend) get(ctx context.Context, path string, out any) error {
	req, err := newJSONRequest(ctx, http.MethodGet, b.baseURL+path, nil, "X-Api-Key", b.apiKey)
	if err != nil {
		return err
	}
	return b.client.DoJSON(req, out)
}

func (b *HTTPCRMBackend) Ping(ctx context.Context) error {
	return b.get(ctx, "/api/ping", nil)
}

func (b *HTTPCRMBackend) SearchContacts(ctx context.Context, query string, limit int) ([]Contact, error) {
	q := url.Values{}
	q.Set("query", query)
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	var out struct {
		Contacts []Contact `json:"contacts"`
	}
	if err := b.get(ctx, "/api/contacts?"+q.Encode(), &out); err != nil {
		return nil, err
	}
	return out.Contacts, nil
}

func (b *HTTPCRMBackend) GetContact(ctx context.Context, id string) (*Contact, error) {
	var contact Contact
	if err := b.get(ctx, "/api/contacts/"+url.PathEscape(id), &contact); err != nil {
		return nil, err
	}
	return &contact, nil
}

func (b *HTTPCRMBackend) ListDeals(ctx context.Context, stage string) ([]Deal, error) {
	path := "/api/deals"
	if stage != "" {
		path += "?stage=" + url.QueryEscape(stage)
	}
	var out struct {
		Deals []Deal `json:"deals"`
	}
	if err := b.get(ctx, path, &out); err != nil {
		return nil, err
	}
	return out.Deals, nil
}

// CRMFactory builds CRM tool instances per credential bundle.
type CRMFactory struct {
	opts    Options
	guard   GuardConfig
	backend CRMBackend
}

func NewCRMFactory(opts Options, guard GuardConfig, backend CRMBackend) *CRMFactory {
	return &CRMFactory{opts: opts, guard: guard, backend: backend}
}

func (f *CRMFactory) ToolName() string { return crmToolName }

func (f *CRMFactory) New(bundle domain.CredentialBundle, emit domain.EventEmitter) domain.Tool {
	backend := f.backend
	if backend == nil {
		client := NewGuardedClient(crmToolName, nil, f.guard, f.opts.withDefaults().Logger)
		backend = NewHTTPCRMBackend(bundle.Get("base_url"), bundle.Get("api_key"), client)
	}
	return NewCRMTool(backend, bundle, emit, f.opts)
}
