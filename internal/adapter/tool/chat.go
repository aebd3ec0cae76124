package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/slack-go/slack"

	"deskpilot/internal/domain"
)

// ChatChannel describes one chat channel.
type ChatChannel struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ChatMessage is one posted or found message.
type ChatMessage struct {
	Channel   string `json:"channel"`
	Text      string `json:"text"`
	User      string `json:"user,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

// ChatBackend abstracts the workspace chat API.
type ChatBackend interface {
	Ping(ctx context.Context) error
	PostMessage(ctx context.Context, channel, text string) (*ChatMessage, error)
	SearchMessages(ctx context.Context, query string, limit int) ([]ChatMessage, error)
	ListChannels(ctx context.Context, limit int) ([]ChatChannel, error)
}

// MockChatBackend is a canned backend for testing/development.
type MockChatBackend struct{}

func (MockChatBackend) Ping(_ context.Context) error { return nil }
func (MockChatBackend) PostMessage(_ context.Context, channel, text string) (*ChatMessage, error) {
	return &ChatMessage{Channel: channel, Text: text}, nil
}
func (MockChatBackend) SearchMessages(_ context.Context, _ string, _ int) ([]ChatMessage, error) {
	return nil, nil
}
func (MockChatBackend) ListChannels(_ context.Context, _ int) ([]ChatChannel, error) {
	return []ChatChannel{{ID: "C1", Name: "general"}}, nil
}

const chatToolName = "chat"

// ChatTool posts and searches messages in the connected workspace chat.
type ChatTool struct {
	Base
	backend ChatBackend
}

func NewChatTool(backend ChatBackend, bundle domain.CredentialBundle, emit domain.EventEmitter, opts Options) *ChatTool {
	return &ChatTool{
		Base: NewBase(
			chatToolName,
			"Post messages, search conversation history, and list channels in the connected workspace chat.",
			json.RawMessage(`{
				"type": "object",
				"properties": {
					"action": {
						"type": "string",
						"enum": ["search", "post", "list_channels"],
						"description": "The chat action to perform (default: search)"
					},
					"query": {"type": "string", "description": "Message search text"},
					"channel": {"type": "string", "description": "Channel for posting"},
					"text": {"type": "string", "description": "Message text to post"},
					"limit": {"type": "integer", "description": "Max results"}
				}
			}`),
			[]string{"bot_token"},
			bundle, emit, opts,
		),
		backend: backend,
	}
}

func (t *ChatTool) TestConnection(ctx context.Context) domain.ExecutionResult {
	return t.RunTest(ctx, t.backend.Ping)
}

type chatParams struct {
	Action  string `json:"action,omitempty"`
	Query   string `json:"query,omitempty"`
	Channel string `json:"channel,omitempty"`
	Text    string `json:"text,omitempty"`
	Limit   int    `json:"limit,omitempty"`
}

func (t *ChatTool) Execute(ctx context.Context, params map[string]any) domain.ExecutionResult {
	return t.Run(ctx, "execute", func(ctx context.Context) (map[string]any, error) {
		p, err := decodeParams[chatParams](params)
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
			msgs, err := t.backend.SearchMessages(ctx, p.Query, p.Limit)
			if err != nil {
				return nil, err
			}
			return map[string]any{"messages": msgs, "count": len(msgs)}, nil
		case "post":
			if err := RequireFields("channel", p.Channel, "text", p.Text); err != nil {
				return nil, err
			}
			msg, err := t.backend.PostMessage(ctx, p.Channel, p.Text)
			if err != nil {
				return nil, err
			}
			return asData(msg), nil
		case "list_channels":
			channels, err := t.backend.ListChannels(ctx, p.Limit)
			if err != nil {
				return nil, err
			}
			return map[string]any{"channels": channels, "count": len(channels)}, nil
		default:
			return nil, fmt.Errorf("%w: unknown action %q (want: search, post, list_channels)", domain.ErrValidation, p.Action)
		}
	})
}

// SlackBackend implements ChatBackend against the Slack Web API.
type SlackBackend struct {
	api *slack.Client
}

// NewSlackBackend creates a Slack backend from a bot token.
func NewSlackBackend(botToken string) *SlackBackend {
	return &SlackBackend{api: slack.New(botToken)}
}

func (b *SlackBackend) Ping(ctx context.Context) error {
	_, err := b.api.AuthTestContext(ctx)
	return mapSlackError(err)
}

func (b *SlackBackend) PostMessage(ctx context.Context, channel, text string) (*ChatMessage, error) {
	ch, ts, err := b.api.PostMessageContext(ctx, channel, slack.MsgOptionText(text, false))
	if err != nil {
		return nil, mapSlackError(err)
	}
	return &ChatMessage{Channel: ch, Text: text, Timestamp: ts}, nil
}

func (b *SlackBackend) SearchMessages(ctx context.Context, query string, limit int) ([]ChatMessage, error) {
	params := slack.NewSearchParameters()
	if limit > 0 {
		params.Count = limit
	}
	res, err := b.api.SearchMessagesContext(ctx, query, params)
	if err != nil {
		return nil, mapSlackError(err)
	}
	msgs := make([]ChatMessage, 0, len(res.Matches))
	for _, m := range res.Matches {
		msgs = append(msgs, ChatMessage{
			Channel:   m.Channel.Name,
			Text:      m.Text,
			User:      m.Username,
			Timestamp: m.Timestamp,
		})
	}
	return msgs, nil
}

func (b *SlackBackend) ListChannels(ctx context.Context, limit int) ([]ChatChannel, error) {
	params := &slack.GetConversationsParameters{ExcludeArchived: true}
	if limit > 0 {
		params.Limit = limit
	}
	chans, _, err := b.api.GetConversationsContext(ctx, params)
	if err != nil {
		return nil, mapSlackError(err)
	}
	out := make([]ChatChannel, 0, len(chans))
	for _, c := range chans {
		out = append(out, ChatChannel{ID: c.ID, Name: c.Name})
	}
	return out, nil
}

// mapSlackError folds Slack API errors into the failure taxonomy. Rate
// limits carry the server's retry-after; auth errors are permanent.
func mapSlackError(err error) error {
	if err == nil {
		return nil
	}
	var rle *slack.RateLimitedError
	if errors.As(err, &rle) {
		return fmt.Errorf("slack: %w", &domain.RateLimitError{RetryAfter: rle.RetryAfter})
	}
	switch err.Error() {
	case "invalid_auth", "not_authed", "token_revoked", "account_inactive":
		return fmt.Errorf("%w: slack: %v", domain.ErrAuthFailure, err)
	}
	return classifyError(err)
}

// ChatFactory builds chat tool instances per credential bundle.
type ChatFactory struct {
	opts    Options
	backend ChatBackend // optional override; nil builds a Slack backend
}

func NewChatFactory(opts Options, backend ChatBackend) *ChatFactory {
	return &ChatFactory{opts: opts, backend: backend}
}

func (f *ChatFactory) ToolName() string { return chatToolName }

func (f *ChatFactory) New(bundle domain.CredentialBundle, emit domain.EventEmitter) domain.Tool {
	backend := f.backend
	if backend == nil {
		backend = NewSlackBackend(bundle.Get("bot_token"))
	}
	return NewChatTool(backend, bundle, emit, f.opts)
}
