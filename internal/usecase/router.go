package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"deskpilot/internal/domain"
)

// RouterConfig tunes routing behavior.
type RouterConfig struct {
	// MinConfidence below which a parsed AI decision is discarded in favor
	// of the deterministic fallback.
	MinConfidence float64
	// DefaultFallbackCount bounds the handler subset chosen when no domain
	// keywords match.
	DefaultFallbackCount int
}

// Router decides which handlers serve a query. It prefers the AI classifier
// when one is configured; on classifier error, unparsable output, an empty
// agent list, or low confidence it falls back to deterministic keyword
// matching. A discarded AI decision is never merged with the fallback.
type Router struct {
	classifier domain.Classifier // nil means fallback-only
	cfg        RouterConfig
	logger     *slog.Logger
}

// NewRouter creates a router. classifier may be nil.
func NewRouter(classifier domain.Classifier, cfg RouterConfig, logger *slog.Logger) *Router {
	if cfg.DefaultFallbackCount <= 0 {
		cfg.DefaultFallbackCount = 2
	}
	return &Router{classifier: classifier, cfg: cfg, logger: logger}
}

// Decide produces a routing decision for the query. handlers must be
// non-empty; the returned decision always names at least one of them.
func (r *Router) Decide(ctx context.Context, query string, handlers []domain.HandlerInfo) domain.RoutingDecision {
	if r.classifier != nil {
		raw, err := r.classifier.Classify(ctx, query, handlers)
		if err != nil {
			r.logger.Debug("classifier unavailable, using fallback", "error", err)
		} else if dec, ok := r.parseDecision(raw, handlers); ok {
			return dec
		}
	}
	return r.fallback(query, handlers)
}

// parseDecision extracts a RoutingDecision from raw classifier output.
// Returns ok=false when the output is unusable, in which case the whole
// decision is discarded.
func (r *Router) parseDecision(raw string, handlers []domain.HandlerInfo) (domain.RoutingDecision, bool) {
	var dec domain.RoutingDecision
	if err := json.Unmarshal([]byte(extractJSON(raw)), &dec); err != nil {
		r.logger.Debug("unparsable classifier output, using fallback", "error", err)
		return domain.RoutingDecision{}, false
	}

	known := make(map[string]bool, len(handlers))
	for _, h := range handlers {
		known[h.ID] = true
	}
	dec.Agents = filterKnown(dec.Agents, known)
	dec.FallbackAgents = filterKnown(dec.FallbackAgents, known)

	if len(dec.Agents) == 0 {
		r.logger.Debug("classifier selected no known handlers, using fallback")
		return domain.RoutingDecision{}, false
	}
	if dec.Confidence < 0 {
		dec.Confidence = 0
	}
	if dec.Confidence > 1 {
		dec.Confidence = 1
	}
	if dec.Confidence < r.cfg.MinConfidence {
		r.logger.Debug("classifier confidence below threshold, using fallback",
			"confidence", dec.Confidence,
		)
		return domain.RoutingDecision{}, false
	}
	if dec.Strategy != domain.StrategySequential && dec.Strategy != domain.StrategyParallel {
		dec.Strategy = domain.StrategySequential
	}
	if dec.Reasoning == "" {
		dec.Reasoning = "classifier routing"
	}
	return dec, true
}

// domainKeywords maps each integration type to the vocabulary the fallback
// matches against. Matching is case-insensitive substring containment.
var domainKeywords = map[domain.IntegrationType][]string{
	domain.IntegrationIssueTracker: {
		"issue", "bug", "sprint", "backlog", "story", "epic", "board", "jira",
	},
	domain.IntegrationCRM: {
		"customer", "lead", "deal", "contact", "account", "opportunity", "pipeline", "crm",
	},
	domain.IntegrationHelpdesk: {
		"support", "helpdesk", "ticket", "sla", "escalation", "zendesk",
	},
	domain.IntegrationCodeHost: {
		"repo", "repository", "pull request", " pr ", "commit", "branch", "merge",
	},
	domain.IntegrationChat: {
		"message", "channel", "slack", "conversation", "post to", "announce",
	},
}

// fallback is the deterministic keyword-vocabulary classifier. When the
// query matches no domain vocabulary it selects a bounded default subset
// of handlers so a cycle always has at least one.
func (r *Router) fallback(query string, handlers []domain.HandlerInfo) domain.RoutingDecision {
	q := " " + strings.ToLower(query) + " "

	var selected []string
	var matched []string
	seen := make(map[string]bool)
	for _, h := range handlers {
		for _, kw := range domainKeywords[h.Type] {
			if strings.Contains(q, kw) {
				if !seen[h.ID] {
					seen[h.ID] = true
					selected = append(selected, h.ID)
					matched = append(matched, strings.TrimSpace(kw))
				}
				break
			}
		}
	}

	if len(selected) == 0 {
		n := r.cfg.DefaultFallbackCount
		if n > len(handlers) {
			n = len(handlers)
		}
		for _, h := range handlers[:n] {
			selected = append(selected, h.ID)
		}
		return domain.RoutingDecision{
			Agents:         selected,
			Strategy:       domain.StrategyParallel,
			Reasoning:      "default fallback: no domain keywords matched",
			Confidence:     0.2,
			FallbackAgents: remaining(handlers, seenSet(selected)),
		}
	}

	strategy := domain.StrategySequential
	if len(selected) > 1 {
		strategy = domain.StrategyParallel
	}
	return domain.RoutingDecision{
		Agents:         selected,
		Strategy:       strategy,
		Reasoning:      fmt.Sprintf("keyword fallback: matched %s", strings.Join(matched, ", ")),
		Confidence:     0.4,
		FallbackAgents: remaining(handlers, seen),
	}
}

// extractJSON strips markdown code fences and surrounding prose, keeping
// the outermost JSON object. Classifier output is frequently fenced.
func extractJSON(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return raw
	}
	return raw[start : end+1]
}

func filterKnown(ids []string, known map[string]bool) []string {
	var out []string
	seen := make(map[string]bool)
	for _, id := range ids {
		if known[id] && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

func remaining(handlers []domain.HandlerInfo, selected map[string]bool) []string {
	var out []string
	for _, h := range handlers {
		if !selected[h.ID] {
			out = append(out, h.ID)
		}
	}
	return out
}

func seenSet(ids []string) map[string]bool {
	m := make(map[string]bool, len(ids))
	for _, id := range ids {
		m[id] = true
	}
	return m
}
