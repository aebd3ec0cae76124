package domain

import "context"

// Strategy describes how selected handlers are executed.
type Strategy string

const (
	StrategySequential Strategy = "sequential"
	StrategyParallel   Strategy = "parallel"
)

// HandlerInfo describes a router-selectable handler.
type HandlerInfo struct {
	ID          string          `json:"id"`
	Description string          `json:"description"`
	Type        IntegrationType `json:"type"`
}

// RoutingDecision is the router's output for one query.
// Invariant: Agents is never empty by the time the decision reaches the
// execution stage — an empty primary routing falls back before that.
type RoutingDecision struct {
	Agents         []string `json:"agents"`
	Strategy       Strategy `json:"strategy"`
	Reasoning      string   `json:"reasoning"`
	Confidence     float64  `json:"confidence"`
	FallbackAgents []string `json:"fallback_agents,omitempty"`
}

// Classifier is the opaque AI classification capability. It receives the
// query and the available handlers and returns a raw response that should
// parse as RoutingDecision JSON. Parsing and fallback are the Router's job.
type Classifier interface {
	Classify(ctx context.Context, query string, handlers []HandlerInfo) (string, error)
}

// Synthesizer is the opaque summarization capability the Aggregator uses to
// combine multiple handler outputs into one coherent summary.
type Synthesizer interface {
	Synthesize(ctx context.Context, query string, results []ExecutionResult) (string, error)
}
