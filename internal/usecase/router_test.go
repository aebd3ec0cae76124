package usecase

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deskpilot/internal/domain"
	"deskpilot/internal/infra/logger"
)

func testHandlers() []domain.HandlerInfo {
	return []domain.HandlerInfo{
		{ID: "issues", Description: "issue tracker", Type: domain.IntegrationIssueTracker},
		{ID: "crm", Description: "crm", Type: domain.IntegrationCRM},
		{ID: "helpdesk", Description: "helpdesk", Type: domain.IntegrationHelpdesk},
	}
}

func newTestRouter(c domain.Classifier) *Router {
	return NewRouter(c, RouterConfig{MinConfidence: 0.3, DefaultFallbackCount: 2}, logger.Discard())
}

func TestDecideUsesClassifierDecision(t *testing.T) {
	r := newTestRouter(fakeClassifier{resp: `{"agents":["crm"],"strategy":"sequential","reasoning":"customer lookup","confidence":0.9}`})

	dec := r.Decide(context.Background(), "who owns the acme account", testHandlers())
	assert.Equal(t, []string{"crm"}, dec.Agents)
	assert.Equal(t, domain.StrategySequential, dec.Strategy)
	assert.Equal(t, "customer lookup", dec.Reasoning)
	assert.InDelta(t, 0.9, dec.Confidence, 0.001)
}

func TestDecideStripsCodeFences(t *testing.T) {
	r := newTestRouter(fakeClassifier{resp: "```json\n{\"agents\":[\"issues\"],\"strategy\":\"sequential\",\"confidence\":0.8}\n```"})

	dec := r.Decide(context.Background(), "open bugs", testHandlers())
	assert.Equal(t, []string{"issues"}, dec.Agents)
}

func TestDecideFiltersUnknownAgents(t *testing.T) {
	r := newTestRouter(fakeClassifier{resp: `{"agents":["crm","nonexistent"],"strategy":"parallel","confidence":0.7}`})

	dec := r.Decide(context.Background(), "customers", testHandlers())
	assert.Equal(t, []string{"crm"}, dec.Agents)
}

func TestDecideMalformedOutputFallsBack(t *testing.T) {
	r := newTestRouter(fakeClassifier{resp: "I think you should use the CRM handler."})

	dec := r.Decide(context.Background(), "find the acme customer deal", testHandlers())
	// The unusable AI decision must be discarded wholesale, not merged.
	assert.Contains(t, dec.Reasoning, "fallback")
	assert.Equal(t, []string{"crm"}, dec.Agents)
}

func TestDecideEmptyAgentsFallsBack(t *testing.T) {
	r := newTestRouter(fakeClassifier{resp: `{"agents":[],"strategy":"sequential","confidence":0.9}`})

	dec := r.Decide(context.Background(), "open bugs in the sprint", testHandlers())
	assert.Contains(t, dec.Reasoning, "fallback")
	assert.Equal(t, []string{"issues"}, dec.Agents)
}

func TestDecideClassifierErrorFallsBack(t *testing.T) {
	r := newTestRouter(fakeClassifier{err: domain.ErrClassificationUnavailable})

	dec := r.Decide(context.Background(), "escalate the support ticket for this customer", testHandlers())
	assert.Contains(t, dec.Reasoning, "fallback")
	// Both CRM and helpdesk vocabulary present: select both, run parallel.
	assert.ElementsMatch(t, []string{"crm", "helpdesk"}, dec.Agents)
	assert.Equal(t, domain.StrategyParallel, dec.Strategy)
}

func TestDecideLowConfidenceFallsBack(t *testing.T) {
	r := newTestRouter(fakeClassifier{resp: `{"agents":["crm"],"strategy":"sequential","confidence":0.1}`})

	dec := r.Decide(context.Background(), "open bugs", testHandlers())
	assert.Contains(t, dec.Reasoning, "fallback")
}

func TestFallbackSingleMatchIsSequential(t *testing.T) {
	r := newTestRouter(nil)

	dec := r.Decide(context.Background(), "show open bugs in the backlog", testHandlers())
	assert.Equal(t, []string{"issues"}, dec.Agents)
	assert.Equal(t, domain.StrategySequential, dec.Strategy)
	assert.ElementsMatch(t, []string{"crm", "helpdesk"}, dec.FallbackAgents)
}

func TestFallbackNoKeywordsSelectsDefaultSubset(t *testing.T) {
	r := newTestRouter(nil)

	dec := r.Decide(context.Background(), "what happened yesterday", testHandlers())
	require.Len(t, dec.Agents, 2, "default fallback is bounded, not all handlers")
	assert.Equal(t, []string{"issues", "crm"}, dec.Agents)
	assert.Equal(t, domain.StrategyParallel, dec.Strategy)
	assert.Contains(t, dec.Reasoning, "default fallback")
}

func TestDecideInvalidStrategyDefaultsSequential(t *testing.T) {
	r := newTestRouter(fakeClassifier{resp: `{"agents":["crm"],"strategy":"both","confidence":0.9}`})

	dec := r.Decide(context.Background(), "customers", testHandlers())
	assert.Equal(t, domain.StrategySequential, dec.Strategy)
}
