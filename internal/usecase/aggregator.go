package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"deskpilot/internal/domain"
)

// AggregateOutput is the combined view of one query cycle's handler results.
type AggregateOutput struct {
	Summary   string                   `json:"summary"`
	Conflicts []string                 `json:"conflicts,omitempty"`
	Consensus string                   `json:"consensus"` // full, partial, none
	Succeeded int                      `json:"succeeded"`
	Failed    int                      `json:"failed"`
	Results   []domain.ExecutionResult `json:"results"`
}

// Aggregator combines multiple handler results into one response. When a
// synthesizer is configured it produces the summary; when it is absent or
// fails, aggregation degrades to a deterministic summary rather than
// failing the cycle.
type Aggregator struct {
	synth  domain.Synthesizer // nil means deterministic summaries only
	logger *slog.Logger
}

// NewAggregator creates an aggregator. synth may be nil.
func NewAggregator(synth domain.Synthesizer, logger *slog.Logger) *Aggregator {
	return &Aggregator{synth: synth, logger: logger}
}

// Aggregate combines results. A single result passes through verbatim;
// multiple results get conflict detection, a consensus indicator, and a
// synthesized or degraded summary.
func (a *Aggregator) Aggregate(ctx context.Context, query string, results []domain.ExecutionResult) AggregateOutput {
	out := AggregateOutput{Results: results}
	for _, res := range results {
		if res.Success {
			out.Succeeded++
		} else {
			out.Failed++
		}
	}

	switch {
	case out.Succeeded == len(results) && len(results) > 0:
		out.Consensus = "full"
	case out.Succeeded > 0:
		out.Consensus = "partial"
	default:
		out.Consensus = "none"
	}

	if len(results) == 1 {
		out.Summary = flattenResult(results[0])
		return out
	}

	out.Conflicts = detectConflicts(results)
	if len(out.Conflicts) > 0 && out.Consensus == "full" {
		out.Consensus = "partial"
	}

	out.Summary = a.summarize(ctx, query, results)
	return out
}

// summarize prefers the synthesizer and degrades to a deterministic
// multi-handler summary on error or panic.
func (a *Aggregator) summarize(ctx context.Context, query string, results []domain.ExecutionResult) (summary string) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Warn("synthesizer panicked, degrading summary", "panic", r)
			summary = degradedSummary(results)
		}
	}()

	if a.synth == nil {
		return deterministicSummary(results)
	}
	s, err := a.synth.Synthesize(ctx, query, results)
	if err != nil || strings.TrimSpace(s) == "" {
		if err != nil {
			a.logger.Warn("synthesis failed, degrading summary", "error", err)
		}
		return degradedSummary(results)
	}
	return s
}

// flattenResult renders a single result verbatim: success data as
// "key: value" lines, failure as the error text.
func flattenResult(res domain.ExecutionResult) string {
	if !res.Success {
		return fmt.Sprintf("%s failed: %s", res.ToolName, res.Error)
	}
	if len(res.Data) == 0 {
		return fmt.Sprintf("%s completed", res.ToolName)
	}
	keys := make([]string, 0, len(res.Data))
	for k := range res.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %v\n", k, res.Data[k])
	}
	return strings.TrimRight(b.String(), "\n")
}

// deterministicSummary is the synthesizer-free multi-handler summary.
func deterministicSummary(results []domain.ExecutionResult) string {
	var b strings.Builder
	ok := 0
	for _, res := range results {
		if res.Success {
			ok++
		}
	}
	fmt.Fprintf(&b, "%d of %d handlers succeeded.\n", ok, len(results))
	for _, res := range results {
		if res.Success {
			fmt.Fprintf(&b, "- %s: %s\n", res.ToolName, oneLine(res))
		} else {
			fmt.Fprintf(&b, "- %s: failed (%s)\n", res.ToolName, res.Error)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// degradedSummary is the minimal summary used when synthesis is
// unavailable: the cycle still completes with per-handler results intact.
func degradedSummary(results []domain.ExecutionResult) string {
	return fmt.Sprintf("query processed by %d handlers; see individual results", len(results))
}

func oneLine(res domain.ExecutionResult) string {
	if len(res.Data) == 0 {
		return "ok"
	}
	keys := make([]string, 0, len(res.Data))
	for k := range res.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, res.Data[k]))
	}
	s := strings.Join(parts, " ")
	if len(s) > 160 {
		s = s[:160] + "…"
	}
	return s
}

// detectConflicts reports scalar data keys on which successful handlers
// disagree, e.g. two systems reporting different status for the same
// entity. Best-effort: only comparable scalar values are considered.
func detectConflicts(results []domain.ExecutionResult) []string {
	type holder struct {
		tool  string
		value string
	}
	values := make(map[string][]holder)
	for _, res := range results {
		if !res.Success {
			continue
		}
		for k, v := range res.Data {
			switch v.(type) {
			case string, bool, int, int64, float64:
				values[k] = append(values[k], holder{tool: res.ToolName, value: fmt.Sprintf("%v", v)})
			}
		}
	}

	var conflicts []string
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		hs := values[k]
		if len(hs) < 2 {
			continue
		}
		for _, h := range hs[1:] {
			if h.value != hs[0].value {
				conflicts = append(conflicts,
					fmt.Sprintf("%s and %s disagree on %q (%s vs %s)",
						hs[0].tool, h.tool, k, hs[0].value, h.value))
				break
			}
		}
	}
	return conflicts
}
