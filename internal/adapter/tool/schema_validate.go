package tool

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"deskpilot/internal/domain"
)

// SchemaValidatingTool wraps a Tool with JSON Schema validation.
// On Execute, it validates params against the compiled schema before
// delegating; validation failures become failed results, never panics.
type SchemaValidatingTool struct {
	inner  domain.Tool
	schema *jsonschema.Schema
}

// WithSchemaValidation wraps a tool so that Execute validates params
// against the tool's JSON Schema before forwarding to the inner tool.
// Returns an error if the schema fails to compile.
func WithSchemaValidation(t domain.Tool) (domain.Tool, error) {
	raw := t.Schema().Parameters
	if len(raw) == 0 || string(raw) == "null" {
		return t, nil // no schema to validate against
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("add schema resource for %q: %w", t.Name(), err)
	}
	compiled, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema for %q: %w", t.Name(), err)
	}

	return &SchemaValidatingTool{inner: t, schema: compiled}, nil
}

func (s *SchemaValidatingTool) Name() string                  { return s.inner.Name() }
func (s *SchemaValidatingTool) Description() string           { return s.inner.Description() }
func (s *SchemaValidatingTool) Schema() domain.ToolSchema     { return s.inner.Schema() }
func (s *SchemaValidatingTool) RequiredCredentials() []string { return s.inner.RequiredCredentials() }
func (s *SchemaValidatingTool) ValidateCredentials() bool     { return s.inner.ValidateCredentials() }

func (s *SchemaValidatingTool) TestConnection(ctx context.Context) domain.ExecutionResult {
	return s.inner.TestConnection(ctx)
}

func (s *SchemaValidatingTool) Execute(ctx context.Context, params map[string]any) domain.ExecutionResult {
	start := time.Now()
	// jsonschema validates generic values directly; params is already the
	// decoded form.
	var v any = map[string]any(params)
	if params == nil {
		v = map[string]any{}
	}
	if err := s.schema.Validate(v); err != nil {
		msg := fmt.Sprintf("%s: schema validation failed: %v", domain.ErrValidation, err)
		return domain.FailResult(s.inner.Name(), msg, time.Since(start))
	}
	return s.inner.Execute(ctx, params)
}
