// Package tool implements credential-scoped tools for the supported
// integration types. All tools share the Base execution pipeline:
// credential validation, per-attempt timeouts, retry with exponential
// backoff for transient failures, and event emission.
package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"deskpilot/internal/domain"
	"deskpilot/internal/infra/tracer"
)

// Options configures shared execution behavior.
type Options struct {
	// Timeout bounds a single attempt. Default 30s.
	Timeout time.Duration
	// MaxRetries is the number of retries after the first attempt.
	// Only transient failures are retried. Default 3.
	MaxRetries int
	Logger     *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Base holds the per-instance state every tool shares: the credential
// bundle it is scoped to, its default event emitter, and retry settings.
// Concrete tools embed Base and implement TestConnection/Execute on top
// of Run and RunTest.
type Base struct {
	name        string
	description string
	parameters  json.RawMessage
	required    []string
	bundle      domain.CredentialBundle
	emit        domain.EventEmitter
	opts        Options
}

// NewBase builds the shared tool state.
func NewBase(name, description string, parameters json.RawMessage, required []string, bundle domain.CredentialBundle, emit domain.EventEmitter, opts Options) Base {
	return Base{
		name:        name,
		description: description,
		parameters:  parameters,
		required:    required,
		bundle:      bundle,
		emit:        emit,
		opts:        opts.withDefaults(),
	}
}

func (b *Base) Name() string        { return b.name }
func (b *Base) Description() string { return b.description }

func (b *Base) Schema() domain.ToolSchema {
	return domain.ToolSchema{Name: b.name, Description: b.description, Parameters: b.parameters}
}

func (b *Base) RequiredCredentials() []string {
	return append([]string(nil), b.required...)
}

// ValidateCredentials checks required keys without touching the network.
func (b *Base) ValidateCredentials() bool {
	for _, key := range b.required {
		if !b.bundle.Has(key) {
			return false
		}
	}
	return true
}

// Credential returns a credential value from the bound bundle.
func (b *Base) Credential(key string) string { return b.bundle.Get(key) }

// event emits through the per-invocation emitter when the context carries
// one, falling back to the instance default.
func (b *Base) event(ctx context.Context, t domain.ExecutionEventType, msg string, data map[string]any) {
	b.send(ctx, domain.ExecutionEvent{
		Type:      t,
		ToolName:  b.name,
		Message:   msg,
		Data:      data,
		Timestamp: time.Now(),
	})
}

func (b *Base) send(ctx context.Context, ev domain.ExecutionEvent) {
	emit := domain.EmitterFromContext(ctx)
	if emit == nil {
		emit = b.emit
	}
	if emit == nil {
		return
	}
	emit(ev)
}

// Progress emits a mid-flight progress event. Tools call this from their
// handlers for long operations.
func (b *Base) Progress(ctx context.Context, msg string, data map[string]any) {
	b.event(ctx, domain.ExecEventProgress, msg, data)
}

func (b *Base) missingCredentials() []string {
	var missing []string
	for _, key := range b.required {
		if !b.bundle.Has(key) {
			missing = append(missing, key)
		}
	}
	return missing
}

// Run executes call through the shared pipeline: start event, credential
// check (fail fast, no retry), per-attempt timeout, and exponential
// backoff for transient failures. Errors never escape as Go errors; the
// outcome is always an ExecutionResult.
func (b *Base) Run(ctx context.Context, op string, call func(ctx context.Context) (map[string]any, error)) domain.ExecutionResult {
	start := time.Now()
	ctx, span := tracer.StartSpan(ctx, "tool."+b.name+"."+op)
	defer span.End()
	span.SetAttributes(tracer.StringAttr("tool.name", b.name))

	b.event(ctx, domain.ExecEventStart, op+" started", nil)

	if missing := b.missingCredentials(); len(missing) > 0 {
		err := fmt.Errorf("%w: missing credentials %s", domain.ErrValidation, strings.Join(missing, ", "))
		tracer.RecordError(span, err)
		b.event(ctx, domain.ExecEventError, err.Error(), nil)
		return domain.FailResult(b.name, err.Error(), time.Since(start))
	}

	attempts := b.opts.MaxRetries + 1
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			delay := backoffDelay(attempt-1, domain.RetryAfterHint(lastErr))
			b.opts.Logger.Debug("retrying tool call",
				"tool", b.name, "attempt", attempt, "of", attempts, "delay", delay)
			// Audit trail only. Retries never surface on the client
			// stream; clients see them as elapsed execution time.
			b.send(ctx, domain.ExecutionEvent{
				Type:      domain.ExecEventProgress,
				ToolName:  b.name,
				Message:   fmt.Sprintf("retrying after %s (attempt %d/%d)", delay.Round(time.Millisecond), attempt, attempts),
				Data:      map[string]any{"error": lastErr.Error()},
				Timestamp: time.Now(),
				Internal:  true,
			})
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				lastErr = classifyError(ctx.Err())
				attempt = attempts // force exit
				continue
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, b.opts.Timeout)
		data, err := call(attemptCtx)
		cancel()
		if err == nil {
			elapsed := time.Since(start)
			b.event(ctx, domain.ExecEventComplete, op+" completed", nil)
			tracer.SetOK(span)
			res := domain.OKResult(b.name, data, elapsed)
			res.Metadata = map[string]string{"attempts": strconv.Itoa(attempt)}
			return res
		}

		lastErr = classifyError(err)
		if !domain.IsRetryable(lastErr) {
			break
		}
		b.opts.Logger.Debug("transient tool failure",
			"tool", b.name, "attempt", attempt, "error", lastErr)
	}

	elapsed := time.Since(start)
	tracer.RecordError(span, lastErr)
	b.event(ctx, domain.ExecEventError, lastErr.Error(), nil)
	return domain.FailResult(b.name, lastErr.Error(), elapsed)
}

// RunTest performs the single-attempt connection test. No retries: the
// registry treats any failure as "do not expose this tool".
func (b *Base) RunTest(ctx context.Context, ping func(ctx context.Context) error) domain.ExecutionResult {
	start := time.Now()
	ctx, span := tracer.StartSpan(ctx, "tool."+b.name+".test_connection")
	defer span.End()

	b.event(ctx, domain.ExecEventStart, "connection test started", nil)

	if missing := b.missingCredentials(); len(missing) > 0 {
		err := fmt.Errorf("%w: missing credentials %s", domain.ErrValidation, strings.Join(missing, ", "))
		tracer.RecordError(span, err)
		b.event(ctx, domain.ExecEventError, err.Error(), nil)
		return domain.FailResult(b.name, err.Error(), time.Since(start))
	}

	testCtx, cancel := context.WithTimeout(ctx, b.opts.Timeout)
	defer cancel()
	if err := ping(testCtx); err != nil {
		classified := classifyError(err)
		tracer.RecordError(span, classified)
		b.event(ctx, domain.ExecEventError, classified.Error(), nil)
		return domain.FailResult(b.name, classified.Error(), time.Since(start))
	}

	b.event(ctx, domain.ExecEventComplete, "connection test passed", nil)
	tracer.SetOK(span)
	return domain.OKResult(b.name, map[string]any{"status": "connected"}, time.Since(start))
}

// backoffDelay computes the exponential backoff for a retry, honoring a
// server-provided retry-after hint when it is longer.
func backoffDelay(retry int, hint time.Duration) time.Duration {
	base := 500 * time.Millisecond
	delay := base << (retry - 1)
	if delay > 10*time.Second {
		delay = 10 * time.Second
	}
	// Jitter +-25% so synchronized retries spread out.
	jitter := time.Duration(rand.Int63n(int64(delay)/2)) - delay/4
	delay += jitter
	if hint > delay {
		delay = hint
	}
	return delay
}

// decodeParams converts the loosely-typed params map into a typed struct
// via a JSON round trip, rejecting unknown shapes as validation errors.
func decodeParams[T any](params map[string]any) (T, error) {
	var p T
	raw, err := json.Marshal(params)
	if err != nil {
		return p, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	return p, nil
}

// asData normalizes a backend response into the result data map. Structs
// and maps become objects; slices and scalars are wrapped under "items".
func asData(v any) map[string]any {
	raw, err := json.Marshal(v)
	if err != nil {
		return map[string]any{"value": fmt.Sprintf("%v", v)}
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err == nil {
		return m
	}
	var anyVal any
	if err := json.Unmarshal(raw, &anyVal); err != nil {
		return map[string]any{"value": string(raw)}
	}
	return map[string]any{"items": anyVal}
}
