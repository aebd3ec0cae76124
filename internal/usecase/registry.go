package usecase

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"deskpilot/internal/domain"
)

// ToolWrapper decorates a tool instance before it goes live, e.g. with
// JSON-schema parameter validation. Applied at load time, after the
// connection test passes.
type ToolWrapper func(domain.Tool) (domain.Tool, error)

// Registry maps integration types to tool factories and tracks the live
// tool set per integration. Loading is all-or-nothing per instance: a tool
// whose connection test fails is never exposed.
type Registry struct {
	decryptor domain.CredentialDecryptor
	bus       domain.EventBus
	logger    *slog.Logger
	wrap      ToolWrapper
	emit      domain.EventEmitter

	mu        sync.RWMutex
	factories map[domain.IntegrationType][]domain.ToolFactory
	active    map[string][]domain.Tool // integration ID -> connection-tested tools
}

// NewRegistry creates a tool registry. bus and wrap may be nil.
func NewRegistry(decryptor domain.CredentialDecryptor, bus domain.EventBus, wrap ToolWrapper, logger *slog.Logger) *Registry {
	r := &Registry{
		decryptor: decryptor,
		bus:       bus,
		logger:    logger,
		wrap:      wrap,
		factories: make(map[domain.IntegrationType][]domain.ToolFactory),
		active:    make(map[string][]domain.Tool),
	}
	r.emit = func(ev domain.ExecutionEvent) {
		logger.Debug("tool event",
			"type", string(ev.Type),
			"tool", ev.ToolName,
			"message", ev.Message,
		)
	}
	return r
}

// Register adds a factory for an integration type. Registration is additive
// and idempotent: registering the same tool name for the same type again is
// a no-op.
func (r *Registry) Register(t domain.IntegrationType, f domain.ToolFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.factories[t] {
		if existing.ToolName() == f.ToolName() {
			return
		}
	}
	r.factories[t] = append(r.factories[t], f)
}

// LoadForIntegration decrypts the integration's credentials, instantiates
// every factory registered for its type, connection-tests each instance,
// and atomically replaces the integration's live tool set with the
// instances that passed. Failed instances are logged and skipped; they do
// not abort the load.
func (r *Registry) LoadForIntegration(ctx context.Context, integ *domain.Integration) ([]domain.Tool, error) {
	const op = "Registry.LoadForIntegration"

	creds, err := r.decryptor.Decrypt(integ.CredentialBlob)
	if err != nil {
		return nil, domain.NewDomainError(op, domain.ErrDecryption, integ.ID)
	}

	bundle := domain.CredentialBundle{
		IntegrationType: integ.Type,
		Credentials:     creds,
		Active:          integ.Active,
		CreatedAt:       integ.CreatedAt,
		UpdatedAt:       integ.UpdatedAt,
	}

	r.mu.RLock()
	factories := make([]domain.ToolFactory, len(r.factories[integ.Type]))
	copy(factories, r.factories[integ.Type])
	r.mu.RUnlock()

	var loaded []domain.Tool
	var degraded []string
	for _, f := range factories {
		inst := f.New(bundle, r.emit)

		// Cheap local check before spending a network round trip.
		if !inst.ValidateCredentials() {
			r.logger.Warn("tool credentials incomplete, skipping",
				"tool", inst.Name(),
				"integration", integ.ID,
				"error", domain.ErrCredentialInvalid,
			)
			degraded = append(degraded, inst.Name())
			continue
		}

		res := inst.TestConnection(ctx)
		if !res.Success {
			r.logger.Warn("tool failed connection test, skipping",
				"tool", inst.Name(),
				"integration", integ.ID,
				"error", res.Error,
			)
			degraded = append(degraded, inst.Name())
			continue
		}

		if r.wrap != nil {
			wrapped, err := r.wrap(inst)
			if err != nil {
				r.logger.Warn("tool wrapper rejected instance, skipping",
					"tool", inst.Name(),
					"integration", integ.ID,
					"error", err,
				)
				degraded = append(degraded, inst.Name())
				continue
			}
			inst = wrapped
		}

		loaded = append(loaded, inst)
	}

	r.mu.Lock()
	r.active[integ.ID] = loaded
	r.mu.Unlock()

	r.publish(ctx, domain.EventIntegrationLoaded, integ, len(loaded))
	if len(degraded) > 0 {
		r.publish(ctx, domain.EventIntegrationDegraded, integ, len(degraded))
	}

	return append([]domain.Tool(nil), loaded...), nil
}

// ActiveTools returns the live tool set for an integration.
func (r *Registry) ActiveTools(integrationID string) []domain.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]domain.Tool(nil), r.active[integrationID]...)
}

// ActiveIntegrations returns the IDs of integrations that currently have at
// least one live tool.
func (r *Registry) ActiveIntegrations() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.active))
	for id, tools := range r.active {
		if len(tools) > 0 {
			ids = append(ids, id)
		}
	}
	return ids
}

// Unload drops an integration's live tool set.
func (r *Registry) Unload(ctx context.Context, integrationID string) {
	r.mu.Lock()
	delete(r.active, integrationID)
	r.mu.Unlock()

	if r.bus != nil {
		r.bus.Publish(ctx, domain.Event{
			Type:      domain.EventIntegrationUnloaded,
			Timestamp: time.Now(),
			Payload:   mustJSON(map[string]any{"integration_id": integrationID}),
		})
	}
}

func (r *Registry) publish(ctx context.Context, t domain.EventType, integ *domain.Integration, count int) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(ctx, domain.Event{
		Type:      t,
		Timestamp: time.Now(),
		Payload: mustJSON(map[string]any{
			"integration_id":   integ.ID,
			"integration_type": string(integ.Type),
			"tool_count":       count,
		}),
	})
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}
