package usecase

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"deskpilot/internal/domain"
)

// HealthSweeper periodically re-loads every active integration so that
// credentials that went bad between queries are detected and the affected
// tools are pulled out of the live set before a user hits them.
type HealthSweeper struct {
	store    domain.IntegrationStore
	registry *Registry
	logger   *slog.Logger
	schedule string
	cron     *cron.Cron
}

// NewHealthSweeper creates a sweeper with a cron schedule, e.g. "@every 15m".
func NewHealthSweeper(store domain.IntegrationStore, registry *Registry, schedule string, logger *slog.Logger) *HealthSweeper {
	if schedule == "" {
		schedule = "@every 15m"
	}
	return &HealthSweeper{
		store:    store,
		registry: registry,
		logger:   logger,
		schedule: schedule,
	}
}

// Start schedules the sweep. Returns an error if the schedule is invalid.
func (h *HealthSweeper) Start() error {
	c := cron.New()
	_, err := c.AddFunc(h.schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		h.Sweep(ctx)
	})
	if err != nil {
		return domain.WrapOp("HealthSweeper.Start", err)
	}
	h.cron = c
	c.Start()
	h.logger.Info("health sweep scheduled", "schedule", h.schedule)
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (h *HealthSweeper) Stop() {
	if h.cron != nil {
		<-h.cron.Stop().Done()
	}
}

// Sweep re-loads all active integrations once. Failures are logged per
// integration and never abort the sweep.
func (h *HealthSweeper) Sweep(ctx context.Context) {
	integs, err := h.store.ListActive(ctx)
	if err != nil {
		h.logger.Error("health sweep: list integrations failed", "error", err)
		return
	}

	healthy, degraded := 0, 0
	for _, integ := range integs {
		tools, err := h.registry.LoadForIntegration(ctx, integ)
		if err != nil {
			h.logger.Warn("health sweep: integration load failed",
				"integration", integ.ID, "error", err)
			degraded++
			continue
		}
		if len(tools) == 0 {
			degraded++
			continue
		}
		healthy++
	}

	h.logger.Info("health sweep complete",
		"integrations", len(integs),
		"healthy", healthy,
		"degraded", degraded,
	)
}
