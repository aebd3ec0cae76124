package usecase

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deskpilot/internal/domain"
	"deskpilot/internal/infra/logger"
)

func TestSweepRefreshesActiveIntegrations(t *testing.T) {
	broken := false
	reg := NewRegistry(fakeDecryptor{}, nil, nil, logger.Discard())
	reg.Register(domain.IntegrationCRM, &fakeFactory{
		name: "crm",
		build: func(_ domain.CredentialBundle, _ domain.EventEmitter) domain.Tool {
			if broken {
				return &fakeTool{name: "crm", testErr: "auth_failure: status 401"}
			}
			return &fakeTool{name: "crm"}
		},
	})

	store := &memStore{integs: []*domain.Integration{testIntegration("i-1", "u-1", domain.IntegrationCRM)}}
	sweeper := NewHealthSweeper(store, reg, "", logger.Discard())

	sweeper.Sweep(context.Background())
	assert.Len(t, reg.ActiveTools("i-1"), 1)

	// Credentials revoked between sweeps: the next sweep pulls the tool
	// out of the live set.
	broken = true
	sweeper.Sweep(context.Background())
	assert.Empty(t, reg.ActiveTools("i-1"))
}

func TestSweeperStartRejectsBadSchedule(t *testing.T) {
	reg := NewRegistry(fakeDecryptor{}, nil, nil, logger.Discard())
	sweeper := NewHealthSweeper(&memStore{}, reg, "not a schedule", logger.Discard())
	require.Error(t, sweeper.Start())
}

func TestSweeperStartStop(t *testing.T) {
	reg := NewRegistry(fakeDecryptor{}, nil, nil, logger.Discard())
	sweeper := NewHealthSweeper(&memStore{}, reg, "@every 1h", logger.Discard())
	require.NoError(t, sweeper.Start())
	sweeper.Stop()
}
