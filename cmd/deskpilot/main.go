package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"deskpilot/internal/adapter/classify"
	"deskpilot/internal/adapter/crypto"
	"deskpilot/internal/adapter/gateway"
	"deskpilot/internal/adapter/publish"
	"deskpilot/internal/adapter/store"
	"deskpilot/internal/adapter/tool"
	"deskpilot/internal/adapter/tracker"
	"deskpilot/internal/domain"
	"deskpilot/internal/infra/config"
	"deskpilot/internal/infra/logger"
	"deskpilot/internal/infra/tracer"
	"deskpilot/internal/usecase"
	"deskpilot/internal/usecase/eventbus"
	"deskpilot/internal/usecase/workpool"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log, closeLog, err := logger.New(cfg.Logger)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return err
	}
	defer shutdownTracer(context.Background())

	bus := eventbus.New(log)
	defer bus.Close()

	encryptor, err := crypto.NewCredentialEncryptor(cfg.Security.CredentialPassphrase)
	if err != nil {
		return err
	}

	integrations, err := store.NewSQLiteIntegrationStore(cfg.Storage.IntegrationsPath)
	if err != nil {
		return err
	}
	defer integrations.Close()

	executions, err := tracker.NewSQLiteTracker(cfg.Storage.ExecutionsPath)
	if err != nil {
		return err
	}
	defer executions.Close()

	registry := usecase.NewRegistry(encryptor, bus, tool.WithSchemaValidation, log)
	registerToolFactories(registry, cfg, log)

	var classifier *classify.HTTPClassifier
	if cfg.Classifier.Enabled {
		classifier = classify.New(cfg.Classifier.URL, cfg.Classifier.APIKey, cfg.Classifier.Timeout, log)
	}

	var routerClassifier domain.Classifier
	var synthesizer domain.Synthesizer
	if classifier != nil {
		routerClassifier = classifier
		synthesizer = classifier
	}

	router := usecase.NewRouter(routerClassifier, usecase.RouterConfig{
		MinConfidence:        cfg.Router.MinConfidence,
		DefaultFallbackCount: cfg.Router.DefaultFallbackCount,
	}, log)

	aggregator := usecase.NewAggregator(synthesizer, log)

	pool := workpool.New(cfg.Engine.Workers, log)
	defer pool.Close()

	engine := usecase.NewEngine(registry, router, aggregator, integrations, executions, bus, pool,
		usecase.EngineConfig{QueryTimeout: cfg.Engine.QueryTimeout}, log)

	if cfg.Publisher.Enabled {
		bridge := publish.NewBusBridge(bus, publish.NewLogPublisher(log), cfg.Publisher.Topic, log)
		defer bridge.Close()
	}

	if cfg.Health.Enabled {
		sweeper := usecase.NewHealthSweeper(integrations, registry, cfg.Health.Schedule, log)
		if err := sweeper.Start(); err != nil {
			return err
		}
		defer sweeper.Stop()
	}

	if !cfg.Gateway.Enabled {
		log.Info("gateway disabled, idle until signal")
		<-ctx.Done()
		return nil
	}

	tokens := make([]gateway.TokenEntry, 0, len(cfg.Gateway.Tokens))
	for _, t := range cfg.Gateway.Tokens {
		tokens = append(tokens, gateway.TokenEntry{Token: t.Token, UserID: t.UserID, Name: t.Name})
	}
	auth := gateway.NewStaticTokenAuth(tokens)

	statusFn := func() map[string]any {
		return map[string]any{"active_integrations": len(registry.ActiveIntegrations())}
	}

	srv := gateway.NewServer(engine, auth, cfg.Gateway.Addr, statusFn, cfg.Gateway.StatusPushInterval, log)
	return srv.Start(ctx)
}

// registerToolFactories installs one factory per integration type. Each
// factory builds credential-scoped instances against its HTTP (or Slack)
// backend.
func registerToolFactories(registry *usecase.Registry, cfg *config.Config, log *slog.Logger) {
	opts := tool.Options{
		Timeout:    cfg.Tools.Timeout,
		MaxRetries: cfg.Tools.MaxRetries,
		Logger:     log,
	}
	guard := tool.GuardConfig{
		RateLimit:          cfg.Tools.RateLimit,
		BreakerMaxFailures: cfg.Tools.BreakerMaxFailures,
		BreakerTimeout:     cfg.Tools.BreakerTimeout,
	}

	registry.Register(domain.IntegrationIssueTracker, tool.NewIssueTrackerFactory(opts, guard, nil))
	registry.Register(domain.IntegrationCRM, tool.NewCRMFactory(opts, guard, nil))
	registry.Register(domain.IntegrationHelpdesk, tool.NewHelpdeskFactory(opts, guard, nil))
	registry.Register(domain.IntegrationCodeHost, tool.NewCodeHostFactory(opts, guard, nil))
	registry.Register(domain.IntegrationChat, tool.NewChatFactory(opts, nil))
}
