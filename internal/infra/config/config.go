package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Logger     LoggerConfig     `yaml:"logger"`
	Tracer     TracerConfig     `yaml:"tracer"`
	Storage    StorageConfig    `yaml:"storage"`
	Security   SecurityConfig   `yaml:"security"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Router     RouterConfig     `yaml:"router"`
	Engine     EngineConfig     `yaml:"engine"`
	Tools      ToolsConfig      `yaml:"tools"`
	Gateway    GatewayConfig    `yaml:"gateway"`
	Health     HealthConfig     `yaml:"health"`
	Publisher  PublisherConfig  `yaml:"publisher"`
}

// LoggerConfig controls log output.
type LoggerConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
	Output string `yaml:"output"` // stdout, stderr, or a file path
}

// TracerConfig controls OpenTelemetry tracing.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"` // stdout, noop
}

// StorageConfig holds database paths.
type StorageConfig struct {
	IntegrationsPath string `yaml:"integrations_path"` // sqlite file for integrations
	ExecutionsPath   string `yaml:"executions_path"`   // sqlite file for execution records
}

// SecurityConfig holds credential encryption settings.
type SecurityConfig struct {
	// Passphrase for the credential encryptor. Supports ${ENV_VAR} expansion.
	CredentialPassphrase string `yaml:"credential_passphrase"`
}

// ClassifierConfig points at the remote classification/synthesis service.
// When disabled, routing uses the deterministic keyword fallback only and
// aggregation uses deterministic summaries.
type ClassifierConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	// APIKey supports ${ENV_VAR} expansion.
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
}

// RouterConfig tunes query classification.
type RouterConfig struct {
	// MinConfidence below which the fallback classifier is preferred.
	MinConfidence float64 `yaml:"min_confidence"`
	// DefaultFallbackCount bounds the default handler subset when no
	// keywords match. Default 2.
	DefaultFallbackCount int `yaml:"default_fallback_count"`
}

// EngineConfig tunes the streaming execution engine.
type EngineConfig struct {
	// Workers bounds the worker pool for blocking handler execution.
	Workers int `yaml:"workers"`
	// QueryTimeout bounds one full query cycle.
	QueryTimeout time.Duration `yaml:"query_timeout"`
}

// ToolsConfig holds per-tool execution defaults.
type ToolsConfig struct {
	// Timeout per tool invocation. Default 30s.
	Timeout time.Duration `yaml:"timeout"`
	// MaxRetries for transient failures. Default 3.
	MaxRetries int `yaml:"max_retries"`
	// RateLimit is the per-backend outbound requests/second. 0 = unlimited.
	RateLimit float64 `yaml:"rate_limit"`
	// BreakerMaxFailures is consecutive failures before the circuit opens.
	BreakerMaxFailures uint32 `yaml:"breaker_max_failures"`
	// BreakerTimeout is how long the circuit stays open.
	BreakerTimeout time.Duration `yaml:"breaker_timeout"`
}

// GatewayConfig holds the streaming connection settings.
type GatewayConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	// StatusPushInterval for per-session status frames. 0 disables them.
	StatusPushInterval time.Duration `yaml:"status_push_interval"`
	// Tokens is the static auth token list.
	Tokens []GatewayTokenConfig `yaml:"tokens"`
}

// GatewayTokenConfig is one static auth token entry.
type GatewayTokenConfig struct {
	Token  string `yaml:"token"` // supports ${ENV_VAR} expansion
	UserID string `yaml:"user_id"`
	Name   string `yaml:"name"`
}

// HealthConfig controls the periodic integration health sweep.
type HealthConfig struct {
	Enabled bool `yaml:"enabled"`
	// Schedule is a cron expression; default "@every 15m".
	Schedule string `yaml:"schedule"`
}

// PublisherConfig controls the audit/analytics fan-out.
type PublisherConfig struct {
	Enabled bool   `yaml:"enabled"`
	Topic   string `yaml:"topic"`
}

// Load reads, expands, and validates a YAML config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	// Expand ${ENV_VAR} references so secrets stay out of the file.
	expanded := os.Expand(string(data), func(key string) string {
		return os.Getenv(key)
	})

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a Config with all defaults applied.
func Default() *Config {
	return &Config{
		Logger: LoggerConfig{Level: "info", Format: "text", Output: "stderr"},
		Tracer: TracerConfig{Enabled: false},
		Storage: StorageConfig{
			IntegrationsPath: "data/integrations.db",
			ExecutionsPath:   "data/executions.db",
		},
		Classifier: ClassifierConfig{
			Enabled: false,
			Timeout: 15 * time.Second,
		},
		Router: RouterConfig{
			MinConfidence:        0.3,
			DefaultFallbackCount: 2,
		},
		Engine: EngineConfig{
			Workers:      8,
			QueryTimeout: 5 * time.Minute,
		},
		Tools: ToolsConfig{
			Timeout:            30 * time.Second,
			MaxRetries:         3,
			BreakerMaxFailures: 5,
			BreakerTimeout:     30 * time.Second,
		},
		Gateway: GatewayConfig{
			Enabled:            true,
			Addr:               "127.0.0.1:8790",
			StatusPushInterval: 30 * time.Second,
		},
		Health: HealthConfig{
			Enabled:  true,
			Schedule: "@every 15m",
		},
		Publisher: PublisherConfig{
			Enabled: true,
			Topic:   "deskpilot.audit",
		},
	}
}

// Validate checks invariants that would otherwise surface as confusing
// runtime failures.
func (c *Config) Validate() error {
	switch c.Logger.Level {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("config: invalid logger.level %q", c.Logger.Level)
	}
	switch c.Logger.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("config: invalid logger.format %q", c.Logger.Format)
	}
	if c.Engine.Workers <= 0 {
		return fmt.Errorf("config: engine.workers must be positive, got %d", c.Engine.Workers)
	}
	if c.Tools.Timeout <= 0 {
		return fmt.Errorf("config: tools.timeout must be positive")
	}
	if c.Tools.MaxRetries < 0 {
		return fmt.Errorf("config: tools.max_retries must not be negative")
	}
	if c.Router.DefaultFallbackCount <= 0 {
		return fmt.Errorf("config: router.default_fallback_count must be positive")
	}
	if c.Gateway.Enabled && c.Gateway.Addr == "" {
		return fmt.Errorf("config: gateway.addr is required when gateway is enabled")
	}
	if c.Classifier.Enabled && c.Classifier.URL == "" {
		return fmt.Errorf("config: classifier.url is required when classifier is enabled")
	}
	return nil
}
