package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
logger:
  level: debug
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logger.Level)
	// Untouched sections keep their defaults.
	assert.Equal(t, 8, cfg.Engine.Workers)
	assert.Equal(t, 30*time.Second, cfg.Tools.Timeout)
	assert.Equal(t, 2, cfg.Router.DefaultFallbackCount)
	assert.Equal(t, "@every 15m", cfg.Health.Schedule)
}

func TestLoadExpandsEnvVars(t *testing.T) {
	t.Setenv("DESKPILOT_TEST_PASSPHRASE", "from-env")
	path := writeConfig(t, `
security:
  credential_passphrase: ${DESKPILOT_TEST_PASSPHRASE}
gateway:
  tokens:
    - token: ${DESKPILOT_TEST_PASSPHRASE}
      user_id: u-1
      name: cli
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Security.CredentialPassphrase)
	require.Len(t, cfg.Gateway.Tokens, 1)
	assert.Equal(t, "from-env", cfg.Gateway.Tokens[0].Token)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestLoadInvalidYAML(t *testing.T) {
	path := writeConfig(t, "logger: [not a mapping")
	_, err := Load(path)
	require.Error(t, err)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad log level", func(c *Config) { c.Logger.Level = "loud" }},
		{"bad log format", func(c *Config) { c.Logger.Format = "xml" }},
		{"zero workers", func(c *Config) { c.Engine.Workers = 0 }},
		{"zero tool timeout", func(c *Config) { c.Tools.Timeout = 0 }},
		{"negative retries", func(c *Config) { c.Tools.MaxRetries = -1 }},
		{"zero fallback count", func(c *Config) { c.Router.DefaultFallbackCount = 0 }},
		{"gateway without addr", func(c *Config) { c.Gateway.Enabled = true; c.Gateway.Addr = "" }},
		{"classifier without url", func(c *Config) { c.Classifier.Enabled = true; c.Classifier.URL = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestDefaultValidates(t *testing.T) {
	assert.NoError(t, Default().Validate())
}
