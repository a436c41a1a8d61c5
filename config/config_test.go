package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  listen: ":9000"
primary:
  base_url: "http://upstream.local/v1"
  api_keys: ["sk-a", "sk-b"]
  cooldown: 5s
gate:
  rate_limit_interval: 2s
  rate_limit_wait: true
stream:
  keepalive_interval: 0s
`), 0o600))

	t.Chdir(dir)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Server.Listen)
	assert.Equal(t, "http://upstream.local/v1", cfg.Primary.BaseURL)
	assert.Equal(t, []string{"sk-a", "sk-b"}, cfg.Primary.APIKeys)
	assert.Equal(t, 5*time.Second, cfg.Primary.Cooldown)
	assert.Equal(t, 2*time.Second, cfg.Gate.RateLimitInterval)
	assert.True(t, cfg.Gate.RateLimitWait)
	assert.Equal(t, time.Duration(0), cfg.Stream.KeepAliveInterval)
	// untouched defaults survive
	assert.Equal(t, "/models", cfg.Primary.ModelsPath)
	assert.Equal(t, "2024-10-21", cfg.Azure.APIVersion)
	assert.NoError(t, cfg.Validate())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"GATEWAY_LISTEN":              ":7000",
		"GATEWAY_PRIMARY_API_KEYS":    "k1, ,k2",
		"GATEWAY_RATE_LIMIT_INTERVAL": "3s",
		"GATEWAY_MANUAL_APPROVE":      "true",
		"GATEWAY_DB_PATH":             "",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := Default()
	require.NoError(t, cfg.ApplyEnv(lookup))

	assert.Equal(t, ":7000", cfg.Server.Listen)
	assert.Equal(t, []string{"k1", "k2"}, cfg.Primary.APIKeys)
	assert.Equal(t, 3*time.Second, cfg.Gate.RateLimitInterval)
	assert.True(t, cfg.Gate.ManualApprove)
	assert.Empty(t, cfg.Database.Path)
}

func TestApplyEnvBadValues(t *testing.T) {
	lookup := func(k string) (string, bool) {
		switch k {
		case "GATEWAY_RATE_LIMIT_INTERVAL":
			return "soon", true
		case "GATEWAY_MANUAL_APPROVE":
			return "maybe", true
		}
		return "", false
	}

	err := Default().ApplyEnv(lookup)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GATEWAY_RATE_LIMIT_INTERVAL")
	assert.Contains(t, err.Error(), "GATEWAY_MANUAL_APPROVE")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{
			name:    "empty base url",
			mutate:  func(c *Config) { c.Primary.BaseURL = " " },
			wantErr: "primary.base_url",
		},
		{
			name:    "negative duration",
			mutate:  func(c *Config) { c.Stream.KeepAliveInterval = -time.Second },
			wantErr: "stream.keepalive_interval",
		},
		{
			name:    "wait without interval",
			mutate:  func(c *Config) { c.Gate.RateLimitWait = true },
			wantErr: "rate_limit_wait",
		},
		{
			name:    "bad secret key",
			mutate:  func(c *Config) { c.Azure.SecretKey = "short" },
			wantErr: "azure.secret_key",
		},
		{
			name:   "32 byte secret key",
			mutate: func(c *Config) { c.Azure.SecretKey = "0123456789abcdef0123456789abcdef" },
		},
		{
			name:    "bad log format",
			mutate:  func(c *Config) { c.Logging.Format = "xml" },
			wantErr: "logging.format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
