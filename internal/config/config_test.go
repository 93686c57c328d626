package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, ":8080", cfg.Addr())
	assert.Equal(t, 3*time.Second, cfg.Forensics.TLSTimeout)
	assert.Equal(t, 443, cfg.Forensics.TLSPort)
	assert.Equal(t, "@every 6h", cfg.Feed.ReloadSchedule)
}

func TestLoad_OverlaysDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
feed:
  url: http://feeds.internal/urlhaus.csv
  fetch_timeout: 2s
forensics:
  dns_resolver: 1.1.1.1:53
telemetry:
  log_format: console
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "http://feeds.internal/urlhaus.csv", cfg.Feed.URL)
	assert.Equal(t, 2*time.Second, cfg.Feed.FetchTimeout)
	assert.Equal(t, "1.1.1.1:53", cfg.Forensics.DNSResolver)
	assert.Equal(t, "console", cfg.Telemetry.LogFormat)

	// untouched sections keep their defaults
	assert.Equal(t, 3*time.Second, cfg.Forensics.DNSTimeout)
	assert.Equal(t, "submitted_reports", cfg.Reports.OutputDir)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "server: [unterminated")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config")
}

func TestLoad_RejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"port", "server:\n  port: 70000\n", "server.port"},
		{"tls port", "forensics:\n  tls_port: 0\n", "forensics.tls_port"},
		{"timeouts", "forensics:\n  dns_timeout: 0s\n", "forensics timeouts"},
		{"hec url", "reports:\n  hec:\n    enabled: true\n", "hec_url"},
		{"sampling", "telemetry:\n  sampling_rate: 2\n", "sampling_rate"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadOrDefault_FallsBackWhenMissing(t *testing.T) {
	cfg, found, err := LoadOrDefault(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, DefaultConfig().Feed.URL, cfg.Feed.URL)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("CEREBRO_PORT", "7070")
	t.Setenv("CEREBRO_REDIS_ADDR", "redis.internal:6379")
	t.Setenv("CEREBRO_FEED_URL", "http://mirror/feed.csv")
	t.Setenv("CEREBRO_LOG_LEVEL", "debug")

	cfg, err := Load(writeConfig(t, "server:\n  port: 9090\n"))
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "redis.internal:6379", cfg.Redis.Addr)
	assert.Equal(t, "http://mirror/feed.csv", cfg.Feed.URL)
	assert.Equal(t, "debug", cfg.Telemetry.LogLevel)
}

func TestEnvOverrides_BadPort(t *testing.T) {
	t.Setenv("CEREBRO_PORT", "eighty")
	_, err := Load(writeConfig(t, "{}\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CEREBRO_PORT")
}

func TestRedisPassword_FromEnv(t *testing.T) {
	t.Setenv("TEST_REDIS_PASSWORD", "s3cret")
	cfg := RedisConfig{PasswordEnv: "TEST_REDIS_PASSWORD"}
	assert.Equal(t, "s3cret", cfg.Password())
	assert.Empty(t, RedisConfig{}.Password())
}

func TestLoad_ShippedConfig(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "configs", "config.yaml"))
	require.NoError(t, err)

	def := DefaultConfig()
	assert.Equal(t, def.Server, cfg.Server)
	assert.Equal(t, def.Feed, cfg.Feed)
	assert.Equal(t, def.Forensics, cfg.Forensics)
	assert.Equal(t, def.Classifier, cfg.Classifier)
	assert.Equal(t, def.Incidents, cfg.Incidents)
	assert.Equal(t, def.RateLimit, cfg.RateLimit)
	assert.Equal(t, def.Telemetry, cfg.Telemetry)
	assert.Equal(t, "CEREBRO_REDIS_PASSWORD", cfg.Redis.PasswordEnv)
}
