package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mutual-Roots/Ford-Perfect/internal/notify"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	t.Setenv("WARDEN_HOME", t.TempDir())
	cfg, hash, err := LoadWithHash(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "jsonl", cfg.Audit.Backend)
	assert.Equal(t, 5*time.Minute, cfg.Gate.HighWindow)
	assert.Equal(t, DefaultPort, cfg.Server.Port)
	assert.Equal(t, "sha256:e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", hash)
}

func TestLoadDefaultPathUsesHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("WARDEN_HOME", home)
	require.NoError(t, os.WriteFile(filepath.Join(home, "config.yaml"), []byte("server:\n  port: 6000\n"), 0o600))

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 6000, cfg.Server.Port)
	assert.Equal(t, filepath.Join(home, "audit"), cfg.Audit.Dir)
}

func TestLoadOverridesOnlySpecifiedFields(t *testing.T) {
	t.Setenv("WARDEN_HOME", t.TempDir())
	path := writeConfig(t, `
audit:
  backend: sqlite
gate:
  high_window: 90s
alerts:
  - url: https://hooks.example.com/warden
    format: slack
    events: [approval_requested, VETOED]
report:
  daily_budget: "5.00"
  warn_at: "3"
`)
	cfg, hash, err := LoadWithHash(path)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Audit.Backend)
	assert.NotEmpty(t, cfg.Audit.Dir)
	assert.Equal(t, 90*time.Second, cfg.Gate.HighWindow)
	assert.Equal(t, DefaultPort, cfg.Server.Port)
	require.Len(t, cfg.Alerts, 1)
	assert.Equal(t, "slack", cfg.Alerts[0].Format)
	assert.Equal(t, []string{"approval_requested", "VETOED"}, cfg.Alerts[0].Events)
	assert.Equal(t, "5.00", cfg.Report.Daily)
	assert.Equal(t, "USD", cfg.Report.Currency)
	assert.True(t, strings.HasPrefix(hash, "sha256:"))
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("WARDEN_HOME", t.TempDir())
	t.Setenv("WARDEN_AUDIT_BACKEND", "sqlite")
	t.Setenv("WARDEN_HIGH_WINDOW", "30s")
	t.Setenv("WARDEN_PORT", "7000")
	t.Setenv("WARDEN_LOG_LEVEL", "debug")
	t.Setenv("WARDEN_DAILY_BUDGET", "12.5")
	t.Setenv("WARDEN_ALERTS_RATE", "not-a-number")

	cfg, err := Load(writeConfig(t, "server:\n  port: 6000\nlog:\n  level: warn\n"))
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Audit.Backend)
	assert.Equal(t, 30*time.Second, cfg.Gate.HighWindow)
	assert.Equal(t, 7000, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "12.5", cfg.Report.Daily)
	assert.Equal(t, 5.0, cfg.AlertsRate)
}

func TestLoadInvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "audit: [not, a, map"))
	assert.ErrorContains(t, err, "config: parse")
}

func TestValidate(t *testing.T) {
	t.Setenv("WARDEN_HOME", t.TempDir())
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"backend", func(c *Config) { c.Audit.Backend = "postgres" }, "audit.backend"},
		{"dir", func(c *Config) { c.Audit.Dir = " " }, "audit.dir"},
		{"window", func(c *Config) { c.Gate.HighWindow = 0 }, "high_window"},
		{"port", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
		{"rate", func(c *Config) { c.AlertsRate = 0 }, "alerts_rate"},
		{"alert url", func(c *Config) { c.Alerts = append(c.Alerts, c.Alerts[0]); c.Alerts[1].URL = "" }, "alerts[1].url"},
		{"alert format", func(c *Config) { c.Alerts[0].Format = "teams" }, "alerts[0].format"},
		{"budget", func(c *Config) { c.Report.Daily = "lots" }, "daily budget"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			cfg.Alerts = []notify.WebhookConfig{{URL: "https://example.com"}}
			tc.mutate(cfg)
			assert.ErrorContains(t, cfg.Validate(), tc.want)
		})
	}

	assert.NoError(t, Default().Validate())
}
