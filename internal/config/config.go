// Package config loads warden's YAML configuration with WARDEN_*
// environment overrides.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Mutual-Roots/Ford-Perfect/internal/audit"
	"github.com/Mutual-Roots/Ford-Perfect/internal/gate"
	"github.com/Mutual-Roots/Ford-Perfect/internal/notify"
	"github.com/Mutual-Roots/Ford-Perfect/internal/report"
)

// DefaultPort is the gRPC listen port.
const DefaultPort = 50051

// AuditConfig selects where and how records are stored.
type AuditConfig struct {
	Dir     string `yaml:"dir"`
	Backend string `yaml:"backend"` // "jsonl" or "sqlite"
}

// GateConfig tunes the risk gate.
type GateConfig struct {
	HighWindow time.Duration `yaml:"high_window"`
}

// ServerConfig configures the gRPC command surface.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// InboxConfig configures the emergency command inbox.
type InboxConfig struct {
	Dir string `yaml:"dir"`
}

// TelemetryConfig configures metric export.
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `yaml:"level"`
}

// Config is the complete warden configuration.
type Config struct {
	Audit      AuditConfig            `yaml:"audit"`
	Gate       GateConfig             `yaml:"gate"`
	Server     ServerConfig           `yaml:"server"`
	Inbox      InboxConfig            `yaml:"inbox"`
	Alerts     []notify.WebhookConfig `yaml:"alerts"`
	AlertsRate float64                `yaml:"alerts_rate"`
	Report     report.BudgetConfig    `yaml:"report"`
	Telemetry  TelemetryConfig        `yaml:"telemetry"`
	Log        LogConfig              `yaml:"log"`
}

// Home returns the warden state directory, ~/.warden, or WARDEN_HOME when set.
func Home() string {
	if h := os.Getenv("WARDEN_HOME"); h != "" {
		return h
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".warden"
	}
	return filepath.Join(home, ".warden")
}

// DefaultPath is the config file used when no path is given.
func DefaultPath() string {
	return filepath.Join(Home(), "config.yaml")
}

// Default returns the built-in configuration.
func Default() *Config {
	home := Home()
	return &Config{
		Audit:      AuditConfig{Dir: filepath.Join(home, "audit"), Backend: audit.BackendJSONL},
		Gate:       GateConfig{HighWindow: gate.DefaultHighWindow},
		Server:     ServerConfig{Port: DefaultPort},
		Inbox:      InboxConfig{Dir: filepath.Join(home, "inbox")},
		AlertsRate: 5,
		Report:     report.BudgetConfig{Currency: "USD"},
		Log:        LogConfig{Level: "info"},
	}
}

// Load reads the YAML file at path, applies environment overrides and
// validates the result. Empty path falls back to DefaultPath. A missing
// file yields defaults. Invalid YAML is an error.
func Load(path string) (*Config, error) {
	cfg, _, err := LoadWithHash(path)
	return cfg, err
}

// LoadWithHash is Load that also returns the SHA-256 of the raw file bytes,
// or of empty input when no file exists.
func LoadWithHash(path string) (*Config, string, error) {
	if path == "" {
		path = DefaultPath()
	}

	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		// YAML overwrites only the fields it specifies.
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, "", fmt.Errorf("config: parse %s: %w", path, err)
		}
	case os.IsNotExist(err):
		data = nil
	default:
		return nil, "", fmt.Errorf("config: read %s: %w", path, err)
	}
	h := sha256.Sum256(data)

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, "", err
	}
	return cfg, "sha256:" + hex.EncodeToString(h[:]), nil
}

func (c *Config) applyEnv() {
	c.Audit.Dir = envStr("WARDEN_AUDIT_DIR", c.Audit.Dir)
	c.Audit.Backend = envStr("WARDEN_AUDIT_BACKEND", c.Audit.Backend)
	c.Gate.HighWindow = envDuration("WARDEN_HIGH_WINDOW", c.Gate.HighWindow)
	c.Server.Port = envInt("WARDEN_PORT", c.Server.Port)
	c.Inbox.Dir = envStr("WARDEN_INBOX_DIR", c.Inbox.Dir)
	c.AlertsRate = envFloat("WARDEN_ALERTS_RATE", c.AlertsRate)
	c.Report.Daily = envStr("WARDEN_DAILY_BUDGET", c.Report.Daily)
	c.Report.WarnAt = envStr("WARDEN_BUDGET_WARN_AT", c.Report.WarnAt)
	c.Report.Currency = envStr("WARDEN_BUDGET_CURRENCY", c.Report.Currency)
	c.Telemetry.OTLPEndpoint = envStr("WARDEN_OTLP_ENDPOINT", c.Telemetry.OTLPEndpoint)
	c.Log.Level = envStr("WARDEN_LOG_LEVEL", c.Log.Level)
}

// Validate checks the configuration for values no component can run with.
func (c *Config) Validate() error {
	switch c.Audit.Backend {
	case audit.BackendJSONL, audit.BackendSQLite:
	default:
		return fmt.Errorf("config: audit.backend must be %q or %q, got %q", audit.BackendJSONL, audit.BackendSQLite, c.Audit.Backend)
	}
	if strings.TrimSpace(c.Audit.Dir) == "" {
		return fmt.Errorf("config: audit.dir is required")
	}
	if c.Gate.HighWindow <= 0 {
		return fmt.Errorf("config: gate.high_window must be positive")
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("config: server.port %d out of range", c.Server.Port)
	}
	if c.AlertsRate <= 0 {
		return fmt.Errorf("config: alerts_rate must be positive")
	}
	for i, a := range c.Alerts {
		if strings.TrimSpace(a.URL) == "" {
			return fmt.Errorf("config: alerts[%d].url is required", i)
		}
		switch a.Format {
		case "", notify.FormatGeneric, notify.FormatSlack, notify.FormatPagerDuty:
		default:
			return fmt.Errorf("config: alerts[%d].format %q is not generic, slack or pagerduty", i, a.Format)
		}
	}
	if err := c.Report.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func envFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
