package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Host:         "0.0.0.0",
			Port:         18791,
			RateLimitRPM: 60,
		},
		Security: SecurityConfig{
			RateLimit: SecurityRateLimit{
				Enabled:     true,
				WindowMS:    60000,
				MaxRequests: 30,
			},
			ApprovalTimeoutSec:   300,
			InjectionSensitivity: "medium",
		},
		Secrets: SecretsConfig{
			Mode:              "redact",
			MaxSecretsPerType: 10,
		},
		Sandbox: SandboxConfig{
			IdleTimeoutMinutes: 50,
			ExecTimeoutSec:     30,
		},
		Cron: CronConfig{
			Dir:                 "~/.clawgate/cron",
			MaxConcurrent:       5,
			ExecutionTimeoutSec: 300,
			MaxRetries:          3,
			BackoffMS:           60000,
		},
		Audit: AuditConfig{
			Archive:    "sqlite",
			SQLitePath: "~/.clawgate/audit.db",
		},
		Telemetry: TelemetryConfig{
			Protocol:    "http",
			ServiceName: "clawgate",
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars.
// A missing file is not an error: defaults + env apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			cfg.expandPaths()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	cfg.expandPaths()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envStr("CLAWGATE_GATEWAY_TOKEN", &c.Gateway.Token)
	envStr("CLAWGATE_SANDBOX_API_KEY", &c.Sandbox.APIKey)
	envStr("CLAWGATE_POSTGRES_DSN", &c.Database.PostgresDSN)
	envStr("CLAWGATE_TSNET_AUTH_KEY", &c.Tailscale.AuthKey)
	envStr("CLAWGATE_OTLP_ENDPOINT", &c.Telemetry.Endpoint)

	if c.Database.PostgresDSN != "" && c.Database.Mode == "" {
		c.Database.Mode = "managed"
	}
}

// expandPaths resolves "~/" prefixes in path-valued fields.
func (c *Config) expandPaths() {
	c.Cron.Dir = expandHome(c.Cron.Dir)
	c.Audit.SQLitePath = expandHome(c.Audit.SQLitePath)
	c.Tailscale.StateDir = expandHome(c.Tailscale.StateDir)
	c.Security.RulesFile = expandHome(c.Security.RulesFile)
}

func expandHome(p string) string {
	if !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, p[2:])
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	return expandHome("~/.clawgate/config.json5")
}
