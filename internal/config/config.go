package config

import (
	"time"
)

// Config is the root configuration for the ClawGate gateway.
type Config struct {
	Gateway   GatewayConfig   `json:"gateway"`
	Security  SecurityConfig  `json:"security"`
	Secrets   SecretsConfig   `json:"secrets"`
	Sandbox   SandboxConfig   `json:"sandbox"`
	Cron      CronConfig      `json:"cron"`
	Audit     AuditConfig     `json:"audit"`
	Database  DatabaseConfig  `json:"database,omitempty"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`
	Tailscale TailscaleConfig `json:"tailscale,omitempty"`
}

// GatewayConfig configures the WebSocket/HTTP listener.
type GatewayConfig struct {
	Host           string   `json:"host"`
	Port           int      `json:"port"`
	Token          string   `json:"-"` // from env CLAWGATE_GATEWAY_TOKEN only
	AllowedOrigins []string `json:"allowed_origins,omitempty"`

	// RateLimitRPM > 0 enables the per-connection RPC limiter at that RPM.
	// 0 or negative disables it.
	RateLimitRPM int `json:"rate_limit_rpm,omitempty"`
}

// SecurityConfig configures the command security pipeline.
type SecurityConfig struct {
	RateLimit SecurityRateLimit `json:"rate_limit"`

	// ApprovalTimeoutSec is the default approval wait (default 300).
	ApprovalTimeoutSec int `json:"approval_timeout_sec,omitempty"`

	// InjectionSensitivity is "low", "medium" (default) or "high".
	InjectionSensitivity string `json:"injection_sensitivity,omitempty"`

	// RulesFile is an optional JSON file with per-caller custom rules.
	// Watched for changes and hot-reloaded.
	RulesFile string `json:"rules_file,omitempty"`
}

// SecurityRateLimit configures the per-user command rate limiter.
type SecurityRateLimit struct {
	Enabled     bool `json:"enabled"`
	WindowMS    int  `json:"window_ms,omitempty"`    // default 60000
	MaxRequests int  `json:"max_requests,omitempty"` // default 30
	PerChannel  bool `json:"per_channel,omitempty"`  // bucket key user:channel
}

// SecretsConfig configures output secret detection.
type SecretsConfig struct {
	Mode              string `json:"mode,omitempty"` // "warn", "redact" (default), "block"
	EnableLineNumbers bool   `json:"enable_line_numbers,omitempty"`
	MaxSecretsPerType int    `json:"max_secrets_per_type,omitempty"` // default 10
}

// SandboxConfig configures per-user execution sandboxes.
type SandboxConfig struct {
	// IdleTimeoutMinutes before an active sandbox hibernates (default 50).
	IdleTimeoutMinutes int `json:"idle_timeout_minutes,omitempty"`

	// ExecTimeoutSec per command (default 30).
	ExecTimeoutSec int `json:"exec_timeout_sec,omitempty"`

	// APIKey for the sandbox provider. From env CLAWGATE_SANDBOX_API_KEY only.
	APIKey string `json:"-"`
}

// CronConfig configures the cron scheduler.
type CronConfig struct {
	// Dir is the root for persisted jobs (jobs live under Dir/jobs/{id}.json).
	Dir string `json:"dir,omitempty"`

	MaxConcurrent       int `json:"max_concurrent,omitempty"`        // default 5
	ExecutionTimeoutSec int `json:"execution_timeout_sec,omitempty"` // default 300
	MaxRetries          int `json:"max_retries,omitempty"`           // default 3
	BackoffMS           int `json:"backoff_ms,omitempty"`            // default 60000
}

// AuditConfig configures audit retention.
type AuditConfig struct {
	// Archive is "sqlite" (default), "postgres" (managed mode) or "off".
	Archive string `json:"archive,omitempty"`

	// SQLitePath is the archive database file (default ~/.clawgate/audit.db).
	SQLitePath string `json:"sqlite_path,omitempty"`
}

// DatabaseConfig configures Postgres for managed mode.
// PostgresDSN is NEVER read from the config file (secret) — env only.
type DatabaseConfig struct {
	PostgresDSN string `json:"-"`              // from env CLAWGATE_POSTGRES_DSN only
	Mode        string `json:"mode,omitempty"` // "standalone" (default) or "managed"
}

// IsManagedMode returns true when running multi-tenant against Postgres.
func (c *Config) IsManagedMode() bool {
	return c.Database.Mode == "managed" && c.Database.PostgresDSN != ""
}

// TelemetryConfig configures OTLP trace export.
type TelemetryConfig struct {
	Enabled     bool   `json:"enabled,omitempty"`
	Endpoint    string `json:"endpoint,omitempty"`     // host:port of the OTLP collector
	Protocol    string `json:"protocol,omitempty"`     // "http" (default) or "grpc"
	ServiceName string `json:"service_name,omitempty"` // default "clawgate"
}

// TailscaleConfig configures the optional tsnet listener.
// Requires building with -tags tsnet. Auth key from env only (never persisted).
type TailscaleConfig struct {
	Hostname  string `json:"hostname,omitempty"`
	StateDir  string `json:"state_dir,omitempty"`
	AuthKey   string `json:"-"` // from env CLAWGATE_TSNET_AUTH_KEY only
	Ephemeral bool   `json:"ephemeral,omitempty"`
	EnableTLS bool   `json:"enable_tls,omitempty"`
}

// ApprovalTimeout returns the configured approval wait as a duration.
func (s *SecurityConfig) ApprovalTimeout() time.Duration {
	if s.ApprovalTimeoutSec <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(s.ApprovalTimeoutSec) * time.Second
}

// IdleTimeout returns the sandbox idle window as a duration.
func (s *SandboxConfig) IdleTimeout() time.Duration {
	if s.IdleTimeoutMinutes <= 0 {
		return 50 * time.Minute
	}
	return time.Duration(s.IdleTimeoutMinutes) * time.Minute
}

// ExecTimeout returns the per-command sandbox timeout.
func (s *SandboxConfig) ExecTimeout() time.Duration {
	if s.ExecTimeoutSec <= 0 {
		return 30 * time.Second
	}
	return time.Duration(s.ExecTimeoutSec) * time.Second
}

// ExecutionTimeout returns the overall cron run timeout.
func (c *CronConfig) ExecutionTimeout() time.Duration {
	if c.ExecutionTimeoutSec <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.ExecutionTimeoutSec) * time.Second
}

// Backoff returns the linear retry backoff unit.
func (c *CronConfig) Backoff() time.Duration {
	if c.BackoffMS <= 0 {
		return time.Minute
	}
	return time.Duration(c.BackoffMS) * time.Millisecond
}

// Window returns the rate limit window as a duration.
func (r *SecurityRateLimit) Window() time.Duration {
	if r.WindowMS <= 0 {
		return time.Minute
	}
	return time.Duration(r.WindowMS) * time.Millisecond
}
