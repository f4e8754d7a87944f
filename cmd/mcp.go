package cmd

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/clawgate/internal/approval"
	"github.com/nextlevelbuilder/clawgate/internal/audit"
	"github.com/nextlevelbuilder/clawgate/internal/config"
	"github.com/nextlevelbuilder/clawgate/internal/hooks"
	"github.com/nextlevelbuilder/clawgate/internal/mcpserver"
	"github.com/nextlevelbuilder/clawgate/internal/orchestrator"
	"github.com/nextlevelbuilder/clawgate/internal/runner"
	"github.com/nextlevelbuilder/clawgate/internal/sandbox"
	"github.com/nextlevelbuilder/clawgate/internal/secrets"
	"github.com/nextlevelbuilder/clawgate/internal/security"
	"github.com/nextlevelbuilder/clawgate/internal/store/sqlite"
)

func mcpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the guarded shell tool over MCP on stdin/stdout",
		Run: func(cmd *cobra.Command, args []string) {
			runMCP()
		},
	}
}

// runMCP builds the same security pipeline the gateway uses and exposes
// it to a single MCP host over stdio. Logs go to stderr so they never
// corrupt the protocol stream.
func runMCP() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})))

	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	dataDir := os.Getenv("CLAWGATE_DATA_DIR")
	if dataDir == "" {
		home, _ := os.UserHomeDir()
		dataDir = filepath.Join(home, ".clawgate", "data")
	}
	os.MkdirAll(dataDir, 0o755)

	rules := security.NewRuleStore()
	if cfg.Security.RulesFile != "" {
		if err := rules.LoadFile(cfg.Security.RulesFile); err != nil {
			slog.Warn("custom rules load failed", "path", cfg.Security.RulesFile, "error", err)
		}
	}
	classifier := security.NewClassifier(security.DefaultPatternSet(), rules)

	scanner := secrets.NewScanner(secrets.NewConfigStore(secrets.DetectionConfig{
		Mode:              secrets.Mode(cfg.Secrets.Mode),
		EnableLineNumbers: cfg.Secrets.EnableLineNumbers,
		MaxSecretsPerType: cfg.Secrets.MaxSecretsPerType,
	}))

	auditLog := audit.NewLog()
	if cfg.Audit.Archive != "off" && cfg.Audit.SQLitePath != "" {
		if arch, archErr := sqlite.NewAuditArchive(cfg.Audit.SQLitePath); archErr == nil {
			defer arch.Close()
			auditLog.SetArchiver(arch)
		} else {
			slog.Warn("sqlite audit archive unavailable", "error", archErr)
		}
	}

	var limiter *security.RateLimiter
	if rl := cfg.Security.RateLimit; rl.Enabled {
		limiter = security.NewRateLimiter(rl.Window(), rl.MaxRequests, rl.PerChannel)
	}

	orch := orchestrator.New(orchestrator.Options{
		Classifier: classifier,
		Injection:  security.NewInjectionDetector(security.Sensitivity(cfg.Security.InjectionSensitivity)),
		Limiter:    limiter,
		Anomaly:    security.NewAnomalyDetector(),
		AuditLog:   auditLog,
		Scanner:    scanner,
	})
	pipeline := hooks.NewPipeline()
	orch.Register(pipeline)

	provider, err := sandbox.NewLocalProvider(filepath.Join(dataDir, "sandboxes"))
	if err != nil {
		slog.Error("sandbox provider init failed", "error", err)
		os.Exit(1)
	}
	sandboxes := sandbox.NewManager(provider, cfg.Sandbox.IdleTimeout(), cfg.Sandbox.ExecTimeout())
	defer sandboxes.TerminateAll(context.Background())

	srv := mcpserver.New(Version, mcpserver.Deps{
		Exec: &runner.GuardedExec{
			Pipeline:        pipeline,
			Approvals:       approval.NewWaiter(),
			Sandboxes:       sandboxes,
			Scanner:         scanner,
			ApprovalTimeout: cfg.Security.ApprovalTimeout(),
		},
		Classifier: classifier,
	})

	slog.Info("mcp server starting", "version", Version)
	if err := mcpserver.ServeStdio(srv); err != nil {
		slog.Error("mcp server error", "error", err)
		os.Exit(1)
	}
}
