package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/nextlevelbuilder/clawgate/internal/approval"
	"github.com/nextlevelbuilder/clawgate/internal/audit"
	"github.com/nextlevelbuilder/clawgate/internal/config"
	"github.com/nextlevelbuilder/clawgate/internal/cron"
	"github.com/nextlevelbuilder/clawgate/internal/gateway"
	"github.com/nextlevelbuilder/clawgate/internal/hooks"
	"github.com/nextlevelbuilder/clawgate/internal/llm"
	"github.com/nextlevelbuilder/clawgate/internal/orchestrator"
	"github.com/nextlevelbuilder/clawgate/internal/runner"
	"github.com/nextlevelbuilder/clawgate/internal/sandbox"
	"github.com/nextlevelbuilder/clawgate/internal/secrets"
	"github.com/nextlevelbuilder/clawgate/internal/security"
	"github.com/nextlevelbuilder/clawgate/internal/store/pg"
	"github.com/nextlevelbuilder/clawgate/internal/store/sqlite"
	"github.com/nextlevelbuilder/clawgate/internal/tracing"
	"github.com/nextlevelbuilder/clawgate/pkg/protocol"
)

func runGateway() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Telemetry first so component startup is traced when enabled.
	shutdownTracing, err := tracing.Init(ctx, cfg.Telemetry)
	if err != nil {
		slog.Warn("telemetry init failed", "error", err)
	} else {
		defer shutdownTracing(context.Background())
	}

	dataDir := os.Getenv("CLAWGATE_DATA_DIR")
	if dataDir == "" {
		home, _ := os.UserHomeDir()
		dataDir = filepath.Join(home, ".clawgate", "data")
	}
	os.MkdirAll(dataDir, 0o755)

	// --- Security pipeline components ---

	rules := security.NewRuleStore()
	if cfg.Security.RulesFile != "" {
		if err := rules.LoadFile(cfg.Security.RulesFile); err != nil {
			slog.Warn("custom rules load failed", "path", cfg.Security.RulesFile, "error", err)
		}
		if err := rules.Watch(ctx, cfg.Security.RulesFile); err != nil {
			slog.Warn("custom rules watch failed", "path", cfg.Security.RulesFile, "error", err)
		} else {
			slog.Info("custom rules hot reload enabled", "path", cfg.Security.RulesFile)
		}
	}

	classifier := security.NewClassifier(security.DefaultPatternSet(), rules)
	injection := security.NewInjectionDetector(security.Sensitivity(cfg.Security.InjectionSensitivity))
	anomaly := security.NewAnomalyDetector()

	var limiter *security.RateLimiter
	if rl := cfg.Security.RateLimit; rl.Enabled {
		limiter = security.NewRateLimiter(rl.Window(), rl.MaxRequests, rl.PerChannel)
		slog.Info("command rate limiting enabled",
			"window", rl.Window(), "max_requests", rl.MaxRequests, "per_channel", rl.PerChannel)
	}

	scanner := secrets.NewScanner(secrets.NewConfigStore(secrets.DetectionConfig{
		Mode:              secrets.Mode(cfg.Secrets.Mode),
		EnableLineNumbers: cfg.Secrets.EnableLineNumbers,
		MaxSecretsPerType: cfg.Secrets.MaxSecretsPerType,
	}))

	// --- Audit log + durable archive ---

	auditLog := audit.NewLog()
	switch {
	case cfg.Audit.Archive == "off":
		slog.Info("audit archive disabled")
	case cfg.IsManagedMode() || cfg.Audit.Archive == "postgres":
		db, dbErr := pg.OpenDB(cfg.Database.PostgresDSN)
		if dbErr != nil {
			slog.Error("postgres connect failed", "error", dbErr)
			os.Exit(1)
		}
		arch, archErr := pg.NewAuditArchive(db)
		if archErr != nil {
			slog.Error("audit archive init failed", "error", archErr)
			os.Exit(1)
		}
		defer arch.Close()
		auditLog.SetArchiver(arch)
		slog.Info("audit archive enabled", "backend", "postgres")
	default:
		arch, archErr := sqlite.NewAuditArchive(cfg.Audit.SQLitePath)
		if archErr != nil {
			slog.Warn("sqlite audit archive unavailable", "path", cfg.Audit.SQLitePath, "error", archErr)
		} else {
			defer arch.Close()
			auditLog.SetArchiver(arch)
			slog.Info("audit archive enabled", "backend", "sqlite", "path", cfg.Audit.SQLitePath)
		}
	}

	// --- Approvals ---

	approvals := approval.NewWaiter()
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := approvals.CleanupExpired(); n > 0 {
					slog.Debug("expired approvals cleaned", "count", n)
				}
			}
		}
	}()

	// --- Sandboxes ---

	provider, err := sandbox.NewLocalProvider(filepath.Join(dataDir, "sandboxes"))
	if err != nil {
		slog.Error("sandbox provider init failed", "error", err)
		os.Exit(1)
	}
	sandboxes := sandbox.NewManager(provider, cfg.Sandbox.IdleTimeout(), cfg.Sandbox.ExecTimeout())

	// --- Orchestrator + hook pipeline ---

	orch := orchestrator.New(orchestrator.Options{
		Classifier: classifier,
		Injection:  injection,
		Limiter:    limiter,
		Anomaly:    anomaly,
		AuditLog:   auditLog,
		Scanner:    scanner,
	})
	pipeline := hooks.NewPipeline()
	orch.Register(pipeline)

	guarded := &runner.GuardedExec{
		Pipeline:        pipeline,
		Approvals:       approvals,
		Sandboxes:       sandboxes,
		Scanner:         scanner,
		ApprovalTimeout: cfg.Security.ApprovalTimeout(),
	}

	// --- Cron ---

	cronStore, err := cron.NewFileStore(cfg.Cron.Dir)
	if err != nil {
		slog.Error("cron store init failed", "dir", cfg.Cron.Dir, "error", err)
		os.Exit(1)
	}
	cronSched := cron.NewScheduler(cronStore, cron.SchedulerOptions{
		MaxConcurrent:    cfg.Cron.MaxConcurrent,
		ExecutionTimeout: cfg.Cron.ExecutionTimeout(),
		MaxRetries:       cfg.Cron.MaxRetries,
		Backoff:          cfg.Cron.Backoff(),
		// "agent:" jobs run through the full security pipeline under the
		// job owner's identity.
		AgentRunner: func(ctx context.Context, job cron.Job, command string) (string, error) {
			return guarded.Run(ctx, hooks.CallContext{UserID: job.UserID}, command)
		},
	})
	defer cronSched.Stop()

	// --- Gateway server ---

	var classifyWithLLM func(context.Context, string) (security.Classification, error)
	if key := os.Getenv("CLAWGATE_ANTHROPIC_API_KEY"); key != "" {
		classifyWithLLM = llm.NewClassifier(key).Classify
		slog.Info("llm classification enabled")
	}

	server := gateway.NewServer(cfg, &gateway.Components{
		Classifier: classifier,
		Injection:  injection,
		Limiter:    limiter,
		Anomaly:    anomaly,
		Scanner:    scanner,
		AuditLog:   auditLog,
		Approvals:  approvals,
		Sandboxes:  sandboxes,
		CronStore:  cronStore,
		CronSched:  cronSched,
		Exec:       guarded,

		ClassifyWithLLM: classifyWithLLM,
	})

	// Periodic liveness event so dashboards can show gateway health
	// without polling the status method.
	go func() {
		started := time.Now()
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				server.BroadcastEvent(*protocol.NewEvent(protocol.EventHealth, map[string]any{
					"status": "ok", "uptime_sec": int(time.Since(started).Seconds()),
				}))
			}
		}
	}()

	// Push component notifications to connected clients.
	sink := server.EventSink()
	orch.OnEvent(sink)
	approvals.OnEvent(sink)
	cronSched.OnEvent(sink)
	sandboxes.OnEvent(func(event, userID, sandboxID string) {
		sink(event, map[string]any{"user_id": userID, "sandbox_id": sandboxID})
	})

	cronSched.Start()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("graceful shutdown initiated", "signal", sig)
		server.BroadcastEvent(*protocol.NewEvent(protocol.EventShutdown, nil))

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		sandboxes.TerminateAll(shutdownCtx)
		cancel()
	}()

	mode := "standalone"
	if cfg.IsManagedMode() {
		mode = "managed"
	}
	slog.Info("clawgate gateway starting",
		"version", Version,
		"protocol", protocol.ProtocolVersion,
		"mode", mode,
		"rate_limit", cfg.Security.RateLimit.Enabled,
		"secrets_mode", cfg.Secrets.Mode,
		"cron_jobs", len(cronStore.List()),
	)

	// Tailscale listener: build the mux first, then pass it to initTailscale
	// so the same routes are served on both the main listener and Tailscale.
	// Compiled via build tags: `go build -tags tsnet` to enable.
	mux := server.BuildMux()
	tsCleanup := initTailscale(ctx, cfg, mux)
	if tsCleanup != nil {
		defer tsCleanup()
	}

	if err := server.Start(ctx); err != nil {
		slog.Error("gateway error", "error", err)
		os.Exit(1)
	}
}
