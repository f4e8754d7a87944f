package cmd

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/clawgate/internal/config"
	"github.com/nextlevelbuilder/clawgate/internal/cron"
	"github.com/nextlevelbuilder/clawgate/internal/store/pg"
	"github.com/nextlevelbuilder/clawgate/internal/store/sqlite"
	"github.com/nextlevelbuilder/clawgate/pkg/protocol"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check system environment and configuration health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("clawgate doctor")
	fmt.Printf("  Version:  %s (protocol %d)\n", Version, protocol.ProtocolVersion)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	// Config
	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND — run: clawgate onboard)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}

	// Gateway
	fmt.Println()
	fmt.Println("  Gateway:")
	fmt.Printf("    %-14s %s:%d\n", "Listen:", cfg.Gateway.Host, cfg.Gateway.Port)
	if cfg.Gateway.Token != "" {
		fmt.Printf("    %-14s %s\n", "Auth token:", maskSecret(cfg.Gateway.Token))
	} else {
		fmt.Printf("    %-14s (not set — connections are unauthenticated)\n", "Auth token:")
	}
	if cfg.Gateway.RateLimitRPM > 0 {
		fmt.Printf("    %-14s %d rpm per connection\n", "RPC limit:", cfg.Gateway.RateLimitRPM)
	}

	// Security pipeline
	fmt.Println()
	fmt.Println("  Security:")
	rlStatus := "disabled"
	if cfg.Security.RateLimit.Enabled {
		rlStatus = fmt.Sprintf("%d per %s", cfg.Security.RateLimit.MaxRequests, cfg.Security.RateLimit.Window())
	}
	fmt.Printf("    %-14s %s\n", "Rate limit:", rlStatus)
	sensitivity := cfg.Security.InjectionSensitivity
	if sensitivity == "" {
		sensitivity = "medium"
	}
	fmt.Printf("    %-14s %s\n", "Injection:", sensitivity)
	fmt.Printf("    %-14s %s\n", "Approval wait:", cfg.Security.ApprovalTimeout())
	if cfg.Security.RulesFile != "" {
		fmt.Printf("    %-14s %s", "Custom rules:", cfg.Security.RulesFile)
		if _, err := os.Stat(cfg.Security.RulesFile); err != nil {
			fmt.Println(" (NOT FOUND)")
		} else {
			fmt.Println(" (OK)")
		}
	}
	secretsMode := cfg.Secrets.Mode
	if secretsMode == "" {
		secretsMode = "redact"
	}
	fmt.Printf("    %-14s %s\n", "Secrets mode:", secretsMode)

	// Audit archive
	fmt.Println()
	fmt.Println("  Audit archive:")
	switch {
	case cfg.Audit.Archive == "off":
		fmt.Printf("    %-14s off (in-memory ring only)\n", "Backend:")
	case cfg.IsManagedMode() || cfg.Audit.Archive == "postgres":
		fmt.Printf("    %-14s postgres\n", "Backend:")
		if cfg.Database.PostgresDSN == "" {
			fmt.Printf("    %-14s CLAWGATE_POSTGRES_DSN not set\n", "Status:")
		} else if db, dbErr := pg.OpenDB(cfg.Database.PostgresDSN); dbErr != nil {
			fmt.Printf("    %-14s CONNECT FAILED (%s)\n", "Status:", dbErr)
		} else {
			db.Close()
			fmt.Printf("    %-14s OK\n", "Status:")
		}
	default:
		fmt.Printf("    %-14s sqlite\n", "Backend:")
		fmt.Printf("    %-14s %s", "Path:", cfg.Audit.SQLitePath)
		if arch, archErr := sqlite.NewAuditArchive(cfg.Audit.SQLitePath); archErr != nil {
			fmt.Printf(" (OPEN FAILED: %s)\n", archErr)
		} else {
			arch.Close()
			fmt.Println(" (OK)")
		}
	}

	// Cron
	fmt.Println()
	fmt.Println("  Cron:")
	fmt.Printf("    %-14s %s", "Jobs dir:", cfg.Cron.Dir)
	if store, storeErr := cron.NewFileStore(cfg.Cron.Dir); storeErr != nil {
		fmt.Printf(" (OPEN FAILED: %s)\n", storeErr)
	} else {
		jobs := store.List()
		enabled := 0
		for _, j := range jobs {
			if j.Enabled {
				enabled++
			}
		}
		fmt.Printf(" (OK, %d jobs, %d enabled)\n", len(jobs), enabled)
	}

	// Sandboxes
	fmt.Println()
	dataDir := os.Getenv("CLAWGATE_DATA_DIR")
	if dataDir == "" {
		home, _ := os.UserHomeDir()
		dataDir = filepath.Join(home, ".clawgate", "data")
	}
	fmt.Printf("  Sandboxes: %s", filepath.Join(dataDir, "sandboxes"))
	if _, err := os.Stat(filepath.Join(dataDir, "sandboxes")); err != nil {
		fmt.Println(" (will be created on first run)")
	} else {
		fmt.Println(" (OK)")
	}

	// External tools
	fmt.Println()
	fmt.Println("  External Tools:")
	checkBinary("sh")
	checkBinary("git")
	checkBinary("docker")

	fmt.Println()
	fmt.Println("Doctor check complete.")
}

func maskSecret(s string) string {
	if len(s) <= 8 {
		return strings.Repeat("*", len(s))
	}
	return s[:4] + strings.Repeat("*", len(s)-8) + s[len(s)-4:]
}

func checkBinary(name string) {
	if path, err := exec.LookPath(name); err != nil {
		fmt.Printf("    %-12s (not found)\n", name+":")
	} else {
		fmt.Printf("    %-12s %s\n", name+":", path)
	}
}
