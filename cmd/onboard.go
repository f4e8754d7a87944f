package cmd

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/clawgate/internal/config"
)

func onboardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "onboard",
		Short: "Interactive first-time setup, writes the config file",
		Run: func(cmd *cobra.Command, args []string) {
			if err := runOnboard(); err != nil {
				fmt.Fprintf(os.Stderr, "Onboard failed: %v\n", err)
				os.Exit(1)
			}
		},
	}
}

func runOnboard() error {
	cfgPath := resolveConfigPath()
	if _, err := os.Stat(cfgPath); err == nil {
		var overwrite bool
		confirm := huh.NewConfirm().
			Title(fmt.Sprintf("Config already exists at %s. Overwrite?", cfgPath)).
			Value(&overwrite)
		if err := huh.NewForm(huh.NewGroup(confirm)).Run(); err != nil {
			return err
		}
		if !overwrite {
			fmt.Println("Keeping existing config.")
			return nil
		}
	}

	cfg := config.Default()

	host := cfg.Gateway.Host
	port := strconv.Itoa(cfg.Gateway.Port)
	secretsMode := "redact"
	approvalTimeout := "300"
	rateLimit := true
	auditArchive := "sqlite"

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Gateway host").
				Description("Interface the WebSocket listener binds to").
				Value(&host),
			huh.NewInput().
				Title("Gateway port").
				Validate(func(s string) error {
					n, err := strconv.Atoi(s)
					if err != nil || n < 1 || n > 65535 {
						return fmt.Errorf("port must be 1-65535")
					}
					return nil
				}).
				Value(&port),
		),
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Secrets in command output").
				Options(
					huh.NewOption("Redact (replace with [REDACTED])", "redact"),
					huh.NewOption("Block (suppress the whole output)", "block"),
					huh.NewOption("Warn (log only, pass through)", "warn"),
				).
				Value(&secretsMode),
			huh.NewInput().
				Title("Approval timeout (seconds)").
				Description("How long a risky command waits for a human decision").
				Validate(func(s string) error {
					n, err := strconv.Atoi(s)
					if err != nil || n < 1 {
						return fmt.Errorf("must be a positive number of seconds")
					}
					return nil
				}).
				Value(&approvalTimeout),
			huh.NewConfirm().
				Title("Enable per-user rate limiting?").
				Value(&rateLimit),
			huh.NewSelect[string]().
				Title("Audit archive").
				Options(
					huh.NewOption("SQLite (local file)", "sqlite"),
					huh.NewOption("Postgres (managed mode)", "postgres"),
					huh.NewOption("Off (in-memory ring only)", "off"),
				).
				Value(&auditArchive),
		),
	)
	if err := form.Run(); err != nil {
		return err
	}

	cfg.Gateway.Host = host
	cfg.Gateway.Port, _ = strconv.Atoi(port)
	cfg.Secrets.Mode = secretsMode
	cfg.Security.ApprovalTimeoutSec, _ = strconv.Atoi(approvalTimeout)
	cfg.Security.RateLimit.Enabled = rateLimit
	cfg.Audit.Archive = auditArchive

	if err := saveConfig(cfgPath, cfg); err != nil {
		return err
	}
	fmt.Printf("\nConfig saved to %s\n", cfgPath)

	// The gateway token is never persisted. Generate one and tell the user
	// how to provide it.
	if os.Getenv("CLAWGATE_GATEWAY_TOKEN") == "" {
		token := onboardGenerateToken(16)
		fmt.Println("\nGenerated a gateway token. Export it before starting:")
		fmt.Printf("  export CLAWGATE_GATEWAY_TOKEN=%s\n", token)
	}
	if auditArchive == "postgres" {
		fmt.Println("\nPostgres archive selected. Set the connection string via:")
		fmt.Println("  export CLAWGATE_POSTGRES_DSN=postgres://...")
	}
	fmt.Println("\nStart the gateway with: clawgate gateway")
	return nil
}

func saveConfig(path string, cfg *config.Config) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
	}
	b, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.WriteFile(path, append(b, '\n'), 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func onboardGenerateToken(nBytes int) string {
	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b)
}
