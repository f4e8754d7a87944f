package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/clawgate/internal/config"
	"github.com/nextlevelbuilder/clawgate/pkg/protocol"
)

// Version is set at build time via -ldflags "-X github.com/nextlevelbuilder/clawgate/cmd.Version=v1.0.0"
var Version = "dev"

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "clawgate",
	Short: "ClawGate — shell command security gateway",
	Long:  "ClawGate: multi-tenant security gateway for shell command execution. Classifies, rate-limits and audits commands, scrubs secrets from output, and runs approved commands in per-user sandboxes.",
	Run: func(cmd *cobra.Command, args []string) {
		runGateway()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.clawgate/config.json5 or $CLAWGATE_CONFIG)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(gatewayCmd())
	rootCmd.AddCommand(onboardCmd())
	rootCmd.AddCommand(auditCmd())
	rootCmd.AddCommand(doctorCmd())
	rootCmd.AddCommand(mcpCmd())
	rootCmd.AddCommand(versionCmd())
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("clawgate %s (protocol %d)\n", Version, protocol.ProtocolVersion)
		},
	}
}

func gatewayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gateway",
		Short: "Start the gateway server",
		Run: func(cmd *cobra.Command, args []string) {
			runGateway()
		},
	}
}

func resolveConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if v := os.Getenv("CLAWGATE_CONFIG"); v != "" {
		return v
	}
	if _, err := os.Stat("config.json5"); err == nil {
		return "config.json5"
	}
	return config.DefaultPath()
}

// Execute runs the root cobra command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
