package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/clawgate/internal/audit"
	"github.com/nextlevelbuilder/clawgate/internal/config"
	"github.com/nextlevelbuilder/clawgate/internal/store/pg"
	"github.com/nextlevelbuilder/clawgate/internal/store/sqlite"
)

func auditCmd() *cobra.Command {
	var (
		user  string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show archived audit entries for a user",
		Run: func(cmd *cobra.Command, args []string) {
			if err := runAudit(user, limit); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
		},
	}
	cmd.Flags().StringVarP(&user, "user", "u", "", "user id to show entries for (required)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "maximum entries to show")
	cmd.MarkFlagRequired("user")
	return cmd
}

func runAudit(user string, limit int) error {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Audit.Archive == "off" {
		return fmt.Errorf("audit archive is disabled in config")
	}

	ctx := context.Background()
	var entries []audit.Entry
	if cfg.IsManagedMode() || cfg.Audit.Archive == "postgres" {
		db, dbErr := pg.OpenDB(cfg.Database.PostgresDSN)
		if dbErr != nil {
			return fmt.Errorf("connect postgres: %w", dbErr)
		}
		defer db.Close()
		arch, archErr := pg.NewAuditArchive(db)
		if archErr != nil {
			return archErr
		}
		entries, err = arch.Recent(ctx, user, limit)
	} else {
		arch, archErr := sqlite.NewAuditArchive(cfg.Audit.SQLitePath)
		if archErr != nil {
			return archErr
		}
		defer arch.Close()
		entries, err = arch.Recent(ctx, user, limit)
	}
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Printf("No archived entries for %s\n", user)
		return nil
	}

	printAuditTable(entries)
	fmt.Printf("\n%d entries\n", len(entries))
	return nil
}

// printAuditTable renders entries as a fixed-width table. Commands and
// reasons are truncated with runewidth so multi-byte input keeps the
// columns aligned.
func printAuditTable(entries []audit.Entry) {
	const (
		timeW    = 19
		tierW    = 6
		actionW  = 6
		commandW = 40
		reasonW  = 36
	)
	header := fmt.Sprintf("%s  %s  %s  %s  %s",
		runewidth.FillRight("TIME", timeW),
		runewidth.FillRight("TIER", tierW),
		runewidth.FillRight("ACTION", actionW),
		runewidth.FillRight("COMMAND", commandW),
		"REASON",
	)
	fmt.Println(header)
	fmt.Println(strings.Repeat("-", timeW+tierW+actionW+commandW+reasonW+8))

	for _, e := range entries {
		fmt.Printf("%s  %s  %s  %s  %s\n",
			e.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			runewidth.FillRight(string(e.Tier), tierW),
			runewidth.FillRight(string(e.Action), actionW),
			runewidth.FillRight(runewidth.Truncate(cell(e.Command), commandW, "…"), commandW),
			runewidth.Truncate(cell(e.Reason), reasonW, "…"),
		)
	}
}

// cell collapses newlines so one entry stays on one table row.
func cell(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(s, "\n", " "), "\r", "")
}
