// Command sentictl administers a sentimeter deployment: schema migrations,
// demo data, manual top-ups and ledger audits.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/sentimeter/backend/internal/config"
	"github.com/sentimeter/backend/internal/db"
)

var (
	headerColor = color.New(color.FgCyan, color.Bold)
	goodColor   = color.New(color.FgGreen)
	warnColor   = color.New(color.FgYellow)
	badColor    = color.New(color.FgRed)
)

var noColor bool

var rootCmd = &cobra.Command{
	Use:   "sentictl",
	Short: "Administer the sentimeter database",
	Long: `sentictl runs maintenance tasks against the sentimeter database.
Connection settings come from the same environment variables (or CONFIG_FILE)
as the api and worker processes.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if noColor {
			color.NoColor = true
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.AddCommand(migrateCmd, seedCmd, topupCmd, balanceCmd, auditCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		badColor.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// connect loads configuration and opens the application database.
func connect(ctx context.Context) (*config.Config, *pgxpool.Pool, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	pool, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to %s: %w", redact(cfg.DatabaseURL), err)
	}
	return cfg, pool, nil
}
