package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"fieldops/common/database"
	"fieldops/db/migrations"
	"fieldops/internal/config"
	"fieldops/internal/repository"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "fieldops-migrate",
	Short: "Apply fieldops database migrations",
	Long: `Apply the SQL migrations embedded in this binary.

Connection settings come from the same configuration as fieldops-api
(DB_HOST, DB_PORT, DB_USER, DB_PASSWORD, DB_NAME, DB_SSLMODE or FIELDOPS_CONFIG).

Examples:
  fieldops-migrate up        # apply pending migrations
  fieldops-migrate status    # list migrations and whether they ran`,
	SilenceUsage: true,
}

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	RunE:  runUp,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show applied and pending migrations",
	RunE:  runStatus,
}

var timeout time.Duration

func init() {
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 5*time.Minute, "overall timeout")
	rootCmd.AddCommand(upCmd)
	rootCmd.AddCommand(statusCmd)
}

func newMigrator() (*repository.Migrator, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	db, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	return repository.NewMigrator(db, migrations.Files), func() { _ = db.Close() }, nil
}

func runUp(cmd *cobra.Command, args []string) error {
	m, closeDB, err := newMigrator()
	if err != nil {
		return err
	}
	defer closeDB()

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	ran, err := m.Up(ctx)
	for _, v := range ran {
		fmt.Fprintf(cmd.OutOrStdout(), "applied %s\n", v)
	}
	if err != nil {
		return err
	}
	if len(ran) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "database is up to date")
	}
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	m, closeDB, err := newMigrator()
	if err != nil {
		return err
	}
	defer closeDB()

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	status, err := m.Status(ctx)
	if err != nil {
		return err
	}
	for _, st := range status {
		if st.Applied {
			fmt.Fprintf(cmd.OutOrStdout(), "%-40s applied %s\n", st.Version, st.AppliedAt.Format(time.RFC3339))
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "%-40s pending\n", st.Version)
		}
	}
	return nil
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
