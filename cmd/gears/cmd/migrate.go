package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"

	"github.com/solatis/gears/internal/core/db"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	RunE:  runMigrate,
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show applied and pending migrations",
	RunE:  runMigrateStatus,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.AddCommand(migrateStatusCmd)
}

// connect opens the configured database without touching its schema.
func connect(cmd *cobra.Command) (*sqlx.DB, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("--db-url or database_url required")
	}
	database, err := db.Open(cmd.Context(), cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return database, nil
}

// openDatabase connects and brings the schema up to date. Story commands
// use it so a fresh sqlite file works without a separate migrate step.
func openDatabase(cmd *cobra.Command) (*db.Queries, func() error, error) {
	database, err := connect(cmd)
	if err != nil {
		return nil, nil, err
	}
	migrator, err := db.NewMigrator(database, nil)
	if err != nil {
		database.Close()
		return nil, nil, err
	}
	if _, err := migrator.Up(cmd.Context()); err != nil {
		database.Close()
		return nil, nil, fmt.Errorf("failed to migrate: %w", err)
	}
	queries, err := db.LoadQueries(database)
	if err != nil {
		database.Close()
		return nil, nil, fmt.Errorf("failed to load queries: %w", err)
	}
	return queries, database.Close, nil
}

func runMigrate(cmd *cobra.Command, args []string) error {
	database, err := connect(cmd)
	if err != nil {
		return err
	}
	defer database.Close()

	migrator, err := db.NewMigrator(database, nil)
	if err != nil {
		return err
	}
	applied, err := migrator.Up(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to migrate: %w", err)
	}
	if len(applied) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
		return nil
	}
	for _, id := range applied {
		fmt.Fprintf(cmd.OutOrStdout(), "applied %s\n", id)
	}
	return nil
}

func runMigrateStatus(cmd *cobra.Command, args []string) error {
	database, err := connect(cmd)
	if err != nil {
		return err
	}
	defer database.Close()

	migrator, err := db.NewMigrator(database, nil)
	if err != nil {
		return err
	}
	statuses, err := migrator.Status(cmd.Context())
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "MIGRATION\tSTATUS\tAPPLIED AT\tDURATION")
	for _, s := range statuses {
		if !s.Applied {
			fmt.Fprintf(w, "%s\tpending\t-\t-\n", s.ID)
			continue
		}
		appliedAt := "-"
		if s.AppliedAt != nil {
			appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
		}
		fmt.Fprintf(w, "%s\tapplied\t%s\t%dms\n", s.ID, appliedAt, s.ExecutionMs)
	}
	return w.Flush()
}
