package main

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/spf13/cobra"

	"github.com/txn2/medicaid-explorer/pkg/database/migrate"
)

func newMigrateCmd(global *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withDB(global, func(db *sql.DB) error {
					if err := migrate.Run(db); err != nil {
						return err //nolint:wrapcheck // migrate wraps its own errors
					}
					return printVersion(cmd, db)
				})
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back every migration",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withDB(global, func(db *sql.DB) error {
					if err := migrate.Down(db); err != nil {
						return err //nolint:wrapcheck // migrate wraps its own errors
					}
					fmt.Fprintln(cmd.OutOrStdout(), "all migrations rolled back")
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the current schema version",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withDB(global, func(db *sql.DB) error {
					return printVersion(cmd, db)
				})
			},
		},
	)
	return cmd
}

// withDB opens the configured database for the duration of fn.
func withDB(global *globalOptions, fn func(*sql.DB) error) error {
	cfg, err := global.loadConfig()
	if err != nil {
		return err
	}
	dsn, err := requireDSN(cfg)
	if err != nil {
		return err
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() { _ = db.Close() }()
	return fn(db)
}

func printVersion(cmd *cobra.Command, db *sql.DB) error {
	version, dirty, err := migrate.Version(db)
	if err != nil {
		return err //nolint:wrapcheck // migrate wraps its own errors
	}
	fmt.Fprintf(cmd.OutOrStdout(), "schema version %d (dirty: %t)\n", version, dirty)
	return nil
}
