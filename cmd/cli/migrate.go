package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openfathom/scanward/internal/db"
)

// migrateCmd represents the migrate command.
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage database schema migrations",
	Long: `Apply, inspect, or reset the database schema. The daemon applies
pending migrations automatically at startup; these commands are for
operating on the schema directly.`,
	Example: `  scanward migrate up
  scanward migrate status
  scanward migrate reset --yes`,
}

// migrateUpCmd represents the migrate up command.
var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	Run: func(_ *cobra.Command, _ []string) {
		runMigration(func(ctx context.Context, m *db.Migrator) error {
			return m.Up(ctx)
		})
	},
}

// migrateStatusCmd represents the migrate status command.
var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show which migrations have been applied",
	Run: func(_ *cobra.Command, _ []string) {
		runMigration(func(ctx context.Context, m *db.Migrator) error {
			return m.Status(ctx)
		})
	},
}

var migrateResetConfirmed bool

// migrateResetCmd represents the migrate reset command.
var migrateResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Drop all tables and reapply every migration",
	Long: `Drop the entire schema and reapply every migration from scratch.
All stored tasks, reports, and cached plugins are lost. Requires the
--yes flag to confirm.`,
	Run: func(_ *cobra.Command, _ []string) {
		if !migrateResetConfirmed {
			fmt.Println("Refusing to reset the database without --yes")
			return
		}
		runMigration(func(ctx context.Context, m *db.Migrator) error {
			return m.Reset(ctx)
		})
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateStatusCmd)
	migrateCmd.AddCommand(migrateResetCmd)

	migrateResetCmd.Flags().BoolVar(&migrateResetConfirmed, "yes", false, "Confirm the destructive reset")
}

// runMigration runs one migrator operation against a fresh connection.
func runMigration(operation func(context.Context, *db.Migrator) error) {
	withDatabaseOrExit(func(database *db.DB) error {
		migrator := db.NewMigrator(database.DB)
		return operation(context.Background(), migrator)
	})
}
