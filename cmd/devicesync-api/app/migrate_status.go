package app

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	"github.com/spf13/cobra"

	"github.com/bilal060/devicesync-server/database"
)

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current migration version",
	Long: `Show the schema version the database is currently at and whether it
is in a dirty state from an interrupted migration.`,
	RunE: runMigrateStatus,
}

func runMigrateStatus(cmd *cobra.Command, _ []string) error {
	_, connString, err := migrationConnectionString(cmd)
	if err != nil {
		return err
	}

	version, dirty, err := database.GetVersion(connString)
	if err != nil {
		if errors.Is(err, migrate.ErrNilVersion) {
			slog.Info("No migrations have been applied yet")
			return nil
		}
		return fmt.Errorf("failed to get migration version: %w", err)
	}

	if dirty {
		slog.Warn("Database is in a dirty state - manual intervention may be required", "version", version)
	} else {
		slog.Info("Database schema version", "version", version)
	}
	return nil
}
