package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/desertthunder/mixtape/internal/shared"
	"github.com/urfave/cli/v3"
)

// SetupDatabase writes a starter config when none exists, then initializes the database and
// runs migrations.
func (r *Runner) SetupDatabase(ctx context.Context, cmd *cli.Command) error {
	if r.configPath != "" {
		if _, err := os.Stat(r.configPath); os.IsNotExist(err) {
			r.logger.Info("config file not found, creating from template", "path", r.configPath)
			if err := shared.CreateConfigFile(r.configPath); err != nil {
				r.logger.Warn("failed to create config file, using defaults", "error", err)
			} else {
				r.writePlain("✓ Config written to %s\n", r.configPath)
			}
		}
	}

	r.logger.Info("initializing database", "path", r.config.Database.Path)
	if err := r.openDB(); err != nil {
		return err
	}

	r.logger.Info("running database migrations")
	if err := shared.RunMigrations(r.db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	r.logger.Infof("setup complete for database: %v", r.config.Database.Path)
	r.writePlain("✓ Database ready at %s\n", r.config.Database.Path)
	return nil
}

// SetupStatus lists migrations and whether each has been applied.
func (r *Runner) SetupStatus(ctx context.Context, cmd *cli.Command) error {
	if err := r.openDB(); err != nil {
		return err
	}
	states, err := shared.MigrationStatus(r.db)
	if err != nil {
		return err
	}

	r.writePlainHeader("Migrations: " + r.config.Database.Path)
	for _, s := range states {
		if s.Applied {
			r.writePlain("✓ %04d %s (%s)\n", s.Version, s.Name, s.AppliedAt.Local().Format(time.DateTime))
		} else {
			r.writePlain("· %04d %s (pending)\n", s.Version, s.Name)
		}
	}
	return nil
}

// SetupRollback rolls back the most recent migration.
func (r *Runner) SetupRollback(ctx context.Context, cmd *cli.Command) error {
	if err := r.openDB(); err != nil {
		return err
	}
	if err := shared.RollbackMigration(r.db); err != nil {
		return fmt.Errorf("failed to roll back: %w", err)
	}
	r.writePlain("✓ Rolled back the latest migration\n")
	return nil
}
