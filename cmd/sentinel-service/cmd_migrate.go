package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"sentinel-service/internal/db"
)

// newMigrateCmd creates the "sentinel-service migrate" subcommand.
func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			log := newLogger(cfg.Log)

			if !cfg.Database.Enabled {
				return fmt.Errorf("database is disabled in configuration")
			}

			gdb, err := db.Connect(cfg.Database.DSN(), log)
			if err != nil {
				return fmt.Errorf("database: %w", err)
			}
			if err := db.Migrate(gdb, log); err != nil {
				return fmt.Errorf("migrations: %w", err)
			}
			log.Info().Msg("migrations applied")
			return nil
		},
	}
}
