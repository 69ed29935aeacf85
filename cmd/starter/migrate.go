package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/devkade/hackathon-starter/internal/adapter/postgres"
	"github.com/devkade/hackathon-starter/internal/config"
)

func newMigrateCmd() *cobra.Command {
	var down int

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Long:  "Applies all pending migrations, or rolls back the given number of steps with --down.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			cfg, err := config.LoadFrom(configPath)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if down > 0 {
				if err := postgres.RollbackMigrations(ctx, cfg.Postgres.DSN, down); err != nil {
					return fmt.Errorf("rollback: %w", err)
				}
			} else if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}

			version, err := postgres.MigrationVersion(ctx, cfg.Postgres.DSN)
			if err != nil {
				return fmt.Errorf("migration version: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema version %d\n", version)
			return nil
		},
	}

	cmd.Flags().IntVar(&down, "down", 0, "roll back this many migrations")
	return cmd
}
