package main

import (
	"context"
	"fmt"

	"robux-shop/internal/config"
	"robux-shop/internal/database"

	"github.com/spf13/cobra"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the PostgreSQL schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			logger := config.NewLogger(cfg.Logger)

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			pool, err := database.NewPool(ctx, cfg.Database, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize database: %w", err)
			}
			defer pool.Close()

			return database.Migrate(ctx, pool, logger)
		},
	}
}
