package main

import (
	"context"
	"fmt"

	"robux-shop/internal/config"

	"github.com/spf13/cobra"
)

func couponsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "coupons",
		Short: "Manage coupon catalogs",
	}
	cmd.AddCommand(couponsImportCmd())
	return cmd
}

func couponsImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import [catalog...]",
		Short: "Import gzipped JSON-lines coupon catalogs into the store",
		Long: `Import gzipped JSON-lines coupon catalogs into the store.

Each catalog is read from S3 under S3_PREFIX when S3 is enabled and from the
local file system otherwise. Existing coupons keep their usage counts.
Without arguments the catalogs listed in COUPON_FILES are imported.

Examples:
  robux-shop coupons import data/coupons.jsonl.gz
  COUPON_FILES=a.jsonl.gz,b.jsonl.gz robux-shop coupons import`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			logger := config.NewLogger(cfg.Logger)

			paths := args
			if len(paths) == 0 {
				paths = cfg.Coupons.Files
			}
			if len(paths) == 0 {
				return fmt.Errorf("no coupon catalogs given and COUPON_FILES is empty")
			}
			if cfg.Database.Driver == "memory" {
				return fmt.Errorf("coupons import needs STORE_DRIVER=postgres")
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			st, err := openStores(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer st.Close()

			count, err := importCoupons(ctx, cfg, paths, st.coupons, logger)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d coupons from %d catalogs\n", count, len(paths))
			return nil
		},
	}
}
