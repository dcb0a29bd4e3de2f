package main

import (
	"context"
	"fmt"

	"robux-shop/internal/config"
	"robux-shop/internal/coupon"
	"robux-shop/internal/database"
	"robux-shop/internal/repository"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// stores bundles the repositories selected by STORE_DRIVER.
type stores struct {
	orders  repository.OrderRepository
	coupons repository.CouponRepository
	pool    *pgxpool.Pool
}

func (s *stores) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// openStores connects to the configured store and applies the schema.
func openStores(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*stores, error) {
	if cfg.Database.Driver == "memory" {
		logger.Warn().Msg("using in-memory store, orders are lost on restart")
		mem := repository.NewMemoryStore(logger)
		return &stores{orders: mem, coupons: mem}, nil
	}

	pool, err := database.NewPool(ctx, cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	if err := database.Migrate(ctx, pool, logger); err != nil {
		pool.Close()
		return nil, err
	}

	return &stores{
		orders:  repository.NewOrderRepository(pool, logger),
		coupons: repository.NewCouponRepository(pool, logger),
		pool:    pool,
	}, nil
}

// couponLoader builds the catalog loader, preferring S3 when enabled.
func couponLoader(ctx context.Context, cfg *config.Config, logger zerolog.Logger) coupon.Loader {
	fileLoader := coupon.NewFileLoader(logger)
	if !cfg.S3.Enabled {
		logger.Info().Msg("using local file system for coupon catalogs (S3 disabled)")
		return fileLoader
	}

	s3Loader, err := coupon.NewS3Loader(ctx, cfg.S3.Bucket, cfg.S3.Region, logger)
	if err != nil {
		logger.Warn().
			Err(err).
			Msg("failed to initialise S3 loader, falling back to local file system only")
		return fileLoader
	}
	return coupon.NewFallbackLoader(s3Loader, fileLoader, cfg.S3.Prefix, true, logger)
}

// importCoupons upserts every configured catalog into the coupon store.
func importCoupons(ctx context.Context, cfg *config.Config, paths []string, coupons repository.CouponRepository, logger zerolog.Logger) (int, error) {
	if len(paths) == 0 {
		return 0, nil
	}
	importer := coupon.NewImporter(couponLoader(ctx, cfg, logger), coupons, logger)
	return importer.Import(ctx, paths)
}
