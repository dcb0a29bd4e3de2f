package coupon

import (
	"context"
	"fmt"
	"time"

	"robux-shop/internal/repository"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// LoadCatalogs loads every path concurrently and merges the results in path
// order, so a later catalog overrides an earlier one on the same code.
func LoadCatalogs(ctx context.Context, loader Loader, paths []string) (Catalog, error) {
	catalogs := make([]Catalog, len(paths))

	g, gctx := errgroup.WithContext(ctx)
	for i, path := range paths {
		g.Go(func() error {
			catalog, err := loader.Load(gctx, path)
			if err != nil {
				return fmt.Errorf("failed to load coupon catalog %s: %w", path, err)
			}
			catalogs[i] = catalog
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return merge(catalogs...), nil
}

// Importer upserts catalog definitions into the coupon store.
type Importer struct {
	loader  Loader
	coupons repository.CouponRepository
	logger  zerolog.Logger
}

// NewImporter creates a new coupon catalog importer.
func NewImporter(loader Loader, coupons repository.CouponRepository, logger zerolog.Logger) *Importer {
	return &Importer{
		loader:  loader,
		coupons: coupons,
		logger:  logger.With().Str("component", "coupon-importer").Logger(),
	}
}

// Import loads paths and upserts every definition. Usage counts of coupons
// already in the store are kept. It returns the number of coupons written.
func (i *Importer) Import(ctx context.Context, paths []string) (int, error) {
	catalog, err := LoadCatalogs(ctx, i.loader, paths)
	if err != nil {
		i.logger.Error().Err(err).Msg("failed to load coupon catalogs")
		return 0, err
	}

	now := time.Now().UTC()
	written := 0
	for _, c := range catalog.Coupons() {
		if c.CreatedAt.IsZero() {
			c.CreatedAt = now
		}
		if err := i.coupons.Upsert(ctx, &c); err != nil {
			return written, fmt.Errorf("failed to import coupon %s: %w", c.Code, err)
		}
		written++
	}

	i.logger.Info().
		Int("file_count", len(paths)).
		Int("coupons_imported", written).
		Msg("coupon catalogs imported")

	return written, nil
}
