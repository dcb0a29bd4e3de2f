package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"robux-shop/internal/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const couponColumns = `
	code, discount::text, max_uses, uses, min_quantity, max_quantity,
	active, valid_until, created_by, created_at`

// couponRepository implements the CouponRepository interface using PostgreSQL.
type couponRepository struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

// NewCouponRepository creates a new PostgreSQL-backed coupon repository.
func NewCouponRepository(pool *pgxpool.Pool, logger zerolog.Logger) CouponRepository {
	return &couponRepository{
		pool:   pool,
		logger: logger.With().Str("repository", "coupon").Logger(),
	}
}

// GetByCode retrieves a coupon by its code.
func (r *couponRepository) GetByCode(ctx context.Context, code string) (*model.Coupon, error) {
	code = strings.ToUpper(code)

	coupon, err := scanCoupon(r.pool.QueryRow(ctx, `SELECT `+couponColumns+` FROM coupons WHERE code = $1`, code))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			r.logger.Debug().Str("coupon_code", code).Msg("coupon not found")
			return nil, model.ErrCouponNotFound
		}
		r.logger.Error().Err(err).Str("coupon_code", code).Msg("failed to query coupon")
		return nil, fmt.Errorf("failed to query coupon: %w", err)
	}

	return coupon, nil
}

// Upsert inserts or replaces a coupon definition, keeping the usage count of
// an existing row. A lowered limit never drops below the uses already made.
func (r *couponRepository) Upsert(ctx context.Context, coupon *model.Coupon) error {
	query := `
		INSERT INTO coupons (
			code, discount, max_uses, uses, min_quantity, max_quantity,
			active, valid_until, created_by, created_at
		)
		VALUES ($1, $2::text::numeric, $3, 0, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (code) DO UPDATE SET
			discount     = EXCLUDED.discount,
			max_uses     = CASE WHEN EXCLUDED.max_uses IS NULL THEN NULL
			                    ELSE GREATEST(EXCLUDED.max_uses, coupons.uses) END,
			min_quantity = EXCLUDED.min_quantity,
			max_quantity = EXCLUDED.max_quantity,
			active       = EXCLUDED.active,
			valid_until  = EXCLUDED.valid_until,
			created_by   = EXCLUDED.created_by
	`

	_, err := r.pool.Exec(ctx, query,
		strings.ToUpper(coupon.Code), coupon.Discount.String(), coupon.MaxUses, coupon.MinQuantity, coupon.MaxQuantity,
		coupon.Active, coupon.ValidUntil, coupon.CreatedBy, coupon.CreatedAt,
	)
	if err != nil {
		r.logger.Error().Err(err).Str("coupon_code", coupon.Code).Msg("failed to upsert coupon")
		return fmt.Errorf("failed to upsert coupon: %w", err)
	}

	return nil
}

func scanCoupon(row pgx.Row) (*model.Coupon, error) {
	var (
		c        model.Coupon
		discount string
	)

	err := row.Scan(
		&c.Code, &discount, &c.MaxUses, &c.Uses, &c.MinQuantity, &c.MaxQuantity,
		&c.Active, &c.ValidUntil, &c.CreatedBy, &c.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if c.Discount, err = decimal.NewFromString(discount); err != nil {
		return nil, fmt.Errorf("invalid discount %q: %w", discount, err)
	}

	return &c, nil
}
