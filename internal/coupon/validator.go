package coupon

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"robux-shop/internal/model"
	"robux-shop/internal/repository"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

var one = decimal.NewFromInt(1)

// Evaluate reports whether c may be redeemed for quantity units at now.
func Evaluate(c *model.Coupon, quantity int, now time.Time) error {
	if err := c.CheckRedeemable(now); err != nil {
		return err
	}
	if quantity < c.MinQuantity {
		return model.ErrCouponBelowMinimum
	}
	if c.MaxQuantity != nil && quantity > *c.MaxQuantity {
		return model.ErrCouponAboveMaximum
	}
	return nil
}

// Discounted returns base reduced by discount, rounded to money precision.
func Discounted(base, discount decimal.Decimal) decimal.Decimal {
	return base.Mul(one.Sub(discount)).Round(model.MoneyPlaces)
}

// NormaliseCode trims and upper-cases a coupon code as typed by a buyer.
func NormaliseCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// validator implements Validator against the coupon store.
type validator struct {
	coupons repository.CouponRepository
	logger  zerolog.Logger
	now     func() time.Time
}

// NewValidator creates a new coupon validator.
func NewValidator(coupons repository.CouponRepository, logger zerolog.Logger) Validator {
	return &validator{
		coupons: coupons,
		logger:  logger.With().Str("component", "coupon-validator").Logger(),
		now:     time.Now,
	}
}

// Apply checks the coupon and prices base with its discount.
func (v *validator) Apply(ctx context.Context, code string, quantity int, base decimal.Decimal) (*Application, error) {
	code = NormaliseCode(code)
	if code == "" {
		return nil, model.ErrCouponNotFound
	}

	coupon, err := v.coupons.GetByCode(ctx, code)
	if err != nil {
		if errors.Is(err, model.ErrCouponNotFound) {
			v.logger.Debug().Str("coupon_code", code).Msg("coupon not found")
			return nil, err
		}
		return nil, fmt.Errorf("failed to look up coupon: %w", err)
	}

	if err := Evaluate(coupon, quantity, v.now()); err != nil {
		v.logger.Debug().
			Str("coupon_code", code).
			Int("quantity", quantity).
			Err(err).
			Msg("coupon rejected")
		return nil, err
	}

	return &Application{
		Code:     coupon.Code,
		Discount: coupon.Discount,
		Total:    Discounted(base, coupon.Discount),
	}, nil
}
