package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Coupon is a discount code with a bounded number of redemptions.
type Coupon struct {
	Code        string          `json:"code"`
	Discount    decimal.Decimal `json:"discount"`
	MaxUses     *int            `json:"maxUses,omitempty"`
	Uses        int             `json:"uses"`
	MinQuantity int             `json:"minQuantity"`
	MaxQuantity *int            `json:"maxQuantity,omitempty"`
	Active      bool            `json:"active"`
	ValidUntil  *time.Time      `json:"validUntil,omitempty"`
	CreatedBy   string          `json:"createdBy"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// Exhausted reports whether every redemption has been used.
func (c *Coupon) Exhausted() bool {
	return c.MaxUses != nil && c.Uses >= *c.MaxUses
}

// ExpiredAt reports whether the coupon is past its expiry at now.
func (c *Coupon) ExpiredAt(now time.Time) bool {
	return c.ValidUntil != nil && !now.Before(*c.ValidUntil)
}

// CheckRedeemable returns the reason the coupon cannot take one more
// redemption at now, or nil.
func (c *Coupon) CheckRedeemable(now time.Time) error {
	switch {
	case !c.Active:
		return ErrCouponInactive
	case c.ExpiredAt(now):
		return ErrCouponExpired
	case c.Exhausted():
		return ErrCouponUsageLimitReached
	}
	return nil
}
