package coupon

import (
	"context"

	"robux-shop/internal/model"

	"github.com/shopspring/decimal"
)

// Application is the outcome of applying an eligible coupon to a price.
type Application struct {
	Code     string
	Discount decimal.Decimal
	Total    decimal.Decimal
}

// Validator defines the interface for coupon eligibility checks.
type Validator interface {
	// Apply checks whether code may be used for quantity units and returns
	// base with the coupon's discount applied. The coupon is not redeemed;
	// redemption happens when the order is stored.
	Apply(ctx context.Context, code string, quantity int, base decimal.Decimal) (*Application, error)
}

// Catalog represents a set of coupon definitions for fast lookup.
type Catalog interface {
	// Lookup returns the definition for an upper-cased code.
	Lookup(code string) (*model.Coupon, bool)

	// Coupons returns every definition, sorted by code.
	Coupons() []model.Coupon

	// Size returns the number of coupons in the catalog.
	Size() int
}

// Loader defines the interface for loading coupon catalogs.
type Loader interface {
	// Load reads a gzipped JSON-lines catalog and returns its definitions.
	Load(ctx context.Context, path string) (Catalog, error)
}
