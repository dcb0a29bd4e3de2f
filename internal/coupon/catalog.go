package coupon

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"robux-shop/internal/model"
)

// mapCatalog implements Catalog using a map keyed by code.
type mapCatalog struct {
	coupons map[string]model.Coupon
}

// NewMapCatalog creates a new map-based coupon catalog.
func NewMapCatalog(capacity int) Catalog {
	return &mapCatalog{
		coupons: make(map[string]model.Coupon, capacity),
	}
}

// Lookup returns the definition for code.
func (c *mapCatalog) Lookup(code string) (*model.Coupon, bool) {
	coupon, ok := c.coupons[code]
	if !ok {
		return nil, false
	}
	return &coupon, true
}

// Coupons returns every definition, sorted by code.
func (c *mapCatalog) Coupons() []model.Coupon {
	coupons := make([]model.Coupon, 0, len(c.coupons))
	for _, coupon := range c.coupons {
		coupons = append(coupons, coupon)
	}
	sort.Slice(coupons, func(i, j int) bool {
		return coupons[i].Code < coupons[j].Code
	})
	return coupons
}

// Size returns the number of coupons in the catalog.
func (c *mapCatalog) Size() int {
	return len(c.coupons)
}

// Add stores a definition, replacing any earlier one with the same code.
func (c *mapCatalog) Add(coupon model.Coupon) {
	c.coupons[coupon.Code] = coupon
}

// merge folds catalogs into one; later catalogs win on duplicate codes.
func merge(catalogs ...Catalog) Catalog {
	size := 0
	for _, catalog := range catalogs {
		size += catalog.Size()
	}

	merged := NewMapCatalog(size).(*mapCatalog)
	for _, catalog := range catalogs {
		for _, coupon := range catalog.Coupons() {
			merged.Add(coupon)
		}
	}
	return merged
}

// ValidateDefinition checks a coupon definition read from a catalog.
func ValidateDefinition(c *model.Coupon) error {
	switch {
	case c.Code == "":
		return fmt.Errorf("%w: code is required", model.ErrInvalidCoupon)
	case c.Discount.IsNegative() || c.Discount.GreaterThanOrEqual(one):
		return fmt.Errorf("%w: %s: discount must be in [0, 1)", model.ErrInvalidCoupon, c.Code)
	case c.MaxUses != nil && *c.MaxUses < 0:
		return fmt.Errorf("%w: %s: max uses must not be negative", model.ErrInvalidCoupon, c.Code)
	case c.MinQuantity < 0:
		return fmt.Errorf("%w: %s: min quantity must not be negative", model.ErrInvalidCoupon, c.Code)
	case c.MaxQuantity != nil && *c.MaxQuantity < c.MinQuantity:
		return fmt.Errorf("%w: %s: max quantity is below min quantity", model.ErrInvalidCoupon, c.Code)
	}
	return nil
}

// readCatalog parses one JSON coupon definition per line. Blank lines and
// lines starting with '#' are skipped.
func readCatalog(ctx context.Context, r io.Reader) (*mapCatalog, error) {
	catalog := NewMapCatalog(64).(*mapCatalog)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++

		// Check context cancellation periodically
		if lineNo%10_000 == 1 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		var coupon model.Coupon
		if err := json.Unmarshal([]byte(line), &coupon); err != nil {
			return nil, fmt.Errorf("line %d: %w: %v", lineNo, model.ErrInvalidCoupon, err)
		}
		coupon.Code = strings.ToUpper(strings.TrimSpace(coupon.Code))
		coupon.Uses = 0

		if err := ValidateDefinition(&coupon); err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		catalog.Add(coupon)
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return catalog, nil
}
