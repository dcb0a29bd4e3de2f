package model

import (
	"github.com/shopspring/decimal"
)

// MoneyPlaces is the number of decimal places totals are rounded to.
const MoneyPlaces = 2

// ComputeTotal returns quantity x unitPrice x (1 - discount) rounded half away
// from zero to MoneyPlaces. It is evaluated once, when the order is created.
func ComputeTotal(quantity int, unitPrice, discount decimal.Decimal) decimal.Decimal {
	base := unitPrice.Mul(decimal.NewFromInt(int64(quantity)))
	return base.Mul(decimal.NewFromInt(1).Sub(discount)).Round(MoneyPlaces)
}

// DeliverablePrice is the catalog price needed for the buyer to net quantity
// after the platform keeps taxRate of every sale.
func DeliverablePrice(quantity int, taxRate decimal.Decimal) int {
	keep := decimal.NewFromInt(1).Sub(taxRate)
	if !keep.IsPositive() {
		return quantity
	}
	return int(decimal.NewFromInt(int64(quantity)).Div(keep).Floor().IntPart())
}

// Quote is a priced purchase that has not been committed.
type Quote struct {
	Quantity         int             `json:"quantity"`
	UnitPrice        decimal.Decimal `json:"unitPrice"`
	Base             decimal.Decimal `json:"base"`
	Discount         decimal.Decimal `json:"discount"`
	Total            decimal.Decimal `json:"total"`
	Currency         string          `json:"currency"`
	CouponCode       *string         `json:"couponCode,omitempty"`
	DeliverablePrice int             `json:"deliverablePrice"`
}
