package repository

import (
	"context"

	"robux-shop/internal/model"

	"github.com/google/uuid"
)

// TransitionRequest describes one compare-and-swap update of an order.
type TransitionRequest struct {
	OrderID  uuid.UUID
	Expected model.OrderState
	Next     model.OrderState

	// Mutate may change the order's mutable fields. It runs on a copy while
	// the order is locked, so it must not block.
	Mutate func(*model.Order)

	Actor  string
	Reason *string
}

// OrderRepository defines the interface for order data access operations.
type OrderRepository interface {
	// Create inserts a new order. When the order carries a coupon code, the
	// coupon's usage count is incremented in the same transaction; the
	// insert fails with a coupon error if the coupon can no longer be redeemed.
	Create(ctx context.Context, order *model.Order) error

	// GetByID retrieves an order by its ID. Returns model.ErrOrderNotFound
	// if no such order exists.
	GetByID(ctx context.Context, id uuid.UUID) (*model.Order, error)

	// Transition applies req if the order is still in req.Expected and
	// returns the updated order. A state mismatch yields *model.ConflictError.
	Transition(ctx context.Context, req TransitionRequest) (*model.Order, error)

	// ListByBuyer returns a buyer's orders, newest first.
	ListByBuyer(ctx context.Context, buyerID string) ([]model.Order, error)

	// ListByState returns every order currently in state, oldest first.
	ListByState(ctx context.Context, state model.OrderState) ([]model.Order, error)

	// History returns the audited transitions of an order in the order they happened.
	History(ctx context.Context, id uuid.UUID) ([]model.Transition, error)
}

// CouponRepository defines the interface for coupon data access operations.
type CouponRepository interface {
	// GetByCode retrieves a coupon by its upper-cased code. Returns
	// model.ErrCouponNotFound if no such coupon exists.
	GetByCode(ctx context.Context, code string) (*model.Coupon, error)

	// Upsert inserts or replaces a coupon definition. The usage count of an
	// existing coupon is preserved.
	Upsert(ctx context.Context, coupon *model.Coupon) error
}
