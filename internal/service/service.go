package service

import (
	"context"

	"robux-shop/internal/model"

	"github.com/google/uuid"
)

// OrderService is the order lifecycle engine. Every state change of an order
// goes through it.
type OrderService interface {
	// CreateOrder prices and stores a new order, redeems its coupon and
	// requests a payment for it. When the gateway is unavailable the stored
	// order is returned in CREATED together with model.ErrGatewayUnavailable
	// so the caller can retry with RetryPayment.
	CreateOrder(ctx context.Context, req *model.OrderRequest) (*model.Order, error)

	// Quote prices a purchase without storing anything or redeeming the coupon.
	Quote(ctx context.Context, quantity int, couponCode string) (*model.Quote, error)

	// GetOrder retrieves an order by its ID.
	GetOrder(ctx context.Context, id uuid.UUID) (*model.Order, error)

	// ListOrders returns a buyer's orders, newest first.
	ListOrders(ctx context.Context, buyerID string) ([]model.Order, error)

	// History returns the audited transitions of an order, oldest first.
	History(ctx context.Context, id uuid.UUID) ([]model.Transition, error)

	// RetryPayment re-issues the payment request for an order left in CREATED.
	RetryPayment(ctx context.Context, id uuid.UUID) (*model.Order, error)

	// CheckPayment reads the payment status once and applies it the same way
	// the background poll does.
	CheckPayment(ctx context.Context, id uuid.UUID) (*model.Order, error)

	// CancelOrder aborts an unpaid order on behalf of its buyer.
	CancelOrder(ctx context.Context, id uuid.UUID, buyerID string) (*model.Order, error)

	// ConfirmDelivery marks a paid order as delivered. Repeated calls return
	// the delivered order and emit no further events.
	ConfirmDelivery(ctx context.Context, id uuid.UUID, actor string) (*model.Order, error)

	// Refund returns the payment of a paid order. A transient gateway failure
	// leaves the order in REFUND_REQUESTED and a repeated call resumes it.
	Refund(ctx context.Context, id uuid.UUID, adminID, reason string) (*model.Order, error)

	// Resume restarts background work for orders that were in flight when the
	// process stopped and returns the number of payment polls started.
	Resume(ctx context.Context) (int, error)

	// ActiveTasks returns the number of running payment polls and delivery watchers.
	ActiveTasks() int64

	// Shutdown stops all background tasks and waits for them to exit.
	Shutdown(ctx context.Context) error
}

// Notifier receives order events. Send must not block; delivery failures are
// the notifier's concern and never affect the order.
type Notifier interface {
	Send(buyerID string, orderID uuid.UUID, kind model.EventKind)
}
