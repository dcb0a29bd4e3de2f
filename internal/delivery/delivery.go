package delivery

import (
	"context"

	"robux-shop/internal/model"
)

// Client is the delivery catalog as seen by the order engine.
//
// Remote failures are reported as model.ErrDeliveryUnavailable and must be
// retried; they never mean "not acquired".
type Client interface {
	// LookupAccount resolves a platform username. Unknown or banned accounts
	// yield model.ErrInvalidTargetAccount.
	LookupAccount(ctx context.Context, username string) (*model.Account, error)

	// GetDeliverableEntry finds the purchasable entry matching spec.
	// model.ErrDeliverableNotFound means no entry carries the required price.
	GetDeliverableEntry(ctx context.Context, spec model.ProductSpec) (*model.Deliverable, error)

	// HasBuyerAcquired reports whether accountID owns the deliverable.
	HasBuyerAcquired(ctx context.Context, deliverable model.Deliverable, accountID int64) (bool, error)
}
