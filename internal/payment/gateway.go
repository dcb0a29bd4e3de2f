package payment

import (
	"context"

	"robux-shop/internal/model"
)

// Gateway is the payment provider as seen by the order engine. It maps the
// provider's protocol onto model.PaymentStatus and carries no business rules.
//
// Remote failures that may succeed on retry are reported as
// model.ErrGatewayUnavailable; requests the provider refuses are reported as
// model.ErrInvalidPaymentRequest.
type Gateway interface {
	// CreatePayment issues a payment for an order. Repeating the call for the
	// same order id returns the payment created the first time.
	CreatePayment(ctx context.Context, req model.PaymentRequest) (*model.Payment, error)

	// GetStatus reads the current status of a payment.
	GetStatus(ctx context.Context, reference string) (model.PaymentStatus, error)

	// Refund returns the full amount of an approved payment.
	Refund(ctx context.Context, reference string) error

	// Cancel voids a payment that has not been paid yet.
	Cancel(ctx context.Context, reference string) error
}
