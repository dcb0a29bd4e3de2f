package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentStatus is the gateway-reported state of a payment.
type PaymentStatus string

// Payment statuses understood by the engine.
const (
	PaymentPending  PaymentStatus = "pending"
	PaymentApproved PaymentStatus = "approved"
	PaymentRejected PaymentStatus = "rejected"
	PaymentExpired  PaymentStatus = "expired"
)

// Payment mirrors the gateway's payment record.
type Payment struct {
	Reference string          `json:"reference"`
	Status    PaymentStatus   `json:"status"`
	Amount    decimal.Decimal `json:"amount"`
	OrderID   string          `json:"orderId"`
	PixCode   string          `json:"pixCode,omitempty"`
	ExpiresAt *time.Time      `json:"expiresAt,omitempty"`
}

// PaymentRequest describes a payment to be created at the gateway.
type PaymentRequest struct {
	OrderID     string
	Amount      decimal.Decimal
	Currency    string
	Description string
	PayerID     string
	ExpiresAt   time.Time
}
