package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderState is a position in the order lifecycle.
type OrderState string

// Order lifecycle states.
const (
	StateCreated          OrderState = "CREATED"
	StatePendingPayment   OrderState = "PENDING_PAYMENT"
	StateAwaitingDelivery OrderState = "AWAITING_DELIVERY"
	StateDelivered        OrderState = "DELIVERED"
	StateCancelled        OrderState = "CANCELLED"
	StateRefundRequested  OrderState = "REFUND_REQUESTED"
	StateRefunded         OrderState = "REFUNDED"
)

// IsTerminal reports whether no further transitions are permitted from s.
func (s OrderState) IsTerminal() bool {
	return s == StateCancelled || s == StateRefunded
}

// Valid reports whether s is a known state.
func (s OrderState) Valid() bool {
	switch s {
	case StateCreated, StatePendingPayment, StateAwaitingDelivery, StateDelivered,
		StateCancelled, StateRefundRequested, StateRefunded:
		return true
	}
	return false
}

// Failure reasons recorded on cancelled orders.
const (
	ReasonPaymentTimeout        = "PaymentTimeout"
	ReasonPaymentRejected       = "PaymentRejected"
	ReasonInvalidPaymentRequest = "InvalidPaymentRequest"
	ReasonBuyerAborted          = "BuyerAborted"
)

// Order is one buyer's purchase of a fixed quantity of virtual currency.
type Order struct {
	ID              uuid.UUID       `json:"id"`
	BuyerID         string          `json:"buyerId"`
	TargetAccount   string          `json:"targetAccount"`
	TargetAccountID int64           `json:"targetAccountId"`
	Quantity        int             `json:"quantity"`
	UnitPrice       decimal.Decimal `json:"unitPrice"`
	CouponCode      *string         `json:"couponCode,omitempty"`
	Discount        decimal.Decimal `json:"discount"`
	Total           decimal.Decimal `json:"total"`
	Currency        string          `json:"currency"`

	// DeliverablePrice is the catalog price the deliverable entry must carry
	// so the buyer nets Quantity after the platform fee.
	DeliverablePrice int `json:"deliverablePrice"`

	PaymentReference *string    `json:"paymentReference,omitempty"`
	PixCode          *string    `json:"pixCode,omitempty"`
	PaymentCreatedAt *time.Time `json:"paymentCreatedAt,omitempty"`
	PaymentExpiresAt *time.Time `json:"paymentExpiresAt,omitempty"`

	DeliverableID  *int64  `json:"deliverableId,omitempty"`
	DeliverableURL *string `json:"deliverableUrl,omitempty"`

	State         OrderState `json:"state"`
	FailureReason *string    `json:"failureReason,omitempty"`
	RefundReason  *string    `json:"refundReason,omitempty"`

	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	PaidAt      *time.Time `json:"paidAt,omitempty"`
	DeliveredAt *time.Time `json:"deliveredAt,omitempty"`
	DeliveredBy *string    `json:"deliveredBy,omitempty"`
	RefundedAt  *time.Time `json:"refundedAt,omitempty"`
}

// Clone returns a deep copy of the order.
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	c := *o
	c.CouponCode = cloneString(o.CouponCode)
	c.PaymentReference = cloneString(o.PaymentReference)
	c.PixCode = cloneString(o.PixCode)
	c.PaymentCreatedAt = cloneTime(o.PaymentCreatedAt)
	c.PaymentExpiresAt = cloneTime(o.PaymentExpiresAt)
	c.DeliverableURL = cloneString(o.DeliverableURL)
	c.FailureReason = cloneString(o.FailureReason)
	c.RefundReason = cloneString(o.RefundReason)
	c.PaidAt = cloneTime(o.PaidAt)
	c.DeliveredAt = cloneTime(o.DeliveredAt)
	c.DeliveredBy = cloneString(o.DeliveredBy)
	c.RefundedAt = cloneTime(o.RefundedAt)
	if o.DeliverableID != nil {
		id := *o.DeliverableID
		c.DeliverableID = &id
	}
	return &c
}

// OrderRequest represents the request payload for creating an order.
type OrderRequest struct {
	BuyerID       string  `json:"buyerId"`
	TargetAccount string  `json:"targetAccount"`
	Quantity      int     `json:"quantity"`
	CouponCode    *string `json:"couponCode,omitempty"`
}

// Transition is one audited state change of an order.
type Transition struct {
	OrderID uuid.UUID  `json:"orderId"`
	From    OrderState `json:"from"`
	To      OrderState `json:"to"`
	Actor   string     `json:"actor"`
	Reason  *string    `json:"reason,omitempty"`
	At      time.Time  `json:"at"`
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// StringPtr returns a pointer to s.
func StringPtr(s string) *string {
	return &s
}

// TimePtr returns a pointer to t.
func TimePtr(t time.Time) *time.Time {
	return &t
}
