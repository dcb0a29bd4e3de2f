package model

// EventKind identifies an order event reported to the buyer.
type EventKind string

// Order events.
const (
	EventPaymentConfirmed EventKind = "PaymentConfirmed"
	EventDeliveryReady    EventKind = "DeliveryReady"
	EventOrderDelivered   EventKind = "OrderDelivered"
	EventOrderCancelled   EventKind = "OrderCancelled"
	EventRefundIssued     EventKind = "RefundIssued"
)
