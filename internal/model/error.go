package model

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrorResponse represents a standardised error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Standard error codes for API responses
const (
	ErrCodeInvalidJSON             = "INVALID_JSON"
	ErrCodeMissingField            = "MISSING_FIELD"
	ErrCodeInvalidQuantity         = "INVALID_QUANTITY"
	ErrCodeInvalidTargetAccount    = "INVALID_TARGET_ACCOUNT"
	ErrCodeBuyerMismatch           = "BUYER_MISMATCH"
	ErrCodeCouponNotFound          = "COUPON_NOT_FOUND"
	ErrCodeCouponInactive          = "COUPON_INACTIVE"
	ErrCodeCouponExpired           = "COUPON_EXPIRED"
	ErrCodeCouponUsageLimitReached = "COUPON_USAGE_LIMIT_REACHED"
	ErrCodeCouponBelowMinimum      = "COUPON_BELOW_MINIMUM_QUANTITY"
	ErrCodeCouponAboveMaximum      = "COUPON_ABOVE_MAXIMUM_QUANTITY"
	ErrCodeInvalidCoupon           = "INVALID_COUPON"
	ErrCodeOrderNotFound           = "ORDER_NOT_FOUND"
	ErrCodeConflict                = "CONFLICT"
	ErrCodeTerminalStateViolation  = "TERMINAL_STATE_VIOLATION"
	ErrCodeImmutableField          = "IMMUTABLE_FIELD"
	ErrCodeGatewayUnavailable      = "GATEWAY_UNAVAILABLE"
	ErrCodeInvalidPaymentRequest   = "INVALID_PAYMENT_REQUEST"
	ErrCodeDeliveryUnavailable     = "DELIVERY_UNAVAILABLE"
	ErrCodeDeliverableNotFound     = "DELIVERABLE_NOT_FOUND"
	ErrCodeDeliverableOwned        = "DELIVERABLE_ALREADY_OWNED"
	ErrCodePaymentTimeout          = "PAYMENT_TIMEOUT"
	ErrCodePaymentRejected         = "PAYMENT_REJECTED"
	ErrCodePollAlreadyRunning      = "POLL_ALREADY_RUNNING"
	ErrCodeUnauthorised            = "UNAUTHORIZED"
	ErrCodeForbidden               = "FORBIDDEN"
	ErrCodeInternalError           = "INTERNAL_ERROR"
)

// Domain errors for business logic
type DomainError struct {
	Code    string
	Message string
}

func (e *DomainError) Error() string {
	return e.Message
}

// NewDomainError creates a new domain error
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// Common domain errors
var (
	ErrMissingField            = NewDomainError(ErrCodeMissingField, "Required field is missing")
	ErrInvalidQuantity         = NewDomainError(ErrCodeInvalidQuantity, "Quantity is outside the allowed range")
	ErrInvalidTargetAccount    = NewDomainError(ErrCodeInvalidTargetAccount, "Target account does not exist or cannot receive deliveries")
	ErrBuyerMismatch           = NewDomainError(ErrCodeBuyerMismatch, "Order belongs to a different buyer")
	ErrCouponNotFound          = NewDomainError(ErrCodeCouponNotFound, "Coupon not found")
	ErrCouponInactive          = NewDomainError(ErrCodeCouponInactive, "Coupon is inactive")
	ErrCouponExpired           = NewDomainError(ErrCodeCouponExpired, "Coupon has expired")
	ErrCouponUsageLimitReached = NewDomainError(ErrCodeCouponUsageLimitReached, "Coupon usage limit reached")
	ErrCouponBelowMinimum      = NewDomainError(ErrCodeCouponBelowMinimum, "Quantity is below the coupon minimum")
	ErrCouponAboveMaximum      = NewDomainError(ErrCodeCouponAboveMaximum, "Quantity is above the coupon maximum")
	ErrInvalidCoupon           = NewDomainError(ErrCodeInvalidCoupon, "Coupon definition is invalid")
	ErrOrderNotFound           = NewDomainError(ErrCodeOrderNotFound, "Order not found")
	ErrConcurrencyConflict     = NewDomainError(ErrCodeConflict, "Order state changed concurrently")
	ErrTerminalStateViolation  = NewDomainError(ErrCodeTerminalStateViolation, "Illegal order state transition")
	ErrImmutableField          = NewDomainError(ErrCodeImmutableField, "Attempted to change an immutable order field")
	ErrGatewayUnavailable      = NewDomainError(ErrCodeGatewayUnavailable, "Payment gateway unavailable")
	ErrInvalidPaymentRequest   = NewDomainError(ErrCodeInvalidPaymentRequest, "Payment gateway rejected the request")
	ErrDeliveryUnavailable     = NewDomainError(ErrCodeDeliveryUnavailable, "Delivery catalog unavailable")
	ErrDeliverableNotFound     = NewDomainError(ErrCodeDeliverableNotFound, "No catalog entry matches the order")
	ErrDeliverableOwned        = NewDomainError(ErrCodeDeliverableOwned, "Target account already owns the catalog entry")
	ErrPaymentTimeout          = NewDomainError(ErrCodePaymentTimeout, "Payment was not confirmed in time")
	ErrPaymentRejected         = NewDomainError(ErrCodePaymentRejected, "Payment was rejected or expired")
	ErrPollAlreadyRunning      = NewDomainError(ErrCodePollAlreadyRunning, "A payment poll is already running for this order")
)

// ConflictError reports a failed compare-and-swap on an order's state.
type ConflictError struct {
	OrderID  uuid.UUID
	Expected OrderState
	Actual   OrderState
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("order %s: expected state %s but found %s", e.OrderID, e.Expected, e.Actual)
}

// Unwrap lets errors.Is match ErrConcurrencyConflict.
func (e *ConflictError) Unwrap() error {
	return ErrConcurrencyConflict
}

// Error kinds, one per class of the failure taxonomy.
const (
	KindTransientRemote        = "transient_remote"
	KindValidation             = "validation"
	KindConcurrencyConflict    = "concurrency_conflict"
	KindTerminalStateViolation = "terminal_state_violation"
	KindPaymentTimeout         = "payment_timeout"
	KindPaymentRejected        = "payment_rejected"
	KindNotFound               = "not_found"
	KindInternal               = "internal"
)

// Kind classifies err into the failure taxonomy.
func Kind(err error) string {
	if err == nil {
		return ""
	}

	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		return KindInternal
	}

	switch domainErr.Code {
	case ErrCodeGatewayUnavailable, ErrCodeDeliveryUnavailable:
		return KindTransientRemote
	case ErrCodeConflict:
		return KindConcurrencyConflict
	case ErrCodeTerminalStateViolation, ErrCodeImmutableField:
		return KindTerminalStateViolation
	case ErrCodePaymentTimeout:
		return KindPaymentTimeout
	case ErrCodePaymentRejected:
		return KindPaymentRejected
	case ErrCodeOrderNotFound:
		return KindNotFound
	case ErrCodeInternalError:
		return KindInternal
	default:
		return KindValidation
	}
}

// IsTransient reports whether err is a retryable remote failure.
func IsTransient(err error) bool {
	return Kind(err) == KindTransientRemote
}
