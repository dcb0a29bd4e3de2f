package model

import (
	"fmt"
	"time"
)

// allowedTransitions lists the legal moves of the order state machine.
// A state listed as its own successor accepts guarded metadata updates.
var allowedTransitions = map[OrderState][]OrderState{
	StateCreated:          {StateCreated, StatePendingPayment, StateCancelled},
	StatePendingPayment:   {StatePendingPayment, StateAwaitingDelivery, StateCancelled},
	StateAwaitingDelivery: {StateAwaitingDelivery, StateDelivered, StateRefundRequested},
	StateDelivered:        {StateRefundRequested},
	StateRefundRequested:  {StateRefunded},
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to OrderState) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CheckTransition returns ErrTerminalStateViolation if from -> to is not a legal move.
func CheckTransition(from, to OrderState) error {
	if !from.Valid() || !to.Valid() || !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrTerminalStateViolation, from, to)
	}
	return nil
}

// CheckMutation verifies that a mutator only touched the fields it may change.
// Pricing and identity are fixed at creation and the payment reference is
// write-once.
func CheckMutation(before, after *Order) error {
	switch {
	case before.ID != after.ID:
		return immutable("id")
	case before.BuyerID != after.BuyerID:
		return immutable("buyer_id")
	case before.TargetAccount != after.TargetAccount || before.TargetAccountID != after.TargetAccountID:
		return immutable("target_account")
	case before.Quantity != after.Quantity:
		return immutable("quantity")
	case !before.UnitPrice.Equal(after.UnitPrice):
		return immutable("unit_price")
	case !before.Discount.Equal(after.Discount):
		return immutable("discount")
	case !before.Total.Equal(after.Total):
		return immutable("total")
	case before.Currency != after.Currency:
		return immutable("currency")
	case before.DeliverablePrice != after.DeliverablePrice:
		return immutable("deliverable_price")
	case !equalString(before.CouponCode, after.CouponCode):
		return immutable("coupon_code")
	case !before.CreatedAt.Equal(after.CreatedAt):
		return immutable("created_at")
	case before.State != after.State:
		return immutable("state")
	case before.PaymentReference != nil && !equalString(before.PaymentReference, after.PaymentReference):
		return immutable("payment_reference")
	}
	return nil
}

// ApplyTransition runs mutate on a copy of current, checks the result and
// stamps the new state. current is left untouched.
func ApplyTransition(current *Order, next OrderState, mutate func(*Order), now time.Time) (*Order, error) {
	if err := CheckTransition(current.State, next); err != nil {
		return nil, err
	}

	updated := current.Clone()
	if mutate != nil {
		mutate(updated)
	}
	if err := CheckMutation(current, updated); err != nil {
		return nil, err
	}

	updated.State = next
	updated.UpdatedAt = now
	return updated, nil
}

func immutable(field string) error {
	return fmt.Errorf("%w: %s", ErrImmutableField, field)
}

func equalString(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
