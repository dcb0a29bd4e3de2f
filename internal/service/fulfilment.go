package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"robux-shop/internal/model"
	"robux-shop/internal/repository"

	"github.com/google/uuid"
)

// ConfirmDelivery moves a paid order to DELIVERED. It is idempotent: an order
// that is already delivered is returned as is and no event is emitted.
func (s *orderService) ConfirmDelivery(ctx context.Context, id uuid.UUID, actor string) (*model.Order, error) {
	if actor == "" {
		return nil, fmt.Errorf("%w: actor", model.ErrMissingField)
	}

	now := s.now().UTC()
	delivered, err := s.orders.Transition(ctx, repository.TransitionRequest{
		OrderID:  id,
		Expected: model.StateAwaitingDelivery,
		Next:     model.StateDelivered,
		Mutate: func(o *model.Order) {
			o.DeliveredAt = model.TimePtr(now)
			o.DeliveredBy = model.StringPtr(actor)
			o.UpdatedAt = now
		},
		Actor: actor,
	})
	if err != nil {
		var conflict *model.ConflictError
		if errors.As(err, &conflict) && conflict.Actual == model.StateDelivered {
			return s.GetOrder(ctx, id)
		}
		return nil, err
	}
	s.logTransition(delivered, model.StateAwaitingDelivery)

	s.watchers.stop(id)
	s.notifier.Send(delivered.BuyerID, id, model.EventOrderDelivered)
	return delivered, nil
}

// Refund returns the payment of a paid order.
func (s *orderService) Refund(ctx context.Context, id uuid.UUID, adminID, reason string) (*model.Order, error) {
	if adminID == "" {
		return nil, fmt.Errorf("%w: admin id", model.ErrMissingField)
	}

	order, err := s.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}

	switch order.State {
	case model.StateAwaitingDelivery, model.StateDelivered:
		from := order.State
		now := s.now().UTC()
		order, err = s.orders.Transition(ctx, repository.TransitionRequest{
			OrderID:  id,
			Expected: from,
			Next:     model.StateRefundRequested,
			Mutate: func(o *model.Order) {
				if reason != "" {
					o.RefundReason = model.StringPtr(reason)
				}
				o.UpdatedAt = now
			},
			Actor:  adminID,
			Reason: optionalString(reason),
		})
		if err != nil {
			return nil, err
		}
		s.logTransition(order, from)
		s.watchers.stop(id)
	case model.StateRefundRequested:
		s.logger.Info().Str("order_id", id.String()).Msg("resuming interrupted refund")
	default:
		return nil, fmt.Errorf("%w: cannot refund order %s in state %s", model.ErrTerminalStateViolation, id, order.State)
	}

	if order.PaymentReference != nil {
		if err := s.gateway.Refund(ctx, *order.PaymentReference); err != nil {
			s.logger.Warn().
				Err(err).
				Str("order_id", id.String()).
				Msg("gateway refund failed, order left in REFUND_REQUESTED")
			return order, err
		}
	}

	now := s.now().UTC()
	refunded, err := s.orders.Transition(ctx, repository.TransitionRequest{
		OrderID:  id,
		Expected: model.StateRefundRequested,
		Next:     model.StateRefunded,
		Mutate: func(o *model.Order) {
			o.RefundedAt = model.TimePtr(now)
			o.UpdatedAt = now
		},
		Actor: adminID,
	})
	if err != nil {
		var conflict *model.ConflictError
		if errors.As(err, &conflict) && conflict.Actual == model.StateRefunded {
			return s.GetOrder(ctx, id)
		}
		return nil, err
	}
	s.logTransition(refunded, model.StateRefundRequested)

	s.notifier.Send(refunded.BuyerID, id, model.EventRefundIssued)
	return refunded, nil
}

// startDeliveryWatcher launches the task that resolves the deliverable entry
// of a paid order and, with AutoDeliveryCheck, confirms delivery once the
// buyer owns it. The watcher gives up MaxDeliveryWait after payment.
func (s *orderService) startDeliveryWatcher(order *model.Order) error {
	if order.State != model.StateAwaitingDelivery {
		return nil
	}
	if order.DeliverableID != nil && !s.cfg.AutoDeliveryCheck {
		return nil
	}

	paidAt := s.now().UTC()
	if order.PaidAt != nil {
		paidAt = *order.PaidAt
	}
	ctx, cancel := context.WithDeadline(s.baseCtx, paidAt.Add(s.cfg.MaxDeliveryWait))

	h, ok := s.watchers.claim(order.ID, cancel)
	if !ok {
		cancel()
		return fmt.Errorf("order %s: %w", order.ID, model.ErrPollAlreadyRunning)
	}

	id := order.ID
	started := s.spawn(func() {
		defer s.watchers.release(id, h)
		defer cancel()
		s.runDeliveryWatcher(ctx, id)
	})
	if !started {
		s.watchers.release(id, h)
		cancel()
		return ErrShuttingDown
	}
	return nil
}

func (s *orderService) runDeliveryWatcher(ctx context.Context, id uuid.UUID) {
	ticker := time.NewTicker(s.cfg.DeliveryCheckInterval)
	defer ticker.Stop()

	for {
		if s.watchOnce(ctx, id) {
			return
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				s.logger.Warn().
					Str("order_id", id.String()).
					Msg("delivery not observed in time, manual confirmation required")
			}
			return
		case <-ticker.C:
		}
	}
}

// watchOnce performs one delivery check and reports whether the watcher is finished.
func (s *orderService) watchOnce(ctx context.Context, id uuid.UUID) bool {
	if ctx.Err() != nil {
		return true
	}

	order, err := s.orders.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, model.ErrOrderNotFound) {
			return true
		}
		s.logger.Warn().Err(err).Str("order_id", id.String()).Msg("failed to read watched order")
		return false
	}
	if order.State != model.StateAwaitingDelivery {
		return true
	}

	if order.DeliverableID == nil {
		order, err = s.attachDeliverable(ctx, order)
		if err != nil {
			if errors.Is(err, model.ErrConcurrencyConflict) {
				return true
			}
			if ctx.Err() == nil {
				s.logger.Warn().
					Err(err).
					Str("order_id", id.String()).
					Int("deliverable_price", order.DeliverablePrice).
					Msg("deliverable entry not ready")
			}
			return false
		}
	}

	if !s.cfg.AutoDeliveryCheck {
		return true
	}

	entry := model.Deliverable{
		ID:    *order.DeliverableID,
		Price: order.DeliverablePrice,
	}
	if order.DeliverableURL != nil {
		entry.URL = *order.DeliverableURL
	}
	acquired, err := s.catalog.HasBuyerAcquired(ctx, entry, order.TargetAccountID)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Warn().Err(err).Str("order_id", id.String()).Msg("acquisition check failed, retrying")
		}
		return false
	}
	if !acquired {
		return false
	}

	if _, err := s.ConfirmDelivery(s.baseCtx, id, actorDeliveryWatcher); err != nil {
		if errors.Is(err, model.ErrConcurrencyConflict) {
			return true
		}
		s.logger.Warn().Err(err).Str("order_id", id.String()).Msg("failed to confirm observed delivery")
		return false
	}
	return true
}

// attachDeliverable resolves the catalog entry for order and records it.
// An entry the target account already owns is never attached, so a later
// acquisition always means a new purchase. On failure it returns order
// unchanged alongside the error.
func (s *orderService) attachDeliverable(ctx context.Context, order *model.Order) (*model.Order, error) {
	entry, err := s.catalog.GetDeliverableEntry(ctx, model.ProductSpec{
		Quantity:  order.Quantity,
		Price:     order.DeliverablePrice,
		AccountID: order.TargetAccountID,
	})
	if err != nil {
		return order, err
	}

	owned, err := s.catalog.HasBuyerAcquired(ctx, *entry, order.TargetAccountID)
	if err != nil {
		return order, err
	}
	if owned {
		return order, fmt.Errorf("%w: account %d, game pass %d", model.ErrDeliverableOwned, order.TargetAccountID, entry.ID)
	}

	now := s.now().UTC()
	updated, err := s.orders.Transition(ctx, repository.TransitionRequest{
		OrderID:  order.ID,
		Expected: model.StateAwaitingDelivery,
		Next:     model.StateAwaitingDelivery,
		Mutate: func(o *model.Order) {
			o.DeliverableID = &entry.ID
			o.DeliverableURL = model.StringPtr(entry.URL)
			o.UpdatedAt = now
		},
		Actor: actorDeliveryWatcher,
	})
	if err != nil {
		return order, err
	}

	s.logger.Info().
		Str("order_id", order.ID.String()).
		Int64("deliverable_id", entry.ID).
		Msg("deliverable entry attached")
	s.notifier.Send(updated.BuyerID, order.ID, model.EventDeliveryReady)
	return updated, nil
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
