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

// CheckPayment reads the payment status once and applies it.
func (s *orderService) CheckPayment(ctx context.Context, id uuid.UUID) (*model.Order, error) {
	order, err := s.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if order.State != model.StatePendingPayment || order.PaymentReference == nil {
		return nil, &model.ConflictError{OrderID: id, Expected: model.StatePendingPayment, Actual: order.State}
	}

	status, err := s.gateway.GetStatus(ctx, *order.PaymentReference)
	if err != nil {
		return nil, err
	}

	updated, _, err := s.applyStatus(ctx, order, status, actorEngine)
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// startPoll launches the payment poll for a PENDING_PAYMENT order. The poll
// ends no later than MaxPollDuration after the payment was created.
func (s *orderService) startPoll(order *model.Order) error {
	if order.State != model.StatePendingPayment || order.PaymentReference == nil {
		return fmt.Errorf("order %s: cannot poll payment in state %s", order.ID, order.State)
	}

	createdAt := order.UpdatedAt
	if order.PaymentCreatedAt != nil {
		createdAt = *order.PaymentCreatedAt
	}
	ctx, cancel := context.WithDeadline(s.baseCtx, createdAt.Add(s.cfg.MaxPollDuration))

	h, ok := s.polls.claim(order.ID, cancel)
	if !ok {
		cancel()
		return fmt.Errorf("order %s: %w", order.ID, model.ErrPollAlreadyRunning)
	}

	id, ref := order.ID, *order.PaymentReference
	started := s.spawn(func() {
		defer s.polls.release(id, h)
		defer cancel()
		s.runPoll(ctx, id, ref)
	})
	if !started {
		s.polls.release(id, h)
		cancel()
		return ErrShuttingDown
	}

	s.logger.Debug().
		Str("order_id", id.String()).
		Str("payment_reference", ref).
		Time("deadline", createdAt.Add(s.cfg.MaxPollDuration)).
		Msg("payment poll started")
	return nil
}

// runPoll asks the gateway for the payment status every PollInterval until
// the order leaves PENDING_PAYMENT or the poll deadline passes.
func (s *orderService) runPoll(ctx context.Context, id uuid.UUID, ref string) {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				s.expirePayment(id, ref)
			}
			return
		case <-ticker.C:
		}

		if s.pollOnce(ctx, id, ref) {
			return
		}
	}
}

// pollOnce performs one poll round and reports whether the poll is finished.
func (s *orderService) pollOnce(ctx context.Context, id uuid.UUID, ref string) bool {
	if ctx.Err() != nil {
		return false
	}

	order, err := s.orders.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, model.ErrOrderNotFound) {
			s.logger.Error().Str("order_id", id.String()).Msg("polled order disappeared")
			return true
		}
		s.logger.Warn().Err(err).Str("order_id", id.String()).Msg("failed to read polled order")
		return false
	}
	if order.State != model.StatePendingPayment {
		return true
	}

	status, err := s.gateway.GetStatus(ctx, ref)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Warn().
				Err(err).
				Str("order_id", id.String()).
				Msg("payment status unavailable, retrying")
		}
		return false
	}

	_, done, err := s.applyStatus(s.baseCtx, order, status, actorPaymentPoller)
	if err != nil {
		if errors.Is(err, model.ErrConcurrencyConflict) {
			s.logger.Debug().
				Err(err).
				Str("order_id", id.String()).
				Msg("stale payment status discarded")
			return true
		}
		if s.baseCtx.Err() != nil {
			return true
		}
		s.logger.Warn().Err(err).Str("order_id", id.String()).Msg("failed to apply payment status")
		return false
	}
	return done
}

// applyStatus moves a PENDING_PAYMENT order according to the gateway status.
// It reports whether the order left PENDING_PAYMENT.
func (s *orderService) applyStatus(ctx context.Context, order *model.Order, status model.PaymentStatus, actor string) (*model.Order, bool, error) {
	switch status {
	case model.PaymentPending:
		return order, false, nil
	case model.PaymentApproved:
		updated, err := s.confirmPayment(ctx, order.ID, actor)
		return updated, err == nil, err
	case model.PaymentRejected, model.PaymentExpired:
		updated, err := s.cancelPending(ctx, order.ID, actor, model.ReasonPaymentRejected)
		return updated, err == nil, err
	default:
		return order, false, fmt.Errorf("%w: unknown payment status %q", model.ErrGatewayUnavailable, status)
	}
}

// confirmPayment records an approved payment and starts delivery preparation.
func (s *orderService) confirmPayment(ctx context.Context, id uuid.UUID, actor string) (*model.Order, error) {
	now := s.now().UTC()
	paid, err := s.orders.Transition(ctx, repository.TransitionRequest{
		OrderID:  id,
		Expected: model.StatePendingPayment,
		Next:     model.StateAwaitingDelivery,
		Mutate: func(o *model.Order) {
			o.PaidAt = model.TimePtr(now)
			o.UpdatedAt = now
		},
		Actor: actor,
	})
	if err != nil {
		return nil, err
	}
	s.logTransition(paid, model.StatePendingPayment)

	s.polls.stop(id)
	s.notifier.Send(paid.BuyerID, id, model.EventPaymentConfirmed)

	if err := s.startDeliveryWatcher(paid); err != nil && !errors.Is(err, model.ErrPollAlreadyRunning) {
		s.logger.Warn().Err(err).Str("order_id", id.String()).Msg("failed to start delivery watcher")
	}
	return paid, nil
}

// cancelPending cancels an unpaid order with reason.
func (s *orderService) cancelPending(ctx context.Context, id uuid.UUID, actor, reason string) (*model.Order, error) {
	now := s.now().UTC()
	cancelled, err := s.orders.Transition(ctx, repository.TransitionRequest{
		OrderID:  id,
		Expected: model.StatePendingPayment,
		Next:     model.StateCancelled,
		Mutate: func(o *model.Order) {
			o.FailureReason = model.StringPtr(reason)
			o.UpdatedAt = now
		},
		Actor:  actor,
		Reason: model.StringPtr(reason),
	})
	if err != nil {
		return nil, err
	}
	s.logTransition(cancelled, model.StatePendingPayment)

	s.polls.stop(id)
	s.notifier.Send(cancelled.BuyerID, id, model.EventOrderCancelled)
	return cancelled, nil
}

// expirePayment settles an order whose poll deadline has passed. A last
// status read catches a payment approved since the previous poll. Otherwise
// the payment is voided and the order cancelled. When the payment can be
// neither voided nor read, the order stays PENDING_PAYMENT for a manual
// check or the next Resume.
func (s *orderService) expirePayment(id uuid.UUID, ref string) {
	if s.baseCtx.Err() != nil {
		return
	}
	order, err := s.orders.GetByID(s.baseCtx, id)
	if err != nil || order.State != model.StatePendingPayment {
		return
	}

	if s.settleAtDeadline(order, ref) {
		return
	}

	if err := s.voidPayment(id, ref); err != nil {
		// The gateway refuses to void a payment that has just been approved
		if s.settleAtDeadline(order, ref) {
			return
		}
		s.logger.Error().
			Err(err).
			Str("order_id", id.String()).
			Str("payment_reference", ref).
			Msg("payment could not be voided, order left pending")
		return
	}

	if _, err := s.cancelPending(s.baseCtx, id, actorPaymentPoller, model.ReasonPaymentTimeout); err != nil {
		if errors.Is(err, model.ErrConcurrencyConflict) {
			s.logger.Debug().Err(err).Str("order_id", id.String()).Msg("order resolved before poll deadline")
			return
		}
		s.logger.Error().Err(err).Str("order_id", id.String()).Msg("failed to cancel timed out order")
	}
}

// settleAtDeadline reads the payment status once and applies any final
// outcome. It reports whether the order has left PENDING_PAYMENT.
func (s *orderService) settleAtDeadline(order *model.Order, ref string) bool {
	ctx, cancel := context.WithTimeout(s.baseCtx, s.cfg.GatewayCallTimeout)
	status, err := s.gateway.GetStatus(ctx, ref)
	cancel()
	if err != nil {
		s.logger.Warn().Err(err).Str("order_id", order.ID.String()).Msg("final payment status unavailable")
		return false
	}

	_, done, err := s.applyStatus(s.baseCtx, order, status, actorPaymentPoller)
	if err != nil {
		return errors.Is(err, model.ErrConcurrencyConflict)
	}
	return done
}
