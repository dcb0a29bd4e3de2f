package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"robux-shop/internal/coupon"
	"robux-shop/internal/delivery"
	"robux-shop/internal/model"
	"robux-shop/internal/payment"
	"robux-shop/internal/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// ErrShuttingDown is returned when background work is requested after Shutdown.
var ErrShuttingDown = errors.New("order engine is shutting down")

// Actors recorded on transitions made by the engine itself.
const (
	actorEngine          = "engine"
	actorPaymentPoller   = "payment-poller"
	actorDeliveryWatcher = "delivery-watcher"
)

const defaultGatewayCallTimeout = 10 * time.Second

// orderService implements OrderService.
type orderService struct {
	orders   repository.OrderRepository
	coupons  coupon.Validator
	gateway  payment.Gateway
	catalog  delivery.Client
	notifier Notifier
	cfg      Config
	logger   zerolog.Logger
	now      func() time.Time

	baseCtx context.Context
	stopAll context.CancelFunc
	mu      sync.RWMutex
	closed  bool
	wg      sync.WaitGroup

	polls    taskRegistry
	watchers taskRegistry
}

// NewOrderService creates a new order engine. Background tasks run until
// Shutdown is called.
func NewOrderService(
	orders repository.OrderRepository,
	coupons coupon.Validator,
	gateway payment.Gateway,
	catalog delivery.Client,
	notifier Notifier,
	cfg Config,
	logger zerolog.Logger,
) OrderService {
	return newOrderService(orders, coupons, gateway, catalog, notifier, cfg, logger)
}

func newOrderService(
	orders repository.OrderRepository,
	coupons coupon.Validator,
	gateway payment.Gateway,
	catalog delivery.Client,
	notifier Notifier,
	cfg Config,
	logger zerolog.Logger,
) *orderService {
	if cfg.GatewayCallTimeout <= 0 {
		cfg.GatewayCallTimeout = defaultGatewayCallTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &orderService{
		orders:   orders,
		coupons:  coupons,
		gateway:  gateway,
		catalog:  catalog,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger.With().Str("service", "order").Logger(),
		now:      time.Now,
		baseCtx:  ctx,
		stopAll:  cancel,
	}
}

// CreateOrder prices, stores and requests payment for a new order.
func (s *orderService) CreateOrder(ctx context.Context, req *model.OrderRequest) (*model.Order, error) {
	if err := s.validateOrderRequest(req); err != nil {
		return nil, err
	}

	account, err := s.catalog.LookupAccount(ctx, req.TargetAccount)
	if err != nil {
		s.logger.Warn().
			Str("target_account", req.TargetAccount).
			Err(err).
			Msg("target account lookup failed")
		return nil, err
	}

	discount := decimal.Zero
	var couponCode *string
	if req.CouponCode != nil && strings.TrimSpace(*req.CouponCode) != "" {
		app, err := s.coupons.Apply(ctx, *req.CouponCode, req.Quantity, s.basePrice(req.Quantity))
		if err != nil {
			s.logger.Warn().
				Str("coupon_code", *req.CouponCode).
				Err(err).
				Msg("coupon rejected")
			return nil, err
		}
		discount = app.Discount
		couponCode = model.StringPtr(app.Code)
	}

	now := s.now().UTC()
	order := &model.Order{
		ID:               uuid.New(),
		BuyerID:          req.BuyerID,
		TargetAccount:    account.Name,
		TargetAccountID:  account.ID,
		Quantity:         req.Quantity,
		UnitPrice:        s.cfg.PricePerUnit,
		CouponCode:       couponCode,
		Discount:         discount,
		Total:            model.ComputeTotal(req.Quantity, s.cfg.PricePerUnit, discount),
		Currency:         s.cfg.Currency,
		DeliverablePrice: model.DeliverablePrice(req.Quantity, s.cfg.TaxRate),
		State:            model.StateCreated,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := s.orders.Create(ctx, order); err != nil {
		s.logger.Warn().Err(err).Str("order_id", order.ID.String()).Msg("failed to store order")
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	s.logger.Info().
		Str("order_id", order.ID.String()).
		Str("buyer_id", order.BuyerID).
		Int("quantity", order.Quantity).
		Str("total", order.Total.StringFixed(model.MoneyPlaces)).
		Msg("order created")

	return s.requestPayment(ctx, order)
}

// Quote prices a purchase without redeeming the coupon.
func (s *orderService) Quote(ctx context.Context, quantity int, couponCode string) (*model.Quote, error) {
	if err := s.validateQuantity(quantity); err != nil {
		return nil, err
	}

	base := s.basePrice(quantity)
	quote := &model.Quote{
		Quantity:         quantity,
		UnitPrice:        s.cfg.PricePerUnit,
		Base:             base.Round(model.MoneyPlaces),
		Discount:         decimal.Zero,
		Total:            model.ComputeTotal(quantity, s.cfg.PricePerUnit, decimal.Zero),
		Currency:         s.cfg.Currency,
		DeliverablePrice: model.DeliverablePrice(quantity, s.cfg.TaxRate),
	}

	if strings.TrimSpace(couponCode) == "" {
		return quote, nil
	}

	app, err := s.coupons.Apply(ctx, couponCode, quantity, base)
	if err != nil {
		return nil, err
	}
	quote.CouponCode = model.StringPtr(app.Code)
	quote.Discount = app.Discount
	quote.Total = model.ComputeTotal(quantity, s.cfg.PricePerUnit, app.Discount)
	return quote, nil
}

// GetOrder retrieves an order by its ID.
func (s *orderService) GetOrder(ctx context.Context, id uuid.UUID) (*model.Order, error) {
	order, err := s.orders.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, model.ErrOrderNotFound) {
			s.logger.Debug().Str("order_id", id.String()).Msg("order not found")
			return nil, err
		}
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return order, nil
}

// ListOrders returns a buyer's orders.
func (s *orderService) ListOrders(ctx context.Context, buyerID string) ([]model.Order, error) {
	if strings.TrimSpace(buyerID) == "" {
		return nil, fmt.Errorf("%w: buyer id", model.ErrMissingField)
	}
	orders, err := s.orders.ListByBuyer(ctx, buyerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	return orders, nil
}

// History returns the audited transitions of an order.
func (s *orderService) History(ctx context.Context, id uuid.UUID) ([]model.Transition, error) {
	history, err := s.orders.History(ctx, id)
	if err != nil {
		if errors.Is(err, model.ErrOrderNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get order history: %w", err)
	}
	return history, nil
}

// RetryPayment re-issues the payment request for an order left in CREATED.
func (s *orderService) RetryPayment(ctx context.Context, id uuid.UUID) (*model.Order, error) {
	order, err := s.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if order.State != model.StateCreated {
		return nil, &model.ConflictError{OrderID: id, Expected: model.StateCreated, Actual: order.State}
	}
	return s.requestPayment(ctx, order)
}

// CancelOrder aborts an unpaid order on behalf of its buyer. Any other state
// is reported as a ConflictError carrying the order's current state.
func (s *orderService) CancelOrder(ctx context.Context, id uuid.UUID, buyerID string) (*model.Order, error) {
	order, err := s.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if order.BuyerID != buyerID {
		s.logger.Warn().
			Str("order_id", id.String()).
			Str("buyer_id", buyerID).
			Msg("cancel requested by another buyer")
		return nil, model.ErrBuyerMismatch
	}
	if order.State != model.StateCreated && order.State != model.StatePendingPayment {
		return nil, &model.ConflictError{OrderID: id, Expected: model.StatePendingPayment, Actual: order.State}
	}

	now := s.now().UTC()
	cancelled, err := s.orders.Transition(ctx, repository.TransitionRequest{
		OrderID:  id,
		Expected: order.State,
		Next:     model.StateCancelled,
		Mutate: func(o *model.Order) {
			o.FailureReason = model.StringPtr(model.ReasonBuyerAborted)
			o.UpdatedAt = now
		},
		Actor:  buyerID,
		Reason: model.StringPtr(model.ReasonBuyerAborted),
	})
	if err != nil {
		return nil, err
	}
	s.logTransition(cancelled, order.State)

	s.polls.stop(id)
	if cancelled.PaymentReference != nil {
		ref := *cancelled.PaymentReference
		if !s.spawn(func() { _ = s.voidPayment(id, ref) }) {
			s.logger.Warn().Str("order_id", id.String()).Msg("payment left open during shutdown")
		}
	}
	s.notifier.Send(cancelled.BuyerID, id, model.EventOrderCancelled)
	return cancelled, nil
}

// Resume restarts payment polls and delivery watchers for in-flight orders.
func (s *orderService) Resume(ctx context.Context) (int, error) {
	pending, err := s.orders.ListByState(ctx, model.StatePendingPayment)
	if err != nil {
		return 0, fmt.Errorf("failed to list pending orders: %w", err)
	}

	resumed := 0
	for i := range pending {
		order := &pending[i]
		if err := s.startPoll(order); err != nil {
			if errors.Is(err, model.ErrPollAlreadyRunning) {
				continue
			}
			return resumed, err
		}
		resumed++
	}

	awaiting, err := s.orders.ListByState(ctx, model.StateAwaitingDelivery)
	if err != nil {
		return resumed, fmt.Errorf("failed to list paid orders: %w", err)
	}
	for i := range awaiting {
		if err := s.startDeliveryWatcher(&awaiting[i]); err != nil && !errors.Is(err, model.ErrPollAlreadyRunning) {
			return resumed, err
		}
	}

	refunding, err := s.orders.ListByState(ctx, model.StateRefundRequested)
	if err != nil {
		return resumed, fmt.Errorf("failed to list refunding orders: %w", err)
	}
	for _, order := range refunding {
		s.logger.Warn().
			Str("order_id", order.ID.String()).
			Msg("refund was interrupted and must be requested again")
	}

	s.logger.Info().
		Int("payment_polls", resumed).
		Int("awaiting_delivery", len(awaiting)).
		Int("refund_requested", len(refunding)).
		Msg("in-flight orders resumed")

	return resumed, nil
}

// ActiveTasks returns the number of running background tasks.
func (s *orderService) ActiveTasks() int64 {
	return s.polls.Running() + s.watchers.Running()
}

// Shutdown stops every background task and waits for them to exit.
func (s *orderService) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.stopAll()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info().Msg("order engine stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("failed to stop order tasks: %w", ctx.Err())
	}
}

// requestPayment moves a CREATED order to PENDING_PAYMENT and starts its poll.
func (s *orderService) requestPayment(ctx context.Context, order *model.Order) (*model.Order, error) {
	now := s.now().UTC()
	expiresAt := now.Add(s.cfg.MaxPollDuration)

	created, err := s.gateway.CreatePayment(ctx, model.PaymentRequest{
		OrderID:     order.ID.String(),
		Amount:      order.Total,
		Currency:    order.Currency,
		Description: fmt.Sprintf("%d Robux", order.Quantity),
		PayerID:     order.BuyerID,
		ExpiresAt:   expiresAt,
	})
	if err != nil {
		if errors.Is(err, model.ErrInvalidPaymentRequest) {
			return s.rejectPaymentRequest(ctx, order, err)
		}
		s.logger.Warn().
			Str("order_id", order.ID.String()).
			Err(err).
			Msg("payment creation failed, order left for retry")
		return order, err
	}

	if created.ExpiresAt != nil {
		expiresAt = created.ExpiresAt.UTC()
	}

	pending, err := s.orders.Transition(ctx, repository.TransitionRequest{
		OrderID:  order.ID,
		Expected: model.StateCreated,
		Next:     model.StatePendingPayment,
		Mutate: func(o *model.Order) {
			o.PaymentReference = model.StringPtr(created.Reference)
			if created.PixCode != "" {
				o.PixCode = model.StringPtr(created.PixCode)
			}
			o.PaymentCreatedAt = model.TimePtr(now)
			o.PaymentExpiresAt = model.TimePtr(expiresAt)
			o.UpdatedAt = now
		},
		Actor: actorEngine,
	})
	if err != nil {
		if errors.Is(err, model.ErrConcurrencyConflict) {
			ref := created.Reference
			s.spawn(func() { _ = s.voidPayment(order.ID, ref) })
		}
		return nil, err
	}
	s.logTransition(pending, model.StateCreated)

	if err := s.startPoll(pending); err != nil && !errors.Is(err, model.ErrPollAlreadyRunning) {
		s.logger.Error().
			Err(err).
			Str("order_id", pending.ID.String()).
			Msg("failed to start payment poll")
	}
	return pending, nil
}

// rejectPaymentRequest cancels an order whose payment the gateway refused.
func (s *orderService) rejectPaymentRequest(ctx context.Context, order *model.Order, cause error) (*model.Order, error) {
	now := s.now().UTC()
	cancelled, err := s.orders.Transition(ctx, repository.TransitionRequest{
		OrderID:  order.ID,
		Expected: model.StateCreated,
		Next:     model.StateCancelled,
		Mutate: func(o *model.Order) {
			o.FailureReason = model.StringPtr(model.ReasonInvalidPaymentRequest)
			o.UpdatedAt = now
		},
		Actor:  actorEngine,
		Reason: model.StringPtr(model.ReasonInvalidPaymentRequest),
	})
	if err != nil {
		return nil, err
	}
	s.logTransition(cancelled, model.StateCreated)
	s.notifier.Send(cancelled.BuyerID, cancelled.ID, model.EventOrderCancelled)
	return cancelled, cause
}

// voidPayment cancels an unpaid payment at the gateway. A failure is logged
// and returned.
func (s *orderService) voidPayment(orderID uuid.UUID, reference string) error {
	ctx, cancel := context.WithTimeout(s.baseCtx, s.cfg.GatewayCallTimeout)
	defer cancel()

	if err := s.gateway.Cancel(ctx, reference); err != nil {
		s.logger.Warn().
			Err(err).
			Str("order_id", orderID.String()).
			Str("payment_reference", reference).
			Msg("failed to cancel payment at gateway")
		return err
	}
	return nil
}

// spawn runs fn as a tracked background task. It returns false after Shutdown.
func (s *orderService) spawn(fn func()) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
	return true
}

func (s *orderService) basePrice(quantity int) decimal.Decimal {
	return s.cfg.PricePerUnit.Mul(decimal.NewFromInt(int64(quantity)))
}

func (s *orderService) logTransition(order *model.Order, from model.OrderState) {
	event := s.logger.Info().
		Str("order_id", order.ID.String()).
		Str("from", string(from)).
		Str("to", string(order.State))
	if order.FailureReason != nil {
		event = event.Str("reason", *order.FailureReason)
	}
	event.Msg("order transitioned")
}

// validateOrderRequest validates the order request.
func (s *orderService) validateOrderRequest(req *model.OrderRequest) error {
	if req == nil {
		return fmt.Errorf("%w: order request", model.ErrMissingField)
	}
	if strings.TrimSpace(req.BuyerID) == "" {
		return fmt.Errorf("%w: buyer id", model.ErrMissingField)
	}
	if strings.TrimSpace(req.TargetAccount) == "" {
		return fmt.Errorf("%w: target account", model.ErrMissingField)
	}
	return s.validateQuantity(req.Quantity)
}

func (s *orderService) validateQuantity(quantity int) error {
	if quantity < s.cfg.MinQuantity || quantity > s.cfg.MaxQuantity {
		s.logger.Debug().
			Int("quantity", quantity).
			Int("min", s.cfg.MinQuantity).
			Int("max", s.cfg.MaxQuantity).
			Msg("invalid quantity")
		return fmt.Errorf("%w: %d not in [%d, %d]", model.ErrInvalidQuantity, quantity, s.cfg.MinQuantity, s.cfg.MaxQuantity)
	}
	return nil
}
