package repository

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"robux-shop/internal/model"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type orderEntry struct {
	mu      sync.Mutex
	order   *model.Order
	history []model.Transition
}

type couponEntry struct {
	mu     sync.Mutex
	coupon *model.Coupon
}

// MemoryStore keeps orders and coupons in process memory. Each order and
// each coupon carries its own lock; there is no store-wide lock.
type MemoryStore struct {
	orders  sync.Map // uuid.UUID -> *orderEntry
	coupons sync.Map // string -> *couponEntry
	logger  zerolog.Logger
	now     func() time.Time
}

// NewMemoryStore creates an empty in-memory order and coupon store.
func NewMemoryStore(logger zerolog.Logger) *MemoryStore {
	return &MemoryStore{
		logger: logger.With().Str("repository", "memory").Logger(),
		now:    time.Now,
	}
}

// Create stores a new order, redeeming its coupon first. The redemption is
// undone if the order cannot be stored.
func (s *MemoryStore) Create(ctx context.Context, order *model.Order) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if order.CouponCode != nil {
		if err := s.redeemCoupon(*order.CouponCode, order.CreatedAt); err != nil {
			return err
		}
	}

	entry := &orderEntry{order: order.Clone()}
	if _, loaded := s.orders.LoadOrStore(order.ID, entry); loaded {
		if order.CouponCode != nil {
			s.releaseCoupon(*order.CouponCode)
		}
		return fmt.Errorf("failed to create order: duplicate id %s", order.ID)
	}

	s.logger.Debug().Str("order_id", order.ID.String()).Msg("order created successfully")
	return nil
}

func (s *MemoryStore) redeemCoupon(code string, now time.Time) error {
	v, ok := s.coupons.Load(code)
	if !ok {
		return model.ErrCouponNotFound
	}
	entry := v.(*couponEntry)

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if err := entry.coupon.CheckRedeemable(now); err != nil {
		return err
	}
	entry.coupon.Uses++
	return nil
}

func (s *MemoryStore) releaseCoupon(code string) {
	v, ok := s.coupons.Load(code)
	if !ok {
		return
	}
	entry := v.(*couponEntry)

	entry.mu.Lock()
	entry.coupon.Uses--
	entry.mu.Unlock()
}

// GetByID returns a copy of the order.
func (s *MemoryStore) GetByID(ctx context.Context, id uuid.UUID) (*model.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	v, ok := s.orders.Load(id)
	if !ok {
		return nil, model.ErrOrderNotFound
	}
	entry := v.(*orderEntry)

	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.order.Clone(), nil
}

// Transition applies req under the order's lock.
func (s *MemoryStore) Transition(ctx context.Context, req TransitionRequest) (*model.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	v, ok := s.orders.Load(req.OrderID)
	if !ok {
		return nil, model.ErrOrderNotFound
	}
	entry := v.(*orderEntry)

	entry.mu.Lock()
	defer entry.mu.Unlock()

	current := entry.order
	if current.State != req.Expected {
		return nil, &model.ConflictError{OrderID: req.OrderID, Expected: req.Expected, Actual: current.State}
	}

	updated, err := model.ApplyTransition(current, req.Next, req.Mutate, s.now().UTC())
	if err != nil {
		s.logger.Error().Err(err).
			Str("order_id", req.OrderID.String()).
			Str("from", string(current.State)).
			Str("to", string(req.Next)).
			Msg("rejected order transition")
		return nil, err
	}

	if current.State != updated.State {
		entry.history = append(entry.history, model.Transition{
			OrderID: updated.ID,
			From:    current.State,
			To:      updated.State,
			Actor:   req.Actor,
			Reason:  req.Reason,
			At:      updated.UpdatedAt,
		})
	}
	entry.order = updated

	return updated.Clone(), nil
}

// ListByBuyer returns a buyer's orders, newest first.
func (s *MemoryStore) ListByBuyer(ctx context.Context, buyerID string) ([]model.Order, error) {
	orders := s.collect(func(o *model.Order) bool { return o.BuyerID == buyerID })
	sort.Slice(orders, func(i, j int) bool {
		return orders[i].CreatedAt.After(orders[j].CreatedAt)
	})
	return orders, ctx.Err()
}

// ListByState returns every order in state, oldest first.
func (s *MemoryStore) ListByState(ctx context.Context, state model.OrderState) ([]model.Order, error) {
	orders := s.collect(func(o *model.Order) bool { return o.State == state })
	sort.Slice(orders, func(i, j int) bool {
		return orders[i].CreatedAt.Before(orders[j].CreatedAt)
	})
	return orders, ctx.Err()
}

func (s *MemoryStore) collect(match func(*model.Order) bool) []model.Order {
	orders := []model.Order{}
	s.orders.Range(func(_, v any) bool {
		entry := v.(*orderEntry)
		entry.mu.Lock()
		if match(entry.order) {
			orders = append(orders, *entry.order.Clone())
		}
		entry.mu.Unlock()
		return true
	})
	return orders
}

// History returns the audited transitions of an order.
func (s *MemoryStore) History(ctx context.Context, id uuid.UUID) ([]model.Transition, error) {
	v, ok := s.orders.Load(id)
	if !ok {
		return nil, model.ErrOrderNotFound
	}
	entry := v.(*orderEntry)

	entry.mu.Lock()
	defer entry.mu.Unlock()

	history := make([]model.Transition, len(entry.history))
	copy(history, entry.history)
	return history, ctx.Err()
}

// GetByCode returns a copy of the coupon.
func (s *MemoryStore) GetByCode(ctx context.Context, code string) (*model.Coupon, error) {
	v, ok := s.coupons.Load(strings.ToUpper(code))
	if !ok {
		return nil, model.ErrCouponNotFound
	}
	entry := v.(*couponEntry)

	entry.mu.Lock()
	defer entry.mu.Unlock()

	c := *entry.coupon
	return &c, ctx.Err()
}

// Upsert stores a coupon definition, keeping the usage count of an existing one.
func (s *MemoryStore) Upsert(ctx context.Context, coupon *model.Coupon) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c := *coupon
	c.Code = strings.ToUpper(c.Code)
	c.Uses = 0

	v, loaded := s.coupons.LoadOrStore(c.Code, &couponEntry{coupon: &c})
	if !loaded {
		return nil
	}
	entry := v.(*couponEntry)

	entry.mu.Lock()
	defer entry.mu.Unlock()

	c.Uses = entry.coupon.Uses
	c.CreatedAt = entry.coupon.CreatedAt
	if c.MaxUses != nil && *c.MaxUses < c.Uses {
		limit := c.Uses
		c.MaxUses = &limit
	}
	entry.coupon = &c
	return nil
}

var (
	_ OrderRepository  = (*MemoryStore)(nil)
	_ CouponRepository = (*MemoryStore)(nil)
)
