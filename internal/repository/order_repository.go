package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"robux-shop/internal/model"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Money columns travel as text so decimal values keep their exact scale.
const orderColumns = `
	id, buyer_id, target_account, target_account_id, quantity,
	unit_price::text, coupon_code, discount::text, total::text, currency,
	deliverable_price, payment_reference, pix_code, payment_created_at, payment_expires_at,
	deliverable_id, deliverable_url, state, failure_reason, refund_reason,
	created_at, updated_at, paid_at, delivered_at, delivered_by, refunded_at`

// orderRepository implements the OrderRepository interface using PostgreSQL.
type orderRepository struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
	now    func() time.Time
}

// NewOrderRepository creates a new PostgreSQL-backed order repository.
func NewOrderRepository(pool *pgxpool.Pool, logger zerolog.Logger) OrderRepository {
	return &orderRepository{
		pool:   pool,
		logger: logger.With().Str("repository", "order").Logger(),
		now:    time.Now,
	}
}

// Create inserts a new order and redeems its coupon in one transaction.
func (r *orderRepository) Create(ctx context.Context, order *model.Order) (err error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to begin transaction")
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	// Ensure transaction is rolled back on error
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				r.logger.Error().Err(rbErr).Msg("failed to rollback transaction")
			}
		}
	}()

	if order.CouponCode != nil {
		if err = r.redeemCoupon(ctx, tx, *order.CouponCode, order.CreatedAt); err != nil {
			return err
		}
	}

	query := `
		INSERT INTO orders (
			id, buyer_id, target_account, target_account_id, quantity,
			unit_price, coupon_code, discount, total, currency,
			deliverable_price, state, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6::text::numeric, $7, $8::text::numeric, $9::text::numeric, $10, $11, $12, $13, $14)
	`

	_, err = tx.Exec(ctx, query,
		order.ID, order.BuyerID, order.TargetAccount, order.TargetAccountID, order.Quantity,
		order.UnitPrice.String(), order.CouponCode, order.Discount.String(), order.Total.String(), order.Currency,
		order.DeliverablePrice, string(order.State), order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		r.logger.Error().
			Err(err).
			Str("order_id", order.ID.String()).
			Msg("failed to create order")
		return fmt.Errorf("failed to create order: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		r.logger.Error().Err(err).Str("order_id", order.ID.String()).Msg("failed to commit transaction")
		return fmt.Errorf("failed to create order: %w", err)
	}

	r.logger.Debug().
		Str("order_id", order.ID.String()).
		Msg("order created successfully")

	return nil
}

// redeemCoupon increments the coupon's usage count if it can still be
// redeemed at now. The row lock taken by the UPDATE serializes racing orders
// on the same code.
func (r *orderRepository) redeemCoupon(ctx context.Context, tx pgx.Tx, code string, now time.Time) error {
	query := `
		UPDATE coupons
		SET uses = uses + 1
		WHERE code = $1
		  AND active
		  AND (valid_until IS NULL OR valid_until > $2)
		  AND (max_uses IS NULL OR uses < max_uses)
	`

	tag, err := tx.Exec(ctx, query, code, now)
	if err != nil {
		r.logger.Error().Err(err).Str("coupon_code", code).Msg("failed to redeem coupon")
		return fmt.Errorf("failed to redeem coupon: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	coupon, err := scanCoupon(tx.QueryRow(ctx, `SELECT `+couponColumns+` FROM coupons WHERE code = $1`, code))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.ErrCouponNotFound
		}
		return fmt.Errorf("failed to query coupon: %w", err)
	}
	if err := coupon.CheckRedeemable(now); err != nil {
		r.logger.Debug().Str("coupon_code", code).Err(err).Msg("coupon redemption refused")
		return err
	}
	return model.ErrCouponUsageLimitReached
}

// GetByID retrieves an order by its ID.
func (r *orderRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Order, error) {
	order, err := scanOrder(r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			r.logger.Debug().Str("order_id", id.String()).Msg("order not found")
			return nil, model.ErrOrderNotFound
		}
		r.logger.Error().Err(err).Str("order_id", id.String()).Msg("failed to query order")
		return nil, fmt.Errorf("failed to query order: %w", err)
	}
	return order, nil
}

// Transition locks the order row, compares its state with req.Expected and
// writes the mutated order together with an audit row.
func (r *orderRepository) Transition(ctx context.Context, req TransitionRequest) (_ *model.Order, err error) {
	log := r.logger.With().Str("order_id", req.OrderID.String()).Logger()

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		log.Error().Err(err).Msg("failed to begin transaction")
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				log.Error().Err(rbErr).Msg("failed to rollback transaction")
			}
		}
	}()

	current, err := scanOrder(tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, req.OrderID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrOrderNotFound
		}
		log.Error().Err(err).Msg("failed to lock order")
		return nil, fmt.Errorf("failed to lock order: %w", err)
	}

	if current.State != req.Expected {
		return nil, &model.ConflictError{OrderID: req.OrderID, Expected: req.Expected, Actual: current.State}
	}

	updated, err := model.ApplyTransition(current, req.Next, req.Mutate, r.now().UTC())
	if err != nil {
		log.Error().Err(err).
			Str("from", string(current.State)).
			Str("to", string(req.Next)).
			Msg("rejected order transition")
		return nil, err
	}

	query := `
		UPDATE orders SET
			payment_reference = $2, pix_code = $3, payment_created_at = $4, payment_expires_at = $5,
			deliverable_id = $6, deliverable_url = $7, state = $8, failure_reason = $9, refund_reason = $10,
			updated_at = $11, paid_at = $12, delivered_at = $13, delivered_by = $14, refunded_at = $15
		WHERE id = $1
	`

	_, err = tx.Exec(ctx, query,
		updated.ID, updated.PaymentReference, updated.PixCode, updated.PaymentCreatedAt, updated.PaymentExpiresAt,
		updated.DeliverableID, updated.DeliverableURL, string(updated.State), updated.FailureReason, updated.RefundReason,
		updated.UpdatedAt, updated.PaidAt, updated.DeliveredAt, updated.DeliveredBy, updated.RefundedAt,
	)
	if err != nil {
		log.Error().Err(err).Msg("failed to update order")
		return nil, fmt.Errorf("failed to update order: %w", err)
	}

	if current.State != updated.State {
		_, err = tx.Exec(ctx,
			`INSERT INTO order_transitions (order_id, from_state, to_state, actor, reason, at) VALUES ($1, $2, $3, $4, $5, $6)`,
			updated.ID, string(current.State), string(updated.State), req.Actor, req.Reason, updated.UpdatedAt,
		)
		if err != nil {
			log.Error().Err(err).Msg("failed to record transition")
			return nil, fmt.Errorf("failed to record transition: %w", err)
		}
	}

	if err = tx.Commit(ctx); err != nil {
		log.Error().Err(err).Msg("failed to commit transaction")
		return nil, fmt.Errorf("failed to update order: %w", err)
	}

	return updated, nil
}

// ListByBuyer returns a buyer's orders, newest first.
func (r *orderRepository) ListByBuyer(ctx context.Context, buyerID string) ([]model.Order, error) {
	return r.list(ctx, `SELECT `+orderColumns+` FROM orders WHERE buyer_id = $1 ORDER BY created_at DESC, id`, buyerID)
}

// ListByState returns every order in state, oldest first.
func (r *orderRepository) ListByState(ctx context.Context, state model.OrderState) ([]model.Order, error) {
	return r.list(ctx, `SELECT `+orderColumns+` FROM orders WHERE state = $1 ORDER BY created_at, id`, string(state))
}

func (r *orderRepository) list(ctx context.Context, query string, arg any) ([]model.Order, error) {
	rows, err := r.pool.Query(ctx, query, arg)
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to query orders")
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	orders := []model.Order{}
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			r.logger.Error().Err(err).Msg("failed to scan order row")
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, *order)
	}

	if err := rows.Err(); err != nil {
		r.logger.Error().Err(err).Msg("error iterating order rows")
		return nil, fmt.Errorf("error iterating orders: %w", err)
	}

	return orders, nil
}

// History returns the audited transitions of an order.
func (r *orderRepository) History(ctx context.Context, id uuid.UUID) ([]model.Transition, error) {
	query := `
		SELECT order_id, from_state, to_state, actor, reason, at
		FROM order_transitions
		WHERE order_id = $1
		ORDER BY id
	`

	rows, err := r.pool.Query(ctx, query, id)
	if err != nil {
		r.logger.Error().Err(err).Str("order_id", id.String()).Msg("failed to query order history")
		return nil, fmt.Errorf("failed to query order history: %w", err)
	}
	defer rows.Close()

	history := []model.Transition{}
	for rows.Next() {
		var (
			t        model.Transition
			from, to string
		)
		if err := rows.Scan(&t.OrderID, &from, &to, &t.Actor, &t.Reason, &t.At); err != nil {
			r.logger.Error().Err(err).Msg("failed to scan transition row")
			return nil, fmt.Errorf("failed to scan transition: %w", err)
		}
		t.From = model.OrderState(from)
		t.To = model.OrderState(to)
		history = append(history, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating order history: %w", err)
	}

	return history, nil
}

func scanOrder(row pgx.Row) (*model.Order, error) {
	var (
		o                          model.Order
		unitPrice, discount, total string
		state                      string
	)

	err := row.Scan(
		&o.ID, &o.BuyerID, &o.TargetAccount, &o.TargetAccountID, &o.Quantity,
		&unitPrice, &o.CouponCode, &discount, &total, &o.Currency,
		&o.DeliverablePrice, &o.PaymentReference, &o.PixCode, &o.PaymentCreatedAt, &o.PaymentExpiresAt,
		&o.DeliverableID, &o.DeliverableURL, &state, &o.FailureReason, &o.RefundReason,
		&o.CreatedAt, &o.UpdatedAt, &o.PaidAt, &o.DeliveredAt, &o.DeliveredBy, &o.RefundedAt,
	)
	if err != nil {
		return nil, err
	}

	if o.UnitPrice, err = decimal.NewFromString(unitPrice); err != nil {
		return nil, fmt.Errorf("invalid unit price %q: %w", unitPrice, err)
	}
	if o.Discount, err = decimal.NewFromString(discount); err != nil {
		return nil, fmt.Errorf("invalid discount %q: %w", discount, err)
	}
	if o.Total, err = decimal.NewFromString(total); err != nil {
		return nil, fmt.Errorf("invalid total %q: %w", total, err)
	}
	o.Currency = strings.TrimSpace(o.Currency)
	o.State = model.OrderState(state)

	return &o, nil
}
