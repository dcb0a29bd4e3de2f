package notify

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"robux-shop/internal/model"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Dispatcher hands events to a Sink in the background. Send never blocks on
// the sink and a failed delivery is only logged.
type Dispatcher struct {
	sink     Sink
	timeout  time.Duration
	logger   zerolog.Logger
	now      func() time.Time
	inFlight atomic.Int64

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewDispatcher creates a dispatcher; each delivery gets its own timeout.
func NewDispatcher(sink Sink, timeout time.Duration, logger zerolog.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Dispatcher{
		sink:    sink,
		timeout: timeout,
		logger:  logger.With().Str("component", "notify-dispatcher").Logger(),
		now:     time.Now,
	}
}

// Send queues one event for delivery. Events sent after Close are dropped.
func (d *Dispatcher) Send(buyerID string, orderID uuid.UUID, kind model.EventKind) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.logger.Warn().
			Str("order_id", orderID.String()).
			Str("kind", string(kind)).
			Msg("dispatcher closed, dropping event")
		return
	}

	event := Event{BuyerID: buyerID, OrderID: orderID, Kind: kind, At: d.now().UTC()}

	d.wg.Add(1)
	d.inFlight.Add(1)
	go func() {
		defer d.wg.Done()
		defer d.inFlight.Add(-1)

		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()

		if err := d.sink.Notify(ctx, event); err != nil {
			d.logger.Warn().
				Err(err).
				Str("buyer_id", buyerID).
				Str("order_id", orderID.String()).
				Str("kind", string(kind)).
				Msg("failed to notify buyer")
		}
	}()
}

// InFlight returns the number of deliveries still running.
func (d *Dispatcher) InFlight() int64 {
	return d.inFlight.Load()
}

// Close stops accepting events and waits for running deliveries or ctx.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
