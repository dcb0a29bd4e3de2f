package notify

import (
	"context"
	"time"

	"robux-shop/internal/model"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Event is one order event reported to a buyer.
type Event struct {
	BuyerID string          `json:"buyerId"`
	OrderID uuid.UUID       `json:"orderId"`
	Kind    model.EventKind `json:"kind"`
	At      time.Time       `json:"at"`
}

// Sink delivers order events to the chat platform.
type Sink interface {
	Notify(ctx context.Context, event Event) error
}

// logSink writes events to the structured log. It is the sink used when no
// webhook is configured.
type logSink struct {
	logger zerolog.Logger
}

// NewLogSink creates a sink that only logs events.
func NewLogSink(logger zerolog.Logger) Sink {
	return &logSink{logger: logger.With().Str("component", "notify-log").Logger()}
}

// Notify logs the event.
func (s *logSink) Notify(_ context.Context, event Event) error {
	s.logger.Info().
		Str("buyer_id", event.BuyerID).
		Str("order_id", event.OrderID.String()).
		Str("kind", string(event.Kind)).
		Msg("order event")
	return nil
}
