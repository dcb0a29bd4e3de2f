package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"robux-shop/internal/model"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingSink keeps every event it receives.
type recordingSink struct {
	mu     sync.Mutex
	events []Event
	err    error
	delay  time.Duration
}

func (s *recordingSink) Notify(ctx context.Context, event Event) error {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return s.err
}

func (s *recordingSink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

func TestWebhookSink_Notify(t *testing.T) {
	orderID := uuid.New()
	var got Event

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	sink := NewWebhookSink(server.URL, time.Second, zerolog.Nop())

	err := sink.Notify(context.Background(), Event{BuyerID: "buyer-1", OrderID: orderID, Kind: model.EventPaymentConfirmed})

	require.NoError(t, err)
	assert.Equal(t, "buyer-1", got.BuyerID)
	assert.Equal(t, orderID, got.OrderID)
	assert.Equal(t, model.EventPaymentConfirmed, got.Kind)
}

func TestWebhookSink_Failures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	sink := NewWebhookSink(server.URL, time.Second, zerolog.Nop())

	err := sink.Notify(context.Background(), Event{OrderID: uuid.New(), Kind: model.EventOrderCancelled})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 502")

	closed := httptest.NewServer(http.NotFoundHandler())
	url := closed.URL
	closed.Close()

	err = NewWebhookSink(url, time.Second, zerolog.Nop()).Notify(context.Background(), Event{OrderID: uuid.New()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "webhook request failed")
}

func TestLogSink_NeverFails(t *testing.T) {
	sink := NewLogSink(zerolog.Nop())
	assert.NoError(t, sink.Notify(context.Background(), Event{OrderID: uuid.New(), Kind: model.EventRefundIssued}))
}

func TestDispatcher_DeliversInBackground(t *testing.T) {
	sink := &recordingSink{}
	d := NewDispatcher(sink, time.Second, zerolog.Nop())

	orderID := uuid.New()
	d.Send("buyer-1", orderID, model.EventPaymentConfirmed)
	d.Send("buyer-1", orderID, model.EventDeliveryReady)

	require.NoError(t, d.Close(context.Background()))

	events := sink.Events()
	require.Len(t, events, 2)
	kinds := []model.EventKind{events[0].Kind, events[1].Kind}
	assert.ElementsMatch(t, []model.EventKind{model.EventPaymentConfirmed, model.EventDeliveryReady}, kinds)
	assert.Equal(t, int64(0), d.InFlight())
}

func TestDispatcher_SinkFailureIsSwallowed(t *testing.T) {
	sink := &recordingSink{err: errors.New("chat platform down")}
	d := NewDispatcher(sink, time.Second, zerolog.Nop())

	d.Send("buyer-1", uuid.New(), model.EventOrderCancelled)

	require.NoError(t, d.Close(context.Background()))
	assert.Len(t, sink.Events(), 1)
}

func TestDispatcher_SendDoesNotBlockOnSlowSink(t *testing.T) {
	sink := &recordingSink{delay: 200 * time.Millisecond}
	d := NewDispatcher(sink, time.Second, zerolog.Nop())

	start := time.Now()
	d.Send("buyer-1", uuid.New(), model.EventRefundIssued)
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	// Close gives up at its own deadline
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, d.Close(ctx), context.DeadlineExceeded)

	require.NoError(t, d.Close(context.Background()))
}

func TestDispatcher_DropsAfterClose(t *testing.T) {
	sink := &recordingSink{}
	d := NewDispatcher(sink, time.Second, zerolog.Nop())

	require.NoError(t, d.Close(context.Background()))
	d.Send("buyer-1", uuid.New(), model.EventDeliveryReady)

	assert.Empty(t, sink.Events())
}
