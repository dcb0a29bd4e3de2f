package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// webhookSink posts events as JSON to the chat platform's bot endpoint.
type webhookSink struct {
	url    string
	client *http.Client
	logger zerolog.Logger
}

// NewWebhookSink creates a sink that POSTs each event to url.
func NewWebhookSink(url string, timeout time.Duration, logger zerolog.Logger) Sink {
	return &webhookSink{
		url:    url,
		client: &http.Client{Timeout: timeout},
		logger: logger.With().Str("component", "notify-webhook").Logger(),
	}
}

// Notify posts the event. Any non-2xx response is an error.
func (s *webhookSink) Notify(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	s.logger.Debug().
		Str("order_id", event.OrderID.String()).
		Str("kind", string(event.Kind)).
		Msg("event delivered")
	return nil
}
