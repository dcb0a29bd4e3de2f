package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"robux-shop/internal/config"
	"robux-shop/internal/model"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

const (
	// DefaultBaseURL is the Mercado Pago API root.
	DefaultBaseURL = "https://api.mercadopago.com"

	expirationLayout  = "2006-01-02T15:04:05.000-07:00"
	defaultPayerEmail = "cliente@email.com"
)

type payer struct {
	Email     string `json:"email"`
	FirstName string `json:"first_name,omitempty"`
}

type createPaymentRequest struct {
	TransactionAmount json.Number `json:"transaction_amount"`
	Description       string      `json:"description"`
	PaymentMethodID   string      `json:"payment_method_id"`
	Payer             payer       `json:"payer"`
	DateOfExpiration  string      `json:"date_of_expiration"`
	ExternalReference string      `json:"external_reference"`
}

type paymentResponse struct {
	ID                 int64           `json:"id"`
	Status             string          `json:"status"`
	TransactionAmount  decimal.Decimal `json:"transaction_amount"`
	CurrencyID         string          `json:"currency_id"`
	ExternalReference  string          `json:"external_reference"`
	DateOfExpiration   string          `json:"date_of_expiration"`
	PointOfInteraction struct {
		TransactionData struct {
			QRCode string `json:"qr_code"`
		} `json:"transaction_data"`
	} `json:"point_of_interaction"`
}

type errorResponse struct {
	Message string `json:"message"`
	Error   string `json:"error"`
	Status  int    `json:"status"`
}

// mercadoPago implements Gateway against the Mercado Pago payments API using
// PIX as the payment method.
type mercadoPago struct {
	accessToken string
	baseURL     string
	client      *http.Client
	limiter     *rate.Limiter
	logger      zerolog.Logger
}

// NewMercadoPagoClient creates a gateway client. Calls are paced by a token
// bucket of cfg.RateLimitRPS requests per second.
func NewMercadoPagoClient(cfg config.PaymentConfig, logger zerolog.Logger) Gateway {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	burst := int(cfg.RateLimitRPS)
	if burst < 1 {
		burst = 1
	}

	return &mercadoPago{
		accessToken: cfg.AccessToken,
		baseURL:     baseURL,
		client:      &http.Client{Timeout: timeout},
		limiter:     rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), burst),
		logger:      logger.With().Str("component", "payment-gateway").Logger(),
	}
}

// CreatePayment creates a PIX payment whose external reference is the order id.
func (c *mercadoPago) CreatePayment(ctx context.Context, req model.PaymentRequest) (*model.Payment, error) {
	body := createPaymentRequest{
		TransactionAmount: json.Number(req.Amount.StringFixed(model.MoneyPlaces)),
		Description:       req.Description,
		PaymentMethodID:   "pix",
		Payer:             payer{Email: defaultPayerEmail, FirstName: req.PayerID},
		DateOfExpiration:  req.ExpiresAt.Format(expirationLayout),
		ExternalReference: req.OrderID,
	}

	var resp paymentResponse
	if err := c.do(ctx, http.MethodPost, "/v1/payments", req.OrderID, body, &resp); err != nil {
		c.logger.Warn().Err(err).Str("order_id", req.OrderID).Msg("failed to create payment")
		return nil, err
	}

	status, err := MapStatus(resp.Status)
	if err != nil {
		return nil, err
	}

	payment := &model.Payment{
		Reference: strconv.FormatInt(resp.ID, 10),
		Status:    status,
		Amount:    resp.TransactionAmount,
		OrderID:   resp.ExternalReference,
		PixCode:   resp.PointOfInteraction.TransactionData.QRCode,
	}
	if expires, err := time.Parse(time.RFC3339, resp.DateOfExpiration); err == nil {
		payment.ExpiresAt = &expires
	} else {
		payment.ExpiresAt = &req.ExpiresAt
	}

	c.logger.Info().
		Str("order_id", req.OrderID).
		Str("payment_reference", payment.Reference).
		Str("amount", req.Amount.StringFixed(model.MoneyPlaces)).
		Msg("payment created")

	return payment, nil
}

// GetStatus reads a payment and maps its status.
func (c *mercadoPago) GetStatus(ctx context.Context, reference string) (model.PaymentStatus, error) {
	var resp paymentResponse
	if err := c.do(ctx, http.MethodGet, "/v1/payments/"+reference, "", nil, &resp); err != nil {
		return "", err
	}
	return MapStatus(resp.Status)
}

// Refund issues a full refund.
func (c *mercadoPago) Refund(ctx context.Context, reference string) error {
	err := c.do(ctx, http.MethodPost, "/v1/payments/"+reference+"/refunds", "refund-"+reference, struct{}{}, nil)
	if err != nil {
		c.logger.Warn().Err(err).Str("payment_reference", reference).Msg("failed to refund payment")
		return err
	}

	c.logger.Info().Str("payment_reference", reference).Msg("payment refunded")
	return nil
}

// Cancel marks a pending payment as cancelled.
func (c *mercadoPago) Cancel(ctx context.Context, reference string) error {
	body := map[string]string{"status": "cancelled"}
	if err := c.do(ctx, http.MethodPut, "/v1/payments/"+reference, "", body, nil); err != nil {
		c.logger.Warn().Err(err).Str("payment_reference", reference).Msg("failed to cancel payment")
		return err
	}

	c.logger.Info().Str("payment_reference", reference).Msg("payment cancelled")
	return nil
}

// do sends one API call. Transport failures, 429 and 5xx responses become
// model.ErrGatewayUnavailable; any other non-2xx becomes
// model.ErrInvalidPaymentRequest.
func (c *mercadoPago) do(ctx context.Context, method, path, idempotencyKey string, in, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %v", model.ErrGatewayUnavailable, err)
	}

	var reader io.Reader
	if in != nil {
		body, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Authorization", "Bearer "+c.accessToken)
	httpReq.Header.Set("Accept", "application/json")
	if in != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if idempotencyKey != "" {
		httpReq.Header.Set("X-Idempotency-Key", idempotencyKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %v", model.ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: failed to read response body: %v", model.ErrGatewayUnavailable, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		message := string(respBody)
		var apiErr errorResponse
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Message != "" {
			message = apiErr.Message
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return fmt.Errorf("%w: status %d: %s", model.ErrGatewayUnavailable, resp.StatusCode, message)
		}
		return fmt.Errorf("%w: status %d: %s", model.ErrInvalidPaymentRequest, resp.StatusCode, message)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("%w: failed to decode response: %v", model.ErrGatewayUnavailable, err)
	}
	return nil
}

// MapStatus folds a Mercado Pago payment status into the four statuses the
// engine acts on. An unknown status is reported as transient so the caller
// reads it again instead of acting on it.
func MapStatus(status string) (model.PaymentStatus, error) {
	switch status {
	case "pending", "in_process", "in_mediation", "authorized":
		return model.PaymentPending, nil
	case "approved":
		return model.PaymentApproved, nil
	case "rejected", "refunded", "charged_back":
		return model.PaymentRejected, nil
	case "cancelled", "expired":
		return model.PaymentExpired, nil
	}
	return "", fmt.Errorf("%w: unknown payment status %q", model.ErrGatewayUnavailable, status)
}
