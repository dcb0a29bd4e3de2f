package handler

import (
	"errors"
	"net/http"
	"strconv"

	"robux-shop/internal/model"
	"robux-shop/internal/service"

	"github.com/rs/zerolog"
)

// CancelRequest is the body of POST /api/orders/{id}/cancel.
type CancelRequest struct {
	BuyerID string `json:"buyerId"`
}

// DeliverRequest is the body of POST /api/orders/{id}/deliver.
type DeliverRequest struct {
	Actor string `json:"actor"`
}

// RefundRequest is the body of POST /api/orders/{id}/refund.
type RefundRequest struct {
	AdminID string `json:"adminId"`
	Reason  string `json:"reason"`
}

// OrderHandler handles order-related HTTP requests.
type OrderHandler struct {
	service service.OrderService
	logger  zerolog.Logger
}

// NewOrderHandler creates a new order handler.
func NewOrderHandler(service service.OrderService, logger zerolog.Logger) *OrderHandler {
	return &OrderHandler{
		service: service,
		logger:  logger.With().Str("handler", "order").Logger(),
	}
}

// Create handles POST /api/orders requests. An order stored while the
// payment gateway is down is answered with 202 so the caller can retry the
// payment for it.
func (h *OrderHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req model.OrderRequest
	if !decodeJSON(w, r, &req, h.logger) {
		return
	}

	order, err := h.service.CreateOrder(r.Context(), &req)
	if err != nil {
		if order != nil && errors.Is(err, model.ErrGatewayUnavailable) {
			w.Header().Set("Retry-After", "30")
			writeJSON(w, http.StatusAccepted, order)
			return
		}
		writeDomainError(w, err, h.logger)
		return
	}

	writeJSON(w, http.StatusCreated, order)
}

// GetByID handles GET /api/orders/{id} requests.
func (h *OrderHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r, h.logger)
	if !ok {
		return
	}

	order, err := h.service.GetOrder(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, h.logger)
		return
	}

	writeJSON(w, http.StatusOK, order)
}

// List handles GET /api/orders?buyerId= requests.
func (h *OrderHandler) List(w http.ResponseWriter, r *http.Request) {
	buyerID := r.URL.Query().Get("buyerId")
	if buyerID == "" {
		writeError(w, http.StatusBadRequest, model.ErrCodeMissingField, "buyerId query parameter is required", h.logger)
		return
	}

	orders, err := h.service.ListOrders(r.Context(), buyerID)
	if err != nil {
		writeDomainError(w, err, h.logger)
		return
	}
	if orders == nil {
		orders = []model.Order{}
	}

	writeJSON(w, http.StatusOK, orders)
}

// History handles GET /api/orders/{id}/history requests.
func (h *OrderHandler) History(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r, h.logger)
	if !ok {
		return
	}

	history, err := h.service.History(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, h.logger)
		return
	}
	if history == nil {
		history = []model.Transition{}
	}

	writeJSON(w, http.StatusOK, history)
}

// CheckPayment handles POST /api/orders/{id}/check-payment requests.
func (h *OrderHandler) CheckPayment(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r, h.logger)
	if !ok {
		return
	}

	order, err := h.service.CheckPayment(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, h.logger)
		return
	}

	writeJSON(w, http.StatusOK, order)
}

// RetryPayment handles POST /api/orders/{id}/retry-payment requests.
func (h *OrderHandler) RetryPayment(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r, h.logger)
	if !ok {
		return
	}

	order, err := h.service.RetryPayment(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, h.logger)
		return
	}

	writeJSON(w, http.StatusOK, order)
}

// Cancel handles POST /api/orders/{id}/cancel requests.
func (h *OrderHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r, h.logger)
	if !ok {
		return
	}

	var req CancelRequest
	if !decodeJSON(w, r, &req, h.logger) {
		return
	}
	if req.BuyerID == "" {
		writeError(w, http.StatusBadRequest, model.ErrCodeMissingField, "buyerId is required", h.logger)
		return
	}

	order, err := h.service.CancelOrder(r.Context(), id, req.BuyerID)
	if err != nil {
		writeDomainError(w, err, h.logger)
		return
	}

	writeJSON(w, http.StatusOK, order)
}

// Deliver handles POST /api/orders/{id}/deliver requests.
func (h *OrderHandler) Deliver(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r, h.logger)
	if !ok {
		return
	}

	var req DeliverRequest
	if !decodeJSON(w, r, &req, h.logger) {
		return
	}

	order, err := h.service.ConfirmDelivery(r.Context(), id, req.Actor)
	if err != nil {
		writeDomainError(w, err, h.logger)
		return
	}

	writeJSON(w, http.StatusOK, order)
}

// Refund handles POST /api/orders/{id}/refund requests.
func (h *OrderHandler) Refund(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r, h.logger)
	if !ok {
		return
	}

	var req RefundRequest
	if !decodeJSON(w, r, &req, h.logger) {
		return
	}

	order, err := h.service.Refund(r.Context(), id, req.AdminID, req.Reason)
	if err != nil {
		writeDomainError(w, err, h.logger)
		return
	}

	writeJSON(w, http.StatusOK, order)
}

// Quote handles GET /api/quote?quantity=&coupon= requests.
func (h *OrderHandler) Quote(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("quantity")
	quantity, err := strconv.Atoi(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, model.ErrCodeInvalidQuantity, "quantity must be an integer", h.logger)
		return
	}

	quote, err := h.service.Quote(r.Context(), quantity, r.URL.Query().Get("coupon"))
	if err != nil {
		writeDomainError(w, err, h.logger)
		return
	}

	writeJSON(w, http.StatusOK, quote)
}
