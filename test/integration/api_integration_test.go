package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"robux-shop/internal/config"
	"robux-shop/internal/coupon"
	"robux-shop/internal/delivery"
	"robux-shop/internal/handler"
	"robux-shop/internal/model"
	"robux-shop/internal/notify"
	"robux-shop/internal/payment"
	"robux-shop/internal/repository"
	"robux-shop/internal/router"
	"robux-shop/internal/service"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testAPIKey     = "test-api-key"
	testAdminKey   = "test-admin-key"
	testUsername   = "builderman"
	testAccountID  = int64(156)
	testUniverseID = int64(4800)
	testGamePassID = int64(555)
)

type testServer struct {
	handler http.Handler
	engine  service.OrderService
	mp      *FakeMercadoPago
	roblox  *FakeRoblox
	chat    *FakeChat
}

func testEngineConfig() service.Config {
	return service.Config{
		Currency:              "BRL",
		PricePerUnit:          decimal.RequireFromString("0.10"),
		MinQuantity:           100,
		MaxQuantity:           100000,
		TaxRate:               decimal.RequireFromString("0.30"),
		PollInterval:          50 * time.Millisecond,
		MaxPollDuration:       10 * time.Second,
		AutoDeliveryCheck:     true,
		DeliveryCheckInterval: 50 * time.Millisecond,
		MaxDeliveryWait:       10 * time.Second,
		GatewayCallTimeout:    2 * time.Second,
	}
}

// setupTestServer wires the engine to postgres and to fresh fake upstreams
// over real HTTP clients.
func setupTestServer(t *testing.T, testDB *TestDB, cfg service.Config) *testServer {
	t.Helper()

	mp := NewFakeMercadoPago(t)
	roblox := NewFakeRoblox(t, testUsername, testAccountID)
	chat := NewFakeChat(t)
	return startTestServer(t, testDB, cfg, mp, roblox, chat)
}

// startTestServer builds an engine and router against existing fakes, as a
// restarted process would see them.
func startTestServer(t *testing.T, testDB *TestDB, cfg service.Config, mp *FakeMercadoPago, roblox *FakeRoblox, chat *FakeChat) *testServer {
	t.Helper()

	logger := zerolog.Nop()

	gateway := payment.NewMercadoPagoClient(config.PaymentConfig{
		AccessToken:    "TEST-token",
		BaseURL:        mp.URL,
		RateLimitRPS:   100,
		RequestTimeout: 2 * time.Second,
	}, logger)
	catalog := delivery.NewRobloxClient(config.RobloxConfig{
		UniverseID:   testUniverseID,
		TaxRate:      cfg.TaxRate,
		UsersURL:     roblox.URL,
		GamesURL:     roblox.URL,
		InventoryURL: roblox.URL,
	}, logger)

	orderRepo := repository.NewOrderRepository(testDB.Pool, logger)
	couponRepo := repository.NewCouponRepository(testDB.Pool, logger)
	dispatcher := notify.NewDispatcher(notify.NewWebhookSink(chat.URL, time.Second, logger), time.Second, logger)

	engine := service.NewOrderService(
		orderRepo,
		coupon.NewValidator(couponRepo, logger),
		gateway,
		catalog,
		dispatcher,
		cfg,
		logger,
	)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = engine.Shutdown(ctx)
		_ = dispatcher.Close(ctx)
	})

	orderHandler := handler.NewOrderHandler(engine, logger)
	healthHandler := handler.NewHealthHandler(engine, testDB.Pool, logger)

	return &testServer{
		handler: router.New(orderHandler, healthHandler, testAPIKey, testAdminKey, logger),
		engine:  engine,
		mp:      mp,
		roblox:  roblox,
		chat:    chat,
	}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	return s.doWithKey(t, testAPIKey, method, path, body)
}

// doAdmin sends a request with the admin key.
func (s *testServer) doAdmin(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	return s.doWithKey(t, testAdminKey, method, path, body)
}

func (s *testServer) doWithKey(t *testing.T, apiKey, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", apiKey)
	w := httptest.NewRecorder()

	s.handler.ServeHTTP(w, req)
	return w
}

func (s *testServer) getOrder(t *testing.T, id string) model.Order {
	t.Helper()

	w := s.do(t, http.MethodGet, "/api/orders/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var order model.Order
	require.NoError(t, json.NewDecoder(w.Body).Decode(&order))
	return order
}

func (s *testServer) waitForState(t *testing.T, id string, state model.OrderState) model.Order {
	t.Helper()

	var order model.Order
	require.Eventually(t, func() bool {
		order = s.getOrder(t, id)
		return order.State == state
	}, 5*time.Second, 20*time.Millisecond, "order %s never reached %s", id, state)
	return order
}

func decodeOrder(t *testing.T, w *httptest.ResponseRecorder) model.Order {
	t.Helper()

	var order model.Order
	require.NoError(t, json.NewDecoder(w.Body).Decode(&order))
	return order
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) model.ErrorResponse {
	t.Helper()

	var resp model.ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	return resp
}

func orderBody(buyerID string, quantity int, couponCode string) model.OrderRequest {
	req := model.OrderRequest{BuyerID: buyerID, TargetAccount: testUsername, Quantity: quantity}
	if couponCode != "" {
		req.CouponCode = &couponCode
	}
	return req
}

func TestOrderAPI_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	testDB := SetupTestDB(t)

	t.Run("Order is paid delivered and refunded", func(t *testing.T) {
		CleanupDB(t, testDB.Pool)
		limit := 5
		SeedCoupon(t, testDB.Pool, "SAVE10", "0.10", &limit)

		srv := setupTestServer(t, testDB, testEngineConfig())
		price := model.DeliverablePrice(1000, decimal.RequireFromString("0.30"))
		srv.roblox.AddGamePass(testGamePassID, price)

		w := srv.do(t, http.MethodPost, "/api/orders", orderBody("buyer-1", 1000, "save10"))
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

		created := decodeOrder(t, w)
		assert.Equal(t, model.StatePendingPayment, created.State)
		assert.Equal(t, "90.00", created.Total.StringFixed(2))
		assert.Equal(t, testAccountID, created.TargetAccountID)
		assert.Equal(t, price, created.DeliverablePrice)
		require.NotNil(t, created.CouponCode)
		assert.Equal(t, "SAVE10", *created.CouponCode)
		require.NotNil(t, created.PaymentReference)
		require.NotNil(t, created.PixCode)
		assert.NotEmpty(t, *created.PixCode)
		assert.Equal(t, 1, CouponUses(t, testDB.Pool, "SAVE10"))

		srv.mp.SetStatus(*created.PaymentReference, "approved")

		paid := srv.waitForState(t, created.ID.String(), model.StateAwaitingDelivery)
		require.NotNil(t, paid.PaidAt)
		require.Eventually(t, func() bool {
			return srv.getOrder(t, created.ID.String()).DeliverableURL != nil
		}, 5*time.Second, 20*time.Millisecond)

		srv.roblox.Acquire(testGamePassID)

		delivered := srv.waitForState(t, created.ID.String(), model.StateDelivered)
		require.NotNil(t, delivered.DeliverableID)
		assert.Equal(t, testGamePassID, *delivered.DeliverableID)
		assert.Equal(t, "https://www.roblox.com/game-pass/555", *delivered.DeliverableURL)
		require.NotNil(t, delivered.DeliveredBy)
		assert.Equal(t, "delivery-watcher", *delivered.DeliveredBy)

		w = srv.do(t, http.MethodGet, "/api/orders/"+created.ID.String()+"/history", nil)
		require.Equal(t, http.StatusOK, w.Code)
		var history []model.Transition
		require.NoError(t, json.NewDecoder(w.Body).Decode(&history))
		require.Len(t, history, 3)
		assert.Equal(t, model.StatePendingPayment, history[0].To)
		assert.Equal(t, model.StateAwaitingDelivery, history[1].To)
		assert.Equal(t, model.StateDelivered, history[2].To)

		w = srv.doAdmin(t, http.MethodPost, "/api/orders/"+created.ID.String()+"/refund",
			handler.RefundRequest{AdminID: "admin-1", Reason: "chargeback"})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		refunded := decodeOrder(t, w)
		assert.Equal(t, model.StateRefunded, refunded.State)
		assert.Equal(t, []string{*created.PaymentReference}, srv.mp.Refunds())

		// The dispatcher delivers concurrently, so arrival order is not fixed
		require.Eventually(t, func() bool { return len(srv.chat.Kinds()) == 4 }, 5*time.Second, 20*time.Millisecond)
		assert.ElementsMatch(t, []model.EventKind{
			model.EventPaymentConfirmed,
			model.EventDeliveryReady,
			model.EventOrderDelivered,
			model.EventRefundIssued,
		}, srv.chat.Kinds())

		w = srv.do(t, http.MethodGet, "/api/orders?buyerId=buyer-1", nil)
		require.Equal(t, http.StatusOK, w.Code)
		var orders []model.Order
		require.NoError(t, json.NewDecoder(w.Body).Decode(&orders))
		require.Len(t, orders, 1)
		assert.Equal(t, created.ID, orders[0].ID)
	})

	t.Run("Manual payment check and delivery confirmation", func(t *testing.T) {
		CleanupDB(t, testDB.Pool)

		cfg := testEngineConfig()
		cfg.PollInterval = time.Hour
		cfg.AutoDeliveryCheck = false
		srv := setupTestServer(t, testDB, cfg)
		srv.roblox.AddGamePass(testGamePassID, model.DeliverablePrice(500, cfg.TaxRate))

		w := srv.do(t, http.MethodPost, "/api/orders", orderBody("buyer-2", 500, ""))
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
		created := decodeOrder(t, w)

		w = srv.do(t, http.MethodPost, "/api/orders/"+created.ID.String()+"/check-payment", nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.Equal(t, model.StatePendingPayment, decodeOrder(t, w).State)

		srv.mp.SetStatus(*created.PaymentReference, "approved")
		w = srv.do(t, http.MethodPost, "/api/orders/"+created.ID.String()+"/check-payment", nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.Equal(t, model.StateAwaitingDelivery, decodeOrder(t, w).State)

		w = srv.do(t, http.MethodPost, "/api/orders/"+created.ID.String()+"/check-payment", nil)
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Equal(t, model.ErrCodeConflict, decodeError(t, w).Error)

		w = srv.do(t, http.MethodPost, "/api/orders/"+created.ID.String()+"/deliver", handler.DeliverRequest{Actor: "admin-7"})
		assert.Equal(t, http.StatusUnauthorized, w.Code)

		w = srv.doAdmin(t, http.MethodPost, "/api/orders/"+created.ID.String()+"/deliver", handler.DeliverRequest{Actor: "admin-7"})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		delivered := decodeOrder(t, w)
		assert.Equal(t, model.StateDelivered, delivered.State)
		assert.Equal(t, "admin-7", *delivered.DeliveredBy)

		// Confirming again returns the delivered order unchanged
		w = srv.doAdmin(t, http.MethodPost, "/api/orders/"+created.ID.String()+"/deliver", handler.DeliverRequest{Actor: "admin-8"})
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "admin-7", *decodeOrder(t, w).DeliveredBy)
	})

	t.Run("Rejected payment cancels the order", func(t *testing.T) {
		CleanupDB(t, testDB.Pool)
		srv := setupTestServer(t, testDB, testEngineConfig())

		w := srv.do(t, http.MethodPost, "/api/orders", orderBody("buyer-3", 1000, ""))
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
		created := decodeOrder(t, w)

		srv.mp.SetStatus(*created.PaymentReference, "rejected")

		cancelled := srv.waitForState(t, created.ID.String(), model.StateCancelled)
		require.NotNil(t, cancelled.FailureReason)
		assert.Equal(t, model.ReasonPaymentRejected, *cancelled.FailureReason)
		assert.Nil(t, cancelled.PaidAt)
		require.Eventually(t, func() bool { return srv.engine.ActiveTasks() == 0 }, 5*time.Second, 20*time.Millisecond)
	})

	t.Run("Unpaid order times out and the payment is voided", func(t *testing.T) {
		CleanupDB(t, testDB.Pool)

		cfg := testEngineConfig()
		cfg.MaxPollDuration = 300 * time.Millisecond
		srv := setupTestServer(t, testDB, cfg)

		w := srv.do(t, http.MethodPost, "/api/orders", orderBody("buyer-4", 1000, ""))
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
		created := decodeOrder(t, w)

		cancelled := srv.waitForState(t, created.ID.String(), model.StateCancelled)
		assert.Equal(t, model.ReasonPaymentTimeout, *cancelled.FailureReason)
		assert.Equal(t, "cancelled", srv.mp.Status(*created.PaymentReference))

		require.Eventually(t, func() bool { return srv.engine.ActiveTasks() == 0 }, 5*time.Second, 20*time.Millisecond)
		calls := srv.mp.GetCalls()
		time.Sleep(5 * cfg.PollInterval)
		assert.Equal(t, calls, srv.mp.GetCalls(), "gateway polled after cancellation")
	})

	t.Run("Buyer cancels a pending order", func(t *testing.T) {
		CleanupDB(t, testDB.Pool)
		srv := setupTestServer(t, testDB, testEngineConfig())

		w := srv.do(t, http.MethodPost, "/api/orders", orderBody("buyer-5", 1000, ""))
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
		created := decodeOrder(t, w)

		w = srv.do(t, http.MethodPost, "/api/orders/"+created.ID.String()+"/cancel", handler.CancelRequest{BuyerID: "intruder"})
		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Equal(t, model.ErrCodeBuyerMismatch, decodeError(t, w).Error)

		w = srv.do(t, http.MethodPost, "/api/orders/"+created.ID.String()+"/cancel", handler.CancelRequest{BuyerID: "buyer-5"})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		cancelled := decodeOrder(t, w)
		assert.Equal(t, model.StateCancelled, cancelled.State)
		assert.Equal(t, model.ReasonBuyerAborted, *cancelled.FailureReason)

		require.Eventually(t, func() bool {
			return srv.mp.Status(*created.PaymentReference) == "cancelled"
		}, 5*time.Second, 20*time.Millisecond)

		w = srv.doAdmin(t, http.MethodPost, "/api/orders/"+created.ID.String()+"/deliver", handler.DeliverRequest{Actor: "admin"})
		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("Gateway outage keeps the order for retry", func(t *testing.T) {
		CleanupDB(t, testDB.Pool)
		srv := setupTestServer(t, testDB, testEngineConfig())
		srv.mp.FailCreate(http.StatusServiceUnavailable)

		w := srv.do(t, http.MethodPost, "/api/orders", orderBody("buyer-6", 1000, ""))
		require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
		assert.Equal(t, "30", w.Header().Get("Retry-After"))
		stored := decodeOrder(t, w)
		assert.Equal(t, model.StateCreated, stored.State)
		assert.Nil(t, stored.PaymentReference)

		srv.mp.FailCreate(0)
		w = srv.do(t, http.MethodPost, "/api/orders/"+stored.ID.String()+"/retry-payment", nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		pending := decodeOrder(t, w)
		assert.Equal(t, model.StatePendingPayment, pending.State)
		require.NotNil(t, pending.PaymentReference)

		w = srv.do(t, http.MethodPost, "/api/orders/"+stored.ID.String()+"/retry-payment", nil)
		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("Refused payment request cancels the order", func(t *testing.T) {
		CleanupDB(t, testDB.Pool)
		srv := setupTestServer(t, testDB, testEngineConfig())
		srv.mp.FailCreate(http.StatusBadRequest)

		w := srv.do(t, http.MethodPost, "/api/orders", orderBody("buyer-7", 1000, ""))
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		assert.Equal(t, model.ErrCodeInvalidPaymentRequest, decodeError(t, w).Error)
		assert.Equal(t, 1, CountOrders(t, testDB.Pool, model.StateCancelled))
	})

	t.Run("Validation errors", func(t *testing.T) {
		CleanupDB(t, testDB.Pool)
		srv := setupTestServer(t, testDB, testEngineConfig())

		tests := []struct {
			name           string
			body           model.OrderRequest
			expectedStatus int
			expectedCode   string
		}{
			{
				name:           "Quantity below minimum",
				body:           orderBody("buyer", 10, ""),
				expectedStatus: http.StatusBadRequest,
				expectedCode:   model.ErrCodeInvalidQuantity,
			},
			{
				name:           "Unknown account",
				body:           model.OrderRequest{BuyerID: "buyer", TargetAccount: "ghost", Quantity: 1000},
				expectedStatus: http.StatusUnprocessableEntity,
				expectedCode:   model.ErrCodeInvalidTargetAccount,
			},
			{
				name:           "Unknown coupon",
				body:           orderBody("buyer", 1000, "NOPE"),
				expectedStatus: http.StatusUnprocessableEntity,
				expectedCode:   model.ErrCodeCouponNotFound,
			},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				w := srv.do(t, http.MethodPost, "/api/orders", tt.body)
				assert.Equal(t, tt.expectedStatus, w.Code)
				assert.Equal(t, tt.expectedCode, decodeError(t, w).Error)
			})
		}

		assert.Zero(t, CountOrders(t, testDB.Pool, model.StateCreated))
		assert.Zero(t, CountOrders(t, testDB.Pool, model.StatePendingPayment))
	})

	t.Run("Coupon limit holds under concurrent orders", func(t *testing.T) {
		CleanupDB(t, testDB.Pool)
		limit := 2
		SeedCoupon(t, testDB.Pool, "LIMITED", "0.25", &limit)

		cfg := testEngineConfig()
		cfg.PollInterval = time.Hour
		srv := setupTestServer(t, testDB, cfg)

		const buyers = 8
		var wg sync.WaitGroup
		codes := make([]int, buyers)
		for i := 0; i < buyers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				codes[i] = srv.do(t, http.MethodPost, "/api/orders", orderBody("racer", 1000, "LIMITED")).Code
			}(i)
		}
		wg.Wait()

		created := 0
		for _, code := range codes {
			if code == http.StatusCreated {
				created++
				continue
			}
			assert.Equal(t, http.StatusUnprocessableEntity, code)
		}
		assert.Equal(t, limit, created)
		assert.Equal(t, limit, CouponUses(t, testDB.Pool, "LIMITED"))
	})
}

func TestQuoteAPI_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	testDB := SetupTestDB(t)
	CleanupDB(t, testDB.Pool)
	limit := 1
	SeedCoupon(t, testDB.Pool, "HALF", "0.50", &limit)
	srv := setupTestServer(t, testDB, testEngineConfig())

	w := srv.do(t, http.MethodGet, "/api/quote?quantity=1000&coupon=half", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var quote model.Quote
	require.NoError(t, json.NewDecoder(w.Body).Decode(&quote))
	assert.Equal(t, "50.00", quote.Total.StringFixed(2))
	require.NotNil(t, quote.CouponCode)
	assert.Equal(t, "HALF", *quote.CouponCode)
	assert.Equal(t, 1428, quote.DeliverablePrice)

	// Quoting never redeems
	assert.Zero(t, CouponUses(t, testDB.Pool, "HALF"))

	w = srv.do(t, http.MethodGet, "/api/quote?quantity=abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCORS_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	testDB := SetupTestDB(t)
	srv := setupTestServer(t, testDB, testEngineConfig())

	t.Run("Preflight request", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/api/orders", nil)
		w := httptest.NewRecorder()

		srv.handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
		assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
	})

	t.Run("Missing API key", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/orders?buyerId=buyer", nil)
		w := httptest.NewRecorder()

		srv.handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("Health check reports the database", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		w := httptest.NewRecorder()

		srv.handler.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		var health handler.HealthResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&health))
		assert.Equal(t, "healthy", health.Status)
		assert.Equal(t, "ok", health.Database)
	})
}
