package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"robux-shop/internal/coupon"
	"robux-shop/internal/model"
	"robux-shop/internal/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// fakeGateway plays back a status script shared by every payment. The last
// status repeats once the script is exhausted.
type fakeGateway struct {
	mu          sync.Mutex
	statuses    []model.PaymentStatus
	statusErr   error
	cancelErr   error
	refundErrs  []error
	seq         int
	statusCalls int
	cancels     []string
	refunds     []string
}

func (g *fakeGateway) CreatePayment(ctx context.Context, req model.PaymentRequest) (*model.Payment, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq++
	expires := req.ExpiresAt
	return &model.Payment{
		Reference: fmt.Sprintf("pay-%d", g.seq),
		Status:    model.PaymentPending,
		Amount:    req.Amount,
		OrderID:   req.OrderID,
		PixCode:   "00020126580014br.gov.bcb.pix",
		ExpiresAt: &expires,
	}, nil
}

func (g *fakeGateway) GetStatus(ctx context.Context, reference string) (model.PaymentStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.statusCalls++
	if g.statusErr != nil {
		return "", g.statusErr
	}
	if len(g.statuses) == 0 {
		return model.PaymentPending, nil
	}
	status := g.statuses[0]
	if len(g.statuses) > 1 {
		g.statuses = g.statuses[1:]
	}
	return status, nil
}

func (g *fakeGateway) Refund(ctx context.Context, reference string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.refunds = append(g.refunds, reference)
	if len(g.refundErrs) > 0 {
		err := g.refundErrs[0]
		g.refundErrs = g.refundErrs[1:]
		return err
	}
	return nil
}

func (g *fakeGateway) Cancel(ctx context.Context, reference string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancels = append(g.cancels, reference)
	return g.cancelErr
}

func (g *fakeGateway) setStatuses(statuses ...model.PaymentStatus) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.statuses = statuses
}

func (g *fakeGateway) StatusCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.statusCalls
}

func (g *fakeGateway) Cancels() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.cancels...)
}

func (g *fakeGateway) Refunds() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.refunds...)
}

// MockGateway is a mock implementation of payment.Gateway.
type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) CreatePayment(ctx context.Context, req model.PaymentRequest) (*model.Payment, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Payment), args.Error(1)
}

func (m *MockGateway) GetStatus(ctx context.Context, reference string) (model.PaymentStatus, error) {
	args := m.Called(ctx, reference)
	return args.Get(0).(model.PaymentStatus), args.Error(1)
}

func (m *MockGateway) Refund(ctx context.Context, reference string) error {
	args := m.Called(ctx, reference)
	return args.Error(0)
}

func (m *MockGateway) Cancel(ctx context.Context, reference string) error {
	args := m.Called(ctx, reference)
	return args.Error(0)
}

type ownership struct {
	account int64
	pass    int64
}

// fakeCatalog serves deliverable entries and tracks ownership per account
// and pass. A pass becomes owned on the acquireAfter-th check of that
// account and pass, or explicitly through acquire.
type fakeCatalog struct {
	mu             sync.Mutex
	lookupErr      error
	banned         map[string]bool
	entries        []model.Deliverable
	ignoresAccount bool
	entryErr       error
	acquireAfter   int
	acquireErr     error
	entryCalls     int
	acquireCalls   int
	checks         map[ownership]int
	owned          map[ownership]bool
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		banned: map[string]bool{},
		entries: []model.Deliverable{{
			ID:   987654,
			Name: "1428 Robux",
			URL:  "https://www.roblox.com/game-pass/987654",
		}},
		// One check when the entry is attached, one by the watcher
		acquireAfter: 2,
		checks:       map[ownership]int{},
		owned:        map[ownership]bool{},
	}
}

func (c *fakeCatalog) LookupAccount(ctx context.Context, username string) (*model.Account, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lookupErr != nil {
		return nil, c.lookupErr
	}
	if c.banned[username] {
		return nil, model.ErrInvalidTargetAccount
	}
	return &model.Account{ID: 4242, Name: username, DisplayName: username}, nil
}

func (c *fakeCatalog) GetDeliverableEntry(ctx context.Context, spec model.ProductSpec) (*model.Deliverable, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entryCalls++
	if c.entryErr != nil {
		return nil, c.entryErr
	}
	for _, entry := range c.entries {
		if !c.ignoresAccount && spec.AccountID != 0 && c.owned[ownership{spec.AccountID, entry.ID}] {
			continue
		}
		entry.Price = spec.Price
		return &entry, nil
	}
	return nil, model.ErrDeliverableNotFound
}

func (c *fakeCatalog) HasBuyerAcquired(ctx context.Context, deliverable model.Deliverable, accountID int64) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.acquireCalls++
	if c.acquireErr != nil {
		return false, c.acquireErr
	}

	key := ownership{accountID, deliverable.ID}
	if c.owned[key] {
		return true, nil
	}
	c.checks[key]++
	if c.checks[key] >= c.acquireAfter {
		c.owned[key] = true
	}
	return c.owned[key], nil
}

// acquire records that account bought pass.
func (c *fakeCatalog) acquire(account, pass int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.owned[ownership{account, pass}] = true
}

func (c *fakeCatalog) addEntry(entry model.Deliverable) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, entry)
}

func (c *fakeCatalog) Calls() (entry, acquire int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entryCalls, c.acquireCalls
}

type sentEvent struct {
	BuyerID string
	OrderID uuid.UUID
	Kind    model.EventKind
}

// recordingNotifier keeps every event it is sent.
type recordingNotifier struct {
	mu     sync.Mutex
	events []sentEvent
}

func (n *recordingNotifier) Send(buyerID string, orderID uuid.UUID, kind model.EventKind) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, sentEvent{BuyerID: buyerID, OrderID: orderID, Kind: kind})
}

func (n *recordingNotifier) Count(kind model.EventKind) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	count := 0
	for _, e := range n.events {
		if e.Kind == kind {
			count++
		}
	}
	return count
}

func (n *recordingNotifier) Kinds() []model.EventKind {
	n.mu.Lock()
	defer n.mu.Unlock()
	kinds := make([]model.EventKind, 0, len(n.events))
	for _, e := range n.events {
		kinds = append(kinds, e.Kind)
	}
	return kinds
}

func testConfig() Config {
	return Config{
		Currency:              "BRL",
		PricePerUnit:          decimal.RequireFromString("0.10"),
		MinQuantity:           100,
		MaxQuantity:           100000,
		TaxRate:               decimal.RequireFromString("0.30"),
		PollInterval:          10 * time.Millisecond,
		MaxPollDuration:       5 * time.Second,
		DeliveryCheckInterval: 10 * time.Millisecond,
		MaxDeliveryWait:       5 * time.Second,
		GatewayCallTimeout:    time.Second,
	}
}

// testEngine bundles an engine with its collaborators.
type testEngine struct {
	svc      *orderService
	store    *repository.MemoryStore
	gateway  *fakeGateway
	catalog  *fakeCatalog
	notifier *recordingNotifier
}

func newTestEngine(t *testing.T, cfg Config) *testEngine {
	t.Helper()
	store := repository.NewMemoryStore(zerolog.Nop())
	return newTestEngineWithStore(t, cfg, store, &fakeGateway{})
}

func newTestEngineWithStore(t *testing.T, cfg Config, store *repository.MemoryStore, gateway *fakeGateway) *testEngine {
	t.Helper()
	logger := zerolog.Nop()
	catalog := newFakeCatalog()
	notifier := &recordingNotifier{}

	svc := newOrderService(store, coupon.NewValidator(store, logger), gateway, catalog, notifier, cfg, logger)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = svc.Shutdown(ctx)
	})

	return &testEngine{
		svc:      svc,
		store:    store,
		gateway:  gateway,
		catalog:  catalog,
		notifier: notifier,
	}
}

func seedCoupon(t *testing.T, store *repository.MemoryStore, code, discount string, maxUses *int) {
	t.Helper()
	require.NoError(t, store.Upsert(context.Background(), &model.Coupon{
		Code:      code,
		Discount:  decimal.RequireFromString(discount),
		MaxUses:   maxUses,
		Active:    true,
		CreatedBy: "admin",
		CreatedAt: time.Now(),
	}))
}

func orderRequest(buyerID string, quantity int, couponCode string) *model.OrderRequest {
	req := &model.OrderRequest{
		BuyerID:       buyerID,
		TargetAccount: "builderman",
		Quantity:      quantity,
	}
	if couponCode != "" {
		req.CouponCode = &couponCode
	}
	return req
}

func intPtr(i int) *int {
	return &i
}

// waitForState polls the store until the order reaches state.
func waitForState(t *testing.T, e *testEngine, id uuid.UUID, state model.OrderState) *model.Order {
	t.Helper()
	var order *model.Order
	require.Eventually(t, func() bool {
		got, err := e.store.GetByID(context.Background(), id)
		if err != nil {
			return false
		}
		order = got
		return got.State == state
	}, 3*time.Second, 5*time.Millisecond, "order %s never reached %s", id, state)
	return order
}
