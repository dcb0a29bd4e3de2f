package integration

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"slices"
	"strconv"
	"sync"
	"testing"

	"robux-shop/internal/model"
	"robux-shop/internal/notify"
)

// FakeMercadoPago serves the subset of the Mercado Pago payments API the
// gateway client uses. New payments start out pending.
type FakeMercadoPago struct {
	*httptest.Server

	mu         sync.Mutex
	nextID     int64
	payments   map[string]*fakePayment
	refunds    []string
	createCode int
	getCalls   int
}

type fakePayment struct {
	ID                 int64       `json:"id"`
	Status             string      `json:"status"`
	TransactionAmount  json.Number `json:"transaction_amount"`
	CurrencyID         string      `json:"currency_id"`
	ExternalReference  string      `json:"external_reference"`
	DateOfExpiration   string      `json:"date_of_expiration"`
	PointOfInteraction struct {
		TransactionData struct {
			QRCode string `json:"qr_code"`
		} `json:"transaction_data"`
	} `json:"point_of_interaction"`
}

// NewFakeMercadoPago starts the fake and stops it when t ends.
func NewFakeMercadoPago(t *testing.T) *FakeMercadoPago {
	t.Helper()

	f := &FakeMercadoPago{nextID: 1000, payments: make(map[string]*fakePayment)}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/payments", f.create)
	mux.HandleFunc("GET /v1/payments/{id}", f.get)
	mux.HandleFunc("PUT /v1/payments/{id}", f.update)
	mux.HandleFunc("POST /v1/payments/{id}/refunds", f.refund)

	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Close)
	return f
}

// FailCreate makes payment creation answer with status until reset with 0.
func (f *FakeMercadoPago) FailCreate(status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCode = status
}

// SetStatus changes the status reported for a payment.
func (f *FakeMercadoPago) SetStatus(reference, status string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.payments[reference]; ok {
		p.Status = status
	}
}

// Status returns the current status of a payment.
func (f *FakeMercadoPago) Status(reference string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.payments[reference]; ok {
		return p.Status
	}
	return ""
}

// Refunds returns the refunded payment references.
func (f *FakeMercadoPago) Refunds() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.refunds...)
}

// GetCalls returns how many status reads were served.
func (f *FakeMercadoPago) GetCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.getCalls
}

func (f *FakeMercadoPago) create(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.createCode != 0 {
		writeFakeJSON(w, f.createCode, map[string]any{"message": "create refused", "status": f.createCode})
		return
	}

	var p fakePayment
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeFakeJSON(w, http.StatusBadRequest, map[string]any{"message": err.Error(), "status": 400})
		return
	}

	f.nextID++
	p.ID = f.nextID
	p.Status = "pending"
	p.CurrencyID = "BRL"
	p.PointOfInteraction.TransactionData.QRCode = "00020126pix" + strconv.FormatInt(p.ID, 10)
	f.payments[strconv.FormatInt(p.ID, 10)] = &p

	writeFakeJSON(w, http.StatusCreated, p)
}

func (f *FakeMercadoPago) get(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.getCalls++
	p, ok := f.payments[r.PathValue("id")]
	if !ok {
		writeFakeJSON(w, http.StatusNotFound, map[string]any{"message": "payment not found", "status": 404})
		return
	}
	writeFakeJSON(w, http.StatusOK, p)
}

func (f *FakeMercadoPago) update(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	p, ok := f.payments[r.PathValue("id")]
	if !ok {
		writeFakeJSON(w, http.StatusNotFound, map[string]any{"message": "payment not found", "status": 404})
		return
	}

	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeFakeJSON(w, http.StatusBadRequest, map[string]any{"message": err.Error(), "status": 400})
		return
	}
	p.Status = body.Status
	writeFakeJSON(w, http.StatusOK, p)
}

func (f *FakeMercadoPago) refund(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := r.PathValue("id")
	p, ok := f.payments[id]
	if !ok {
		writeFakeJSON(w, http.StatusNotFound, map[string]any{"message": "payment not found", "status": 404})
		return
	}
	p.Status = "refunded"
	f.refunds = append(f.refunds, id)
	writeFakeJSON(w, http.StatusCreated, map[string]any{"id": len(f.refunds), "payment_id": p.ID})
}

// FakeRoblox serves the users, games and inventory endpoints the delivery
// client uses. Only the account named by Username exists.
type FakeRoblox struct {
	*httptest.Server

	Username  string
	AccountID int64

	mu       sync.Mutex
	passes   map[int64]int
	acquired map[int64]bool
}

// NewFakeRoblox starts the fake and stops it when t ends.
func NewFakeRoblox(t *testing.T, username string, accountID int64) *FakeRoblox {
	t.Helper()

	f := &FakeRoblox{
		Username:  username,
		AccountID: accountID,
		passes:    make(map[int64]int),
		acquired:  make(map[int64]bool),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/usernames/users", f.users)
	mux.HandleFunc("GET /v1/games/{universe}/game-passes", f.gamePasses)
	mux.HandleFunc("GET /v1/users/{user}/items/GamePass/{pass}", f.inventory)

	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Close)
	return f
}

// AddGamePass lists a game pass at price.
func (f *FakeRoblox) AddGamePass(id int64, price int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.passes[id] = price
}

// Acquire records that the account owns the game pass.
func (f *FakeRoblox) Acquire(passID int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acquired[passID] = true
}

func (f *FakeRoblox) users(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Usernames []string `json:"usernames"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeFakeJSON(w, http.StatusBadRequest, map[string]any{"errors": []string{err.Error()}})
		return
	}

	data := []map[string]any{}
	for _, name := range body.Usernames {
		if name == f.Username {
			data = append(data, map[string]any{"id": f.AccountID, "name": name, "displayName": name})
		}
	}
	writeFakeJSON(w, http.StatusOK, map[string]any{"data": data})
}

func (f *FakeRoblox) gamePasses(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	ids := make([]int64, 0, len(f.passes))
	for id := range f.passes {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	data := []map[string]any{}
	for _, id := range ids {
		data = append(data, map[string]any{"id": id, "name": "Pass " + strconv.FormatInt(id, 10), "price": f.passes[id]})
	}
	writeFakeJSON(w, http.StatusOK, map[string]any{"data": data, "nextPageCursor": nil})
}

func (f *FakeRoblox) inventory(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	user, _ := strconv.ParseInt(r.PathValue("user"), 10, 64)
	pass, _ := strconv.ParseInt(r.PathValue("pass"), 10, 64)

	data := []map[string]any{}
	if user == f.AccountID && f.acquired[pass] {
		data = append(data, map[string]any{"type": "GamePass", "id": pass})
	}
	writeFakeJSON(w, http.StatusOK, map[string]any{"data": data})
}

// FakeChat records the events posted to the notification webhook.
type FakeChat struct {
	*httptest.Server

	mu     sync.Mutex
	events []notify.Event
}

// NewFakeChat starts the fake and stops it when t ends.
func NewFakeChat(t *testing.T) *FakeChat {
	t.Helper()

	f := &FakeChat{}
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var event notify.Event
		if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.events = append(f.events, event)
		f.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(f.Close)
	return f
}

// Kinds returns the kinds of the events received so far.
func (f *FakeChat) Kinds() []model.EventKind {
	f.mu.Lock()
	defer f.mu.Unlock()

	kinds := make([]model.EventKind, 0, len(f.events))
	for _, e := range f.events {
		kinds = append(kinds, e.Kind)
	}
	return kinds
}

func writeFakeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
