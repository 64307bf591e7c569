package http_test

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/robertarktes/ticket-marketplace/internal/adapters/memstore"
	mongoadapter "github.com/robertarktes/ticket-marketplace/internal/adapters/mongo"
	redisadapter "github.com/robertarktes/ticket-marketplace/internal/adapters/redis"
	"github.com/robertarktes/ticket-marketplace/internal/booking"
	"github.com/robertarktes/ticket-marketplace/internal/domain"
	httphandler "github.com/robertarktes/ticket-marketplace/internal/http"
	"github.com/robertarktes/ticket-marketplace/internal/idempotency"
	"github.com/robertarktes/ticket-marketplace/internal/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memIdemp struct {
	mu   sync.Mutex
	data map[string]redisadapter.IdempResponse
}

func (m *memIdemp) Get(ctx context.Context, key string) (*redisadapter.IdempResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, nil
	}
	return &v, nil
}

func (m *memIdemp) Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[key]; ok {
		return false, nil
	}
	m.data[key] = redisadapter.IdempResponse{}
	return true, nil
}

func (m *memIdemp) Release(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *memIdemp) Set(ctx context.Context, key string, resp redisadapter.IdempResponse, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = resp
	return nil
}

type api struct {
	t   *testing.T
	srv *httptest.Server
}

type memCatalog struct {
	mu   sync.Mutex
	docs map[uuid.UUID]mongoadapter.EventDoc
}

func (c *memCatalog) CreateEvent(ctx context.Context, doc mongoadapter.EventDoc) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.docs[doc.ID] = doc
	return nil
}

func (c *memCatalog) GetEvent(ctx context.Context, id uuid.UUID) (*mongoadapter.EventDoc, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	doc, ok := c.docs[id]
	if !ok {
		return nil, domain.ErrEventNotFound
	}
	return &doc, nil
}

const webhookSecret = "test-webhook-secret"

func newAPI(t *testing.T) *api {
	t.Helper()
	return newAPIWithCatalog(t, nil)
}

func newAPIWithCatalog(t *testing.T, catalog httphandler.Catalog) *api {
	t.Helper()
	return newAPIOver(t, memstore.New(), booking.DefaultOptions(), catalog, webhookSecret)
}

func newAPIOver(t *testing.T, store *memstore.Store, opts booking.Options, catalog httphandler.Catalog, secret string) *api {
	t.Helper()
	logger := observability.NewNopLogger()
	engine := booking.NewEngine(store, logger, opts)
	idemp := idempotency.NewIdempotency(&memIdemp{data: map[string]redisadapter.IdempResponse{}}, time.Hour)
	h := httphandler.NewHandlers(engine, catalog, idemp, logger)
	r, err := httphandler.SetupRouter(h, logger, nil, httphandler.RouterConfig{PaymentWebhookSecret: secret})
	require.NoError(t, err)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &api{t: t, srv: srv}
}

func (a *api) do(method, path string, user uuid.UUID, idemKey string, body any, out any) *http.Response {
	a.t.Helper()
	var raw []byte
	if body != nil {
		var err error
		raw, err = json.Marshal(body)
		require.NoError(a.t, err)
	}
	headers := map[string]string{}
	if user != uuid.Nil {
		headers["X-User-ID"] = user.String()
	}
	if idemKey != "" {
		headers["Idempotency-Key"] = idemKey
	}
	return a.doRaw(method, path, headers, raw, out)
}

func (a *api) doRaw(method, path string, headers map[string]string, body []byte, out any) *http.Response {
	a.t.Helper()
	req, err := http.NewRequest(method, a.srv.URL+path, bytes.NewReader(body))
	require.NoError(a.t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(a.t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(a.t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

// pay posts a processor callback signed with secret.
func (a *api) pay(secret, ref, amount string) *http.Response {
	a.t.Helper()
	body, err := json.Marshal(map[string]any{"payment_reference": ref, "amount": amount, "status": "SUCCEEDED"})
	require.NoError(a.t, err)
	sig := hex.EncodeToString(httphandler.SignPayment(secret, body))
	return a.doRaw(http.MethodPost, "/v1/payments/callback", map[string]string{httphandler.PaymentSignatureHeader: "sha256=" + sig}, body, nil)
}

func newKey() string { return uuid.NewString() }

type eventBody struct {
	ID                 uuid.UUID `json:"id"`
	TicketCodePrefix   string    `json:"ticket_code_prefix"`
	LastIssuedSequence int64     `json:"last_issued_sequence"`
	Available          *int      `json:"available"`
}

type errBody struct {
	Error string `json:"error"`
}

func createEvent(a *api, seating string, price int) eventBody {
	a.t.Helper()
	var ev eventBody
	resp := a.do(http.MethodPost, "/v1/events", uuid.New(), "", map[string]any{
		"name":         "Winter Fest",
		"type":         "offline",
		"start_date":   "2025-12-26T18:00:00Z",
		"seating_mode": seating,
		"rows":         2,
		"cols":         2,
		"categories":   []map[string]any{{"name": "VIP", "unit_price": price}},
	}, &ev)
	require.Equal(a.t, http.StatusCreated, resp.StatusCode)
	return ev
}

func TestAPI_PurchaseFlow(t *testing.T) {
	a := newAPI(t)
	ev := createEvent(a, "open", 500)
	assert.Equal(t, "20251226OFF", ev.TicketCodePrefix)
	buyer := uuid.New()

	var e errBody
	resp := a.do(http.MethodPost, "/v1/events/"+ev.ID.String()+"/purchases", buyer, newKey(),
		map[string]any{"items": []map[string]any{{"category_index": 0, "quantity": 2}}}, &e)
	assert.Equal(t, http.StatusPaymentRequired, resp.StatusCode)
	assert.Equal(t, "Unconfirmed", e.Error)

	resp = a.pay(webhookSecret, "pay-1", "1000")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var created struct {
		BookingID uuid.UUID `json:"booking_id"`
	}
	resp = a.do(http.MethodPost, "/v1/events/"+ev.ID.String()+"/purchases", buyer, newKey(),
		map[string]any{"items": []map[string]any{{"category_index": 0, "quantity": 2}}, "payment_reference": "pay-1"}, &created)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var b struct {
		Items []struct {
			IssuedTicketCodes []string `json:"issued_ticket_codes"`
		} `json:"items"`
		TotalAmount string `json:"total_amount"`
	}
	resp = a.do(http.MethodGet, "/v1/bookings/"+created.BookingID.String(), buyer, "", nil, &b)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"20251226OFF001VIP", "20251226OFF002VIP"}, b.Items[0].IssuedTicketCodes)
	assert.Equal(t, "1000", b.TotalAmount)

	resp = a.do(http.MethodGet, "/v1/bookings/"+created.BookingID.String(), uuid.New(), "", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "bookings are private to their holder")

	var tickets []map[string]any
	resp = a.do(http.MethodGet, "/v1/me/tickets", buyer, "", nil, &tickets)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, tickets, 2)

	var listing struct {
		ListingID uuid.UUID `json:"listing_id"`
	}
	resp = a.do(http.MethodPost, "/v1/listings", buyer, newKey(), map[string]any{
		"booking_id": created.BookingID, "item_index": 0, "unit_index": 0, "ask_price": "600",
	}, &e)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, "PriceExceedsOriginal", e.Error)

	resp = a.do(http.MethodPost, "/v1/listings", uuid.New(), newKey(), map[string]any{
		"booking_id": created.BookingID, "ask_price": "100",
	}, &e)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = a.do(http.MethodPost, "/v1/listings", buyer, newKey(), map[string]any{
		"booking_id": created.BookingID, "item_index": 0, "unit_index": 0, "ask_price": "0",
	}, &listing)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = a.do(http.MethodGet, "/v1/me/tickets", buyer, "", nil, &tickets)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, tickets, 1)

	var listings []map[string]any
	resp = a.do(http.MethodGet, "/v1/events/"+ev.ID.String()+"/listings", uuid.Nil, "", nil, &listings)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, listings, 1)
	assert.Equal(t, "20251226OFF001VIP", listings[0]["ticket_code"])

	second := uuid.New()
	resp = a.do(http.MethodPost, "/v1/listings/"+listing.ListingID.String()+"/buy", second, newKey(), nil, &created)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = a.do(http.MethodPost, "/v1/listings/"+listing.ListingID.String()+"/buy", uuid.New(), newKey(), nil, &e)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "AlreadySold", e.Error)

	resp = a.do(http.MethodGet, "/v1/me/tickets", second, "", nil, &tickets)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, tickets, 1)
	assert.Equal(t, "resale_purchase", tickets[0]["provenance"])
}

func TestAPI_ReservedSeatingConflict(t *testing.T) {
	a := newAPI(t)
	ev := createEvent(a, "reserved", 0)
	path := "/v1/events/" + ev.ID.String() + "/purchases"
	body := map[string]any{"seats": []map[string]any{{"label": "A1"}}}

	resp := a.do(http.MethodPost, path, uuid.New(), newKey(), body, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var e errBody
	resp = a.do(http.MethodPost, path, uuid.New(), newKey(), body, &e)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "SeatUnavailable", e.Error)

	var got eventBody
	resp = a.do(http.MethodGet, "/v1/events/"+ev.ID.String(), uuid.Nil, "", nil, &got)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotNil(t, got.Available)
	assert.Equal(t, 3, *got.Available)

	resp = a.do(http.MethodPost, "/v1/events/"+ev.ID.String()+"/prefix", uuid.New(), "", map[string]any{"prefix": "X"}, &e)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "PrefixLocked", e.Error)

	resp = a.do(http.MethodPost, "/v1/events/"+ev.ID.String()+"/seats/0/0/cycle", uuid.New(), "", nil, &e)
	assert.Equal(t, http.StatusConflict, resp.StatusCode, "sold seats cannot be edited")

	var cell struct {
		Kind string `json:"kind"`
	}
	resp = a.do(http.MethodPost, "/v1/events/"+ev.ID.String()+"/seats/1/1/cycle", uuid.New(), "", nil, &cell)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "aisle", cell.Kind)
}

func TestAPI_IdempotentReplay(t *testing.T) {
	a := newAPI(t)
	ev := createEvent(a, "open", 0)
	buyer := uuid.New()
	key := newKey()
	path := "/v1/events/" + ev.ID.String() + "/purchases"
	body := map[string]any{"items": []map[string]any{{"category_index": 0, "quantity": 1}}}

	var first, second struct {
		BookingID uuid.UUID `json:"booking_id"`
	}
	resp := a.do(http.MethodPost, path, buyer, key, body, &first)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp = a.do(http.MethodPost, path, buyer, key, body, &second)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "true", resp.Header.Get("Idempotent-Replayed"))
	assert.Equal(t, first.BookingID, second.BookingID)

	var got eventBody
	a.do(http.MethodGet, "/v1/events/"+ev.ID.String(), uuid.Nil, "", nil, &got)
	assert.EqualValues(t, 1, got.LastIssuedSequence, "replay does not purchase again")
}

func TestAPI_RequestValidation(t *testing.T) {
	a := newAPI(t)
	ev := createEvent(a, "open", 0)
	path := "/v1/events/" + ev.ID.String() + "/purchases"
	body := map[string]any{"items": []map[string]any{{"category_index": 0, "quantity": 1}}}

	resp := a.do(http.MethodPost, path, uuid.Nil, newKey(), body, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = a.do(http.MethodPost, path, uuid.New(), "", body, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "Idempotency-Key is required")

	resp = a.do(http.MethodPost, path, uuid.New(), newKey(), map[string]any{
		"items": []map[string]any{{"category_index": 0, "quantity": 1}},
		"seats": []map[string]any{{"label": "A1"}},
	}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = a.do(http.MethodPost, path, uuid.New(), newKey(), map[string]any{"items": []map[string]any{{"category_index": 4, "quantity": 1}}}, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp = a.do(http.MethodGet, "/v1/events/"+uuid.NewString(), uuid.Nil, "", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = a.do(http.MethodGet, "/v1/events/not-a-uuid", uuid.Nil, "", nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var preview struct {
		First string `json:"first"`
		Last  string `json:"last"`
	}
	resp = a.do(http.MethodGet, "/v1/events/"+ev.ID.String()+"/codes/preview?category=0&count=10", uuid.Nil, "", nil, &preview)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "20251226OFF001VIP", preview.First)
	assert.Equal(t, "20251226OFF010VIP", preview.Last)

	resp = a.do(http.MethodGet, "/v1/events/"+ev.ID.String()+"/codes/preview?category=vip", uuid.Nil, "", nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "a malformed category is not read as 0")

	resp = a.do(http.MethodGet, "/healthz", uuid.Nil, "", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAPI_CatalogMetadata(t *testing.T) {
	catalog := &memCatalog{docs: map[uuid.UUID]mongoadapter.EventDoc{}}
	a := newAPIWithCatalog(t, catalog)

	var created struct {
		ID    uuid.UUID `json:"id"`
		Venue string    `json:"venue"`
	}
	resp := a.do(http.MethodPost, "/v1/events", uuid.New(), "", map[string]any{
		"name":         "Jazz Night",
		"venue":        "Blue Hall",
		"description":  "late set",
		"start_date":   "2026-03-01T20:00:00Z",
		"seating_mode": "open",
		"categories":   []map[string]any{{"name": "Regular", "unit_price": "25.50"}},
	}, &created)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "Blue Hall", created.Venue)
	require.Contains(t, catalog.docs, created.ID)
	assert.Equal(t, "25.5", catalog.docs[created.ID].Categories[0].Price)

	var got struct {
		Description string `json:"description"`
		TicketsSold *int64 `json:"tickets_sold"`
	}
	resp = a.do(http.MethodGet, "/v1/events/"+created.ID.String(), uuid.Nil, "", nil, &got)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "late set", got.Description)
	require.NotNil(t, got.TicketsSold)
	assert.Zero(t, *got.TicketsSold)

	catalog.mu.Lock()
	delete(catalog.docs, created.ID)
	catalog.mu.Unlock()
	resp = a.do(http.MethodGet, "/v1/events/"+created.ID.String(), uuid.Nil, "", nil, &got)
	assert.Equal(t, http.StatusOK, resp.StatusCode, "a missing catalog entry does not hide the event")
}

func TestAPI_PaymentCallbackRequiresSignature(t *testing.T) {
	a := newAPI(t)
	ev := createEvent(a, "open", 500)
	buyer := uuid.New()
	purchase := func(ref string) *http.Response {
		return a.do(http.MethodPost, "/v1/events/"+ev.ID.String()+"/purchases", buyer, newKey(), map[string]any{
			"items":             []map[string]any{{"category_index": 0, "quantity": 1}},
			"payment_reference": ref,
		}, nil)
	}

	resp := a.do(http.MethodPost, "/v1/payments/callback", uuid.Nil, "", map[string]any{
		"payment_reference": "forged-1", "amount": 500, "status": "SUCCEEDED",
	}, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, "unsigned callback")

	resp = a.pay("someone-elses-secret", "forged-1", "500")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, "wrong secret")

	body := []byte(`{"payment_reference":"forged-1","amount":"500","status":"SUCCEEDED"}`)
	sig := hex.EncodeToString(httphandler.SignPayment(webhookSecret, []byte(`{"payment_reference":"other","amount":"500","status":"SUCCEEDED"}`)))
	resp = a.doRaw(http.MethodPost, "/v1/payments/callback", map[string]string{httphandler.PaymentSignatureHeader: sig}, body, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, "signature over a different body")

	assert.Equal(t, http.StatusPaymentRequired, purchase("forged-1").StatusCode, "rejected callbacks confirm nothing")

	require.Equal(t, http.StatusOK, a.pay(webhookSecret, "real-1", "500").StatusCode)
	assert.Equal(t, http.StatusCreated, purchase("real-1").StatusCode)
}

func TestAPI_PaymentCallbackDisabledWithoutSecret(t *testing.T) {
	a := newAPIOver(t, memstore.New(), booking.DefaultOptions(), nil, "")
	resp := a.pay("", "pay-1", "10")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestAPI_ContentionReleasesIdempotencyKey(t *testing.T) {
	store := memstore.New()
	a := newAPIOver(t, store, booking.Options{MaxRetries: 1, RetryBaseDelay: time.Millisecond, RetryMaxDelay: time.Millisecond}, nil, webhookSecret)
	ev := createEvent(a, "open", 0)
	buyer := uuid.New()
	key := newKey()
	path := "/v1/events/" + ev.ID.String() + "/purchases"
	body := map[string]any{"items": []map[string]any{{"category_index": 0, "quantity": 1}}}

	store.FailCommits(10)
	var e errBody
	resp := a.do(http.MethodPost, path, buyer, key, body, &e)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "Contention", e.Error)

	store.FailCommits(0)
	resp = a.do(http.MethodPost, path, buyer, key, body, nil)
	assert.Equal(t, http.StatusCreated, resp.StatusCode, "the same key runs again once contention clears")
	assert.Empty(t, resp.Header.Get("Idempotent-Replayed"))
}

func TestAPI_LatePaymentRetriesWithSameKey(t *testing.T) {
	a := newAPI(t)
	ev := createEvent(a, "open", 500)
	buyer := uuid.New()
	key := newKey()
	path := "/v1/events/" + ev.ID.String() + "/purchases"
	body := map[string]any{
		"items":             []map[string]any{{"category_index": 0, "quantity": 1}},
		"payment_reference": "late-1",
	}

	resp := a.do(http.MethodPost, path, buyer, key, body, nil)
	require.Equal(t, http.StatusPaymentRequired, resp.StatusCode)

	require.Equal(t, http.StatusOK, a.pay(webhookSecret, "late-1", "500").StatusCode)

	var created struct {
		BookingID uuid.UUID `json:"booking_id"`
	}
	resp = a.do(http.MethodPost, path, buyer, key, body, &created)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.NotEqual(t, uuid.Nil, created.BookingID)

	var replay struct {
		BookingID uuid.UUID `json:"booking_id"`
	}
	resp = a.do(http.MethodPost, path, buyer, key, body, &replay)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "true", resp.Header.Get("Idempotent-Replayed"))
	assert.Equal(t, created.BookingID, replay.BookingID)
}
