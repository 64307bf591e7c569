package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	mongoadapter "github.com/robertarktes/ticket-marketplace/internal/adapters/mongo"
	"github.com/robertarktes/ticket-marketplace/internal/booking"
	"github.com/robertarktes/ticket-marketplace/internal/domain"
	"github.com/robertarktes/ticket-marketplace/internal/idempotency"
	"github.com/robertarktes/ticket-marketplace/internal/observability"
	"github.com/shopspring/decimal"
)

// Catalog stores presentation metadata for events. Optional.
type Catalog interface {
	CreateEvent(ctx context.Context, event mongoadapter.EventDoc) error
	GetEvent(ctx context.Context, id uuid.UUID) (*mongoadapter.EventDoc, error)
}

// Pinger reports whether a dependency is reachable, for readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Handlers struct {
	engine  *booking.Engine
	catalog Catalog
	idemp   *idempotency.Idempotency
	logger  observability.Logger
	pingers []Pinger
}

func NewHandlers(engine *booking.Engine, catalog Catalog, idemp *idempotency.Idempotency, logger observability.Logger, pingers ...Pinger) *Handlers {
	return &Handlers{
		engine:  engine,
		catalog: catalog,
		idemp:   idemp,
		logger:  logger,
		pingers: pingers,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrEventNotFound),
		errors.Is(err, domain.ErrBookingNotFound),
		errors.Is(err, domain.ErrListingNotFound),
		errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrSeatUnavailable),
		errors.Is(err, domain.ErrAlreadySold),
		errors.Is(err, domain.ErrAlreadyListed),
		errors.Is(err, domain.ErrPrefixLocked),
		errors.Is(err, domain.ErrContention),
		errors.Is(err, domain.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, domain.ErrPriceExceedsOriginal),
		errors.Is(err, domain.ErrCategoryInvalid):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrUnconfirmed):
		return http.StatusPaymentRequired
	case errors.Is(err, domain.ErrNotOwner):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func errorCode(err error) string {
	for _, k := range []struct {
		err  error
		code string
	}{
		{domain.ErrEventNotFound, "EventNotFound"},
		{domain.ErrBookingNotFound, "BookingNotFound"},
		{domain.ErrListingNotFound, "ListingNotFound"},
		{domain.ErrSeatUnavailable, "SeatUnavailable"},
		{domain.ErrCategoryInvalid, "CategoryInvalid"},
		{domain.ErrAlreadySold, "AlreadySold"},
		{domain.ErrAlreadyListed, "AlreadyListed"},
		{domain.ErrPriceExceedsOriginal, "PriceExceedsOriginal"},
		{domain.ErrPrefixLocked, "PrefixLocked"},
		{domain.ErrContention, "Contention"},
		{domain.ErrUnconfirmed, "Unconfirmed"},
		{domain.ErrNotOwner, "NotOwner"},
		{domain.ErrInconsistentState, "InconsistentState"},
		{domain.ErrInvalidInput, "InvalidInput"},
		{domain.ErrConflict, "Conflict"},
	} {
		if errors.Is(err, k.err) {
			return k.code
		}
	}
	return "Internal"
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (h *Handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		LoggerFrom(r.Context(), h.logger).WithField("path", r.URL.Path).WithError(err).Error("request failed")
		msg = "internal error"
	}
	writeJSON(w, status, errorBody{Error: errorCode(err), Message: msg})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: "InvalidInput", Message: msg})
}

func pathUUID(r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	return id, err == nil
}

// idempotent replays a stored response for a repeated Idempotency-Key, otherwise runs
// fn and stores what it produced. Outcomes the client is expected to retry release the
// key instead.
func (h *Handlers) idempotent(w http.ResponseWriter, r *http.Request, fn func() (int, any, error)) {
	key := r.Header.Get("Idempotency-Key")
	if h.idemp == nil || key == "" {
		status, body, _ := fn()
		writeJSON(w, status, body)
		return
	}
	scoped := key
	if p, ok := PrincipalFrom(r.Context()); ok {
		scoped = p.String() + ":" + key
	}
	stored, inFlight, err := h.idemp.Begin(r.Context(), scoped)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if inFlight {
		writeJSON(w, http.StatusConflict, errorBody{Error: "InFlight", Message: "request with this Idempotency-Key is in progress"})
		return
	}
	if stored != nil {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Idempotent-Replayed", "true")
		w.WriteHeader(stored.Status)
		w.Write(stored.Result)
		return
	}

	status, body, opErr := fn()
	data, _ := json.Marshal(body)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(append(data, '\n'))

	ctx := context.WithoutCancel(r.Context())
	if retryable(opErr) {
		err = h.idemp.Release(ctx, scoped)
	} else {
		err = h.idemp.Finish(ctx, scoped, idempotency.Response{Status: status, Result: data})
	}
	if err != nil {
		h.logger.WithError(err).Warn("failed to store idempotent response")
	}
}

// retryable reports engine outcomes that may succeed on a later attempt with the same
// key: exhausted transaction retries and payments not yet confirmed.
func retryable(err error) bool {
	return errors.Is(err, domain.ErrContention) || errors.Is(err, domain.ErrUnconfirmed)
}

func (h *Handlers) errorResult(r *http.Request, err error) (int, any) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		LoggerFrom(r.Context(), h.logger).WithField("path", r.URL.Path).WithError(err).Error("request failed")
		msg = "internal error"
	}
	return status, errorBody{Error: errorCode(err), Message: msg}
}

type categoryRequest struct {
	Name      string          `json:"name"`
	Code      string          `json:"code"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int             `json:"quantity"`
}

type createEventRequest struct {
	Name              string             `json:"name"`
	Description       string             `json:"description"`
	Venue             string             `json:"venue"`
	Type              domain.EventType   `json:"type"`
	StartDate         time.Time          `json:"start_date"`
	SeatingMode       domain.SeatingMode `json:"seating_mode"`
	Categories        []categoryRequest  `json:"categories"`
	Rows              int                `json:"rows"`
	Cols              int                `json:"cols"`
	TicketCodePrefix  string             `json:"ticket_code_prefix"`
	TicketCodePadding int                `json:"ticket_code_padding"`
	BannerURL         string             `json:"banner_url"`
}

type eventResponse struct {
	ID                 uuid.UUID               `json:"id"`
	Name               string                  `json:"name"`
	Type               domain.EventType        `json:"type"`
	StartDate          time.Time               `json:"start_date"`
	SeatingMode        domain.SeatingMode      `json:"seating_mode"`
	Categories         []domain.TicketCategory `json:"categories"`
	Grid               *domain.SeatGrid        `json:"seat_grid,omitempty"`
	Capacity           *int                    `json:"capacity,omitempty"`
	Available          *int                    `json:"available,omitempty"`
	TicketCodePrefix   string                  `json:"ticket_code_prefix"`
	TicketCodePadding  int                     `json:"ticket_code_padding"`
	LastIssuedSequence int64                   `json:"last_issued_sequence"`
	BannerURL          string                  `json:"banner_url,omitempty"`
	Description        string                  `json:"description,omitempty"`
	Venue              string                  `json:"venue,omitempty"`
	TicketsSold        *int64                  `json:"tickets_sold,omitempty"`
}

func toEventResponse(e *domain.Event) eventResponse {
	resp := eventResponse{
		ID:                 e.ID,
		Name:               e.Name,
		Type:               e.Type,
		StartDate:          e.StartDate,
		SeatingMode:        e.SeatingMode,
		Categories:         e.Categories,
		Grid:               e.Grid,
		TicketCodePrefix:   e.Prefix(),
		TicketCodePadding:  e.Padding(),
		LastIssuedSequence: e.LastIssuedSequence,
		BannerURL:          e.BannerURL,
	}
	if e.Grid != nil {
		capacity, available := e.Grid.Capacity(), e.Grid.Available()
		resp.Capacity, resp.Available = &capacity, &available
	}
	return resp
}

func (h *Handlers) CreateEvent(w http.ResponseWriter, r *http.Request) {
	var req createEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, err.Error())
		return
	}
	params := booking.NewEvent{
		Name:              req.Name,
		Type:              req.Type,
		StartDate:         req.StartDate,
		SeatingMode:       req.SeatingMode,
		Rows:              req.Rows,
		Cols:              req.Cols,
		TicketCodePrefix:  req.TicketCodePrefix,
		TicketCodePadding: req.TicketCodePadding,
		BannerURL:         req.BannerURL,
	}
	for _, c := range req.Categories {
		params.Categories = append(params.Categories, booking.NewCategory{Name: c.Name, Code: c.Code, UnitPrice: c.UnitPrice, Quantity: c.Quantity})
	}
	ev, err := h.engine.CreateEvent(r.Context(), params)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if h.catalog != nil {
		if err := h.catalog.CreateEvent(r.Context(), mongoadapter.NewEventDoc(ev, req.Description, req.Venue)); err != nil {
			h.logger.WithField("event_id", ev.ID).WithError(err).Warn("catalog entry not written")
		}
	}
	resp := toEventResponse(ev)
	resp.Description, resp.Venue = req.Description, req.Venue
	writeJSON(w, http.StatusCreated, resp)
}

func (h *Handlers) GetEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(r, "id")
	if !ok {
		badRequest(w, "invalid id")
		return
	}
	ev, err := h.engine.GetEvent(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	resp := toEventResponse(ev)
	if h.catalog != nil {
		// the catalog trails the store; inventory fields always come from the engine
		doc, err := h.catalog.GetEvent(r.Context(), id)
		switch {
		case err == nil:
			resp.Description, resp.Venue, resp.TicketsSold = doc.Description, doc.Venue, &doc.TicketsSold
		case !errors.Is(err, domain.ErrEventNotFound):
			LoggerFrom(r.Context(), h.logger).WithField("event_id", id).WithError(err).Warn("catalog entry not read")
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handlers) OverridePrefix(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(r, "id")
	if !ok {
		badRequest(w, "invalid id")
		return
	}
	var req struct {
		Prefix string `json:"prefix"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, err.Error())
		return
	}
	ev, err := h.engine.OverridePrefix(r.Context(), id, req.Prefix)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toEventResponse(ev))
}

func (h *Handlers) CycleSeat(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(r, "id")
	if !ok {
		badRequest(w, "invalid id")
		return
	}
	row, errRow := strconv.Atoi(chi.URLParam(r, "row"))
	col, errCol := strconv.Atoi(chi.URLParam(r, "col"))
	if errRow != nil || errCol != nil {
		badRequest(w, "invalid row or col")
		return
	}
	cell, err := h.engine.CycleSeat(r.Context(), id, row, col)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cell)
}

func (h *Handlers) PreviewCodes(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(r, "id")
	if !ok {
		badRequest(w, "invalid id")
		return
	}
	category := 0
	if v := r.URL.Query().Get("category"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			badRequest(w, "invalid category")
			return
		}
		category = n
	}
	count := 1
	if v := r.URL.Query().Get("count"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			badRequest(w, "invalid count")
			return
		}
		count = n
	}
	first, last, err := h.engine.PreviewCodes(r.Context(), id, category, count)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"first": first, "last": last, "count": count})
}

type purchaseRequest struct {
	Items            []domain.CategoryQuantity `json:"items"`
	Seats            []domain.SeatRef          `json:"seats"`
	PaymentReference string                    `json:"payment_reference"`
}

func (p purchaseRequest) toDomain() (domain.PurchaseRequest, error) {
	switch {
	case len(p.Items) > 0 && len(p.Seats) > 0:
		return nil, errors.Wrap(domain.ErrInvalidInput, "request either items or seats, not both")
	case len(p.Items) > 0:
		return domain.OpenSeating{Items: p.Items}, nil
	case len(p.Seats) > 0:
		return domain.ReservedSeating{Seats: p.Seats}, nil
	}
	return nil, errors.Wrap(domain.ErrInvalidInput, "nothing requested")
}

func (h *Handlers) Purchase(w http.ResponseWriter, r *http.Request) {
	buyer, ok := PrincipalFrom(r.Context())
	if !ok {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}
	eventID, ok := pathUUID(r, "id")
	if !ok {
		badRequest(w, "invalid id")
		return
	}
	var body purchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		badRequest(w, err.Error())
		return
	}
	req, err := body.toDomain()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.idempotent(w, r, func() (int, any, error) {
		id, err := h.engine.Purchase(r.Context(), eventID, buyer, req, body.PaymentReference)
		if err != nil {
			status, body := h.errorResult(r, err)
			return status, body, err
		}
		return http.StatusCreated, map[string]interface{}{"booking_id": id}, nil
	})
}

func (h *Handlers) ListTicket(w http.ResponseWriter, r *http.Request) {
	seller, ok := PrincipalFrom(r.Context())
	if !ok {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}
	var req struct {
		BookingID uuid.UUID       `json:"booking_id"`
		ItemIndex int             `json:"item_index"`
		UnitIndex int             `json:"unit_index"`
		AskPrice  decimal.Decimal `json:"ask_price"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, err.Error())
		return
	}
	ref := domain.TicketRef{BookingID: req.BookingID, ItemIndex: req.ItemIndex, UnitIndex: req.UnitIndex}
	h.idempotent(w, r, func() (int, any, error) {
		id, err := h.engine.List(r.Context(), seller, ref, req.AskPrice)
		if err != nil {
			status, body := h.errorResult(r, err)
			return status, body, err
		}
		return http.StatusCreated, map[string]interface{}{"listing_id": id}, nil
	})
}

func (h *Handlers) BuyListing(w http.ResponseWriter, r *http.Request) {
	buyer, ok := PrincipalFrom(r.Context())
	if !ok {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}
	listingID, ok := pathUUID(r, "id")
	if !ok {
		badRequest(w, "invalid id")
		return
	}
	var req struct {
		PaymentReference string `json:"payment_reference"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			badRequest(w, err.Error())
			return
		}
	}
	h.idempotent(w, r, func() (int, any, error) {
		id, err := h.engine.Buy(r.Context(), listingID, buyer, req.PaymentReference)
		if err != nil {
			status, body := h.errorResult(r, err)
			return status, body, err
		}
		return http.StatusCreated, map[string]interface{}{"booking_id": id}, nil
	})
}

type listingResponse struct {
	ID         uuid.UUID       `json:"id"`
	EventID    uuid.UUID       `json:"event_id"`
	TicketCode string          `json:"ticket_code"`
	SeatLabel  string          `json:"seat_label,omitempty"`
	Category   int             `json:"category_index"`
	Original   decimal.Decimal `json:"original_price"`
	AskPrice   decimal.Decimal `json:"ask_price"`
	CreatedAt  time.Time       `json:"created_at"`
}

func (h *Handlers) EventListings(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(r, "id")
	if !ok {
		badRequest(w, "invalid id")
		return
	}
	listings, err := h.engine.Listings(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]listingResponse, 0, len(listings))
	for _, l := range listings {
		out = append(out, listingResponse{
			ID:         l.ID,
			EventID:    l.EventID,
			TicketCode: l.TicketCode,
			SeatLabel:  l.SeatLabel,
			Category:   l.CategoryIndex,
			Original:   l.OriginalPrice,
			AskPrice:   l.AskPrice,
			CreatedAt:  l.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

type bookingResponse struct {
	ID               uuid.UUID            `json:"id"`
	EventID          uuid.UUID            `json:"event_id"`
	BuyerID          uuid.UUID            `json:"buyer_id"`
	Items            []domain.BookingItem `json:"items"`
	TotalAmount      decimal.Decimal      `json:"total_amount"`
	PaymentReference string               `json:"payment_reference,omitempty"`
	Status           domain.BookingStatus `json:"status"`
	Provenance       domain.Provenance    `json:"provenance"`
	CreatedAt        time.Time            `json:"created_at"`
}

func (h *Handlers) GetBooking(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(r, "id")
	if !ok {
		badRequest(w, "invalid id")
		return
	}
	b, err := h.engine.GetBooking(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if p, ok := PrincipalFrom(r.Context()); !ok || p != b.BuyerID {
		h.fail(w, r, domain.ErrBookingNotFound)
		return
	}
	writeJSON(w, http.StatusOK, bookingResponse{
		ID:               b.ID,
		EventID:          b.EventID,
		BuyerID:          b.BuyerID,
		Items:            b.Items,
		TotalAmount:      b.TotalAmount,
		PaymentReference: b.PaymentReference,
		Status:           b.Status,
		Provenance:       b.Provenance,
		CreatedAt:        b.CreatedAt,
	})
}

func (h *Handlers) MyTickets(w http.ResponseWriter, r *http.Request) {
	user, ok := PrincipalFrom(r.Context())
	if !ok {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}
	tickets, err := h.engine.ActiveTickets(r.Context(), user)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if tickets == nil {
		tickets = []domain.Ticket{}
	}
	writeJSON(w, http.StatusOK, tickets)
}

// PaymentCallback receives the processor's confirmation signal. Only succeeded
// payments are recorded.
func (h *Handlers) PaymentCallback(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PaymentReference string          `json:"payment_reference"`
		Amount           decimal.Decimal `json:"amount"`
		Status           string          `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, err.Error())
		return
	}
	if req.Status != "SUCCEEDED" {
		h.logger.WithField("payment_reference", req.PaymentReference).WithField("status", req.Status).Info("payment not successful, ignored")
		w.WriteHeader(http.StatusAccepted)
		return
	}
	if err := h.engine.ConfirmPayment(r.Context(), req.PaymentReference, req.Amount); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *Handlers) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	for _, p := range h.pingers {
		if err := p.Ping(ctx); err != nil {
			h.logger.WithError(err).Warn("readiness check failed")
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Ready"))
}
