package memstore

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/ticket-marketplace/internal/domain"
	"github.com/shopspring/decimal"
)

func eventKey(id uuid.UUID) string          { return "event:" + id.String() }
func bookingKey(id uuid.UUID) string        { return "booking:" + id.String() }
func listingKey(id uuid.UUID) string        { return "listing:" + id.String() }
func buyerIndexKey(id uuid.UUID) string     { return "idx:buyer:" + id.String() }
func eventListingsKey(id uuid.UUID) string  { return "idx:event-listings:" + id.String() }
func sellerListingsKey(id uuid.UUID) string { return "idx:seller-listings:" + id.String() }
func openCodeKey(code string) string        { return "idx:open-listing:" + code }
func codeKey(code string) string            { return "code:" + code }
func paymentKey(ref string) string          { return "payment:" + ref }

func seatKey(eventID uuid.UUID, label string) string {
	return "seat:" + eventID.String() + ":" + label
}

type payment struct {
	amount     decimal.Decimal
	consumedBy uuid.UUID
	consumedAt time.Time
}

func (t *tx) ids(key string) ([]uuid.UUID, error) {
	v, err := t.get(key)
	if err != nil || v == nil {
		return nil, err
	}
	return v.([]uuid.UUID), nil
}

func (t *tx) addID(key string, id uuid.UUID) error {
	cur, err := t.ids(key)
	if err != nil {
		return err
	}
	next := make([]uuid.UUID, 0, len(cur)+1)
	next = append(next, cur...)
	t.put(key, append(next, id))
	return nil
}

func (t *tx) removeID(key string, id uuid.UUID) error {
	cur, err := t.ids(key)
	if err != nil {
		return err
	}
	next := make([]uuid.UUID, 0, len(cur))
	for _, c := range cur {
		if c != id {
			next = append(next, c)
		}
	}
	t.put(key, next)
	return nil
}

func (t *tx) InsertEvent(ctx context.Context, e *domain.Event) error {
	v, err := t.get(eventKey(e.ID))
	if err != nil {
		return err
	}
	if v != nil {
		return errors.Wrapf(domain.ErrConflict, "event %s exists", e.ID)
	}
	t.put(eventKey(e.ID), e.Clone())
	return nil
}

func (t *tx) GetEvent(ctx context.Context, id uuid.UUID) (*domain.Event, error) {
	v, err := t.get(eventKey(id))
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, errors.Wrapf(domain.ErrEventNotFound, "event %s", id)
	}
	return v.(*domain.Event).Clone(), nil
}

func (t *tx) GetEventForUpdate(ctx context.Context, id uuid.UUID) (*domain.Event, error) {
	return t.GetEvent(ctx, id)
}

func (t *tx) SaveEventInventory(ctx context.Context, e *domain.Event) error {
	cur, err := t.GetEvent(ctx, e.ID)
	if err != nil {
		return err
	}
	if e.LastIssuedSequence < cur.LastIssuedSequence {
		return errors.Wrapf(domain.ErrInconsistentState, "event %s sequence would move backwards", e.ID)
	}
	cur.LastIssuedSequence = e.LastIssuedSequence
	cur.Categories = append([]domain.TicketCategory(nil), e.Categories...)
	cur.TicketCodePrefix = e.TicketCodePrefix
	if e.Grid != nil {
		cur.Grid = e.Grid.Clone()
	}
	t.put(eventKey(e.ID), cur)
	return nil
}

func (t *tx) InsertBooking(ctx context.Context, b domain.Booking) error {
	v, err := t.get(bookingKey(b.ID))
	if err != nil {
		return err
	}
	if v != nil {
		return errors.Wrapf(domain.ErrConflict, "booking %s exists", b.ID)
	}
	if b.Provenance == domain.ProvenancePrimarySale {
		for _, item := range b.Items {
			for _, code := range item.IssuedTicketCodes {
				prev, err := t.get(codeKey(code))
				if err != nil {
					return err
				}
				if prev != nil {
					return errors.Wrapf(domain.ErrInconsistentState, "ticket %s already issued", code)
				}
				t.put(codeKey(code), b.ID)
			}
			if item.Seat != nil {
				key := seatKey(b.EventID, item.Seat.Label)
				prev, err := t.get(key)
				if err != nil {
					return err
				}
				if prev != nil {
					return errors.Wrapf(domain.ErrInconsistentState, "seat %s already issued", item.Seat.Label)
				}
				t.put(key, b.ID)
			}
		}
	}
	t.put(bookingKey(b.ID), b.Clone())
	return t.addID(buyerIndexKey(b.BuyerID), b.ID)
}

func (t *tx) GetBooking(ctx context.Context, id uuid.UUID) (*domain.Booking, error) {
	v, err := t.get(bookingKey(id))
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, errors.Wrapf(domain.ErrBookingNotFound, "booking %s", id)
	}
	return v.(*domain.Booking).Clone(), nil
}

func (t *tx) GetBookingForUpdate(ctx context.Context, id uuid.UUID) (*domain.Booking, error) {
	return t.GetBooking(ctx, id)
}

func (t *tx) UpdateBookingItems(ctx context.Context, b *domain.Booking) error {
	cur, err := t.GetBooking(ctx, b.ID)
	if err != nil {
		return err
	}
	cur.Items = b.Clone().Items
	t.put(bookingKey(b.ID), cur)
	return nil
}

func (t *tx) ListBookingsByBuyer(ctx context.Context, buyerID uuid.UUID) ([]domain.Booking, error) {
	ids, err := t.ids(buyerIndexKey(buyerID))
	if err != nil {
		return nil, err
	}
	var out []domain.Booking
	for _, id := range ids {
		b, err := t.GetBooking(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, nil
}

func (t *tx) InsertListing(ctx context.Context, l domain.ResaleListing) error {
	open, err := t.get(openCodeKey(l.TicketCode))
	if err != nil {
		return err
	}
	if open != nil {
		return errors.Wrapf(domain.ErrAlreadyListed, "ticket %s", l.TicketCode)
	}
	t.put(openCodeKey(l.TicketCode), l.ID)
	t.put(listingKey(l.ID), &l)
	if err := t.addID(eventListingsKey(l.EventID), l.ID); err != nil {
		return err
	}
	return t.addID(sellerListingsKey(l.SellerID), l.ID)
}

func (t *tx) GetListingForUpdate(ctx context.Context, id uuid.UUID) (*domain.ResaleListing, error) {
	v, err := t.get(listingKey(id))
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, errors.Wrapf(domain.ErrListingNotFound, "listing %s", id)
	}
	l := *v.(*domain.ResaleListing)
	return &l, nil
}

func (t *tx) MarkListingSold(ctx context.Context, l *domain.ResaleListing) error {
	cur, err := t.GetListingForUpdate(ctx, l.ID)
	if err != nil {
		return err
	}
	if cur.Status != domain.ListingAvailable {
		return errors.Wrapf(domain.ErrAlreadySold, "listing %s", l.ID)
	}
	sold := *l
	sold.Status = domain.ListingSold
	t.put(listingKey(l.ID), &sold)
	t.put(openCodeKey(l.TicketCode), nil)
	if err := t.removeID(eventListingsKey(l.EventID), l.ID); err != nil {
		return err
	}
	return t.removeID(sellerListingsKey(l.SellerID), l.ID)
}

func (t *tx) HasAvailableListing(ctx context.Context, ticketCode string) (bool, error) {
	v, err := t.get(openCodeKey(ticketCode))
	return v != nil, err
}

func (t *tx) listings(ctx context.Context, key string) ([]domain.ResaleListing, error) {
	ids, err := t.ids(key)
	if err != nil {
		return nil, err
	}
	var out []domain.ResaleListing
	for _, id := range ids {
		l, err := t.GetListingForUpdate(ctx, id)
		if err != nil {
			return nil, err
		}
		if l.Status == domain.ListingAvailable {
			out = append(out, *l)
		}
	}
	return out, nil
}

func (t *tx) ListAvailableListings(ctx context.Context, eventID uuid.UUID) ([]domain.ResaleListing, error) {
	return t.listings(ctx, eventListingsKey(eventID))
}

func (t *tx) ListAvailableListingsBySeller(ctx context.Context, sellerID uuid.UUID) ([]domain.ResaleListing, error) {
	return t.listings(ctx, sellerListingsKey(sellerID))
}

func (t *tx) InsertResaleAudit(ctx context.Context, a domain.ResaleAudit) error {
	t.audit = append(t.audit, a)
	return nil
}

func (t *tx) InsertPaymentConfirmation(ctx context.Context, reference string, amount decimal.Decimal) error {
	v, err := t.get(paymentKey(reference))
	if err != nil {
		return err
	}
	if v != nil {
		if existing := v.(*payment); !existing.amount.Equal(amount) {
			return errors.Wrapf(domain.ErrConflict, "payment %s already confirmed for %s", reference, existing.amount)
		}
		return nil
	}
	t.put(paymentKey(reference), &payment{amount: amount})
	return nil
}

func (t *tx) ConsumePayment(ctx context.Context, reference string, amount decimal.Decimal, bookingID uuid.UUID) error {
	if reference == "" {
		return errors.Wrap(domain.ErrUnconfirmed, "no payment reference")
	}
	v, err := t.get(paymentKey(reference))
	if err != nil {
		return err
	}
	if v == nil {
		return errors.Wrapf(domain.ErrUnconfirmed, "payment %s", reference)
	}
	p := *v.(*payment)
	if p.consumedBy != uuid.Nil || p.amount.LessThan(amount) {
		return errors.Wrapf(domain.ErrUnconfirmed, "payment %s", reference)
	}
	p.consumedBy = bookingID
	p.consumedAt = time.Now().UTC()
	t.put(paymentKey(reference), &p)
	return nil
}

func (t *tx) InsertOutbox(ctx context.Context, ev domain.OutboxEvent) error {
	t.outbox = append(t.outbox, ev)
	return nil
}
