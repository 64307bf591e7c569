package domain

import (
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Allocate applies req to the event's inventory, minting one ticket code per unit.
// The event is mutated in place; callers work on a transaction-local copy.
func Allocate(e *Event, req PurchaseRequest) ([]BookingItem, decimal.Decimal, error) {
	if err := req.Validate(); err != nil {
		return nil, decimal.Zero, err
	}
	if req.seatingMode() != e.SeatingMode {
		return nil, decimal.Zero, errors.Wrapf(ErrCategoryInvalid, "event uses %s seating", e.SeatingMode)
	}
	switch r := req.(type) {
	case OpenSeating:
		return allocateOpen(e, r)
	case ReservedSeating:
		return allocateReserved(e, r)
	}
	return nil, decimal.Zero, ErrInvalidInput
}

func allocateOpen(e *Event, req OpenSeating) ([]BookingItem, decimal.Decimal, error) {
	minter := NewMinter(e)
	total := decimal.Zero
	items := make([]BookingItem, 0, len(req.Items))
	for _, it := range req.Items {
		cat, err := e.Category(it.CategoryIndex)
		if err != nil {
			return nil, decimal.Zero, errors.Wrapf(err, "category %d", it.CategoryIndex)
		}
		item := BookingItem{
			CategoryIndex:     it.CategoryIndex,
			Quantity:          it.Quantity,
			UnitPrice:         cat.UnitPrice,
			IssuedTicketCodes: make([]string, 0, it.Quantity),
		}
		for i := 0; i < it.Quantity; i++ {
			code, err := minter.Next(it.CategoryIndex)
			if err != nil {
				return nil, decimal.Zero, err
			}
			item.IssuedTicketCodes = append(item.IssuedTicketCodes, code)
		}
		total = total.Add(cat.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity))))
		items = append(items, item)
	}
	return items, total, nil
}

func allocateReserved(e *Event, req ReservedSeating) ([]BookingItem, decimal.Decimal, error) {
	if e.Grid == nil {
		return nil, decimal.Zero, errors.Wrap(ErrInconsistentState, "reserved event has no seat grid")
	}
	minter := NewMinter(e)
	total := decimal.Zero
	items := make([]BookingItem, 0, len(req.Seats))
	for _, ref := range req.Seats {
		cell, ok := e.Grid.Resolve(ref)
		if !ok {
			return nil, decimal.Zero, errors.Wrapf(ErrSeatUnavailable, "seat %s not found", describeRef(ref))
		}
		if !cell.Sellable() {
			return nil, decimal.Zero, errors.Wrapf(ErrSeatUnavailable, "seat %s is %s/%s", cell.Label, cell.Kind, cell.Status)
		}
		cat, err := e.Category(cell.CategoryIndex)
		if err != nil {
			return nil, decimal.Zero, errors.Wrapf(err, "seat %s", cell.Label)
		}
		cell.Status = SeatSold
		code, err := minter.Next(cell.CategoryIndex)
		if err != nil {
			return nil, decimal.Zero, err
		}
		row, col := cell.Row, cell.Col
		items = append(items, BookingItem{
			CategoryIndex:     cell.CategoryIndex,
			Seat:              &SeatRef{Row: &row, Col: &col, Label: cell.Label},
			Quantity:          1,
			UnitPrice:         cat.UnitPrice,
			IssuedTicketCodes: []string{code},
		})
		total = total.Add(cat.UnitPrice)
	}
	return items, total, nil
}

func describeRef(ref SeatRef) string {
	if ref.Label != "" {
		return ref.Label
	}
	if ref.Row != nil && ref.Col != nil {
		return fmt.Sprintf("row %d col %d", *ref.Row, *ref.Col)
	}
	return "?"
}

func NewBooking(eventID, buyerID uuid.UUID, items []BookingItem, total decimal.Decimal, paymentRef string, provenance Provenance) Booking {
	return Booking{
		ID:               uuid.New(),
		EventID:          eventID,
		BuyerID:          buyerID,
		Items:            items,
		TotalAmount:      total,
		PaymentReference: paymentRef,
		Status:           BookingConfirmed,
		Provenance:       provenance,
		CreatedAt:        time.Now().UTC(),
	}
}

// Unit returns the ticket code and item addressed by ref.
func (b *Booking) Unit(itemIndex, unitIndex int) (BookingItem, string, error) {
	if itemIndex < 0 || itemIndex >= len(b.Items) {
		return BookingItem{}, "", errors.Wrapf(ErrInvalidInput, "item %d out of range", itemIndex)
	}
	item := b.Items[itemIndex]
	if unitIndex < 0 || unitIndex >= len(item.IssuedTicketCodes) {
		return BookingItem{}, "", errors.Wrapf(ErrInvalidInput, "unit %d out of range", unitIndex)
	}
	return item, item.IssuedTicketCodes[unitIndex], nil
}

// RemoveUnit drops the unit carrying code, decrementing its line or removing the line
// when it held the last unit.
func (b *Booking) RemoveUnit(code string) (BookingItem, error) {
	for i, item := range b.Items {
		for j, c := range item.IssuedTicketCodes {
			if c != code {
				continue
			}
			removed := item
			removed.Quantity = 1
			removed.IssuedTicketCodes = []string{c}

			item.IssuedTicketCodes = append(append([]string(nil), item.IssuedTicketCodes[:j]...), item.IssuedTicketCodes[j+1:]...)
			item.Quantity--
			if item.Quantity <= 0 || len(item.IssuedTicketCodes) == 0 {
				b.Items = append(b.Items[:i:i], b.Items[i+1:]...)
			} else {
				b.Items[i] = item
			}
			return removed, nil
		}
	}
	return BookingItem{}, errors.Wrapf(ErrInconsistentState, "ticket %s not in booking %s", code, b.ID)
}

// Tickets flattens the booking into units, skipping codes in hidden.
func (b *Booking) Tickets(hidden map[string]bool) []Ticket {
	var out []Ticket
	for i, item := range b.Items {
		for j, code := range item.IssuedTicketCodes {
			if hidden[code] {
				continue
			}
			t := Ticket{
				BookingID:     b.ID,
				EventID:       b.EventID,
				ItemIndex:     i,
				UnitIndex:     j,
				CategoryIndex: item.CategoryIndex,
				TicketCode:    code,
				UnitPrice:     item.UnitPrice,
				Provenance:    b.Provenance,
			}
			if item.Seat != nil {
				t.SeatLabel = item.Seat.Label
			}
			out = append(out, t)
		}
	}
	return out
}
