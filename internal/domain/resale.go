package domain

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// NewListing offers the unit at ref for resale. The ask price may not exceed what the
// seller paid for that unit.
func NewListing(b *Booking, sellerID uuid.UUID, ref TicketRef, askPrice decimal.Decimal) (ResaleListing, error) {
	if b.BuyerID != sellerID {
		return ResaleListing{}, ErrNotOwner
	}
	item, code, err := b.Unit(ref.ItemIndex, ref.UnitIndex)
	if err != nil {
		return ResaleListing{}, err
	}
	if askPrice.IsNegative() {
		return ResaleListing{}, errors.Wrap(ErrInvalidInput, "ask price is negative")
	}
	if askPrice.GreaterThan(item.UnitPrice) {
		return ResaleListing{}, errors.Wrapf(ErrPriceExceedsOriginal, "ask %s, original %s", askPrice, item.UnitPrice)
	}
	l := ResaleListing{
		ID:            uuid.New(),
		EventID:       b.EventID,
		SellerID:      sellerID,
		Ref:           ref,
		TicketCode:    code,
		CategoryIndex: item.CategoryIndex,
		OriginalPrice: item.UnitPrice,
		AskPrice:      askPrice,
		Status:        ListingAvailable,
		CreatedAt:     time.Now().UTC(),
	}
	if item.Seat != nil {
		l.SeatLabel = item.Seat.Label
	}
	return l, nil
}

// MarkSold moves an available listing to sold. Sold is terminal.
func (l *ResaleListing) MarkSold(buyerID uuid.UUID, at time.Time) error {
	if l.Status != ListingAvailable {
		return ErrAlreadySold
	}
	if l.SellerID == buyerID {
		return errors.Wrap(ErrInvalidInput, "seller cannot buy own listing")
	}
	l.Status = ListingSold
	l.BuyerID = &buyerID
	l.SoldAt = &at
	return nil
}

// TransferItem is the single-unit line the buyer receives. Ticket code and seat
// identity carry over; the price is what the buyer paid.
func (l *ResaleListing) TransferItem(removed BookingItem) BookingItem {
	item := removed
	item.Quantity = 1
	item.UnitPrice = l.AskPrice
	item.IssuedTicketCodes = []string{l.TicketCode}
	return item
}

// VerifySeatSold checks that a resold seat unit is still marked sold on the event grid.
func VerifySeatSold(e *Event, item BookingItem) error {
	if item.Seat == nil {
		return nil
	}
	if e.Grid == nil {
		return errors.Wrapf(ErrInconsistentState, "event %s has no seat grid", e.ID)
	}
	cell, ok := e.Grid.Resolve(SeatRef{Label: item.Seat.Label})
	if !ok && item.Seat.Row != nil && item.Seat.Col != nil {
		cell, ok = e.Grid.At(*item.Seat.Row, *item.Seat.Col)
	}
	if !ok {
		return errors.Wrapf(ErrInconsistentState, "seat %s not on grid", item.Seat.Label)
	}
	if cell.Kind != CellSeat || cell.Status != SeatSold {
		return errors.Wrapf(ErrInconsistentState, "seat %s is %s/%s", cell.Label, cell.Kind, cell.Status)
	}
	return nil
}
