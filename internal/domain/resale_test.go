package domain_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/robertarktes/ticket-marketplace/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sellerBooking() domain.Booking {
	return domain.NewBooking(uuid.New(), uuid.New(), []domain.BookingItem{
		{CategoryIndex: 0, Quantity: 2, UnitPrice: decimal.NewFromInt(500), IssuedTicketCodes: []string{"P001VIP", "P002VIP"}},
	}, decimal.NewFromInt(1000), "pay-1", domain.ProvenancePrimarySale)
}

func TestNewListing(t *testing.T) {
	b := sellerBooking()
	ref := domain.TicketRef{BookingID: b.ID, ItemIndex: 0, UnitIndex: 1}

	l, err := domain.NewListing(&b, b.BuyerID, ref, decimal.NewFromInt(450))
	require.NoError(t, err)
	assert.Equal(t, "P002VIP", l.TicketCode)
	assert.Equal(t, domain.ListingAvailable, l.Status)
	assert.True(t, l.OriginalPrice.Equal(decimal.NewFromInt(500)))

	_, err = domain.NewListing(&b, b.BuyerID, ref, decimal.NewFromInt(500))
	assert.NoError(t, err, "ask equal to original is allowed")
}

func TestNewListing_Rejects(t *testing.T) {
	b := sellerBooking()
	ref := domain.TicketRef{BookingID: b.ID}

	_, err := domain.NewListing(&b, b.BuyerID, ref, decimal.NewFromInt(600))
	assert.ErrorIs(t, err, domain.ErrPriceExceedsOriginal)

	_, err = domain.NewListing(&b, uuid.New(), ref, decimal.NewFromInt(100))
	assert.ErrorIs(t, err, domain.ErrNotOwner)

	_, err = domain.NewListing(&b, b.BuyerID, domain.TicketRef{BookingID: b.ID, UnitIndex: 5}, decimal.NewFromInt(100))
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = domain.NewListing(&b, b.BuyerID, ref, decimal.NewFromInt(-1))
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestListing_MarkSold(t *testing.T) {
	b := sellerBooking()
	l, err := domain.NewListing(&b, b.BuyerID, domain.TicketRef{BookingID: b.ID}, decimal.NewFromInt(300))
	require.NoError(t, err)

	assert.ErrorIs(t, l.MarkSold(b.BuyerID, time.Now()), domain.ErrInvalidInput)

	buyer := uuid.New()
	require.NoError(t, l.MarkSold(buyer, time.Now()))
	assert.Equal(t, domain.ListingSold, l.Status)
	assert.Equal(t, buyer, *l.BuyerID)

	assert.ErrorIs(t, l.MarkSold(uuid.New(), time.Now()), domain.ErrAlreadySold)
}

func TestTransferItem(t *testing.T) {
	b := sellerBooking()
	l, err := domain.NewListing(&b, b.BuyerID, domain.TicketRef{BookingID: b.ID, UnitIndex: 1}, decimal.NewFromInt(300))
	require.NoError(t, err)

	removed, err := b.RemoveUnit(l.TicketCode)
	require.NoError(t, err)
	item := l.TransferItem(removed)
	assert.Equal(t, []string{"P002VIP"}, item.IssuedTicketCodes)
	assert.Equal(t, 1, item.Quantity)
	assert.True(t, item.UnitPrice.Equal(decimal.NewFromInt(300)))
}

func TestVerifySeatSold(t *testing.T) {
	ev := reservedEvent(t)
	items, _, err := domain.Allocate(ev, domain.ReservedSeating{Seats: []domain.SeatRef{{Label: "A1"}}})
	require.NoError(t, err)
	assert.NoError(t, domain.VerifySeatSold(ev, items[0]))

	ev.Grid.Cells[0][0].Status = domain.SeatAvailable
	assert.ErrorIs(t, domain.VerifySeatSold(ev, items[0]), domain.ErrInconsistentState)

	assert.NoError(t, domain.VerifySeatSold(ev, domain.BookingItem{}), "open seating units carry no seat")
}
