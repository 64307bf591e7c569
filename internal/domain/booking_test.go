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

func reservedEvent(t *testing.T) *domain.Event {
	t.Helper()
	g, err := domain.NewSeatGrid(2, 2)
	require.NoError(t, err)
	g.Cells[1][0].CategoryIndex = 1
	g.Cells[1][1].Kind = domain.CellAisle
	return &domain.Event{
		ID:          uuid.New(),
		Type:        domain.EventOffline,
		StartDate:   time.Date(2025, 12, 26, 0, 0, 0, 0, time.UTC),
		SeatingMode: domain.SeatingReserved,
		Categories: []domain.TicketCategory{
			{Name: "VIP", UnitPrice: decimal.NewFromInt(500)},
			{Name: "Regular", UnitPrice: decimal.NewFromInt(100)},
		},
		Grid: g,
	}
}

func TestAllocate_Open(t *testing.T) {
	ev := openEvent()
	items, total, err := domain.Allocate(ev, domain.OpenSeating{Items: []domain.CategoryQuantity{
		{CategoryIndex: 0, Quantity: 2},
		{CategoryIndex: 1, Quantity: 1},
	}})
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, []string{"20251226OFF001VIP", "20251226OFF002VIP"}, items[0].IssuedTicketCodes)
	assert.Equal(t, []string{"20251226OFF003REG"}, items[1].IssuedTicketCodes)
	assert.True(t, total.Equal(decimal.NewFromInt(1100)), total.String())
	assert.EqualValues(t, 3, ev.LastIssuedSequence)
}

func TestAllocate_OpenIgnoresDeclaredQuantity(t *testing.T) {
	ev := openEvent()
	ev.Categories[0].Quantity = 1
	items, _, err := domain.Allocate(ev, domain.OpenSeating{Items: []domain.CategoryQuantity{{CategoryIndex: 0, Quantity: 3}}})
	require.NoError(t, err)
	assert.Len(t, items[0].IssuedTicketCodes, 3)
	assert.Equal(t, 3, ev.Categories[0].Issued)
}

func TestAllocate_Reserved(t *testing.T) {
	ev := reservedEvent(t)
	items, total, err := domain.Allocate(ev, domain.ReservedSeating{Seats: []domain.SeatRef{{Label: "A2"}, {Label: "B1"}}})
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "A2", items[0].Seat.Label)
	assert.Equal(t, 1, items[1].CategoryIndex)
	assert.True(t, total.Equal(decimal.NewFromInt(600)))

	cell, _ := ev.Grid.FindLabel("A2")
	assert.Equal(t, domain.SeatSold, cell.Status)
	assert.Equal(t, 1, ev.Grid.Available())
}

func TestAllocate_ReservedRejects(t *testing.T) {
	cases := map[string]domain.SeatRef{
		"aisle":     {Label: "B2"},
		"not found": {Label: "Q7"},
	}
	for name, ref := range cases {
		t.Run(name, func(t *testing.T) {
			ev := reservedEvent(t)
			_, _, err := domain.Allocate(ev, domain.ReservedSeating{Seats: []domain.SeatRef{ref}})
			assert.ErrorIs(t, err, domain.ErrSeatUnavailable)
		})
	}

	t.Run("same seat twice", func(t *testing.T) {
		ev := reservedEvent(t)
		_, _, err := domain.Allocate(ev, domain.ReservedSeating{Seats: []domain.SeatRef{{Label: "A1"}, {Label: "A1"}}})
		assert.ErrorIs(t, err, domain.ErrSeatUnavailable)
	})
}

func TestAllocate_ModeMismatch(t *testing.T) {
	_, _, err := domain.Allocate(openEvent(), domain.ReservedSeating{Seats: []domain.SeatRef{{Label: "A1"}}})
	assert.ErrorIs(t, err, domain.ErrCategoryInvalid)

	_, _, err = domain.Allocate(reservedEvent(t), domain.OpenSeating{Items: []domain.CategoryQuantity{{Quantity: 1}}})
	assert.ErrorIs(t, err, domain.ErrCategoryInvalid)
}

func TestAllocate_InvalidRequest(t *testing.T) {
	_, _, err := domain.Allocate(openEvent(), domain.OpenSeating{Items: []domain.CategoryQuantity{{CategoryIndex: 0, Quantity: 0}}})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, _, err = domain.Allocate(openEvent(), domain.OpenSeating{Items: []domain.CategoryQuantity{{CategoryIndex: 9, Quantity: 1}}})
	assert.ErrorIs(t, err, domain.ErrCategoryInvalid)
}

func TestBooking_RemoveUnit(t *testing.T) {
	b := domain.NewBooking(uuid.New(), uuid.New(), []domain.BookingItem{
		{CategoryIndex: 0, Quantity: 2, UnitPrice: decimal.NewFromInt(100), IssuedTicketCodes: []string{"P001GA", "P002GA"}},
		{CategoryIndex: 1, Quantity: 1, UnitPrice: decimal.NewFromInt(50), IssuedTicketCodes: []string{"P003STU"}},
	}, decimal.NewFromInt(250), "", domain.ProvenancePrimarySale)

	removed, err := b.RemoveUnit("P001GA")
	require.NoError(t, err)
	assert.Equal(t, 1, removed.Quantity)
	assert.Equal(t, []string{"P001GA"}, removed.IssuedTicketCodes)
	assert.Equal(t, 1, b.Items[0].Quantity)
	assert.Equal(t, []string{"P002GA"}, b.Items[0].IssuedTicketCodes)

	_, err = b.RemoveUnit("P003STU")
	require.NoError(t, err)
	assert.Len(t, b.Items, 1, "line with its last unit removed is dropped")

	_, err = b.RemoveUnit("P003STU")
	assert.ErrorIs(t, err, domain.ErrInconsistentState)
}

func TestBooking_TicketsHidesListed(t *testing.T) {
	b := domain.NewBooking(uuid.New(), uuid.New(), []domain.BookingItem{
		{Quantity: 2, UnitPrice: decimal.NewFromInt(100), IssuedTicketCodes: []string{"P001GA", "P002GA"}},
	}, decimal.NewFromInt(200), "", domain.ProvenancePrimarySale)

	assert.Len(t, b.Tickets(nil), 2)
	tickets := b.Tickets(map[string]bool{"P001GA": true})
	require.Len(t, tickets, 1)
	assert.Equal(t, "P002GA", tickets[0].TicketCode)
	assert.Equal(t, 1, tickets[0].UnitIndex)
}

func TestBooking_CloneIsDeep(t *testing.T) {
	row, col := 0, 0
	b := domain.NewBooking(uuid.New(), uuid.New(), []domain.BookingItem{
		{Quantity: 1, Seat: &domain.SeatRef{Row: &row, Col: &col, Label: "A1"}, IssuedTicketCodes: []string{"P001GA"}},
	}, decimal.Zero, "", domain.ProvenancePrimarySale)

	c := b.Clone()
	c.Items[0].IssuedTicketCodes[0] = "changed"
	c.Items[0].Seat.Label = "Z9"
	assert.Equal(t, "P001GA", b.Items[0].IssuedTicketCodes[0])
	assert.Equal(t, "A1", b.Items[0].Seat.Label)
}
