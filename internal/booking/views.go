package booking

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/ticket-marketplace/internal/domain"
	"github.com/shopspring/decimal"
)

func (e *Engine) GetEvent(ctx context.Context, id uuid.UUID) (*domain.Event, error) {
	var ev *domain.Event
	err := e.runTx(ctx, "get_event", func(ctx context.Context, tx Tx) error {
		var err error
		ev, err = tx.GetEvent(ctx, id)
		return err
	})
	return ev, err
}

func (e *Engine) GetBooking(ctx context.Context, id uuid.UUID) (*domain.Booking, error) {
	var b *domain.Booking
	err := e.runTx(ctx, "get_booking", func(ctx context.Context, tx Tx) error {
		var err error
		b, err = tx.GetBooking(ctx, id)
		return err
	})
	return b, err
}

// ActiveTickets lists the units userID can use for entry. Units with an open resale
// listing are left out.
func (e *Engine) ActiveTickets(ctx context.Context, userID uuid.UUID) ([]domain.Ticket, error) {
	var tickets []domain.Ticket
	err := e.runTx(ctx, "active_tickets", func(ctx context.Context, tx Tx) error {
		bookings, err := tx.ListBookingsByBuyer(ctx, userID)
		if err != nil {
			return err
		}
		listings, err := tx.ListAvailableListingsBySeller(ctx, userID)
		if err != nil {
			return err
		}
		hidden := make(map[string]bool, len(listings))
		for _, l := range listings {
			hidden[l.TicketCode] = true
		}
		tickets = tickets[:0]
		for i := range bookings {
			tickets = append(tickets, bookings[i].Tickets(hidden)...)
		}
		return nil
	})
	return tickets, err
}

func (e *Engine) Listings(ctx context.Context, eventID uuid.UUID) ([]domain.ResaleListing, error) {
	var out []domain.ResaleListing
	err := e.runTx(ctx, "listings", func(ctx context.Context, tx Tx) error {
		var err error
		out, err = tx.ListAvailableListings(ctx, eventID)
		return err
	})
	return out, err
}

// PreviewCodes shows the first and last codes the next count units of a category
// would get. The result is an estimate; only a committed purchase advances the sequence.
func (e *Engine) PreviewCodes(ctx context.Context, eventID uuid.UUID, categoryIndex, count int) (string, string, error) {
	ev, err := e.GetEvent(ctx, eventID)
	if err != nil {
		return "", "", err
	}
	return domain.PreviewCodes(ev, categoryIndex, count)
}

// ConfirmPayment records the processor's confirmation signal for reference.
func (e *Engine) ConfirmPayment(ctx context.Context, reference string, amount decimal.Decimal) error {
	if reference == "" || amount.IsNegative() {
		return errors.Wrap(domain.ErrInvalidInput, "payment confirmation needs a reference and a non-negative amount")
	}
	err := e.runTx(ctx, "confirm_payment", func(ctx context.Context, tx Tx) error {
		return tx.InsertPaymentConfirmation(ctx, reference, amount)
	})
	if err == nil {
		e.logger.WithField("payment_reference", reference).Info("payment confirmed")
	}
	return err
}
