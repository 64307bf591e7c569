package booking

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/ticket-marketplace/internal/domain"
	"github.com/robertarktes/ticket-marketplace/internal/observability"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Purchase reserves inventory, mints ticket codes and writes a confirmed booking in one
// transaction. A positive total must be covered by a confirmed, unspent payment
// reference; a zero total needs none. On error nothing is persisted.
func (e *Engine) Purchase(ctx context.Context, eventID, buyerID uuid.UUID, req domain.PurchaseRequest, paymentRef string) (uuid.UUID, error) {
	ctx, span := e.tracer.Start(ctx, "booking.Purchase", trace.WithAttributes(
		attribute.String("event.id", eventID.String()),
		attribute.String("buyer.id", buyerID.String()),
	))
	var err error
	defer func() { endSpan(span, err) }()

	if req == nil {
		err = errors.Wrap(domain.ErrInvalidInput, "empty purchase request")
		return uuid.Nil, err
	}
	if err = req.Validate(); err != nil {
		return uuid.Nil, err
	}

	var booking domain.Booking
	err = e.runTx(ctx, "purchase", func(ctx context.Context, tx Tx) error {
		ev, err := tx.GetEventForUpdate(ctx, eventID)
		if err != nil {
			return err
		}
		items, total, err := domain.Allocate(ev, req)
		if err != nil {
			return err
		}
		booking = domain.NewBooking(ev.ID, buyerID, items, total, paymentRef, domain.ProvenancePrimarySale)
		if total.IsPositive() {
			if err := tx.ConsumePayment(ctx, paymentRef, total, booking.ID); err != nil {
				return err
			}
		}
		if err := tx.SaveEventInventory(ctx, ev); err != nil {
			return err
		}
		if err := tx.InsertBooking(ctx, booking); err != nil {
			return err
		}
		msg, err := outboxEvent("booking", booking.ID, EventBookingConfirmed, BookingConfirmed{
			BookingID:   booking.ID,
			EventID:     booking.EventID,
			BuyerID:     booking.BuyerID,
			Provenance:  booking.Provenance,
			TicketCodes: allCodes(booking.Items),
			Total:       booking.TotalAmount,
			At:          booking.CreatedAt,
		})
		if err != nil {
			return err
		}
		return tx.InsertOutbox(ctx, msg)
	})
	if err != nil {
		e.logger.WithField("event_id", eventID).WithField("buyer_id", buyerID).Info("purchase rejected: ", err)
		return uuid.Nil, err
	}

	units := len(allCodes(booking.Items))
	observability.BookingsTotal.WithLabelValues(string(domain.ProvenancePrimarySale)).Inc()
	observability.TicketsIssued.Add(float64(units))
	span.SetAttributes(attribute.String("booking.id", booking.ID.String()), attribute.Int("booking.units", units))
	e.logger.WithField("booking_id", booking.ID).WithField("event_id", eventID).WithField("units", units).Info("booking confirmed")
	return booking.ID, nil
}
