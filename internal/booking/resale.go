package booking

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/ticket-marketplace/internal/domain"
	"github.com/robertarktes/ticket-marketplace/internal/observability"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// List offers one unit of the seller's booking for resale. From the moment the listing
// exists the unit is hidden from the seller's active tickets.
func (e *Engine) List(ctx context.Context, sellerID uuid.UUID, ref domain.TicketRef, askPrice decimal.Decimal) (uuid.UUID, error) {
	ctx, span := e.tracer.Start(ctx, "booking.List", trace.WithAttributes(
		attribute.String("booking.id", ref.BookingID.String()),
		attribute.String("seller.id", sellerID.String()),
	))
	var err error
	defer func() { endSpan(span, err) }()

	var listing domain.ResaleListing
	err = e.runTx(ctx, "list", func(ctx context.Context, tx Tx) error {
		b, err := tx.GetBookingForUpdate(ctx, ref.BookingID)
		if err != nil {
			return err
		}
		listing, err = domain.NewListing(b, sellerID, ref, askPrice)
		if err != nil {
			return err
		}
		listed, err := tx.HasAvailableListing(ctx, listing.TicketCode)
		if err != nil {
			return err
		}
		if listed {
			return errors.Wrapf(domain.ErrAlreadyListed, "ticket %s", listing.TicketCode)
		}
		if err := tx.InsertListing(ctx, listing); err != nil {
			return err
		}
		msg, err := outboxEvent("listing", listing.ID, EventListingCreated, ListingCreated{
			ListingID:  listing.ID,
			EventID:    listing.EventID,
			SellerID:   listing.SellerID,
			TicketCode: listing.TicketCode,
			AskPrice:   listing.AskPrice,
			At:         listing.CreatedAt,
		})
		if err != nil {
			return err
		}
		return tx.InsertOutbox(ctx, msg)
	})
	if err != nil {
		e.logger.WithField("booking_id", ref.BookingID).WithField("seller_id", sellerID).Info("listing rejected: ", err)
		return uuid.Nil, err
	}
	e.logger.WithField("listing_id", listing.ID).WithField("ticket_code", listing.TicketCode).Info("ticket listed for resale")
	return listing.ID, nil
}

// Buy transfers a listed unit to buyerID. Closing the listing, removing the unit from
// the seller's booking, creating the buyer's booking and the audit record commit
// together, so concurrent buyers of one listing see exactly one success.
func (e *Engine) Buy(ctx context.Context, listingID, buyerID uuid.UUID, paymentRef string) (uuid.UUID, error) {
	ctx, span := e.tracer.Start(ctx, "booking.Buy", trace.WithAttributes(
		attribute.String("listing.id", listingID.String()),
		attribute.String("buyer.id", buyerID.String()),
	))
	var err error
	defer func() { endSpan(span, err) }()

	var (
		listing      *domain.ResaleListing
		buyerBooking domain.Booking
	)
	err = e.runTx(ctx, "buy", func(ctx context.Context, tx Tx) error {
		var err error
		listing, err = tx.GetListingForUpdate(ctx, listingID)
		if err != nil {
			return err
		}
		if listing.Status != domain.ListingAvailable {
			return errors.Wrapf(domain.ErrAlreadySold, "listing %s", listingID)
		}
		now := time.Now().UTC()
		if err := listing.MarkSold(buyerID, now); err != nil {
			return err
		}

		seller, err := tx.GetBookingForUpdate(ctx, listing.Ref.BookingID)
		if err != nil {
			if errors.Is(err, domain.ErrBookingNotFound) {
				return errors.Wrapf(domain.ErrInconsistentState, "listing %s references missing booking", listingID)
			}
			return err
		}
		removed, err := seller.RemoveUnit(listing.TicketCode)
		if err != nil {
			return err
		}
		if removed.Seat != nil {
			ev, err := tx.GetEvent(ctx, listing.EventID)
			if err != nil {
				return err
			}
			if err := domain.VerifySeatSold(ev, removed); err != nil {
				return err
			}
		}

		buyerBooking = domain.NewBooking(listing.EventID, buyerID,
			[]domain.BookingItem{listing.TransferItem(removed)},
			listing.AskPrice, paymentRef, domain.ProvenanceResalePurchase)
		buyerBooking.SourceListingID = &listing.ID
		buyerBooking.CreatedAt = now

		if listing.AskPrice.IsPositive() {
			if err := tx.ConsumePayment(ctx, paymentRef, listing.AskPrice, buyerBooking.ID); err != nil {
				return err
			}
		}
		if err := tx.UpdateBookingItems(ctx, seller); err != nil {
			return err
		}
		if err := tx.MarkListingSold(ctx, listing); err != nil {
			return err
		}
		if err := tx.InsertBooking(ctx, buyerBooking); err != nil {
			return err
		}
		if err := tx.InsertResaleAudit(ctx, domain.ResaleAudit{
			ListingID:  listing.ID,
			SellerID:   listing.SellerID,
			BuyerID:    buyerID,
			Amount:     listing.AskPrice,
			TicketCode: listing.TicketCode,
			Timestamp:  now,
		}); err != nil {
			return err
		}
		msg, err := outboxEvent("listing", listing.ID, EventListingSold, ListingSold{
			ListingID:    listing.ID,
			EventID:      listing.EventID,
			SellerID:     listing.SellerID,
			BuyerID:      buyerID,
			BuyerBooking: buyerBooking.ID,
			Amount:       listing.AskPrice,
			TicketCode:   listing.TicketCode,
			At:           now,
		})
		if err != nil {
			return err
		}
		return tx.InsertOutbox(ctx, msg)
	})
	if err != nil {
		e.logger.WithField("listing_id", listingID).WithField("buyer_id", buyerID).Info("resale purchase rejected: ", err)
		return uuid.Nil, err
	}

	observability.BookingsTotal.WithLabelValues(string(domain.ProvenanceResalePurchase)).Inc()
	observability.ResaleSales.Inc()
	span.SetAttributes(attribute.String("booking.id", buyerBooking.ID.String()))
	e.logger.WithField("listing_id", listingID).WithField("booking_id", buyerBooking.ID).WithField("ticket_code", listing.TicketCode).Info("resale completed")
	return buyerBooking.ID, nil
}
