package mongo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/robertarktes/ticket-marketplace/internal/booking"
	"github.com/robertarktes/ticket-marketplace/internal/observability"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// AuditLogger mirrors committed marketplace events into a queryable collection.
// Entries are keyed by the outbox dedupe key, so redelivery does not duplicate them.
type AuditLogger struct {
	coll   *mongo.Collection
	logger observability.Logger
}

func NewAuditLogger(db *mongo.Database, logger observability.Logger) *AuditLogger {
	return &AuditLogger{
		coll:   db.Collection("audit_logs"),
		logger: logger,
	}
}

type AuditLog struct {
	ID        string    `bson:"_id"`
	Action    string    `bson:"action"`
	UserID    uuid.UUID `bson:"user_id"`
	Timestamp time.Time `bson:"timestamp"`
	Data      bson.M    `bson:"data"`
}

// LogEvent upserts the entry under key.
func (a *AuditLogger) LogEvent(ctx context.Context, key, action string, userID uuid.UUID, at time.Time, data map[string]interface{}) error {
	log := AuditLog{
		ID:        key,
		Action:    action,
		UserID:    userID,
		Timestamp: at,
		Data:      bson.M(data),
	}
	_, err := a.coll.ReplaceOne(ctx, bson.M{"_id": key}, log, options.Replace().SetUpsert(true))
	if err != nil {
		a.logger.Error("failed to insert audit log", err)
		return err
	}
	return nil
}

func (a *AuditLogger) LogBooking(ctx context.Context, key string, ev booking.BookingConfirmed) error {
	data := map[string]interface{}{
		"booking_id":   ev.BookingID.String(),
		"event_id":     ev.EventID.String(),
		"provenance":   string(ev.Provenance),
		"ticket_codes": ev.TicketCodes,
		"total":        ev.Total.String(),
	}
	return a.LogEvent(ctx, key, booking.EventBookingConfirmed, ev.BuyerID, ev.At, data)
}

func (a *AuditLogger) LogListing(ctx context.Context, key string, ev booking.ListingCreated) error {
	data := map[string]interface{}{
		"listing_id":  ev.ListingID.String(),
		"event_id":    ev.EventID.String(),
		"ticket_code": ev.TicketCode,
		"ask_price":   ev.AskPrice.String(),
	}
	return a.LogEvent(ctx, key, booking.EventListingCreated, ev.SellerID, ev.At, data)
}

func (a *AuditLogger) LogResale(ctx context.Context, key string, ev booking.ListingSold) error {
	data := map[string]interface{}{
		"listing_id":       ev.ListingID.String(),
		"event_id":         ev.EventID.String(),
		"seller_id":        ev.SellerID.String(),
		"buyer_booking_id": ev.BuyerBooking.String(),
		"amount":           ev.Amount.String(),
		"ticket_code":      ev.TicketCode,
	}
	return a.LogEvent(ctx, key, booking.EventListingSold, ev.BuyerID, ev.At, data)
}
