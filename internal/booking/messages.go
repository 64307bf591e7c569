package booking

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/robertarktes/ticket-marketplace/internal/domain"
	"github.com/shopspring/decimal"
)

const (
	EventBookingConfirmed = "booking.confirmed"
	EventListingCreated   = "listing.created"
	EventListingSold      = "listing.sold"
)

type BookingConfirmed struct {
	BookingID   uuid.UUID         `json:"booking_id"`
	EventID     uuid.UUID         `json:"event_id"`
	BuyerID     uuid.UUID         `json:"buyer_id"`
	Provenance  domain.Provenance `json:"provenance"`
	TicketCodes []string          `json:"ticket_codes"`
	Total       decimal.Decimal   `json:"total"`
	At          time.Time         `json:"at"`
}

type ListingCreated struct {
	ListingID  uuid.UUID       `json:"listing_id"`
	EventID    uuid.UUID       `json:"event_id"`
	SellerID   uuid.UUID       `json:"seller_id"`
	TicketCode string          `json:"ticket_code"`
	AskPrice   decimal.Decimal `json:"ask_price"`
	At         time.Time       `json:"at"`
}

// ListingSold carries the resale audit record.
type ListingSold struct {
	ListingID    uuid.UUID       `json:"listing_id"`
	EventID      uuid.UUID       `json:"event_id"`
	SellerID     uuid.UUID       `json:"seller_id"`
	BuyerID      uuid.UUID       `json:"buyer_id"`
	BuyerBooking uuid.UUID       `json:"buyer_booking_id"`
	Amount       decimal.Decimal `json:"amount"`
	TicketCode   string          `json:"ticket_code"`
	At           time.Time       `json:"at"`
}

func outboxEvent(aggregateType string, aggregateID uuid.UUID, eventType string, payload any) (domain.OutboxEvent, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return domain.OutboxEvent{}, err
	}
	return domain.OutboxEvent{
		ID:            uuid.New(),
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       data,
		DedupeKey:     eventType + ":" + aggregateID.String(),
	}, nil
}

func allCodes(items []domain.BookingItem) []string {
	var codes []string
	for _, it := range items {
		codes = append(codes, it.IssuedTicketCodes...)
	}
	return codes
}
