package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type EventType string

const (
	EventOffline EventType = "offline"
	EventOnline  EventType = "online"
	EventHybrid  EventType = "hybrid"
)

type SeatingMode string

const (
	SeatingOpen     SeatingMode = "open"
	SeatingReserved SeatingMode = "reserved"
)

type BookingStatus string

const BookingConfirmed BookingStatus = "confirmed"

type Provenance string

const (
	ProvenancePrimarySale    Provenance = "primary_sale"
	ProvenanceResalePurchase Provenance = "resale_purchase"
)

type ListingStatus string

const (
	ListingAvailable ListingStatus = "available"
	ListingSold      ListingStatus = "sold"
)

const DefaultTicketCodePadding = 3

type TicketCategory struct {
	Name      string          `json:"name"`
	Code      string          `json:"code"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	// Quantity is the operator-declared remaining or total figure; 0 means unbounded.
	Quantity int `json:"quantity"`
	// Issued counts units minted for this category, for reconciliation against Quantity.
	Issued int `json:"issued"`
}

// CodeOrDerived returns the stored category code, deriving it from the name when unset.
func (c TicketCategory) CodeOrDerived() string {
	if c.Code != "" {
		return c.Code
	}
	return CategoryCode(c.Name)
}

type Event struct {
	ID                 uuid.UUID
	Name               string
	Type               EventType
	StartDate          time.Time
	SeatingMode        SeatingMode
	Categories         []TicketCategory
	Grid               *SeatGrid
	TicketCodePrefix   string
	TicketCodePadding  int
	LastIssuedSequence int64
	BannerURL          string
	CreatedAt          time.Time
}

// Prefix returns the operator-set prefix or the one derived from start date and type.
func (e *Event) Prefix() string {
	if e.TicketCodePrefix != "" {
		return e.TicketCodePrefix
	}
	return DefaultPrefix(e.StartDate, e.Type)
}

func (e *Event) Padding() int {
	if e.TicketCodePadding <= 0 {
		return DefaultTicketCodePadding
	}
	return e.TicketCodePadding
}

func (e *Event) Category(index int) (TicketCategory, error) {
	if index < 0 || index >= len(e.Categories) {
		return TicketCategory{}, ErrCategoryInvalid
	}
	return e.Categories[index], nil
}

// Clone returns a deep copy so a transaction can mutate inventory without aliasing
// the loaded record.
func (e *Event) Clone() *Event {
	c := *e
	c.Categories = append([]TicketCategory(nil), e.Categories...)
	if e.Grid != nil {
		c.Grid = e.Grid.Clone()
	}
	return &c
}

type SeatRef struct {
	Row   *int   `json:"row,omitempty"`
	Col   *int   `json:"col,omitempty"`
	Label string `json:"label,omitempty"`
}

type BookingItem struct {
	CategoryIndex     int             `json:"category_index"`
	Seat              *SeatRef        `json:"seat,omitempty"`
	Quantity          int             `json:"quantity"`
	UnitPrice         decimal.Decimal `json:"unit_price"`
	IssuedTicketCodes []string        `json:"issued_ticket_codes"`
}

type Booking struct {
	ID               uuid.UUID
	EventID          uuid.UUID
	BuyerID          uuid.UUID
	Items            []BookingItem
	TotalAmount      decimal.Decimal
	PaymentReference string
	Status           BookingStatus
	Provenance       Provenance
	SourceListingID  *uuid.UUID
	CreatedAt        time.Time
}

func (b *Booking) Clone() *Booking {
	c := *b
	c.Items = make([]BookingItem, len(b.Items))
	for i, it := range b.Items {
		it.IssuedTicketCodes = append([]string(nil), it.IssuedTicketCodes...)
		if it.Seat != nil {
			s := *it.Seat
			it.Seat = &s
		}
		c.Items[i] = it
	}
	return &c
}

type TicketRef struct {
	BookingID uuid.UUID `json:"booking_id"`
	ItemIndex int       `json:"item_index"`
	UnitIndex int       `json:"unit_index"`
}

type ResaleListing struct {
	ID            uuid.UUID
	EventID       uuid.UUID
	SellerID      uuid.UUID
	BuyerID       *uuid.UUID
	Ref           TicketRef
	TicketCode    string
	SeatLabel     string
	CategoryIndex int
	OriginalPrice decimal.Decimal
	AskPrice      decimal.Decimal
	Status        ListingStatus
	CreatedAt     time.Time
	SoldAt        *time.Time
}

type ResaleAudit struct {
	ListingID  uuid.UUID
	SellerID   uuid.UUID
	BuyerID    uuid.UUID
	Amount     decimal.Decimal
	TicketCode string
	Timestamp  time.Time
}

// Ticket is one unit as shown in a holder's active tickets view.
type Ticket struct {
	BookingID     uuid.UUID       `json:"booking_id"`
	EventID       uuid.UUID       `json:"event_id"`
	ItemIndex     int             `json:"item_index"`
	UnitIndex     int             `json:"unit_index"`
	CategoryIndex int             `json:"category_index"`
	TicketCode    string          `json:"ticket_code"`
	SeatLabel     string          `json:"seat_label,omitempty"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	Provenance    Provenance      `json:"provenance"`
}

// OutboxEvent is an integration event committed together with the state change it describes.
type OutboxEvent struct {
	ID            uuid.UUID
	AggregateType string
	AggregateID   uuid.UUID
	EventType     string
	Payload       []byte
	DedupeKey     string
	CreatedAt     time.Time
}
