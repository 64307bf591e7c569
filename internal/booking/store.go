package booking

import (
	"context"

	"github.com/google/uuid"
	"github.com/robertarktes/ticket-marketplace/internal/domain"
	"github.com/shopspring/decimal"
)

// Store runs fn as one atomic unit. Implementations return
// domain.ErrSerializationFailure when the unit lost a write conflict and may be retried.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the read and write set available inside a transaction. The ForUpdate readers
// take the row into the transaction's conflict set.
type Tx interface {
	InsertEvent(ctx context.Context, e *domain.Event) error
	GetEvent(ctx context.Context, id uuid.UUID) (*domain.Event, error)
	GetEventForUpdate(ctx context.Context, id uuid.UUID) (*domain.Event, error)
	SaveEventInventory(ctx context.Context, e *domain.Event) error

	InsertBooking(ctx context.Context, b domain.Booking) error
	GetBooking(ctx context.Context, id uuid.UUID) (*domain.Booking, error)
	GetBookingForUpdate(ctx context.Context, id uuid.UUID) (*domain.Booking, error)
	UpdateBookingItems(ctx context.Context, b *domain.Booking) error
	ListBookingsByBuyer(ctx context.Context, buyerID uuid.UUID) ([]domain.Booking, error)

	InsertListing(ctx context.Context, l domain.ResaleListing) error
	GetListingForUpdate(ctx context.Context, id uuid.UUID) (*domain.ResaleListing, error)
	// MarkListingSold must only succeed while the stored status is still available.
	MarkListingSold(ctx context.Context, l *domain.ResaleListing) error
	HasAvailableListing(ctx context.Context, ticketCode string) (bool, error)
	ListAvailableListings(ctx context.Context, eventID uuid.UUID) ([]domain.ResaleListing, error)
	ListAvailableListingsBySeller(ctx context.Context, sellerID uuid.UUID) ([]domain.ResaleListing, error)

	InsertResaleAudit(ctx context.Context, a domain.ResaleAudit) error

	// InsertPaymentConfirmation records a confirmed payment. Re-delivery of the same
	// reference and amount is a no-op; a different amount is domain.ErrConflict.
	InsertPaymentConfirmation(ctx context.Context, reference string, amount decimal.Decimal) error
	// ConsumePayment marks a confirmed payment as spent by bookingID. It fails with
	// domain.ErrUnconfirmed when the reference is unknown, already spent, or short of amount.
	ConsumePayment(ctx context.Context, reference string, amount decimal.Decimal, bookingID uuid.UUID) error

	InsertOutbox(ctx context.Context, ev domain.OutboxEvent) error
}
