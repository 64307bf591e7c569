package crdb

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robertarktes/ticket-marketplace/internal/booking"
	"github.com/robertarktes/ticket-marketplace/internal/domain"
	"github.com/shopspring/decimal"
)

const (
	SerializationFailureCode = "40001"
	UniqueViolationCode      = "23505"
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx runs fn in a SERIALIZABLE transaction. Rollback and commit use a context
// detached from ctx: once commit starts, caller cancellation no longer applies.
func (r *Repository) WithTx(ctx context.Context, fn func(ctx context.Context, tx booking.Tx) error) error {
	return r.withPgTx(ctx, func(tx pgx.Tx) error {
		return fn(ctx, &txStore{tx: tx})
	})
}

func (r *Repository) withPgTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return mapError(err)
	}
	defer tx.Rollback(context.WithoutCancel(ctx))

	if err := fn(tx); err != nil {
		return mapError(err)
	}
	return mapError(tx.Commit(context.WithoutCancel(ctx)))
}

func mapError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == SerializationFailureCode {
		return errors.Wrap(domain.ErrSerializationFailure, pgErr.Message)
	}
	return err
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == UniqueViolationCode &&
		(constraint == "" || pgErr.ConstraintName == constraint)
}

// txStore implements booking.Tx over one pgx transaction.
type txStore struct {
	tx pgx.Tx
}

const eventColumns = `id, name, event_type, start_date, seating_mode, categories, seat_grid,
	ticket_code_prefix, ticket_code_padding, last_issued_sequence, banner_url, created_at`

func (s *txStore) InsertEvent(ctx context.Context, e *domain.Event) error {
	cats, err := json.Marshal(e.Categories)
	if err != nil {
		return err
	}
	var grid []byte
	if e.Grid != nil {
		if grid, err = json.Marshal(e.Grid); err != nil {
			return err
		}
	}
	_, err = s.tx.Exec(ctx, `
		INSERT INTO events (`+eventColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, e.ID, e.Name, string(e.Type), e.StartDate, string(e.SeatingMode), cats, grid,
		e.TicketCodePrefix, e.TicketCodePadding, e.LastIssuedSequence, e.BannerURL, e.CreatedAt)
	return err
}

func (s *txStore) GetEvent(ctx context.Context, id uuid.UUID) (*domain.Event, error) {
	return s.getEvent(ctx, `SELECT `+eventColumns+` FROM events WHERE id = $1`, id)
}

func (s *txStore) GetEventForUpdate(ctx context.Context, id uuid.UUID) (*domain.Event, error) {
	return s.getEvent(ctx, `SELECT `+eventColumns+` FROM events WHERE id = $1 FOR UPDATE`, id)
}

func (s *txStore) getEvent(ctx context.Context, query string, id uuid.UUID) (*domain.Event, error) {
	var (
		e          domain.Event
		eventType  string
		mode       string
		cats, grid []byte
	)
	err := s.tx.QueryRow(ctx, query, id).Scan(&e.ID, &e.Name, &eventType, &e.StartDate, &mode,
		&cats, &grid, &e.TicketCodePrefix, &e.TicketCodePadding, &e.LastIssuedSequence, &e.BannerURL, &e.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Wrapf(domain.ErrEventNotFound, "event %s", id)
	}
	if err != nil {
		return nil, err
	}
	e.Type = domain.EventType(eventType)
	e.SeatingMode = domain.SeatingMode(mode)
	if err := json.Unmarshal(cats, &e.Categories); err != nil {
		return nil, errors.Wrap(err, "decode categories")
	}
	if len(grid) > 0 && string(grid) != "null" {
		e.Grid = &domain.SeatGrid{}
		if err := json.Unmarshal(grid, e.Grid); err != nil {
			return nil, errors.Wrap(err, "decode seat grid")
		}
	}
	return &e, nil
}

// SaveEventInventory writes back the fields the engine may change: sequence, category
// counters, seat grid and prefix.
func (s *txStore) SaveEventInventory(ctx context.Context, e *domain.Event) error {
	cats, err := json.Marshal(e.Categories)
	if err != nil {
		return err
	}
	var grid []byte
	if e.Grid != nil {
		if grid, err = json.Marshal(e.Grid); err != nil {
			return err
		}
	}
	result, err := s.tx.Exec(ctx, `
		UPDATE events
		SET last_issued_sequence = $2, categories = $3, seat_grid = $4, ticket_code_prefix = $5
		WHERE id = $1 AND last_issued_sequence <= $2
	`, e.ID, e.LastIssuedSequence, cats, grid, e.TicketCodePrefix)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return errors.Wrapf(domain.ErrInconsistentState, "event %s sequence would move backwards", e.ID)
	}
	return nil
}

const bookingColumns = `id, event_id, buyer_id, items, total_amount, payment_reference,
	status, provenance, source_listing_id, created_at`

func (s *txStore) InsertBooking(ctx context.Context, b domain.Booking) error {
	items, err := json.Marshal(b.Items)
	if err != nil {
		return err
	}
	_, err = s.tx.Exec(ctx, `
		INSERT INTO bookings (`+bookingColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, b.ID, b.EventID, b.BuyerID, items, b.TotalAmount, b.PaymentReference,
		string(b.Status), string(b.Provenance), b.SourceListingID, b.CreatedAt)
	if err != nil {
		return err
	}
	if b.Provenance != domain.ProvenancePrimarySale {
		return nil
	}
	for _, item := range b.Items {
		var seat *string
		if item.Seat != nil {
			seat = &item.Seat.Label
		}
		for _, code := range item.IssuedTicketCodes {
			_, err := s.tx.Exec(ctx, `
				INSERT INTO ticket_codes (code, event_id, seat_label, booking_id)
				VALUES ($1, $2, $3, $4)
			`, code, b.EventID, seat, b.ID)
			if isUniqueViolation(err, "") {
				return errors.Wrapf(domain.ErrInconsistentState, "ticket %s already issued", code)
			}
			if err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *txStore) GetBooking(ctx context.Context, id uuid.UUID) (*domain.Booking, error) {
	return s.getBooking(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id)
}

func (s *txStore) GetBookingForUpdate(ctx context.Context, id uuid.UUID) (*domain.Booking, error) {
	return s.getBooking(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1 FOR UPDATE`, id)
}

func (s *txStore) getBooking(ctx context.Context, query string, id uuid.UUID) (*domain.Booking, error) {
	b, err := scanBooking(s.tx.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Wrapf(domain.ErrBookingNotFound, "booking %s", id)
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

func scanBooking(row pgx.Row) (*domain.Booking, error) {
	var (
		b                  domain.Booking
		items              []byte
		status, provenance string
	)
	err := row.Scan(&b.ID, &b.EventID, &b.BuyerID, &items, &b.TotalAmount, &b.PaymentReference,
		&status, &provenance, &b.SourceListingID, &b.CreatedAt)
	if err != nil {
		return nil, err
	}
	b.Status = domain.BookingStatus(status)
	b.Provenance = domain.Provenance(provenance)
	if err := json.Unmarshal(items, &b.Items); err != nil {
		return nil, errors.Wrap(err, "decode booking items")
	}
	return &b, nil
}

func (s *txStore) UpdateBookingItems(ctx context.Context, b *domain.Booking) error {
	items, err := json.Marshal(b.Items)
	if err != nil {
		return err
	}
	result, err := s.tx.Exec(ctx, `UPDATE bookings SET items = $2 WHERE id = $1`, b.ID, items)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return errors.Wrapf(domain.ErrBookingNotFound, "booking %s", b.ID)
	}
	return nil
}

func (s *txStore) ListBookingsByBuyer(ctx context.Context, buyerID uuid.UUID) ([]domain.Booking, error) {
	rows, err := s.tx.Query(ctx, `
		SELECT `+bookingColumns+` FROM bookings WHERE buyer_id = $1 ORDER BY created_at ASC
	`, buyerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

const listingColumns = `id, event_id, seller_id, buyer_id, booking_id, item_index, unit_index,
	ticket_code, seat_label, category_index, original_price, ask_price, status, created_at, sold_at`

func (s *txStore) InsertListing(ctx context.Context, l domain.ResaleListing) error {
	_, err := s.tx.Exec(ctx, `
		INSERT INTO resale_listings (`+listingColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`, l.ID, l.EventID, l.SellerID, l.BuyerID, l.Ref.BookingID, l.Ref.ItemIndex, l.Ref.UnitIndex,
		l.TicketCode, l.SeatLabel, l.CategoryIndex, l.OriginalPrice, l.AskPrice, string(l.Status), l.CreatedAt, l.SoldAt)
	if isUniqueViolation(err, "resale_listings_open_code_idx") {
		return errors.Wrapf(domain.ErrAlreadyListed, "ticket %s", l.TicketCode)
	}
	return err
}

func scanListing(row pgx.Row) (*domain.ResaleListing, error) {
	var (
		l      domain.ResaleListing
		status string
	)
	err := row.Scan(&l.ID, &l.EventID, &l.SellerID, &l.BuyerID, &l.Ref.BookingID, &l.Ref.ItemIndex, &l.Ref.UnitIndex,
		&l.TicketCode, &l.SeatLabel, &l.CategoryIndex, &l.OriginalPrice, &l.AskPrice, &status, &l.CreatedAt, &l.SoldAt)
	if err != nil {
		return nil, err
	}
	l.Status = domain.ListingStatus(status)
	return &l, nil
}

func (s *txStore) GetListingForUpdate(ctx context.Context, id uuid.UUID) (*domain.ResaleListing, error) {
	l, err := scanListing(s.tx.QueryRow(ctx, `SELECT `+listingColumns+` FROM resale_listings WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Wrapf(domain.ErrListingNotFound, "listing %s", id)
	}
	return l, err
}

func (s *txStore) MarkListingSold(ctx context.Context, l *domain.ResaleListing) error {
	result, err := s.tx.Exec(ctx, `
		UPDATE resale_listings SET status = 'sold', buyer_id = $2, sold_at = $3
		WHERE id = $1 AND status = 'available'
	`, l.ID, l.BuyerID, l.SoldAt)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return errors.Wrapf(domain.ErrAlreadySold, "listing %s", l.ID)
	}
	return nil
}

func (s *txStore) HasAvailableListing(ctx context.Context, ticketCode string) (bool, error) {
	var exists bool
	err := s.tx.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM resale_listings WHERE ticket_code = $1 AND status = 'available')
	`, ticketCode).Scan(&exists)
	return exists, err
}

func (s *txStore) listListings(ctx context.Context, query string, arg uuid.UUID) ([]domain.ResaleListing, error) {
	rows, err := s.tx.Query(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ResaleListing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *l)
	}
	return out, rows.Err()
}

func (s *txStore) ListAvailableListings(ctx context.Context, eventID uuid.UUID) ([]domain.ResaleListing, error) {
	return s.listListings(ctx, `
		SELECT `+listingColumns+` FROM resale_listings
		WHERE event_id = $1 AND status = 'available' ORDER BY created_at ASC
	`, eventID)
}

func (s *txStore) ListAvailableListingsBySeller(ctx context.Context, sellerID uuid.UUID) ([]domain.ResaleListing, error) {
	return s.listListings(ctx, `
		SELECT `+listingColumns+` FROM resale_listings
		WHERE seller_id = $1 AND status = 'available' ORDER BY created_at ASC
	`, sellerID)
}

func (s *txStore) InsertResaleAudit(ctx context.Context, a domain.ResaleAudit) error {
	_, err := s.tx.Exec(ctx, `
		INSERT INTO resale_audit (listing_id, seller_id, buyer_id, amount, ticket_code, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, a.ListingID, a.SellerID, a.BuyerID, a.Amount, a.TicketCode, a.Timestamp)
	return err
}

func (s *txStore) InsertPaymentConfirmation(ctx context.Context, reference string, amount decimal.Decimal) error {
	result, err := s.tx.Exec(ctx, `
		INSERT INTO payment_confirmations (reference, amount) VALUES ($1, $2)
		ON CONFLICT (reference) DO NOTHING
	`, reference, amount)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 1 {
		return nil
	}
	var existing decimal.Decimal
	if err := s.tx.QueryRow(ctx, `SELECT amount FROM payment_confirmations WHERE reference = $1`, reference).Scan(&existing); err != nil {
		return err
	}
	if !existing.Equal(amount) {
		return errors.Wrapf(domain.ErrConflict, "payment %s already confirmed for %s", reference, existing)
	}
	return nil
}

func (s *txStore) ConsumePayment(ctx context.Context, reference string, amount decimal.Decimal, bookingID uuid.UUID) error {
	if reference == "" {
		return errors.Wrap(domain.ErrUnconfirmed, "no payment reference")
	}
	result, err := s.tx.Exec(ctx, `
		UPDATE payment_confirmations SET consumed_by = $2, consumed_at = $4
		WHERE reference = $1 AND consumed_by IS NULL AND amount >= $3
	`, reference, bookingID, amount, time.Now().UTC())
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return errors.Wrapf(domain.ErrUnconfirmed, "payment %s", reference)
	}
	return nil
}

func (s *txStore) InsertOutbox(ctx context.Context, ev domain.OutboxEvent) error {
	return insertOutbox(ctx, s.tx, OutboxRecord{
		ID:            ev.ID,
		AggregateType: ev.AggregateType,
		AggregateID:   ev.AggregateID,
		EventType:     ev.EventType,
		Payload:       ev.Payload,
		DedupeKey:     ev.DedupeKey,
	})
}
