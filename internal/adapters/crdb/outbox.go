package crdb

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/robertarktes/ticket-marketplace/internal/domain"
)

type OutboxRecord struct {
	ID            uuid.UUID
	AggregateType string
	AggregateID   uuid.UUID
	EventType     string
	Payload       []byte
	CreatedAt     time.Time
	PublishedAt   *time.Time
	Status        string // NEW, PUBLISHED, FAILED
	DedupeKey     string
}

func (r OutboxRecord) Event() domain.OutboxEvent {
	return domain.OutboxEvent{
		ID:            r.ID,
		AggregateType: r.AggregateType,
		AggregateID:   r.AggregateID,
		EventType:     r.EventType,
		Payload:       r.Payload,
		DedupeKey:     r.DedupeKey,
		CreatedAt:     r.CreatedAt,
	}
}

func insertOutbox(ctx context.Context, tx pgx.Tx, record OutboxRecord) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO outbox (id, aggregate_type, aggregate_id, event_type, payload_json, status, dedupe_key)
		VALUES ($1, $2, $3, $4, $5, 'NEW', $6)
	`, record.ID, record.AggregateType, record.AggregateID, record.EventType, record.Payload, record.DedupeKey)
	return err
}

// RelayOutbox locks up to limit unpublished records, hands each to publish in creation
// order and marks the ones that went out. Records that fail stay NEW for the next round.
// It returns how many were published and the age of the oldest record seen.
func (r *Repository) RelayOutbox(ctx context.Context, limit int, publish func(ctx context.Context, ev domain.OutboxEvent) error) (int, time.Duration, error) {
	published := 0
	var lag time.Duration
	err := r.withPgTx(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT id, aggregate_type, aggregate_id, event_type, payload_json, created_at, published_at, status, dedupe_key
			FROM outbox WHERE status = 'NEW' ORDER BY created_at ASC LIMIT $1 FOR UPDATE SKIP LOCKED
		`, limit)
		if err != nil {
			return err
		}
		records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (OutboxRecord, error) {
			var rec OutboxRecord
			err := row.Scan(&rec.ID, &rec.AggregateType, &rec.AggregateID, &rec.EventType, &rec.Payload, &rec.CreatedAt, &rec.PublishedAt, &rec.Status, &rec.DedupeKey)
			return rec, err
		})
		if err != nil {
			return err
		}
		if len(records) > 0 {
			lag = time.Since(records[0].CreatedAt)
		}

		for _, rec := range records {
			if err := publish(ctx, rec.Event()); err != nil {
				continue
			}
			if _, err := tx.Exec(ctx, `
				UPDATE outbox SET status = 'PUBLISHED', published_at = $2 WHERE id = $1
			`, rec.ID, time.Now().UTC()); err != nil {
				return err
			}
			published++
		}
		return nil
	})
	return published, lag, err
}
