// Package memstore is an in-process implementation of booking.Store with optimistic
// concurrency control. Every read records the version it saw; a read, or the commit,
// fails with domain.ErrSerializationFailure once any earlier read has been overwritten
// by another transaction, so a transaction only ever acts on a consistent snapshot.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/ticket-marketplace/internal/booking"
	"github.com/robertarktes/ticket-marketplace/internal/domain"
)

type entry struct {
	version uint64
	value   any
}

type Store struct {
	mu     sync.Mutex
	clock  uint64
	data   map[string]*entry
	audit  []domain.ResaleAudit
	outbox []domain.OutboxEvent

	// forced serialization failures on commit, for exercising retry paths
	failCommits int
	// no relay drains the outbox
	discardOutbox bool
}

func New() *Store {
	return &Store{data: make(map[string]*entry)}
}

// FailCommits makes the next n commits fail as write conflicts.
func (s *Store) FailCommits(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failCommits = n
}

// DiscardOutbox stops retaining outbox events at commit, for processes that run
// without a relay. Events already pending are dropped too.
func (s *Store) DiscardOutbox() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.discardOutbox = true
	s.outbox = nil
}

func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx booking.Tx) error) error {
	t := &tx{
		s:      s,
		reads:  make(map[string]uint64),
		writes: make(map[string]any),
	}
	if err := fn(ctx, t); err != nil {
		return err
	}
	return t.commit()
}

// Audit returns the committed resale audit trail.
func (s *Store) Audit() []domain.ResaleAudit {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.ResaleAudit(nil), s.audit...)
}

// Outbox returns every committed outbox event in commit order.
func (s *Store) Outbox() []domain.OutboxEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.OutboxEvent(nil), s.outbox...)
}

// RelayOutbox hands up to limit committed outbox events to publish in commit order
// and forgets the ones it accepted. It returns how many went out and the age of the
// oldest pending event.
func (s *Store) RelayOutbox(ctx context.Context, limit int, publish func(ctx context.Context, ev domain.OutboxEvent) error) (int, time.Duration, error) {
	s.mu.Lock()
	pending := s.outbox
	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}
	pending = append([]domain.OutboxEvent(nil), pending...)
	s.mu.Unlock()

	var lag time.Duration
	if len(pending) > 0 {
		lag = time.Since(pending[0].CreatedAt)
	}
	sent := make(map[uuid.UUID]bool, len(pending))
	for _, ev := range pending {
		if err := publish(ctx, ev); err != nil {
			continue
		}
		sent[ev.ID] = true
	}

	s.mu.Lock()
	kept := s.outbox[:0]
	for _, ev := range s.outbox {
		if !sent[ev.ID] {
			kept = append(kept, ev)
		}
	}
	s.outbox = kept
	s.mu.Unlock()
	return len(sent), lag, nil
}

type tx struct {
	s      *Store
	reads  map[string]uint64
	writes map[string]any
	order  []string
	audit  []domain.ResaleAudit
	outbox []domain.OutboxEvent
}

func (t *tx) validateLocked() error {
	for key, seen := range t.reads {
		var current uint64
		if e := t.s.data[key]; e != nil {
			current = e.version
		}
		if current != seen {
			return errors.Wrapf(domain.ErrSerializationFailure, "%s changed", key)
		}
	}
	return nil
}

// get returns the value visible to the transaction. Committed values are never
// mutated in place; callers clone before changing them.
func (t *tx) get(key string) (any, error) {
	if v, ok := t.writes[key]; ok {
		return v, nil
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if err := t.validateLocked(); err != nil {
		return nil, err
	}
	var (
		version uint64
		value   any
	)
	if e := t.s.data[key]; e != nil {
		version, value = e.version, e.value
	}
	if _, ok := t.reads[key]; !ok {
		t.reads[key] = version
	}
	return value, nil
}

func (t *tx) put(key string, value any) {
	if _, ok := t.writes[key]; !ok {
		t.order = append(t.order, key)
	}
	t.writes[key] = value
}

func (t *tx) commit() error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if t.s.failCommits > 0 {
		t.s.failCommits--
		return errors.Wrap(domain.ErrSerializationFailure, "injected conflict")
	}
	if err := t.validateLocked(); err != nil {
		return err
	}
	for _, key := range t.order {
		t.s.clock++
		t.s.data[key] = &entry{version: t.s.clock, value: t.writes[key]}
	}
	t.s.audit = append(t.s.audit, t.audit...)
	if t.s.discardOutbox {
		return nil
	}
	now := time.Now().UTC()
	for _, ev := range t.outbox {
		ev.CreatedAt = now
		t.s.outbox = append(t.s.outbox, ev)
	}
	return nil
}
