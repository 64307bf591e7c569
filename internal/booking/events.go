package booking

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/ticket-marketplace/internal/domain"
	"github.com/shopspring/decimal"
)

type NewCategory struct {
	Name      string
	Code      string
	UnitPrice decimal.Decimal
	Quantity  int
}

type NewEvent struct {
	Name              string
	Type              domain.EventType
	StartDate         time.Time
	SeatingMode       domain.SeatingMode
	Categories        []NewCategory
	Rows, Cols        int
	TicketCodePrefix  string
	TicketCodePadding int
	BannerURL         string
}

func buildEvent(p NewEvent) (*domain.Event, error) {
	if len(p.Categories) == 0 {
		return nil, errors.Wrap(domain.ErrCategoryInvalid, "event needs at least one ticket category")
	}
	switch p.Type {
	case domain.EventOffline, domain.EventOnline, domain.EventHybrid:
	case "":
		p.Type = domain.EventOffline
	default:
		return nil, errors.Wrapf(domain.ErrInvalidInput, "event type %q", p.Type)
	}
	if p.TicketCodePadding < 0 {
		return nil, errors.Wrap(domain.ErrInvalidInput, "negative ticket code padding")
	}

	ev := &domain.Event{
		ID:                uuid.New(),
		Name:              p.Name,
		Type:              p.Type,
		StartDate:         p.StartDate.UTC(),
		SeatingMode:       p.SeatingMode,
		TicketCodePrefix:  strings.TrimSpace(p.TicketCodePrefix),
		TicketCodePadding: p.TicketCodePadding,
		BannerURL:         p.BannerURL,
		CreatedAt:         time.Now().UTC(),
	}
	if ev.TicketCodePrefix == "" {
		ev.TicketCodePrefix = domain.DefaultPrefix(ev.StartDate, ev.Type)
	}
	if ev.TicketCodePadding == 0 {
		ev.TicketCodePadding = domain.DefaultTicketCodePadding
	}
	for _, c := range p.Categories {
		if strings.TrimSpace(c.Name) == "" || c.UnitPrice.IsNegative() || c.Quantity < 0 {
			return nil, errors.Wrapf(domain.ErrCategoryInvalid, "category %q", c.Name)
		}
		code := strings.ToUpper(strings.TrimSpace(c.Code))
		if code == "" {
			code = domain.CategoryCode(c.Name)
		}
		ev.Categories = append(ev.Categories, domain.TicketCategory{
			Name:      c.Name,
			Code:      code,
			UnitPrice: c.UnitPrice,
			Quantity:  c.Quantity,
		})
	}

	switch p.SeatingMode {
	case domain.SeatingOpen:
	case domain.SeatingReserved:
		grid, err := domain.NewSeatGrid(p.Rows, p.Cols)
		if err != nil {
			return nil, err
		}
		ev.Grid = grid
	default:
		return nil, errors.Wrapf(domain.ErrInvalidInput, "seating mode %q", p.SeatingMode)
	}
	return ev, nil
}

// CreateEvent stores a new event with its inventory. Reserved events get a generated
// grid with every cell a seat of the first category.
func (e *Engine) CreateEvent(ctx context.Context, p NewEvent) (*domain.Event, error) {
	ev, err := buildEvent(p)
	if err != nil {
		return nil, err
	}
	err = e.runTx(ctx, "create_event", func(ctx context.Context, tx Tx) error {
		return tx.InsertEvent(ctx, ev)
	})
	if err != nil {
		return nil, err
	}
	e.logger.WithField("event_id", ev.ID).WithField("seating", ev.SeatingMode).Info("event created")
	return ev, nil
}

// OverridePrefix replaces the ticket code prefix. The prefix is frozen once any code
// has been issued.
func (e *Engine) OverridePrefix(ctx context.Context, eventID uuid.UUID, prefix string) (*domain.Event, error) {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return nil, errors.Wrap(domain.ErrInvalidInput, "empty prefix")
	}
	var out *domain.Event
	err := e.runTx(ctx, "override_prefix", func(ctx context.Context, tx Tx) error {
		ev, err := tx.GetEventForUpdate(ctx, eventID)
		if err != nil {
			return err
		}
		if ev.LastIssuedSequence > 0 {
			return errors.Wrapf(domain.ErrPrefixLocked, "event %s has issued %d codes", eventID, ev.LastIssuedSequence)
		}
		ev.TicketCodePrefix = prefix
		out = ev
		return tx.SaveEventInventory(ctx, ev)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CycleSeat advances one grid cell through the editor cycle.
func (e *Engine) CycleSeat(ctx context.Context, eventID uuid.UUID, row, col int) (domain.Cell, error) {
	var cell domain.Cell
	err := e.runTx(ctx, "cycle_seat", func(ctx context.Context, tx Tx) error {
		ev, err := tx.GetEventForUpdate(ctx, eventID)
		if err != nil {
			return err
		}
		if ev.SeatingMode != domain.SeatingReserved || ev.Grid == nil {
			return errors.Wrapf(domain.ErrInvalidInput, "event %s has no seat grid", eventID)
		}
		cell, err = ev.Grid.Cycle(row, col, len(ev.Categories))
		if err != nil {
			return err
		}
		return tx.SaveEventInventory(ctx, ev)
	})
	return cell, err
}
