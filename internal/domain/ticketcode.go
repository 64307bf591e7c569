package domain

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/cockroachdb/errors"
)

// TicketCode composes prefix, zero-padded sequence and category code. Sequences wider
// than width are kept whole.
func TicketCode(prefix string, width int, seq int64, categoryCode string) string {
	if width < 1 {
		width = 1
	}
	return fmt.Sprintf("%s%0*d%s", prefix, width, seq, categoryCode)
}

// CategoryCode takes the first three letters of name with whitespace removed,
// uppercased. Shorter names are used as they are.
func CategoryCode(name string) string {
	stripped := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, name)
	runes := []rune(strings.ToUpper(stripped))
	if len(runes) > 3 {
		runes = runes[:3]
	}
	return string(runes)
}

func typeTag(t EventType) string {
	switch t {
	case EventOnline:
		return "ON"
	case EventHybrid:
		return "HYB"
	default:
		return "OFF"
	}
}

// DefaultPrefix is the compact start date followed by the event type tag, e.g. 20251226OFF.
func DefaultPrefix(start time.Time, t EventType) string {
	return start.Format("20060102") + typeTag(t)
}

// PreviewCodes returns the first and last codes the next count units of a category
// would receive. It reads the event and never advances its sequence.
func PreviewCodes(e *Event, categoryIndex, count int) (string, string, error) {
	if count < 1 {
		return "", "", errors.Wrap(ErrInvalidInput, "count must be positive")
	}
	cat, err := e.Category(categoryIndex)
	if err != nil {
		return "", "", err
	}
	code := cat.CodeOrDerived()
	first := TicketCode(e.Prefix(), e.Padding(), e.LastIssuedSequence+1, code)
	last := TicketCode(e.Prefix(), e.Padding(), e.LastIssuedSequence+int64(count), code)
	return first, last, nil
}

// Minter hands out ticket codes for one event inside a transaction. The event's
// LastIssuedSequence is advanced on every call.
type Minter struct {
	event *Event
}

func NewMinter(e *Event) *Minter {
	return &Minter{event: e}
}

func (m *Minter) Next(categoryIndex int) (string, error) {
	cat, err := m.event.Category(categoryIndex)
	if err != nil {
		return "", err
	}
	m.event.LastIssuedSequence++
	m.event.Categories[categoryIndex].Issued++
	return TicketCode(m.event.Prefix(), m.event.Padding(), m.event.LastIssuedSequence, cat.CodeOrDerived()), nil
}
