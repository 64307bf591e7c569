package domain

import "github.com/cockroachdb/errors"

// PurchaseRequest is either OpenSeating or ReservedSeating.
type PurchaseRequest interface {
	seatingMode() SeatingMode
	Validate() error
}

type CategoryQuantity struct {
	CategoryIndex int `json:"category_index"`
	Quantity      int `json:"quantity"`
}

type OpenSeating struct {
	Items []CategoryQuantity
}

func (OpenSeating) seatingMode() SeatingMode { return SeatingOpen }

func (r OpenSeating) Validate() error {
	if len(r.Items) == 0 {
		return errors.Wrap(ErrInvalidInput, "no items requested")
	}
	for _, it := range r.Items {
		if it.Quantity < 1 {
			return errors.Wrapf(ErrInvalidInput, "quantity %d for category %d", it.Quantity, it.CategoryIndex)
		}
	}
	return nil
}

type ReservedSeating struct {
	Seats []SeatRef
}

func (ReservedSeating) seatingMode() SeatingMode { return SeatingReserved }

func (r ReservedSeating) Validate() error {
	if len(r.Seats) == 0 {
		return errors.Wrap(ErrInvalidInput, "no seats requested")
	}
	for _, s := range r.Seats {
		if s.Label == "" && (s.Row == nil || s.Col == nil) {
			return errors.Wrap(ErrInvalidInput, "seat reference needs row and col or a label")
		}
	}
	return nil
}
