package domain

import "github.com/cockroachdb/errors"

var (
	ErrSerializationFailure = errors.New("serialization failure")
	ErrNotFound             = errors.New("not found")
	ErrConflict             = errors.New("conflict")
	ErrInvalidInput         = errors.New("invalid input")

	ErrEventNotFound        = errors.New("event not found")
	ErrBookingNotFound      = errors.New("booking not found")
	ErrListingNotFound      = errors.New("listing not found")
	ErrSeatUnavailable      = errors.New("seat unavailable")
	ErrCategoryInvalid      = errors.New("ticket category invalid")
	ErrAlreadySold          = errors.New("listing already sold")
	ErrAlreadyListed        = errors.New("ticket already listed for resale")
	ErrPriceExceedsOriginal = errors.New("ask price exceeds original price")
	ErrNotOwner             = errors.New("booking not owned by seller")
	ErrPrefixLocked         = errors.New("ticket code prefix is locked after first sale")
	ErrUnconfirmed          = errors.New("payment not confirmed")
	ErrInconsistentState    = errors.New("inconsistent state")

	// ErrContention is returned once transaction retries are exhausted.
	ErrContention = errors.New("contention")
)

// IsRetryable reports whether err is a transient write conflict.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrSerializationFailure)
}
