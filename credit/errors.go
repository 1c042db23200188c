package credit

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInsufficientCredit is returned when a debit would drive a balance
	// below zero. Nothing is written in that case.
	ErrInsufficientCredit = errors.New("insufficient credit")

	// ErrDuplicateIdempotencyKey is returned by stores when an entry with the
	// same idempotency key already exists. The Ledger turns it into a
	// non-applied Posting.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrContractorNotFound is returned when the balance owner does not exist.
	ErrContractorNotFound = errors.New("contractor not found")

	// ErrInvalidAmount is returned for zero or negative amounts.
	ErrInvalidAmount = errors.New("amount must be positive")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// InsufficientCreditError provides details about a failed debit.
type InsufficientCreditError struct {
	ContractorID string
	Available    int64
	Requested    int64
}

func (e *InsufficientCreditError) Error() string {
	return fmt.Sprintf("insufficient credit for %s: available %d, requested %d",
		e.ContractorID, e.Available, e.Requested)
}

func (e *InsufficientCreditError) Unwrap() error {
	return ErrInsufficientCredit
}
