package credit

import "context"

// Store persists ledger entries and the cached balance they explain.
//
// APPEND-ONLY: there is no update or delete for entries. ApplyEntry must, in
// one atomic write, insert the entry and move the cached balance, refusing
// the write when the new balance would be negative (unless allowNegative) or
// when the idempotency key was already used.
type Store interface {
	// ApplyEntry returns the new cached balance.
	// Errors: ErrDuplicateIdempotencyKey, ErrInsufficientCredit,
	// ErrContractorNotFound.
	ApplyEntry(ctx context.Context, e Entry) (int64, error)

	// Balance returns the cached balance.
	Balance(ctx context.Context, contractorID string) (int64, error)

	// Entries returns all entries for a contractor, oldest first.
	Entries(ctx context.Context, contractorID string) ([]Entry, error)

	// EntryByKey returns the entry recorded under an idempotency key, or nil.
	EntryByKey(ctx context.Context, idempotencyKey string) (*Entry, error)
}
