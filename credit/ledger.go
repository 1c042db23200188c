/*
ledger.go - Debit and credit operations over the append-only store

CRITICAL INVARIANTS:
  1. APPEND-ONLY: entries are never updated or deleted
  2. BALANCE: cached balance == sum(deltas) for every contractor
  3. NON-NEGATIVE: Debit fails with ErrInsufficientCredit instead of
     driving a balance below zero
  4. IDEMPOTENT: an idempotency key is applied at most once; replays
     return the current balance with Applied=false

IDEMPOTENCY KEYS:
  Purchases are keyed by the payment session id (webhook redelivery),
  assignment debits by the assignment id, expiry refunds by the assignment
  id too. A sweep that runs twice therefore refunds once.

EXAMPLE:
  ledger := credit.NewLedger(store)
  posting, err := ledger.Debit(ctx, "ctr-1", 1, credit.ReasonLeadAssignment,
      assignmentID, credit.AssignmentDebitKey(assignmentID))
  if errors.Is(err, credit.ErrInsufficientCredit) {
      // skip this contractor
  }
*/
package credit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Ledger applies balance changes through a Store.
type Ledger struct {
	Store Store
	Now   func() time.Time
	NewID func() string
}

func NewLedger(store Store) *Ledger {
	return &Ledger{
		Store: store,
		Now:   func() time.Time { return time.Now().UTC() },
		NewID: uuid.NewString,
	}
}

// Debit removes amount credits. idempotencyKey may be empty.
func (l *Ledger) Debit(ctx context.Context, contractorID string, amount int64, reason Reason, referenceID, idempotencyKey string) (Posting, error) {
	if amount <= 0 {
		return Posting{}, ErrInvalidAmount
	}
	return l.apply(ctx, Entry{
		ContractorID:   contractorID,
		Delta:          -amount,
		Reason:         reason,
		ReferenceID:    referenceID,
		IdempotencyKey: idempotencyKey,
	})
}

// Credit adds amount credits. idempotencyKey may be empty.
func (l *Ledger) Credit(ctx context.Context, contractorID string, amount int64, reason Reason, referenceID, idempotencyKey string) (Posting, error) {
	if amount <= 0 {
		return Posting{}, ErrInvalidAmount
	}
	return l.apply(ctx, Entry{
		ContractorID:   contractorID,
		Delta:          amount,
		Reason:         reason,
		ReferenceID:    referenceID,
		IdempotencyKey: idempotencyKey,
	})
}

func (l *Ledger) apply(ctx context.Context, e Entry) (Posting, error) {
	if e.IdempotencyKey != "" {
		existing, err := l.Store.EntryByKey(ctx, e.IdempotencyKey)
		if err != nil {
			return Posting{}, err
		}
		if existing != nil {
			return l.replay(ctx, e.ContractorID, existing.ID)
		}
	}

	e.ID = l.NewID()
	e.CreatedAt = l.Now()

	balance, err := l.Store.ApplyEntry(ctx, e)
	switch {
	case errors.Is(err, ErrDuplicateIdempotencyKey):
		// Lost a race with a concurrent writer using the same key.
		existing, lookupErr := l.Store.EntryByKey(ctx, e.IdempotencyKey)
		if lookupErr != nil {
			return Posting{}, lookupErr
		}
		id := ""
		if existing != nil {
			id = existing.ID
		}
		return l.replay(ctx, e.ContractorID, id)
	case errors.Is(err, ErrInsufficientCredit):
		available, balErr := l.Store.Balance(ctx, e.ContractorID)
		if balErr != nil {
			available = 0
		}
		return Posting{}, &InsufficientCreditError{
			ContractorID: e.ContractorID,
			Available:    available,
			Requested:    -e.Delta,
		}
	case err != nil:
		return Posting{}, fmt.Errorf("apply ledger entry: %w", err)
	}

	return Posting{EntryID: e.ID, Balance: balance, Applied: true}, nil
}

func (l *Ledger) replay(ctx context.Context, contractorID, entryID string) (Posting, error) {
	balance, err := l.Store.Balance(ctx, contractorID)
	if err != nil {
		return Posting{}, err
	}
	return Posting{EntryID: entryID, Balance: balance, Applied: false}, nil
}

// Balance returns the cached balance.
func (l *Ledger) Balance(ctx context.Context, contractorID string) (int64, error) {
	return l.Store.Balance(ctx, contractorID)
}

// Entries returns the contractor's ledger, oldest first. Read-only.
func (l *Ledger) Entries(ctx context.Context, contractorID string) ([]Entry, error) {
	return l.Store.Entries(ctx, contractorID)
}

// Verify recomputes the balance from the ledger and compares it with the
// cached value.
func (l *Ledger) Verify(ctx context.Context, contractorID string) (Audit, error) {
	balance, err := l.Store.Balance(ctx, contractorID)
	if err != nil {
		return Audit{}, err
	}
	entries, err := l.Store.Entries(ctx, contractorID)
	if err != nil {
		return Audit{}, err
	}
	audit := Audit{ContractorID: contractorID, CachedBalance: balance, Entries: len(entries)}
	for _, e := range entries {
		audit.LedgerSum += e.Delta
	}
	return audit, nil
}
