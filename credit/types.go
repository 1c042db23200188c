/*
Package credit provides the append-only credit ledger behind contractor balances.

PURPOSE:
  Contractors buy credits and spend one credit every time a lead is assigned
  to them. Every balance change, purchase, debit or refund, is recorded as an
  immutable ledger entry. The cached balance on the contractor row is only
  ever moved in the same atomic write as the entry that explains it.

KEY CONCEPTS IN THIS FILE (types.go):
  - Entry: An immutable ledger row (signed delta + reason + idempotency key)
  - Reason: Why the balance moved (purchase, assignment, refund, adjustment)
  - Posting: The outcome of applying an entry (new balance, applied or replayed)

DESIGN PRINCIPLES:
  1. Immutability: Entries are never modified, only offset by new entries
  2. Idempotency: The same idempotency key is applied at most once
  3. Non-negative: A debit never drives a balance below zero
  4. Auditability: balance == sum(deltas) for every contractor, always

SEE ALSO:
  - ledger.go: Debit / Credit operations
  - store.go: Persistence interface
  - errors.go: Sentinel and structured errors
*/
package credit

import "time"

// =============================================================================
// REASONS
// =============================================================================

type Reason string

const (
	ReasonPurchase       Reason = "purchase"        // Credits bought through the payment gateway
	ReasonLeadAssignment Reason = "lead_assignment" // One credit spent when a lead is assigned
	ReasonExpiryRefund   Reason = "expiry_refund"   // Assignment expired before any response
	ReasonAdjustment     Reason = "adjustment"      // Manual admin correction
)

// =============================================================================
// ENTRY - Immutable ledger row
// =============================================================================

type Entry struct {
	ID             string    `json:"id"`
	ContractorID   string    `json:"contractor_id"`
	Delta          int64     `json:"delta"`
	Reason         Reason    `json:"reason"`
	ReferenceID    string    `json:"reference_id,omitempty"` // assignment id, payment session id, ...
	IdempotencyKey string    `json:"idempotency_key,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// IsDebit reports whether the entry removes credits.
func (e Entry) IsDebit() bool { return e.Delta < 0 }

// =============================================================================
// POSTING - Result of applying an entry
// =============================================================================

// Posting is returned by Debit and Credit. Applied is false when the
// idempotency key had already been used; Balance is then the current balance.
type Posting struct {
	EntryID string `json:"entry_id"`
	Balance int64  `json:"balance"`
	Applied bool   `json:"applied"`
}

// Audit compares the cached balance with the ledger sum for a contractor.
type Audit struct {
	ContractorID  string `json:"contractor_id"`
	CachedBalance int64  `json:"cached_balance"`
	LedgerSum     int64  `json:"ledger_sum"`
	Entries       int    `json:"entries"`
}

// Consistent reports whether the cached balance matches the ledger.
func (a Audit) Consistent() bool { return a.CachedBalance == a.LedgerSum }

// Idempotency keys used by the engine. Keeping them in one place makes the
// "at most once per logical event" rule auditable.
func AssignmentDebitKey(assignmentID string) string { return "assign:" + assignmentID }
func ExpiryRefundKey(assignmentID string) string    { return "refund:" + assignmentID }
func PurchaseKey(externalSessionID string) string   { return "purchase:" + externalSessionID }
func AdjustmentKey(reference string) string         { return "adjust:" + reference }
