/*
store.go - Persistence interface for the lead engine

CONDITIONAL TRANSITIONS:
  Every state change is a single "transition only if still in the expected
  prior state" write. The boolean result says whether this caller won the
  transition; false means another caller got there first (or the record is
  in some other state) and nothing was written. No method here performs a
  read-then-write.

TRANSACTIONS:
  WithTx runs fn against a Store bound to one database transaction. Calling
  WithTx on a Store that is already transactional opens a nested unit
  (savepoint) that rolls back alone when fn fails. Assignment creation (debit + insert) and expiry (expire +
  refund + reassign) always run inside WithTx.

IMPLEMENTATIONS:
  - store/sqlite: SQLite via database/sql
*/
package leads

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/leadflow/lead-engine/credit"
)

// CandidateSource looks up contractors whose service areas cover a location.
type CandidateSource interface {
	// ListAreaCandidates returns approved contractors serving the lead's
	// state+city (TierCity) or state+county (TierCounty). A contractor may
	// appear once per matching tier.
	ListAreaCandidates(ctx context.Context, loc Location) ([]Candidate, error)
}

// Page selects one keyset page of a sweep listing: rows strictly after
// (AfterAt, AfterID) in the listing's order, at most Limit of them. The zero
// Page starts at the beginning; Limit <= 0 means no limit.
type Page struct {
	AfterAt time.Time
	AfterID string
	Limit   int
}

type Store interface {
	credit.Store
	CandidateSource

	// Leads (immutable after creation)
	CreateLead(ctx context.Context, lead Lead) error
	GetLead(ctx context.Context, id string) (*Lead, error)
	// FlagLead records a monitoring flag once. Returns false if already set.
	FlagLead(ctx context.Context, leadID string, flag LeadFlag, at time.Time) (bool, error)
	LeadFlags(ctx context.Context, leadID string) ([]LeadFlag, error)

	// Contractors
	CreateContractor(ctx context.Context, c Contractor) error
	GetContractor(ctx context.Context, id string) (*Contractor, error)
	// ApproveContractor transitions pending_approval -> approved.
	ApproveContractor(ctx context.Context, id string) (bool, error)
	// UpdateRating is the only writer of rating and review_count.
	UpdateRating(ctx context.Context, contractorID string, rating decimal.Decimal, reviewCount int) error

	// Assignments
	// CreateAssignment returns ErrDuplicateAssignment when the pair exists.
	CreateAssignment(ctx context.Context, a Assignment) error
	GetAssignment(ctx context.Context, id string) (*Assignment, error)
	FindAssignment(ctx context.Context, leadID, contractorID string) (*Assignment, error)
	ListAssignmentsByLead(ctx context.Context, leadID string) ([]Assignment, error)
	// ListPendingCreatedBefore returns pending assignments created strictly
	// before cutoff, ordered by (created_at, id).
	ListPendingCreatedBefore(ctx context.Context, cutoff time.Time, page Page) ([]Assignment, error)
	// ListReminderDue returns pending assignments created in [from, to) with
	// no reminder sent, ordered by (created_at, id).
	ListReminderDue(ctx context.Context, from, to time.Time, page Page) ([]Assignment, error)
	// ListFollowUpDue returns accepted assignments responded before cutoff,
	// not completed, with no follow-up sent, ordered by (responded_at, id).
	ListFollowUpDue(ctx context.Context, cutoff time.Time, page Page) ([]Assignment, error)
	AssignmentStats(ctx context.Context) (AssignmentStats, error)

	// Conditional transitions
	ExpireAssignment(ctx context.Context, id string, createdBefore time.Time) (bool, error)
	AcceptAssignment(ctx context.Context, id, contractorID string, q Quote, at time.Time) (bool, error)
	CompleteAssignment(ctx context.Context, id, contractorID string, at time.Time) (bool, error)
	// ReopenAssignment clears project_completed_at and moves completed -> accepted.
	ReopenAssignment(ctx context.Context, id, contractorID string) (bool, error)
	ClaimReviewRequest(ctx context.Context, id string, at time.Time) (bool, error)
	ClaimReminder(ctx context.Context, id string, at time.Time) (bool, error)
	ClaimFollowUp(ctx context.Context, id string, at time.Time) (bool, error)

	// Reviews
	// CreateReview returns ErrDuplicateReview when the assignment already has one.
	CreateReview(ctx context.Context, r Review) error
	ListReviewsByContractor(ctx context.Context, contractorID string) ([]Review, error)

	WithTx(ctx context.Context, fn func(Store) error) error
}
