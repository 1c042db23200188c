/*
Package leads implements the lead lifecycle and assignment engine.

PURPOSE:
  Customers submit project requests (leads). The engine offers every lead to
  a small set of eligible contractors, spending one credit per offer, tracks
  the response window of each offer, hands stale offers to the next eligible
  contractor, and drives the rest of the lifecycle: quotes, completion,
  review requests, reminders and follow-ups.

KEY CONCEPTS IN THIS FILE (types.go):
  - Lead: Immutable customer request (contact, location, project, preference)
  - Contractor: Service provider with areas, credit balance and rating
  - Assignment: One lead offered to one contractor, with its own lifecycle
  - Review: Customer feedback that feeds the contractor rating

ASSIGNMENT LIFECYCLE:

    pending ──quote──▶ accepted ──complete──▶ completed
       │                   ▲                      │
       │                   └──────reopen──────────┘
       └──timeout──▶ expired (credit refunded)

  pending and accepted are non-terminal. At most one assignment exists per
  (lead, contractor) pair, ever.

SEE ALSO:
  - engine.go: Engine wiring and settings
  - eligibility.go: Candidate ranking
  - allocator.go: Assignment creation against credits
  - sweeper.go: Response window expiry and reassignment
*/
package leads

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SHARED VALUE TYPES
// =============================================================================

type Location struct {
	State      string `json:"state"`
	City       string `json:"city"`
	County     string `json:"county,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
}

type Contact struct {
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// =============================================================================
// LEAD
// =============================================================================

// QuotePreference controls fan-out and candidate ordering.
type QuotePreference string

const (
	// QuoteRandom offers the lead to N contractors picked at random among the
	// best matching tier, so new contractors get a fair share.
	QuoteRandom QuotePreference = "random"
	// QuoteTopRated offers the lead to the N best rated contractors.
	QuoteTopRated QuotePreference = "top_rated"
	// QuoteDirect is the direct-quote flow: a single contractor.
	QuoteDirect QuotePreference = "direct"
)

func (p QuotePreference) Valid() bool {
	switch p {
	case QuoteRandom, QuoteTopRated, QuoteDirect:
		return true
	}
	return false
}

type Lead struct {
	ID              string          `json:"id"`
	Customer        Contact         `json:"customer"`
	Location        Location        `json:"location"`
	ProjectType     string          `json:"project_type"`
	Description     string          `json:"description,omitempty"`
	Budget          string          `json:"budget,omitempty"`
	Timeline        string          `json:"timeline,omitempty"`
	QuotePreference QuotePreference `json:"quote_preference"`
	CreatedAt       time.Time       `json:"created_at"`
}

// LeadFlag is a monitoring marker recorded at most once per lead.
type LeadFlag string

const (
	FlagUnfulfilled LeadFlag = "unfulfilled" // allocator created no assignment
	FlagExhausted   LeadFlag = "exhausted"   // no eligible, untried contractor left
)

type FulfillmentState string

const (
	StateOpen      FulfillmentState = "open"
	StateFulfilled FulfillmentState = "fulfilled"
	StateExhausted FulfillmentState = "exhausted"
)

// =============================================================================
// CONTRACTOR
// =============================================================================

type ApprovalStatus string

const (
	ApprovalPending   ApprovalStatus = "pending_approval"
	ApprovalApproved  ApprovalStatus = "approved"
	ApprovalSuspended ApprovalStatus = "suspended"
)

type DeliveryPreference string

const (
	DeliveryEmail DeliveryPreference = "email"
	DeliverySMS   DeliveryPreference = "sms"
	DeliveryAll   DeliveryPreference = "all"
	DeliveryNone  DeliveryPreference = "none"
)

func (d DeliveryPreference) Valid() bool {
	switch d {
	case DeliveryEmail, DeliverySMS, DeliveryAll, DeliveryNone:
		return true
	}
	return false
}

type ServiceArea struct {
	State  string `json:"state"`
	City   string `json:"city,omitempty"`
	County string `json:"county,omitempty"`
}

type Contractor struct {
	ID            string             `json:"id"`
	BusinessName  string             `json:"business_name"`
	Contact       Contact            `json:"contact"`
	Approval      ApprovalStatus     `json:"approval"`
	ServiceAreas  []ServiceArea      `json:"service_areas"`
	CreditBalance int64              `json:"credit_balance"`
	Delivery      DeliveryPreference `json:"delivery"`
	Rating        decimal.Decimal    `json:"rating"`
	ReviewCount   int                `json:"review_count"`
	CreatedAt     time.Time          `json:"created_at"`
}

// Recipients returns the addresses a notification should go to, honoring
// the delivery preference.
func (c Contractor) Recipients() []string {
	var to []string
	if (c.Delivery == DeliveryEmail || c.Delivery == DeliveryAll) && c.Contact.Email != "" {
		to = append(to, c.Contact.Email)
	}
	if (c.Delivery == DeliverySMS || c.Delivery == DeliveryAll) && c.Contact.Phone != "" {
		to = append(to, c.Contact.Phone)
	}
	return to
}

// MatchTier ranks how precisely a contractor's service area covers a lead.
type MatchTier int

const (
	TierCity   MatchTier = iota // same state and city
	TierCounty                  // same state and county
)

// Candidate is a contractor returned by an area lookup.
type Candidate struct {
	Contractor Contractor
	Tier       MatchTier
}

// =============================================================================
// ASSIGNMENT
// =============================================================================

type AssignmentStatus string

const (
	StatusPending   AssignmentStatus = "pending"
	StatusAccepted  AssignmentStatus = "accepted"
	StatusExpired   AssignmentStatus = "expired"
	StatusCompleted AssignmentStatus = "completed"
)

// Active reports whether the status is non-terminal.
func (s AssignmentStatus) Active() bool {
	return s == StatusPending || s == StatusAccepted
}

type Assignment struct {
	ID                 string           `json:"id"`
	LeadID             string           `json:"lead_id"`
	ContractorID       string           `json:"contractor_id"`
	Status             AssignmentStatus `json:"status"`
	CreatedAt          time.Time        `json:"created_at"`
	RespondedAt        *time.Time       `json:"responded_at,omitempty"`
	QuoteAmount        *decimal.Decimal `json:"quote_amount,omitempty"`
	QuoteNotes         string           `json:"quote_notes,omitempty"`
	ProjectCompletedAt *time.Time       `json:"project_completed_at,omitempty"`
	ReminderSentAt     *time.Time       `json:"reminder_sent_at,omitempty"`
	FollowUpSentAt     *time.Time       `json:"followup_sent_at,omitempty"`
	ReviewRequestedAt  *time.Time       `json:"review_requested_at,omitempty"`
}

// ExpiresAt is the end of the response window.
func (a Assignment) ExpiresAt(window time.Duration) time.Time {
	return a.CreatedAt.Add(window)
}

// Quote is what a contractor sends back for a pending assignment.
type Quote struct {
	Amount decimal.Decimal `json:"amount"`
	Notes  string          `json:"notes,omitempty"`
}

// =============================================================================
// REVIEW
// =============================================================================

type Review struct {
	ID           string    `json:"id"`
	ContractorID string    `json:"contractor_id"`
	AssignmentID string    `json:"assignment_id"`
	Rating       int       `json:"rating"`
	Verified     bool      `json:"verified"`
	Comment      string    `json:"comment,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// =============================================================================
// STATS
// =============================================================================

type AssignmentStats struct {
	ByStatus       map[AssignmentStatus]int `json:"by_status"`
	Total          int                      `json:"total"`
	RemindersSent  int                      `json:"reminders_sent"`
	FollowUpsSent  int                      `json:"follow_ups_sent"`
	ReviewRequests int                      `json:"review_requests"`
}
