/*
allocator.go - Assignment Allocator

PURPOSE:
  Offers a new lead to up to N eligible contractors (N = FanOut, or
  DirectFanOut for the direct-quote flow), spending one credit per offer.

ATOMICITY:
  For each selected contractor the pair check + debit + insert runs in one
  store transaction. A failed insert rolls the debit back with it, so no
  compensating refund is ever needed.

PARTIAL SUCCESS:
  A contractor that lost its last credit to a concurrent debit, or already
  has an assignment for the lead, is skipped. Skipped contractors are not
  replaced by the next candidate. When nothing was created the lead is
  flagged unfulfilled; that is reported, never returned as an error.
*/
package leads

import (
	"context"
	"errors"
	"time"

	"github.com/leadflow/lead-engine/credit"
	"github.com/leadflow/lead-engine/metrics"
	"github.com/leadflow/lead-engine/notify"
)

// Skip reasons.
const (
	SkipInsufficientCredit = "insufficient_credit"
	SkipDuplicate          = "duplicate"
	SkipError              = "error"
)

type Skip struct {
	ContractorID string `json:"contractor_id"`
	Reason       string `json:"reason"`
	Error        string `json:"error,omitempty"`
}

type AllocationResult struct {
	LeadID        string         `json:"lead_id"`
	Requested     int            `json:"requested"`
	Eligible      int            `json:"eligible"`
	Created       int            `json:"created"`
	ContractorIDs []string       `json:"contractor_ids"`
	AssignmentIDs []string       `json:"assignment_ids"`
	Skipped       []Skip         `json:"skipped,omitempty"`
	Unfulfilled   bool           `json:"unfulfilled"`
	Notifications []Notification `json:"notifications,omitempty"`
}

// AssignLeadToContractors creates pending assignments for lead.
func (e *Engine) AssignLeadToContractors(ctx context.Context, lead Lead) (AllocationResult, error) {
	n := e.settings.fanOut(lead.QuotePreference)
	res := AllocationResult{
		LeadID:        lead.ID,
		Requested:     n,
		ContractorIDs: []string{},
		AssignmentIDs: []string{},
	}

	eligible, err := e.index(e.store).FindEligibleContractors(ctx, lead, nil)
	if err != nil {
		return res, err
	}
	res.Eligible = len(eligible)
	if len(eligible) > n {
		eligible = eligible[:n]
	}

	created := make([]Assignment, 0, len(eligible))
	byID := make(map[string]Contractor, len(eligible))
	for _, c := range eligible {
		var a *Assignment
		err := e.store.WithTx(ctx, func(tx Store) error {
			var err error
			a, err = e.assignOne(ctx, tx, lead, c)
			return err
		})
		if err != nil {
			skip := Skip{ContractorID: c.ID, Reason: skipReason(err)}
			if skip.Reason == SkipError {
				skip.Error = err.Error()
				e.log.Warn().Err(err).Str("lead_id", lead.ID).Str("contractor_id", c.ID).Msg("assignment failed")
			}
			metrics.AssignmentsSkipped.WithLabelValues(skip.Reason).Inc()
			res.Skipped = append(res.Skipped, skip)
			continue
		}
		created = append(created, *a)
		byID[c.ID] = c
		res.ContractorIDs = append(res.ContractorIDs, c.ID)
		res.AssignmentIDs = append(res.AssignmentIDs, a.ID)
		metrics.AssignmentsCreated.WithLabelValues("allocator").Inc()
		metrics.CreditsMoved.WithLabelValues(string(credit.ReasonLeadAssignment)).Inc()
	}
	res.Created = len(created)

	for _, a := range created {
		res.Notifications = append(res.Notifications, e.notifyNewLead(ctx, lead, byID[a.ContractorID], a)...)
	}

	if res.Created == 0 {
		res.Unfulfilled = true
		flagged, err := e.store.FlagLead(ctx, lead.ID, FlagUnfulfilled, e.now())
		if err != nil {
			e.log.Warn().Err(err).Str("lead_id", lead.ID).Msg("flag unfulfilled failed")
		} else if flagged {
			metrics.LeadsFlagged.WithLabelValues(string(FlagUnfulfilled)).Inc()
		}
		e.log.Warn().Str("lead_id", lead.ID).Int("eligible", res.Eligible).Msg("lead unfulfilled")
	}

	e.log.Info().
		Str("lead_id", lead.ID).
		Int("requested", res.Requested).
		Int("created", res.Created).
		Int("skipped", len(res.Skipped)).
		Msg("lead allocated")
	return res, nil
}

// assignOne debits one credit and inserts a pending assignment. s must be a
// transactional store so a failed insert also undoes the debit.
func (e *Engine) assignOne(ctx context.Context, s Store, lead Lead, c Contractor) (*Assignment, error) {
	existing, err := s.FindAssignment(ctx, lead.ID, c.ID)
	if err != nil {
		return nil, transient("find assignment", err)
	}
	if existing != nil {
		return nil, ErrDuplicateAssignment
	}

	a := Assignment{
		ID:           e.newID(),
		LeadID:       lead.ID,
		ContractorID: c.ID,
		Status:       StatusPending,
		CreatedAt:    e.now(),
	}
	if _, err := e.ledger(s).Debit(ctx, c.ID, 1, credit.ReasonLeadAssignment, a.ID, credit.AssignmentDebitKey(a.ID)); err != nil {
		if errors.Is(err, credit.ErrInsufficientCredit) {
			return nil, exhausted("debit "+c.ID, err)
		}
		return nil, err
	}
	if err := s.CreateAssignment(ctx, a); err != nil {
		return nil, err
	}
	return &a, nil
}

func skipReason(err error) string {
	switch {
	case errors.Is(err, ErrResourceExhausted):
		return SkipInsufficientCredit
	case errors.Is(err, ErrDuplicateAssignment):
		return SkipDuplicate
	default:
		return SkipError
	}
}

func (e *Engine) notifyNewLead(ctx context.Context, lead Lead, c Contractor, a Assignment) []Notification {
	return e.notify(ctx, notify.TemplateNewLead, c.Recipients(), map[string]any{
		"ProjectType":  lead.ProjectType,
		"City":         lead.Location.City,
		"State":        lead.Location.State,
		"Description":  lead.Description,
		"ExpiresAt":    a.ExpiresAt(e.settings.ResponseTimeout).Format(time.RFC1123),
		"AssignmentID": a.ID,
	})
}
