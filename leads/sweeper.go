/*
sweeper.go - Response Window Tracker / Reassignment Sweeper

PURPOSE:
  Expires pending assignments older than ResponseTimeout, refunds their
  credit and offers the lead to the next eligible contractor that was never
  assigned to it.

PER ITEM (one transaction):
  1. pending -> expired, only if still pending and still stale
  2. refund 1 credit, keyed refund:<assignment id>
  3. exclusion set = every contractor ever assigned to the lead
  4. create one new pending assignment, or flag the lead exhausted

  Each replacement attempt in step 4 runs in a savepoint, so a candidate
  whose insert fails after its debit gets the debit rolled back before the
  next candidate is tried.

IDEMPOTENCY:
  Step 1 is conditional, so a second run skips items another run already
  handled; the refund key guards step 2 on its own as well. A failing item
  rolls back alone and is reported in Errors; the batch continues.
*/
package leads

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/leadflow/lead-engine/credit"
	"github.com/leadflow/lead-engine/metrics"
)

// Sweep names, used for metrics, logs and the API.
const (
	SweepReassignment = "reassignment"
	SweepReminders    = "reminders"
	SweepWonBid       = "won-bid"
)

// SweepNames lists every sweep RunSweep accepts.
var SweepNames = []string{SweepReassignment, SweepReminders, SweepWonBid}

// RunSweep runs the named sweep once.
func (e *Engine) RunSweep(ctx context.Context, name string) (SweepResult, error) {
	switch name {
	case SweepReassignment:
		return e.CheckAndReassignExpiredLeads(ctx)
	case SweepReminders:
		return e.SendContractorReminders(ctx)
	case SweepWonBid:
		return e.SendWonBidFollowUps(ctx)
	default:
		return SweepResult{}, invalid("sweep", fmt.Sprintf("unknown sweep %q", name))
	}
}

type ItemError struct {
	AssignmentID string `json:"assignment_id"`
	Error        string `json:"error"`
}

// SweepResult aggregates one sweep invocation. Fields that do not apply to
// a sweep stay zero.
type SweepResult struct {
	Sweep         string         `json:"sweep"`
	Scanned       int            `json:"scanned"`
	Expired       int            `json:"expired"`
	Refunded      int            `json:"refunded"`
	Reassigned    int            `json:"reassigned"`
	Exhausted     int            `json:"exhausted"`
	Sent          int            `json:"sent"`
	Skipped       int            `json:"skipped"`
	Errors        []ItemError    `json:"errors"`
	Notifications []Notification `json:"notifications,omitempty"`
}

func (r SweepResult) Failed() int { return len(r.Errors) }

func (r *SweepResult) fail(id string, err error) {
	r.Errors = append(r.Errors, ItemError{AssignmentID: id, Error: err.Error()})
}

// expiryOutcome is what happened to one stale assignment.
type expiryOutcome struct {
	expired    bool
	refunded   bool
	exhausted  bool
	flagged    bool
	lead       Lead
	assignment *Assignment // the replacement, if any
	contractor Contractor
}

// CheckAndReassignExpiredLeads runs one reassignment sweep.
func (e *Engine) CheckAndReassignExpiredLeads(ctx context.Context) (SweepResult, error) {
	start := time.Now()
	res := SweepResult{Sweep: SweepReassignment, Errors: []ItemError{}}
	defer observeSweep(&res, start)

	cutoff := e.now().Add(-e.settings.ResponseTimeout)
	list := func(p Page) ([]Assignment, error) { return e.store.ListPendingCreatedBefore(ctx, cutoff, p) }

	scanned, err := e.scanPages(ctx, list, createdAt, func(a Assignment) {
		out, err := e.expireOne(ctx, a, cutoff)
		if err != nil {
			res.fail(a.ID, err)
			e.log.Warn().Err(err).Str("assignment_id", a.ID).Str("lead_id", a.LeadID).Msg("reassignment item failed")
			return
		}
		if !out.expired {
			res.Skipped++
			return
		}
		res.Expired++
		metrics.AssignmentTransitions.WithLabelValues(string(StatusExpired)).Inc()
		if out.refunded {
			res.Refunded++
			metrics.CreditsMoved.WithLabelValues(string(credit.ReasonExpiryRefund)).Inc()
		}
		switch {
		case out.assignment != nil:
			res.Reassigned++
			metrics.AssignmentsCreated.WithLabelValues("reassignment").Inc()
			metrics.CreditsMoved.WithLabelValues(string(credit.ReasonLeadAssignment)).Inc()
			res.Notifications = append(res.Notifications, e.notifyNewLead(ctx, out.lead, out.contractor, *out.assignment)...)
		case out.exhausted:
			res.Exhausted++
			if out.flagged {
				metrics.LeadsFlagged.WithLabelValues(string(FlagExhausted)).Inc()
			}
			e.log.Warn().Str("lead_id", a.LeadID).Msg("lead exhausted")
		}
	})
	res.Scanned = scanned
	e.logSweep(res)
	if err != nil {
		return res, transient("list stale assignments", err)
	}
	return res, nil
}

// scanPages hands every row of a keyset-paged listing to fn, BatchSize rows
// per query. The cursor moves past failed rows, so a row that keeps failing
// never hides the rows behind it.
func (e *Engine) scanPages(ctx context.Context, list func(Page) ([]Assignment, error), key func(Assignment) time.Time, fn func(Assignment)) (int, error) {
	page := Page{Limit: e.settings.BatchSize}
	scanned := 0
	for {
		rows, err := list(page)
		if err != nil {
			return scanned, err
		}
		scanned += len(rows)
		for _, a := range rows {
			fn(a)
		}
		if page.Limit <= 0 || len(rows) < page.Limit {
			return scanned, nil
		}
		if err := ctx.Err(); err != nil {
			return scanned, err
		}
		last := rows[len(rows)-1]
		page.AfterAt, page.AfterID = key(last), last.ID
	}
}

func createdAt(a Assignment) time.Time { return a.CreatedAt }

func respondedAt(a Assignment) time.Time {
	if a.RespondedAt == nil {
		return time.Time{}
	}
	return *a.RespondedAt
}

func (e *Engine) expireOne(ctx context.Context, a Assignment, cutoff time.Time) (expiryOutcome, error) {
	var out expiryOutcome
	err := e.store.WithTx(ctx, func(tx Store) error {
		ok, err := tx.ExpireAssignment(ctx, a.ID, cutoff)
		if err != nil {
			return transient("expire assignment", err)
		}
		if !ok {
			return nil
		}
		out.expired = true

		posting, err := e.ledger(tx).Credit(ctx, a.ContractorID, 1, credit.ReasonExpiryRefund, a.ID, credit.ExpiryRefundKey(a.ID))
		if err != nil {
			return fmt.Errorf("refund: %w", err)
		}
		out.refunded = posting.Applied

		lead, err := tx.GetLead(ctx, a.LeadID)
		if err != nil {
			return transient("get lead", err)
		}
		if lead == nil {
			return notFound("lead", a.LeadID)
		}
		out.lead = *lead

		history, err := tx.ListAssignmentsByLead(ctx, a.LeadID)
		if err != nil {
			return transient("list lead assignments", err)
		}
		exclude := make(map[string]bool, len(history))
		for _, h := range history {
			exclude[h.ContractorID] = true
		}

		candidates, err := e.index(tx).FindEligibleContractors(ctx, *lead, exclude)
		if err != nil {
			return err
		}
		for _, c := range candidates {
			var next *Assignment
			err := tx.WithTx(ctx, func(sp Store) error {
				var err error
				next, err = e.assignOne(ctx, sp, *lead, c)
				return err
			})
			if errors.Is(err, ErrResourceExhausted) || errors.Is(err, ErrDuplicateAssignment) {
				continue
			}
			if err != nil {
				return err
			}
			out.assignment = next
			out.contractor = c
			return nil
		}

		flagged, err := tx.FlagLead(ctx, a.LeadID, FlagExhausted, e.now())
		if err != nil {
			return transient("flag lead", err)
		}
		out.exhausted = true
		out.flagged = flagged
		return nil
	})
	if err != nil {
		return expiryOutcome{}, err
	}
	return out, nil
}

func observeSweep(res *SweepResult, start time.Time) {
	metrics.SweepDuration.WithLabelValues(res.Sweep).Observe(time.Since(start).Seconds())
	ok := res.Scanned - res.Skipped - len(res.Errors)
	metrics.SweepItems.WithLabelValues(res.Sweep, "ok").Add(float64(ok))
	metrics.SweepItems.WithLabelValues(res.Sweep, "failed").Add(float64(len(res.Errors)))
	metrics.SweepItems.WithLabelValues(res.Sweep, "skipped").Add(float64(res.Skipped))
}

func (e *Engine) logSweep(res SweepResult) {
	e.log.Info().
		Str("sweep", res.Sweep).
		Int("scanned", res.Scanned).
		Int("expired", res.Expired).
		Int("refunded", res.Refunded).
		Int("reassigned", res.Reassigned).
		Int("exhausted", res.Exhausted).
		Int("sent", res.Sent).
		Int("skipped", res.Skipped).
		Int("failed", res.Failed()).
		Msg("sweep finished")
}
