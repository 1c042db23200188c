/*
reminders.go - Contractor reminder and won-bid follow-up sweeps

Both follow the reassignment sweep's scan pattern with other targets:

  reminders: pending assignments older than ReminderAfter that are still
             inside the response window (filtered in the query) and
             were never reminded
  won-bid:   accepted assignments quoted more than FollowUpAfter ago,
             not completed, never nudged

Each item is claimed (reminder_sent_at / followup_sent_at) before the send,
so at most one nudge goes out per assignment even when sweeps overlap.
*/
package leads

import (
	"context"
	"time"

	"github.com/leadflow/lead-engine/notify"
)

// SendContractorReminders runs one reminder sweep.
func (e *Engine) SendContractorReminders(ctx context.Context) (SweepResult, error) {
	start := time.Now()
	res := SweepResult{Sweep: SweepReminders, Errors: []ItemError{}}
	defer observeSweep(&res, start)

	now := e.now()
	// Overdue rows belong to the reassignment sweep.
	from, to := now.Add(-e.settings.ResponseTimeout), now.Add(-e.settings.ReminderAfter)
	list := func(p Page) ([]Assignment, error) { return e.store.ListReminderDue(ctx, from, to, p) }

	scanned, err := e.scanPages(ctx, list, createdAt, func(a Assignment) {
		e.nudge(ctx, &res, a, notify.TemplateReminder, e.store.ClaimReminder, func(lead Lead) map[string]any {
			return map[string]any{
				"ProjectType":  lead.ProjectType,
				"City":         lead.Location.City,
				"ExpiresAt":    a.ExpiresAt(e.settings.ResponseTimeout).Format(time.RFC1123),
				"AssignmentID": a.ID,
			}
		})
	})
	res.Scanned = scanned
	e.logSweep(res)
	if err != nil {
		return res, transient("list reminder due", err)
	}
	return res, nil
}

// SendWonBidFollowUps runs one won-bid follow-up sweep.
func (e *Engine) SendWonBidFollowUps(ctx context.Context) (SweepResult, error) {
	start := time.Now()
	res := SweepResult{Sweep: SweepWonBid, Errors: []ItemError{}}
	defer observeSweep(&res, start)

	cutoff := e.now().Add(-e.settings.FollowUpAfter)
	list := func(p Page) ([]Assignment, error) { return e.store.ListFollowUpDue(ctx, cutoff, p) }

	scanned, err := e.scanPages(ctx, list, respondedAt, func(a Assignment) {
		e.nudge(ctx, &res, a, notify.TemplateWonBidFollowUp, e.store.ClaimFollowUp, func(lead Lead) map[string]any {
			data := map[string]any{
				"ProjectType":  lead.ProjectType,
				"AssignmentID": a.ID,
				"Amount":       "",
				"RespondedAt":  "",
			}
			if a.QuoteAmount != nil {
				data["Amount"] = a.QuoteAmount.StringFixed(2)
			}
			if a.RespondedAt != nil {
				data["RespondedAt"] = a.RespondedAt.Format(time.RFC1123)
			}
			return data
		})
	})
	res.Scanned = scanned
	e.logSweep(res)
	if err != nil {
		return res, transient("list follow-up due", err)
	}
	return res, nil
}

type claimFunc func(ctx context.Context, id string, at time.Time) (bool, error)

// nudge loads what the message needs, claims the item, then sends.
func (e *Engine) nudge(ctx context.Context, res *SweepResult, a Assignment, template string, claim claimFunc, data func(Lead) map[string]any) {
	lead, err := e.store.GetLead(ctx, a.LeadID)
	if err == nil && lead == nil {
		err = notFound("lead", a.LeadID)
	}
	if err != nil {
		res.fail(a.ID, err)
		e.log.Warn().Err(err).Str("sweep", res.Sweep).Str("assignment_id", a.ID).Msg("sweep item failed")
		return
	}
	contractor, err := e.store.GetContractor(ctx, a.ContractorID)
	if err == nil && contractor == nil {
		err = notFound("contractor", a.ContractorID)
	}
	if err != nil {
		res.fail(a.ID, err)
		e.log.Warn().Err(err).Str("sweep", res.Sweep).Str("assignment_id", a.ID).Msg("sweep item failed")
		return
	}

	claimed, err := claim(ctx, a.ID, e.now())
	if err != nil {
		res.fail(a.ID, transient("claim", err))
		e.log.Warn().Err(err).Str("sweep", res.Sweep).Str("assignment_id", a.ID).Msg("sweep item failed")
		return
	}
	if !claimed {
		res.Skipped++
		return
	}

	sent := e.notify(ctx, template, contractor.Recipients(), data(*lead))
	res.Notifications = append(res.Notifications, sent...)
	if NotificationsSent(sent) > 0 {
		res.Sent++
	}
}

// AssignmentStats returns counts by status plus nudge counters.
func (e *Engine) AssignmentStats(ctx context.Context) (AssignmentStats, error) {
	stats, err := e.store.AssignmentStats(ctx)
	if err != nil {
		return AssignmentStats{}, transient("assignment stats", err)
	}
	if stats.ByStatus == nil {
		stats.ByStatus = map[AssignmentStatus]int{}
	}
	for _, s := range []AssignmentStatus{StatusPending, StatusAccepted, StatusExpired, StatusCompleted} {
		if _, ok := stats.ByStatus[s]; !ok {
			stats.ByStatus[s] = 0
		}
	}
	return stats, nil
}
