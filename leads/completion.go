package leads

import (
	"context"

	"github.com/leadflow/lead-engine/metrics"
	"github.com/leadflow/lead-engine/notify"
)

type CompletionInput struct {
	AssignmentID string
	ContractorID string
	Completed    bool
	// Customer overrides the lead's customer contact for the review request.
	Customer *Contact
}

type CompletionResult struct {
	Assignment      Assignment     `json:"assignment"`
	Changed         bool           `json:"changed"`
	ReviewRequested bool           `json:"review_requested"`
	Notifications   []Notification `json:"notifications,omitempty"`
}

// SetJobCompletion marks an accepted job completed (completed=true) or
// clears the completion of a completed one (completed=false).
//
// The review request is claimed through review_requested_at before it is
// sent, so it goes out at most once per assignment no matter how often
// completion is set, cleared and set again.
func (e *Engine) SetJobCompletion(ctx context.Context, in CompletionInput) (CompletionResult, error) {
	a, err := e.ownedAssignment(ctx, in.AssignmentID, in.ContractorID)
	if err != nil {
		return CompletionResult{}, err
	}
	if in.Completed {
		return e.complete(ctx, a, in)
	}
	return e.reopen(ctx, a, in)
}

func (e *Engine) complete(ctx context.Context, a *Assignment, in CompletionInput) (CompletionResult, error) {
	res := CompletionResult{}
	now := e.now()

	switch a.Status {
	case StatusAccepted:
		ok, err := e.store.CompleteAssignment(ctx, a.ID, in.ContractorID, now)
		if err != nil {
			return res, transient("complete assignment", err)
		}
		if ok {
			res.Changed = true
			metrics.AssignmentTransitions.WithLabelValues(string(StatusCompleted)).Inc()
		}
	case StatusCompleted:
	default:
		return res, &ConflictError{AssignmentID: a.ID, Status: a.Status, Reason: "completion requires accepted"}
	}

	current, err := e.store.GetAssignment(ctx, a.ID)
	if err != nil {
		return res, transient("get assignment", err)
	}
	if current == nil || current.Status != StatusCompleted {
		status := a.Status
		if current != nil {
			status = current.Status
		}
		return res, &ConflictError{AssignmentID: a.ID, Status: status, Reason: "completion requires accepted"}
	}
	res.Assignment = *current

	claimed, err := e.store.ClaimReviewRequest(ctx, a.ID, now)
	if err != nil {
		e.log.Warn().Err(err).Str("assignment_id", a.ID).Msg("review request claim failed")
		return res, nil
	}
	if !claimed {
		return res, nil
	}
	res.ReviewRequested = true
	res.Assignment.ReviewRequestedAt = &now

	lead, err := e.store.GetLead(ctx, a.LeadID)
	if err != nil || lead == nil {
		e.log.Warn().Err(err).Str("assignment_id", a.ID).Msg("review request: lead lookup failed")
		return res, nil
	}
	customer := lead.Customer
	if in.Customer != nil && (in.Customer.Email != "" || in.Customer.Phone != "") {
		customer = *in.Customer
	}
	contractorName := ""
	if c, err := e.store.GetContractor(ctx, a.ContractorID); err == nil && c != nil {
		contractorName = c.BusinessName
	}

	res.Notifications = e.notify(ctx, notify.TemplateReviewRequest, customerRecipients(customer), map[string]any{
		"CustomerName":   customer.Name,
		"ContractorName": contractorName,
		"ContractorID":   a.ContractorID,
		"LeadID":         a.LeadID,
	})
	e.log.Info().Str("assignment_id", a.ID).Msg("job completed")
	return res, nil
}

func (e *Engine) reopen(ctx context.Context, a *Assignment, in CompletionInput) (CompletionResult, error) {
	res := CompletionResult{}
	switch a.Status {
	case StatusCompleted:
		ok, err := e.store.ReopenAssignment(ctx, a.ID, in.ContractorID)
		if err != nil {
			return res, transient("reopen assignment", err)
		}
		if ok {
			res.Changed = true
			metrics.AssignmentTransitions.WithLabelValues(string(StatusAccepted)).Inc()
		}
	case StatusAccepted:
	default:
		return res, &ConflictError{AssignmentID: a.ID, Status: a.Status, Reason: "clearing completion requires accepted or completed"}
	}

	current, err := e.store.GetAssignment(ctx, a.ID)
	if err != nil {
		return res, transient("get assignment", err)
	}
	if current == nil {
		return res, notFound("assignment", a.ID)
	}
	res.Assignment = *current
	return res, nil
}
