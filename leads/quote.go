package leads

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/leadflow/lead-engine/metrics"
	"github.com/leadflow/lead-engine/notify"
)

const maxQuoteNotes = 2000

type QuoteInput struct {
	AssignmentID string
	ContractorID string
	Amount       decimal.Decimal
	Notes        string
}

// QuoteResult keeps the state outcome and the notification outcome apart.
type QuoteResult struct {
	Assignment    Assignment     `json:"assignment"`
	Notifications []Notification `json:"notifications"`
}

// SubmitAndSendQuote moves a pending assignment to accepted and forwards the
// quote to the customer. A failed notification does not undo the quote.
func (e *Engine) SubmitAndSendQuote(ctx context.Context, in QuoteInput) (QuoteResult, error) {
	if !in.Amount.IsPositive() {
		return QuoteResult{}, invalid("amount", "must be greater than zero")
	}
	notes := strings.TrimSpace(in.Notes)
	if len(notes) > maxQuoteNotes {
		return QuoteResult{}, invalid("notes", "too long")
	}
	if kind := DetectContactInfo(notes, e.settings.PhoneRegion); kind != "" {
		return QuoteResult{}, invalid("notes", "must not contain contact information ("+kind+")")
	}

	a, err := e.ownedAssignment(ctx, in.AssignmentID, in.ContractorID)
	if err != nil {
		return QuoteResult{}, err
	}
	if a.Status != StatusPending {
		return QuoteResult{}, &ConflictError{AssignmentID: a.ID, Status: a.Status, Reason: "quote requires pending"}
	}

	now := e.now()
	ok, err := e.store.AcceptAssignment(ctx, a.ID, in.ContractorID, Quote{Amount: in.Amount, Notes: notes}, now)
	if err != nil {
		return QuoteResult{}, transient("accept assignment", err)
	}
	if !ok {
		// Lost to a concurrent quote or the expiry sweep.
		current, _ := e.store.GetAssignment(ctx, a.ID)
		status := a.Status
		if current != nil {
			status = current.Status
		}
		return QuoteResult{}, &ConflictError{AssignmentID: a.ID, Status: status, Reason: "quote requires pending"}
	}
	metrics.AssignmentTransitions.WithLabelValues(string(StatusAccepted)).Inc()

	amount := in.Amount
	a.Status = StatusAccepted
	a.RespondedAt = &now
	a.QuoteAmount = &amount
	a.QuoteNotes = notes
	res := QuoteResult{Assignment: *a}

	lead, err := e.store.GetLead(ctx, a.LeadID)
	if err != nil || lead == nil {
		e.log.Warn().Err(err).Str("assignment_id", a.ID).Msg("quote accepted but lead lookup failed")
		return res, nil
	}
	contractor, err := e.store.GetContractor(ctx, in.ContractorID)
	if err != nil || contractor == nil {
		e.log.Warn().Err(err).Str("assignment_id", a.ID).Msg("quote accepted but contractor lookup failed")
		return res, nil
	}
	res.Notifications = e.notify(ctx, notify.TemplateQuoteReceived, customerRecipients(lead.Customer), map[string]any{
		"CustomerName":   lead.Customer.Name,
		"ContractorName": contractor.BusinessName,
		"Amount":         amount.StringFixed(2),
		"ProjectType":    lead.ProjectType,
		"Notes":          notes,
	})

	e.log.Info().Str("assignment_id", a.ID).Str("amount", amount.StringFixed(2)).Msg("quote submitted")
	return res, nil
}

// ownedAssignment loads an assignment and checks it belongs to contractorID.
func (e *Engine) ownedAssignment(ctx context.Context, id, contractorID string) (*Assignment, error) {
	if id == "" {
		return nil, invalid("assignment_id", "required")
	}
	if contractorID == "" {
		return nil, invalid("contractor_id", "required")
	}
	a, err := e.store.GetAssignment(ctx, id)
	if err != nil {
		return nil, transient("get assignment", err)
	}
	if a == nil {
		return nil, notFound("assignment", id)
	}
	if a.ContractorID != contractorID {
		return nil, fmt.Errorf("assignment %s belongs to another contractor: %w", id, ErrForbidden)
	}
	return a, nil
}
