package leads

import "context"

type LeadReport struct {
	Lead        Lead             `json:"lead"`
	State       FulfillmentState `json:"state"`
	Flags       []LeadFlag       `json:"flags"`
	Assignments []Assignment     `json:"assignments"`
}

// LeadStatus returns a lead with its assignments and derived state.
func (e *Engine) LeadStatus(ctx context.Context, leadID string) (LeadReport, error) {
	lead, err := e.store.GetLead(ctx, leadID)
	if err != nil {
		return LeadReport{}, transient("get lead", err)
	}
	if lead == nil {
		return LeadReport{}, notFound("lead", leadID)
	}
	assignments, err := e.store.ListAssignmentsByLead(ctx, leadID)
	if err != nil {
		return LeadReport{}, transient("list assignments", err)
	}
	flags, err := e.store.LeadFlags(ctx, leadID)
	if err != nil {
		return LeadReport{}, transient("lead flags", err)
	}
	if flags == nil {
		flags = []LeadFlag{}
	}
	if assignments == nil {
		assignments = []Assignment{}
	}
	return LeadReport{
		Lead:        *lead,
		State:       DeriveFulfillment(assignments, flags),
		Flags:       flags,
		Assignments: assignments,
	}, nil
}

// DeriveFulfillment: fulfilled once any assignment is accepted or completed;
// exhausted when no untried contractor was left and nothing is still
// pending; open otherwise.
func DeriveFulfillment(assignments []Assignment, flags []LeadFlag) FulfillmentState {
	pending := false
	for _, a := range assignments {
		switch a.Status {
		case StatusAccepted, StatusCompleted:
			return StateFulfilled
		case StatusPending:
			pending = true
		}
	}
	if pending {
		return StateOpen
	}
	for _, f := range flags {
		if f == FlagExhausted || f == FlagUnfulfilled {
			return StateExhausted
		}
	}
	return StateOpen
}
