package leads

import (
	"context"
	"strings"

	"github.com/leadflow/lead-engine/metrics"
)

type LeadInput struct {
	CustomerName    string          `json:"customer_name" validate:"required,max=200"`
	Email           string          `json:"email" validate:"omitempty,email,max=254"`
	Phone           string          `json:"phone" validate:"omitempty,max=32"`
	State           string          `json:"state" validate:"required,max=64"`
	City            string          `json:"city" validate:"required,max=128"`
	County          string          `json:"county" validate:"max=128"`
	PostalCode      string          `json:"postal_code" validate:"max=16"`
	ProjectType     string          `json:"project_type" validate:"required,max=128"`
	Description     string          `json:"description" validate:"max=5000"`
	Budget          string          `json:"budget" validate:"max=64"`
	Timeline        string          `json:"timeline" validate:"max=64"`
	QuotePreference QuotePreference `json:"quote_preference"`
}

// IntakeResult reports the stored lead and what allocation achieved.
// AllocationError is set when allocation failed after the lead was stored;
// the intake itself still succeeded.
type IntakeResult struct {
	Lead            Lead             `json:"lead"`
	Allocation      AllocationResult `json:"allocation"`
	AllocationError string           `json:"allocation_error,omitempty"`
	State           FulfillmentState `json:"state"`
}

// CreateLead validates and stores a lead, then allocates it.
func (e *Engine) CreateLead(ctx context.Context, in LeadInput) (IntakeResult, error) {
	lead, err := e.buildLead(in)
	if err != nil {
		return IntakeResult{}, err
	}
	if err := e.store.CreateLead(ctx, lead); err != nil {
		return IntakeResult{}, transient("create lead", err)
	}
	metrics.LeadsCreated.Inc()
	e.log.Info().
		Str("lead_id", lead.ID).
		Str("city", lead.Location.City).
		Str("preference", string(lead.QuotePreference)).
		Msg("lead created")

	res := IntakeResult{Lead: lead, State: StateOpen}
	alloc, err := e.AssignLeadToContractors(ctx, lead)
	res.Allocation = alloc
	if err != nil {
		res.AllocationError = err.Error()
		e.log.Error().Err(err).Str("lead_id", lead.ID).Msg("allocation failed")
		return res, nil
	}
	if alloc.Unfulfilled {
		res.State = StateExhausted
	}
	return res, nil
}

func (e *Engine) buildLead(in LeadInput) (Lead, error) {
	in.CustomerName = strings.TrimSpace(in.CustomerName)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.State = strings.TrimSpace(in.State)
	in.City = strings.TrimSpace(in.City)
	in.County = strings.TrimSpace(in.County)
	in.ProjectType = strings.TrimSpace(in.ProjectType)
	if in.QuotePreference == "" {
		in.QuotePreference = QuoteRandom
	}

	if err := e.checkStruct(in); err != nil {
		return Lead{}, err
	}
	if !in.QuotePreference.Valid() {
		return Lead{}, invalid("quote_preference", "must be random, top_rated or direct")
	}
	if in.Email == "" && strings.TrimSpace(in.Phone) == "" {
		return Lead{}, invalid("email", "email or phone is required")
	}
	phone, err := normalizePhone(in.Phone, e.settings.PhoneRegion)
	if err != nil {
		return Lead{}, err
	}

	return Lead{
		ID:       e.newID(),
		Customer: Contact{Name: in.CustomerName, Email: in.Email, Phone: phone},
		Location: Location{
			State:      in.State,
			City:       in.City,
			County:     in.County,
			PostalCode: strings.TrimSpace(in.PostalCode),
		},
		ProjectType:     in.ProjectType,
		Description:     strings.TrimSpace(in.Description),
		Budget:          in.Budget,
		Timeline:        in.Timeline,
		QuotePreference: in.QuotePreference,
		CreatedAt:       e.now(),
	}, nil
}
