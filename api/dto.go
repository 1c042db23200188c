/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON bodies the HTTP layer accepts and the envelope it
  answers with. Engine inputs that already carry json/validate tags
  (leads.LeadInput, leads.ContractorInput, leads.ReviewInput,
  leads.Purchase) are decoded directly; the types here cover path-scoped
  operations where the id comes from the URL.

ENVELOPE:
  Every response is {"success": bool, "data": ...} or
  {"success": false, "error": {"code", "message", "field"}}.

VALIDATION:
  Struct tags are checked by go-playground/validator in the handler
  before the engine is called. The engine validates its own inputs again.

SEE ALSO:
  - handlers.go: Uses these types
  - leads/errors.go: Error kinds behind ErrorBody.Code
*/
package api

import (
	"github.com/shopspring/decimal"

	"github.com/leadflow/lead-engine/leads"
)

// =============================================================================
// ENVELOPE
// =============================================================================

type Envelope struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *ErrorBody `json:"error,omitempty"`
}

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// =============================================================================
// REQUESTS
// =============================================================================

// QuoteRequest is the body of POST /api/assignments/{id}/quote.
type QuoteRequest struct {
	ContractorID string          `json:"contractor_id" validate:"required"`
	Amount       decimal.Decimal `json:"amount"`
	Notes        string          `json:"notes" validate:"max=2000"`
}

// CompletionRequest is the body of POST /api/assignments/{id}/completion.
// Customer overrides the review recipient.
type CompletionRequest struct {
	ContractorID string         `json:"contractor_id" validate:"required"`
	Completed    *bool          `json:"completed" validate:"required"`
	Customer     *leads.Contact `json:"customer,omitempty"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// =============================================================================
// RESPONSES
// =============================================================================

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ContractorDTO hides contact details other than the business name.
type ContractorDTO struct {
	ID            string                   `json:"id"`
	BusinessName  string                   `json:"business_name"`
	Approval      leads.ApprovalStatus     `json:"approval"`
	Delivery      leads.DeliveryPreference `json:"delivery"`
	ServiceAreas  []leads.ServiceArea      `json:"service_areas"`
	CreditBalance int64                    `json:"credit_balance"`
	Rating        string                   `json:"rating"`
	ReviewCount   int                      `json:"review_count"`
}

func toContractorDTO(c leads.Contractor) ContractorDTO {
	areas := c.ServiceAreas
	if areas == nil {
		areas = []leads.ServiceArea{}
	}
	return ContractorDTO{
		ID:            c.ID,
		BusinessName:  c.BusinessName,
		Approval:      c.Approval,
		Delivery:      c.Delivery,
		ServiceAreas:  areas,
		CreditBalance: c.CreditBalance,
		Rating:        c.Rating.StringFixed(2),
		ReviewCount:   c.ReviewCount,
	}
}

type RegistrationDTO struct {
	Contractor    ContractorDTO        `json:"contractor"`
	Notifications []leads.Notification `json:"notifications,omitempty"`
}

// PostingDTO answers the credit webhook.
type PostingDTO struct {
	ContractorID string `json:"contractor_id"`
	Applied      bool   `json:"applied"`
	Balance      int64  `json:"balance"`
}
