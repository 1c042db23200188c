/*
handlers.go - HTTP API handlers for the lead engine

PURPOSE:
  Exposes the lead engine via REST API. Handles HTTP request/response,
  JSON decoding and validation, and delegates to leads.Engine. Handlers
  hold no business logic.

ENDPOINTS:
  Leads:
    POST   /api/leads                          Intake + allocation
    GET    /api/leads/{id}                     Lead, flags, assignments, state

  Contractors:
    POST   /api/contractors                    Register (pending approval)
    GET    /api/contractors/{id}               Public profile
    POST   /api/contractors/{id}/approve       Approve
    GET    /api/contractors/{id}/ledger        Ledger entries + audit
    POST   /api/contractors/{id}/adjustments   Manual credit correction

  Assignments:
    POST   /api/assignments/{id}/quote         Submit quote (pending -> accepted)
    POST   /api/assignments/{id}/completion    Mark completed / reopen
    GET    /api/assignments/stats              Counts by status

  Reviews, credits, sweeps:
    POST   /api/reviews                        Record a review
    POST   /api/webhooks/credits               Pre-verified purchase webhook
    POST   /api/sweeps/{name}                  Run one sweep now

ERROR HANDLING:
  leads.HTTPStatus maps engine error kinds to status codes:
  - 400: Validation errors, invalid input
  - 403: Assignment belongs to another contractor
  - 404: Resource not found
  - 409: Conflict (wrong state, duplicate)
  - 422: Not enough credit
  - 503: Storage unavailable (retryable)
  - 500: Anything else, logged with the request id

SECURITY NOTE:
  No authentication. The contractor id in quote/completion bodies stands
  in for the authenticated caller; put the API behind an auth proxy.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/leadflow/lead-engine/credit"
	"github.com/leadflow/lead-engine/leads"
	"github.com/leadflow/lead-engine/store/sqlite"
)

const maxBodyBytes = 1 << 20

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine *leads.Engine
	Store  *sqlite.Store
	Log    zerolog.Logger

	validate *validator.Validate

	// Track currently loaded scenario
	mu              sync.Mutex
	currentScenario string
}

func NewHandler(engine *leads.Engine, store *sqlite.Store, log zerolog.Logger) *Handler {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &Handler{
		Engine:   engine,
		Store:    store,
		Log:      log,
		validate: v,
	}
}

// =============================================================================
// LEADS
// =============================================================================

// CreateLead persists a lead and allocates it.
// POST /api/leads
func (h *Handler) CreateLead(w http.ResponseWriter, r *http.Request) {
	var in leads.LeadInput
	if !h.decode(w, r, &in) {
		return
	}
	res, err := h.Engine.CreateLead(r.Context(), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// GetLead returns a lead with its assignments and derived state.
// GET /api/leads/{id}
func (h *Handler) GetLead(w http.ResponseWriter, r *http.Request) {
	report, err := h.Engine.LeadStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// =============================================================================
// CONTRACTORS
// =============================================================================

// RegisterContractor stores a contractor awaiting approval.
// POST /api/contractors
func (h *Handler) RegisterContractor(w http.ResponseWriter, r *http.Request) {
	var in leads.ContractorInput
	if !h.decode(w, r, &in) {
		return
	}
	res, err := h.Engine.RegisterContractor(r.Context(), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, RegistrationDTO{
		Contractor:    toContractorDTO(res.Contractor),
		Notifications: res.Notifications,
	})
}

// GET /api/contractors/{id}
func (h *Handler) GetContractor(w http.ResponseWriter, r *http.Request) {
	c, err := h.Engine.GetContractor(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toContractorDTO(c))
}

// POST /api/contractors/{id}/approve
func (h *Handler) ApproveContractor(w http.ResponseWriter, r *http.Request) {
	c, err := h.Engine.ApproveContractor(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toContractorDTO(c))
}

// GetLedger returns the contractor's ledger and whether the cached balance
// matches it.
// GET /api/contractors/{id}/ledger
func (h *Handler) GetLedger(w http.ResponseWriter, r *http.Request) {
	report, err := h.Engine.LedgerAudit(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// CreateAdjustment applies a manual credit correction.
// POST /api/contractors/{id}/adjustments
func (h *Handler) CreateAdjustment(w http.ResponseWriter, r *http.Request) {
	var adj leads.Adjustment
	if !h.decode(w, r, &adj) {
		return
	}
	adj.ContractorID = chi.URLParam(r, "id")
	posting, err := h.Engine.AdjustCredits(r.Context(), adj)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, PostingDTO{
		ContractorID: adj.ContractorID,
		Applied:      posting.Applied,
		Balance:      posting.Balance,
	})
}

// =============================================================================
// ASSIGNMENTS
// =============================================================================

// SubmitQuote accepts a pending assignment and forwards the quote.
// POST /api/assignments/{id}/quote
func (h *Handler) SubmitQuote(w http.ResponseWriter, r *http.Request) {
	var req QuoteRequest
	if !h.decode(w, r, &req) || !h.check(w, r, req) {
		return
	}
	res, err := h.Engine.SubmitAndSendQuote(r.Context(), leads.QuoteInput{
		AssignmentID: chi.URLParam(r, "id"),
		ContractorID: req.ContractorID,
		Amount:       req.Amount,
		Notes:        req.Notes,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// SetCompletion marks a won job completed (requesting a review) or reopens it.
// POST /api/assignments/{id}/completion
func (h *Handler) SetCompletion(w http.ResponseWriter, r *http.Request) {
	var req CompletionRequest
	if !h.decode(w, r, &req) || !h.check(w, r, req) {
		return
	}
	res, err := h.Engine.SetJobCompletion(r.Context(), leads.CompletionInput{
		AssignmentID: chi.URLParam(r, "id"),
		ContractorID: req.ContractorID,
		Completed:    *req.Completed,
		Customer:     req.Customer,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GET /api/assignments/stats
func (h *Handler) GetAssignmentStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Engine.AssignmentStats(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// =============================================================================
// REVIEWS, CREDITS, SWEEPS
// =============================================================================

// POST /api/reviews
func (h *Handler) CreateReview(w http.ResponseWriter, r *http.Request) {
	var in leads.ReviewInput
	if !h.decode(w, r, &in) {
		return
	}
	res, err := h.Engine.RecordReview(r.Context(), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// CreditWebhook applies a purchase. The payment gateway signature is
// verified before the request reaches this service; redelivery is a no-op.
// POST /api/webhooks/credits
func (h *Handler) CreditWebhook(w http.ResponseWriter, r *http.Request) {
	var p leads.Purchase
	if !h.decode(w, r, &p) {
		return
	}
	posting, err := h.Engine.ApplyCreditPurchase(r.Context(), p)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, PostingDTO{
		ContractorID: p.ContractorID,
		Applied:      posting.Applied,
		Balance:      posting.Balance,
	})
}

// RunSweep runs one sweep synchronously.
// POST /api/sweeps/{name}
func (h *Handler) RunSweep(w http.ResponseWriter, r *http.Request) {
	res, err := h.Engine.RunSweep(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GET /healthz
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, Envelope{
			Error: &ErrorBody{Code: "unavailable", Message: "database unreachable"},
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

// decode reads a JSON body into v, answering 400 on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, Envelope{
			Error: &ErrorBody{Code: "validation", Message: "invalid request body: " + err.Error()},
		})
		return false
	}
	return true
}

// check runs struct tag validation on a DTO.
func (h *Handler) check(w http.ResponseWriter, r *http.Request, v any) bool {
	err := h.validate.Struct(v)
	if err == nil {
		return true
	}
	var fields validator.ValidationErrors
	if errors.As(err, &fields) && len(fields) > 0 {
		fe := fields[0]
		err = &leads.ValidationError{Field: fe.Field(), Reason: fmt.Sprintf("failed %s check", fe.Tag())}
	}
	h.writeError(w, r, err)
	return false
}

// writeJSON wraps data in a success envelope unless it already is one.
func writeJSON(w http.ResponseWriter, status int, data any) {
	env, ok := data.(Envelope)
	if !ok {
		env = Envelope{Success: status < 400, Data: data}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(env)
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := leads.HTTPStatus(err)
	body := &ErrorBody{Code: errorCode(err), Message: err.Error()}

	var verr *leads.ValidationError
	if errors.As(err, &verr) {
		body.Field = verr.Field
	}
	if status >= http.StatusInternalServerError {
		h.Log.Error().Err(err).
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("path", r.URL.Path).
			Msg("request failed")
		if status == http.StatusInternalServerError {
			body.Message = "internal error"
		}
	}
	writeJSON(w, status, Envelope{Error: body})
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, leads.ErrValidation), errors.Is(err, credit.ErrInvalidAmount):
		return "validation"
	case errors.Is(err, leads.ErrNotFound), errors.Is(err, credit.ErrContractorNotFound):
		return "not_found"
	case errors.Is(err, leads.ErrForbidden):
		return "forbidden"
	case errors.Is(err, leads.ErrConflict), errors.Is(err, leads.ErrDuplicateAssignment), errors.Is(err, leads.ErrDuplicateReview):
		return "conflict"
	case errors.Is(err, leads.ErrResourceExhausted), errors.Is(err, credit.ErrInsufficientCredit):
		return "insufficient_credit"
	case errors.Is(err, leads.ErrTransient):
		return "unavailable"
	default:
		return "internal"
	}
}
