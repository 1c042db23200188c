/*
errors.go - Error taxonomy for the lead engine

ERROR CATEGORIES:
  1. Validation  - bad input (amount, contact info in notes). Not retried.
  2. Conflict    - wrong assignment state, duplicate quote. Caller must not
                   blindly retry.
  3. Exhausted   - no credit / no eligible contractor. Reported as partial
                   success, never fatal.
  4. Transient   - store or notification failure. Aborts a single item only.
  5. NotFound / Forbidden - missing record or wrong owner.

USAGE:
  if errors.Is(err, leads.ErrConflict) { ... }

  var verr *leads.ValidationError
  if errors.As(err, &verr) { fmt.Println(verr.Field) }
*/
package leads

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/leadflow/lead-engine/credit"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrValidation        = errors.New("validation failed")
	ErrConflict          = errors.New("conflict with current state")
	ErrNotFound          = errors.New("not found")
	ErrForbidden         = errors.New("forbidden")
	ErrResourceExhausted = errors.New("resource exhausted")
	ErrTransient         = errors.New("transient failure")

	// ErrDuplicateAssignment is returned by stores when an assignment for the
	// same (lead, contractor) pair already exists.
	ErrDuplicateAssignment = errors.New("assignment already exists for lead and contractor")

	// ErrDuplicateReview is returned by stores when the assignment already has a review.
	ErrDuplicateReview = errors.New("review already recorded for assignment")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// ConflictError reports a state precondition that did not hold.
type ConflictError struct {
	AssignmentID string
	Status       AssignmentStatus
	Reason       string
}

func (e *ConflictError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("conflict: assignment %s is %s: %s", e.AssignmentID, e.Status, e.Reason)
	}
	return fmt.Sprintf("conflict: assignment %s: %s", e.AssignmentID, e.Reason)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

func notFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
}

// exhausted marks a shortfall (no credit, nobody left) that callers report
// as partial success.
func exhausted(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrResourceExhausted, err)
}

func transient(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrTransient, err)
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input or state.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrForbidden)
}

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransient)
}

// HTTPStatus maps an engine error to a status code.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrValidation), errors.Is(err, credit.ErrInvalidAmount):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound), errors.Is(err, credit.ErrContractorNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrConflict), errors.Is(err, ErrDuplicateAssignment), errors.Is(err, ErrDuplicateReview):
		return http.StatusConflict
	case errors.Is(err, ErrResourceExhausted), errors.Is(err, credit.ErrInsufficientCredit):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrTransient):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
