// Package notify delivers engine notifications (new lead offers, quotes,
// review requests, reminders) to contractors, customers and admins.
//
// Delivery is best effort. Callers record the outcome next to the state
// transition that triggered it but never roll the transition back.
package notify

import (
	"context"
	"errors"
	"strings"
)

// Template names understood by every Dispatcher.
const (
	TemplateNewLead           = "new-lead"
	TemplateQuoteReceived     = "quote-received"
	TemplateReviewRequest     = "review-request"
	TemplateReminder          = "reminder"
	TemplateWonBidFollowUp    = "won-bid-followup"
	TemplateAdminRegistration = "admin-registration"
)

// Templates lists all known templates.
var Templates = []string{
	TemplateNewLead,
	TemplateQuoteReceived,
	TemplateReviewRequest,
	TemplateReminder,
	TemplateWonBidFollowUp,
	TemplateAdminRegistration,
}

var (
	ErrUnknownTemplate = errors.New("unknown notification template")
	ErrNoRecipient     = errors.New("no recipient")
	ErrUnsupported     = errors.New("recipient not supported by dispatcher")
)

// Dispatcher sends one templated notification to one address.
type Dispatcher interface {
	Send(ctx context.Context, to, template string, data map[string]any) error
}

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc func(ctx context.Context, to, template string, data map[string]any) error

func (f DispatcherFunc) Send(ctx context.Context, to, template string, data map[string]any) error {
	return f(ctx, to, template, data)
}

// IsEmail reports whether the address looks like an email address.
func IsEmail(to string) bool {
	at := strings.LastIndex(to, "@")
	return at > 0 && at < len(to)-1
}

// Router sends email addresses to Email and everything else (phone numbers)
// to SMS. A nil branch rejects its addresses with ErrUnsupported.
type Router struct {
	Email Dispatcher
	SMS   Dispatcher
}

func (r Router) Send(ctx context.Context, to, template string, data map[string]any) error {
	to = strings.TrimSpace(to)
	if to == "" {
		return ErrNoRecipient
	}
	next := r.SMS
	if IsEmail(to) {
		next = r.Email
	}
	if next == nil {
		return ErrUnsupported
	}
	return next.Send(ctx, to, template, data)
}

func knownTemplate(name string) bool {
	for _, t := range Templates {
		if t == name {
			return true
		}
	}
	return false
}
