/*
engine.go - Engine wiring, settings and notification bookkeeping

PURPOSE:
  Engine is the single entry point for every lead lifecycle operation.
  It holds an explicit store handle, the notification dispatcher, a clock
  and an id generator, all injected so tests can replace them.

NOTIFICATIONS:
  Delivery is best effort. Every operation that notifies returns the
  outcome next to its state result ([]Notification); a failed send is
  logged and counted but never rolls a transition back.

SEE ALSO:
  - allocator.go: AssignLeadToContractors
  - sweeper.go: CheckAndReassignExpiredLeads
  - quote.go, completion.go, reminders.go, rating.go
*/
package leads

import (
	"context"
	"errors"
	"math/rand/v2"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/leadflow/lead-engine/credit"
	"github.com/leadflow/lead-engine/factory"
	"github.com/leadflow/lead-engine/metrics"
	"github.com/leadflow/lead-engine/notify"
)

// =============================================================================
// SETTINGS
// =============================================================================

type Settings struct {
	FanOut          int           // contractors offered a lead at once
	DirectFanOut    int           // fan-out for QuoteDirect
	ResponseTimeout time.Duration // pending -> expired after this
	ReminderAfter   time.Duration // reminder for pending assignments older than this
	FollowUpAfter   time.Duration // won-bid nudge for accepted assignments older than this
	BatchSize       int           // rows per sweep page; every page is read in one run
	CountyFallback  bool          // match county service areas after city ones
	AdminEmail      string        // receives admin-registration
	PhoneRegion     string        // default region for phone parsing
}

func DefaultSettings() Settings {
	return Settings{
		FanOut:          3,
		DirectFanOut:    1,
		ResponseTimeout: 48 * time.Hour,
		ReminderAfter:   24 * time.Hour,
		FollowUpAfter:   7 * 24 * time.Hour,
		BatchSize:       100,
		CountyFallback:  true,
		PhoneRegion:     "US",
	}
}

func (s Settings) fanOut(p QuotePreference) int {
	if p == QuoteDirect {
		return s.DirectFanOut
	}
	return s.FanOut
}

// =============================================================================
// ENGINE
// =============================================================================

type Engine struct {
	store    Store
	notifier notify.Dispatcher
	settings Settings
	catalog  *factory.Catalog
	log      zerolog.Logger
	clock    Clock
	newID    func() string
	shuffle  func([]Candidate)
	validate *validator.Validate
}

type Option func(*Engine)

func WithSettings(s Settings) Option         { return func(e *Engine) { e.settings = s } }
func WithLogger(l zerolog.Logger) Option     { return func(e *Engine) { e.log = l } }
func WithClock(c Clock) Option               { return func(e *Engine) { e.clock = c } }
func WithIDGenerator(f func() string) Option { return func(e *Engine) { e.newID = f } }
func WithCatalog(c *factory.Catalog) Option  { return func(e *Engine) { e.catalog = c } }

// WithShuffle replaces the random ordering used for QuoteRandom.
func WithShuffle(f func([]Candidate)) Option { return func(e *Engine) { e.shuffle = f } }

func NewEngine(store Store, notifier notify.Dispatcher, opts ...Option) *Engine {
	e := &Engine{
		store:    store,
		notifier: notifier,
		settings: DefaultSettings(),
		log:      zerolog.Nop(),
		clock:    SystemClock,
		newID:    uuid.NewString,
		shuffle:  shuffleCandidates,
		validate: newValidator(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Settings() Settings { return e.settings }

func (e *Engine) now() time.Time { return e.clock.Now().UTC() }

// ledger binds a Ledger to s, which may be a transactional store.
func (e *Engine) ledger(s credit.Store) *credit.Ledger {
	return &credit.Ledger{Store: s, Now: e.now, NewID: e.newID}
}

// index binds an EligibilityIndex to s.
func (e *Engine) index(s CandidateSource) *EligibilityIndex {
	return &EligibilityIndex{
		Source:         s,
		CountyFallback: e.settings.CountyFallback,
		Shuffle:        e.shuffle,
	}
}

func shuffleCandidates(c []Candidate) {
	rand.Shuffle(len(c), func(i, j int) { c[i], c[j] = c[j], c[i] })
}

// =============================================================================
// NOTIFICATION OUTCOMES
// =============================================================================

// Notification is the outcome of one send attempt.
type Notification struct {
	Template  string `json:"template"`
	Recipient string `json:"recipient"`
	Sent      bool   `json:"sent"`
	Error     string `json:"error,omitempty"`
}

// NotificationsSent counts successful sends.
func NotificationsSent(ns []Notification) int {
	n := 0
	for _, x := range ns {
		if x.Sent {
			n++
		}
	}
	return n
}

// notify sends template to every recipient and records each outcome.
func (e *Engine) notify(ctx context.Context, template string, recipients []string, data map[string]any) []Notification {
	out := make([]Notification, 0, len(recipients))
	for _, to := range recipients {
		n := Notification{Template: template, Recipient: to}
		err := errors.New("no dispatcher configured")
		if e.notifier != nil {
			err = e.notifier.Send(ctx, to, template, data)
		}
		if err != nil {
			n.Error = err.Error()
			metrics.Notifications.WithLabelValues(template, "failed").Inc()
			e.log.Warn().Err(err).Str("template", template).Str("to", to).Msg("notification failed")
		} else {
			n.Sent = true
			metrics.Notifications.WithLabelValues(template, "sent").Inc()
		}
		out = append(out, n)
	}
	return out
}

// customerRecipients returns the email and phone of a customer, if set.
func customerRecipients(c Contact) []string {
	var to []string
	if c.Email != "" {
		to = append(to, c.Email)
	}
	if c.Phone != "" {
		to = append(to, c.Phone)
	}
	return to
}

// =============================================================================
// VALIDATION
// =============================================================================

// newValidator reports fields by their json names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// checkStruct runs validator tags and converts the first failure into a
// ValidationError.
func (e *Engine) checkStruct(v any) error {
	err := e.validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return invalid(fe.Field(), "failed "+fe.Tag()+" check")
	}
	return invalid("", err.Error())
}
