package leads_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/leadflow/lead-engine/credit"
	"github.com/leadflow/lead-engine/leads"
	"github.com/leadflow/lead-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var start = time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)

type sentMessage struct {
	To       string
	Template string
	Data     map[string]any
}

// recorder is a notify.Dispatcher that keeps every message.
type recorder struct {
	mu   sync.Mutex
	sent []sentMessage
	fail error
}

func (r *recorder) Send(_ context.Context, to, template string, data map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return r.fail
	}
	r.sent = append(r.sent, sentMessage{To: to, Template: template, Data: data})
	return nil
}

func (r *recorder) byTemplate(template string) []sentMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []sentMessage
	for _, m := range r.sent {
		if m.Template == template {
			out = append(out, m)
		}
	}
	return out
}

type fixture struct {
	t      *testing.T
	ctx    context.Context
	store  *sqlite.Store
	engine *leads.Engine
	notes  *recorder
	now    time.Time
	seq    int
}

func newFixture(t *testing.T, opts ...leads.Option) *fixture {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	f := &fixture{t: t, ctx: context.Background(), store: store, notes: &recorder{}, now: start}
	base := []leads.Option{
		leads.WithClock(leads.ClockFunc(func() time.Time { return f.now })),
		leads.WithShuffle(func([]leads.Candidate) {}),
	}
	f.engine = leads.NewEngine(store, f.notes, append(base, opts...)...)
	return f
}

func (f *fixture) advance(d time.Duration) { f.now = f.now.Add(d) }

type contractorSpec struct {
	city     string
	county   string
	credits  int64
	rating   string
	delivery leads.DeliveryPreference
	approval leads.ApprovalStatus
}

// contractor creates a contractor in TX and funds it through the ledger.
func (f *fixture) contractor(id string, spec contractorSpec) leads.Contractor {
	f.t.Helper()
	if spec.city == "" && spec.county == "" {
		spec.city = "Austin"
	}
	if spec.rating == "" {
		spec.rating = "0"
	}
	if spec.delivery == "" {
		spec.delivery = leads.DeliveryEmail
	}
	if spec.approval == "" {
		spec.approval = leads.ApprovalApproved
	}
	c := leads.Contractor{
		ID:           id,
		BusinessName: "Biz " + id,
		Contact:      leads.Contact{Name: id, Email: id + "@example.com", Phone: "+15125550100"},
		Approval:     spec.approval,
		ServiceAreas: []leads.ServiceArea{{State: "TX", City: spec.city, County: spec.county}},
		Delivery:     spec.delivery,
		Rating:       decimal.RequireFromString(spec.rating),
		CreatedAt:    f.now,
	}
	require.NoError(f.t, f.store.CreateContractor(f.ctx, c))
	if spec.rating != "0" {
		require.NoError(f.t, f.store.UpdateRating(f.ctx, id, c.Rating, 1))
	}
	if spec.credits > 0 {
		_, err := credit.NewLedger(f.store).Credit(f.ctx, id, spec.credits, credit.ReasonPurchase, "seed", credit.PurchaseKey("seed-"+id))
		require.NoError(f.t, err)
	}
	return c
}

// lead stores a lead in Austin, Travis county.
func (f *fixture) lead(pref leads.QuotePreference) leads.Lead {
	f.t.Helper()
	f.seq++
	l := leads.Lead{
		ID:              fmt.Sprintf("lead-%d", f.seq),
		Customer:        leads.Contact{Name: "Casey", Email: "casey@example.com"},
		Location:        leads.Location{State: "TX", City: "Austin", County: "Travis"},
		ProjectType:     "kitchen remodel",
		Description:     "new cabinets",
		QuotePreference: pref,
		CreatedAt:       f.now,
	}
	require.NoError(f.t, f.store.CreateLead(f.ctx, l))
	return l
}

func (f *fixture) balance(id string) int64 {
	f.t.Helper()
	b, err := f.store.Balance(f.ctx, id)
	require.NoError(f.t, err)
	return b
}

func (f *fixture) assignment(id string) leads.Assignment {
	f.t.Helper()
	a, err := f.store.GetAssignment(f.ctx, id)
	require.NoError(f.t, err)
	require.NotNil(f.t, a)
	return *a
}

func (f *fixture) assignmentFor(leadID, contractorID string) leads.Assignment {
	f.t.Helper()
	a, err := f.store.FindAssignment(f.ctx, leadID, contractorID)
	require.NoError(f.t, err)
	require.NotNil(f.t, a, "no assignment for %s/%s", leadID, contractorID)
	return *a
}

// requireLedgerConsistent checks balance == sum(deltas) for each contractor.
func (f *fixture) requireLedgerConsistent(ids ...string) {
	f.t.Helper()
	ledger := credit.NewLedger(f.store)
	for _, id := range ids {
		audit, err := ledger.Verify(f.ctx, id)
		require.NoError(f.t, err)
		require.True(f.t, audit.Consistent(), "%s: cached %d != ledger %d", id, audit.CachedBalance, audit.LedgerSum)
	}
}

var errDown = errors.New("smtp down")
