package leads_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadflow/lead-engine/credit"
	"github.com/leadflow/lead-engine/leads"
)

// parallel runs fn n times at once and waits for all of them.
func parallel(n int, fn func(i int)) {
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			fn(i)
		}(i)
	}
	close(start)
	wg.Wait()
}

func countReason(t *testing.T, f *fixture, contractorID string, reason credit.Reason) int {
	t.Helper()
	entries, err := credit.NewLedger(f.store).Entries(f.ctx, contractorID)
	require.NoError(t, err)
	n := 0
	for _, e := range entries {
		if e.Reason == reason {
			n++
		}
	}
	return n
}

func TestConcurrent_SweepsRefundEachItemOnce(t *testing.T) {
	// GIVEN: Three stale offers to A and two spare credits at B
	// WHEN: Eight sweeps run at the same time
	// THEN: Three expiries, three refunds, two replacements, in total
	f := newFixture(t)
	f.contractor("a", contractorSpec{credits: 3, rating: "5"})
	f.contractor("b", contractorSpec{credits: 2, rating: "1"})
	for i := 0; i < 3; i++ {
		_, err := f.engine.AssignLeadToContractors(f.ctx, f.lead(leads.QuoteDirect))
		require.NoError(t, err)
	}
	require.Equal(t, int64(0), f.balance("a"))

	f.advance(49 * time.Hour)
	var (
		mu                                  sync.Mutex
		expired, refunded, reassigned, errs int
	)
	parallel(8, func(int) {
		res, err := f.engine.CheckAndReassignExpiredLeads(f.ctx)
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			errs++
			return
		}
		expired += res.Expired
		refunded += res.Refunded
		reassigned += res.Reassigned
		errs += len(res.Errors)
	})

	assert.Equal(t, 0, errs)
	assert.Equal(t, 3, expired)
	assert.Equal(t, 3, refunded)
	assert.Equal(t, 2, reassigned)
	assert.Equal(t, int64(3), f.balance("a"))
	assert.Equal(t, int64(0), f.balance("b"))
	assert.Equal(t, 3, countReason(t, f, "a", credit.ReasonExpiryRefund))
	f.requireLedgerConsistent("a", "b")
}

func TestConcurrent_OneQuoteWins(t *testing.T) {
	// GIVEN: One pending assignment
	// WHEN: Ten quotes are submitted for it at once
	// THEN: Exactly one is accepted; the rest conflict
	f := newFixture(t)
	a := pendingAssignment(t, f)

	var (
		mu            sync.Mutex
		ok, conflicts int
		other         []error
	)
	parallel(10, func(i int) {
		_, err := f.engine.SubmitAndSendQuote(f.ctx, leads.QuoteInput{
			AssignmentID: a.ID,
			ContractorID: "a",
			Amount:       decimal.NewFromInt(int64(100 + i)),
		})
		mu.Lock()
		defer mu.Unlock()
		switch {
		case err == nil:
			ok++
		case errors.Is(err, leads.ErrConflict):
			conflicts++
		default:
			other = append(other, err)
		}
	})

	assert.Empty(t, other)
	assert.Equal(t, 1, ok)
	assert.Equal(t, 9, conflicts)
	assert.Equal(t, leads.StatusAccepted, f.assignment(a.ID).Status)
}

func TestConcurrent_AllocationsDoNotDoubleSpend(t *testing.T) {
	// GIVEN: Three eligible contractors with 5 credits each
	// WHEN: The same lead is allocated six times at once
	// THEN: Three assignments and one debit per contractor
	f := newFixture(t)
	for _, id := range []string{"a", "b", "c"} {
		f.contractor(id, contractorSpec{credits: 5})
	}
	lead := f.lead(leads.QuoteTopRated)

	var (
		mu      sync.Mutex
		created int
	)
	parallel(6, func(int) {
		res, err := f.engine.AssignLeadToContractors(f.ctx, lead)
		if err != nil {
			return
		}
		mu.Lock()
		created += res.Created
		mu.Unlock()
	})

	assert.Equal(t, 3, created)
	assignments, err := f.store.ListAssignmentsByLead(f.ctx, lead.ID)
	require.NoError(t, err)
	assert.Len(t, assignments, 3)
	for _, id := range []string{"a", "b", "c"} {
		assert.Equal(t, int64(4), f.balance(id))
		assert.Equal(t, 1, countReason(t, f, id, credit.ReasonLeadAssignment))
	}
	f.requireLedgerConsistent("a", "b", "c")
}

// staleBalanceStore reports old balances from the candidate listing, as if
// another debit landed between the lookup and the allocation.
type staleBalanceStore struct {
	leads.Store
	balances map[string]int64
}

func (s staleBalanceStore) ListAreaCandidates(ctx context.Context, loc leads.Location) ([]leads.Candidate, error) {
	candidates, err := s.Store.ListAreaCandidates(ctx, loc)
	for i := range candidates {
		if b, ok := s.balances[candidates[i].Contractor.ID]; ok {
			candidates[i].Contractor.CreditBalance = b
		}
	}
	return candidates, err
}

func TestAllocator_SkipsContractorThatLostItsCredit(t *testing.T) {
	// GIVEN: B looks funded to the index but has no credit left
	// WHEN: Allocating a three-way lead
	// THEN: A and C are assigned, B is skipped for insufficient credit
	f := newFixture(t)
	f.contractor("a", contractorSpec{credits: 1, rating: "5"})
	f.contractor("b", contractorSpec{credits: 0, rating: "4"})
	f.contractor("c", contractorSpec{credits: 1, rating: "3"})
	lead := f.lead(leads.QuoteTopRated)

	engine := leads.NewEngine(staleBalanceStore{Store: f.store, balances: map[string]int64{"b": 3}}, f.notes,
		leads.WithClock(leads.ClockFunc(func() time.Time { return f.now })))

	res, err := engine.AssignLeadToContractors(f.ctx, lead)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Eligible)
	assert.Equal(t, 2, res.Created)
	assert.Equal(t, []string{"a", "c"}, res.ContractorIDs)
	assert.Equal(t, []leads.Skip{{ContractorID: "b", Reason: leads.SkipInsufficientCredit}}, res.Skipped)
	assert.False(t, res.Unfulfilled)

	assert.Equal(t, int64(0), f.balance("b"))
	b, err := f.store.FindAssignment(f.ctx, lead.ID, "b")
	require.NoError(t, err)
	assert.Nil(t, b)
	f.requireLedgerConsistent("a", "b", "c")
}

func TestAllocator_FailedInsertRollsBackDebit(t *testing.T) {
	// GIVEN: A's assignment insert fails after the debit
	// WHEN: Allocating
	// THEN: A keeps its credit, B is assigned, A is reported as an error skip
	f := newFixture(t)
	f.contractor("a", contractorSpec{credits: 2, rating: "5"})
	f.contractor("b", contractorSpec{credits: 2, rating: "4"})
	lead := f.lead(leads.QuoteTopRated)

	engine := leads.NewEngine(failingInsertStore{Store: f.store, contractor: "a", err: errors.New("disk full")}, f.notes,
		leads.WithClock(leads.ClockFunc(func() time.Time { return f.now })))

	res, err := engine.AssignLeadToContractors(f.ctx, lead)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, res.ContractorIDs)
	require.Len(t, res.Skipped, 1)
	assert.Equal(t, "a", res.Skipped[0].ContractorID)
	assert.Equal(t, leads.SkipError, res.Skipped[0].Reason)

	assert.Equal(t, int64(2), f.balance("a"))
	assert.Equal(t, int64(1), f.balance("b"))
	assert.Equal(t, 0, countReason(t, f, "a", credit.ReasonLeadAssignment))
	f.requireLedgerConsistent("a", "b")
}
