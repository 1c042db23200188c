package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadflow/lead-engine/credit"
	"github.com/leadflow/lead-engine/leads"
	"github.com/leadflow/lead-engine/store/sqlite"
)

var t0 = time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)

func newStore(t *testing.T) *sqlite.Store {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func seed(t *testing.T, store *sqlite.Store) {
	ctx := context.Background()
	require.NoError(t, store.CreateLead(ctx, leads.Lead{
		ID:              "lead-1",
		Customer:        leads.Contact{Name: "Ann", Email: "ann@example.com"},
		Location:        leads.Location{State: "TX", City: "Austin", County: "Travis"},
		ProjectType:     "roofing",
		QuotePreference: leads.QuoteTopRated,
		CreatedAt:       t0,
	}))
	contractors := []leads.Contractor{
		{ID: "city", Approval: leads.ApprovalApproved, ServiceAreas: []leads.ServiceArea{{State: "tx", City: "austin"}}},
		{ID: "county", Approval: leads.ApprovalApproved, ServiceAreas: []leads.ServiceArea{{State: "TX", County: "Travis"}}},
		{ID: "both", Approval: leads.ApprovalApproved, ServiceAreas: []leads.ServiceArea{{State: "TX", City: "Austin"}, {State: "TX", County: "Travis"}}},
		{ID: "pending", Approval: leads.ApprovalPending, ServiceAreas: []leads.ServiceArea{{State: "TX", City: "Austin"}}},
		{ID: "elsewhere", Approval: leads.ApprovalApproved, ServiceAreas: []leads.ServiceArea{{State: "TX", City: "Dallas"}}},
	}
	for _, c := range contractors {
		c.BusinessName = c.ID
		c.Delivery = leads.DeliveryEmail
		c.Rating = decimal.Zero
		c.CreatedAt = t0
		require.NoError(t, store.CreateContractor(ctx, c))
	}
}

func TestStore_ListAreaCandidates(t *testing.T) {
	// GIVEN: Contractors serving the lead's city, its county, both, or neither
	// WHEN: Listing candidates for Austin, Travis county
	// THEN: Approved city matches are tier 0, county matches tier 1, case-insensitive
	store := newStore(t)
	seed(t, store)

	got, err := store.ListAreaCandidates(context.Background(),
		leads.Location{State: "TX", City: "AUSTIN", County: "travis"})
	require.NoError(t, err)

	type pair struct {
		id   string
		tier leads.MatchTier
	}
	var pairs []pair
	for _, c := range got {
		pairs = append(pairs, pair{c.Contractor.ID, c.Tier})
	}
	assert.Equal(t, []pair{
		{"both", leads.TierCity},
		{"city", leads.TierCity},
		{"both", leads.TierCounty},
		{"county", leads.TierCounty},
	}, pairs)
}

func TestStore_AssignmentUniquePerLeadAndContractor(t *testing.T) {
	store := newStore(t)
	seed(t, store)
	ctx := context.Background()

	a := leads.Assignment{ID: "a-1", LeadID: "lead-1", ContractorID: "city", Status: leads.StatusPending, CreatedAt: t0}
	require.NoError(t, store.CreateAssignment(ctx, a))

	a.ID = "a-2"
	err := store.CreateAssignment(ctx, a)
	assert.ErrorIs(t, err, leads.ErrDuplicateAssignment)
}

func TestStore_ConditionalTransitions(t *testing.T) {
	// GIVEN: A pending assignment
	// WHEN: Competing transitions are applied
	// THEN: Only the first one matching the prior state wins
	store := newStore(t)
	seed(t, store)
	ctx := context.Background()

	require.NoError(t, store.CreateAssignment(ctx, leads.Assignment{
		ID: "a-1", LeadID: "lead-1", ContractorID: "city", Status: leads.StatusPending, CreatedAt: t0,
	}))

	// Not stale yet
	ok, err := store.ExpireAssignment(ctx, "a-1", t0)
	require.NoError(t, err)
	assert.False(t, ok, "created_at must be strictly before the cutoff")

	// Wrong contractor cannot quote
	ok, err = store.AcceptAssignment(ctx, "a-1", "county", leads.Quote{Amount: decimal.NewFromInt(100)}, t0)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = store.AcceptAssignment(ctx, "a-1", "city", leads.Quote{Amount: decimal.RequireFromString("2500.50"), Notes: "two coats"}, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.AcceptAssignment(ctx, "a-1", "city", leads.Quote{Amount: decimal.NewFromInt(1)}, t0.Add(2*time.Hour))
	require.NoError(t, err)
	assert.False(t, ok, "second quote loses")

	ok, err = store.ExpireAssignment(ctx, "a-1", t0.Add(72*time.Hour))
	require.NoError(t, err)
	assert.False(t, ok, "accepted assignments never expire")

	a, err := store.GetAssignment(ctx, "a-1")
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, leads.StatusAccepted, a.Status)
	require.NotNil(t, a.QuoteAmount)
	assert.True(t, a.QuoteAmount.Equal(decimal.RequireFromString("2500.50")))
	assert.Equal(t, "two coats", a.QuoteNotes)
	require.NotNil(t, a.RespondedAt)
	assert.True(t, a.RespondedAt.Equal(t0.Add(time.Hour)))

	ok, err = store.CompleteAssignment(ctx, "a-1", "city", t0.Add(48*time.Hour))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.ClaimReviewRequest(ctx, "a-1", t0)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = store.ClaimReviewRequest(ctx, "a-1", t0)
	require.NoError(t, err)
	assert.False(t, ok, "claimed once")

	ok, err = store.ReopenAssignment(ctx, "a-1", "city")
	require.NoError(t, err)
	assert.True(t, ok)

	a, err = store.GetAssignment(ctx, "a-1")
	require.NoError(t, err)
	assert.Equal(t, leads.StatusAccepted, a.Status)
	assert.Nil(t, a.ProjectCompletedAt)
	assert.NotNil(t, a.ReviewRequestedAt, "review claim survives reopen")
}

func TestStore_WithTxRollsBack(t *testing.T) {
	// GIVEN: A debit and an assignment insert in one transaction
	// WHEN: The function returns an error
	// THEN: Neither write is visible
	store := newStore(t)
	seed(t, store)
	ctx := context.Background()

	_, err := credit.NewLedger(store).Credit(ctx, "city", 2, credit.ReasonPurchase, "s", credit.PurchaseKey("s"))
	require.NoError(t, err)

	boom := errors.New("boom")
	err = store.WithTx(ctx, func(tx leads.Store) error {
		if _, err := credit.NewLedger(tx).Debit(ctx, "city", 1, credit.ReasonLeadAssignment, "a-1", credit.AssignmentDebitKey("a-1")); err != nil {
			return err
		}
		if err := tx.CreateAssignment(ctx, leads.Assignment{ID: "a-1", LeadID: "lead-1", ContractorID: "city", Status: leads.StatusPending, CreatedAt: t0}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	balance, err := store.Balance(ctx, "city")
	require.NoError(t, err)
	assert.Equal(t, int64(2), balance)
	a, err := store.GetAssignment(ctx, "a-1")
	require.NoError(t, err)
	assert.Nil(t, a)
}

func TestStore_NestedFailureRollsBackOnlyInner(t *testing.T) {
	store := newStore(t)
	seed(t, store)
	ctx := context.Background()

	err := store.WithTx(ctx, func(tx leads.Store) error {
		if _, err := tx.FlagLead(ctx, "lead-1", leads.FlagExhausted, t0); err != nil {
			return err
		}
		// Insufficient credit: the inner unit fails, the outer one goes on.
		_, err := tx.ApplyEntry(ctx, credit.Entry{ID: "e-1", ContractorID: "city", Delta: -1, Reason: credit.ReasonAdjustment, CreatedAt: t0})
		assert.ErrorIs(t, err, credit.ErrInsufficientCredit)
		return nil
	})
	require.NoError(t, err)

	flags, err := store.LeadFlags(ctx, "lead-1")
	require.NoError(t, err)
	assert.Equal(t, []leads.LeadFlag{leads.FlagExhausted}, flags)

	entries, err := store.Entries(ctx, "city")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestStore_FlagLeadOnce(t *testing.T) {
	store := newStore(t)
	seed(t, store)
	ctx := context.Background()

	ok, err := store.FlagLead(ctx, "lead-1", leads.FlagUnfulfilled, t0)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = store.FlagLead(ctx, "lead-1", leads.FlagUnfulfilled, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_DueQueriesAndStats(t *testing.T) {
	store := newStore(t)
	seed(t, store)
	ctx := context.Background()

	for i, id := range []string{"city", "county", "both"} {
		require.NoError(t, store.CreateAssignment(ctx, leads.Assignment{
			ID: "a-" + id, LeadID: "lead-1", ContractorID: id, Status: leads.StatusPending,
			CreatedAt: t0.Add(time.Duration(i) * time.Hour),
		}))
	}
	_, err := store.AcceptAssignment(ctx, "a-both", "both", leads.Quote{Amount: decimal.NewFromInt(10)}, t0.Add(3*time.Hour))
	require.NoError(t, err)

	due, err := store.ListReminderDue(ctx, t0, t0.Add(90*time.Minute), leads.Page{})
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, "a-city", due[0].ID, "oldest first")

	due, err = store.ListReminderDue(ctx, t0.Add(time.Minute), t0.Add(90*time.Minute), leads.Page{})
	require.NoError(t, err)
	require.Len(t, due, 1, "rows before the window start are left out")
	assert.Equal(t, "a-county", due[0].ID)

	ok, err := store.ClaimReminder(ctx, "a-city", t0)
	require.NoError(t, err)
	assert.True(t, ok)

	due, err = store.ListReminderDue(ctx, t0, t0.Add(90*time.Minute), leads.Page{Limit: 10})
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "a-county", due[0].ID)

	followUps, err := store.ListFollowUpDue(ctx, t0.Add(4*time.Hour), leads.Page{Limit: 10})
	require.NoError(t, err)
	require.Len(t, followUps, 1)
	assert.Equal(t, "a-both", followUps[0].ID)

	stats, err := store.AssignmentStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 2, stats.ByStatus[leads.StatusPending])
	assert.Equal(t, 1, stats.ByStatus[leads.StatusAccepted])
	assert.Equal(t, 1, stats.RemindersSent)
}

func TestStore_LedgerIsAppendOnly(t *testing.T) {
	store := newStore(t)
	seed(t, store)
	ctx := context.Background()

	_, err := credit.NewLedger(store).Credit(ctx, "city", 1, credit.ReasonPurchase, "s", credit.PurchaseKey("s"))
	require.NoError(t, err)

	err = store.WithTx(ctx, func(tx leads.Store) error {
		_, err := tx.(*sqlite.Store).ExecForTest(ctx, "UPDATE ledger_entries SET delta = 100")
		return err
	})
	assert.ErrorContains(t, err, "append-only")
}

func TestStore_ReviewsAndRating(t *testing.T) {
	store := newStore(t)
	seed(t, store)
	ctx := context.Background()

	require.NoError(t, store.CreateAssignment(ctx, leads.Assignment{
		ID: "a-1", LeadID: "lead-1", ContractorID: "city", Status: leads.StatusCompleted, CreatedAt: t0,
	}))
	r := leads.Review{ID: "r-1", ContractorID: "city", AssignmentID: "a-1", Rating: 4, Verified: true, CreatedAt: t0}
	require.NoError(t, store.CreateReview(ctx, r))
	r.ID = "r-2"
	assert.ErrorIs(t, store.CreateReview(ctx, r), leads.ErrDuplicateReview)

	reviews, err := store.ListReviewsByContractor(ctx, "city")
	require.NoError(t, err)
	require.Len(t, reviews, 1)
	assert.True(t, reviews[0].Verified)

	require.NoError(t, store.UpdateRating(ctx, "city", decimal.RequireFromString("4.50"), 2))
	c, err := store.GetContractor(ctx, "city")
	require.NoError(t, err)
	assert.True(t, c.Rating.Equal(decimal.RequireFromString("4.5")))
	assert.Equal(t, 2, c.ReviewCount)
	assert.Equal(t, []leads.ServiceArea{{State: "tx", City: "austin"}}, c.ServiceAreas)
}

func TestStore_PendingKeysetPages(t *testing.T) {
	// GIVEN: Four stale pending assignments, two sharing a timestamp
	// WHEN: Paging with limit 2 from the last row of each page
	// THEN: Every row comes back once, in (created_at, id) order
	store := newStore(t)
	seed(t, store)
	ctx := context.Background()

	rows := []struct {
		id, contractor string
		at             time.Time
	}{
		{"a-2", "city", t0},
		{"a-1", "county", t0},
		{"a-3", "both", t0.Add(time.Hour)},
		{"a-4", "elsewhere", t0.Add(2 * time.Hour)},
	}
	for _, r := range rows {
		require.NoError(t, store.CreateAssignment(ctx, leads.Assignment{
			ID: r.id, LeadID: "lead-1", ContractorID: r.contractor, Status: leads.StatusPending, CreatedAt: r.at,
		}))
	}

	var got []string
	page := leads.Page{Limit: 2}
	for {
		batch, err := store.ListPendingCreatedBefore(ctx, t0.Add(3*time.Hour), page)
		require.NoError(t, err)
		for _, a := range batch {
			got = append(got, a.ID)
		}
		if len(batch) < page.Limit {
			break
		}
		last := batch[len(batch)-1]
		page.AfterAt, page.AfterID = last.CreatedAt, last.ID
	}
	assert.Equal(t, []string{"a-1", "a-2", "a-3", "a-4"}, got)
}
