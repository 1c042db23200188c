package credit_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadflow/lead-engine/credit"
	"github.com/leadflow/lead-engine/leads"
	"github.com/leadflow/lead-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestLedger(t *testing.T, contractorIDs ...string) (*credit.Ledger, *sqlite.Store) {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	for _, id := range contractorIDs {
		require.NoError(t, store.CreateContractor(ctx, leads.Contractor{
			ID:           id,
			BusinessName: id,
			Approval:     leads.ApprovalApproved,
			Delivery:     leads.DeliveryEmail,
			Rating:       decimal.Zero,
			CreatedAt:    time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		}))
	}
	return credit.NewLedger(store), store
}

func assertConsistent(t *testing.T, ledger *credit.Ledger, contractorID string) {
	t.Helper()
	audit, err := ledger.Verify(context.Background(), contractorID)
	require.NoError(t, err)
	assert.True(t, audit.Consistent(), "cached %d != ledger %d", audit.CachedBalance, audit.LedgerSum)
}

// =============================================================================
// DEBIT / CREDIT
// =============================================================================

func TestLedger_CreditThenDebit(t *testing.T) {
	// GIVEN: A contractor with no credits
	// WHEN: 5 credits are bought and 2 spent
	// THEN: Balance is 3 and matches the ledger
	ledger, _ := newTestLedger(t, "ctr-1")
	ctx := context.Background()

	p, err := ledger.Credit(ctx, "ctr-1", 5, credit.ReasonPurchase, "sess-1", credit.PurchaseKey("sess-1"))
	require.NoError(t, err)
	assert.True(t, p.Applied)
	assert.Equal(t, int64(5), p.Balance)

	for i, id := range []string{"a-1", "a-2"} {
		p, err = ledger.Debit(ctx, "ctr-1", 1, credit.ReasonLeadAssignment, id, credit.AssignmentDebitKey(id))
		require.NoError(t, err)
		assert.Equal(t, int64(4-i), p.Balance)
	}

	balance, err := ledger.Balance(ctx, "ctr-1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), balance)

	entries, err := ledger.Entries(ctx, "ctr-1")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, credit.ReasonPurchase, entries[0].Reason, "oldest first")
	assert.True(t, entries[1].IsDebit())
	assertConsistent(t, ledger, "ctr-1")
}

func TestLedger_DebitNeverGoesNegative(t *testing.T) {
	// GIVEN: A contractor with 1 credit
	// WHEN: Debiting 2
	// THEN: InsufficientCreditError, nothing written
	ledger, _ := newTestLedger(t, "ctr-1")
	ctx := context.Background()

	_, err := ledger.Credit(ctx, "ctr-1", 1, credit.ReasonPurchase, "s", credit.PurchaseKey("s"))
	require.NoError(t, err)

	_, err = ledger.Debit(ctx, "ctr-1", 2, credit.ReasonAdjustment, "", "")
	require.ErrorIs(t, err, credit.ErrInsufficientCredit)

	var insErr *credit.InsufficientCreditError
	require.ErrorAs(t, err, &insErr)
	assert.Equal(t, int64(1), insErr.Available)
	assert.Equal(t, int64(2), insErr.Requested)

	entries, err := ledger.Entries(ctx, "ctr-1")
	require.NoError(t, err)
	assert.Len(t, entries, 1, "failed debit leaves no entry")
	assertConsistent(t, ledger, "ctr-1")
}

func TestLedger_IdempotencyKeyAppliedOnce(t *testing.T) {
	// GIVEN: A purchase webhook delivered twice
	// WHEN: Both deliveries are credited
	// THEN: The second is a replay and the balance moves once
	ledger, _ := newTestLedger(t, "ctr-1")
	ctx := context.Background()

	first, err := ledger.Credit(ctx, "ctr-1", 10, credit.ReasonPurchase, "sess-9", credit.PurchaseKey("sess-9"))
	require.NoError(t, err)
	second, err := ledger.Credit(ctx, "ctr-1", 10, credit.ReasonPurchase, "sess-9", credit.PurchaseKey("sess-9"))
	require.NoError(t, err)

	assert.True(t, first.Applied)
	assert.False(t, second.Applied)
	assert.Equal(t, first.EntryID, second.EntryID)
	assert.Equal(t, int64(10), second.Balance)
	assertConsistent(t, ledger, "ctr-1")
}

func TestLedger_StoreRejectsDuplicateKey(t *testing.T) {
	// GIVEN: An entry already recorded under a key
	// WHEN: The store is asked to apply another entry with the same key
	// THEN: ErrDuplicateIdempotencyKey and the balance is unchanged
	ledger, store := newTestLedger(t, "ctr-1")
	ctx := context.Background()

	_, err := ledger.Credit(ctx, "ctr-1", 3, credit.ReasonPurchase, "s", "k")
	require.NoError(t, err)

	_, err = store.ApplyEntry(ctx, credit.Entry{
		ID: "dup", ContractorID: "ctr-1", Delta: 3, Reason: credit.ReasonPurchase,
		IdempotencyKey: "k", CreatedAt: time.Now(),
	})
	assert.ErrorIs(t, err, credit.ErrDuplicateIdempotencyKey)
	assertConsistent(t, ledger, "ctr-1")
}

func TestLedger_InvalidAmountAndUnknownContractor(t *testing.T) {
	ledger, _ := newTestLedger(t, "ctr-1")
	ctx := context.Background()

	_, err := ledger.Debit(ctx, "ctr-1", 0, credit.ReasonAdjustment, "", "")
	assert.ErrorIs(t, err, credit.ErrInvalidAmount)
	_, err = ledger.Credit(ctx, "ctr-1", -4, credit.ReasonAdjustment, "", "")
	assert.ErrorIs(t, err, credit.ErrInvalidAmount)

	_, err = ledger.Credit(ctx, "ghost", 1, credit.ReasonPurchase, "", "")
	assert.ErrorIs(t, err, credit.ErrContractorNotFound)
}

func TestLedger_RefundKeyPerAssignment(t *testing.T) {
	// GIVEN: An assignment debit
	// WHEN: The expiry refund is applied twice (sweep re-run)
	// THEN: Exactly one refund
	ledger, _ := newTestLedger(t, "ctr-1")
	ctx := context.Background()

	_, err := ledger.Credit(ctx, "ctr-1", 1, credit.ReasonPurchase, "s", credit.PurchaseKey("s"))
	require.NoError(t, err)
	_, err = ledger.Debit(ctx, "ctr-1", 1, credit.ReasonLeadAssignment, "a-1", credit.AssignmentDebitKey("a-1"))
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err = ledger.Credit(ctx, "ctr-1", 1, credit.ReasonExpiryRefund, "a-1", credit.ExpiryRefundKey("a-1"))
		require.NoError(t, err)
	}

	balance, err := ledger.Balance(ctx, "ctr-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), balance)
	assertConsistent(t, ledger, "ctr-1")
}
