package leads_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadflow/lead-engine/leads"
	"github.com/leadflow/lead-engine/notify"
)

func TestAllocator_FanOutThree(t *testing.T) {
	// GIVEN: 4 eligible contractors
	// WHEN: A top_rated lead is allocated
	// THEN: The 3 best get a pending assignment and pay 1 credit each
	f := newFixture(t)
	f.contractor("a", contractorSpec{credits: 2, rating: "5"})
	f.contractor("b", contractorSpec{credits: 2, rating: "4"})
	f.contractor("c", contractorSpec{credits: 2, rating: "3"})
	f.contractor("d", contractorSpec{credits: 2, rating: "2"})
	lead := f.lead(leads.QuoteTopRated)

	res, err := f.engine.AssignLeadToContractors(f.ctx, lead)
	require.NoError(t, err)

	assert.Equal(t, 3, res.Requested)
	assert.Equal(t, 4, res.Eligible)
	assert.Equal(t, 3, res.Created)
	assert.Equal(t, []string{"a", "b", "c"}, res.ContractorIDs)
	assert.False(t, res.Unfulfilled)

	for _, id := range []string{"a", "b", "c"} {
		a := f.assignmentFor(lead.ID, id)
		assert.Equal(t, leads.StatusPending, a.Status)
		assert.Equal(t, int64(1), f.balance(id))
	}
	assert.Equal(t, int64(2), f.balance("d"))
	assert.Len(t, f.notes.byTemplate(notify.TemplateNewLead), 3)
	f.requireLedgerConsistent("a", "b", "c", "d")
}

func TestAllocator_DirectQuoteSingleContractor(t *testing.T) {
	f := newFixture(t)
	f.contractor("a", contractorSpec{credits: 1, rating: "5"})
	f.contractor("b", contractorSpec{credits: 1, rating: "4"})
	lead := f.lead(leads.QuoteDirect)

	res, err := f.engine.AssignLeadToContractors(f.ctx, lead)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Requested)
	assert.Equal(t, []string{"a"}, res.ContractorIDs)
}

func TestAllocator_FewerEligibleThanFanOut(t *testing.T) {
	// GIVEN: Only 2 eligible contractors, fan-out 3
	// WHEN: Allocating
	// THEN: Exactly 2 assignments, reported as success
	f := newFixture(t)
	f.contractor("a", contractorSpec{credits: 1})
	f.contractor("b", contractorSpec{credits: 1})
	f.contractor("poor", contractorSpec{credits: 0})
	lead := f.lead(leads.QuoteRandom)

	res, err := f.engine.AssignLeadToContractors(f.ctx, lead)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Created)
	assert.Len(t, res.ContractorIDs, 2)
	assert.False(t, res.Unfulfilled)

	assignments, err := f.store.ListAssignmentsByLead(f.ctx, lead.ID)
	require.NoError(t, err)
	assert.Len(t, assignments, 2)
}

func TestAllocator_NoEligibleFlagsUnfulfilled(t *testing.T) {
	// GIVEN: Nobody serves the area
	// WHEN: Allocating
	// THEN: No error, the lead is flagged unfulfilled once
	f := newFixture(t)
	f.contractor("dallas", contractorSpec{city: "Dallas", credits: 5})
	lead := f.lead(leads.QuoteRandom)

	res, err := f.engine.AssignLeadToContractors(f.ctx, lead)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Created)
	assert.True(t, res.Unfulfilled)
	assert.Empty(t, res.ContractorIDs)

	flags, err := f.store.LeadFlags(f.ctx, lead.ID)
	require.NoError(t, err)
	assert.Equal(t, []leads.LeadFlag{leads.FlagUnfulfilled}, flags)

	report, err := f.engine.LeadStatus(f.ctx, lead.ID)
	require.NoError(t, err)
	assert.Equal(t, leads.StateExhausted, report.State)
}

func TestAllocator_SecondRunSkipsExistingPairs(t *testing.T) {
	// GIVEN: A lead already allocated
	// WHEN: The allocator runs again for the same lead
	// THEN: No duplicate assignment and no extra debit
	f := newFixture(t)
	f.contractor("a", contractorSpec{credits: 5})
	lead := f.lead(leads.QuoteRandom)

	_, err := f.engine.AssignLeadToContractors(f.ctx, lead)
	require.NoError(t, err)
	res, err := f.engine.AssignLeadToContractors(f.ctx, lead)
	require.NoError(t, err)

	assert.Equal(t, 0, res.Created)
	require.Len(t, res.Skipped, 1)
	assert.Equal(t, leads.SkipDuplicate, res.Skipped[0].Reason)
	assert.Equal(t, int64(4), f.balance("a"))
	f.requireLedgerConsistent("a")
}

func TestAllocator_NotificationFailureKeepsAssignment(t *testing.T) {
	f := newFixture(t)
	f.notes.fail = errDown
	f.contractor("a", contractorSpec{credits: 1})
	lead := f.lead(leads.QuoteRandom)

	res, err := f.engine.AssignLeadToContractors(f.ctx, lead)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)
	require.Len(t, res.Notifications, 1)
	assert.False(t, res.Notifications[0].Sent)
	assert.Contains(t, res.Notifications[0].Error, "smtp down")
	assert.Equal(t, leads.StatusPending, f.assignmentFor(lead.ID, "a").Status)
}

func TestAllocator_SkipsDeliveryNone(t *testing.T) {
	f := newFixture(t)
	f.contractor("quiet", contractorSpec{credits: 1, delivery: leads.DeliveryNone})
	f.contractor("pending", contractorSpec{credits: 1, approval: leads.ApprovalPending})
	lead := f.lead(leads.QuoteRandom)

	res, err := f.engine.AssignLeadToContractors(f.ctx, lead)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Created)
	assert.Equal(t, 0, res.Eligible)
}
