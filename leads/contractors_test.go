package leads_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadflow/lead-engine/credit"
	"github.com/leadflow/lead-engine/factory"
	"github.com/leadflow/lead-engine/leads"
	"github.com/leadflow/lead-engine/notify"
)

func TestRegisterAndApproveContractor(t *testing.T) {
	// GIVEN: An admin address is configured
	// WHEN: A contractor registers and is approved
	// THEN: The admin is notified and the contractor becomes eligible
	settings := leads.DefaultSettings()
	settings.AdminEmail = "admin@example.com"
	f := newFixture(t, leads.WithSettings(settings))

	reg, err := f.engine.RegisterContractor(f.ctx, leads.ContractorInput{
		BusinessName: "Acme Roofing",
		Email:        "Office@Acme.example",
		Phone:        "512-867-5309",
		ServiceAreas: []leads.ServiceArea{{State: "TX", City: "Austin"}},
	})
	require.NoError(t, err)
	c := reg.Contractor
	assert.Equal(t, leads.ApprovalPending, c.Approval)
	assert.Equal(t, leads.DeliveryEmail, c.Delivery)
	assert.Equal(t, "office@acme.example", c.Contact.Email)
	assert.Equal(t, "+15128675309", c.Contact.Phone)

	msgs := f.notes.byTemplate(notify.TemplateAdminRegistration)
	require.Len(t, msgs, 1)
	assert.Equal(t, "admin@example.com", msgs[0].To)
	assert.Equal(t, c.ID, msgs[0].Data["ContractorID"])

	approved, err := f.engine.ApproveContractor(f.ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, leads.ApprovalApproved, approved.Approval)

	again, err := f.engine.ApproveContractor(f.ctx, c.ID)
	require.NoError(t, err, "approving twice is a no-op")
	assert.Equal(t, leads.ApprovalApproved, again.Approval)

	_, err = f.engine.ApproveContractor(f.ctx, "missing")
	assert.ErrorIs(t, err, leads.ErrNotFound)
}

func TestRegisterContractor_Validation(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.RegisterContractor(f.ctx, leads.ContractorInput{
		BusinessName: "No Areas", Email: "x@example.com",
	})
	assert.ErrorIs(t, err, leads.ErrValidation)

	_, err = f.engine.RegisterContractor(f.ctx, leads.ContractorInput{
		BusinessName: "Half Area", Email: "x@example.com",
		ServiceAreas: []leads.ServiceArea{{State: "TX"}},
	})
	var verr *leads.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "service_areas[0]", verr.Field)

	_, err = f.engine.RegisterContractor(f.ctx, leads.ContractorInput{
		BusinessName: "Bad Delivery", Email: "x@example.com", Delivery: "pigeon",
		ServiceAreas: []leads.ServiceArea{{State: "TX", City: "Austin"}},
	})
	assert.ErrorIs(t, err, leads.ErrValidation)
}

func TestApplyCreditPurchase_RedeliveryIsNoOp(t *testing.T) {
	f := newFixture(t)
	f.contractor("a", contractorSpec{})
	p := leads.Purchase{ContractorID: "a", PackageID: "starter", Credits: 10, ExternalSessionID: "cs_123"}

	first, err := f.engine.ApplyCreditPurchase(f.ctx, p)
	require.NoError(t, err)
	assert.True(t, first.Applied)
	assert.Equal(t, int64(10), first.Balance)

	second, err := f.engine.ApplyCreditPurchase(f.ctx, p)
	require.NoError(t, err)
	assert.False(t, second.Applied)
	assert.Equal(t, int64(10), second.Balance)

	report, err := f.engine.LedgerAudit(f.ctx, "a")
	require.NoError(t, err)
	assert.True(t, report.Audit.Consistent())
	assert.Len(t, report.Entries, 1)
}

func TestApplyCreditPurchase_Catalog(t *testing.T) {
	catalog, err := factory.ParseCatalog(`{"packages": [{"id": "starter", "credits": 10, "price": "49.00"}]}`)
	require.NoError(t, err)
	f := newFixture(t, leads.WithCatalog(catalog))
	f.contractor("a", contractorSpec{})

	_, err = f.engine.ApplyCreditPurchase(f.ctx, leads.Purchase{ContractorID: "a", PackageID: "gold", Credits: 10, ExternalSessionID: "s1"})
	assert.ErrorIs(t, err, leads.ErrValidation)

	_, err = f.engine.ApplyCreditPurchase(f.ctx, leads.Purchase{ContractorID: "a", PackageID: "starter", Credits: 99, ExternalSessionID: "s2"})
	assert.ErrorIs(t, err, leads.ErrValidation)

	_, err = f.engine.ApplyCreditPurchase(f.ctx, leads.Purchase{ContractorID: "ghost", PackageID: "starter", Credits: 10, ExternalSessionID: "s3"})
	assert.ErrorIs(t, err, leads.ErrNotFound)

	posting, err := f.engine.ApplyCreditPurchase(f.ctx, leads.Purchase{ContractorID: "a", PackageID: "starter", Credits: 10, ExternalSessionID: "s4"})
	require.NoError(t, err)
	assert.Equal(t, int64(10), posting.Balance)
}

func TestHTTPStatus(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.ApproveContractor(f.ctx, "missing")
	assert.Equal(t, 404, leads.HTTPStatus(err))

	_, err = f.engine.CreateLead(f.ctx, leads.LeadInput{})
	assert.Equal(t, 400, leads.HTTPStatus(err))
	assert.True(t, leads.IsClientError(err))
	assert.False(t, leads.IsRetryable(err))
}

func TestAdjustCredits(t *testing.T) {
	f := newFixture(t)
	f.contractor("a", contractorSpec{credits: 1})

	_, err := f.engine.AdjustCredits(f.ctx, leads.Adjustment{ContractorID: "a", Delta: -2, Reference: "chargeback-1"})
	assert.ErrorIs(t, err, credit.ErrInsufficientCredit)
	assert.ErrorIs(t, err, leads.ErrResourceExhausted)
	assert.Equal(t, http.StatusUnprocessableEntity, leads.HTTPStatus(err))
	assert.Equal(t, int64(1), f.balance("a"))

	posting, err := f.engine.AdjustCredits(f.ctx, leads.Adjustment{ContractorID: "a", Delta: 4, Reference: "goodwill-1"})
	require.NoError(t, err)
	assert.True(t, posting.Applied)
	assert.Equal(t, int64(5), posting.Balance)

	again, err := f.engine.AdjustCredits(f.ctx, leads.Adjustment{ContractorID: "a", Delta: 4, Reference: "goodwill-1"})
	require.NoError(t, err)
	assert.False(t, again.Applied, "same reference applies once")
	assert.Equal(t, int64(5), f.balance("a"))

	_, err = f.engine.AdjustCredits(f.ctx, leads.Adjustment{ContractorID: "a", Delta: 0, Reference: "zero"})
	assert.ErrorIs(t, err, leads.ErrValidation)
	_, err = f.engine.AdjustCredits(f.ctx, leads.Adjustment{ContractorID: "ghost", Delta: 1, Reference: "x"})
	assert.ErrorIs(t, err, leads.ErrNotFound)

	f.requireLedgerConsistent("a")
}

func TestRunSweep_Names(t *testing.T) {
	f := newFixture(t)
	for _, name := range leads.SweepNames {
		res, err := f.engine.RunSweep(f.ctx, name)
		require.NoError(t, err)
		assert.Equal(t, name, res.Sweep)
	}
	_, err := f.engine.RunSweep(f.ctx, "nightly")
	assert.ErrorIs(t, err, leads.ErrValidation)
}
