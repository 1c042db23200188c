package leads

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/leadflow/lead-engine/notify"
)

type ContractorInput struct {
	BusinessName string             `json:"business_name" validate:"required,max=200"`
	ContactName  string             `json:"contact_name" validate:"max=200"`
	Email        string             `json:"email" validate:"required,email,max=254"`
	Phone        string             `json:"phone" validate:"omitempty,max=32"`
	Delivery     DeliveryPreference `json:"delivery"`
	ServiceAreas []ServiceArea      `json:"service_areas" validate:"required,min=1,dive"`
}

type RegistrationResult struct {
	Contractor    Contractor     `json:"contractor"`
	Notifications []Notification `json:"notifications,omitempty"`
}

// RegisterContractor stores a contractor awaiting approval and tells the
// admin about it.
func (e *Engine) RegisterContractor(ctx context.Context, in ContractorInput) (RegistrationResult, error) {
	in.BusinessName = strings.TrimSpace(in.BusinessName)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	if in.Delivery == "" {
		in.Delivery = DeliveryEmail
	}
	if err := e.checkStruct(in); err != nil {
		return RegistrationResult{}, err
	}
	if !in.Delivery.Valid() {
		return RegistrationResult{}, invalid("delivery", "must be email, sms, all or none")
	}
	areas := make([]ServiceArea, 0, len(in.ServiceAreas))
	for i, a := range in.ServiceAreas {
		a = ServiceArea{
			State:  strings.TrimSpace(a.State),
			City:   strings.TrimSpace(a.City),
			County: strings.TrimSpace(a.County),
		}
		if a.State == "" || (a.City == "" && a.County == "") {
			return RegistrationResult{}, invalid(fmt.Sprintf("service_areas[%d]", i), "state and a city or county are required")
		}
		areas = append(areas, a)
	}
	phone, err := normalizePhone(in.Phone, e.settings.PhoneRegion)
	if err != nil {
		return RegistrationResult{}, err
	}

	c := Contractor{
		ID:           e.newID(),
		BusinessName: in.BusinessName,
		Contact:      Contact{Name: strings.TrimSpace(in.ContactName), Email: in.Email, Phone: phone},
		Approval:     ApprovalPending,
		ServiceAreas: areas,
		Delivery:     in.Delivery,
		Rating:       decimal.Zero,
		CreatedAt:    e.now(),
	}
	if err := e.store.CreateContractor(ctx, c); err != nil {
		return RegistrationResult{}, transient("create contractor", err)
	}
	e.log.Info().Str("contractor_id", c.ID).Str("business", c.BusinessName).Msg("contractor registered")

	res := RegistrationResult{Contractor: c}
	if e.settings.AdminEmail != "" {
		res.Notifications = e.notify(ctx, notify.TemplateAdminRegistration, []string{e.settings.AdminEmail}, map[string]any{
			"BusinessName": c.BusinessName,
			"Email":        c.Contact.Email,
			"ContractorID": c.ID,
		})
	}
	return res, nil
}

// ApproveContractor moves pending_approval to approved. Approving an
// approved contractor is a no-op.
func (e *Engine) ApproveContractor(ctx context.Context, id string) (Contractor, error) {
	ok, err := e.store.ApproveContractor(ctx, id)
	if err != nil {
		return Contractor{}, transient("approve contractor", err)
	}
	c, err := e.store.GetContractor(ctx, id)
	if err != nil {
		return Contractor{}, transient("get contractor", err)
	}
	if c == nil {
		return Contractor{}, notFound("contractor", id)
	}
	if !ok && c.Approval != ApprovalApproved {
		return Contractor{}, fmt.Errorf("contractor %s is %s: %w", id, c.Approval, ErrConflict)
	}
	if ok {
		e.log.Info().Str("contractor_id", id).Msg("contractor approved")
	}
	return *c, nil
}

// GetContractor returns a contractor or ErrNotFound.
func (e *Engine) GetContractor(ctx context.Context, id string) (Contractor, error) {
	c, err := e.store.GetContractor(ctx, id)
	if err != nil {
		return Contractor{}, transient("get contractor", err)
	}
	if c == nil {
		return Contractor{}, notFound("contractor", id)
	}
	return *c, nil
}
