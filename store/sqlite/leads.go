package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/leadflow/lead-engine/leads"
)

// =============================================================================
// LEADS
// =============================================================================

func (s *Store) CreateLead(ctx context.Context, l leads.Lead) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO leads (id, customer_name, customer_email, customer_phone, state, city, county,
			postal_code, project_type, description, budget, timeline, quote_preference, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.Customer.Name, l.Customer.Email, l.Customer.Phone,
		l.Location.State, l.Location.City, l.Location.County, l.Location.PostalCode,
		l.ProjectType, l.Description, l.Budget, l.Timeline, string(l.QuotePreference),
		formatTime(l.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert lead: %w", err)
	}
	return nil
}

func (s *Store) GetLead(ctx context.Context, id string) (*leads.Lead, error) {
	var (
		l         leads.Lead
		pref      string
		createdAt string
	)
	err := s.q.QueryRowContext(ctx, `
		SELECT id, customer_name, customer_email, customer_phone, state, city, county,
			postal_code, project_type, description, budget, timeline, quote_preference, created_at
		FROM leads WHERE id = ?`, id,
	).Scan(&l.ID, &l.Customer.Name, &l.Customer.Email, &l.Customer.Phone,
		&l.Location.State, &l.Location.City, &l.Location.County, &l.Location.PostalCode,
		&l.ProjectType, &l.Description, &l.Budget, &l.Timeline, &pref, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	l.QuotePreference = leads.QuotePreference(pref)
	if l.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("lead %s: %w", id, err)
	}
	return &l, nil
}

func (s *Store) FlagLead(ctx context.Context, leadID string, flag leads.LeadFlag, at time.Time) (bool, error) {
	return changed(s.q.ExecContext(ctx, `
		INSERT OR IGNORE INTO lead_flags (lead_id, flag, flagged_at) VALUES (?, ?, ?)`,
		leadID, string(flag), formatTime(at),
	))
}

func (s *Store) LeadFlags(ctx context.Context, leadID string) ([]leads.LeadFlag, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT flag FROM lead_flags WHERE lead_id = ? ORDER BY flagged_at, flag`, leadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var flags []leads.LeadFlag
	for rows.Next() {
		var f string
		if err := rows.Scan(&f); err != nil {
			return nil, err
		}
		flags = append(flags, leads.LeadFlag(f))
	}
	return flags, rows.Err()
}

// =============================================================================
// CONTRACTORS
// =============================================================================

// CreateContractor inserts a contractor with its service areas. The balance
// always starts at zero; credits arrive through the ledger.
func (s *Store) CreateContractor(ctx context.Context, c leads.Contractor) error {
	return s.atomic(ctx, func(tx *Store) error {
		_, err := tx.q.ExecContext(ctx, `
			INSERT INTO contractors (id, business_name, contact_name, email, phone, approval,
				credit_balance, delivery, rating, review_count, created_at)
			VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?, 0, ?)`,
			c.ID, c.BusinessName, c.Contact.Name, c.Contact.Email, c.Contact.Phone,
			string(c.Approval), string(c.Delivery), c.Rating.StringFixed(2), formatTime(c.CreatedAt),
		)
		if err != nil {
			return fmt.Errorf("insert contractor: %w", err)
		}
		for _, a := range c.ServiceAreas {
			_, err := tx.q.ExecContext(ctx, `
				INSERT OR IGNORE INTO contractor_service_areas (contractor_id, state, city, county)
				VALUES (?, ?, ?, ?)`,
				c.ID, a.State, a.City, a.County,
			)
			if err != nil {
				return fmt.Errorf("insert service area: %w", err)
			}
		}
		return nil
	})
}

const contractorColumns = `c.id, c.business_name, c.contact_name, c.email, c.phone, c.approval,
	c.credit_balance, c.delivery, c.rating, c.review_count, c.created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanContractor(row rowScanner, extra ...any) (leads.Contractor, error) {
	var (
		c         leads.Contractor
		approval  string
		delivery  string
		rating    string
		createdAt string
	)
	dest := []any{&c.ID, &c.BusinessName, &c.Contact.Name, &c.Contact.Email, &c.Contact.Phone,
		&approval, &c.CreditBalance, &delivery, &rating, &c.ReviewCount, &createdAt}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return leads.Contractor{}, err
	}
	c.Approval = leads.ApprovalStatus(approval)
	c.Delivery = leads.DeliveryPreference(delivery)
	r, err := decimal.NewFromString(rating)
	if err != nil {
		return leads.Contractor{}, fmt.Errorf("contractor %s rating: %w", c.ID, err)
	}
	c.Rating = r
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return leads.Contractor{}, fmt.Errorf("contractor %s: %w", c.ID, err)
	}
	return c, nil
}

func (s *Store) GetContractor(ctx context.Context, id string) (*leads.Contractor, error) {
	c, err := scanContractor(s.q.QueryRowContext(ctx,
		`SELECT `+contractorColumns+` FROM contractors c WHERE c.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if c.ServiceAreas, err = s.serviceAreas(ctx, id); err != nil {
		return nil, err
	}
	return &c, nil
}

// ListContractors returns every contractor ordered by creation.
func (s *Store) ListContractors(ctx context.Context) ([]leads.Contractor, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+contractorColumns+` FROM contractors c ORDER BY c.created_at, c.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []leads.Contractor
	for rows.Next() {
		c, err := scanContractor(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) serviceAreas(ctx context.Context, contractorID string) ([]leads.ServiceArea, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT state, city, county FROM contractor_service_areas
		WHERE contractor_id = ? ORDER BY state, city, county`, contractorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var areas []leads.ServiceArea
	for rows.Next() {
		var a leads.ServiceArea
		if err := rows.Scan(&a.State, &a.City, &a.County); err != nil {
			return nil, err
		}
		areas = append(areas, a)
	}
	return areas, rows.Err()
}

func (s *Store) ApproveContractor(ctx context.Context, id string) (bool, error) {
	return changed(s.q.ExecContext(ctx, `
		UPDATE contractors SET approval = ? WHERE id = ? AND approval = ?`,
		string(leads.ApprovalApproved), id, string(leads.ApprovalPending),
	))
}

func (s *Store) UpdateRating(ctx context.Context, contractorID string, rating decimal.Decimal, reviewCount int) error {
	ok, err := changed(s.q.ExecContext(ctx, `
		UPDATE contractors SET rating = ?, review_count = ? WHERE id = ?`,
		rating.StringFixed(2), reviewCount, contractorID,
	))
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("contractor %s: %w", contractorID, leads.ErrNotFound)
	}
	return nil
}

// ListAreaCandidates returns approved contractors serving the location by
// city (tier 0) or by county (tier 1). State, city and county compare
// case-insensitively.
func (s *Store) ListAreaCandidates(ctx context.Context, loc leads.Location) ([]leads.Candidate, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+contractorColumns+`, 0 AS tier
		FROM contractors c
		JOIN contractor_service_areas a ON a.contractor_id = c.id
		WHERE c.approval = ? AND a.state = ? AND a.city <> '' AND a.city = ?
		UNION ALL
		SELECT `+contractorColumns+`, 1 AS tier
		FROM contractors c
		JOIN contractor_service_areas a ON a.contractor_id = c.id
		WHERE c.approval = ? AND a.state = ? AND a.county <> '' AND a.county = ?
		ORDER BY tier, id`,
		string(leads.ApprovalApproved), loc.State, loc.City,
		string(leads.ApprovalApproved), loc.State, loc.County,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []leads.Candidate
	for rows.Next() {
		var tier int
		c, err := scanContractor(rows, &tier)
		if err != nil {
			return nil, err
		}
		out = append(out, leads.Candidate{Contractor: c, Tier: leads.MatchTier(tier)})
	}
	return out, rows.Err()
}
