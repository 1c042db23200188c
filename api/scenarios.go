/*
scenarios.go - Demo scenario loaders for local runs and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with approved,
	funded contractors so leads can be posted against a fresh server.

AVAILABLE SCENARIOS:

	two-cities:       Austin and Dallas contractors, all funded
	low-credit:       Austin contractors with 0 or 1 credit (skips, refunds)
	county-fallback:  Only county-level coverage for Travis county

HOW SCENARIOS WORK:
 1. Reset database (clear all data, ledger included)
 2. Register contractors through the engine
 3. Approve them
 4. Fund them with admin adjustments (adjust:<reference> keys)

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "two-cities"}

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Handler and envelope helpers
  - leads/purchases.go: AdjustCredits
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/leadflow/lead-engine/leads"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

type demoContractor struct {
	business string
	email    string
	area     leads.ServiceArea
	credits  int64
	delivery leads.DeliveryPreference
}

type scenario struct {
	ScenarioDTO
	contractors []demoContractor
}

var scenarios = []scenario{
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "two-cities",
			Name:        "Two Cities",
			Description: "Three Austin and two Dallas contractors with 10 credits each",
		},
		contractors: []demoContractor{
			{"Hill Country Roofing", "hill@example.com", leads.ServiceArea{State: "TX", City: "Austin", County: "Travis"}, 10, leads.DeliveryEmail},
			{"Lone Star Plumbing", "lonestar@example.com", leads.ServiceArea{State: "TX", City: "Austin", County: "Travis"}, 10, leads.DeliveryAll},
			{"Barton Creek Builders", "barton@example.com", leads.ServiceArea{State: "TX", City: "Austin", County: "Travis"}, 10, leads.DeliveryEmail},
			{"Trinity Electric", "trinity@example.com", leads.ServiceArea{State: "TX", City: "Dallas", County: "Dallas"}, 10, leads.DeliveryEmail},
			{"Deep Ellum Remodeling", "deepellum@example.com", leads.ServiceArea{State: "TX", City: "Dallas", County: "Dallas"}, 10, leads.DeliveryEmail},
		},
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "low-credit",
			Name:        "Low Credit",
			Description: "Austin contractors with 0 and 1 credits to show skips and refunds",
		},
		contractors: []demoContractor{
			{"Empty Wallet HVAC", "empty@example.com", leads.ServiceArea{State: "TX", City: "Austin"}, 0, leads.DeliveryEmail},
			{"Last Credit Painting", "lastcredit@example.com", leads.ServiceArea{State: "TX", City: "Austin"}, 1, leads.DeliveryEmail},
			{"Plenty Landscaping", "plenty@example.com", leads.ServiceArea{State: "TX", City: "Austin"}, 5, leads.DeliveryEmail},
		},
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "county-fallback",
			Name:        "County Fallback",
			Description: "No city coverage; Travis county contractors pick up Austin leads",
		},
		contractors: []demoContractor{
			{"Travis County Fencing", "fencing@example.com", leads.ServiceArea{State: "TX", County: "Travis"}, 10, leads.DeliveryEmail},
			{"Pflugerville Pools", "pools@example.com", leads.ServiceArea{State: "TX", City: "Pflugerville", County: "Travis"}, 10, leads.DeliveryEmail},
		},
	},
}

func findScenario(id string) (scenario, bool) {
	for _, s := range scenarios {
		if s.ID == id {
			return s, true
		}
	}
	return scenario{}, false
}

// =============================================================================
// HANDLERS
// =============================================================================

// GET /api/scenarios
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	out := make([]ScenarioDTO, len(scenarios))
	for i, s := range scenarios {
		out[i] = s.ScenarioDTO
	}
	writeJSON(w, http.StatusOK, out)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
// GET /api/scenarios/current
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	s, ok := findScenario(current)
	if !ok {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	writeJSON(w, http.StatusOK, s.ScenarioDTO)
}

// LoadScenario resets the database and loads a predefined scenario.
// POST /api/scenarios/load
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !h.decode(w, r, &req) || !h.check(w, r, req) {
		return
	}
	s, ok := findScenario(req.ScenarioID)
	if !ok {
		writeJSON(w, http.StatusNotFound, Envelope{
			Error: &ErrorBody{Code: "not_found", Message: fmt.Sprintf("unknown scenario %q", req.ScenarioID)},
		})
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	contractors, err := h.loadScenario(r.Context(), s)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.currentScenario = s.ID
	h.Log.Info().Str("scenario", s.ID).Int("contractors", len(contractors)).Msg("scenario loaded")

	writeJSON(w, http.StatusOK, map[string]any{
		"scenario":    s.ScenarioDTO,
		"contractors": contractors,
	})
}

// =============================================================================
// SCENARIO LOADER
// =============================================================================

func (h *Handler) loadScenario(ctx context.Context, s scenario) ([]ContractorDTO, error) {
	if err := h.Store.Reset(ctx); err != nil {
		return nil, fmt.Errorf("reset database: %w", err)
	}

	out := make([]ContractorDTO, 0, len(s.contractors))
	for i, dc := range s.contractors {
		reg, err := h.Engine.RegisterContractor(ctx, leads.ContractorInput{
			BusinessName: dc.business,
			ContactName:  strings.Fields(dc.business)[0],
			Email:        dc.email,
			Phone:        fmt.Sprintf("+1512867%04d", 1000+i),
			Delivery:     dc.delivery,
			ServiceAreas: []leads.ServiceArea{dc.area},
		})
		if err != nil {
			return nil, fmt.Errorf("register %s: %w", dc.business, err)
		}
		c, err := h.Engine.ApproveContractor(ctx, reg.Contractor.ID)
		if err != nil {
			return nil, fmt.Errorf("approve %s: %w", dc.business, err)
		}
		if dc.credits > 0 {
			posting, err := h.Engine.AdjustCredits(ctx, leads.Adjustment{
				ContractorID: c.ID,
				Delta:        dc.credits,
				Reference:    fmt.Sprintf("scenario-%s-%d", s.ID, i),
			})
			if err != nil {
				return nil, fmt.Errorf("fund %s: %w", dc.business, err)
			}
			c.CreditBalance = posting.Balance
		}
		out = append(out, toContractorDTO(c))
	}
	return out, nil
}
