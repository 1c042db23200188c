/*
eligibility.go - Contractor Eligibility Index

PURPOSE:
  Turns the contractors whose service areas cover a lead into an ordered
  list of eligible contractors. Read-only; an empty result is a valid
  outcome, not an error.

FILTERS:
  - approval status is approved
  - credit balance >= 1
  - delivery preference is not "none"
  - not in the exclusion set
  - service area covers the lead (city tier, then county tier when
    CountyFallback is on)

ORDERING:
  City matches always come before county matches. Within a tier,
  QuoteRandom shuffles; every other preference sorts by rating desc,
  then balance desc, then id for a stable result.
*/
package leads

import (
	"context"
	"fmt"
	"sort"
)

type EligibilityIndex struct {
	Source         CandidateSource
	CountyFallback bool
	Shuffle        func([]Candidate)
}

// FindEligibleContractors returns eligible contractors for lead, best first.
func (x *EligibilityIndex) FindEligibleContractors(ctx context.Context, lead Lead, exclude map[string]bool) ([]Contractor, error) {
	candidates, err := x.Source.ListAreaCandidates(ctx, lead.Location)
	if err != nil {
		return nil, transient(fmt.Sprintf("list candidates for lead %s", lead.ID), err)
	}
	return RankCandidates(candidates, RankOptions{
		Preference:     lead.QuotePreference,
		Exclude:        exclude,
		CountyFallback: x.CountyFallback,
		Shuffle:        x.Shuffle,
	}), nil
}

type RankOptions struct {
	Preference     QuotePreference
	Exclude        map[string]bool
	CountyFallback bool
	Shuffle        func([]Candidate) // nil keeps source order for QuoteRandom
}

// RankCandidates filters and orders candidates. A contractor listed under
// several tiers is kept once, in its best tier.
func RankCandidates(candidates []Candidate, opts RankOptions) []Contractor {
	best := make(map[string]Candidate, len(candidates))
	var order []string
	for _, c := range candidates {
		if !eligible(c, opts) {
			continue
		}
		prev, seen := best[c.Contractor.ID]
		if !seen {
			order = append(order, c.Contractor.ID)
			best[c.Contractor.ID] = c
			continue
		}
		if c.Tier < prev.Tier {
			best[c.Contractor.ID] = c
		}
	}

	var city, county []Candidate
	for _, id := range order {
		c := best[id]
		if c.Tier == TierCity {
			city = append(city, c)
		} else {
			county = append(county, c)
		}
	}

	out := make([]Contractor, 0, len(order))
	for _, tier := range [][]Candidate{city, county} {
		orderTier(tier, opts)
		for _, c := range tier {
			out = append(out, c.Contractor)
		}
	}
	return out
}

func eligible(c Candidate, opts RankOptions) bool {
	ct := c.Contractor
	switch {
	case ct.Approval != ApprovalApproved:
		return false
	case ct.CreditBalance < 1:
		return false
	case ct.Delivery == DeliveryNone || !ct.Delivery.Valid():
		return false
	case opts.Exclude[ct.ID]:
		return false
	case c.Tier == TierCounty && !opts.CountyFallback:
		return false
	}
	return true
}

func orderTier(tier []Candidate, opts RankOptions) {
	if opts.Preference == QuoteRandom {
		if opts.Shuffle != nil {
			opts.Shuffle(tier)
		}
		return
	}
	sort.SliceStable(tier, func(i, j int) bool {
		a, b := tier[i].Contractor, tier[j].Contractor
		if c := a.Rating.Cmp(b.Rating); c != 0 {
			return c > 0
		}
		if a.CreditBalance != b.CreditBalance {
			return a.CreditBalance > b.CreditBalance
		}
		return a.ID < b.ID
	})
}

// ContractorIDs extracts ids in order.
func ContractorIDs(cs []Contractor) []string {
	ids := make([]string, len(cs))
	for i, c := range cs {
		ids[i] = c.ID
	}
	return ids
}
