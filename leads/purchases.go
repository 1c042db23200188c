package leads

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/leadflow/lead-engine/credit"
	"github.com/leadflow/lead-engine/metrics"
)

// Purchase is a payment-gateway webhook payload whose signature was already
// verified upstream.
type Purchase struct {
	ContractorID      string `json:"contractor_id" validate:"required"`
	PackageID         string `json:"package_id"`
	Credits           int64  `json:"credits" validate:"gt=0"`
	ExternalSessionID string `json:"external_session_id" validate:"required"`
}

// ApplyCreditPurchase credits a purchase once per payment session.
// Redelivery returns the current balance with Applied=false.
func (e *Engine) ApplyCreditPurchase(ctx context.Context, p Purchase) (credit.Posting, error) {
	p.ExternalSessionID = strings.TrimSpace(p.ExternalSessionID)
	if err := e.checkStruct(p); err != nil {
		return credit.Posting{}, err
	}
	if e.catalog != nil {
		pkg, ok := e.catalog.Lookup(p.PackageID)
		if !ok {
			return credit.Posting{}, invalid("package_id", "unknown package")
		}
		if pkg.Credits != p.Credits {
			return credit.Posting{}, invalid("credits", fmt.Sprintf("package %s grants %d credits", pkg.ID, pkg.Credits))
		}
	}

	posting, err := e.ledger(e.store).Credit(ctx, p.ContractorID, p.Credits, credit.ReasonPurchase,
		p.ExternalSessionID, credit.PurchaseKey(p.ExternalSessionID))
	switch {
	case errors.Is(err, credit.ErrContractorNotFound):
		return credit.Posting{}, notFound("contractor", p.ContractorID)
	case err != nil:
		return credit.Posting{}, transient("credit purchase", err)
	}

	if posting.Applied {
		metrics.CreditsMoved.WithLabelValues(string(credit.ReasonPurchase)).Add(float64(p.Credits))
	}
	e.log.Info().
		Str("contractor_id", p.ContractorID).
		Str("session_id", p.ExternalSessionID).
		Int64("credits", p.Credits).
		Int64("balance", posting.Balance).
		Bool("applied", posting.Applied).
		Msg("credit purchase")
	return posting, nil
}

// Adjustment is a manual admin correction. Reference makes it idempotent.
type Adjustment struct {
	ContractorID string `json:"contractor_id" validate:"required"`
	Delta        int64  `json:"delta" validate:"ne=0"`
	Reference    string `json:"reference" validate:"required,max=200"`
}

// AdjustCredits credits (delta > 0) or debits (delta < 0) a contractor,
// keyed adjust:<reference>. A debit never takes the balance below zero.
func (e *Engine) AdjustCredits(ctx context.Context, adj Adjustment) (credit.Posting, error) {
	adj.Reference = strings.TrimSpace(adj.Reference)
	if err := e.checkStruct(adj); err != nil {
		return credit.Posting{}, err
	}
	l := e.ledger(e.store)
	key := credit.AdjustmentKey(adj.Reference)

	var posting credit.Posting
	var err error
	if adj.Delta > 0 {
		posting, err = l.Credit(ctx, adj.ContractorID, adj.Delta, credit.ReasonAdjustment, adj.Reference, key)
	} else {
		posting, err = l.Debit(ctx, adj.ContractorID, -adj.Delta, credit.ReasonAdjustment, adj.Reference, key)
	}
	switch {
	case errors.Is(err, credit.ErrContractorNotFound):
		return credit.Posting{}, notFound("contractor", adj.ContractorID)
	case errors.Is(err, credit.ErrInsufficientCredit):
		return credit.Posting{}, exhausted("credit adjustment", err)
	case err != nil:
		return credit.Posting{}, transient("credit adjustment", err)
	}

	if posting.Applied {
		metrics.CreditsMoved.WithLabelValues(string(credit.ReasonAdjustment)).Add(float64(abs(adj.Delta)))
	}
	e.log.Info().
		Str("contractor_id", adj.ContractorID).
		Str("reference", adj.Reference).
		Int64("delta", adj.Delta).
		Int64("balance", posting.Balance).
		Bool("applied", posting.Applied).
		Msg("credit adjustment")
	return posting, nil
}

func abs(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}

type LedgerReport struct {
	Audit   credit.Audit   `json:"audit"`
	Entries []credit.Entry `json:"entries"`
}

// LedgerAudit returns a contractor's ledger and checks it against the
// cached balance.
func (e *Engine) LedgerAudit(ctx context.Context, contractorID string) (LedgerReport, error) {
	if _, err := e.GetContractor(ctx, contractorID); err != nil {
		return LedgerReport{}, err
	}
	l := e.ledger(e.store)
	audit, err := l.Verify(ctx, contractorID)
	if err != nil {
		return LedgerReport{}, transient("verify ledger", err)
	}
	entries, err := l.Entries(ctx, contractorID)
	if err != nil {
		return LedgerReport{}, transient("ledger entries", err)
	}
	if entries == nil {
		entries = []credit.Entry{}
	}
	if !audit.Consistent() {
		e.log.Error().
			Str("contractor_id", contractorID).
			Int64("cached", audit.CachedBalance).
			Int64("ledger", audit.LedgerSum).
			Msg("ledger mismatch")
	}
	return LedgerReport{Audit: audit, Entries: entries}, nil
}
