/*
Package factory provides JSON to Go credit package conversion.

PURPOSE:
  Converts the JSON credit package catalog (what contractors can buy through
  the payment gateway) into Catalog values. The payment webhook only carries
  {contractorId, packageId, credits, externalSessionId}; the catalog lets the
  engine check that packageId exists and that credits match what was sold.

JSON SCHEMA:
  {
    "packages": [
      {"id": "starter", "name": "Starter", "credits": 10, "price": "49.00", "currency": "USD"},
      {"id": "pro",     "name": "Pro",     "credits": 50, "price": "199.00", "currency": "USD"}
    ]
  }

KEY FEATURES:
  - Validates structure (unique ids, positive credits, non-negative price)
  - Prices are decimals, never floats
  - Sets sensible defaults (currency USD)

USAGE:
  catalog, err := factory.ParseCatalog(jsonString)
  pkg, ok := catalog.Lookup("starter")

SEE ALSO:
  - leads/purchases.go: Uses the catalog when applying purchases
*/
package factory

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// CatalogJSON is the JSON representation of the package catalog.
type CatalogJSON struct {
	Packages []PackageJSON `json:"packages"`
}

// PackageJSON is one purchasable credit package.
type PackageJSON struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Credits  int64  `json:"credits"`
	Price    string `json:"price"`
	Currency string `json:"currency,omitempty"`
}

// =============================================================================
// CATALOG
// =============================================================================

type Package struct {
	ID       string
	Name     string
	Credits  int64
	Price    decimal.Decimal
	Currency string
}

// PricePerCredit is rounded to cents.
func (p Package) PricePerCredit() decimal.Decimal {
	if p.Credits == 0 {
		return decimal.Zero
	}
	return p.Price.Div(decimal.NewFromInt(p.Credits)).Round(2)
}

type Catalog struct {
	packages map[string]Package
}

// Lookup finds a package by id.
func (c *Catalog) Lookup(id string) (Package, bool) {
	if c == nil {
		return Package{}, false
	}
	p, ok := c.packages[id]
	return p, ok
}

// Packages returns all packages ordered by credits.
func (c *Catalog) Packages() []Package {
	if c == nil {
		return nil
	}
	out := make([]Package, 0, len(c.packages))
	for _, p := range c.packages {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Credits != out[j].Credits {
			return out[i].Credits < out[j].Credits
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// ParseCatalog parses a JSON string into a Catalog.
func ParseCatalog(jsonStr string) (*Catalog, error) {
	var cj CatalogJSON
	if err := json.Unmarshal([]byte(jsonStr), &cj); err != nil {
		return nil, fmt.Errorf("failed to parse catalog JSON: %w", err)
	}
	return FromJSON(cj)
}

// LoadCatalog reads and parses a catalog file.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return ParseCatalog(string(data))
}

// FromJSON converts CatalogJSON to a Catalog.
func FromJSON(cj CatalogJSON) (*Catalog, error) {
	catalog := &Catalog{packages: make(map[string]Package, len(cj.Packages))}

	for i, pj := range cj.Packages {
		id := strings.TrimSpace(pj.ID)
		if id == "" {
			return nil, fmt.Errorf("package %d: id is required", i)
		}
		if _, dup := catalog.packages[id]; dup {
			return nil, fmt.Errorf("package %s: duplicate id", id)
		}
		if pj.Credits <= 0 {
			return nil, fmt.Errorf("package %s: credits must be positive", id)
		}

		price := decimal.Zero
		if pj.Price != "" {
			var err error
			price, err = decimal.NewFromString(pj.Price)
			if err != nil {
				return nil, fmt.Errorf("package %s: invalid price %q: %w", id, pj.Price, err)
			}
		}
		if price.IsNegative() {
			return nil, fmt.Errorf("package %s: price must not be negative", id)
		}

		currency := strings.ToUpper(strings.TrimSpace(pj.Currency))
		if currency == "" {
			currency = "USD"
		}

		name := pj.Name
		if name == "" {
			name = id
		}

		catalog.packages[id] = Package{
			ID:       id,
			Name:     name,
			Credits:  pj.Credits,
			Price:    price,
			Currency: currency,
		}
	}

	return catalog, nil
}
