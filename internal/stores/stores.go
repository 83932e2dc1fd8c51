// Package stores defines the narrow read interfaces the pipeline has onto
// the commerce state containers. The containers themselves (cart, campaign,
// order) live upstream; the pipeline only ever reads from them.
package stores

import "errors"

// ErrPackageNotFound is returned by Catalog lookups for unknown package ids.
var ErrPackageNotFound = errors.New("package not found in catalog")

// Package is the catalog's authoritative record for a sellable package.
type Package struct {
	ID         int
	ExternalID string
	Name       string
	Category   string
	Brand      string
	Variant    string
	Price      string // per-unit, decimal string
	Image      string
}

// CartLine is one denormalized line from the cart state. Name/Price act as
// fallbacks when the catalog cannot resolve PackageID.
type CartLine struct {
	PackageID int
	Name      string
	Variant   string
	Price     float64
	Quantity  int
	Image     string
}

// Catalog resolves package identifiers and the storefront currency from
// campaign state.
type Catalog interface {
	// Package returns the catalog record for the given package id, or
	// ErrPackageNotFound. Implementations must not block on network calls.
	Package(id int) (*Package, error)

	// Currency returns the active checkout currency code, or "" when the
	// campaign state has not settled yet.
	Currency() string
}

// StaticCatalog is an immutable in-memory Catalog used for wiring and tests.
type StaticCatalog struct {
	Packages     map[int]Package
	CurrencyCode string
}

func (c *StaticCatalog) Package(id int) (*Package, error) {
	p, ok := c.Packages[id]
	if !ok {
		return nil, ErrPackageNotFound
	}
	return &p, nil
}

func (c *StaticCatalog) Currency() string {
	return c.CurrencyCode
}
