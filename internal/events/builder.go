// Package events builds canonical event envelopes from raw domain state.
// The Builder stamps the envelope basics; EcommerceEvents and UserEvents
// map one domain action each to a fully-formed event.
package events

import (
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	v1 "github.com/commercekit/relay/internal/api/v1"
	"github.com/commercekit/relay/internal/stores"
)

// DefaultCurrency is used when the campaign state has no settled currency.
const DefaultCurrency = "USD"

// Builder is the pure formatting core shared by the factories. It reads
// the catalog for authoritative identifiers and prices but performs no
// side effects.
type Builder struct {
	catalog stores.Catalog

	// Overridable for tests.
	now   func() time.Time
	newID func() string
}

// NewBuilder creates a builder over the given catalog.
func NewBuilder(catalog stores.Catalog) *Builder {
	return &Builder{
		catalog: catalog,
		now:     time.Now,
		newID:   uuid.NewString,
	}
}

// NewEvent builds the envelope every factory starts from: unique id,
// creation time, page context and whatever user properties the caller has.
func (b *Builder) NewEvent(name string, page *v1.PageContext, userProps map[string]string) *v1.Event {
	evt := &v1.Event{
		Name:    name,
		ID:      b.newID(),
		Time:    b.now().UTC(),
		Context: page,
	}
	if len(userProps) > 0 {
		evt.UserProperties = userProps
	}
	return evt
}

// Currency resolves the live checkout currency, defaulting to USD when the
// campaign state has not settled.
func (b *Builder) Currency() string {
	if b.catalog != nil {
		if c := b.catalog.Currency(); c != "" {
			return c
		}
	}
	return DefaultCurrency
}

// Product resolves a cart line to a canonical product record. The catalog
// is authoritative for identifiers and per-unit price; when the lookup
// fails the line's own denormalized fields are used instead. Never fails
// and never omits the item.
func (b *Builder) Product(line stores.CartLine) v1.Product {
	p := v1.Product{
		ID:       itoa(line.PackageID),
		Name:     line.Name,
		Variant:  line.Variant,
		Price:    money(line.Price),
		Quantity: line.Quantity,
		Image:    line.Image,
	}

	if b.catalog == nil {
		return p
	}
	rec, err := b.catalog.Package(line.PackageID)
	if err != nil {
		if !errors.Is(err, stores.ErrPackageNotFound) {
			// Unexpected catalog failure degrades the same way: keep the
			// cart line's own fields.
			return p
		}
		return p
	}

	if rec.ExternalID != "" {
		p.ID = rec.ExternalID
	}
	if rec.Name != "" {
		p.Name = rec.Name
	}
	p.Category = rec.Category
	p.Brand = rec.Brand
	if rec.Variant != "" {
		p.Variant = rec.Variant
	}
	if rec.Price != "" {
		p.Price = moneyString(rec.Price)
	}
	if rec.Image != "" {
		p.Image = rec.Image
	}
	return p
}

// Products maps a slice of cart lines, preserving order and positions.
func (b *Builder) Products(lines []stores.CartLine, listName string) []v1.Product {
	out := make([]v1.Product, 0, len(lines))
	for i, line := range lines {
		p := b.Product(line)
		p.List = listName
		p.Position = i + 1
		out = append(out, p)
	}
	return out
}

// money formats a float price as a two-decimal string ("29.99").
func money(f float64) string {
	return decimal.NewFromFloat(f).StringFixed(2)
}

// moneyString normalizes an already-string price to two decimals, passing
// unparsable values through untouched rather than dropping them.
func moneyString(s string) string {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return s
	}
	return d.StringFixed(2)
}

// subtractMoney computes a - b - c over decimal strings, returning "" when
// the minuend is unparsable. Unparsable subtrahends count as zero.
func subtractMoney(a string, subtrahends ...string) string {
	total, err := decimal.NewFromString(a)
	if err != nil {
		return ""
	}
	for _, s := range subtrahends {
		if s == "" {
			continue
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			continue
		}
		total = total.Sub(d)
	}
	return total.StringFixed(2)
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
