package schema

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"

	v1 "github.com/commercekit/relay/internal/api/v1"
	"golang.org/x/sync/singleflight"
)

// Result is the advisory validation outcome. Validation never blocks
// delivery in production; callers decide what to do with a failed Result
// (log it, or surface it hard in debug mode).
type Result struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// Validator validates event envelopes against registered schemas. It never
// returns an error and never panics: schema problems degrade to warnings,
// shape violations to error strings in the Result.
type Validator struct {
	registry *Registry
	formats  *FormatRegistry

	// Cache of compiled schemas, keyed by event:version.
	mu           sync.RWMutex
	compiled     map[Key]*CompiledSchema
	compileGroup singleflight.Group // dedupe concurrent compilation
}

// NewValidator creates a validator over a registry and format registry.
func NewValidator(registry *Registry, formats *FormatRegistry) *Validator {
	return &Validator{
		registry: registry,
		formats:  formats,
		compiled: make(map[Key]*CompiledSchema),
	}
}

// ValidateEvent validates one envelope. Unknown event names are never hard
// rejected: no registered schema yields Valid=true with a warning.
func (v *Validator) ValidateEvent(ctx context.Context, evt *v1.Event) Result {
	res := Result{Valid: true}

	if evt == nil {
		res.Valid = false
		res.Errors = append(res.Errors, "event is nil")
		return res
	}
	if evt.Name == "" {
		res.Valid = false
		res.Errors = append(res.Errors, "event: name must not be empty")
		return res
	}

	s, err := v.registry.Lookup(ctx, evt.Name)
	switch {
	case errors.Is(err, ErrNotFound):
		res.Warnings = append(res.Warnings, fmt.Sprintf("no schema registered for %q, shape validation skipped", evt.Name))
	case err != nil:
		res.Warnings = append(res.Warnings, fmt.Sprintf("schema lookup failed for %q: %v", evt.Name, err))
	default:
		v.validateShape(ctx, s, evt, &res)
	}

	v.checkSemantics(evt, &res)

	res.Valid = len(res.Errors) == 0
	return res
}

// validateShape runs the format validator for the schema against the JSON
// projection of the envelope.
func (v *Validator) validateShape(ctx context.Context, s *Schema, evt *v1.Event, res *Result) {
	compiled, err := v.compile(ctx, s)
	if err != nil {
		// A broken schema definition must not block commerce events.
		res.Warnings = append(res.Warnings, fmt.Sprintf("schema %q v%d failed to compile: %v", s.Event, s.Version, err))
		return
	}

	validator, err := v.formats.GetValidator(s.Format)
	if err != nil {
		res.Warnings = append(res.Warnings, fmt.Sprintf("schema %q v%d: %v", s.Event, s.Version, err))
		return
	}

	data, err := eventToMap(evt)
	if err != nil {
		res.Warnings = append(res.Warnings, fmt.Sprintf("event %q could not be projected for validation: %v", evt.Name, err))
		return
	}

	if err := validator.ValidateData(ctx, compiled, data); err != nil {
		var multi *MultiValidationError
		if errors.As(err, &multi) {
			for _, ve := range multi.Errors {
				res.Errors = append(res.Errors, ve.Error())
			}
			return
		}
		res.Errors = append(res.Errors, err.Error())
	}
}

// compile returns the cached compiled schema, compiling at most once per
// key even under concurrent pushes.
func (v *Validator) compile(ctx context.Context, s *Schema) (*CompiledSchema, error) {
	key := s.Key()

	v.mu.RLock()
	compiled, ok := v.compiled[key]
	v.mu.RUnlock()
	if ok {
		return compiled, nil
	}

	result, err, _ := v.compileGroup.Do(fmt.Sprintf("%s:%d", key.Event, key.Version), func() (interface{}, error) {
		compiler, err := v.formats.GetCompiler(s.Format)
		if err != nil {
			return nil, err
		}
		compiled, err := compiler.Compile(ctx, s)
		if err != nil {
			return nil, err
		}

		v.mu.Lock()
		v.compiled[key] = compiled
		v.mu.Unlock()
		return compiled, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*CompiledSchema), nil
}

// checkSemantics applies the checks that go beyond shape: currency code
// plausibility and negative values warn; missing purchase identifiers are
// hard errors (still advisory to delivery, but logged as errors).
func (v *Validator) checkSemantics(evt *v1.Event, res *Result) {
	ec := evt.Ecommerce
	if ec == nil {
		return
	}

	if ec.CurrencyCode != "" && !isCurrencyCode(ec.CurrencyCode) {
		res.Warnings = append(res.Warnings, fmt.Sprintf("ecommerce.currencyCode: %q is not a 3-letter code", ec.CurrencyCode))
	}

	warnNegative(res, "ecommerce.value", ec.Value)

	for _, pair := range []struct {
		name  string
		block *v1.ActionBlock
	}{
		{"add", ec.Add}, {"remove", ec.Remove}, {"detail", ec.Detail},
		{"checkout", ec.Checkout}, {"purchase", ec.Purchase},
	} {
		if pair.block == nil {
			continue
		}
		if af := pair.block.ActionField; af != nil {
			warnNegative(res, fmt.Sprintf("ecommerce.%s.actionField.revenue", pair.name), af.Revenue)
			warnNegative(res, fmt.Sprintf("ecommerce.%s.actionField.tax", pair.name), af.Tax)
			warnNegative(res, fmt.Sprintf("ecommerce.%s.actionField.shipping", pair.name), af.Shipping)
		}
		for i, p := range pair.block.Products {
			warnNegative(res, fmt.Sprintf("ecommerce.%s.products[%d].price", pair.name, i), p.Price)
		}
	}

	if evt.Name == v1.EventPurchase || evt.Name == v1.EventAcceptedUpsell {
		if ec.Purchase == nil || ec.Purchase.ActionField == nil || ec.Purchase.ActionField.ID == "" {
			res.Errors = append(res.Errors, "ecommerce.purchase.actionField.id: transaction identifier is required")
		}
	}
}

func warnNegative(res *Result, path, value string) {
	if value == "" {
		return
	}
	n, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return
	}
	if n < 0 {
		res.Warnings = append(res.Warnings, fmt.Sprintf("%s: value %s is negative", path, value))
	}
}

func isCurrencyCode(code string) bool {
	if len(code) != 3 {
		return false
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}

// eventToMap projects the typed envelope onto the generic JSON shape the
// format validators walk.
func eventToMap(evt *v1.Event) (map[string]interface{}, error) {
	raw, err := json.Marshal(evt)
	if err != nil {
		return nil, err
	}
	var data map[string]interface{}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, err
	}
	return data, nil
}
