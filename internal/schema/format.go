package schema

import (
	"context"
	"fmt"
	"sync"
)

// FormatCompiler compiles schema definitions into runtime representations.
type FormatCompiler interface {
	// Compile parses the schema definition and returns a compiled schema.
	// Returns an error if the definition is malformed.
	Compile(ctx context.Context, schema *Schema) (*CompiledSchema, error)
}

// FormatValidator validates event payloads against compiled schemas.
type FormatValidator interface {
	// ValidateData checks if the payload conforms to the compiled schema.
	// Shape violations come back as *MultiValidationError.
	ValidateData(ctx context.Context, compiled *CompiledSchema, data map[string]interface{}) error
}

// FormatRegistry manages the compiler and validator for each schema format.
type FormatRegistry struct {
	mu         sync.RWMutex
	compilers  map[Format]FormatCompiler
	validators map[Format]FormatValidator
}

// NewFormatRegistry creates a new format registry.
func NewFormatRegistry() *FormatRegistry {
	return &FormatRegistry{
		compilers:  make(map[Format]FormatCompiler),
		validators: make(map[Format]FormatValidator),
	}
}

// RegisterFormat registers compiler and validator for a schema format.
// Called during initialization to enable format support.
func (r *FormatRegistry) RegisterFormat(format Format, compiler FormatCompiler, validator FormatValidator) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.compilers[format] = compiler
	r.validators[format] = validator
}

// GetCompiler retrieves the compiler for a given format.
func (r *FormatRegistry) GetCompiler(format Format) (FormatCompiler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	compiler, exists := r.compilers[format]
	if !exists {
		return nil, fmt.Errorf("unsupported schema format: %s", format)
	}
	return compiler, nil
}

// GetValidator retrieves the validator for a given format.
func (r *FormatRegistry) GetValidator(format Format) (FormatValidator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	validator, exists := r.validators[format]
	if !exists {
		return nil, fmt.Errorf("unsupported schema format: %s", format)
	}
	return validator, nil
}
