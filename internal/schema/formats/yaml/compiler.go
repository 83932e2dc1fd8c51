package yaml

import (
	"context"
	"fmt"

	"github.com/commercekit/relay/internal/schema"
	"gopkg.in/yaml.v3"
)

// Compiler compiles YAML schema definitions.
type Compiler struct{}

// NewCompiler creates a new YAML compiler.
func NewCompiler() *Compiler {
	return &Compiler{}
}

// Compile parses a YAML schema definition and returns the compiled schema.
func (c *Compiler) Compile(ctx context.Context, s *schema.Schema) (*schema.CompiledSchema, error) {
	if s.Format != schema.FormatYaml {
		return nil, fmt.Errorf("expected yaml format, got %s", s.Format)
	}

	var spec SchemaSpec
	if err := yaml.Unmarshal(s.Definition, &spec); err != nil {
		return nil, fmt.Errorf("failed to parse YAML schema: %w", err)
	}

	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("invalid YAML schema: %w", err)
	}

	if spec.Event != s.Event {
		return nil, fmt.Errorf("schema event %q does not match registered event %q", spec.Event, s.Event)
	}
	if spec.Version != s.Version {
		return nil, fmt.Errorf("schema version %d does not match registered version %d", spec.Version, s.Version)
	}

	return &schema.CompiledSchema{
		Event:    s.Event,
		Version:  s.Version,
		Format:   schema.FormatYaml,
		YAMLSpec: &spec,
	}, nil
}
