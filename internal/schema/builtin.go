package schema

import (
	"context"
	"embed"
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"
)

//go:embed builtin/*.yaml
var builtinFiles embed.FS

// builtinHeader is the front matter used to key a builtin definition.
type builtinHeader struct {
	Event   string `yaml:"event"`
	Version int    `yaml:"version"`
}

// RegisterBuiltins loads the shipped dl_* schema definitions into the
// registry. Definitions already present (e.g. integrator overrides
// registered first) win; the builtin is skipped silently in that case.
func RegisterBuiltins(ctx context.Context, registry *Registry) error {
	entries, err := builtinFiles.ReadDir("builtin")
	if err != nil {
		return fmt.Errorf("read builtin schemas: %w", err)
	}

	for _, entry := range entries {
		definition, err := builtinFiles.ReadFile("builtin/" + entry.Name())
		if err != nil {
			return fmt.Errorf("read builtin schema %s: %w", entry.Name(), err)
		}

		var header builtinHeader
		if err := yaml.Unmarshal(definition, &header); err != nil {
			return fmt.Errorf("parse builtin schema %s: %w", entry.Name(), err)
		}
		if header.Event == "" {
			return fmt.Errorf("builtin schema %s is missing an event name", entry.Name())
		}
		if header.Version < 1 {
			header.Version = 1
		}

		_, err = registry.Register(ctx, header.Event, header.Version, FormatYaml, definition, true)
		if err != nil && !errors.Is(err, ErrAlreadyExists) {
			return fmt.Errorf("register builtin schema %s: %w", entry.Name(), err)
		}
	}

	return nil
}
