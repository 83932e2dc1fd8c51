package schema

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Format represents the format of a schema definition.
type Format string

const (
	FormatYaml Format = "yaml"
)

// Schema is a registered per-event-name schema definition.
type Schema struct {
	// Event is the event name this schema validates (e.g. "dl_purchase").
	Event string `json:"event"`

	// Version is the schema version number (1, 2, 3...).
	Version int `json:"version"`

	// Format is the definition format. Only YAML in this release.
	Format Format `json:"format"`

	// Definition is the raw schema content.
	Definition []byte `json:"definition"`

	// Fingerprint is the SHA-256 hash of Definition, for change detection.
	Fingerprint string `json:"fingerprint"`

	// Builtin marks schemas shipped with the binary, as opposed to
	// integrator overrides loaded from the filesystem.
	Builtin bool `json:"builtin,omitempty"`

	// CreatedAt is when the schema was registered.
	CreatedAt time.Time `json:"created_at"`
}

// ComputeFingerprint calculates the SHA-256 hash of a definition.
func ComputeFingerprint(definition []byte) string {
	hash := sha256.Sum256(definition)
	return hex.EncodeToString(hash[:])
}

// Key uniquely identifies a schema for lookup.
type Key struct {
	Event   string
	Version int
}

// Key returns the lookup key for this schema.
func (s *Schema) Key() Key {
	return Key{Event: s.Event, Version: s.Version}
}

// CompiledSchema is a schema ready for validation. Format discriminates
// which representation is populated; only YAML exists today but the
// indirection keeps formats pluggable.
type CompiledSchema struct {
	Event   string
	Version int
	Format  Format

	// YAMLSpec holds a *yaml.SchemaSpec when Format == FormatYaml. Kept as
	// interface{} to avoid an import cycle with the format package.
	YAMLSpec interface{}
}
