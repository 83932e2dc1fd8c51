package schema

import "context"

// Repository defines the interface for schema storage.
type Repository interface {
	// Create stores a new schema. Returns ErrAlreadyExists if a schema with
	// the same (Event, Version) already exists.
	Create(ctx context.Context, schema *Schema) error

	// Get retrieves a schema by key. Returns ErrNotFound if not found.
	Get(ctx context.Context, key Key) (*Schema, error)

	// Latest retrieves the highest-version schema for an event name.
	// Returns ErrNotFound if no version is registered.
	Latest(ctx context.Context, event string) (*Schema, error)

	// List returns all registered schemas, optionally filtered by event name.
	List(ctx context.Context, event string) ([]*Schema, error)

	// Delete removes a schema. This is a hard delete.
	Delete(ctx context.Context, key Key) error
}
