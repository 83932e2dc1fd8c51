// Package storage provides schema repository backends: an in-memory store
// for tests and the builtin set, and a filesystem loader for integrator
// overrides.
package storage

import (
	"github.com/commercekit/relay/internal/schema"
)

// Repository re-exports the schema.Repository port so callers wiring a
// backend only import this package.
type Repository = schema.Repository
