// Package uuid re-exports the google/uuid types and constructors used across
// the codebase so call sites depend on a single import path.
package uuid

import "github.com/google/uuid"

// UUID is an alias for the underlying uuid.UUID type.
type UUID = uuid.UUID

// Nil is the zero-value UUID.
var Nil = uuid.Nil

// New returns a random (version 4) UUID.
func New() UUID { return uuid.New() }

// Parse decodes s into a UUID or returns an error.
func Parse(s string) (UUID, error) { return uuid.Parse(s) }

// MustParse decodes s into a UUID or panics.
func MustParse(s string) UUID { return uuid.MustParse(s) }
