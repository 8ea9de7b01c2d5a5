// Package id provides unique identifier generation.
// This is the canonical source for ID generation across the codebase.
package id

import "github.com/google/uuid"

// New generates a UUID v4 (random) record identifier.
func New() string {
	return uuid.NewString()
}
