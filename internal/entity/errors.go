package entity

import "errors"

var (
	// ErrEntityNotFound indicates a lookup for an entity the store has
	// never seen.
	ErrEntityNotFound = errors.New("entity: not found")
)
