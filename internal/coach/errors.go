package coach

import "errors"

// Mapping load and resolution errors.
var (
	// ErrInvalidMapping indicates a structurally malformed mapping document.
	ErrInvalidMapping = errors.New("coach: invalid mapping")

	// ErrDuplicateEntity indicates two declarations share an entity id.
	ErrDuplicateEntity = errors.New("coach: duplicate entity id")

	// ErrUnknownIdentifierReference indicates a declaration references a
	// DGN absent from the protocol specification.
	ErrUnknownIdentifierReference = errors.New("coach: unknown identifier reference")

	// ErrUnresolvedInterface indicates a declaration names an interface
	// that is neither physical nor logically mapped.
	ErrUnresolvedInterface = errors.New("coach: unresolved interface")

	// ErrUnmapped indicates an interface name that cannot be resolved to a
	// physical transport.
	ErrUnmapped = errors.New("coach: interface not mapped")

	// ErrEntityNotFound indicates a lookup for an undeclared entity id.
	ErrEntityNotFound = errors.New("coach: entity not found")
)
