package bridge

import "errors"

var (
	// ErrUnknownEntity indicates a command for an entity the coach
	// mapping does not declare.
	ErrUnknownEntity = errors.New("bridge: unknown entity")

	// ErrNotCommandable indicates a command for an entity with no
	// command DGN.
	ErrNotCommandable = errors.New("bridge: entity is not commandable")

	// ErrInvalidCommand indicates a malformed command payload.
	ErrInvalidCommand = errors.New("bridge: invalid command")

	// ErrUnknownTransport indicates an entity's interface resolves to a
	// transport that is not attached to the pipeline.
	ErrUnknownTransport = errors.New("bridge: unknown transport")
)
