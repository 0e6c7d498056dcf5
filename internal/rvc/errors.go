package rvc

import "errors"

// Domain errors for the RV-C protocol engine.
var (
	// ErrUnknownIdentifier is returned when a frame's DGN has no entry in
	// the specification. The caller routes such frames to the diagnostics
	// sink instead of discarding them silently.
	ErrUnknownIdentifier = errors.New("rvc: unknown message identifier")

	// ErrInvalidFrame is returned when a raw frame is structurally malformed.
	ErrInvalidFrame = errors.New("rvc: invalid frame")

	// ErrIncompleteAssembly is returned when a multi-frame message is not
	// completed within the reassembly timeout.
	ErrIncompleteAssembly = errors.New("rvc: incomplete multi-frame assembly")

	// ErrFieldOutOfRange marks a decoded field value outside its declared
	// valid range. It is warning-level: the decode still succeeds.
	ErrFieldOutOfRange = errors.New("rvc: field value out of range")

	// ErrOutOfRange is returned when an encode target value violates the
	// field's declared range. Unlike decode, encode rejects the message.
	ErrOutOfRange = errors.New("rvc: value out of range")

	// ErrUnknownField is returned when an encode targets a field the
	// specification entry does not define.
	ErrUnknownField = errors.New("rvc: unknown field")

	// ErrInvalidSpec is returned when a specification document fails
	// structural validation at load time.
	ErrInvalidSpec = errors.New("rvc: invalid specification")
)
