package rvc

import (
	"fmt"
	"time"
)

// FieldValue is one decoded field: the raw wire value plus its resolved
// engineering-unit interpretation.
type FieldValue struct {
	// Raw is the unscaled wire value (after sign handling for signed
	// fields the resolved Value carries the interpretation; Raw stays
	// as extracted).
	Raw uint32 `json:"raw"`

	// Value is the resolved value: an enumeration label (string) or a
	// scaled engineering value (float64).
	Value any `json:"value"`

	// Unit is the engineering unit, if the specification declares one.
	Unit string `json:"unit,omitempty"`
}

// DecodedMessage is the result of decoding a raw frame against the
// specification. It is a pure function of the frame and the specification
// snapshot: identical inputs yield identical messages.
type DecodedMessage struct {
	// DGN is the message identifier.
	DGN uint32 `json:"dgn"`

	// Name is the specification entry name.
	Name string `json:"name"`

	// Instance distinguishes multiple devices sharing the DGN. Zero when
	// the entry defines no instance field.
	Instance uint8 `json:"instance"`

	// Source is the sending node's address.
	Source uint8 `json:"source"`

	// Transport is the transport id the frame arrived on.
	Transport string `json:"transport"`

	// Fields holds the decoded field values by name.
	Fields map[string]FieldValue `json:"fields"`

	// Warnings carries non-fatal decode problems (range violations).
	// A message with warnings is still a successful decode.
	Warnings []string `json:"warnings,omitempty"`

	// Timestamp is the receipt time carried over from the frame.
	Timestamp time.Time `json:"timestamp"`
}

// Decode translates a raw frame into typed field values.
//
// Behavior per the wire specification:
//   - Unknown DGN → ErrUnknownIdentifier; the caller forwards the frame
//     to the unrecognized sink rather than dropping it silently.
//   - Each field is extracted little-endian, sign-interpreted, then
//     scaled or resolved through the enumeration lookup.
//   - Out-of-range values are recorded as warnings on an otherwise
//     successful decode; the message is never rejected for range.
//
// Decode is pure and safe to call concurrently from multiple receive
// loops against the same Specification.
//
// Parameters:
//   - frame: Raw frame (single or reassembled multi-frame payload)
//   - spec: Specification snapshot to decode against
//
// Returns:
//   - DecodedMessage: Decoded fields with any range warnings attached
//   - error: ErrInvalidFrame or ErrUnknownIdentifier
func Decode(frame Frame, spec *Specification) (DecodedMessage, error) {
	if err := frame.Validate(); err != nil {
		return DecodedMessage{}, err
	}

	dgn := frame.DGN()
	entry, ok := spec.Lookup(dgn)
	if !ok {
		return DecodedMessage{}, fmt.Errorf("%w: DGN 0x%05X", ErrUnknownIdentifier, dgn)
	}

	msg := DecodedMessage{
		DGN:       dgn,
		Name:      entry.Name,
		Source:    frame.Source(),
		Transport: frame.Transport,
		Fields:    make(map[string]FieldValue, len(entry.Fields)),
		Timestamp: frame.Timestamp,
	}

	for _, f := range entry.Fields {
		raw, err := extractBits(frame.Data, f.Byte, f.Bit, f.Width)
		if err != nil {
			// Truncated payload: the remaining fields are absent, not wrong.
			msg.Warnings = append(msg.Warnings,
				fmt.Sprintf("field %s: payload too short", f.Name))
			continue
		}

		fv := resolveField(f, raw)
		msg.Fields[f.Name] = fv

		if warn := rangeWarning(f, fv); warn != "" {
			msg.Warnings = append(msg.Warnings, warn)
		}

		if f.Name == InstanceField {
			msg.Instance = uint8(raw)
		}
	}

	return msg, nil
}

// resolveField applies the enumeration lookup or linear transform to a
// raw wire value.
func resolveField(f Field, raw uint32) FieldValue {
	fv := FieldValue{Raw: raw, Unit: f.Unit}

	if len(f.Values) > 0 {
		if label, ok := f.Values[raw]; ok {
			fv.Value = label
		} else {
			// Unlisted enumeration values pass through numerically so
			// consumers can still observe them.
			fv.Value = float64(raw)
		}
		return fv
	}

	scale := f.Scale
	if scale == 0 {
		scale = 1
	}

	if f.Signed {
		fv.Value = float64(signExtend(raw, f.Width))*scale + f.Offset
	} else {
		fv.Value = float64(raw)*scale + f.Offset
	}
	return fv
}

// rangeWarning returns a warning string when a resolved value violates
// the field's declared range, or "" when in range.
func rangeWarning(f Field, fv FieldValue) string {
	v, ok := fv.Value.(float64)
	if !ok {
		return ""
	}
	if f.Min != nil && v < *f.Min {
		return fmt.Sprintf("%v: field %s value %g below minimum %g", ErrFieldOutOfRange, f.Name, v, *f.Min)
	}
	if f.Max != nil && v > *f.Max {
		return fmt.Sprintf("%v: field %s value %g above maximum %g", ErrFieldOutOfRange, f.Name, v, *f.Max)
	}
	return ""
}

// Equal reports semantic equality of two field values: resolved value and
// unit, ignoring the raw wire representation. The entity store uses this
// to suppress events from constant telemetry re-sends.
func (fv FieldValue) Equal(other FieldValue) bool {
	return fv.Value == other.Value && fv.Unit == other.Unit
}
