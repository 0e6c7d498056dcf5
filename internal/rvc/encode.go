package rvc

import (
	"fmt"
	"math"
)

// noDataByte is the RV-C "no data / not available" fill pattern. Fields
// with no targeted or last-known value are transmitted as all ones.
const noDataByte = 0xFF

// Encode builds an outgoing frame for a specification entry.
//
// Targeted fields are given in engineering units (float64 / integer
// types) or as enumeration labels (string); they are inverse-transformed
// and range-validated before packing. Untargeted fields retain their
// last-known raw values; fields with neither are filled with the no-data
// pattern.
//
// Encode is the exact inverse of Decode for in-range values: for any
// field value v within its declared range, decoding an encoded frame
// yields v again.
//
// Parameters:
//   - entry: Specification entry to encode against
//   - target: Field name → new value (engineering units or enum label)
//   - last: Field name → last-known raw wire value (may be nil)
//   - source: Source address for the outgoing frame
//
// Returns:
//   - Frame: Packed single- or multi-frame payload (the transport layer
//     fragments multi-frame payloads on send)
//   - error: ErrUnknownField or ErrOutOfRange
func Encode(entry *Entry, target map[string]any, last map[string]uint32, source uint8) (Frame, error) {
	data := make([]byte, entry.PayloadBytes)
	for i := range data {
		data[i] = noDataByte
	}

	// Reject targets that name fields the entry does not define before
	// touching the payload.
	for name := range target {
		if _, ok := entry.FieldByName(name); !ok {
			return Frame{}, fmt.Errorf("%w: %s.%s", ErrUnknownField, entry.Name, name)
		}
	}

	for _, f := range entry.Fields {
		if v, ok := target[f.Name]; ok {
			raw, err := fieldToRaw(entry, f, v)
			if err != nil {
				return Frame{}, err
			}
			insertBits(data, f.Byte, f.Bit, f.Width, raw)
			continue
		}
		if raw, ok := last[f.Name]; ok {
			insertBits(data, f.Byte, f.Bit, f.Width, raw)
		}
	}

	return NewFrame(entry.SendPriority(), entry.DGN, source, data), nil
}

// fieldToRaw converts an engineering-unit or enumeration value to the
// raw wire representation, validating the declared range.
func fieldToRaw(entry *Entry, f Field, value any) (uint32, error) {
	if len(f.Values) > 0 {
		return enumToRaw(entry, f, value)
	}

	v, err := toFloat(value)
	if err != nil {
		return 0, fmt.Errorf("%w: %s.%s: %v", ErrOutOfRange, entry.Name, f.Name, err)
	}

	if f.Min != nil && v < *f.Min {
		return 0, fmt.Errorf("%w: %s.%s: %g below minimum %g",
			ErrOutOfRange, entry.Name, f.Name, v, *f.Min)
	}
	if f.Max != nil && v > *f.Max {
		return 0, fmt.Errorf("%w: %s.%s: %g above maximum %g",
			ErrOutOfRange, entry.Name, f.Name, v, *f.Max)
	}

	scale := f.Scale
	if scale == 0 {
		scale = 1
	}
	rawF := math.Round((v - f.Offset) / scale)

	if f.Signed {
		lo := -(int64(1) << uint(f.Width-1))
		hi := int64(1)<<uint(f.Width-1) - 1
		if int64(rawF) < lo || int64(rawF) > hi {
			return 0, fmt.Errorf("%w: %s.%s: raw %d does not fit %d signed bits",
				ErrOutOfRange, entry.Name, f.Name, int64(rawF), f.Width)
		}
		return uint32(int32(rawF)) & ((1 << uint(f.Width)) - 1), nil
	}

	if rawF < 0 || int64(rawF) > int64(1)<<uint(f.Width)-1 {
		return 0, fmt.Errorf("%w: %s.%s: raw %d does not fit %d bits",
			ErrOutOfRange, entry.Name, f.Name, int64(rawF), f.Width)
	}
	return uint32(rawF), nil
}

// enumToRaw resolves an enumeration target: a label is reverse-looked-up,
// a numeric value is accepted when the enumeration lists it.
func enumToRaw(entry *Entry, f Field, value any) (uint32, error) {
	if label, ok := value.(string); ok {
		for raw, l := range f.Values {
			if l == label {
				return raw, nil
			}
		}
		return 0, fmt.Errorf("%w: %s.%s: no enumeration value %q",
			ErrOutOfRange, entry.Name, f.Name, label)
	}

	v, err := toFloat(value)
	if err != nil {
		return 0, fmt.Errorf("%w: %s.%s: %v", ErrOutOfRange, entry.Name, f.Name, err)
	}
	raw := uint32(v)
	if float64(raw) != v {
		return 0, fmt.Errorf("%w: %s.%s: enumeration value %g is not integral",
			ErrOutOfRange, entry.Name, f.Name, v)
	}
	if _, listed := f.Values[raw]; !listed {
		return 0, fmt.Errorf("%w: %s.%s: enumeration value %d not listed",
			ErrOutOfRange, entry.Name, f.Name, raw)
	}
	return raw, nil
}

// toFloat widens the numeric types command payloads arrive as (JSON
// numbers decode to float64, Go callers may pass ints).
func toFloat(value any) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case uint32:
		return float64(v), nil
	case uint8:
		return float64(v), nil
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, fmt.Errorf("unsupported value type %T", value)
	}
}
