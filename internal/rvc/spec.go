package rvc

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Field width constraints. RV-C fields are at most 4 bytes wide.
const (
	minFieldWidth = 1
	maxFieldWidth = 32

	bitsPerByte = 8
)

// InstanceField is the conventional name of the field carrying a message's
// instance. When a specification entry defines it, the decoded value
// becomes the DecodedMessage instance; otherwise the instance is 0.
const InstanceField = "instance"

// Field describes one value within a message payload.
//
// Bit addressing is little-endian: Byte is the payload byte the field
// starts in, Bit the LSB-first bit position within that byte, and
// multi-byte fields continue into higher bytes in little-endian order
// (fixed wire byte order for the whole protocol).
type Field struct {
	Name string `yaml:"name"`

	// Byte is the starting payload byte (0-based).
	Byte int `yaml:"byte"`

	// Bit is the starting bit within the byte (0 = LSB).
	Bit int `yaml:"bit"`

	// Width is the field width in bits (1-32).
	Width int `yaml:"width"`

	// Signed marks the raw value as two's complement.
	Signed bool `yaml:"signed,omitempty"`

	// Scale and Offset define the linear transform
	// engineering = raw*Scale + Offset. A zero Scale means 1.
	Scale  float64 `yaml:"scale,omitempty"`
	Offset float64 `yaml:"offset,omitempty"`

	// Unit is the engineering unit ("V", "°C", "%"); informational.
	Unit string `yaml:"unit,omitempty"`

	// Min and Max bound the valid engineering-unit range. Nil means
	// unbounded on that side.
	Min *float64 `yaml:"min,omitempty"`
	Max *float64 `yaml:"max,omitempty"`

	// Values is the enumeration lookup (raw → label). When set, the
	// decoded value is the label and Scale/Offset are ignored.
	Values map[uint32]string `yaml:"values,omitempty"`
}

// Entry is one specification entry: a message identifier and its ordered
// field definitions.
type Entry struct {
	// DGN is the 17-bit data group number.
	DGN uint32 `yaml:"dgn"`

	// Name is the message name from the wire specification
	// (e.g., "DC_DIMMER_STATUS_3").
	Name string `yaml:"name"`

	// PayloadBytes is the declared payload width. Entries wider than a
	// single frame (8 bytes) are carried as multi-frame messages.
	PayloadBytes int `yaml:"payload_bytes"`

	// Priority overrides the default arbitration priority for outgoing
	// frames of this entry. Zero means DefaultPriority.
	Priority uint8 `yaml:"priority,omitempty"`

	// Fields are the ordered field definitions.
	Fields []Field `yaml:"fields"`
}

// MultiFrame reports whether this entry's payload spans multiple frames.
func (e *Entry) MultiFrame() bool {
	return e.PayloadBytes > singleFrameCapacity
}

// FieldByName returns the field definition with the given name.
func (e *Entry) FieldByName(name string) (Field, bool) {
	for _, f := range e.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// SendPriority returns the arbitration priority for outgoing frames.
func (e *Entry) SendPriority() uint8 {
	if e.Priority == 0 {
		return DefaultPriority
	}
	return e.Priority
}

// Specification is the immutable DGN → entry table the decode and encode
// engines run against. It is built once at startup (or replaced wholesale
// on reload) and never mutated afterwards, so concurrent readers need no
// locking.
type Specification struct {
	entries map[uint32]*Entry
}

// specDocument is the YAML shape of a specification file.
type specDocument struct {
	Messages []Entry `yaml:"messages"`
}

// LoadSpecification reads and validates a specification document.
//
// Parameters:
//   - path: Path to the YAML specification file
//
// Returns:
//   - *Specification: Validated, immutable specification table
//   - error: ErrInvalidSpec (wrapped) on structural problems
func LoadSpecification(path string) (*Specification, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading specification: %w", err)
	}

	var doc specDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing specification: %w", err)
	}

	return NewSpecification(doc.Messages)
}

// NewSpecification builds a Specification from pre-parsed entries.
//
// Validation enforces the load-time invariants:
//   - no duplicate DGNs
//   - payload width is positive
//   - every field's bit range lies within the declared payload width
//   - field widths are 1-32 bits
//
// Parameters:
//   - entries: Specification entries (copied; caller may reuse the slice)
//
// Returns:
//   - *Specification: Validated table
//   - error: ErrInvalidSpec (wrapped) describing the first problem found
func NewSpecification(entries []Entry) (*Specification, error) {
	table := make(map[uint32]*Entry, len(entries))

	for i := range entries {
		e := entries[i]
		if e.Name == "" {
			return nil, fmt.Errorf("%w: entry 0x%05X has no name", ErrInvalidSpec, e.DGN)
		}
		if e.DGN > dgnMask {
			return nil, fmt.Errorf("%w: %s: DGN 0x%X exceeds 17 bits", ErrInvalidSpec, e.Name, e.DGN)
		}
		if _, dup := table[e.DGN]; dup {
			return nil, fmt.Errorf("%w: duplicate DGN 0x%05X", ErrInvalidSpec, e.DGN)
		}
		if e.PayloadBytes <= 0 {
			e.PayloadBytes = singleFrameCapacity
		}

		for _, f := range e.Fields {
			if f.Name == "" {
				return nil, fmt.Errorf("%w: %s: unnamed field", ErrInvalidSpec, e.Name)
			}
			if f.Width < minFieldWidth || f.Width > maxFieldWidth {
				return nil, fmt.Errorf("%w: %s.%s: width %d not in [%d,%d]",
					ErrInvalidSpec, e.Name, f.Name, f.Width, minFieldWidth, maxFieldWidth)
			}
			if f.Byte < 0 || f.Bit < 0 || f.Bit >= bitsPerByte {
				return nil, fmt.Errorf("%w: %s.%s: invalid bit position byte=%d bit=%d",
					ErrInvalidSpec, e.Name, f.Name, f.Byte, f.Bit)
			}
			end := f.Byte*bitsPerByte + f.Bit + f.Width
			if end > e.PayloadBytes*bitsPerByte {
				return nil, fmt.Errorf("%w: %s.%s: bit range ends at %d, payload is %d bits",
					ErrInvalidSpec, e.Name, f.Name, end, e.PayloadBytes*bitsPerByte)
			}
		}

		table[e.DGN] = &e
	}

	return &Specification{entries: table}, nil
}

// Lookup returns the entry for a DGN.
//
// Returns:
//   - *Entry: The specification entry (shared, read-only)
//   - bool: false if the DGN is unknown
func (s *Specification) Lookup(dgn uint32) (*Entry, bool) {
	e, ok := s.entries[dgn]
	return e, ok
}

// Len returns the number of entries in the table.
func (s *Specification) Len() int {
	return len(s.entries)
}

// DGNs returns all known DGNs in ascending order.
func (s *Specification) DGNs() []uint32 {
	out := make([]uint32, 0, len(s.entries))
	for dgn := range s.entries {
		out = append(out, dgn)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// extractBits reads an unsigned little-endian bit range from a payload.
//
// Parameters:
//   - data: Payload bytes
//   - byteOff, bitOff: Starting position (LSB-first within byte)
//   - width: Field width in bits (validated at spec load)
//
// Returns:
//   - uint32: Raw field value
//   - error: ErrInvalidFrame if the payload is too short
func extractBits(data []byte, byteOff, bitOff, width int) (uint32, error) {
	end := byteOff*bitsPerByte + bitOff + width
	if end > len(data)*bitsPerByte {
		return 0, fmt.Errorf("%w: field needs %d bits, payload has %d",
			ErrInvalidFrame, end, len(data)*bitsPerByte)
	}

	// Gather the covering bytes little-endian, then shift and mask.
	var v uint64
	nBytes := (bitOff + width + bitsPerByte - 1) / bitsPerByte
	for i := 0; i < nBytes; i++ {
		v |= uint64(data[byteOff+i]) << (bitsPerByte * i)
	}
	v >>= uint(bitOff)
	v &= (1 << uint(width)) - 1
	return uint32(v), nil
}

// insertBits writes an unsigned little-endian bit range into a payload,
// preserving surrounding bits.
func insertBits(data []byte, byteOff, bitOff, width int, value uint32) {
	mask := uint64((1<<uint(width))-1) << uint(bitOff)
	v := (uint64(value) << uint(bitOff)) & mask

	nBytes := (bitOff + width + bitsPerByte - 1) / bitsPerByte
	for i := 0; i < nBytes; i++ {
		shift := uint(bitsPerByte * i)
		data[byteOff+i] &^= byte(mask >> shift)
		data[byteOff+i] |= byte(v >> shift)
	}
}

// signExtend interprets raw as a two's complement value of the given width.
func signExtend(raw uint32, width int) int32 {
	shift := uint(32 - width)
	return int32(raw<<shift) >> shift
}
