package rvc

import (
	"errors"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	spec := testSpec(t)
	entry, _ := spec.Lookup(0x1FEDA)

	target := map[string]any{
		"instance":         25,
		"group":            0,
		"operating_status": "on",
		"brightness":       62.5,
	}

	frame, err := Encode(entry, target, nil, 0x81)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if frame.Source() != 0x81 {
		t.Errorf("Source() = 0x%02X, want 0x81", frame.Source())
	}
	if frame.DGN() != 0x1FEDA {
		t.Errorf("DGN() = 0x%05X, want 0x1FEDA", frame.DGN())
	}
	if frame.Priority() != DefaultPriority {
		t.Errorf("Priority() = %d, want %d", frame.Priority(), DefaultPriority)
	}

	msg, err := Decode(frame, spec)
	if err != nil {
		t.Fatalf("Decode() of encoded frame error = %v", err)
	}
	if msg.Instance != 25 {
		t.Errorf("Instance = %d, want 25", msg.Instance)
	}
	if msg.Fields["operating_status"].Value != "on" {
		t.Errorf("operating_status = %v, want on", msg.Fields["operating_status"].Value)
	}
	if msg.Fields["brightness"].Value != 62.5 {
		t.Errorf("brightness = %v, want 62.5", msg.Fields["brightness"].Value)
	}
}

func TestEncodeUnknownField(t *testing.T) {
	spec := testSpec(t)
	entry, _ := spec.Lookup(0x1FEDA)

	_, err := Encode(entry, map[string]any{"no_such_field": 1}, nil, 0x81)
	if !errors.Is(err, ErrUnknownField) {
		t.Errorf("Encode() unknown field error = %v, want ErrUnknownField", err)
	}
}

func TestEncodeOutOfRange(t *testing.T) {
	spec := testSpec(t)
	entry, _ := spec.Lookup(0x1FEDA)

	tests := []struct {
		name   string
		target map[string]any
	}{
		{"above declared max", map[string]any{"brightness": 150.0}},
		{"below declared min", map[string]any{"brightness": -1.0}},
		{"unknown enum label", map[string]any{"operating_status": "dimmed"}},
		{"unlisted enum number", map[string]any{"operating_status": 3}},
		{"non-integral enum number", map[string]any{"operating_status": 1.5}},
		{"raw overflows width", map[string]any{"group": 300}},
		{"unsupported type", map[string]any{"brightness": []int{1}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Encode(entry, tt.target, nil, 0x81); !errors.Is(err, ErrOutOfRange) {
				t.Errorf("Encode() error = %v, want ErrOutOfRange", err)
			}
		})
	}
}

func TestEncodeSignedField(t *testing.T) {
	spec := testSpec(t)
	entry, _ := spec.Lookup(0x1FFF7)

	frame, err := Encode(entry, map[string]any{"instance": 1, "ambient_temp": -10.0}, nil, 0x44)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	msg, err := Decode(frame, spec)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if got := msg.Fields["ambient_temp"].Value; got != -10.0 {
		t.Errorf("ambient_temp round trip = %v, want -10", got)
	}
}

func TestEncodeEnumNumericTarget(t *testing.T) {
	spec := testSpec(t)
	entry, _ := spec.Lookup(0x1FEDA)

	// A listed numeric enumeration value is as good as its label.
	frame, err := Encode(entry, map[string]any{"operating_status": 2}, nil, 0x81)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	msg, err := Decode(frame, spec)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if msg.Fields["operating_status"].Value != "error" {
		t.Errorf("operating_status = %v, want error", msg.Fields["operating_status"].Value)
	}
}

func TestEncodeNoDataFill(t *testing.T) {
	spec := testSpec(t)
	entry, _ := spec.Lookup(0x1FEDA)

	frame, err := Encode(entry, map[string]any{"brightness": 50.0}, nil, 0x81)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	// Untargeted bytes carry the no-data pattern.
	if frame.Data[0] != 0xFF || frame.Data[1] != 0xFF {
		t.Errorf("untargeted bytes = % X, want FF fill", frame.Data[:2])
	}
	if frame.Data[3] != 100 { // 50.0 / 0.5
		t.Errorf("brightness byte = %d, want 100", frame.Data[3])
	}
}

func TestEncodeLastKnownRetention(t *testing.T) {
	spec := testSpec(t)
	entry, _ := spec.Lookup(0x1FEDA)

	last := map[string]uint32{"instance": 25, "group": 7, "operating_status": 1}
	frame, err := Encode(entry, map[string]any{"brightness": 25.0}, last, 0x81)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	msg, err := Decode(frame, spec)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if msg.Instance != 25 {
		t.Errorf("Instance = %d, want 25 (retained)", msg.Instance)
	}
	if msg.Fields["group"].Raw != 7 {
		t.Errorf("group raw = %d, want 7 (retained)", msg.Fields["group"].Raw)
	}
	if msg.Fields["operating_status"].Value != "on" {
		t.Errorf("operating_status = %v, want on (retained)", msg.Fields["operating_status"].Value)
	}
	if msg.Fields["brightness"].Value != 25.0 {
		t.Errorf("brightness = %v, want 25 (targeted)", msg.Fields["brightness"].Value)
	}
}
