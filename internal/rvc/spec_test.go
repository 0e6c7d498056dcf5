package rvc

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func f64(v float64) *float64 { return &v }

// testSpec builds the specification used across the engine tests.
// DGNs and field layouts follow the RV-C wire specification.
func testSpec(t *testing.T) *Specification {
	t.Helper()

	spec, err := NewSpecification([]Entry{
		{
			DGN:          0x1FEDA,
			Name:         "DC_DIMMER_STATUS_3",
			PayloadBytes: 8,
			Fields: []Field{
				{Name: "instance", Byte: 0, Width: 8},
				{Name: "group", Byte: 1, Width: 8},
				{Name: "operating_status", Byte: 2, Bit: 0, Width: 2,
					Values: map[uint32]string{0: "off", 1: "on", 2: "error"}},
				{Name: "brightness", Byte: 3, Width: 8, Scale: 0.5, Unit: "%",
					Min: f64(0), Max: f64(100)},
			},
		},
		{
			DGN:          0x1FFF7,
			Name:         "THERMOSTAT_AMBIENT_STATUS",
			PayloadBytes: 8,
			Fields: []Field{
				{Name: "instance", Byte: 0, Width: 8},
				{Name: "ambient_temp", Byte: 1, Width: 16, Signed: true,
					Scale: 0.03125, Unit: "°C", Min: f64(-273), Max: f64(1735)},
			},
		},
		{
			DGN:          0x1FEF7,
			Name:         "GENERATOR_DEMAND_EXTENDED",
			PayloadBytes: 16,
			Fields: []Field{
				{Name: "instance", Byte: 0, Width: 8},
				{Name: "demand", Byte: 1, Width: 8,
					Values: map[uint32]string{0: "stop", 1: "start", 2: "auto"}},
				{Name: "quiet_start", Byte: 8, Width: 16, Scale: 1, Unit: "min"},
				{Name: "quiet_end", Byte: 10, Width: 16, Scale: 1, Unit: "min"},
			},
		},
	})
	if err != nil {
		t.Fatalf("building test specification: %v", err)
	}
	return spec
}

func TestNewSpecificationValidation(t *testing.T) {
	tests := []struct {
		name    string
		entries []Entry
		wantErr bool
	}{
		{
			name: "valid minimal entry",
			entries: []Entry{{DGN: 0x1FEDA, Name: "DC_DIMMER_STATUS_3",
				Fields: []Field{{Name: "instance", Byte: 0, Width: 8}}}},
		},
		{
			name:    "missing name",
			entries: []Entry{{DGN: 0x1FEDA}},
			wantErr: true,
		},
		{
			name: "duplicate dgn",
			entries: []Entry{
				{DGN: 0x1FEDA, Name: "A"},
				{DGN: 0x1FEDA, Name: "B"},
			},
			wantErr: true,
		},
		{
			name:    "dgn over 17 bits",
			entries: []Entry{{DGN: 0x20000, Name: "X"}},
			wantErr: true,
		},
		{
			name: "field past payload end",
			entries: []Entry{{DGN: 0x1FEDA, Name: "X", PayloadBytes: 8,
				Fields: []Field{{Name: "tail", Byte: 7, Bit: 4, Width: 8}}}},
			wantErr: true,
		},
		{
			name: "field width zero",
			entries: []Entry{{DGN: 0x1FEDA, Name: "X",
				Fields: []Field{{Name: "f", Width: 0}}}},
			wantErr: true,
		},
		{
			name: "field width over 32",
			entries: []Entry{{DGN: 0x1FEDA, Name: "X",
				Fields: []Field{{Name: "f", Width: 33}}}},
			wantErr: true,
		},
		{
			name: "bit offset past byte",
			entries: []Entry{{DGN: 0x1FEDA, Name: "X",
				Fields: []Field{{Name: "f", Bit: 8, Width: 1}}}},
			wantErr: true,
		},
		{
			name: "unnamed field",
			entries: []Entry{{DGN: 0x1FEDA, Name: "X",
				Fields: []Field{{Width: 8}}}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSpecification(tt.entries)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewSpecification() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidSpec) {
				t.Errorf("NewSpecification() error = %v, want ErrInvalidSpec", err)
			}
		})
	}
}

func TestSpecificationLookup(t *testing.T) {
	spec := testSpec(t)

	entry, ok := spec.Lookup(0x1FEDA)
	if !ok {
		t.Fatal("Lookup(0x1FEDA) not found")
	}
	if entry.Name != "DC_DIMMER_STATUS_3" {
		t.Errorf("entry name = %q, want DC_DIMMER_STATUS_3", entry.Name)
	}

	if _, ok := spec.Lookup(0x9999); ok {
		t.Error("Lookup(0x9999) should not be found")
	}

	if spec.Len() != 3 {
		t.Errorf("Len() = %d, want 3", spec.Len())
	}
}

func TestSpecificationDGNs(t *testing.T) {
	spec := testSpec(t)
	dgns := spec.DGNs()

	want := []uint32{0x1FEDA, 0x1FEF7, 0x1FFF7}
	if len(dgns) != len(want) {
		t.Fatalf("DGNs() len = %d, want %d", len(dgns), len(want))
	}
	for i, dgn := range want {
		if dgns[i] != dgn {
			t.Errorf("DGNs()[%d] = 0x%05X, want 0x%05X", i, dgns[i], dgn)
		}
	}
}

func TestLoadSpecification(t *testing.T) {
	doc := `
messages:
  - dgn: 0x1FEDA
    name: DC_DIMMER_STATUS_3
    payload_bytes: 8
    fields:
      - name: instance
        byte: 0
        width: 8
      - name: operating_status
        byte: 2
        bit: 0
        width: 2
        values:
          0: "off"
          1: "on"
`
	path := filepath.Join(t.TempDir(), "rvc-spec.yaml")
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("writing temp spec: %v", err)
	}

	spec, err := LoadSpecification(path)
	if err != nil {
		t.Fatalf("LoadSpecification() error = %v", err)
	}

	entry, ok := spec.Lookup(0x1FEDA)
	if !ok {
		t.Fatal("loaded spec missing 0x1FEDA")
	}
	f, ok := entry.FieldByName("operating_status")
	if !ok {
		t.Fatal("loaded entry missing operating_status")
	}
	if f.Values[1] != "on" {
		t.Errorf("enumeration value 1 = %q, want on", f.Values[1])
	}
}

func TestLoadSpecificationMissingFile(t *testing.T) {
	if _, err := LoadSpecification("/nonexistent/spec.yaml"); err == nil {
		t.Error("LoadSpecification() with missing file expected error")
	}
}

func TestExtractInsertBits(t *testing.T) {
	tests := []struct {
		name    string
		byteOff int
		bitOff  int
		width   int
		value   uint32
	}{
		{"full byte", 0, 0, 8, 0xA5},
		{"two bits at lsb", 2, 0, 2, 0x1},
		{"two bits mid byte", 2, 4, 2, 0x3},
		{"sixteen bits", 1, 0, 16, 0xBEEF},
		{"straddles byte boundary", 0, 6, 4, 0xA},
		{"32 bits", 3, 0, 32, 0xDEADBEEF},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := make([]byte, 8)
			insertBits(data, tt.byteOff, tt.bitOff, tt.width, tt.value)

			got, err := extractBits(data, tt.byteOff, tt.bitOff, tt.width)
			if err != nil {
				t.Fatalf("extractBits() error = %v", err)
			}
			if got != tt.value {
				t.Errorf("extract(insert(0x%X)) = 0x%X", tt.value, got)
			}
		})
	}
}

func TestInsertBitsPreservesNeighbors(t *testing.T) {
	data := []byte{0xFF, 0xFF, 0xFF}
	insertBits(data, 1, 2, 4, 0x0)

	if data[0] != 0xFF || data[2] != 0xFF {
		t.Errorf("neighboring bytes modified: % X", data)
	}
	if data[1] != 0xC3 { // bits 2-5 cleared
		t.Errorf("data[1] = 0x%02X, want 0xC3", data[1])
	}
}

func TestExtractBitsTooShort(t *testing.T) {
	if _, err := extractBits([]byte{0x00}, 1, 0, 8); !errors.Is(err, ErrInvalidFrame) {
		t.Errorf("extractBits() past payload = %v, want ErrInvalidFrame", err)
	}
}

func TestSignExtend(t *testing.T) {
	tests := []struct {
		name  string
		raw   uint32
		width int
		want  int32
	}{
		{"positive 8-bit", 0x7F, 8, 127},
		{"negative 8-bit", 0xFF, 8, -1},
		{"negative 16-bit", 0x8000, 16, -32768},
		{"positive 16-bit", 0x0320, 16, 800},
		{"negative 2-bit", 0x3, 2, -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := signExtend(tt.raw, tt.width); got != tt.want {
				t.Errorf("signExtend(0x%X, %d) = %d, want %d", tt.raw, tt.width, got, tt.want)
			}
		})
	}
}
