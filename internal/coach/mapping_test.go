package coach

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rvlink/rvlink-core/internal/rvc"
)

func u8(v uint8) *uint8 { return &v }

func testProtocolSpec(t *testing.T) *rvc.Specification {
	t.Helper()

	spec, err := rvc.NewSpecification([]rvc.Entry{
		{
			DGN:          0x1FEDA,
			Name:         "DC_DIMMER_STATUS_3",
			PayloadBytes: 8,
			Fields: []rvc.Field{
				{Name: "instance", Byte: 0, Width: 8},
				{Name: "operating_status", Byte: 2, Bit: 0, Width: 2,
					Values: map[uint32]string{0: "off", 1: "on"}},
				{Name: "brightness", Byte: 3, Width: 8, Scale: 0.5, Unit: "%"},
			},
		},
		{
			DGN:          0x1FEDB,
			Name:         "DC_DIMMER_COMMAND_2",
			PayloadBytes: 8,
			Fields: []rvc.Field{
				{Name: "instance", Byte: 0, Width: 8},
				{Name: "desired_level", Byte: 2, Width: 8, Scale: 0.5, Unit: "%"},
			},
		},
		{
			DGN:          0x1FF9C,
			Name:         "TANK_STATUS",
			PayloadBytes: 8,
			Fields: []rvc.Field{
				{Name: "instance", Byte: 0, Width: 8},
				{Name: "relative_level", Byte: 1, Width: 8},
			},
		},
	})
	if err != nil {
		t.Fatalf("building protocol spec: %v", err)
	}
	return spec
}

func testResolver() *Resolver {
	return NewResolver(
		map[string]string{"house": "can0"},
		[]string{"can0", "can1"},
	)
}

func TestNewMappingValid(t *testing.T) {
	spec := testProtocolSpec(t)

	m, err := NewMapping("test-coach", []EntityDeclaration{
		{
			EntityID:     "light_kitchen_overhead",
			DeviceType:   "light",
			Interface:    "house",
			StatusDGN:    0x1FEDA,
			CommandDGN:   0x1FEDB,
			Instance:     u8(25),
			Capabilities: []string{"operating_status", "brightness"},
		},
		{
			EntityID:   "tank_fresh_water",
			DeviceType: "tank",
			Interface:  "can1",
			StatusDGN:  0x1FF9C,
			Instance:   u8(0),
		},
	}, spec, testResolver())
	if err != nil {
		t.Fatalf("NewMapping() error = %v", err)
	}

	if m.Len() != 2 {
		t.Errorf("Len() = %d, want 2", m.Len())
	}
	if m.CoachName != "test-coach" {
		t.Errorf("CoachName = %q, want test-coach", m.CoachName)
	}

	d, err := m.Entity("light_kitchen_overhead")
	if err != nil {
		t.Fatalf("Entity() error = %v", err)
	}
	if d.CommandDGN != 0x1FEDB {
		t.Errorf("CommandDGN = 0x%05X, want 0x1FEDB", d.CommandDGN)
	}

	if _, err := m.Entity("no_such_entity"); !errors.Is(err, ErrEntityNotFound) {
		t.Errorf("Entity(missing) error = %v, want ErrEntityNotFound", err)
	}
}

func TestNewMappingValidation(t *testing.T) {
	spec := testProtocolSpec(t)

	tests := []struct {
		name    string
		decls   []EntityDeclaration
		wantErr error
	}{
		{
			name: "unknown status identifier",
			decls: []EntityDeclaration{{EntityID: "x", Interface: "can0",
				StatusDGN: 0x09999}},
			wantErr: ErrUnknownIdentifierReference,
		},
		{
			name: "unknown command identifier",
			decls: []EntityDeclaration{{EntityID: "x", Interface: "can0",
				StatusDGN: 0x1FEDA, CommandDGN: 0x09999}},
			wantErr: ErrUnknownIdentifierReference,
		},
		{
			name: "duplicate entity id",
			decls: []EntityDeclaration{
				{EntityID: "x", Interface: "can0", StatusDGN: 0x1FEDA},
				{EntityID: "x", Interface: "can1", StatusDGN: 0x1FF9C},
			},
			wantErr: ErrDuplicateEntity,
		},
		{
			name: "unresolved interface",
			decls: []EntityDeclaration{{EntityID: "x", Interface: "chassis",
				StatusDGN: 0x1FEDA}},
			wantErr: ErrUnresolvedInterface,
		},
		{
			name: "missing interface",
			decls: []EntityDeclaration{{EntityID: "x",
				StatusDGN: 0x1FEDA}},
			wantErr: ErrInvalidMapping,
		},
		{
			name: "capability not a field",
			decls: []EntityDeclaration{{EntityID: "x", Interface: "can0",
				StatusDGN: 0x1FEDA, Capabilities: []string{"no_such_field"}}},
			wantErr: ErrInvalidMapping,
		},
		{
			name:    "missing entity id",
			decls:   []EntityDeclaration{{Interface: "can0", StatusDGN: 0x1FEDA}},
			wantErr: ErrInvalidMapping,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewMapping("c", tt.decls, spec, testResolver())
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("NewMapping() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestMappingLookupPrecedence(t *testing.T) {
	spec := testProtocolSpec(t)

	m, err := NewMapping("c", []EntityDeclaration{
		{EntityID: "light_exact", Interface: "can0", StatusDGN: 0x1FEDA, Instance: u8(25)},
		{EntityID: "light_any", Interface: "can0", StatusDGN: 0x1FEDA},
	}, spec, testResolver())
	if err != nil {
		t.Fatalf("NewMapping() error = %v", err)
	}

	// Exact instance match wins over the wildcard declaration.
	decls := m.Lookup(0x1FEDA, 25)
	if len(decls) != 1 || decls[0].EntityID != "light_exact" {
		t.Errorf("Lookup(0x1FEDA, 25) = %v, want light_exact only", ids(decls))
	}

	// Any other instance falls through to the wildcard.
	decls = m.Lookup(0x1FEDA, 7)
	if len(decls) != 1 || decls[0].EntityID != "light_any" {
		t.Errorf("Lookup(0x1FEDA, 7) = %v, want light_any only", ids(decls))
	}

	if decls := m.Lookup(0x1FF9C, 0); decls != nil {
		t.Errorf("Lookup(unmapped DGN) = %v, want nil", ids(decls))
	}
}

func ids(decls []*EntityDeclaration) []string {
	out := make([]string, len(decls))
	for i, d := range decls {
		out[i] = d.EntityID
	}
	return out
}

func TestDeclarationConsumes(t *testing.T) {
	scoped := EntityDeclaration{Capabilities: []string{"operating_status"}}
	if !scoped.Consumes("operating_status") {
		t.Error("scoped declaration should consume its listed field")
	}
	if scoped.Consumes("brightness") {
		t.Error("scoped declaration should not consume unlisted fields")
	}

	open := EntityDeclaration{}
	if !open.Consumes("anything") {
		t.Error("empty capability set should consume every field")
	}
}

func TestLoadMappingFile(t *testing.T) {
	doc := `
coach:
  name: demo-coach
entities:
  - id: light_kitchen_overhead
    device_type: light
    suggested_area: kitchen
    interface: house
    status_dgn: 0x1FEDA
    command_dgn: 0x1FEDB
    instance: 25
    capabilities: [operating_status, brightness]
`
	path := filepath.Join(t.TempDir(), "coach.yaml")
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("writing temp mapping: %v", err)
	}

	m, err := Load(path, testProtocolSpec(t), testResolver())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	decls := m.Lookup(0x1FEDA, 25)
	if len(decls) != 1 || decls[0].EntityID != "light_kitchen_overhead" {
		t.Errorf("Lookup() after Load = %v", ids(decls))
	}
	if m.CoachName != "demo-coach" {
		t.Errorf("CoachName = %q, want demo-coach", m.CoachName)
	}
}

func TestLoadMappingInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "coach.yaml")
	if err := os.WriteFile(path, []byte("entities: [not: valid: yaml"), 0o600); err != nil {
		t.Fatalf("writing temp mapping: %v", err)
	}

	if _, err := Load(path, testProtocolSpec(t), testResolver()); !errors.Is(err, ErrInvalidMapping) {
		t.Errorf("Load() error = %v, want ErrInvalidMapping", err)
	}
}

func TestStoreAtomicSwap(t *testing.T) {
	spec := testProtocolSpec(t)
	resolver := testResolver()

	first, err := NewMapping("first", []EntityDeclaration{
		{EntityID: "a", Interface: "can0", StatusDGN: 0x1FEDA},
	}, spec, resolver)
	if err != nil {
		t.Fatalf("NewMapping() error = %v", err)
	}

	store := NewStore(first)
	held := store.Snapshot()

	second, err := NewMapping("second", []EntityDeclaration{
		{EntityID: "b", Interface: "can1", StatusDGN: 0x1FF9C},
	}, spec, resolver)
	if err != nil {
		t.Fatalf("NewMapping() error = %v", err)
	}
	store.Replace(second)

	// A snapshot taken before the swap keeps its consistent view.
	if held.CoachName != "first" {
		t.Errorf("held snapshot = %q, want first", held.CoachName)
	}
	if store.Snapshot().CoachName != "second" {
		t.Errorf("current snapshot = %q, want second", store.Snapshot().CoachName)
	}
}
