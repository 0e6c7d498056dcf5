package coach

import "sort"

// EntityDeclaration binds one entity to its wire identity: the DGNs it
// listens to and commands with, the instance it answers to, and the
// logical interface its frames travel on.
type EntityDeclaration struct {
	// EntityID is the stable entity identifier ("light_kitchen_overhead").
	EntityID string `yaml:"id"`

	// DeviceType classifies the entity ("light", "tank", "thermostat").
	DeviceType string `yaml:"device_type"`

	// SuggestedArea is the human-facing location hint.
	SuggestedArea string `yaml:"suggested_area,omitempty"`

	// Interface is the logical or physical interface name the entity's
	// frames arrive on and commands are sent to.
	Interface string `yaml:"interface"`

	// StatusDGN is the DGN carrying this entity's state reports.
	StatusDGN uint32 `yaml:"status_dgn"`

	// CommandDGN is the DGN used to command the entity. Zero for
	// read-only entities.
	CommandDGN uint32 `yaml:"command_dgn,omitempty"`

	// Instance selects the device within the DGN. Nil matches any
	// instance (wildcard).
	Instance *uint8 `yaml:"instance,omitempty"`

	// Capabilities names the specification fields this entity consumes.
	// Empty means all fields of the status DGN.
	Capabilities []string `yaml:"capabilities,omitempty"`
}

// Wildcard reports whether this declaration matches any instance.
func (d *EntityDeclaration) Wildcard() bool {
	return d.Instance == nil
}

// Consumes reports whether the declaration's capability set includes the
// named field. An empty capability set consumes every field.
func (d *EntityDeclaration) Consumes(field string) bool {
	if len(d.Capabilities) == 0 {
		return true
	}
	for _, c := range d.Capabilities {
		if c == field {
			return true
		}
	}
	return false
}

// mappingKey is the composite lookup key. Wildcard declarations are
// indexed separately so exact matches take precedence.
type mappingKey struct {
	dgn      uint32
	instance uint8
}

// Mapping is the immutable per-coach binding of (DGN, instance) to entity
// declarations. It is built once by Load and never mutated; reload
// replaces the whole structure through a Store.
type Mapping struct {
	// CoachName labels the vehicle this mapping describes.
	CoachName string

	exact    map[mappingKey][]*EntityDeclaration
	wildcard map[uint32][]*EntityDeclaration
	byID     map[string]*EntityDeclaration
}

// Lookup returns the entity declarations matching a decoded message.
// An exact (DGN, instance) match takes precedence over wildcard-instance
// declarations for the same DGN; the two never mix in one result.
//
// Parameters:
//   - dgn: Message identifier
//   - instance: Decoded instance value
//
// Returns:
//   - []*EntityDeclaration: Matching declarations (shared, read-only);
//     nil when nothing matches
func (m *Mapping) Lookup(dgn uint32, instance uint8) []*EntityDeclaration {
	if decls, ok := m.exact[mappingKey{dgn: dgn, instance: instance}]; ok {
		return decls
	}
	return m.wildcard[dgn]
}

// Entity returns the declaration for an entity id.
//
// Returns:
//   - *EntityDeclaration: The declaration (shared, read-only)
//   - error: ErrEntityNotFound if the id is undeclared
func (m *Mapping) Entity(id string) (*EntityDeclaration, error) {
	d, ok := m.byID[id]
	if !ok {
		return nil, ErrEntityNotFound
	}
	return d, nil
}

// Entities returns all declared entity ids in ascending order.
func (m *Mapping) Entities() []string {
	out := make([]string, 0, len(m.byID))
	for id := range m.byID {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of declared entities.
func (m *Mapping) Len() int {
	return len(m.byID)
}
