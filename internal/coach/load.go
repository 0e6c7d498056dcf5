package coach

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/rvlink/rvlink-core/internal/rvc"
)

// mappingDocument is the YAML shape of a coach mapping file.
type mappingDocument struct {
	Coach struct {
		Name string `yaml:"name"`
	} `yaml:"coach"`
	Entities []EntityDeclaration `yaml:"entities"`
}

// Load reads a coach mapping file and validates it against the protocol
// specification and the interface resolver.
//
// Validation enforces the load-time invariants:
//   - every referenced status/command DGN exists in the specification
//     (ErrUnknownIdentifierReference)
//   - every referenced interface resolves to a physical transport
//     (ErrUnresolvedInterface)
//   - entity ids are unique (ErrDuplicateEntity)
//   - every declared capability names a field of the status DGN
//
// Parameters:
//   - path: Path to the YAML mapping file
//   - spec: Protocol specification to validate DGN references against
//   - resolver: Interface resolver for the configured transports
//
// Returns:
//   - *Mapping: Validated, immutable mapping
//   - error: One of the mapping errors, wrapped with context
func Load(path string, spec *rvc.Specification, resolver *Resolver) (*Mapping, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading coach mapping: %w", err)
	}

	var doc mappingDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMapping, err)
	}

	return NewMapping(doc.Coach.Name, doc.Entities, spec, resolver)
}

// NewMapping builds a validated Mapping from pre-parsed declarations.
//
// Parameters:
//   - coachName: Vehicle label for diagnostics
//   - decls: Entity declarations (copied; caller may reuse the slice)
//   - spec: Protocol specification to validate DGN references against
//   - resolver: Interface resolver for the configured transports
//
// Returns:
//   - *Mapping: Validated, immutable mapping
//   - error: One of the mapping errors describing the first problem found
func NewMapping(coachName string, decls []EntityDeclaration, spec *rvc.Specification, resolver *Resolver) (*Mapping, error) {
	m := &Mapping{
		CoachName: coachName,
		exact:     make(map[mappingKey][]*EntityDeclaration),
		wildcard:  make(map[uint32][]*EntityDeclaration),
		byID:      make(map[string]*EntityDeclaration, len(decls)),
	}

	for i := range decls {
		d := decls[i]
		if d.EntityID == "" {
			return nil, fmt.Errorf("%w: declaration %d has no id", ErrInvalidMapping, i)
		}
		if _, dup := m.byID[d.EntityID]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateEntity, d.EntityID)
		}

		entry, ok := spec.Lookup(d.StatusDGN)
		if !ok {
			return nil, fmt.Errorf("%w: %s: status DGN 0x%05X",
				ErrUnknownIdentifierReference, d.EntityID, d.StatusDGN)
		}
		if d.CommandDGN != 0 {
			if _, ok := spec.Lookup(d.CommandDGN); !ok {
				return nil, fmt.Errorf("%w: %s: command DGN 0x%05X",
					ErrUnknownIdentifierReference, d.EntityID, d.CommandDGN)
			}
		}

		for _, c := range d.Capabilities {
			if _, ok := entry.FieldByName(c); !ok {
				return nil, fmt.Errorf("%w: %s: capability %q is not a field of %s",
					ErrInvalidMapping, d.EntityID, c, entry.Name)
			}
		}

		if d.Interface == "" {
			return nil, fmt.Errorf("%w: %s: no interface", ErrInvalidMapping, d.EntityID)
		}
		if _, err := resolver.Resolve(d.Interface); err != nil {
			return nil, fmt.Errorf("%w: %s: interface %q",
				ErrUnresolvedInterface, d.EntityID, d.Interface)
		}

		m.byID[d.EntityID] = &d
		if d.Wildcard() {
			m.wildcard[d.StatusDGN] = append(m.wildcard[d.StatusDGN], &d)
		} else {
			key := mappingKey{dgn: d.StatusDGN, instance: *d.Instance}
			m.exact[key] = append(m.exact[key], &d)
		}
	}

	return m, nil
}
