package coach

import "fmt"

// Resolver translates portable logical interface names ("house",
// "chassis") into the physical transport ids configured on this
// installation ("can0"). Physical ids pass through unchanged, so a
// mapping file may name interfaces either way.
//
// The resolver is immutable after construction; concurrent readers need
// no locking.
type Resolver struct {
	logical  map[string]string
	physical map[string]struct{}
}

// NewResolver builds an interface resolver.
//
// Parameters:
//   - logical: Logical name → physical id table (may be nil)
//   - physical: Physical transport ids configured on this installation
//
// Returns:
//   - *Resolver: Resolver accepting both naming styles
func NewResolver(logical map[string]string, physical []string) *Resolver {
	r := &Resolver{
		logical:  make(map[string]string, len(logical)),
		physical: make(map[string]struct{}, len(physical)),
	}
	for name, id := range logical {
		r.logical[name] = id
	}
	for _, id := range physical {
		r.physical[id] = struct{}{}
	}
	return r
}

// Resolve maps an interface name to a physical transport id.
//
// Parameters:
//   - name: Logical name or physical id
//
// Returns:
//   - string: Physical transport id
//   - error: ErrUnmapped when the name is neither physical nor mapped
func (r *Resolver) Resolve(name string) (string, error) {
	if id, ok := r.logical[name]; ok {
		return id, nil
	}
	if _, ok := r.physical[name]; ok {
		return name, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnmapped, name)
}
