package coach

import "sync/atomic"

// Store publishes the active Mapping snapshot. Reload builds a complete
// replacement off the hot path, then Replace publishes it as one atomic
// pointer update, so in-flight decodes observe either the old snapshot or
// the new one, never a mix.
type Store struct {
	current atomic.Pointer[Mapping]
}

// NewStore creates a store holding the initial mapping.
func NewStore(m *Mapping) *Store {
	s := &Store{}
	s.current.Store(m)
	return s
}

// Snapshot returns the active mapping. The returned mapping is immutable;
// callers may hold it across a reload and keep a consistent view.
func (s *Store) Snapshot() *Mapping {
	return s.current.Load()
}

// Replace publishes a new mapping snapshot. The caller validates the
// replacement (via Load or NewMapping) before publishing.
func (s *Store) Replace(m *Mapping) {
	s.current.Store(m)
}
