package entity

import (
	"hash/fnv"
	"sort"
	"sync"

	"github.com/rvlink/rvlink-core/internal/coach"
	"github.com/rvlink/rvlink-core/internal/rvc"
)

// Logger defines the logging interface used by the Store.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// stripeCount sizes the per-entity lock table. Power of two so the hash
// reduces with a mask.
const stripeCount = 32

// Handler receives change events synchronously from Apply. Handlers must
// not block; slow consumers should hand off to their own queue.
type Handler func(ChangeEvent)

// Store holds live entity state and emits change events.
//
// Concurrency: updates to one entity are serialized through a lock stripe
// keyed by entity id, while updates to distinct entities proceed in
// parallel. Reads return deep copies, never live references.
//
// All public methods are thread-safe.
type Store struct {
	mu       sync.RWMutex
	entities map[string]*Entity

	stripes [stripeCount]sync.Mutex

	handlerMu sync.RWMutex
	handlers  []Handler

	logger Logger
}

// NewStore creates an empty entity store.
func NewStore() *Store {
	return &Store{
		entities: make(map[string]*Entity),
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger for the store.
func (s *Store) SetLogger(logger Logger) {
	s.logger = logger
}

// OnChange registers a handler for change events. Handlers run
// synchronously inside Apply, after the entity's stripe lock is released.
func (s *Store) OnChange(h Handler) {
	s.handlerMu.Lock()
	defer s.handlerMu.Unlock()
	s.handlers = append(s.handlers, h)
}

// Apply merges a decoded message into the state of every mapped entity.
//
// For each matching declaration, fields within the entity's capability
// set are merged into its state. An event is emitted only when at least
// one field's resolved value differs from the prior value; constant
// telemetry re-sends refresh LastSeen silently.
//
// Parameters:
//   - msg: Decoded message
//   - mapping: Coach mapping snapshot to resolve entities against
//
// Returns:
//   - []ChangeEvent: One event per entity that semantically changed
func (s *Store) Apply(msg *rvc.DecodedMessage, mapping *coach.Mapping) []ChangeEvent {
	decls := mapping.Lookup(msg.DGN, msg.Instance)
	if len(decls) == 0 {
		return nil
	}

	var events []ChangeEvent
	for _, decl := range decls {
		if ev, changed := s.applyOne(msg, decl); changed {
			events = append(events, ev)
		}
	}

	if len(events) > 0 {
		s.handlerMu.RLock()
		handlers := s.handlers
		s.handlerMu.RUnlock()
		for _, ev := range events {
			for _, h := range handlers {
				h(ev)
			}
		}
	}

	return events
}

// applyOne merges the message into a single entity under its stripe lock.
func (s *Store) applyOne(msg *rvc.DecodedMessage, decl *coach.EntityDeclaration) (ChangeEvent, bool) {
	stripe := &s.stripes[stripeIndex(decl.EntityID)]
	stripe.Lock()
	defer stripe.Unlock()

	e := s.getOrCreate(decl)

	changed := make(map[string]rvc.FieldValue)
	for name, fv := range msg.Fields {
		if name == rvc.InstanceField || !decl.Consumes(name) {
			continue
		}
		if prev, ok := e.State[name]; ok && prev.Equal(fv) {
			continue
		}
		e.State[name] = fv
		changed[name] = fv
	}

	e.Source = msg.Source
	e.Transport = msg.Transport
	e.LastSeen = msg.Timestamp

	if len(changed) == 0 {
		return ChangeEvent{}, false
	}

	s.logger.Debug("entity state changed",
		"entity_id", decl.EntityID, "fields", len(changed))

	return ChangeEvent{
		EntityID:      decl.EntityID,
		ChangedFields: changed,
		Snapshot:      e.DeepCopy(),
		Timestamp:     msg.Timestamp,
	}, true
}

// getOrCreate returns the live entity record, creating it on first sight.
func (s *Store) getOrCreate(decl *coach.EntityDeclaration) *Entity {
	s.mu.RLock()
	e, ok := s.entities[decl.EntityID]
	s.mu.RUnlock()
	if ok {
		return e
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok = s.entities[decl.EntityID]; ok {
		return e
	}
	e = &Entity{
		ID:         decl.EntityID,
		DeviceType: decl.DeviceType,
		Area:       decl.SuggestedArea,
		State:      make(map[string]rvc.FieldValue),
	}
	s.entities[decl.EntityID] = e
	return e
}

// Get returns a snapshot of one entity.
//
// Parameters:
//   - id: Entity identifier
//
// Returns:
//   - *Entity: Deep copy; callers can safely modify it
//   - error: ErrEntityNotFound if the entity has never reported
func (s *Store) Get(id string) (*Entity, error) {
	stripe := &s.stripes[stripeIndex(id)]
	stripe.Lock()
	defer stripe.Unlock()

	s.mu.RLock()
	e, ok := s.entities[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrEntityNotFound
	}
	return e.DeepCopy(), nil
}

// LastRaw returns the last-known raw wire values for an entity's fields,
// keyed by field name. The encode path uses these to retain untargeted
// fields when building a command frame. Nil when the entity is unknown.
func (s *Store) LastRaw(id string) map[string]uint32 {
	stripe := &s.stripes[stripeIndex(id)]
	stripe.Lock()
	defer stripe.Unlock()

	s.mu.RLock()
	e, ok := s.entities[id]
	s.mu.RUnlock()
	if !ok {
		return nil
	}

	out := make(map[string]uint32, len(e.State))
	for name, fv := range e.State {
		out[name] = fv.Raw
	}
	return out
}

// List returns snapshots of all known entities in id order.
func (s *Store) List() []*Entity {
	s.mu.RLock()
	ids := make([]string, 0, len(s.entities))
	for id := range s.entities {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	sort.Strings(ids)

	out := make([]*Entity, 0, len(ids))
	for _, id := range ids {
		if e, err := s.Get(id); err == nil {
			out = append(out, e)
		}
	}
	return out
}

// Len returns the number of entities the store has seen.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entities)
}

// stripeIndex hashes an entity id onto a lock stripe.
func stripeIndex(id string) int {
	h := fnv.New32a()
	h.Write([]byte(id))
	return int(h.Sum32() & (stripeCount - 1))
}
