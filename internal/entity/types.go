package entity

import (
	"time"

	"github.com/rvlink/rvlink-core/internal/rvc"
)

// Device types observed on RV-C networks. The mapping file classifies
// each entity with one of these; unknown types are carried through
// untouched so new device classes need no code change here.
const (
	TypeLight      = "light"
	TypeTank       = "tank"
	TypeThermostat = "thermostat"
	TypePump       = "pump"
	TypeGenerator  = "generator"
	TypeLock       = "lock"
	TypeAwning     = "awning"
	TypeSwitch     = "switch"
	TypeSensor     = "sensor"
)

// Entity is the live state of one mapped device.
type Entity struct {
	// ID is the stable entity identifier from the coach mapping.
	ID string `json:"id"`

	// DeviceType classifies the entity (TypeLight, TypeTank, ...).
	DeviceType string `json:"device_type"`

	// Area is the suggested location from the coach mapping.
	Area string `json:"area,omitempty"`

	// State holds the last resolved value per field name.
	State map[string]rvc.FieldValue `json:"state"`

	// Source is the address of the node that last reported.
	Source uint8 `json:"source"`

	// Transport is the transport id the last report arrived on.
	Transport string `json:"transport"`

	// LastSeen is the timestamp of the last report, whether or not it
	// changed any field.
	LastSeen time.Time `json:"last_seen"`
}

// DeepCopy returns an independent copy. Callers may modify the copy
// without affecting the store.
func (e *Entity) DeepCopy() *Entity {
	if e == nil {
		return nil
	}
	cp := *e
	cp.State = make(map[string]rvc.FieldValue, len(e.State))
	for k, v := range e.State {
		cp.State[k] = v
	}
	return &cp
}

// ChangeEvent reports that an entity's resolved state changed. Events are
// emitted only for semantic changes; a re-send carrying identical values
// refreshes LastSeen but produces no event.
type ChangeEvent struct {
	// EntityID identifies the changed entity.
	EntityID string `json:"entity_id"`

	// ChangedFields holds only the fields whose resolved value differs
	// from the prior state.
	ChangedFields map[string]rvc.FieldValue `json:"changed_fields"`

	// Snapshot is the full entity state after the change.
	Snapshot *Entity `json:"snapshot"`

	// Timestamp is the receipt time of the triggering message.
	Timestamp time.Time `json:"timestamp"`
}
