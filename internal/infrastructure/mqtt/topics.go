package mqtt

import "fmt"

// Topic prefixes for the RV-Link MQTT namespace.
//
// All topics use the flat scheme: rvlink/{category}/{id}/{suffix}
const (
	// TopicPrefix is the base for all RV-Link topics.
	TopicPrefix = "rvlink"

	// TopicPrefixEntity is the base for canonical entity topics.
	TopicPrefixEntity = "rvlink/entity"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "rvlink/system"

	// TopicPrefixDiagnostics is the base for diagnostics topics.
	TopicPrefixDiagnostics = "rvlink/diagnostics"
)

// Topics provides builders for RV-Link MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	stateTopic := topics.EntityState("light_kitchen_overhead")
//	// Returns: "rvlink/entity/light_kitchen_overhead/state"
type Topics struct{}

// EntityState returns the canonical entity state topic.
// This is the authoritative state published after a decoded message is
// applied to the entity store.
//
// Example: rvlink/entity/light_kitchen_overhead/state
func (Topics) EntityState(entityID string) string {
	return fmt.Sprintf("%s/%s/state", TopicPrefixEntity, entityID)
}

// EntityEvent returns the topic for entity change events.
// Unlike state topics, event payloads carry only the changed fields.
//
// Example: rvlink/entity/light_kitchen_overhead/event
func (Topics) EntityEvent(entityID string) string {
	return fmt.Sprintf("%s/%s/event", TopicPrefixEntity, entityID)
}

// EntityCommand returns the topic for control commands to an entity.
//
// Example: rvlink/entity/water_pump/command
func (Topics) EntityCommand(entityID string) string {
	return fmt.Sprintf("%s/%s/command", TopicPrefixEntity, entityID)
}

// SystemStatus returns the system status topic (online/offline, LWT).
//
// Example: rvlink/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// SystemHealth returns the topic for the aggregate feature health
// document. Distinct from SystemStatus, which carries only the
// online/offline presence payload and its LWT.
//
// Example: rvlink/system/health
func (Topics) SystemHealth() string {
	return fmt.Sprintf("%s/health", TopicPrefixSystem)
}

// FeatureHealth returns the topic for per-feature health status.
//
// Example: rvlink/system/feature/canbus-house
func (Topics) FeatureHealth(name string) string {
	return fmt.Sprintf("%s/feature/%s", TopicPrefixSystem, name)
}

// Unrecognized returns the topic for unrecognized-frame notifications
// from the diagnostics feature.
//
// Example: rvlink/diagnostics/unrecognized
func (Topics) Unrecognized() string {
	return fmt.Sprintf("%s/unrecognized", TopicPrefixDiagnostics)
}

// AllEntityStates returns a pattern matching all entity state topics.
//
// Pattern: rvlink/entity/+/state
func (Topics) AllEntityStates() string {
	return fmt.Sprintf("%s/+/state", TopicPrefixEntity)
}

// AllEntityCommands returns a pattern matching all entity command topics.
//
// Pattern: rvlink/entity/+/command
func (Topics) AllEntityCommands() string {
	return fmt.Sprintf("%s/+/command", TopicPrefixEntity)
}

// AllTopics returns a pattern matching all RV-Link topics.
// Use with caution - this receives ALL traffic.
//
// Pattern: rvlink/#
func (Topics) AllTopics() string {
	return TopicPrefix + "/#"
}
