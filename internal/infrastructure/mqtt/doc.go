// Package mqtt provides MQTT client connectivity for RV-Link Core.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Subscription handling with automatic restoration on reconnect
//   - Last Will and Testament for offline detection
//
// MQTT is the boundary between this core and the external presentation
// layer: entity change events are published to rvlink/entity/{id}/event
// and control commands arrive on rvlink/entity/{id}/command. The core
// never serves HTTP or WebSocket traffic itself.
//
// # Topic Hierarchy
//
//	rvlink/entity/{id}/state       canonical entity state (retained)
//	rvlink/entity/{id}/event       change events (changed fields only)
//	rvlink/entity/{id}/command     inbound control commands
//	rvlink/system/status           core online/offline status (retained, LWT)
//	rvlink/system/feature/{name}   per-feature health
//	rvlink/diagnostics/unrecognized  unknown-identifier notifications
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return fmt.Errorf("connecting to MQTT: %w", err)
//	}
//	defer client.Close()
//
//	topic := mqtt.Topics{}.EntityState("light_kitchen_overhead")
//	err = client.Publish(topic, payload, 1, true)
package mqtt
