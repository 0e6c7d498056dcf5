// Package bridge wires the data path of the system.
//
// Inbound: every transport's receive loop feeds frames through
// multi-frame reassembly and the decode engine into the entity store;
// the resulting change events are published on the entity state and
// event topics. Frames the specification does not cover go to the
// diagnostics inventory, never to the floor.
//
// Outbound: command payloads arriving on the entity command topics are
// encoded against the entity's command DGN and sent on the transport
// its coach mapping resolves to, under a caller-visible send deadline.
package bridge
