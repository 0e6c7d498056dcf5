// Package entity holds the live state of every mapped device and turns
// decoded messages into change events.
//
// The store is the principal shared mutable resource in the pipeline.
// Same-entity updates are serialized through striped locks while distinct
// entities update in parallel, and all reads hand out deep copies.
// Change detection is semantic: an event fires only when a field's
// resolved value differs from the prior state, so constant telemetry
// re-sends never storm downstream consumers.
package entity
