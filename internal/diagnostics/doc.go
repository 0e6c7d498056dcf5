// Package diagnostics inventories the traffic the core cannot interpret.
//
// Frames carrying a DGN absent from the protocol specification are
// routed here instead of being silently dropped: each distinct
// (DGN, source, transport) triple is tracked with a counter and its most
// recent payload, bounded by a distinct-identifier cap. The store is an
// explicit handle owned by the diagnostics feature — never an ambient
// process-wide cache — and defaults to an in-memory database so the
// inventory is session-scoped.
package diagnostics
