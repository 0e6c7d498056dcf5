// Package coach binds the wire protocol to one vehicle's devices.
//
// A coach mapping declares, per entity, the DGNs it reports and accepts
// commands on, the instance it answers to (or a wildcard), and the
// interface its frames travel on. Interfaces may be named logically
// ("house") for portability across installations; the Resolver translates
// logical names to the physical transport ids configured locally.
//
// Mappings are validated at load against the protocol specification and
// the configured transports, then frozen. A configuration reload builds a
// whole new Mapping and publishes it through Store as a single atomic
// pointer swap.
package coach
