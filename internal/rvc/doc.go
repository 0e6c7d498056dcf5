// Package rvc implements the RV-C protocol decode/encode engine.
//
// The engine is a pure, stateless transform between raw CAN frames and
// typed field values, driven by an immutable specification table loaded
// once at startup. Decode and Encode hold no hidden mutable state, so
// multiple transport receive loops call them concurrently against the
// same Specification snapshot.
//
// # Identifier Layout
//
// RV-C runs on CAN 2.0B extended frames. The 29-bit identifier packs the
// arbitration priority, the 17-bit data group number (DGN), and the
// sending node's source address; Frame exposes each part.
//
// # Field Extraction
//
// Fields are addressed by byte, LSB-first bit offset, and width, with
// multi-byte fields in little-endian wire order. A field resolves either
// through a linear scale+offset transform or an enumeration lookup.
// Range violations on decode are attached as warnings to an otherwise
// successful message; on encode they reject the message before packing.
//
// # Multi-Frame Messages
//
// Payloads wider than 8 bytes travel as sequence-marked fragments.
// The Assembler is an expiring-entry arena keyed per (transport, source,
// DGN): fragments accumulate until complete, and one periodic Sweep call
// evicts assemblies that miss the timeout, reporting them as
// ErrIncompleteAssembly.
package rvc
