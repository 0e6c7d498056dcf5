// Package transport connects physical channels to the decode pipeline.
//
// Every variant implements the same Interface and emits the same frame
// envelope: CANBus speaks a length-prefixed stream protocol to a CAN
// gateway daemon with automatic reconnection; Polled synthesizes frames
// from periodic HTTP status fetches against IP devices; Scan captures
// advertisement broadcasts from wireless sensors. The pipeline treats
// all three identically.
//
// Sends carry a caller-supplied deadline; a miss is reported as
// ErrTransportTimeout and never swallowed — retry policy belongs to the
// caller.
package transport
