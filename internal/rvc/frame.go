package rvc

import (
	"fmt"
	"time"
)

// 29-bit identifier layout (CAN 2.0B extended frame, RV-C addressing):
//
//	Bits 26-28: priority (0 = highest)
//	Bit  25:    reserved (always 0)
//	Bits 8-24:  DGN — data page (1) + PDU format (8) + PDU specific (8)
//	Bits 0-7:   source address
const (
	priorityShift = 26
	priorityMask  = 0x7

	dgnShift = 8
	dgnMask  = 0x1FFFF

	sourceMask = 0xFF

	// maxID is the largest valid 29-bit identifier.
	maxID = 0x1FFFFFFF
)

// singleFrameCapacity is the payload capacity of one CAN frame.
const singleFrameCapacity = 8

// DefaultPriority is the arbitration priority used for outgoing frames
// unless the specification entry overrides it.
const DefaultPriority uint8 = 6

// Frame is the common raw-message envelope every transport variant emits.
//
// A Frame may be a single CAN frame or a multi-frame payload already
// reassembled by the Assembler; the decode engine treats both the same.
type Frame struct {
	// ID is the 29-bit arbitration identifier.
	ID uint32

	// Data is the payload (up to 8 bytes for a single frame; longer for
	// reassembled multi-frame messages).
	Data []byte

	// Timestamp records when the frame was received.
	Timestamp time.Time

	// Transport is the physical transport id the frame arrived on
	// (e.g., "can0", "geniptank0").
	Transport string
}

// Priority returns the arbitration priority (0-7, 0 = highest).
func (f Frame) Priority() uint8 {
	return uint8((f.ID >> priorityShift) & priorityMask)
}

// DGN returns the 17-bit data group number.
func (f Frame) DGN() uint32 {
	return (f.ID >> dgnShift) & dgnMask
}

// Source returns the 8-bit source address of the sending node.
func (f Frame) Source() uint8 {
	return uint8(f.ID & sourceMask)
}

// Validate checks the frame for structural problems.
//
// Returns:
//   - error: ErrInvalidFrame if the identifier exceeds 29 bits or the
//     payload is empty
func (f Frame) Validate() error {
	if f.ID > maxID {
		return fmt.Errorf("%w: identifier 0x%X exceeds 29 bits", ErrInvalidFrame, f.ID)
	}
	if len(f.Data) == 0 {
		return fmt.Errorf("%w: empty payload", ErrInvalidFrame)
	}
	return nil
}

// String returns a human-readable representation of the frame.
func (f Frame) String() string {
	return fmt.Sprintf("Frame{DGN:%05X, Src:%02X, Prio:%d, Data:%X}",
		f.DGN(), f.Source(), f.Priority(), f.Data)
}

// BuildID composes a 29-bit identifier from its parts.
//
// Parameters:
//   - priority: Arbitration priority (0-7; masked)
//   - dgn: 17-bit data group number (masked)
//   - source: Source address of the sending node
//
// Returns:
//   - uint32: Composed identifier
func BuildID(priority uint8, dgn uint32, source uint8) uint32 {
	return uint32(priority&priorityMask)<<priorityShift |
		(dgn&dgnMask)<<dgnShift |
		uint32(source)
}

// NewFrame creates a Frame for sending.
//
// Parameters:
//   - priority: Arbitration priority
//   - dgn: Data group number
//   - source: Source address of this node
//   - data: Payload bytes
//
// Returns:
//   - Frame: Frame with timestamp set to now
func NewFrame(priority uint8, dgn uint32, source uint8, data []byte) Frame {
	return Frame{
		ID:        BuildID(priority, dgn, source),
		Data:      data,
		Timestamp: time.Now(),
	}
}
