package rvc

import (
	"fmt"
	"sync"
	"time"
)

// Multi-frame segmentation constants.
//
// A multi-frame payload is carried as a run of single frames whose first
// byte is a 0-based sequence marker, leaving 7 payload bytes per frame.
// Fragments must arrive in order; an unexpected marker restarts the
// assembly from that fragment if it is the first, otherwise drops it.
const (
	// fragmentHeader is the sequence marker size per fragment.
	fragmentHeader = 1

	// fragmentCapacity is the payload capacity per fragment.
	fragmentCapacity = singleFrameCapacity - fragmentHeader

	// DefaultAssemblyTimeout bounds how long an incomplete assembly may
	// wait for its next fragment before eviction.
	DefaultAssemblyTimeout = 2 * time.Second

	// DefaultAssemblyCapacity bounds the number of concurrent in-flight
	// assemblies across all transports.
	DefaultAssemblyCapacity = 64
)

// assemblyKey identifies one in-flight reassembly. Keyed per
// (transport, source, DGN) so interleaved senders cannot corrupt each
// other's buffers.
type assemblyKey struct {
	transport string
	source    uint8
	dgn       uint32
}

// assembly is one in-flight multi-frame buffer.
type assembly struct {
	data     []byte
	next     int // next expected sequence marker
	expected int // total fragment count
	deadline time.Time
	first    Frame // first fragment, carries id/timestamp for the result
}

// Expired describes an assembly evicted by Sweep before completion.
type Expired struct {
	Transport string
	Source    uint8
	DGN       uint32
	Received  int
	Expected  int
	Err       error
}

// Assembler is the explicit expiring-entry arena for multi-frame
// reassembly. Entries carry their own expiry timestamps and are evicted
// by one periodic Sweep call — there are no per-assembly timers.
//
// All methods are safe for concurrent use from multiple receive loops.
type Assembler struct {
	mu      sync.Mutex
	entries map[assemblyKey]*assembly

	timeout  time.Duration
	capacity int
}

// NewAssembler creates a reassembly arena.
//
// Parameters:
//   - timeout: Per-assembly inactivity bound (0 = DefaultAssemblyTimeout)
//   - capacity: Maximum concurrent assemblies (0 = DefaultAssemblyCapacity)
func NewAssembler(timeout time.Duration, capacity int) *Assembler {
	if timeout <= 0 {
		timeout = DefaultAssemblyTimeout
	}
	if capacity <= 0 {
		capacity = DefaultAssemblyCapacity
	}
	return &Assembler{
		entries:  make(map[assemblyKey]*assembly),
		timeout:  timeout,
		capacity: capacity,
	}
}

// Add feeds one fragment into the arena.
//
// Parameters:
//   - frame: Raw fragment (payload = marker byte + up to 7 data bytes)
//   - entry: Specification entry for the frame's DGN (must be multi-frame)
//
// Returns:
//   - Frame: The reassembled frame when this fragment completes the
//     payload; zero Frame otherwise
//   - bool: true when the assembly completed
//   - error: ErrInvalidFrame for malformed fragments
func (a *Assembler) Add(frame Frame, entry *Entry) (Frame, bool, error) {
	if len(frame.Data) < fragmentHeader+1 {
		return Frame{}, false, fmt.Errorf("%w: fragment too short", ErrInvalidFrame)
	}

	seq := int(frame.Data[0])
	payload := frame.Data[fragmentHeader:]
	expected := (entry.PayloadBytes + fragmentCapacity - 1) / fragmentCapacity
	key := assemblyKey{transport: frame.Transport, source: frame.Source(), dgn: frame.DGN()}

	a.mu.Lock()
	defer a.mu.Unlock()

	asm, ok := a.entries[key]
	if !ok || seq == 0 {
		if seq != 0 {
			// Mid-sequence fragment with no assembly in flight: the
			// opening fragments were lost, nothing to do but wait for
			// the next full run.
			return Frame{}, false, nil
		}
		a.evictIfFull()
		asm = &assembly{
			data:     make([]byte, 0, entry.PayloadBytes),
			expected: expected,
			first:    frame,
		}
		a.entries[key] = asm
	}

	if seq != asm.next {
		// Lost fragment: drop the partial assembly, the sweep would
		// only age it out later.
		delete(a.entries, key)
		return Frame{}, false, nil
	}

	asm.data = append(asm.data, payload...)
	asm.next++
	asm.deadline = frame.Timestamp.Add(a.timeout)

	if asm.next < asm.expected {
		return Frame{}, false, nil
	}

	delete(a.entries, key)
	if len(asm.data) > entry.PayloadBytes {
		asm.data = asm.data[:entry.PayloadBytes]
	}

	return Frame{
		ID:        asm.first.ID,
		Data:      asm.data,
		Timestamp: asm.first.Timestamp,
		Transport: asm.first.Transport,
	}, true, nil
}

// Sweep evicts assemblies whose deadline has passed. It is intended to be
// driven by a single periodic compaction task.
//
// Parameters:
//   - now: Current time (injected for testability)
//
// Returns:
//   - []Expired: Evicted assemblies, each carrying ErrIncompleteAssembly
func (a *Assembler) Sweep(now time.Time) []Expired {
	a.mu.Lock()
	defer a.mu.Unlock()

	var expired []Expired
	for key, asm := range a.entries {
		if now.Before(asm.deadline) {
			continue
		}
		expired = append(expired, Expired{
			Transport: key.transport,
			Source:    key.source,
			DGN:       key.dgn,
			Received:  asm.next,
			Expected:  asm.expected,
			Err: fmt.Errorf("%w: DGN 0x%05X from %02X, %d/%d fragments",
				ErrIncompleteAssembly, key.dgn, key.source, asm.next, asm.expected),
		})
		delete(a.entries, key)
	}
	return expired
}

// Pending returns the number of in-flight assemblies.
func (a *Assembler) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.entries)
}

// evictIfFull drops the assembly with the earliest deadline when the
// arena is at capacity. Caller holds the lock.
func (a *Assembler) evictIfFull() {
	if len(a.entries) < a.capacity {
		return
	}
	var oldest assemblyKey
	var oldestDeadline time.Time
	first := true
	for key, asm := range a.entries {
		if first || asm.deadline.Before(oldestDeadline) {
			oldest = key
			oldestDeadline = asm.deadline
			first = false
		}
	}
	delete(a.entries, oldest)
}

// Fragment splits a payload wider than one frame into sequence-marked
// fragments ready to send. Single-frame payloads are returned unchanged.
//
// Parameters:
//   - frame: Frame whose Data may exceed the single-frame capacity
//
// Returns:
//   - []Frame: Wire-ready frames, in transmit order
func Fragment(frame Frame) []Frame {
	if len(frame.Data) <= singleFrameCapacity {
		return []Frame{frame}
	}

	var out []Frame
	for seq := 0; seq*fragmentCapacity < len(frame.Data); seq++ {
		start := seq * fragmentCapacity
		end := start + fragmentCapacity
		if end > len(frame.Data) {
			end = len(frame.Data)
		}
		data := make([]byte, 0, singleFrameCapacity)
		data = append(data, byte(seq))
		data = append(data, frame.Data[start:end]...)
		out = append(out, Frame{
			ID:        frame.ID,
			Data:      data,
			Timestamp: frame.Timestamp,
			Transport: frame.Transport,
		})
	}
	return out
}
