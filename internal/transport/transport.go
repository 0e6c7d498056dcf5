package transport

import (
	"context"
	"sync"
	"time"

	"github.com/rvlink/rvlink-core/internal/rvc"
)

// Interface is the common capability set every physical channel
// implements. Heterogeneous variants — a direct bus connection, a polled
// IP device, a passive wireless scanner — all emit the same Frame
// envelope, keeping the decode pipeline transport-agnostic.
//
// The frame stream is non-restartable: after Shutdown, a transport must
// be re-initialized before it delivers again.
type Interface interface {
	// ID returns the physical transport id ("can0").
	ID() string

	// Initialize connects the transport and starts its receive loop.
	Initialize(ctx context.Context) error

	// Shutdown stops the receive loop and releases the channel.
	Shutdown(ctx context.Context) error

	// Send transmits one frame. Receive-only transports return
	// ErrSendUnsupported; a send that misses its deadline returns
	// ErrTransportTimeout.
	Send(ctx context.Context, frame rvc.Frame) error

	// SetOnFrame registers the handler invoked for each received frame.
	// Must be called before Initialize.
	SetOnFrame(func(rvc.Frame))

	// Connected reports whether the transport is currently attached to
	// its channel.
	Connected() bool

	// Devices lists the device addresses observed or configured on this
	// transport.
	Devices() []string

	// Stats returns operational counters.
	Stats() Stats
}

// Stats holds per-transport operational counters.
type Stats struct {
	FramesTx        uint64    `json:"frames_tx"`
	FramesRx        uint64    `json:"frames_rx"`
	FramesDropped   uint64    `json:"frames_dropped"`
	ErrorsTotal     uint64    `json:"errors_total"`
	ReconnectsTotal uint64    `json:"reconnects_total"`
	LastActivity    time.Time `json:"last_activity"`
	Connected       bool      `json:"connected"`
}

// Logger defines the logging interface used by the transports.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// closeOnce wraps a channel with sync.Once to prevent double-close panics.
type closeOnce struct {
	ch   chan struct{}
	once sync.Once
}

func newCloseOnce() *closeOnce {
	return &closeOnce{ch: make(chan struct{})}
}

func (c *closeOnce) Close() {
	c.once.Do(func() { close(c.ch) })
}

func (c *closeOnce) Done() <-chan struct{} {
	return c.ch
}

// sourceSet tracks the node addresses seen on a transport.
type sourceSet struct {
	mu   sync.Mutex
	seen map[uint8]struct{}
}

func newSourceSet() *sourceSet {
	return &sourceSet{seen: make(map[uint8]struct{})}
}

func (s *sourceSet) add(src uint8) {
	s.mu.Lock()
	s.seen[src] = struct{}{}
	s.mu.Unlock()
}

func (s *sourceSet) list() []uint8 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]uint8, 0, len(s.seen))
	for src := range s.seen {
		out = append(out, src)
	}
	return out
}
