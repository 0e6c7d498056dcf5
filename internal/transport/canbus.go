package transport

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rvlink/rvlink-core/internal/rvc"
)

// Defaults for CAN gateway communication.
const (
	// defaultConnectTimeout is the maximum time to wait for the initial
	// connection.
	defaultConnectTimeout = 10 * time.Second

	// defaultReadTimeout is the timeout for individual read operations.
	defaultReadTimeout = 30 * time.Second

	// defaultWriteTimeout is the timeout for write operations.
	defaultWriteTimeout = 5 * time.Second

	// defaultReconnectInterval is the initial delay between reconnection
	// attempts.
	defaultReconnectInterval = 5 * time.Second

	// maxReconnectInterval caps the reconnection backoff.
	maxReconnectInterval = 2 * time.Minute

	// readBufferSize bounds a single framed message. A CAN frame is at
	// most id(4) + 8 data bytes behind the size prefix.
	readBufferSize = 64

	// frameQueueSize is the buffer size for the handler queue.
	frameQueueSize = 256

	// frameWorkerCount is the number of concurrent handler workers.
	frameWorkerCount = 4

	// wireHeaderSize is size prefix (2) + identifier (4).
	wireHeaderSize = 6
)

// CANBusConfig holds CAN gateway connection configuration.
type CANBusConfig struct {
	// ID is the physical transport id ("can0").
	ID string

	// Connection is the gateway connection URL.
	// Supported formats:
	//   - "tcp://localhost:29536" (TCP)
	//   - "unix:///run/canbusd" (Unix socket)
	Connection string

	// ConnectTimeout is the maximum time to wait for connection.
	// Default: 10 seconds.
	ConnectTimeout time.Duration

	// ReadTimeout is the timeout for read operations.
	// Default: 30 seconds.
	ReadTimeout time.Duration

	// ReconnectInterval is the initial delay between reconnection
	// attempts. Default: 5 seconds.
	ReconnectInterval time.Duration
}

// CANBus connects to a CAN gateway daemon over a framed stream socket.
//
// Wire format, both directions: a 2-byte big-endian size prefix covering
// the rest of the message, a 4-byte big-endian 29-bit identifier, then
// the payload bytes.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Frame handlers run on a bounded worker pool.
//
// Auto-Reconnection:
//   - On connection loss the receive loop reconnects with exponential
//     backoff, capped at 2 minutes, until Shutdown.
type CANBus struct {
	cfg  CANBusConfig
	conn net.Conn

	connMu    sync.RWMutex
	connected bool

	reconnecting atomic.Bool

	onFrame    func(rvc.Frame)
	callbackMu sync.RWMutex

	frameQueue chan rvc.Frame
	done       *closeOnce
	wg         sync.WaitGroup

	sources *sourceSet
	logger  Logger

	framesTx        atomic.Uint64
	framesRx        atomic.Uint64
	framesDropped   atomic.Uint64
	errorsTotal     atomic.Uint64
	reconnectsTotal atomic.Uint64
	lastActivity    atomic.Int64 // Unix timestamp
}

// Ensure CANBus implements Interface.
var _ Interface = (*CANBus)(nil)

// NewCANBus creates an unconnected CAN bus transport.
func NewCANBus(cfg CANBusConfig) *CANBus {
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}
	if cfg.ReconnectInterval == 0 {
		cfg.ReconnectInterval = defaultReconnectInterval
	}
	return &CANBus{
		cfg:     cfg,
		sources: newSourceSet(),
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger for this transport.
func (c *CANBus) SetLogger(logger Logger) {
	c.logger = logger
}

// ID returns the physical transport id.
func (c *CANBus) ID() string {
	return c.cfg.ID
}

// SetOnFrame registers the frame handler. Must be called before
// Initialize.
func (c *CANBus) SetOnFrame(handler func(rvc.Frame)) {
	c.callbackMu.Lock()
	c.onFrame = handler
	c.callbackMu.Unlock()
}

// Initialize connects to the gateway and starts the receive loop.
//
// Parameters:
//   - ctx: Bounds the initial dial
//
// Returns:
//   - error: ErrConnectionFailed (wrapped) when the gateway is
//     unreachable or the URL is malformed
func (c *CANBus) Initialize(ctx context.Context) error {
	network, address, err := parseConnectionURL(c.cfg.Connection)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(dialCtx, network, address)
	if err != nil {
		return fmt.Errorf("%w: dial: %w", ErrConnectionFailed, err)
	}

	c.connMu.Lock()
	c.conn = conn
	c.connected = true
	c.connMu.Unlock()

	c.done = newCloseOnce()
	c.frameQueue = make(chan rvc.Frame, frameQueueSize)
	c.lastActivity.Store(time.Now().Unix())

	for i := 0; i < frameWorkerCount; i++ {
		c.wg.Add(1)
		go c.frameWorker()
	}
	c.wg.Add(1)
	go c.receiveLoop()

	c.logger.Info("canbus transport connected",
		"transport", c.cfg.ID, "connection", c.cfg.Connection)
	return nil
}

// parseConnectionURL parses a gateway connection URL into network and
// address.
func parseConnectionURL(connURL string) (network, address string, err error) {
	u, err := url.Parse(connURL)
	if err != nil {
		return "", "", fmt.Errorf("invalid URL: %w", err)
	}

	switch u.Scheme {
	case "unix":
		return "unix", u.Path, nil
	case "tcp":
		if u.Host == "" {
			return "", "", fmt.Errorf("tcp URL %q has no host", connURL)
		}
		return "tcp", u.Host, nil
	default:
		return "", "", fmt.Errorf("unsupported scheme %q (use unix or tcp)", u.Scheme)
	}
}

// receiveLoop continuously reads frames from the gateway. On connection
// loss it reconnects with exponential backoff.
func (c *CANBus) receiveLoop() {
	defer c.wg.Done()

	buf := make([]byte, readBufferSize)
	for {
		select {
		case <-c.done.Done():
			return
		default:
		}

		frame, err := c.readFrame(buf)
		if err != nil {
			if !c.handleReadError(err) {
				continue
			}
			if c.isClosed() {
				return
			}
			if !c.reconnect() {
				return
			}
			continue
		}
		if frame == nil {
			continue
		}
		c.handleFrame(*frame)
	}
}

// readFrame reads one framed message. A nil frame with nil error means a
// recoverable parse problem; the caller skips the message.
func (c *CANBus) readFrame(buf []byte) (*rvc.Frame, error) {
	c.connMu.RLock()
	conn := c.conn
	c.connMu.RUnlock()
	if conn == nil {
		return nil, ErrNotConnected
	}

	if err := conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout)); err != nil {
		return nil, fmt.Errorf("set deadline: %w", err)
	}

	if _, err := io.ReadFull(conn, buf[:2]); err != nil {
		return nil, fmt.Errorf("read size: %w", err)
	}

	// Size covers identifier + payload, not the prefix itself.
	msgSize := int(binary.BigEndian.Uint16(buf[:2]))
	if msgSize < 4 {
		c.errorsTotal.Add(1)
		return nil, fmt.Errorf("invalid message size %d", msgSize)
	}

	// An oversized message means the stream framing is lost; skipping an
	// unknown byte count risks corrupting every later frame, so force a
	// clean reconnect.
	if 2+msgSize > len(buf) {
		c.errorsTotal.Add(1)
		return nil, ErrProtocolDesync
	}

	if _, err := io.ReadFull(conn, buf[2:2+msgSize]); err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	id := binary.BigEndian.Uint32(buf[2:6])
	data := make([]byte, msgSize-4)
	copy(data, buf[6:2+msgSize])

	frame := rvc.Frame{
		ID:        id,
		Data:      data,
		Timestamp: time.Now(),
		Transport: c.cfg.ID,
	}
	if err := frame.Validate(); err != nil {
		c.errorsTotal.Add(1)
		c.logger.Warn("dropping malformed frame",
			"transport", c.cfg.ID, "error", err)
		return nil, nil
	}
	return &frame, nil
}

// handleReadError processes a read error and reports whether the
// connection must be re-established.
func (c *CANBus) handleReadError(err error) bool {
	if c.isClosed() {
		return true
	}

	if errors.Is(err, ErrProtocolDesync) {
		c.logger.Error("protocol desync, closing connection",
			"transport", c.cfg.ID, "error", err)
		c.closeConn()
		c.markDisconnected()
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return false // idle bus, keep reading
	}

	c.errorsTotal.Add(1)
	c.logger.Error("read failed", "transport", c.cfg.ID, "error", err)
	c.markDisconnected()
	return true
}

// handleFrame queues a received frame for the worker pool, dropping on
// overflow to bound memory.
func (c *CANBus) handleFrame(frame rvc.Frame) {
	c.framesRx.Add(1)
	c.lastActivity.Store(time.Now().Unix())
	c.sources.add(frame.Source())

	select {
	case c.frameQueue <- frame:
	default:
		c.framesDropped.Add(1)
		c.errorsTotal.Add(1)
		c.logger.Warn("frame queue full, dropping frame", "transport", c.cfg.ID)
	}
}

// frameWorker delivers queued frames to the handler.
func (c *CANBus) frameWorker() {
	defer c.wg.Done()

	for {
		select {
		case <-c.done.Done():
			return
		case frame := <-c.frameQueue:
			c.callbackMu.RLock()
			handler := c.onFrame
			c.callbackMu.RUnlock()
			if handler == nil {
				continue
			}
			func() {
				defer func() {
					if r := recover(); r != nil {
						c.logger.Error("frame handler panic",
							"transport", c.cfg.ID, "panic", r)
					}
				}()
				handler(frame)
			}()
		}
	}
}

// reconnect re-establishes the gateway connection with exponential
// backoff. Returns false when shutdown was signalled.
func (c *CANBus) reconnect() bool {
	if !c.reconnecting.CompareAndSwap(false, true) {
		return !c.isClosed()
	}
	defer c.reconnecting.Store(false)

	network, address, err := parseConnectionURL(c.cfg.Connection)
	if err != nil {
		c.logger.Error("reconnect: invalid connection URL", "error", err)
		return false
	}

	backoff := c.cfg.ReconnectInterval
	for attempt := 1; ; attempt++ {
		if c.isClosed() {
			return false
		}

		c.logger.Info("attempting reconnection",
			"transport", c.cfg.ID, "attempt", attempt, "backoff", backoff.String())
		c.closeConn()

		dialCtx, cancel := context.WithTimeout(context.Background(), c.cfg.ConnectTimeout)
		var dialer net.Dialer
		conn, err := dialer.DialContext(dialCtx, network, address)
		cancel()
		if err == nil {
			c.connMu.Lock()
			c.conn = conn
			c.connected = true
			c.connMu.Unlock()
			c.reconnectsTotal.Add(1)
			c.lastActivity.Store(time.Now().Unix())
			c.logger.Info("reconnection successful",
				"transport", c.cfg.ID, "total_reconnects", c.reconnectsTotal.Load())
			return true
		}

		c.errorsTotal.Add(1)
		c.logger.Error("reconnect failed", "transport", c.cfg.ID, "error", err)

		select {
		case <-c.done.Done():
			return false
		case <-time.After(backoff):
		}
		backoff = time.Duration(float64(backoff) * 1.5)
		if backoff > maxReconnectInterval {
			backoff = maxReconnectInterval
		}
	}
}

// Send transmits one frame to the gateway. Multi-frame payloads are
// fragmented on the wire.
//
// Parameters:
//   - ctx: Deadline for the whole send; expiry returns ErrTransportTimeout
//   - frame: Frame to transmit
//
// Returns:
//   - error: ErrNotConnected, ErrTransportTimeout, or ErrSendFailed
func (c *CANBus) Send(ctx context.Context, frame rvc.Frame) error {
	if !c.Connected() {
		return ErrNotConnected
	}

	for _, f := range rvc.Fragment(frame) {
		if err := c.sendOne(ctx, f); err != nil {
			return err
		}
	}
	c.lastActivity.Store(time.Now().Unix())
	return nil
}

// sendOne writes a single wire frame under the send deadline.
func (c *CANBus) sendOne(ctx context.Context, frame rvc.Frame) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrTransportTimeout, ctx.Err())
	default:
	}

	msg := make([]byte, wireHeaderSize+len(frame.Data))
	binary.BigEndian.PutUint16(msg[0:2], uint16(4+len(frame.Data)))
	binary.BigEndian.PutUint32(msg[2:6], frame.ID)
	copy(msg[wireHeaderSize:], frame.Data)

	deadline := time.Now().Add(defaultWriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.connMu.RLock()
	conn := c.conn
	c.connMu.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}

	if err := conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("%w: set deadline: %v", ErrSendFailed, err)
	}
	if _, err := conn.Write(msg); err != nil {
		c.errorsTotal.Add(1)
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return fmt.Errorf("%w: %v", ErrTransportTimeout, err)
		}
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}

	c.framesTx.Add(1)
	return nil
}

// Shutdown stops the receive loop and closes the connection. Safe to
// call multiple times.
func (c *CANBus) Shutdown(_ context.Context) error {
	if c.done == nil {
		return nil
	}
	c.done.Close()
	c.markDisconnected()
	c.closeConn()
	c.wg.Wait()
	c.logger.Info("canbus transport closed", "transport", c.cfg.ID)
	return nil
}

// Connected reports whether the transport is attached to the gateway.
func (c *CANBus) Connected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected
}

// Devices lists the source addresses observed on the bus, in ascending
// order.
func (c *CANBus) Devices() []string {
	srcs := c.sources.list()
	sort.Slice(srcs, func(i, j int) bool { return srcs[i] < srcs[j] })
	out := make([]string, len(srcs))
	for i, s := range srcs {
		out[i] = fmt.Sprintf("0x%02X", s)
	}
	return out
}

// Stats returns current operational statistics.
func (c *CANBus) Stats() Stats {
	return Stats{
		FramesTx:        c.framesTx.Load(),
		FramesRx:        c.framesRx.Load(),
		FramesDropped:   c.framesDropped.Load(),
		ErrorsTotal:     c.errorsTotal.Load(),
		ReconnectsTotal: c.reconnectsTotal.Load(),
		LastActivity:    time.Unix(c.lastActivity.Load(), 0),
		Connected:       c.Connected(),
	}
}

// isClosed reports whether Shutdown was signalled.
func (c *CANBus) isClosed() bool {
	select {
	case <-c.done.Done():
		return true
	default:
		return false
	}
}

// closeConn closes the current connection if any.
func (c *CANBus) closeConn() {
	c.connMu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.connMu.Unlock()
}

// markDisconnected flips the connected flag.
func (c *CANBus) markDisconnected() {
	c.connMu.Lock()
	c.connected = false
	c.connMu.Unlock()
}
