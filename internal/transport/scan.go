package transport

import (
	"bufio"
	"context"
	"encoding/hex"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rvlink/rvlink-core/internal/rvc"
)

// ScanConfig holds passive-scan transport configuration.
type ScanConfig struct {
	// ID is the physical transport id ("blescan0").
	ID string

	// Adapter is the scan adapter connection URL (tcp:// or unix://).
	// The adapter emits one advertisement per line as "ID#HEXDATA".
	Adapter string

	// ReconnectInterval is the delay between reconnection attempts.
	// Default: 5 seconds.
	ReconnectInterval time.Duration
}

// Scan captures advertisement broadcasts from a scan adapter and
// synthesizes frames from them. Wireless sensors that announce state
// without joining a bus enter the pipeline through this transport.
// It is receive-only: Send returns ErrSendUnsupported.
type Scan struct {
	cfg ScanConfig

	conn      net.Conn
	connMu    sync.RWMutex
	connected bool

	onFrame    func(rvc.Frame)
	callbackMu sync.RWMutex

	done *closeOnce
	wg   sync.WaitGroup

	sources *sourceSet
	logger  Logger

	framesRx        atomic.Uint64
	errorsTotal     atomic.Uint64
	reconnectsTotal atomic.Uint64
	lastActivity    atomic.Int64
}

// Ensure Scan implements Interface.
var _ Interface = (*Scan)(nil)

// NewScan creates an unstarted passive-scan transport.
func NewScan(cfg ScanConfig) *Scan {
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = defaultReconnectInterval
	}
	return &Scan{
		cfg:     cfg,
		sources: newSourceSet(),
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger for this transport.
func (s *Scan) SetLogger(logger Logger) {
	s.logger = logger
}

// ID returns the physical transport id.
func (s *Scan) ID() string {
	return s.cfg.ID
}

// SetOnFrame registers the frame handler. Must be called before
// Initialize.
func (s *Scan) SetOnFrame(handler func(rvc.Frame)) {
	s.callbackMu.Lock()
	s.onFrame = handler
	s.callbackMu.Unlock()
}

// Initialize connects to the scan adapter and starts the capture loop.
func (s *Scan) Initialize(ctx context.Context) error {
	network, address, err := parseConnectionURL(s.cfg.Adapter)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	dialCtx, cancel := context.WithTimeout(ctx, defaultConnectTimeout)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(dialCtx, network, address)
	if err != nil {
		return fmt.Errorf("%w: dial: %w", ErrConnectionFailed, err)
	}

	s.connMu.Lock()
	s.conn = conn
	s.connected = true
	s.connMu.Unlock()

	s.done = newCloseOnce()
	s.wg.Add(1)
	go s.captureLoop()

	s.logger.Info("scan transport connected",
		"transport", s.cfg.ID, "adapter", s.cfg.Adapter)
	return nil
}

// captureLoop reads advertisement lines, reconnecting on stream loss.
func (s *Scan) captureLoop() {
	defer s.wg.Done()

	for {
		s.connMu.RLock()
		conn := s.conn
		s.connMu.RUnlock()
		if conn == nil {
			if !s.redial() {
				return
			}
			continue
		}

		scanner := bufio.NewScanner(conn)
		for scanner.Scan() {
			if s.isClosed() {
				return
			}
			s.handleLine(scanner.Text())
		}

		if s.isClosed() {
			return
		}
		if err := scanner.Err(); err != nil {
			s.errorsTotal.Add(1)
			s.logger.Warn("scan stream lost", "transport", s.cfg.ID, "error", err)
		}
		s.closeConn()
		if !s.redial() {
			return
		}
	}
}

// handleLine parses one advertisement line and delivers the frame.
func (s *Scan) handleLine(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}

	frame, err := s.parseAdvertisement(line)
	if err != nil {
		s.errorsTotal.Add(1)
		s.logger.Debug("skipping malformed advertisement",
			"transport", s.cfg.ID, "line", line, "error", err)
		return
	}

	s.framesRx.Add(1)
	s.lastActivity.Store(frame.Timestamp.Unix())
	s.sources.add(frame.Source())

	s.callbackMu.RLock()
	handler := s.onFrame
	s.callbackMu.RUnlock()
	if handler != nil {
		handler(frame)
	}
}

// parseAdvertisement decodes an "ID#HEXDATA" line.
func (s *Scan) parseAdvertisement(line string) (rvc.Frame, error) {
	idStr, dataStr, ok := strings.Cut(line, "#")
	if !ok {
		return rvc.Frame{}, fmt.Errorf("no separator in %q", line)
	}

	id, err := strconv.ParseUint(idStr, 16, 32)
	if err != nil {
		return rvc.Frame{}, fmt.Errorf("identifier %q: %w", idStr, err)
	}
	data, err := hex.DecodeString(dataStr)
	if err != nil {
		return rvc.Frame{}, fmt.Errorf("payload %q: %w", dataStr, err)
	}

	frame := rvc.Frame{
		ID:        uint32(id),
		Data:      data,
		Timestamp: time.Now(),
		Transport: s.cfg.ID,
	}
	if err := frame.Validate(); err != nil {
		return rvc.Frame{}, err
	}
	return frame, nil
}

// redial reconnects to the adapter. Returns false on shutdown.
func (s *Scan) redial() bool {
	network, address, err := parseConnectionURL(s.cfg.Adapter)
	if err != nil {
		s.logger.Error("redial: invalid adapter URL", "error", err)
		return false
	}

	for {
		select {
		case <-s.done.Done():
			return false
		case <-time.After(s.cfg.ReconnectInterval):
		}

		dialCtx, cancel := context.WithTimeout(context.Background(), defaultConnectTimeout)
		var dialer net.Dialer
		conn, err := dialer.DialContext(dialCtx, network, address)
		cancel()
		if err != nil {
			s.errorsTotal.Add(1)
			s.logger.Warn("redial failed", "transport", s.cfg.ID, "error", err)
			continue
		}

		s.connMu.Lock()
		s.conn = conn
		s.connected = true
		s.connMu.Unlock()
		s.reconnectsTotal.Add(1)
		s.logger.Info("scan adapter reconnected", "transport", s.cfg.ID)
		return true
	}
}

// Send is unsupported: advertisement capture is strictly passive.
func (s *Scan) Send(context.Context, rvc.Frame) error {
	return fmt.Errorf("%w: %s is a passive scanner", ErrSendUnsupported, s.cfg.ID)
}

// Shutdown stops the capture loop and closes the adapter connection.
func (s *Scan) Shutdown(_ context.Context) error {
	if s.done == nil {
		return nil
	}
	s.done.Close()

	s.connMu.Lock()
	s.connected = false
	s.connMu.Unlock()

	s.closeConn()
	s.wg.Wait()
	s.logger.Info("scan transport closed", "transport", s.cfg.ID)
	return nil
}

// Connected reports whether the adapter stream is attached.
func (s *Scan) Connected() bool {
	s.connMu.RLock()
	defer s.connMu.RUnlock()
	return s.connected
}

// Devices lists the advertiser source addresses seen so far.
func (s *Scan) Devices() []string {
	srcs := s.sources.list()
	out := make([]string, len(srcs))
	for i, src := range srcs {
		out[i] = fmt.Sprintf("0x%02X", src)
	}
	return out
}

// Stats returns current operational statistics.
func (s *Scan) Stats() Stats {
	return Stats{
		FramesRx:        s.framesRx.Load(),
		ErrorsTotal:     s.errorsTotal.Load(),
		ReconnectsTotal: s.reconnectsTotal.Load(),
		LastActivity:    time.Unix(s.lastActivity.Load(), 0),
		Connected:       s.Connected(),
	}
}

// isClosed reports whether Shutdown was signalled.
func (s *Scan) isClosed() bool {
	select {
	case <-s.done.Done():
		return true
	default:
		return false
	}
}

// closeConn closes the current adapter connection if any.
func (s *Scan) closeConn() {
	s.connMu.Lock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.connMu.Unlock()
}
