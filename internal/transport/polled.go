package transport

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rvlink/rvlink-core/internal/rvc"
)

// DefaultPollInterval is used when the configuration does not set one.
const DefaultPollInterval = 30 * time.Second

// maxPollBody bounds a status response. Polled devices report a handful
// of frames; anything larger is a misbehaving endpoint.
const maxPollBody = 1 << 20

// PolledConfig holds polled-transport configuration.
type PolledConfig struct {
	// ID is the physical transport id ("aircon0").
	ID string

	// URL is the device status endpoint, fetched once per interval.
	URL string

	// Interval is the polling period. Default: DefaultPollInterval.
	Interval time.Duration

	// RequestTimeout bounds one fetch. Default: 10 seconds.
	RequestTimeout time.Duration
}

// polledReport is the JSON shape a polled device returns: a list of
// frames it would have sent on a bus.
type polledReport struct {
	Frames []struct {
		ID   string `json:"id"`
		Data string `json:"data"`
	} `json:"frames"`
}

// Polled synthesizes frames from periodic HTTP fetches against devices
// that expose a status endpoint instead of a bus connection. It is
// receive-only: Send returns ErrSendUnsupported.
type Polled struct {
	cfg    PolledConfig
	client *http.Client

	onFrame    func(rvc.Frame)
	callbackMu sync.RWMutex

	done *closeOnce
	wg   sync.WaitGroup

	connMu    sync.RWMutex
	connected bool

	sources *sourceSet
	logger  Logger

	framesRx     atomic.Uint64
	errorsTotal  atomic.Uint64
	lastActivity atomic.Int64
}

// Ensure Polled implements Interface.
var _ Interface = (*Polled)(nil)

// NewPolled creates an unstarted polled transport.
func NewPolled(cfg PolledConfig) *Polled {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultPollInterval
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	return &Polled{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.RequestTimeout},
		sources: newSourceSet(),
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger for this transport.
func (p *Polled) SetLogger(logger Logger) {
	p.logger = logger
}

// ID returns the physical transport id.
func (p *Polled) ID() string {
	return p.cfg.ID
}

// SetOnFrame registers the frame handler. Must be called before
// Initialize.
func (p *Polled) SetOnFrame(handler func(rvc.Frame)) {
	p.callbackMu.Lock()
	p.onFrame = handler
	p.callbackMu.Unlock()
}

// Initialize performs one immediate fetch, then polls on the interval.
// The initial fetch failing is not fatal: the device may simply be
// asleep, and the poll loop keeps trying.
func (p *Polled) Initialize(ctx context.Context) error {
	p.done = newCloseOnce()

	p.connMu.Lock()
	p.connected = true
	p.connMu.Unlock()

	if err := p.poll(ctx); err != nil {
		p.logger.Warn("initial poll failed",
			"transport", p.cfg.ID, "url", p.cfg.URL, "error", err)
	}

	p.wg.Add(1)
	go p.pollLoop()

	p.logger.Info("polled transport started",
		"transport", p.cfg.ID, "interval", p.cfg.Interval.String())
	return nil
}

// pollLoop fetches the status endpoint once per interval.
func (p *Polled) pollLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.done.Done():
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), p.cfg.RequestTimeout)
			if err := p.poll(ctx); err != nil {
				p.errorsTotal.Add(1)
				p.logger.Warn("poll failed", "transport", p.cfg.ID, "error", err)
			}
			cancel()
		}
	}
}

// poll fetches one status report and synthesizes frames from it.
func (p *Polled) poll(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetching status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status endpoint returned %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPollBody))
	if err != nil {
		return fmt.Errorf("reading status: %w", err)
	}

	var report polledReport
	if err := json.Unmarshal(body, &report); err != nil {
		return fmt.Errorf("parsing status: %w", err)
	}

	now := time.Now()
	for _, rf := range report.Frames {
		frame, err := p.synthesize(rf.ID, rf.Data, now)
		if err != nil {
			p.errorsTotal.Add(1)
			p.logger.Warn("skipping malformed report frame",
				"transport", p.cfg.ID, "id", rf.ID, "error", err)
			continue
		}
		p.framesRx.Add(1)
		p.sources.add(frame.Source())
		p.deliver(frame)
	}
	p.lastActivity.Store(now.Unix())
	return nil
}

// synthesize builds a Frame from a report entry.
func (p *Polled) synthesize(idStr, dataStr string, ts time.Time) (rvc.Frame, error) {
	id, err := strconv.ParseUint(idStr, 0, 32)
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
		Timestamp: ts,
		Transport: p.cfg.ID,
	}
	if err := frame.Validate(); err != nil {
		return rvc.Frame{}, err
	}
	return frame, nil
}

// deliver invokes the registered handler.
func (p *Polled) deliver(frame rvc.Frame) {
	p.callbackMu.RLock()
	handler := p.onFrame
	p.callbackMu.RUnlock()
	if handler != nil {
		handler(frame)
	}
}

// Send is unsupported: polled devices are read via their status
// endpoint, not commanded through this transport.
func (p *Polled) Send(context.Context, rvc.Frame) error {
	return fmt.Errorf("%w: %s is a polled transport", ErrSendUnsupported, p.cfg.ID)
}

// Shutdown stops the poll loop.
func (p *Polled) Shutdown(_ context.Context) error {
	if p.done == nil {
		return nil
	}
	p.done.Close()

	p.connMu.Lock()
	p.connected = false
	p.connMu.Unlock()

	p.wg.Wait()
	p.logger.Info("polled transport stopped", "transport", p.cfg.ID)
	return nil
}

// Connected reports whether the poll loop is running.
func (p *Polled) Connected() bool {
	p.connMu.RLock()
	defer p.connMu.RUnlock()
	return p.connected
}

// Devices lists the configured endpoint.
func (p *Polled) Devices() []string {
	return []string{p.cfg.URL}
}

// Stats returns current operational statistics.
func (p *Polled) Stats() Stats {
	return Stats{
		FramesRx:     p.framesRx.Load(),
		ErrorsTotal:  p.errorsTotal.Load(),
		LastActivity: time.Unix(p.lastActivity.Load(), 0),
		Connected:    p.Connected(),
	}
}
