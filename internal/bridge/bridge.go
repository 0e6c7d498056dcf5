package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rvlink/rvlink-core/internal/coach"
	"github.com/rvlink/rvlink-core/internal/diagnostics"
	"github.com/rvlink/rvlink-core/internal/entity"
	"github.com/rvlink/rvlink-core/internal/feature"
	"github.com/rvlink/rvlink-core/internal/infrastructure/mqtt"
	"github.com/rvlink/rvlink-core/internal/rvc"
	"github.com/rvlink/rvlink-core/internal/transport"
)

// Defaults for pipeline timing.
const (
	// DefaultSendTimeout bounds one command send on a transport.
	DefaultSendTimeout = 5 * time.Second

	// DefaultSweepInterval drives the reassembly arena compaction.
	DefaultSweepInterval = 500 * time.Millisecond

	// recordTimeout bounds one diagnostics write.
	recordTimeout = 2 * time.Second
)

// Logger defines the logging interface used by the Pipeline.
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

// Publisher is the event boundary the pipeline publishes through.
// *mqtt.Client satisfies it; tests substitute a recorder.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// Config holds pipeline tuning.
type Config struct {
	// SourceAddress is this node's address on outgoing frames.
	SourceAddress uint8

	// SendTimeout bounds one command send. Default: DefaultSendTimeout.
	SendTimeout time.Duration

	// SweepInterval drives reassembly eviction.
	// Default: DefaultSweepInterval.
	SweepInterval time.Duration
}

// Deps are the collaborators the pipeline wires together.
type Deps struct {
	Spec       *rvc.Specification
	Mappings   *coach.Store
	Resolver   *coach.Resolver
	Entities   *entity.Store
	Transports []transport.Interface
	Assembler  *rvc.Assembler
	Diag       *diagnostics.Store // optional
	Publisher  Publisher
}

// Pipeline is the data path of the system: transport frames flow through
// reassembly and decode into the entity store, and change events flow
// out to the presentation boundary; commands travel the inverse path
// through encode onto the right transport.
//
// Pipeline implements the feature lifecycle: Start attaches the
// transports and the command subscription, Stop tears them down.
type Pipeline struct {
	cfg    Config
	spec   *rvc.Specification
	maps   *coach.Store
	res    *coach.Resolver
	ents   *entity.Store
	trans  map[string]transport.Interface
	asm    *rvc.Assembler
	diag   *diagnostics.Store
	pub    Publisher
	topics mqtt.Topics

	done chan struct{}
	wg   sync.WaitGroup

	logger Logger
}

// Ensure Pipeline implements the lifecycle and health capabilities.
var (
	_ feature.Startable      = (*Pipeline)(nil)
	_ feature.HealthReporter = (*Pipeline)(nil)
)

// New creates a pipeline from its collaborators.
func New(cfg Config, deps Deps) *Pipeline {
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = DefaultSendTimeout
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}

	trans := make(map[string]transport.Interface, len(deps.Transports))
	for _, tr := range deps.Transports {
		trans[tr.ID()] = tr
	}

	return &Pipeline{
		cfg:    cfg,
		spec:   deps.Spec,
		maps:   deps.Mappings,
		res:    deps.Resolver,
		ents:   deps.Entities,
		trans:  trans,
		asm:    deps.Assembler,
		diag:   deps.Diag,
		pub:    deps.Publisher,
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the pipeline.
func (p *Pipeline) SetLogger(logger Logger) {
	p.logger = logger
}

// Start attaches the frame handler to every transport, initializes them,
// subscribes to the command topic, and starts the reassembly sweeper.
//
// Parameters:
//   - ctx: Bounds transport initialization
//
// Returns:
//   - error: The first transport or subscription failure
func (p *Pipeline) Start(ctx context.Context) error {
	p.done = make(chan struct{})

	for id, tr := range p.trans {
		tr.SetOnFrame(p.HandleFrame)
		if err := tr.Initialize(ctx); err != nil {
			p.shutdownTransports(ctx)
			return fmt.Errorf("initializing transport %s: %w", id, err)
		}
	}

	if p.pub != nil {
		if err := p.pub.Subscribe(p.topics.AllEntityCommands(), 1, p.handleCommand); err != nil {
			p.shutdownTransports(ctx)
			return fmt.Errorf("subscribing to commands: %w", err)
		}
	}

	p.wg.Add(1)
	go p.sweepLoop()

	p.logger.Info("pipeline started", "transports", len(p.trans))
	return nil
}

// Stop tears the pipeline down: sweeper first, then every transport.
func (p *Pipeline) Stop(ctx context.Context) error {
	if p.done != nil {
		close(p.done)
	}
	p.wg.Wait()
	p.shutdownTransports(ctx)
	p.logger.Info("pipeline stopped")
	return nil
}

// shutdownTransports shuts every transport down, best effort.
func (p *Pipeline) shutdownTransports(ctx context.Context) {
	for id, tr := range p.trans {
		if err := tr.Shutdown(ctx); err != nil {
			p.logger.Error("transport shutdown failed", "transport", id, "error", err)
		}
	}
}

// Health reports degraded while any transport is detached.
func (p *Pipeline) Health() feature.Health {
	var detached []string
	for id, tr := range p.trans {
		if !tr.Connected() {
			detached = append(detached, id)
		}
	}
	if len(detached) == 0 {
		return feature.Health{Level: feature.Healthy}
	}
	return feature.Health{
		Level:  feature.Degraded,
		Detail: fmt.Sprintf("transports detached: %s", strings.Join(detached, ", ")),
	}
}

// HandleFrame is the receive path: reassemble if needed, decode, apply,
// publish. Errors are contained per frame; processing always continues
// for subsequent frames.
func (p *Pipeline) HandleFrame(frame rvc.Frame) {
	entry, known := p.spec.Lookup(frame.DGN())
	if !known {
		p.recordUnrecognized(frame, "unknown identifier")
		return
	}

	if entry.MultiFrame() && len(frame.Data) <= 8 {
		complete, finished, err := p.asm.Add(frame, entry)
		if err != nil {
			p.logger.Warn("dropping bad fragment",
				"dgn", fmt.Sprintf("0x%05X", frame.DGN()), "error", err)
			return
		}
		if !finished {
			return
		}
		frame = complete
	}

	msg, err := rvc.Decode(frame, p.spec)
	if err != nil {
		if errors.Is(err, rvc.ErrUnknownIdentifier) {
			p.recordUnrecognized(frame, "unknown identifier")
			return
		}
		p.logger.Warn("decode failed",
			"dgn", fmt.Sprintf("0x%05X", frame.DGN()), "error", err)
		return
	}

	for _, warn := range msg.Warnings {
		p.logger.Warn("decode warning", "message", msg.Name, "warning", warn)
	}

	events := p.ents.Apply(&msg, p.maps.Snapshot())
	for _, ev := range events {
		p.publishChange(ev)
	}
}

// publishChange pushes one change event to the presentation boundary:
// the full snapshot retained on the state topic, the delta on the event
// topic.
func (p *Pipeline) publishChange(ev entity.ChangeEvent) {
	if p.pub == nil {
		return
	}

	snapshot, err := json.Marshal(ev.Snapshot)
	if err != nil {
		p.logger.Error("marshaling snapshot", "entity_id", ev.EntityID, "error", err)
		return
	}
	if err := p.pub.Publish(p.topics.EntityState(ev.EntityID), snapshot, 1, true); err != nil {
		p.logger.Error("publishing state", "entity_id", ev.EntityID, "error", err)
	}

	delta, err := json.Marshal(ev)
	if err != nil {
		p.logger.Error("marshaling event", "entity_id", ev.EntityID, "error", err)
		return
	}
	if err := p.pub.Publish(p.topics.EntityEvent(ev.EntityID), delta, 1, false); err != nil {
		p.logger.Error("publishing event", "entity_id", ev.EntityID, "error", err)
	}
}

// unrecognizedNotice is the diagnostics topic payload.
type unrecognizedNotice struct {
	DGN       string `json:"dgn"`
	Source    string `json:"source"`
	Transport string `json:"transport"`
	Reason    string `json:"reason"`
}

// recordUnrecognized routes a frame the decode engine rejected to the
// diagnostics store and the diagnostics topic instead of dropping it
// silently.
func (p *Pipeline) recordUnrecognized(frame rvc.Frame, reason string) {
	p.logger.Debug("unrecognized frame",
		"dgn", fmt.Sprintf("0x%05X", frame.DGN()),
		"source", fmt.Sprintf("0x%02X", frame.Source()),
		"transport", frame.Transport)

	if p.diag != nil {
		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		if err := p.diag.RecordFrame(ctx, frame); err != nil {
			p.logger.Error("recording unrecognized frame", "error", err)
		}
		cancel()
	}

	if p.pub == nil {
		return
	}
	notice, err := json.Marshal(unrecognizedNotice{
		DGN:       fmt.Sprintf("0x%05X", frame.DGN()),
		Source:    fmt.Sprintf("0x%02X", frame.Source()),
		Transport: frame.Transport,
		Reason:    reason,
	})
	if err != nil {
		return
	}
	if err := p.pub.Publish(p.topics.Unrecognized(), notice, 0, false); err != nil {
		p.logger.Error("publishing unrecognized notice", "error", err)
	}
}

// sweepLoop evicts stale reassembly buffers on the configured interval.
func (p *Pipeline) sweepLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.done:
			return
		case now := <-ticker.C:
			for _, ex := range p.asm.Sweep(now) {
				p.logger.Warn("incomplete assembly evicted",
					"dgn", fmt.Sprintf("0x%05X", ex.DGN),
					"source", fmt.Sprintf("0x%02X", ex.Source),
					"transport", ex.Transport,
					"fragments", fmt.Sprintf("%d/%d", ex.Received, ex.Expected))
			}
		}
	}
}

// controlCommand is the command topic payload.
type controlCommand struct {
	// Command names the operation; "set" is the only one today.
	Command string `json:"command"`

	// Parameters maps targeted field names to engineering-unit values or
	// enumeration labels.
	Parameters map[string]any `json:"parameters"`
}

// handleCommand is the control path: decode the command payload, encode
// a frame against the entity's command DGN, and send it on the entity's
// resolved transport.
func (p *Pipeline) handleCommand(topic string, payload []byte) error {
	entityID, ok := entityIDFromTopic(topic)
	if !ok {
		return fmt.Errorf("%w: topic %q", ErrInvalidCommand, topic)
	}

	var cmd controlCommand
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCommand, err)
	}
	if cmd.Command != "" && cmd.Command != "set" {
		return fmt.Errorf("%w: unsupported command %q", ErrInvalidCommand, cmd.Command)
	}
	if len(cmd.Parameters) == 0 {
		return fmt.Errorf("%w: no parameters", ErrInvalidCommand)
	}

	frame, physical, err := p.encodeCommand(entityID, cmd.Parameters)
	if err != nil {
		p.logger.Warn("command rejected", "entity_id", entityID, "error", err)
		return err
	}

	tr, ok := p.trans[physical]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTransport, physical)
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.SendTimeout)
	defer cancel()
	if err := tr.Send(ctx, frame); err != nil {
		p.logger.Error("command send failed",
			"entity_id", entityID, "transport", physical, "error", err)
		return err
	}

	p.logger.Info("command sent",
		"entity_id", entityID, "transport", physical,
		"dgn", fmt.Sprintf("0x%05X", frame.DGN()))
	return nil
}

// encodeCommand builds the outgoing frame and resolves the physical
// transport for one entity command.
func (p *Pipeline) encodeCommand(entityID string, params map[string]any) (rvc.Frame, string, error) {
	mapping := p.maps.Snapshot()
	decl, err := mapping.Entity(entityID)
	if err != nil {
		return rvc.Frame{}, "", fmt.Errorf("%w: %s", ErrUnknownEntity, entityID)
	}
	if decl.CommandDGN == 0 {
		return rvc.Frame{}, "", fmt.Errorf("%w: %s", ErrNotCommandable, entityID)
	}

	entry, ok := p.spec.Lookup(decl.CommandDGN)
	if !ok {
		return rvc.Frame{}, "", fmt.Errorf("%w: command DGN 0x%05X",
			rvc.ErrUnknownIdentifier, decl.CommandDGN)
	}

	// Target the declaration's instance unless the caller overrode it.
	target := make(map[string]any, len(params)+1)
	for k, v := range params {
		target[k] = v
	}
	if _, set := target[rvc.InstanceField]; !set && !decl.Wildcard() {
		if _, has := entry.FieldByName(rvc.InstanceField); has {
			target[rvc.InstanceField] = int(*decl.Instance)
		}
	}

	frame, err := rvc.Encode(entry, target, p.ents.LastRaw(entityID), p.cfg.SourceAddress)
	if err != nil {
		return rvc.Frame{}, "", err
	}

	physical, err := p.res.Resolve(decl.Interface)
	if err != nil {
		return rvc.Frame{}, "", err
	}
	return frame, physical, nil
}

// entityIDFromTopic extracts the entity id from an entity command topic
// ("rvlink/entity/{id}/command").
func entityIDFromTopic(topic string) (string, bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 4 || parts[1] != "entity" || parts[3] != "command" || parts[2] == "" {
		return "", false
	}
	return parts[2], true
}
