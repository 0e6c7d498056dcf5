// RV-Link Core - RV-C Gateway
//
// This is the main entry point for the RV-Link Core application: an RV-C
// vehicle network gateway that decodes bus traffic into canonical entity
// state, publishes it over MQTT, and turns MQTT commands back into frames.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rvlink/rvlink-core/internal/bridge"
	"github.com/rvlink/rvlink-core/internal/coach"
	"github.com/rvlink/rvlink-core/internal/diagnostics"
	"github.com/rvlink/rvlink-core/internal/entity"
	"github.com/rvlink/rvlink-core/internal/feature"
	"github.com/rvlink/rvlink-core/internal/infrastructure/config"
	"github.com/rvlink/rvlink-core/internal/infrastructure/database"
	"github.com/rvlink/rvlink-core/internal/infrastructure/logging"
	"github.com/rvlink/rvlink-core/internal/infrastructure/mqtt"
	"github.com/rvlink/rvlink-core/internal/rvc"
	"github.com/rvlink/rvlink-core/internal/transport"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// healthPublishInterval is how often feature health is pushed to MQTT.
const healthPublishInterval = 30 * time.Second

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting RV-Link Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Load the RV-C wire specification
	spec, err := rvc.LoadSpecification(cfg.Protocol.SpecFile)
	if err != nil {
		return fmt.Errorf("loading wire specification: %w", err)
	}
	log.Info("wire specification loaded",
		"path", cfg.Protocol.SpecFile,
		"messages", spec.Len(),
	)

	// Build transports from config. Their ids are the physical interface
	// names the resolver accepts as passthrough.
	transports, physical := buildTransports(cfg, log)
	if len(transports) == 0 {
		return fmt.Errorf("no transports configured")
	}
	log.Info("transports configured", "interfaces", physical)

	// Interface resolver: logical names from config, physical names from
	// the transports themselves.
	resolver := coach.NewResolver(cfg.Protocol.Interfaces, physical)

	// Load and validate the coach mapping against the specification.
	// A mapping referencing an unknown DGN or interface aborts startup.
	mapping, err := coach.Load(cfg.Protocol.MappingFile, spec, resolver)
	if err != nil {
		return fmt.Errorf("loading coach mapping: %w", err)
	}
	log.Info("coach mapping loaded",
		"path", cfg.Protocol.MappingFile,
		"coach", mapping.CoachName,
		"entities", mapping.Len(),
	)
	mappings := coach.NewStore(mapping)

	// Entity state store
	entities := entity.NewStore()
	entities.SetLogger(log.With("component", "entity"))

	// Connect to MQTT broker
	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	mqttClient.SetLogger(log.With("component", "mqtt"))
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	// Diagnostics store (optional): session-scoped unless configured onto
	// a file path.
	var diag *diagnostics.Store
	var diagDB *database.DB
	if cfg.Diagnostics.Enabled {
		diagDB, err = database.Open(database.Config{
			Path:        cfg.Diagnostics.DatabasePath,
			BusyTimeout: cfg.Diagnostics.BusyTimeout,
		})
		if err != nil {
			return fmt.Errorf("opening diagnostics database: %w", err)
		}
		defer func() {
			log.Info("closing diagnostics database")
			if closeErr := diagDB.Close(); closeErr != nil {
				log.Error("error closing diagnostics database", "error", closeErr)
			}
		}()

		diag, err = diagnostics.NewStore(ctx, diagDB, cfg.Diagnostics.MaxIdentifiers)
		if err != nil {
			return fmt.Errorf("initialising diagnostics store: %w", err)
		}
		log.Info("diagnostics store ready",
			"path", cfg.Diagnostics.DatabasePath,
			"max_identifiers", cfg.Diagnostics.MaxIdentifiers,
		)
	} else {
		log.Info("diagnostics disabled")
	}

	// The pipeline: transports -> decode -> entities -> MQTT, and the
	// inverse command path.
	pipeline := bridge.New(bridge.Config{
		SourceAddress: cfg.Protocol.SourceAddress,
	}, bridge.Deps{
		Spec:       spec,
		Mappings:   mappings,
		Resolver:   resolver,
		Entities:   entities,
		Transports: transports,
		Assembler:  rvc.NewAssembler(0, 0),
		Diag:       diag,
		Publisher:  mqttClient,
	})
	pipeline.SetLogger(log.With("component", "pipeline"))

	// Feature registration. The pipeline is core: if it cannot start the
	// gateway is useless. Health publishing is a non-core convenience.
	manager := feature.NewManager()
	manager.SetLogger(log.With("component", "feature"))

	if err := manager.Register(feature.Descriptor{
		Name:   "pipeline",
		Core:   true,
		Runner: pipeline,
	}); err != nil {
		return fmt.Errorf("registering pipeline: %w", err)
	}

	if diag != nil && !featureDisabled(cfg, "diagnostics") {
		if err := manager.Register(feature.Descriptor{
			Name: "diagnostics",
			Runner: feature.Funcs{
				StartFn: diagDB.HealthCheck,
				StopFn: func(context.Context) error {
					diag.Close()
					return nil
				},
			},
		}); err != nil {
			return fmt.Errorf("registering diagnostics: %w", err)
		}
	}

	if !featureDisabled(cfg, "health-publisher") {
		hp := &healthPublisher{
			manager:  manager,
			client:   mqttClient,
			interval: healthPublishInterval,
			log:      log.With("component", "health"),
		}
		if err := manager.Register(feature.Descriptor{
			Name:      "health-publisher",
			DependsOn: []string{"pipeline"},
			Runner:    hp,
		}); err != nil {
			return fmt.Errorf("registering health publisher: %w", err)
		}
	}

	// Start everything in dependency order
	if err := manager.Startup(ctx); err != nil {
		return fmt.Errorf("starting features: %w", err)
	}
	defer manager.Shutdown(context.WithoutCancel(ctx))

	health, _ := manager.Health()
	log.Info("initialisation complete, waiting for shutdown signal",
		"health", health.Level.String(),
	)

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order: features, then MQTT, then the
	// diagnostics database.

	log.Info("RV-Link Core stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses RVLINK_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("RVLINK_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// buildTransports constructs every configured transport and returns them
// with the list of physical interface ids.
//
// Parameters:
//   - cfg: Application configuration
//   - log: Logger instance
//
// Returns:
//   - []transport.Interface: Constructed (not yet initialised) transports
//   - []string: Physical interface ids, in configuration order
func buildTransports(cfg *config.Config, log *logging.Logger) ([]transport.Interface, []string) {
	var out []transport.Interface
	var ids []string

	for _, tc := range cfg.Transports.CANBus {
		t := transport.NewCANBus(transport.CANBusConfig{
			ID:         tc.ID,
			Connection: tc.URL,
		})
		t.SetLogger(log.With("transport", tc.ID))
		out = append(out, t)
		ids = append(ids, tc.ID)
	}

	for _, tc := range cfg.Transports.Polled {
		t := transport.NewPolled(transport.PolledConfig{
			ID:       tc.ID,
			URL:      tc.URL,
			Interval: time.Duration(tc.PollInterval()) * time.Second,
		})
		t.SetLogger(log.With("transport", tc.ID))
		out = append(out, t)
		ids = append(ids, tc.ID)
	}

	for _, tc := range cfg.Transports.Scan {
		t := transport.NewScan(transport.ScanConfig{
			ID:      tc.ID,
			Adapter: tc.Adapter,
		})
		t.SetLogger(log.With("transport", tc.ID))
		out = append(out, t)
		ids = append(ids, tc.ID)
	}

	return out, ids
}

// featureDisabled reports whether a non-core feature is disabled in config.
func featureDisabled(cfg *config.Config, name string) bool {
	for _, d := range cfg.Features.Disabled {
		if d == name {
			return true
		}
	}
	return false
}

// healthPublisher periodically publishes aggregate and per-feature health
// to the system topics.
type healthPublisher struct {
	manager  *feature.Manager
	client   *mqtt.Client
	interval time.Duration
	log      *logging.Logger

	done chan struct{}
	wg   sync.WaitGroup
}

// systemHealth is the aggregate health payload.
type systemHealth struct {
	Status  string           `json:"status"`
	Detail  string           `json:"detail,omitempty"`
	Version string           `json:"version"`
	Time    time.Time        `json:"time"`
	Feature []feature.Status `json:"features"`
}

// Start implements feature.Startable.
func (h *healthPublisher) Start(context.Context) error {
	h.done = make(chan struct{})
	h.wg.Add(1)
	go h.loop()
	return nil
}

// Stop implements feature.Startable.
func (h *healthPublisher) Stop(context.Context) error {
	close(h.done)
	h.wg.Wait()
	return nil
}

func (h *healthPublisher) loop() {
	defer h.wg.Done()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	// First publish immediately so the broker has state right after start.
	h.publish()
	for {
		select {
		case <-h.done:
			return
		case <-ticker.C:
			h.publish()
		}
	}
}

func (h *healthPublisher) publish() {
	health, statuses := h.manager.Health()

	payload, err := json.Marshal(systemHealth{
		Status:  health.Level.String(),
		Detail:  health.Detail,
		Version: version,
		Time:    time.Now().UTC(),
		Feature: statuses,
	})
	if err != nil {
		h.log.Error("marshaling health", "error", err)
		return
	}

	topics := mqtt.Topics{}
	if err := h.client.Publish(topics.SystemHealth(), payload, 0, true); err != nil {
		h.log.Warn("publishing system health", "error", err)
		return
	}

	for _, st := range statuses {
		body, err := json.Marshal(st)
		if err != nil {
			continue
		}
		if err := h.client.Publish(topics.FeatureHealth(st.Name), body, 0, true); err != nil {
			h.log.Warn("publishing feature health", "feature", st.Name, "error", err)
		}
	}
}
