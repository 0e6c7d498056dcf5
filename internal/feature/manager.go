package feature

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Logger defines the logging interface used by the Manager.
// This allows different logging implementations to be used.
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

// managed is one registered feature plus its lifecycle bookkeeping.
type managed struct {
	desc   Descriptor
	state  State
	reason string
}

// Manager orchestrates feature startup and shutdown.
//
// Startup topologically sorts the dependency graph and starts features
// level by level: features within a level have no edges between them and
// start concurrently, but no feature ever starts before all of its
// dependencies reach running. A core feature's failure aborts startup
// and rolls back; a non-core failure is contained — the feature and its
// transitive dependents are marked failed and everything else continues.
//
// All public methods are thread-safe.
type Manager struct {
	mu       sync.Mutex
	features map[string]*managed
	order    []string // registration order
	started  []string // actual start order, for reverse shutdown
	active   bool

	logger Logger
}

// NewManager creates an empty feature manager.
func NewManager() *Manager {
	return &Manager{
		features: make(map[string]*managed),
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger for the manager.
func (m *Manager) SetLogger(logger Logger) {
	m.logger = logger
}

// Register adds a feature to the manager.
//
// Parameters:
//   - desc: Feature descriptor; Name must be unique, Runner non-nil
//
// Returns:
//   - error: ErrDuplicateFeature on a name collision
func (m *Manager) Register(desc Descriptor) error {
	if desc.Name == "" || desc.Runner == nil {
		return fmt.Errorf("feature: descriptor needs a name and a runner")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, dup := m.features[desc.Name]; dup {
		return fmt.Errorf("%w: %s", ErrDuplicateFeature, desc.Name)
	}
	m.features[desc.Name] = &managed{desc: desc, state: StateRegistered}
	m.order = append(m.order, desc.Name)
	return nil
}

// Startup starts all registered features in dependency order.
//
// A cycle or an unknown dependency aborts before any Start is invoked.
// When a core feature fails, already-started features are stopped in
// reverse order and ErrCoreStartFailed is returned.
//
// Parameters:
//   - ctx: Cancels in-flight Start calls
//
// Returns:
//   - error: ErrCyclicDependency, ErrUnknownDependency,
//     ErrAlreadyStarted, or ErrCoreStartFailed (wrapped with the cause)
func (m *Manager) Startup(ctx context.Context) error {
	m.mu.Lock()
	if m.active {
		m.mu.Unlock()
		return ErrAlreadyStarted
	}

	levels, err := m.levelsLocked()
	if err != nil {
		m.mu.Unlock()
		return err
	}
	m.active = true
	m.mu.Unlock()

	for _, level := range levels {
		coreFailure := m.startLevel(ctx, level)
		if coreFailure != nil {
			m.logger.Error("core feature failed, rolling back", "error", coreFailure)
			m.Shutdown(context.WithoutCancel(ctx))
			m.mu.Lock()
			m.active = false
			m.mu.Unlock()
			return fmt.Errorf("%w: %v", ErrCoreStartFailed, coreFailure)
		}
	}

	m.logger.Info("feature startup complete", "features", len(m.order))
	return nil
}

// startLevel starts one dependency level concurrently. It returns the
// first core feature's start error, or nil.
func (m *Manager) startLevel(ctx context.Context, level []string) error {
	var (
		wg      sync.WaitGroup
		failMu  sync.Mutex
		coreErr error
	)

	for _, name := range level {
		m.mu.Lock()
		f := m.features[name]

		// A failed dependency poisons the whole subtree; Start is never
		// invoked for the dependents.
		if dep, ok := m.failedDependencyLocked(f); ok {
			f.state = StateFailed
			f.reason = ReasonDependencyUnavailable
			m.mu.Unlock()
			m.logger.Warn("feature skipped", "feature", name, "failed_dependency", dep)
			continue
		}
		f.state = StateStarting
		m.mu.Unlock()

		wg.Add(1)
		go func(name string, f *managed) {
			defer wg.Done()

			m.logger.Debug("starting feature", "feature", name)
			err := f.desc.Runner.Start(ctx)

			m.mu.Lock()
			defer m.mu.Unlock()
			if err != nil {
				f.state = StateFailed
				f.reason = err.Error()
				m.logger.Error("feature start failed",
					"feature", name, "core", f.desc.Core, "error", err)
				if f.desc.Core {
					failMu.Lock()
					if coreErr == nil {
						coreErr = fmt.Errorf("%s: %w", name, err)
					}
					failMu.Unlock()
				}
				return
			}
			f.state = StateRunning
			m.started = append(m.started, name)
			m.logger.Info("feature running", "feature", name)
		}(name, f)
	}

	wg.Wait()
	return coreErr
}

// failedDependencyLocked returns the name of a non-running dependency, if
// any. Caller holds the lock.
func (m *Manager) failedDependencyLocked(f *managed) (string, bool) {
	for _, dep := range f.desc.DependsOn {
		if m.features[dep].state != StateRunning {
			return dep, true
		}
	}
	return "", false
}

// Shutdown stops running features in reverse start order. Individual stop
// errors are logged and swallowed so every feature receives a shutdown
// attempt.
//
// Parameters:
//   - ctx: Bounds each feature's Stop call
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	started := make([]string, len(m.started))
	copy(started, m.started)
	m.started = m.started[:0]
	m.active = false
	m.mu.Unlock()

	for i := len(started) - 1; i >= 0; i-- {
		name := started[i]
		m.mu.Lock()
		f := m.features[name]
		f.state = StateStopping
		m.mu.Unlock()

		if err := f.desc.Runner.Stop(ctx); err != nil {
			m.logger.Error("feature stop failed", "feature", name, "error", err)
		}

		m.mu.Lock()
		f.state = StateStopped
		m.mu.Unlock()
		m.logger.Info("feature stopped", "feature", name)
	}
}

// Health aggregates per-feature health with a worst-of reduction:
// unhealthy > degraded > healthy. Failed features report unhealthy;
// features without the health capability report healthy while running.
//
// Returns:
//   - Health: Aggregate condition
//   - []Status: Per-feature detail, in registration order
func (m *Manager) Health() (Health, []Status) {
	m.mu.Lock()
	defer m.mu.Unlock()

	worst := Health{Level: Healthy}
	statuses := make([]Status, 0, len(m.order))

	for _, name := range m.order {
		f := m.features[name]
		st := Status{
			Name:   name,
			Core:   f.desc.Core,
			State:  f.state,
			Reason: f.reason,
		}

		switch f.state {
		case StateRunning:
			st.Health = Health{Level: Healthy}
			if hr, ok := f.desc.Runner.(HealthReporter); ok {
				st.Health = hr.Health()
			}
		case StateFailed:
			st.Health = Health{Level: Unhealthy, Detail: f.reason}
		default:
			st.Health = Health{Level: Degraded, Detail: string(f.state)}
		}

		if st.Health.Level > worst.Level {
			worst = Health{Level: st.Health.Level,
				Detail: fmt.Sprintf("%s: %s", name, st.Health.Detail)}
		}
		statuses = append(statuses, st)
	}

	return worst, statuses
}

// Status returns one feature's current status.
//
// Returns:
//   - Status: Point-in-time view
//   - error: ErrFeatureNotFound for unregistered names
func (m *Manager) Status(name string) (Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, ok := m.features[name]
	if !ok {
		return Status{}, fmt.Errorf("%w: %s", ErrFeatureNotFound, name)
	}
	return Status{
		Name:   name,
		Core:   f.desc.Core,
		State:  f.state,
		Reason: f.reason,
	}, nil
}

// levelsLocked runs Kahn's algorithm over the dependency graph, grouping
// features into levels: everything in level n depends only on levels
// < n. Caller holds the lock.
func (m *Manager) levelsLocked() ([][]string, error) {
	indegree := make(map[string]int, len(m.features))
	dependents := make(map[string][]string, len(m.features))

	for _, name := range m.order {
		f := m.features[name]
		for _, dep := range f.desc.DependsOn {
			if _, ok := m.features[dep]; !ok {
				return nil, fmt.Errorf("%w: %s depends on %s", ErrUnknownDependency, name, dep)
			}
			indegree[name]++
			dependents[dep] = append(dependents[dep], name)
		}
	}

	var (
		levels    [][]string
		processed int
	)
	current := make([]string, 0, len(m.order))
	for _, name := range m.order {
		if indegree[name] == 0 {
			current = append(current, name)
		}
	}

	for len(current) > 0 {
		sort.Strings(current)
		levels = append(levels, current)
		processed += len(current)

		var next []string
		for _, name := range current {
			for _, dep := range dependents[name] {
				indegree[dep]--
				if indegree[dep] == 0 {
					next = append(next, dep)
				}
			}
		}
		current = next
	}

	if processed != len(m.features) {
		var cyclic []string
		for name, deg := range indegree {
			if deg > 0 {
				cyclic = append(cyclic, name)
			}
		}
		sort.Strings(cyclic)
		return nil, fmt.Errorf("%w: %v", ErrCyclicDependency, cyclic)
	}
	return levels, nil
}
