package feature

import (
	"context"
	"errors"
	"sync"
	"testing"
)

// recorder collects lifecycle calls across concurrent starts.
type recorder struct {
	mu      sync.Mutex
	starts  []string
	stops   []string
	started map[string]bool
}

func newRecorder() *recorder {
	return &recorder{started: make(map[string]bool)}
}

func (r *recorder) start(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.starts = append(r.starts, name)
	r.started[name] = true
}

func (r *recorder) stop(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stops = append(r.stops, name)
}

func (r *recorder) startedBefore(a, b string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	ia, ib := -1, -1
	for i, n := range r.starts {
		if n == a {
			ia = i
		}
		if n == b {
			ib = i
		}
	}
	return ia >= 0 && ib >= 0 && ia < ib
}

// fake is a test feature.
type fake struct {
	name     string
	rec      *recorder
	startErr error
	stopErr  error
	health   *Health
}

func (f *fake) Start(context.Context) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.rec.start(f.name)
	return nil
}

func (f *fake) Stop(context.Context) error {
	f.rec.stop(f.name)
	return f.stopErr
}

func (f *fake) Health() Health {
	if f.health == nil {
		return Health{Level: Healthy}
	}
	return *f.health
}

func register(t *testing.T, m *Manager, rec *recorder, name string, core bool, deps []string, startErr error) *fake {
	t.Helper()
	f := &fake{name: name, rec: rec, startErr: startErr}
	if err := m.Register(Descriptor{Name: name, Core: core, DependsOn: deps, Runner: f}); err != nil {
		t.Fatalf("Register(%s) error = %v", name, err)
	}
	return f
}

func TestStartupTopologicalOrder(t *testing.T) {
	m := NewManager()
	rec := newRecorder()

	// d → b → a, d → c → a: a first, then {b, c} in either order, then d.
	register(t, m, rec, "a", true, nil, nil)
	register(t, m, rec, "b", false, []string{"a"}, nil)
	register(t, m, rec, "c", false, []string{"a"}, nil)
	register(t, m, rec, "d", false, []string{"b", "c"}, nil)

	if err := m.Startup(context.Background()); err != nil {
		t.Fatalf("Startup() error = %v", err)
	}

	if len(rec.starts) != 4 {
		t.Fatalf("started %d features, want 4: %v", len(rec.starts), rec.starts)
	}
	for _, pair := range [][2]string{{"a", "b"}, {"a", "c"}, {"b", "d"}, {"c", "d"}} {
		if !rec.startedBefore(pair[0], pair[1]) {
			t.Errorf("%s should start before %s: %v", pair[0], pair[1], rec.starts)
		}
	}

	for _, name := range []string{"a", "b", "c", "d"} {
		st, err := m.Status(name)
		if err != nil {
			t.Fatalf("Status(%s) error = %v", name, err)
		}
		if st.State != StateRunning {
			t.Errorf("%s state = %s, want running", name, st.State)
		}
	}
}

func TestStartupCycleDetection(t *testing.T) {
	m := NewManager()
	rec := newRecorder()

	register(t, m, rec, "a", false, []string{"c"}, nil)
	register(t, m, rec, "b", false, []string{"a"}, nil)
	register(t, m, rec, "c", false, []string{"b"}, nil)

	err := m.Startup(context.Background())
	if !errors.Is(err, ErrCyclicDependency) {
		t.Fatalf("Startup() error = %v, want ErrCyclicDependency", err)
	}
	if len(rec.starts) != 0 {
		t.Errorf("features started despite cycle: %v", rec.starts)
	}
}

func TestStartupUnknownDependency(t *testing.T) {
	m := NewManager()
	rec := newRecorder()
	register(t, m, rec, "a", false, []string{"ghost"}, nil)

	if err := m.Startup(context.Background()); !errors.Is(err, ErrUnknownDependency) {
		t.Errorf("Startup() error = %v, want ErrUnknownDependency", err)
	}
}

func TestStartupNonCoreFailureContained(t *testing.T) {
	m := NewManager()
	rec := newRecorder()

	boom := errors.New("device offline")
	register(t, m, rec, "core_store", true, nil, nil)
	a := register(t, m, rec, "a", false, []string{"core_store"}, boom)
	b := register(t, m, rec, "b", false, []string{"a"}, nil)
	register(t, m, rec, "sibling", false, []string{"core_store"}, nil)

	if err := m.Startup(context.Background()); err != nil {
		t.Fatalf("Startup() error = %v, want nil for non-core failure", err)
	}

	stA, _ := m.Status("a")
	if stA.State != StateFailed || stA.Reason != boom.Error() {
		t.Errorf("a = %s/%q, want failed/%q", stA.State, stA.Reason, boom.Error())
	}

	stB, _ := m.Status("b")
	if stB.State != StateFailed || stB.Reason != ReasonDependencyUnavailable {
		t.Errorf("b = %s/%q, want failed/%q", stB.State, stB.Reason, ReasonDependencyUnavailable)
	}
	if rec.started["b"] {
		t.Error("b.Start() was invoked despite its failed dependency")
	}
	_ = a
	_ = b

	stS, _ := m.Status("sibling")
	if stS.State != StateRunning {
		t.Errorf("sibling = %s, want running (siblings continue)", stS.State)
	}
}

func TestStartupCoreFailureRollsBack(t *testing.T) {
	m := NewManager()
	rec := newRecorder()

	register(t, m, rec, "base", true, nil, nil)
	register(t, m, rec, "broken_core", true, []string{"base"}, errors.New("no bus"))
	register(t, m, rec, "leaf", false, []string{"broken_core"}, nil)

	err := m.Startup(context.Background())
	if !errors.Is(err, ErrCoreStartFailed) {
		t.Fatalf("Startup() error = %v, want ErrCoreStartFailed", err)
	}

	// base was started before the failure and must be rolled back.
	if len(rec.stops) != 1 || rec.stops[0] != "base" {
		t.Errorf("rollback stops = %v, want [base]", rec.stops)
	}
	if rec.started["leaf"] {
		t.Error("leaf started after core failure")
	}
}

func TestShutdownReverseOrder(t *testing.T) {
	m := NewManager()
	rec := newRecorder()

	register(t, m, rec, "a", true, nil, nil)
	f := register(t, m, rec, "b", false, []string{"a"}, nil)
	f.stopErr = errors.New("flush failed") // logged, swallowed
	register(t, m, rec, "c", false, []string{"b"}, nil)

	if err := m.Startup(context.Background()); err != nil {
		t.Fatalf("Startup() error = %v", err)
	}
	m.Shutdown(context.Background())

	want := []string{"c", "b", "a"}
	if len(rec.stops) != len(want) {
		t.Fatalf("stops = %v, want %v", rec.stops, want)
	}
	for i, name := range want {
		if rec.stops[i] != name {
			t.Errorf("stops[%d] = %s, want %s", i, rec.stops[i], name)
		}
	}

	st, _ := m.Status("b")
	if st.State != StateStopped {
		t.Errorf("b = %s after shutdown, want stopped", st.State)
	}
}

func TestHealthWorstOf(t *testing.T) {
	m := NewManager()
	rec := newRecorder()

	register(t, m, rec, "a", true, nil, nil)
	b := register(t, m, rec, "b", false, []string{"a"}, nil)
	b.health = &Health{Level: Degraded, Detail: "reconnecting"}

	if err := m.Startup(context.Background()); err != nil {
		t.Fatalf("Startup() error = %v", err)
	}

	agg, statuses := m.Health()
	if agg.Level != Degraded {
		t.Errorf("aggregate = %s, want degraded", agg.Level)
	}
	if len(statuses) != 2 {
		t.Fatalf("statuses = %d, want 2", len(statuses))
	}
}

func TestHealthFailedFeatureIsUnhealthy(t *testing.T) {
	m := NewManager()
	rec := newRecorder()

	register(t, m, rec, "a", true, nil, nil)
	register(t, m, rec, "b", false, []string{"a"}, errors.New("boom"))

	if err := m.Startup(context.Background()); err != nil {
		t.Fatalf("Startup() error = %v", err)
	}

	agg, _ := m.Health()
	if agg.Level != Unhealthy {
		t.Errorf("aggregate = %s, want unhealthy", agg.Level)
	}
}

func TestRegisterDuplicate(t *testing.T) {
	m := NewManager()
	rec := newRecorder()
	register(t, m, rec, "a", false, nil, nil)

	err := m.Register(Descriptor{Name: "a", Runner: &fake{name: "a", rec: rec}})
	if !errors.Is(err, ErrDuplicateFeature) {
		t.Errorf("Register() duplicate error = %v, want ErrDuplicateFeature", err)
	}
}

func TestStartupTwice(t *testing.T) {
	m := NewManager()
	rec := newRecorder()
	register(t, m, rec, "a", false, nil, nil)

	if err := m.Startup(context.Background()); err != nil {
		t.Fatalf("Startup() error = %v", err)
	}
	if err := m.Startup(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Startup() error = %v, want ErrAlreadyStarted", err)
	}
}

func TestStatusUnknownFeature(t *testing.T) {
	m := NewManager()
	if _, err := m.Status("ghost"); !errors.Is(err, ErrFeatureNotFound) {
		t.Errorf("Status() error = %v, want ErrFeatureNotFound", err)
	}
}
