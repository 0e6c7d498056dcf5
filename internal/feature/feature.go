package feature

import "context"

// State is a feature's position in the lifecycle state machine:
//
//	registered → starting → running → stopping → stopped
//	registered → starting → failed
//	registered → failed            (dependency unavailable)
type State string

const (
	StateRegistered State = "registered"
	StateStarting   State = "starting"
	StateRunning    State = "running"
	StateFailed     State = "failed"
	StateStopping   State = "stopping"
	StateStopped    State = "stopped"
)

// ReasonDependencyUnavailable marks a feature failed because something it
// depends on failed; its Start is never invoked.
const ReasonDependencyUnavailable = "dependency unavailable"

// HealthLevel orders feature health for worst-of aggregation.
type HealthLevel int

const (
	Healthy HealthLevel = iota
	Degraded
	Unhealthy
)

// String returns the level's wire name.
func (l HealthLevel) String() string {
	switch l {
	case Healthy:
		return "healthy"
	case Degraded:
		return "degraded"
	default:
		return "unhealthy"
	}
}

// Health is one feature's self-reported condition.
type Health struct {
	Level  HealthLevel `json:"level"`
	Detail string      `json:"detail,omitempty"`
}

// Startable is the lifecycle capability. Start blocks until the feature
// is ready to serve or fails; Stop blocks until resources are released.
// Both honor context cancellation.
type Startable interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// HealthReporter is the optional health capability. Features that do not
// implement it report Healthy while running.
type HealthReporter interface {
	Health() Health
}

// Descriptor registers one feature with the manager.
type Descriptor struct {
	// Name is the unique feature name.
	Name string

	// Core marks the feature as essential: its startup failure aborts the
	// whole system.
	Core bool

	// DependsOn lists feature names that must reach running before this
	// feature starts.
	DependsOn []string

	// Runner is the feature implementation.
	Runner Startable
}

// Status is a point-in-time view of one feature.
type Status struct {
	Name   string `json:"name"`
	Core   bool   `json:"core"`
	State  State  `json:"state"`
	Reason string `json:"reason,omitempty"`
	Health Health `json:"health"`
}
