package feature

import "errors"

var (
	// ErrCyclicDependency indicates the registered features form a
	// dependency cycle. Fatal: startup aborts before any feature starts.
	ErrCyclicDependency = errors.New("feature: cyclic dependency")

	// ErrDuplicateFeature indicates two registrations share a name.
	ErrDuplicateFeature = errors.New("feature: duplicate feature")

	// ErrUnknownDependency indicates a feature depends on a name that was
	// never registered.
	ErrUnknownDependency = errors.New("feature: unknown dependency")

	// ErrCoreStartFailed indicates a core feature failed to start and the
	// manager rolled back.
	ErrCoreStartFailed = errors.New("feature: core feature failed to start")

	// ErrAlreadyStarted indicates Startup was called twice.
	ErrAlreadyStarted = errors.New("feature: already started")

	// ErrFeatureNotFound indicates a status query for an unregistered name.
	ErrFeatureNotFound = errors.New("feature: not found")
)
