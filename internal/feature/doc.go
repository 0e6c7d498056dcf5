// Package feature orchestrates the lifecycle of the pluggable subsystems
// that make up a running system.
//
// Features declare dependencies by name and are started level by level
// through a topological sort: independent branches start concurrently,
// and a feature never starts before all of its dependencies are running.
// Failure semantics depend on the feature's role — a core feature's
// startup failure rolls the whole system back, while a non-core failure
// is contained to the feature and its transitive dependents.
//
// Extension happens through the capability interfaces: a feature
// implements Startable, and optionally HealthReporter for the worst-of
// health aggregation.
package feature
