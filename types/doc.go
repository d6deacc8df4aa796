// Package types defines the shared domain types and ports used by the fleet
// control plane.
//
// It contains the Worker and Assignment models, the storage ports
// (WorkerStore, AssignmentStore), the CollectionSource collaborator, the
// EventPublisher notification port, and the Logger and MetricsCollector
// interfaces.
//
// Internal packages depend on types rather than on the root fleet package,
// which keeps the dependency graph acyclic while the root package re-exports
// the public surface via type aliases.
package types
