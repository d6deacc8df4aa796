package fleet

import "github.com/arloliu/fleet/types"

// Re-export types from the internal types package.
//
// This file provides a stable, backward-compatible public API for the library's
// core types and interfaces. It uses type aliases to re-export definitions
// from the `types` subpackage, which contains the actual implementations.
//
// This pattern solves the "import cycle" problem by allowing internal packages
// to depend on `types` without depending on the root `fleet` package, while
// still providing a convenient `fleet.Worker`, `fleet.Logger`, etc. for users.
type (
	Worker           = types.Worker
	WorkerStatus     = types.WorkerStatus
	Assignment       = types.Assignment
	AssignmentStatus = types.AssignmentStatus
	Collection       = types.Collection
	ChangeType       = types.ChangeType

	WorkerStatusEvent      = types.WorkerStatusEvent
	AssignmentChangedEvent = types.AssignmentChangedEvent

	WorkerStats     = types.WorkerStats
	RebalanceReport = types.RebalanceReport
	RebalanceMove   = types.RebalanceMove
)

// Re-export interfaces from the internal types package for convenience.
type (
	WorkerStore      = types.WorkerStore
	AssignmentStore  = types.AssignmentStore
	CollectionSource = types.CollectionSource
	EventPublisher   = types.EventPublisher
	MetricsCollector = types.MetricsCollector
	Logger           = types.Logger
)

// Re-export status constants from the internal types package.
const (
	WorkerStarting = types.WorkerStarting
	WorkerReady    = types.WorkerReady
	WorkerDraining = types.WorkerDraining
	WorkerOffline  = types.WorkerOffline

	AssignmentPending = types.AssignmentPending
	AssignmentReady   = types.AssignmentReady
	AssignmentRemoved = types.AssignmentRemoved

	ChangeCreated = types.ChangeCreated
	ChangeDeleted = types.ChangeDeleted
)
