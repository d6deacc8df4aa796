package types

import "context"

// WorkerStore is the persistence port for workers.
//
// Implementations must be safe for concurrent use. Lookups that miss return
// a NotFoundError. Stores return defensive copies; mutating a returned
// Worker has no effect until it is saved back.
type WorkerStore interface {
	// Get returns the worker with the given ID.
	Get(ctx context.Context, id string) (*Worker, error)

	// FindByHost returns the worker registered for the given host.
	FindByHost(ctx context.Context, host string) (*Worker, error)

	// Save creates or replaces a worker record.
	Save(ctx context.Context, worker *Worker) error

	// List returns all workers in stable ID order.
	List(ctx context.Context) ([]*Worker, error)

	// FindByStatus returns all workers with the given status, in stable ID
	// order.
	FindByStatus(ctx context.Context, status WorkerStatus) ([]*Worker, error)

	// FindByStatusIn returns all workers whose status is one of the given
	// statuses, in stable ID order.
	FindByStatusIn(ctx context.Context, statuses ...WorkerStatus) ([]*Worker, error)

	// AdjustLoad atomically adds delta to the worker's current load,
	// clamping the result at zero. The read-modify-write must not lose
	// concurrent increments.
	AdjustLoad(ctx context.Context, id string, delta int) error

	// Count returns the total number of workers.
	Count(ctx context.Context) (int, error)

	// CountByStatus returns the number of workers with the given status.
	CountByStatus(ctx context.Context, status WorkerStatus) (int, error)
}

// AssignmentStore is the persistence port for collection assignments.
//
// The "at most one active assignment per collection" invariant is maintained
// by callers (placement and rebalancing), not enforced here; the store keeps
// full history including REMOVED rows.
type AssignmentStore interface {
	// Get returns the assignment with the given ID.
	Get(ctx context.Context, id string) (*Assignment, error)

	// Save creates or replaces an assignment record.
	Save(ctx context.Context, assignment *Assignment) error

	// List returns all assignments.
	List(ctx context.Context) ([]*Assignment, error)

	// FindByWorker returns all assignments (any status) for a worker.
	FindByWorker(ctx context.Context, workerID string) ([]*Assignment, error)

	// FindByWorkerAndStatus returns the worker's assignments in the given
	// status, ordered by assignment time (oldest first).
	FindByWorkerAndStatus(ctx context.Context, workerID string, status AssignmentStatus) ([]*Assignment, error)

	// FindByCollection returns all assignments (any status) for a collection.
	FindByCollection(ctx context.Context, collectionID string) ([]*Assignment, error)

	// ActiveByCollectionAndWorker returns the PENDING or READY assignment
	// binding the collection to the worker, or a NotFoundError.
	ActiveByCollectionAndWorker(ctx context.Context, collectionID, workerID string) (*Assignment, error)

	// Count returns the total number of assignments, including REMOVED.
	Count(ctx context.Context) (int, error)

	// CountByStatus returns the number of assignments with the given status.
	CountByStatus(ctx context.Context, status AssignmentStatus) (int, error)

	// CountByWorkerAndStatus returns the number of the worker's assignments
	// in the given status.
	CountByWorkerAndStatus(ctx context.Context, workerID string, status AssignmentStatus) (int, error)
}
