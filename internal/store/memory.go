package store

import (
	"context"
	"sort"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/arloliu/fleet/types"
)

// MemoryWorkerStore is an in-memory WorkerStore backed by a concurrent map.
type MemoryWorkerStore struct {
	workers *xsync.Map[string, *types.Worker]
}

// Compile-time assertion that MemoryWorkerStore implements WorkerStore.
var _ types.WorkerStore = (*MemoryWorkerStore)(nil)

// NewMemoryWorkerStore creates an empty in-memory worker store.
func NewMemoryWorkerStore() *MemoryWorkerStore {
	return &MemoryWorkerStore{workers: xsync.NewMap[string, *types.Worker]()}
}

// Get returns the worker with the given ID.
func (s *MemoryWorkerStore) Get(_ context.Context, id string) (*types.Worker, error) {
	w, ok := s.workers.Load(id)
	if !ok {
		return nil, types.NewNotFound("worker", id)
	}

	return w.Clone(), nil
}

// FindByHost returns the worker registered for the given host.
func (s *MemoryWorkerStore) FindByHost(_ context.Context, host string) (*types.Worker, error) {
	var found *types.Worker
	s.workers.Range(func(_ string, w *types.Worker) bool {
		if w.Host == host {
			found = w.Clone()
			return false
		}

		return true
	})

	if found == nil {
		return nil, types.NewNotFound("worker", host)
	}

	return found, nil
}

// Save creates or replaces a worker record.
func (s *MemoryWorkerStore) Save(_ context.Context, worker *types.Worker) error {
	s.workers.Store(worker.ID, worker.Clone())
	return nil
}

// List returns all workers in stable ID order.
func (s *MemoryWorkerStore) List(_ context.Context) ([]*types.Worker, error) {
	return s.collect(func(*types.Worker) bool { return true }), nil
}

// FindByStatus returns all workers with the given status.
func (s *MemoryWorkerStore) FindByStatus(_ context.Context, status types.WorkerStatus) ([]*types.Worker, error) {
	return s.collect(func(w *types.Worker) bool { return w.Status == status }), nil
}

// FindByStatusIn returns all workers whose status is one of the given statuses.
func (s *MemoryWorkerStore) FindByStatusIn(_ context.Context, statuses ...types.WorkerStatus) ([]*types.Worker, error) {
	return s.collect(func(w *types.Worker) bool {
		for _, st := range statuses {
			if w.Status == st {
				return true
			}
		}

		return false
	}), nil
}

// AdjustLoad atomically adds delta to the worker's load, clamping at zero.
func (s *MemoryWorkerStore) AdjustLoad(_ context.Context, id string, delta int) error {
	_, ok := s.workers.Compute(id, func(old *types.Worker, loaded bool) (*types.Worker, xsync.ComputeOp) {
		if !loaded {
			return nil, xsync.CancelOp
		}

		cp := old.Clone()
		cp.CurrentLoad += delta
		if cp.CurrentLoad < 0 {
			cp.CurrentLoad = 0
		}

		return cp, xsync.UpdateOp
	})
	if !ok {
		return types.NewNotFound("worker", id)
	}

	return nil
}

// Count returns the total number of workers.
func (s *MemoryWorkerStore) Count(_ context.Context) (int, error) {
	return s.workers.Size(), nil
}

// CountByStatus returns the number of workers with the given status.
func (s *MemoryWorkerStore) CountByStatus(_ context.Context, status types.WorkerStatus) (int, error) {
	count := 0
	s.workers.Range(func(_ string, w *types.Worker) bool {
		if w.Status == status {
			count++
		}

		return true
	})

	return count, nil
}

func (s *MemoryWorkerStore) collect(match func(*types.Worker) bool) []*types.Worker {
	out := make([]*types.Worker, 0)
	s.workers.Range(func(_ string, w *types.Worker) bool {
		if match(w) {
			out = append(out, w.Clone())
		}

		return true
	})

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	return out
}

// MemoryAssignmentStore is an in-memory AssignmentStore backed by a
// concurrent map.
type MemoryAssignmentStore struct {
	assignments *xsync.Map[string, *types.Assignment]
}

// Compile-time assertion that MemoryAssignmentStore implements AssignmentStore.
var _ types.AssignmentStore = (*MemoryAssignmentStore)(nil)

// NewMemoryAssignmentStore creates an empty in-memory assignment store.
func NewMemoryAssignmentStore() *MemoryAssignmentStore {
	return &MemoryAssignmentStore{assignments: xsync.NewMap[string, *types.Assignment]()}
}

// Get returns the assignment with the given ID.
func (s *MemoryAssignmentStore) Get(_ context.Context, id string) (*types.Assignment, error) {
	a, ok := s.assignments.Load(id)
	if !ok {
		return nil, types.NewNotFound("assignment", id)
	}

	return a.Clone(), nil
}

// Save creates or replaces an assignment record.
func (s *MemoryAssignmentStore) Save(_ context.Context, assignment *types.Assignment) error {
	s.assignments.Store(assignment.ID, assignment.Clone())
	return nil
}

// List returns all assignments.
func (s *MemoryAssignmentStore) List(_ context.Context) ([]*types.Assignment, error) {
	return s.collect(func(*types.Assignment) bool { return true }), nil
}

// FindByWorker returns all assignments for a worker.
func (s *MemoryAssignmentStore) FindByWorker(_ context.Context, workerID string) ([]*types.Assignment, error) {
	return s.collect(func(a *types.Assignment) bool { return a.WorkerID == workerID }), nil
}

// FindByWorkerAndStatus returns the worker's assignments in the given status.
func (s *MemoryAssignmentStore) FindByWorkerAndStatus(
	_ context.Context,
	workerID string,
	status types.AssignmentStatus,
) ([]*types.Assignment, error) {
	return s.collect(func(a *types.Assignment) bool {
		return a.WorkerID == workerID && a.Status == status
	}), nil
}

// FindByCollection returns all assignments for a collection.
func (s *MemoryAssignmentStore) FindByCollection(_ context.Context, collectionID string) ([]*types.Assignment, error) {
	return s.collect(func(a *types.Assignment) bool { return a.CollectionID == collectionID }), nil
}

// ActiveByCollectionAndWorker returns the PENDING or READY assignment binding
// the collection to the worker.
func (s *MemoryAssignmentStore) ActiveByCollectionAndWorker(
	_ context.Context,
	collectionID, workerID string,
) (*types.Assignment, error) {
	var found *types.Assignment
	s.assignments.Range(func(_ string, a *types.Assignment) bool {
		if a.CollectionID == collectionID && a.WorkerID == workerID && a.Active() {
			found = a.Clone()
			return false
		}

		return true
	})

	if found == nil {
		return nil, types.NewNotFound("assignment", collectionID+"/"+workerID)
	}

	return found, nil
}

// Count returns the total number of assignments, including REMOVED.
func (s *MemoryAssignmentStore) Count(_ context.Context) (int, error) {
	return s.assignments.Size(), nil
}

// CountByStatus returns the number of assignments with the given status.
func (s *MemoryAssignmentStore) CountByStatus(_ context.Context, status types.AssignmentStatus) (int, error) {
	count := 0
	s.assignments.Range(func(_ string, a *types.Assignment) bool {
		if a.Status == status {
			count++
		}

		return true
	})

	return count, nil
}

// CountByWorkerAndStatus returns the number of the worker's assignments in
// the given status.
func (s *MemoryAssignmentStore) CountByWorkerAndStatus(
	_ context.Context,
	workerID string,
	status types.AssignmentStatus,
) (int, error) {
	count := 0
	s.assignments.Range(func(_ string, a *types.Assignment) bool {
		if a.WorkerID == workerID && a.Status == status {
			count++
		}

		return true
	})

	return count, nil
}

func (s *MemoryAssignmentStore) collect(match func(*types.Assignment) bool) []*types.Assignment {
	out := make([]*types.Assignment, 0)
	s.assignments.Range(func(_ string, a *types.Assignment) bool {
		if match(a) {
			out = append(out, a.Clone())
		}

		return true
	})

	// Oldest first so reassignment and rebalancing drain in a stable order.
	sort.Slice(out, func(i, j int) bool {
		if out[i].AssignedAt.Equal(out[j].AssignedAt) {
			return out[i].ID < out[j].ID
		}

		return out[i].AssignedAt.Before(out[j].AssignedAt)
	})

	return out
}
