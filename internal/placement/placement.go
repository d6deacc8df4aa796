// Package placement chooses workers for collections and maintains the
// collection-to-worker assignment lifecycle.
package placement

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/arloliu/fleet/internal/stableid"
	"github.com/arloliu/fleet/types"
)

// Service places collections on workers, removes assignments, and performs
// best-effort bulk reassignment when a worker drains or fails.
//
// Placement algorithm:
//  1. Candidates are READY workers with spare capacity.
//  2. When the collection's tenant matches some candidates' tenant affinity,
//     only those candidates are considered (soft preference: fall back to
//     the full set when no affinity match exists).
//  3. The least-loaded candidate wins; ties break on worker ID order.
type Service struct {
	workers     types.WorkerStore
	assignments types.AssignmentStore
	collections types.CollectionSource
	publisher   types.EventPublisher
	logger      types.Logger
	metrics     types.PlacementMetrics
}

// NewService creates a placement service.
//
// Parameters:
//   - workers: Worker store
//   - assignments: Assignment store
//   - collections: Collection catalog (used for auto-assignment scans and
//     notification enrichment)
//   - publisher: Event publisher (use events.NewNop() when unused)
//   - logger: Logger
//   - metrics: Metrics collector for placement operations
//
// Returns:
//   - *Service: A new placement service
func NewService(
	workers types.WorkerStore,
	assignments types.AssignmentStore,
	collections types.CollectionSource,
	publisher types.EventPublisher,
	logger types.Logger,
	metrics types.PlacementMetrics,
) *Service {
	return &Service{
		workers:     workers,
		assignments: assignments,
		collections: collections,
		publisher:   publisher,
		logger:      logger,
		metrics:     metrics,
	}
}

// AssignCollection assigns a collection to the best available worker.
//
// Parameters:
//   - ctx: Context for cancellation
//   - collectionID: The collection to assign
//   - tenantID: The collection's tenant ("" for global collections)
//
// Returns:
//   - *types.Assignment: The created PENDING assignment
//   - error: types.ErrNoWorkersAvailable when no READY worker has capacity
func (s *Service) AssignCollection(ctx context.Context, collectionID, tenantID string) (*types.Assignment, error) {
	s.logger.Info("assigning collection", "collection_id", collectionID, "tenant_id", tenantID)

	readyWorkers, err := s.workers.FindByStatus(ctx, types.WorkerReady)
	if err != nil {
		return nil, fmt.Errorf("failed to find ready workers: %w", err)
	}

	candidates := make([]*types.Worker, 0, len(readyWorkers))
	for _, w := range readyWorkers {
		if w.HasCapacity() {
			candidates = append(candidates, w)
		}
	}

	if len(candidates) == 0 {
		s.metrics.RecordPlacementFailure()
		return nil, types.ErrNoWorkersAvailable
	}

	// Tenant affinity is a soft preference: narrow to matching workers only
	// when at least one exists.
	if tenantID != "" {
		matches := make([]*types.Worker, 0, len(candidates))
		for _, w := range candidates {
			if w.TenantAffinity == tenantID {
				matches = append(matches, w)
			}
		}
		if len(matches) > 0 {
			candidates = matches
		}
	}

	// Least loaded wins; SliceStable keeps the store's ID order for ties.
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].CurrentLoad < candidates[j].CurrentLoad
	})

	selected := candidates[0]
	now := time.Now()

	assignment := &types.Assignment{
		ID:           stableid.ForAssignment(collectionID, selected.ID, now),
		CollectionID: collectionID,
		WorkerID:     selected.ID,
		TenantID:     normalizeTenant(tenantID),
		Status:       types.AssignmentPending,
		AssignedAt:   now,
	}

	if err := s.assignments.Save(ctx, assignment); err != nil {
		return nil, fmt.Errorf("failed to save assignment: %w", err)
	}

	if err := s.workers.AdjustLoad(ctx, selected.ID, 1); err != nil {
		return nil, fmt.Errorf("failed to increment worker load: %w", err)
	}

	s.metrics.RecordAssignmentChange(types.ChangeCreated)
	s.publishAssignment(ctx, selected.ID, collectionID, selected.BaseURL, assignment.TenantID, types.ChangeCreated)

	s.logger.Info("collection assigned",
		"collection_id", collectionID, "worker_id", selected.ID, "assignment_id", assignment.ID)

	return assignment, nil
}

// UnassignCollection removes an assignment by setting its status to REMOVED
// and releasing the worker's load slot.
//
// Returns a NotFoundError when the assignment ID is unknown.
func (s *Service) UnassignCollection(ctx context.Context, assignmentID string) error {
	s.logger.Info("unassigning collection", "assignment_id", assignmentID)

	assignment, err := s.assignments.Get(ctx, assignmentID)
	if err != nil {
		return err
	}

	assignment.Status = types.AssignmentRemoved
	if err := s.assignments.Save(ctx, assignment); err != nil {
		return fmt.Errorf("failed to save assignment: %w", err)
	}

	// The worker may already be gone; a missing record just means there is
	// no load counter left to release.
	if err := s.workers.AdjustLoad(ctx, assignment.WorkerID, -1); err != nil && !types.IsNotFound(err) {
		return fmt.Errorf("failed to decrement worker load: %w", err)
	}

	baseURL := ""
	if worker, err := s.workers.Get(ctx, assignment.WorkerID); err == nil {
		baseURL = worker.BaseURL
	}

	s.metrics.RecordAssignmentChange(types.ChangeDeleted)
	s.publishAssignment(ctx, assignment.WorkerID, assignment.CollectionID, baseURL, assignment.TenantID, types.ChangeDeleted)

	return nil
}

// MarkReady marks the active assignment binding the collection to the worker
// as READY. Called by the worker after it finishes loading the collection.
//
// Returns a NotFoundError when no active assignment exists for the pair.
func (s *Service) MarkReady(ctx context.Context, collectionID, workerID string) error {
	assignment, err := s.assignments.ActiveByCollectionAndWorker(ctx, collectionID, workerID)
	if err != nil {
		return err
	}

	assignment.Status = types.AssignmentReady
	assignment.ReadyAt = time.Now()

	if err := s.assignments.Save(ctx, assignment); err != nil {
		return fmt.Errorf("failed to save assignment: %w", err)
	}

	s.logger.Info("assignment ready", "collection_id", collectionID, "worker_id", workerID)

	return nil
}

// ReassignFromWorker moves all READY and PENDING assignments off a worker.
//
// Each assignment is marked REMOVED, then re-placed via AssignCollection.
// A collection that cannot be placed (no workers available) is logged and
// skipped; it is picked up later by AssignUnassigned once capacity returns.
// Store failures abort the sweep and propagate so the caller can apply its
// fallback.
func (s *Service) ReassignFromWorker(ctx context.Context, workerID string) error {
	s.logger.Info("reassigning collections from worker", "worker_id", workerID)

	active, err := s.activeAssignments(ctx, workerID)
	if err != nil {
		return err
	}

	for _, assignment := range active {
		assignment.Status = types.AssignmentRemoved
		if err := s.assignments.Save(ctx, assignment); err != nil {
			return fmt.Errorf("failed to remove assignment %s: %w", assignment.ID, err)
		}

		_, err := s.AssignCollection(ctx, assignment.CollectionID, assignment.TenantID)
		switch {
		case err == nil:
			s.logger.Info("reassigned collection", "collection_id", assignment.CollectionID)
		case errors.Is(err, types.ErrNoWorkersAvailable):
			s.logger.Warn("could not reassign collection, no workers available",
				"collection_id", assignment.CollectionID)
		default:
			return fmt.Errorf("failed to reassign collection %s: %w", assignment.CollectionID, err)
		}
	}

	s.logger.Info("completed reassignment from worker",
		"worker_id", workerID, "assignments", len(active))

	return nil
}

// AssignUnassigned scans active collections and places any that have no
// PENDING or READY assignment.
//
// Best-effort: per-collection placement failures are logged and skipped.
// Triggered when a worker transitions into READY so backlogged collections
// get picked up immediately.
func (s *Service) AssignUnassigned(ctx context.Context) error {
	active, err := s.collections.ActiveCollections(ctx)
	if err != nil {
		return fmt.Errorf("failed to list active collections: %w", err)
	}

	for _, collection := range active {
		existing, err := s.assignments.FindByCollection(ctx, collection.ID)
		if err != nil {
			s.logger.Warn("failed to check collection assignments",
				"collection_id", collection.ID, "error", err)
			continue
		}

		hasActive := false
		for _, a := range existing {
			if a.Active() {
				hasActive = true
				break
			}
		}
		if hasActive {
			continue
		}

		if _, err := s.AssignCollection(ctx, collection.ID, collection.TenantID); err != nil {
			s.logger.Warn("could not auto-assign collection",
				"collection", collection.Name, "error", err)
			continue
		}

		s.logger.Info("auto-assigned unassigned collection", "collection", collection.Name)
	}

	return nil
}

// FindByWorker returns all assignments for a worker.
func (s *Service) FindByWorker(ctx context.Context, workerID string) ([]*types.Assignment, error) {
	return s.assignments.FindByWorker(ctx, workerID)
}

// FindByCollection returns all assignments for a collection.
func (s *Service) FindByCollection(ctx context.Context, collectionID string) ([]*types.Assignment, error) {
	return s.assignments.FindByCollection(ctx, collectionID)
}

func (s *Service) activeAssignments(ctx context.Context, workerID string) ([]*types.Assignment, error) {
	ready, err := s.assignments.FindByWorkerAndStatus(ctx, workerID, types.AssignmentReady)
	if err != nil {
		return nil, fmt.Errorf("failed to find ready assignments: %w", err)
	}

	pending, err := s.assignments.FindByWorkerAndStatus(ctx, workerID, types.AssignmentPending)
	if err != nil {
		return nil, fmt.Errorf("failed to find pending assignments: %w", err)
	}

	return append(ready, pending...), nil
}

// publishAssignment emits an assignment change notification, enriched with
// the collection name when the catalog resolves it. Best-effort.
func (s *Service) publishAssignment(
	ctx context.Context,
	workerID, collectionID, baseURL, tenantID string,
	change types.ChangeType,
) {
	name := collectionID
	if collection, err := s.collections.Collection(ctx, collectionID); err == nil && collection.Name != "" {
		name = collection.Name
	}

	event := types.AssignmentChangedEvent{
		WorkerID:       workerID,
		CollectionID:   collectionID,
		WorkerBaseURL:  baseURL,
		CollectionName: name,
		TenantID:       tenantID,
		ChangeType:     change,
	}

	if err := s.publisher.PublishAssignmentChanged(ctx, event); err != nil {
		s.logger.Warn("failed to publish assignment event",
			"collection_id", collectionID, "worker_id", workerID, "error", err)
	}
}

func normalizeTenant(tenantID string) string {
	if tenantID == "" {
		return "default"
	}

	return tenantID
}
