// Package registry manages the worker lifecycle: registration, heartbeats,
// graceful draining, and fleet-level statistics.
package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/arloliu/fleet/internal/stableid"
	"github.com/arloliu/fleet/types"
)

// DefaultCapacity is the assignment capacity used when a registration does
// not supply a positive value.
const DefaultCapacity = 50

// DefaultPool is the worker pool used when a registration leaves it blank.
const DefaultPool = "default"

// Assigner places collections that currently have no active assignment.
// Implemented by the placement service; invoked when a worker turns READY.
type Assigner interface {
	AssignUnassigned(ctx context.Context) error
}

// Reassigner evacuates a worker's assignments. Implemented by the placement
// service; invoked when a worker is taken offline by an operator.
type Reassigner interface {
	ReassignFromWorker(ctx context.Context, workerID string) error
}

// RegisterRequest carries the fields a worker reports when joining the fleet.
type RegisterRequest struct {
	// WorkerID optionally pins the registration to an existing worker record.
	// Normally left empty; the host determines the identity.
	WorkerID string `json:"workerId,omitempty"`

	Host      string `json:"host"`
	Port      int    `json:"port"`
	PodName   string `json:"podName,omitempty"`
	Namespace string `json:"namespace,omitempty"`

	// Capacity is the maximum number of assignments the worker accepts.
	// Zero or negative falls back to DefaultCapacity.
	Capacity int `json:"capacity,omitempty"`

	// Pool is the logical worker group. Blank falls back to DefaultPool.
	Pool string `json:"pool,omitempty"`

	// TenantAffinity optionally dedicates the worker to one tenant's
	// collections.
	TenantAffinity string `json:"tenantAffinity,omitempty"`

	Labels map[string]string `json:"labels,omitempty"`
}

// HeartbeatRequest carries a worker's periodic liveness report.
type HeartbeatRequest struct {
	// CurrentLoad is the worker-reported number of active assignments. The
	// worker is the source of truth for its own load.
	CurrentLoad int `json:"currentLoad"`

	// Status optionally reports a lifecycle transition (typically STARTING
	// to READY once the worker finishes warming up).
	Status types.WorkerStatus `json:"status,omitempty"`
}

// Service implements the worker lifecycle operations.
type Service struct {
	workers     types.WorkerStore
	assignments types.AssignmentStore
	collections types.CollectionSource
	assigner    Assigner
	reassigner  Reassigner
	publisher   types.EventPublisher
	logger      types.Logger
	metrics     types.RegistryMetrics

	defaultCapacity int
}

// NewService creates a worker lifecycle service.
//
// Parameters:
//   - workers: Worker store
//   - assignments: Assignment store (used for Stats)
//   - collections: Collection catalog (used for the unassigned count in Stats)
//   - assigner: Placement service used when a worker turns READY
//   - reassigner: Placement service used when a worker is taken offline
//   - publisher: Event publisher for worker status notifications
//   - logger: Logger
//   - metrics: Metrics collector for lifecycle operations
//   - defaultCapacity: Capacity applied to registrations that omit one
//     (DefaultCapacity when zero or negative)
//
// Returns:
//   - *Service: A new lifecycle service
func NewService(
	workers types.WorkerStore,
	assignments types.AssignmentStore,
	collections types.CollectionSource,
	assigner Assigner,
	reassigner Reassigner,
	publisher types.EventPublisher,
	logger types.Logger,
	metrics types.RegistryMetrics,
	defaultCapacity int,
) *Service {
	if defaultCapacity <= 0 {
		defaultCapacity = DefaultCapacity
	}

	return &Service{
		workers:         workers,
		assignments:     assignments,
		collections:     collections,
		assigner:        assigner,
		reassigner:      reassigner,
		publisher:       publisher,
		logger:          logger,
		metrics:         metrics,
		defaultCapacity: defaultCapacity,
	}
}

// Register creates or updates a worker record from a registration request.
//
// Identity resolution, in order:
//  1. A worker already registered for the same host is updated in place,
//     keeping its ID so assignment history stays attached.
//  2. An explicitly supplied worker ID that matches an existing record
//     updates that record.
//  3. Otherwise a new worker is created with an ID derived from the host.
//
// Registration always resets the status to STARTING and the heartbeat to
// now: a restarting worker must prove liveness again before it receives
// assignments.
//
// Returns:
//   - *types.Worker: The created or updated worker
//   - error: Store failure
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*types.Worker, error) {
	worker, err := s.resolveWorker(ctx, req)
	if err != nil {
		return nil, err
	}

	capacity := req.Capacity
	if capacity <= 0 {
		capacity = s.defaultCapacity
	}
	pool := req.Pool
	if pool == "" {
		pool = DefaultPool
	}

	worker.Host = req.Host
	worker.Port = req.Port
	worker.BaseURL = fmt.Sprintf("http://%s:%d", req.Host, req.Port)
	worker.PodName = req.PodName
	worker.Namespace = req.Namespace
	worker.Capacity = capacity
	worker.Pool = pool
	worker.TenantAffinity = req.TenantAffinity
	worker.Labels = req.Labels
	worker.Status = types.WorkerStarting
	worker.LastHeartbeat = time.Now()

	if err := s.workers.Save(ctx, worker); err != nil {
		return nil, fmt.Errorf("failed to save worker: %w", err)
	}

	s.metrics.RecordRegistration(pool)
	s.publishStatus(ctx, worker)
	s.updateWorkerGauges(ctx)

	s.logger.Info("worker registered",
		"worker_id", worker.ID,
		"host", worker.Host,
		"port", worker.Port,
		"pool", worker.Pool,
		"capacity", worker.Capacity,
	)

	return worker, nil
}

// resolveWorker finds the record a registration should update, or builds a
// fresh one.
func (s *Service) resolveWorker(ctx context.Context, req RegisterRequest) (*types.Worker, error) {
	existing, err := s.workers.FindByHost(ctx, req.Host)
	if err == nil {
		s.logger.Info("re-registering worker by host", "worker_id", existing.ID, "host", req.Host)
		return existing, nil
	}
	if !types.IsNotFound(err) {
		return nil, fmt.Errorf("failed to look up worker by host: %w", err)
	}

	if req.WorkerID != "" {
		existing, err := s.workers.Get(ctx, req.WorkerID)
		if err == nil {
			s.logger.Info("re-registering worker by id", "worker_id", existing.ID)
			return existing, nil
		}
		if !types.IsNotFound(err) {
			return nil, fmt.Errorf("failed to look up worker by id: %w", err)
		}
	}

	id := req.WorkerID
	if id == "" {
		id = stableid.ForWorker(req.Host)
	}

	return &types.Worker{ID: id}, nil
}

// Heartbeat records a worker's liveness report.
//
// The heartbeat always overwrites the stored load and timestamp. A reported
// status that differs from the stored one is persisted and published; a
// transition into READY additionally triggers placement of any collections
// that currently lack an active assignment. Heartbeats without a status
// change stay silent to avoid an event storm.
//
// Returns:
//   - *types.Worker: The updated worker
//   - error: NotFoundError when the worker ID is unknown
func (s *Service) Heartbeat(ctx context.Context, workerID string, req HeartbeatRequest) (*types.Worker, error) {
	worker, err := s.workers.Get(ctx, workerID)
	if err != nil {
		return nil, err
	}

	previous := worker.Status
	worker.CurrentLoad = req.CurrentLoad
	worker.LastHeartbeat = time.Now()

	statusChanged := req.Status != "" && req.Status != previous
	if statusChanged {
		worker.Status = req.Status
	}

	if err := s.workers.Save(ctx, worker); err != nil {
		return nil, fmt.Errorf("failed to save worker: %w", err)
	}

	s.metrics.RecordHeartbeat(workerID)

	if statusChanged {
		s.logger.Info("worker status changed via heartbeat",
			"worker_id", workerID, "from", previous, "to", worker.Status)

		s.publishStatus(ctx, worker)
		s.updateWorkerGauges(ctx)

		if worker.Status == types.WorkerReady {
			// Fresh capacity just appeared; sweep up any backlog.
			if err := s.assigner.AssignUnassigned(ctx); err != nil {
				s.logger.Warn("failed to assign backlogged collections", "error", err)
			}
		}
	} else {
		s.logger.Debug("heartbeat",
			"worker_id", workerID, "load", req.CurrentLoad, "status", worker.Status)
	}

	return worker, nil
}

// Deregister marks a worker DRAINING.
//
// Draining is a signal, not an evacuation: the worker keeps serving its
// existing assignments and receives no new ones. Reassignment happens later
// through the health monitor once heartbeats stop, or through an explicit
// admin action.
//
// Returns:
//   - error: NotFoundError when the worker ID is unknown
func (s *Service) Deregister(ctx context.Context, workerID string) error {
	worker, err := s.workers.Get(ctx, workerID)
	if err != nil {
		return err
	}

	worker.Status = types.WorkerDraining
	if err := s.workers.Save(ctx, worker); err != nil {
		return fmt.Errorf("failed to save worker: %w", err)
	}

	s.publishStatus(ctx, worker)
	s.updateWorkerGauges(ctx)

	s.logger.Info("worker draining", "worker_id", workerID, "host", worker.Host)

	return nil
}

// MarkOffline takes a worker offline by operator request. Same effect as the
// health monitor's staleness detection: the worker is marked OFFLINE, a
// status event is published, and its assignments are evacuated.
//
// Returns:
//   - error: NotFoundError when the worker ID is unknown
func (s *Service) MarkOffline(ctx context.Context, workerID string) error {
	worker, err := s.workers.Get(ctx, workerID)
	if err != nil {
		return err
	}

	worker.Status = types.WorkerOffline
	if err := s.workers.Save(ctx, worker); err != nil {
		return fmt.Errorf("failed to save worker: %w", err)
	}

	s.publishStatus(ctx, worker)
	s.updateWorkerGauges(ctx)

	s.logger.Info("worker marked offline by operator", "worker_id", workerID)

	if err := s.reassigner.ReassignFromWorker(ctx, workerID); err != nil {
		s.logger.Error("reassignment from worker failed", "worker_id", workerID, "error", err)
	}

	return nil
}

// FindByID returns a worker by ID.
func (s *Service) FindByID(ctx context.Context, workerID string) (*types.Worker, error) {
	return s.workers.Get(ctx, workerID)
}

// List returns all workers.
func (s *Service) List(ctx context.Context) ([]*types.Worker, error) {
	return s.workers.List(ctx)
}

// ListByStatus returns all workers with the given status.
func (s *Service) ListByStatus(ctx context.Context, status types.WorkerStatus) ([]*types.Worker, error) {
	return s.workers.FindByStatus(ctx, status)
}

// Stats computes fleet-level statistics.
//
// Returns:
//   - types.WorkerStats: Worker and assignment counts plus the average READY load
//   - error: Store or catalog failure
func (s *Service) Stats(ctx context.Context) (types.WorkerStats, error) {
	total, err := s.workers.Count(ctx)
	if err != nil {
		return types.WorkerStats{}, fmt.Errorf("failed to count workers: %w", err)
	}

	ready, err := s.workers.CountByStatus(ctx, types.WorkerReady)
	if err != nil {
		return types.WorkerStats{}, fmt.Errorf("failed to count ready workers: %w", err)
	}

	totalAssignments, err := s.assignments.Count(ctx)
	if err != nil {
		return types.WorkerStats{}, fmt.Errorf("failed to count assignments: %w", err)
	}

	readyAssignments, err := s.assignments.CountByStatus(ctx, types.AssignmentReady)
	if err != nil {
		return types.WorkerStats{}, fmt.Errorf("failed to count ready assignments: %w", err)
	}

	unassigned, err := s.countUnassigned(ctx)
	if err != nil {
		return types.WorkerStats{}, err
	}

	averageLoad := 0.0
	if ready > 0 {
		averageLoad = float64(readyAssignments) / float64(ready)
	}

	return types.WorkerStats{
		TotalWorkers:          total,
		ReadyWorkers:          ready,
		TotalAssignments:      totalAssignments,
		ReadyAssignments:      readyAssignments,
		UnassignedCollections: unassigned,
		AverageLoad:           averageLoad,
	}, nil
}

func (s *Service) countUnassigned(ctx context.Context) (int, error) {
	active, err := s.collections.ActiveCollections(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list active collections: %w", err)
	}

	unassigned := 0
	for _, collection := range active {
		existing, err := s.assignments.FindByCollection(ctx, collection.ID)
		if err != nil {
			return 0, fmt.Errorf("failed to list assignments for collection %s: %w", collection.ID, err)
		}

		hasActive := false
		for _, a := range existing {
			if a.Active() {
				hasActive = true
				break
			}
		}
		if !hasActive {
			unassigned++
		}
	}

	return unassigned, nil
}

// publishStatus emits a worker status notification. Best-effort.
func (s *Service) publishStatus(ctx context.Context, worker *types.Worker) {
	event := types.WorkerStatusEvent{
		WorkerID: worker.ID,
		Host:     worker.Host,
		Status:   worker.Status,
		Pool:     worker.Pool,
	}

	if err := s.publisher.PublishWorkerStatusChanged(ctx, event); err != nil {
		s.logger.Warn("failed to publish worker status event",
			"worker_id", worker.ID, "error", err)
	}
}

// updateWorkerGauges refreshes the total/ready worker gauges. Best-effort.
func (s *Service) updateWorkerGauges(ctx context.Context) {
	total, err := s.workers.Count(ctx)
	if err != nil {
		return
	}
	ready, err := s.workers.CountByStatus(ctx, types.WorkerReady)
	if err != nil {
		return
	}

	s.metrics.SetWorkerCounts(total, ready)
}
