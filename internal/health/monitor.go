// Package health monitors worker liveness via heartbeat staleness.
package health

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/arloliu/fleet/types"
)

// Lifecycle errors for the health monitor.
var (
	ErrAlreadyStarted = errors.New("health monitor already started")
	ErrNotStarted     = errors.New("health monitor not started")
)

// Reassigner evacuates a worker's assignments. Implemented by the placement
// service.
type Reassigner interface {
	// ReassignFromWorker moves all READY and PENDING assignments off the
	// given worker, best-effort per assignment.
	ReassignFromWorker(ctx context.Context, workerID string) error
}

// Monitor periodically scans active workers and marks those with stale
// heartbeats OFFLINE, triggering reassignment of their collections.
//
// Each tick is idempotent and convergent: a worker that resumes heartbeating
// before the next tick is left alone; one that stays silent is drained. A
// failed tick never stops the loop.
type Monitor struct {
	workers     types.WorkerStore
	assignments types.AssignmentStore
	reassigner  Reassigner
	publisher   types.EventPublisher
	logger      types.Logger
	metrics     types.HealthMetrics

	interval  time.Duration
	staleness time.Duration

	mu      sync.Mutex
	started bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewMonitor creates a health monitor.
//
// Parameters:
//   - workers: Worker store
//   - assignments: Assignment store (used for the PENDING fallback)
//   - reassigner: Placement service handling evacuation
//   - publisher: Event publisher for worker status notifications
//   - logger: Logger
//   - metrics: Metrics collector for health events
//   - interval: Scan cadence (30s in production)
//   - staleness: Heartbeat age beyond which a worker is stale (45s in production)
//
// Returns:
//   - *Monitor: A new monitor instance
func NewMonitor(
	workers types.WorkerStore,
	assignments types.AssignmentStore,
	reassigner Reassigner,
	publisher types.EventPublisher,
	logger types.Logger,
	metrics types.HealthMetrics,
	interval time.Duration,
	staleness time.Duration,
) *Monitor {
	return &Monitor{
		workers:     workers,
		assignments: assignments,
		reassigner:  reassigner,
		publisher:   publisher,
		logger:      logger,
		metrics:     metrics,
		interval:    interval,
		staleness:   staleness,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
}

// Start begins the periodic health check in a background goroutine.
//
// Returns:
//   - error: ErrAlreadyStarted when called twice
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return ErrAlreadyStarted
	}
	m.started = true

	go m.run(ctx)

	return nil
}

// Stop stops the monitor and waits for the background goroutine to exit.
//
// Returns:
//   - error: ErrNotStarted when Start was never called
func (m *Monitor) Stop() error {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return ErrNotStarted
	}
	m.mu.Unlock()

	close(m.stopCh)
	<-m.doneCh

	return nil
}

func (m *Monitor) run(ctx context.Context) {
	defer close(m.doneCh)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := m.CheckOnce(ctx); err != nil {
				// A failed tick must not prevent future ticks.
				m.logger.Error("health check failed", "error", err)
			}
		case <-m.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// CheckOnce runs a single health-check pass: scans READY and STARTING
// workers and handles every one whose heartbeat is stale.
//
// Exported for tests and for admin-triggered checks.
func (m *Monitor) CheckOnce(ctx context.Context) error {
	activeWorkers, err := m.workers.FindByStatusIn(ctx, types.WorkerReady, types.WorkerStarting)
	if err != nil {
		return fmt.Errorf("failed to list active workers: %w", err)
	}

	if len(activeWorkers) == 0 {
		m.logger.Debug("no active workers to check")
		return nil
	}

	now := time.Now()
	staleCount := 0

	for _, worker := range activeWorkers {
		if !worker.HeartbeatStale(now, m.staleness) {
			continue
		}

		staleCount++
		m.handleStaleWorker(ctx, worker)
	}

	if staleCount > 0 {
		m.logger.Info("health check complete", "stale_workers", staleCount)
	} else {
		m.logger.Debug("health check complete, all workers healthy", "workers", len(activeWorkers))
	}

	return nil
}

// handleStaleWorker marks the worker OFFLINE, publishes a status event, and
// evacuates its assignments.
func (m *Monitor) handleStaleWorker(ctx context.Context, worker *types.Worker) {
	m.logger.Warn("worker heartbeat stale",
		"worker_id", worker.ID,
		"host", worker.Host,
		"last_heartbeat", worker.LastHeartbeat,
		"status", worker.Status,
	)

	previousStatus := worker.Status
	worker.Status = types.WorkerOffline
	if err := m.workers.Save(ctx, worker); err != nil {
		m.logger.Error("failed to mark worker offline", "worker_id", worker.ID, "error", err)
		return
	}

	m.metrics.RecordStaleWorker()

	event := types.WorkerStatusEvent{
		WorkerID: worker.ID,
		Host:     worker.Host,
		Status:   types.WorkerOffline,
		Pool:     worker.Pool,
	}
	if err := m.publisher.PublishWorkerStatusChanged(ctx, event); err != nil {
		m.logger.Warn("failed to publish worker status event", "worker_id", worker.ID, "error", err)
	}

	m.logger.Info("worker marked offline",
		"worker_id", worker.ID, "previous_status", previousStatus)

	m.reassign(ctx, worker.ID)
}

// reassign evacuates the worker via the placement service. When the sweep
// fails mid-way, remaining READY assignments are flipped to PENDING so a
// future placement cycle picks them up instead of leaving them bound to a
// dead worker.
func (m *Monitor) reassign(ctx context.Context, workerID string) {
	if err := m.reassigner.ReassignFromWorker(ctx, workerID); err != nil {
		m.logger.Error("reassignment from worker failed", "worker_id", workerID, "error", err)
		m.markRemainingPending(ctx, workerID)
	}
}

func (m *Monitor) markRemainingPending(ctx context.Context, workerID string) {
	remaining, err := m.assignments.FindByWorkerAndStatus(ctx, workerID, types.AssignmentReady)
	if err != nil {
		m.logger.Error("failed to list remaining assignments", "worker_id", workerID, "error", err)
		return
	}

	for _, assignment := range remaining {
		m.logger.Warn("marking assignment pending after failed reassignment",
			"collection_id", assignment.CollectionID, "worker_id", workerID)

		assignment.Status = types.AssignmentPending
		if err := m.assignments.Save(ctx, assignment); err != nil {
			m.logger.Error("failed to mark assignment pending",
				"assignment_id", assignment.ID, "error", err)
		}
	}
}
