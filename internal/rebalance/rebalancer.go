// Package rebalance evens out collection assignments across the READY
// worker fleet while respecting tenant affinity.
package rebalance

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/arloliu/fleet/types"
)

// Lifecycle errors for the rebalancer.
var (
	ErrAlreadyStarted = errors.New("rebalancer already started")
	ErrNotStarted     = errors.New("rebalancer not started")
)

// Rebalancer periodically computes the ideal per-worker load and moves READY
// assignments from overloaded workers to underloaded ones.
//
// A worker counts as overloaded above ceil(ideal * overloadedRatio) and as
// underloaded below floor(ideal * underloadedRatio). Moves update the
// assignment in place (worker ID and timestamp) rather than going through
// full placement, and every move emits a DELETED notification for the source
// and a CREATED notification for the target.
type Rebalancer struct {
	workers     types.WorkerStore
	assignments types.AssignmentStore
	publisher   types.EventPublisher
	logger      types.Logger
	metrics     types.RebalanceMetrics

	interval         time.Duration
	overloadedRatio  float64
	underloadedRatio float64

	mu      sync.Mutex
	started bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewRebalancer creates a rebalancer.
//
// Parameters:
//   - workers: Worker store
//   - assignments: Assignment store
//   - publisher: Event publisher for move notifications
//   - logger: Logger
//   - metrics: Metrics collector for rebalance passes
//   - interval: Scheduled cadence (5m in production)
//   - overloadedRatio: Multiple of ideal load above which a worker is
//     overloaded (1.20 in production)
//   - underloadedRatio: Multiple of ideal load below which a worker is
//     underloaded (0.80 in production)
//
// Returns:
//   - *Rebalancer: A new rebalancer instance
func NewRebalancer(
	workers types.WorkerStore,
	assignments types.AssignmentStore,
	publisher types.EventPublisher,
	logger types.Logger,
	metrics types.RebalanceMetrics,
	interval time.Duration,
	overloadedRatio float64,
	underloadedRatio float64,
) *Rebalancer {
	return &Rebalancer{
		workers:          workers,
		assignments:      assignments,
		publisher:        publisher,
		logger:           logger,
		metrics:          metrics,
		interval:         interval,
		overloadedRatio:  overloadedRatio,
		underloadedRatio: underloadedRatio,
		stopCh:           make(chan struct{}),
		doneCh:           make(chan struct{}),
	}
}

// Start begins the scheduled rebalance loop in a background goroutine.
//
// Returns:
//   - error: ErrAlreadyStarted when called twice
func (r *Rebalancer) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return ErrAlreadyStarted
	}
	r.started = true

	go r.run(ctx)

	return nil
}

// Stop stops the rebalancer and waits for the background goroutine to exit.
//
// Returns:
//   - error: ErrNotStarted when Start was never called
func (r *Rebalancer) Stop() error {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return ErrNotStarted
	}
	r.mu.Unlock()

	close(r.stopCh)
	<-r.doneCh

	return nil
}

func (r *Rebalancer) run(ctx context.Context) {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.logger.Debug("running scheduled rebalance")
			if _, err := r.Rebalance(ctx); err != nil {
				// A failed pass must not prevent future passes.
				r.logger.Error("scheduled rebalance failed", "error", err)
			}
		case <-r.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Rebalance performs one rebalancing pass across all READY workers.
//
// The pass is skipped (zero moves) when fewer than two workers are READY,
// when the ideal load is below one assignment per worker, or when no worker
// crosses the overloaded/underloaded thresholds.
//
// Returns:
//   - *types.RebalanceReport: Description of the pass, including before/after distributions
//   - error: Store failure; partial passes return the moves made so far in
//     future distributions but no partial report
func (r *Rebalancer) Rebalance(ctx context.Context) (*types.RebalanceReport, error) {
	start := time.Now()

	readyWorkers, err := r.workers.FindByStatus(ctx, types.WorkerReady)
	if err != nil {
		return nil, fmt.Errorf("failed to find ready workers: %w", err)
	}

	if len(readyWorkers) < 2 {
		r.logger.Info("rebalance skipped, fewer than 2 ready workers", "workers", len(readyWorkers))
		return &types.RebalanceReport{WorkerCount: len(readyWorkers)}, nil
	}

	before, total, err := r.distribution(ctx, readyWorkers)
	if err != nil {
		return nil, err
	}

	idealLoad := float64(total) / float64(len(readyWorkers))

	if idealLoad < 1.0 {
		r.logger.Info("rebalance skipped, ideal load below 1", "ideal_load", idealLoad)
		return &types.RebalanceReport{
			WorkerCount:        len(readyWorkers),
			TotalAssignments:   total,
			IdealLoad:          idealLoad,
			BeforeDistribution: before,
			AfterDistribution:  before,
		}, nil
	}

	overloadedThreshold := int(math.Ceil(idealLoad * r.overloadedRatio))
	underloadedThreshold := int(math.Floor(idealLoad * r.underloadedRatio))

	var overloaded, underloaded []*types.Worker
	for _, worker := range readyWorkers {
		switch count := before[worker.ID]; {
		case count > overloadedThreshold:
			overloaded = append(overloaded, worker)
		case count < underloadedThreshold:
			underloaded = append(underloaded, worker)
		}
	}

	if len(overloaded) == 0 || len(underloaded) == 0 {
		r.logger.Info("rebalance not needed",
			"overloaded", len(overloaded), "underloaded", len(underloaded), "ideal_load", idealLoad)
		return &types.RebalanceReport{
			WorkerCount:        len(readyWorkers),
			TotalAssignments:   total,
			IdealLoad:          idealLoad,
			BeforeDistribution: before,
			AfterDistribution:  before,
		}, nil
	}

	r.logger.Info("rebalancing",
		"overloaded", len(overloaded), "underloaded", len(underloaded), "ideal_load", idealLoad)

	// Mutable view of per-worker counts, updated after every move.
	counts := make(map[string]int, len(before))
	for id, count := range before {
		counts[id] = count
	}

	// Drain the most loaded workers first.
	sort.SliceStable(overloaded, func(i, j int) bool {
		return counts[overloaded[i].ID] > counts[overloaded[j].ID]
	})
	// Fill the least loaded targets first.
	sort.SliceStable(underloaded, func(i, j int) bool {
		return counts[underloaded[i].ID] < counts[underloaded[j].ID]
	})

	idealRound := int(math.Round(idealLoad))
	moves := make([]types.RebalanceMove, 0)

	for _, source := range overloaded {
		excess := counts[source.ID] - idealRound
		if excess <= 0 {
			continue
		}

		sourceAssignments, err := r.assignments.FindByWorkerAndStatus(ctx, source.ID, types.AssignmentReady)
		if err != nil {
			return nil, fmt.Errorf("failed to list assignments for worker %s: %w", source.ID, err)
		}

		for _, assignment := range sourceAssignments {
			if excess <= 0 {
				break
			}

			target := r.findSuitableTarget(assignment, underloaded, counts, idealRound)
			if target == nil {
				continue
			}

			if err := r.moveAssignment(ctx, assignment, source, target); err != nil {
				return nil, err
			}

			moves = append(moves, types.RebalanceMove{
				CollectionID: assignment.CollectionID,
				TenantID:     assignment.TenantID,
				FromWorkerID: source.ID,
				ToWorkerID:   target.ID,
			})

			counts[source.ID]--
			counts[target.ID]++
			excess--

			// Counts shifted, so the fill order may have changed.
			sort.SliceStable(underloaded, func(i, j int) bool {
				return counts[underloaded[i].ID] < counts[underloaded[j].ID]
			})
		}
	}

	after, _, err := r.distribution(ctx, readyWorkers)
	if err != nil {
		return nil, err
	}

	r.logger.Info("rebalance complete", "moves", len(moves))
	r.metrics.RecordRebalance(len(moves), time.Since(start).Seconds())

	return &types.RebalanceReport{
		MoveCount:          len(moves),
		WorkerCount:        len(readyWorkers),
		TotalAssignments:   total,
		IdealLoad:          idealLoad,
		Moves:              moves,
		BeforeDistribution: before,
		AfterDistribution:  after,
	}, nil
}

// findSuitableTarget returns the first eligible underloaded worker for the
// assignment, or nil.
//
// A candidate is skipped when its count already reached the rounded ideal
// (moves must not push a target above ideal), when its tenant affinity does
// not match the assignment's tenant, or when the assignment belongs to a
// real tenant that has a matching underloaded worker available (affinity
// workers hold a priority claim over their tenant's assignments).
func (r *Rebalancer) findSuitableTarget(
	assignment *types.Assignment,
	underloaded []*types.Worker,
	counts map[string]int,
	idealRound int,
) *types.Worker {
	tenantID := assignment.TenantID

	affinityTargetExists := false
	if tenantID != "" && tenantID != "default" {
		for _, w := range underloaded {
			if w.TenantAffinity == tenantID {
				affinityTargetExists = true
				break
			}
		}
	}

	for _, candidate := range underloaded {
		if counts[candidate.ID] >= idealRound {
			continue
		}

		if candidate.TenantAffinity != "" && candidate.TenantAffinity != tenantID {
			continue
		}

		if affinityTargetExists && candidate.TenantAffinity != tenantID {
			continue
		}

		return candidate
	}

	return nil
}

// moveAssignment points the assignment at the target worker and adjusts both
// load counters. The assignment keeps its READY status; the worker is
// notified through the change events.
func (r *Rebalancer) moveAssignment(
	ctx context.Context,
	assignment *types.Assignment,
	source, target *types.Worker,
) error {
	r.logger.Info("moving assignment",
		"collection_id", assignment.CollectionID,
		"tenant_id", assignment.TenantID,
		"from", source.ID,
		"to", target.ID,
	)

	assignment.WorkerID = target.ID
	assignment.AssignedAt = time.Now()
	if err := r.assignments.Save(ctx, assignment); err != nil {
		return fmt.Errorf("failed to save moved assignment %s: %w", assignment.ID, err)
	}

	if err := r.workers.AdjustLoad(ctx, source.ID, -1); err != nil && !types.IsNotFound(err) {
		return fmt.Errorf("failed to decrement source load: %w", err)
	}
	if err := r.workers.AdjustLoad(ctx, target.ID, 1); err != nil && !types.IsNotFound(err) {
		return fmt.Errorf("failed to increment target load: %w", err)
	}

	r.publishMove(ctx, assignment, source, types.ChangeDeleted)
	r.publishMove(ctx, assignment, target, types.ChangeCreated)

	return nil
}

func (r *Rebalancer) publishMove(
	ctx context.Context,
	assignment *types.Assignment,
	worker *types.Worker,
	change types.ChangeType,
) {
	event := types.AssignmentChangedEvent{
		WorkerID:       worker.ID,
		CollectionID:   assignment.CollectionID,
		WorkerBaseURL:  worker.BaseURL,
		CollectionName: assignment.CollectionID,
		TenantID:       assignment.TenantID,
		ChangeType:     change,
	}

	if err := r.publisher.PublishAssignmentChanged(ctx, event); err != nil {
		r.logger.Warn("failed to publish move event",
			"collection_id", assignment.CollectionID, "worker_id", worker.ID, "error", err)
	}
}

// distribution counts READY assignments per worker straight from the store.
func (r *Rebalancer) distribution(
	ctx context.Context,
	workers []*types.Worker,
) (map[string]int, int, error) {
	dist := make(map[string]int, len(workers))
	total := 0

	for _, worker := range workers {
		count, err := r.assignments.CountByWorkerAndStatus(ctx, worker.ID, types.AssignmentReady)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to count assignments for worker %s: %w", worker.ID, err)
		}

		dist[worker.ID] = count
		total += count
	}

	return dist, total, nil
}
