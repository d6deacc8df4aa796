package rebalance

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/fleet/internal/events"
	"github.com/arloliu/fleet/internal/metrics"
	"github.com/arloliu/fleet/internal/store"
	fleettest "github.com/arloliu/fleet/testing"
	"github.com/arloliu/fleet/types"
)

type capturePublisher struct {
	mu          sync.Mutex
	assignments []types.AssignmentChangedEvent
}

func (p *capturePublisher) PublishWorkerStatusChanged(_ context.Context, _ types.WorkerStatusEvent) error {
	return nil
}

func (p *capturePublisher) PublishAssignmentChanged(_ context.Context, event types.AssignmentChangedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.assignments = append(p.assignments, event)

	return nil
}

var _ types.EventPublisher = (*capturePublisher)(nil)

func newRebalancer(t *testing.T, workers types.WorkerStore, assignments types.AssignmentStore, publisher types.EventPublisher) *Rebalancer {
	t.Helper()

	if publisher == nil {
		publisher = events.NewNop()
	}

	return NewRebalancer(
		workers, assignments, publisher,
		fleettest.NewTestLogger(t), metrics.NewNop(),
		5*time.Minute, 1.20, 0.80,
	)
}

func saveWorker(t *testing.T, workers types.WorkerStore, id string, load int, affinity string) {
	t.Helper()

	require.NoError(t, workers.Save(context.Background(), &types.Worker{
		ID: id, Status: types.WorkerReady, Capacity: 50,
		CurrentLoad: load, TenantAffinity: affinity,
	}))
}

func seedAssignments(t *testing.T, assignments types.AssignmentStore, workerID, tenantID string, n int) {
	t.Helper()

	base := time.Now().Add(-time.Hour)
	for i := range n {
		require.NoError(t, assignments.Save(context.Background(), &types.Assignment{
			ID:           fmt.Sprintf("a-%s-%d", workerID, i),
			CollectionID: fmt.Sprintf("col-%s-%d", workerID, i),
			WorkerID:     workerID,
			TenantID:     tenantID,
			Status:       types.AssignmentReady,
			AssignedAt:   base.Add(time.Duration(i) * time.Second),
		}))
	}
}

func TestRebalance_EvensOutSkewedFleet(t *testing.T) {
	ctx := context.Background()
	workers := store.NewMemoryWorkerStore()
	assignments := store.NewMemoryAssignmentStore()
	publisher := &capturePublisher{}
	r := newRebalancer(t, workers, assignments, publisher)

	saveWorker(t, workers, "w-1", 10, "")
	saveWorker(t, workers, "w-2", 10, "")
	saveWorker(t, workers, "w-3", 0, "")
	seedAssignments(t, assignments, "w-1", "default", 10)
	seedAssignments(t, assignments, "w-2", "default", 10)

	report, err := r.Rebalance(ctx)
	require.NoError(t, err)

	// ideal = 20/3, thresholds: overloaded above 8, underloaded below 5,
	// rounded ideal 7. Both loaded workers shed down to 7.
	require.InDelta(t, 20.0/3.0, report.IdealLoad, 1e-9)
	require.Equal(t, 6, report.MoveCount)
	require.Equal(t, map[string]int{"w-1": 10, "w-2": 10, "w-3": 0}, report.BeforeDistribution)
	require.Equal(t, map[string]int{"w-1": 7, "w-2": 7, "w-3": 6}, report.AfterDistribution)

	// Assignments are conserved, never created or dropped.
	sum := 0
	for _, count := range report.AfterDistribution {
		sum += count
	}
	require.Equal(t, report.TotalAssignments, sum)

	// Every move publishes a DELETED for the source and a CREATED for the
	// target.
	require.Len(t, publisher.assignments, 2*report.MoveCount)

	// Load counters follow the moves.
	w3, err := workers.Get(ctx, "w-3")
	require.NoError(t, err)
	require.Equal(t, 6, w3.CurrentLoad)
}

func TestRebalance_SkipsSingleWorker(t *testing.T) {
	workers := store.NewMemoryWorkerStore()
	assignments := store.NewMemoryAssignmentStore()
	r := newRebalancer(t, workers, assignments, nil)

	saveWorker(t, workers, "w-1", 10, "")
	seedAssignments(t, assignments, "w-1", "default", 10)

	report, err := r.Rebalance(context.Background())
	require.NoError(t, err)
	require.Zero(t, report.MoveCount)
	require.Equal(t, 1, report.WorkerCount)
}

func TestRebalance_SkipsSparseFleet(t *testing.T) {
	workers := store.NewMemoryWorkerStore()
	assignments := store.NewMemoryAssignmentStore()
	r := newRebalancer(t, workers, assignments, nil)

	// 2 assignments across 3 workers: ideal load below one, nothing to even
	// out.
	saveWorker(t, workers, "w-1", 2, "")
	saveWorker(t, workers, "w-2", 0, "")
	saveWorker(t, workers, "w-3", 0, "")
	seedAssignments(t, assignments, "w-1", "default", 2)

	report, err := r.Rebalance(context.Background())
	require.NoError(t, err)
	require.Zero(t, report.MoveCount)
	require.Equal(t, report.BeforeDistribution, report.AfterDistribution)
}

func TestRebalance_NoThresholdCrossed(t *testing.T) {
	workers := store.NewMemoryWorkerStore()
	assignments := store.NewMemoryAssignmentStore()
	r := newRebalancer(t, workers, assignments, nil)

	// [5,5,4]: ideal 4.67, overloaded above 6, underloaded below 3. Mild skew
	// is left alone.
	saveWorker(t, workers, "w-1", 5, "")
	saveWorker(t, workers, "w-2", 5, "")
	saveWorker(t, workers, "w-3", 4, "")
	seedAssignments(t, assignments, "w-1", "default", 5)
	seedAssignments(t, assignments, "w-2", "default", 5)
	seedAssignments(t, assignments, "w-3", "default", 4)

	report, err := r.Rebalance(context.Background())
	require.NoError(t, err)
	require.Zero(t, report.MoveCount)
}

func TestRebalance_SkipsMismatchedAffinityTarget(t *testing.T) {
	workers := store.NewMemoryWorkerStore()
	assignments := store.NewMemoryAssignmentStore()
	r := newRebalancer(t, workers, assignments, nil)

	// The only underloaded worker is pinned to another tenant, so default
	// assignments have nowhere to go.
	saveWorker(t, workers, "w-1", 10, "")
	saveWorker(t, workers, "w-2", 10, "")
	saveWorker(t, workers, "w-3", 0, "tenant-other")
	seedAssignments(t, assignments, "w-1", "default", 10)
	seedAssignments(t, assignments, "w-2", "default", 10)

	report, err := r.Rebalance(context.Background())
	require.NoError(t, err)
	require.Zero(t, report.MoveCount)
	require.Equal(t, report.BeforeDistribution, report.AfterDistribution)
}

func TestRebalance_AffinityWorkerClaimsTenantAssignments(t *testing.T) {
	workers := store.NewMemoryWorkerStore()
	assignments := store.NewMemoryAssignmentStore()
	r := newRebalancer(t, workers, assignments, nil)

	// Both w-2 and w-3 are underloaded, but w-3 carries the tenant's affinity
	// and therefore has the prior claim on its assignments.
	saveWorker(t, workers, "w-1", 10, "")
	saveWorker(t, workers, "w-2", 0, "")
	saveWorker(t, workers, "w-3", 0, "tenant-a")
	seedAssignments(t, assignments, "w-1", "tenant-a", 10)

	report, err := r.Rebalance(context.Background())
	require.NoError(t, err)

	// ideal 10/3, rounded 3: w-3 fills to the rounded ideal and w-2 gets
	// nothing.
	require.Equal(t, 3, report.MoveCount)
	for _, move := range report.Moves {
		require.Equal(t, "w-3", move.ToWorkerID)
		require.Equal(t, "tenant-a", move.TenantID)
	}
	require.Zero(t, report.AfterDistribution["w-2"])
}

func TestRebalance_MovesKeepReadyStatus(t *testing.T) {
	ctx := context.Background()
	workers := store.NewMemoryWorkerStore()
	assignments := store.NewMemoryAssignmentStore()
	r := newRebalancer(t, workers, assignments, nil)

	saveWorker(t, workers, "w-1", 4, "")
	saveWorker(t, workers, "w-2", 0, "")
	seedAssignments(t, assignments, "w-1", "default", 4)

	report, err := r.Rebalance(ctx)
	require.NoError(t, err)
	require.NotZero(t, report.MoveCount)

	moved, err := assignments.FindByWorkerAndStatus(ctx, "w-2", types.AssignmentReady)
	require.NoError(t, err)
	require.Len(t, moved, report.MoveCount, "moved assignments stay READY on the new worker")
}

func TestRebalancer_Lifecycle(t *testing.T) {
	ctx := context.Background()
	workers := store.NewMemoryWorkerStore()
	assignments := store.NewMemoryAssignmentStore()

	r := NewRebalancer(
		workers, assignments, events.NewNop(),
		fleettest.NewTestLogger(t), metrics.NewNop(),
		10*time.Millisecond, 1.20, 0.80,
	)

	require.ErrorIs(t, r.Stop(), ErrNotStarted)

	require.NoError(t, r.Start(ctx))
	require.ErrorIs(t, r.Start(ctx), ErrAlreadyStarted)

	saveWorker(t, workers, "w-1", 10, "")
	saveWorker(t, workers, "w-2", 0, "")
	seedAssignments(t, assignments, "w-1", "default", 10)

	// The scheduled loop converges the fleet without an explicit call.
	require.Eventually(t, func() bool {
		count, err := assignments.CountByWorkerAndStatus(ctx, "w-2", types.AssignmentReady)
		return err == nil && count > 0
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, r.Stop())
}
