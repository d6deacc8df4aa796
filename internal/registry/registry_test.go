package registry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/fleet/internal/events"
	"github.com/arloliu/fleet/internal/metrics"
	"github.com/arloliu/fleet/internal/placement"
	"github.com/arloliu/fleet/internal/store"
	"github.com/arloliu/fleet/source"
	fleettest "github.com/arloliu/fleet/testing"
	"github.com/arloliu/fleet/types"
)

type capturePublisher struct {
	mu      sync.Mutex
	workers []types.WorkerStatusEvent
}

func (p *capturePublisher) PublishWorkerStatusChanged(_ context.Context, event types.WorkerStatusEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.workers = append(p.workers, event)

	return nil
}

func (p *capturePublisher) PublishAssignmentChanged(_ context.Context, _ types.AssignmentChangedEvent) error {
	return nil
}

func (p *capturePublisher) last(t *testing.T) types.WorkerStatusEvent {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	require.NotEmpty(t, p.workers)

	return p.workers[len(p.workers)-1]
}

var _ types.EventPublisher = (*capturePublisher)(nil)

type fixture struct {
	workers     *store.MemoryWorkerStore
	assignments *store.MemoryAssignmentStore
	catalog     *source.Static
	publisher   *capturePublisher
	svc         *Service
}

func newFixture(t *testing.T, collections ...types.Collection) *fixture {
	t.Helper()

	f := &fixture{
		workers:     store.NewMemoryWorkerStore(),
		assignments: store.NewMemoryAssignmentStore(),
		catalog:     source.NewStatic(collections),
		publisher:   &capturePublisher{},
	}
	place := placement.NewService(
		f.workers, f.assignments, f.catalog, events.NewNop(),
		fleettest.NewTestLogger(t), metrics.NewNop(),
	)
	f.svc = NewService(
		f.workers, f.assignments, f.catalog, place, place, f.publisher,
		fleettest.NewTestLogger(t), metrics.NewNop(), 0,
	)

	return f
}

func TestRegister_NewWorker(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	worker, err := f.svc.Register(ctx, RegisterRequest{Host: "10.0.0.5", Port: 8080})
	require.NoError(t, err)

	require.NotEmpty(t, worker.ID)
	require.Equal(t, types.WorkerStarting, worker.Status)
	require.Equal(t, "http://10.0.0.5:8080", worker.BaseURL)
	require.Equal(t, DefaultCapacity, worker.Capacity)
	require.Equal(t, DefaultPool, worker.Pool)
	require.WithinDuration(t, time.Now(), worker.LastHeartbeat, time.Second)

	event := f.publisher.last(t)
	require.Equal(t, worker.ID, event.WorkerID)
	require.Equal(t, types.WorkerStarting, event.Status)
}

func TestRegister_SameHostKeepsIdentity(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	first, err := f.svc.Register(ctx, RegisterRequest{Host: "10.0.0.5", Port: 8080})
	require.NoError(t, err)

	// Mark READY so we can observe the reset.
	_, err = f.svc.Heartbeat(ctx, first.ID, HeartbeatRequest{Status: types.WorkerReady})
	require.NoError(t, err)

	// A restart re-registers from the same host, on a different port.
	second, err := f.svc.Register(ctx, RegisterRequest{Host: "10.0.0.5", Port: 9090})
	require.NoError(t, err)

	require.Equal(t, first.ID, second.ID, "same host resolves to the same worker")
	require.Equal(t, "http://10.0.0.5:9090", second.BaseURL)
	require.Equal(t, types.WorkerStarting, second.Status, "re-registration resets the lifecycle")

	count, err := f.workers.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestRegister_ExplicitIDMatchesExisting(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	first, err := f.svc.Register(ctx, RegisterRequest{Host: "10.0.0.5", Port: 8080})
	require.NoError(t, err)

	// Same worker moved to a new host but pinned its identity.
	second, err := f.svc.Register(ctx, RegisterRequest{
		WorkerID: first.ID, Host: "10.0.0.9", Port: 8080,
	})
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)

	count, err := f.workers.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestRegister_CustomCapacityAndPool(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	worker, err := f.svc.Register(ctx, RegisterRequest{
		Host: "h1", Port: 8080, Capacity: 10, Pool: "batch", TenantAffinity: "tenant-a",
	})
	require.NoError(t, err)
	require.Equal(t, 10, worker.Capacity)
	require.Equal(t, "batch", worker.Pool)
	require.Equal(t, "tenant-a", worker.TenantAffinity)
}

func TestHeartbeat_UpdatesLoadAndTimestamp(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	worker, err := f.svc.Register(ctx, RegisterRequest{Host: "h1", Port: 8080})
	require.NoError(t, err)

	updated, err := f.svc.Heartbeat(ctx, worker.ID, HeartbeatRequest{CurrentLoad: 7})
	require.NoError(t, err)
	require.Equal(t, 7, updated.CurrentLoad)
	require.Equal(t, types.WorkerStarting, updated.Status, "no status in the request leaves the lifecycle alone")
	require.False(t, updated.LastHeartbeat.Before(worker.LastHeartbeat))
}

func TestHeartbeat_UnknownWorker(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Heartbeat(context.Background(), "missing", HeartbeatRequest{})
	require.True(t, types.IsNotFound(err))
}

func TestHeartbeat_TransitionToReadyAssignsBacklog(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t,
		types.Collection{ID: "col-1", Name: "orders", Active: true},
		types.Collection{ID: "col-2", Name: "invoices", TenantID: "tenant-a", Active: true},
	)

	worker, err := f.svc.Register(ctx, RegisterRequest{Host: "h1", Port: 8080})
	require.NoError(t, err)

	updated, err := f.svc.Heartbeat(ctx, worker.ID, HeartbeatRequest{Status: types.WorkerReady})
	require.NoError(t, err)
	require.Equal(t, types.WorkerReady, updated.Status)

	event := f.publisher.last(t)
	require.Equal(t, types.WorkerReady, event.Status)

	// Turning READY sweeps up the unassigned catalog.
	for _, collectionID := range []string{"col-1", "col-2"} {
		all, err := f.assignments.FindByCollection(ctx, collectionID)
		require.NoError(t, err)
		require.Len(t, all, 1)
		require.Equal(t, worker.ID, all[0].WorkerID)
	}
}

func TestHeartbeat_RepeatedStatusStaysQuiet(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	worker, err := f.svc.Register(ctx, RegisterRequest{Host: "h1", Port: 8080})
	require.NoError(t, err)

	_, err = f.svc.Heartbeat(ctx, worker.ID, HeartbeatRequest{Status: types.WorkerReady})
	require.NoError(t, err)

	published := len(f.publisher.workers)

	// Same status again must not publish another event.
	_, err = f.svc.Heartbeat(ctx, worker.ID, HeartbeatRequest{CurrentLoad: 1, Status: types.WorkerReady})
	require.NoError(t, err)
	require.Len(t, f.publisher.workers, published)
}

func TestDeregister_DrainsWithoutEvacuating(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	worker, err := f.svc.Register(ctx, RegisterRequest{Host: "h1", Port: 8080})
	require.NoError(t, err)
	_, err = f.svc.Heartbeat(ctx, worker.ID, HeartbeatRequest{Status: types.WorkerReady})
	require.NoError(t, err)

	require.NoError(t, f.assignments.Save(ctx, &types.Assignment{
		ID: "a-1", CollectionID: "col-1", WorkerID: worker.ID,
		Status: types.AssignmentReady, AssignedAt: time.Now(),
	}))

	require.NoError(t, f.svc.Deregister(ctx, worker.ID))

	got, err := f.workers.Get(ctx, worker.ID)
	require.NoError(t, err)
	require.Equal(t, types.WorkerDraining, got.Status)

	// Draining keeps existing assignments in place.
	assignment, err := f.assignments.Get(ctx, "a-1")
	require.NoError(t, err)
	require.Equal(t, types.AssignmentReady, assignment.Status)

	require.True(t, types.IsNotFound(f.svc.Deregister(ctx, "missing")))
}

func TestMarkOffline_EvacuatesAssignments(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	dead, err := f.svc.Register(ctx, RegisterRequest{Host: "h1", Port: 8080})
	require.NoError(t, err)
	_, err = f.svc.Heartbeat(ctx, dead.ID, HeartbeatRequest{Status: types.WorkerReady})
	require.NoError(t, err)

	live, err := f.svc.Register(ctx, RegisterRequest{Host: "h2", Port: 8080})
	require.NoError(t, err)
	_, err = f.svc.Heartbeat(ctx, live.ID, HeartbeatRequest{Status: types.WorkerReady})
	require.NoError(t, err)

	require.NoError(t, f.assignments.Save(ctx, &types.Assignment{
		ID: "a-1", CollectionID: "col-1", WorkerID: dead.ID,
		TenantID: "default", Status: types.AssignmentReady, AssignedAt: time.Now(),
	}))

	require.NoError(t, f.svc.MarkOffline(ctx, dead.ID))

	got, err := f.workers.Get(ctx, dead.ID)
	require.NoError(t, err)
	require.Equal(t, types.WorkerOffline, got.Status)

	// The assignment moved to the surviving worker.
	all, err := f.assignments.FindByCollection(ctx, "col-1")
	require.NoError(t, err)

	active := 0
	for _, a := range all {
		if a.Active() {
			active++
			require.Equal(t, live.ID, a.WorkerID)
		}
	}
	require.Equal(t, 1, active)
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t,
		types.Collection{ID: "col-assigned", Name: "orders", Active: true},
		types.Collection{ID: "col-orphan", Name: "audit", Active: true},
		types.Collection{ID: "col-inactive", Name: "archive", Active: false},
	)

	w1, err := f.svc.Register(ctx, RegisterRequest{Host: "h1", Port: 8080})
	require.NoError(t, err)
	w2, err := f.svc.Register(ctx, RegisterRequest{Host: "h2", Port: 8080})
	require.NoError(t, err)
	require.NoError(t, f.workers.Save(ctx, &types.Worker{
		ID: w1.ID, Host: "h1", Status: types.WorkerReady,
	}))
	require.NoError(t, f.workers.Save(ctx, &types.Worker{
		ID: w2.ID, Host: "h2", Status: types.WorkerReady,
	}))

	require.NoError(t, f.assignments.Save(ctx, &types.Assignment{
		ID: "a-1", CollectionID: "col-assigned", WorkerID: w1.ID,
		Status: types.AssignmentReady, AssignedAt: time.Now(),
	}))
	require.NoError(t, f.assignments.Save(ctx, &types.Assignment{
		ID: "a-2", CollectionID: "col-removed", WorkerID: w1.ID,
		Status: types.AssignmentRemoved, AssignedAt: time.Now(),
	}))

	stats, err := f.svc.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, stats.TotalWorkers)
	require.Equal(t, 2, stats.ReadyWorkers)
	require.Equal(t, 2, stats.TotalAssignments)
	require.Equal(t, 1, stats.ReadyAssignments)
	require.Equal(t, 1, stats.UnassignedCollections, "only the active collection without an active assignment counts")
	require.InDelta(t, 0.5, stats.AverageLoad, 1e-9)
}

func TestStats_EmptyFleet(t *testing.T) {
	f := newFixture(t)

	stats, err := f.svc.Stats(context.Background())
	require.NoError(t, err)
	require.Zero(t, stats.TotalWorkers)
	require.Zero(t, stats.AverageLoad)
}
