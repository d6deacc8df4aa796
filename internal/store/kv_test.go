package store

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	fleettest "github.com/arloliu/fleet/testing"
	"github.com/arloliu/fleet/types"
)

func TestKVWorkerStore_RoundTrip(t *testing.T) {
	ctx := t.Context()
	_, nc := fleettest.StartEmbeddedNATS(t)
	s := NewKVWorkerStore(fleettest.CreateJetStreamKV(t, nc, "workers-roundtrip"))

	worker := &types.Worker{
		ID:       "w-1",
		Host:     "10.0.0.5",
		Port:     8080,
		BaseURL:  "http://10.0.0.5:8080",
		Capacity: 50,
		Pool:     "default",
		Status:   types.WorkerStarting,
	}
	require.NoError(t, s.Save(ctx, worker))

	got, err := s.Get(ctx, "w-1")
	require.NoError(t, err)
	require.Equal(t, worker, got)

	_, err = s.Get(ctx, "missing")
	require.True(t, types.IsNotFound(err))
}

func TestKVWorkerStore_Queries(t *testing.T) {
	ctx := t.Context()
	_, nc := fleettest.StartEmbeddedNATS(t)
	s := NewKVWorkerStore(fleettest.CreateJetStreamKV(t, nc, "workers-queries"))

	require.NoError(t, s.Save(ctx, &types.Worker{ID: "w-2", Host: "h2", Status: types.WorkerReady}))
	require.NoError(t, s.Save(ctx, &types.Worker{ID: "w-1", Host: "h1", Status: types.WorkerReady}))
	require.NoError(t, s.Save(ctx, &types.Worker{ID: "w-3", Host: "h3", Status: types.WorkerOffline}))

	byHost, err := s.FindByHost(ctx, "h3")
	require.NoError(t, err)
	require.Equal(t, "w-3", byHost.ID)

	ready, err := s.FindByStatus(ctx, types.WorkerReady)
	require.NoError(t, err)
	require.Len(t, ready, 2)
	require.Equal(t, "w-1", ready[0].ID)
	require.Equal(t, "w-2", ready[1].ID)

	all, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)

	total, err := s.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, total)

	readyCount, err := s.CountByStatus(ctx, types.WorkerReady)
	require.NoError(t, err)
	require.Equal(t, 2, readyCount)
}

func TestKVWorkerStore_EmptyBucket(t *testing.T) {
	ctx := t.Context()
	_, nc := fleettest.StartEmbeddedNATS(t)
	s := NewKVWorkerStore(fleettest.CreateJetStreamKV(t, nc, "workers-empty"))

	all, err := s.List(ctx)
	require.NoError(t, err)
	require.Empty(t, all)

	total, err := s.Count(ctx)
	require.NoError(t, err)
	require.Zero(t, total)
}

func TestKVWorkerStore_AdjustLoad(t *testing.T) {
	ctx := t.Context()
	_, nc := fleettest.StartEmbeddedNATS(t)
	s := NewKVWorkerStore(fleettest.CreateJetStreamKV(t, nc, "workers-adjust"))

	require.NoError(t, s.Save(ctx, &types.Worker{ID: "w-1", CurrentLoad: 2}))

	require.NoError(t, s.AdjustLoad(ctx, "w-1", 1))
	require.NoError(t, s.AdjustLoad(ctx, "w-1", -5))

	got, err := s.Get(ctx, "w-1")
	require.NoError(t, err)
	require.Equal(t, 0, got.CurrentLoad, "decrement clamps at zero")

	require.True(t, types.IsNotFound(s.AdjustLoad(ctx, "missing", 1)))
}

func TestKVWorkerStore_AdjustLoadConcurrent(t *testing.T) {
	ctx := t.Context()
	_, nc := fleettest.StartEmbeddedNATS(t)
	s := NewKVWorkerStore(fleettest.CreateJetStreamKV(t, nc, "workers-concurrent"))

	require.NoError(t, s.Save(ctx, &types.Worker{ID: "w-1"}))

	// Modest concurrency: the CAS loop retries on revision conflicts, and the
	// retry budget bounds how much contention one update survives.
	const n = 4
	errCh := make(chan error, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for range n {
		go func() {
			defer wg.Done()
			errCh <- s.AdjustLoad(ctx, "w-1", 1)
		}()
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		require.NoError(t, err)
	}

	got, err := s.Get(ctx, "w-1")
	require.NoError(t, err)
	require.Equal(t, n, got.CurrentLoad, "concurrent increments must not be lost")
}

func TestKVAssignmentStore_RoundTrip(t *testing.T) {
	ctx := t.Context()
	_, nc := fleettest.StartEmbeddedNATS(t)
	s := NewKVAssignmentStore(fleettest.CreateJetStreamKV(t, nc, "assignments-roundtrip"))

	assignment := &types.Assignment{
		ID:           "a-1",
		CollectionID: "col-1",
		WorkerID:     "w-1",
		TenantID:     "default",
		Status:       types.AssignmentPending,
		AssignedAt:   time.Now().UTC().Truncate(time.Millisecond),
	}
	require.NoError(t, s.Save(ctx, assignment))

	got, err := s.Get(ctx, "a-1")
	require.NoError(t, err)
	require.Equal(t, assignment, got)
}

func TestKVAssignmentStore_Queries(t *testing.T) {
	ctx := t.Context()
	_, nc := fleettest.StartEmbeddedNATS(t)
	s := NewKVAssignmentStore(fleettest.CreateJetStreamKV(t, nc, "assignments-queries"))

	base := time.Now().UTC()
	require.NoError(t, s.Save(ctx, &types.Assignment{
		ID: "a-2", CollectionID: "col-2", WorkerID: "w-1",
		Status: types.AssignmentReady, AssignedAt: base.Add(time.Second),
	}))
	require.NoError(t, s.Save(ctx, &types.Assignment{
		ID: "a-1", CollectionID: "col-1", WorkerID: "w-1",
		Status: types.AssignmentReady, AssignedAt: base,
	}))
	require.NoError(t, s.Save(ctx, &types.Assignment{
		ID: "a-3", CollectionID: "col-1", WorkerID: "w-2",
		Status: types.AssignmentPending, AssignedAt: base,
	}))

	byWorker, err := s.FindByWorkerAndStatus(ctx, "w-1", types.AssignmentReady)
	require.NoError(t, err)
	require.Len(t, byWorker, 2)
	require.Equal(t, "a-1", byWorker[0].ID, "oldest first")

	byCollection, err := s.FindByCollection(ctx, "col-1")
	require.NoError(t, err)
	require.Len(t, byCollection, 2)

	active, err := s.ActiveByCollectionAndWorker(ctx, "col-1", "w-2")
	require.NoError(t, err)
	require.Equal(t, "a-3", active.ID)

	_, err = s.ActiveByCollectionAndWorker(ctx, "col-2", "w-2")
	require.True(t, types.IsNotFound(err))

	pending, err := s.CountByStatus(ctx, types.AssignmentPending)
	require.NoError(t, err)
	require.Equal(t, 1, pending)

	w1Ready, err := s.CountByWorkerAndStatus(ctx, "w-1", types.AssignmentReady)
	require.NoError(t, err)
	require.Equal(t, 2, w1Ready)
}
