package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/fleet/types"
)

func TestMemoryWorkerStore_SaveAndGet(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryWorkerStore()

	worker := &types.Worker{
		ID:       "w-1",
		Host:     "10.0.0.5",
		Port:     8080,
		Capacity: 50,
		Status:   types.WorkerStarting,
		Labels:   map[string]string{"zone": "a"},
	}
	require.NoError(t, s.Save(ctx, worker))

	got, err := s.Get(ctx, "w-1")
	require.NoError(t, err)
	require.Equal(t, worker, got)

	// Stores return clones; mutating a result must not affect the store.
	got.Status = types.WorkerReady
	got.Labels["zone"] = "b"

	again, err := s.Get(ctx, "w-1")
	require.NoError(t, err)
	require.Equal(t, types.WorkerStarting, again.Status)
	require.Equal(t, "a", again.Labels["zone"])
}

func TestMemoryWorkerStore_GetUnknown(t *testing.T) {
	s := NewMemoryWorkerStore()

	_, err := s.Get(context.Background(), "missing")
	require.True(t, types.IsNotFound(err))
}

func TestMemoryWorkerStore_FindByHost(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryWorkerStore()

	require.NoError(t, s.Save(ctx, &types.Worker{ID: "w-1", Host: "10.0.0.5"}))
	require.NoError(t, s.Save(ctx, &types.Worker{ID: "w-2", Host: "10.0.0.6"}))

	got, err := s.FindByHost(ctx, "10.0.0.6")
	require.NoError(t, err)
	require.Equal(t, "w-2", got.ID)

	_, err = s.FindByHost(ctx, "10.0.0.7")
	require.True(t, types.IsNotFound(err))
}

func TestMemoryWorkerStore_FindByStatus(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryWorkerStore()

	require.NoError(t, s.Save(ctx, &types.Worker{ID: "w-3", Status: types.WorkerReady}))
	require.NoError(t, s.Save(ctx, &types.Worker{ID: "w-1", Status: types.WorkerReady}))
	require.NoError(t, s.Save(ctx, &types.Worker{ID: "w-2", Status: types.WorkerOffline}))

	ready, err := s.FindByStatus(ctx, types.WorkerReady)
	require.NoError(t, err)
	require.Len(t, ready, 2)
	// Stable ID order.
	require.Equal(t, "w-1", ready[0].ID)
	require.Equal(t, "w-3", ready[1].ID)

	active, err := s.FindByStatusIn(ctx, types.WorkerReady, types.WorkerOffline)
	require.NoError(t, err)
	require.Len(t, active, 3)
}

func TestMemoryWorkerStore_AdjustLoad(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryWorkerStore()

	require.NoError(t, s.Save(ctx, &types.Worker{ID: "w-1", CurrentLoad: 1}))

	require.NoError(t, s.AdjustLoad(ctx, "w-1", 2))
	got, err := s.Get(ctx, "w-1")
	require.NoError(t, err)
	require.Equal(t, 3, got.CurrentLoad)

	// Decrements clamp at zero.
	require.NoError(t, s.AdjustLoad(ctx, "w-1", -10))
	got, err = s.Get(ctx, "w-1")
	require.NoError(t, err)
	require.Equal(t, 0, got.CurrentLoad)

	require.True(t, types.IsNotFound(s.AdjustLoad(ctx, "missing", 1)))
}

func TestMemoryWorkerStore_AdjustLoadConcurrent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryWorkerStore()

	require.NoError(t, s.Save(ctx, &types.Worker{ID: "w-1"}))

	const n = 50
	var wg sync.WaitGroup
	wg.Add(n)
	for range n {
		go func() {
			defer wg.Done()
			_ = s.AdjustLoad(ctx, "w-1", 1)
		}()
	}
	wg.Wait()

	got, err := s.Get(ctx, "w-1")
	require.NoError(t, err)
	require.Equal(t, n, got.CurrentLoad, "concurrent increments must not be lost")
}

func TestMemoryWorkerStore_Counts(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryWorkerStore()

	require.NoError(t, s.Save(ctx, &types.Worker{ID: "w-1", Status: types.WorkerReady}))
	require.NoError(t, s.Save(ctx, &types.Worker{ID: "w-2", Status: types.WorkerDraining}))

	total, err := s.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, total)

	ready, err := s.CountByStatus(ctx, types.WorkerReady)
	require.NoError(t, err)
	require.Equal(t, 1, ready)
}

func TestMemoryAssignmentStore_Basic(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryAssignmentStore()

	now := time.Now()
	require.NoError(t, s.Save(ctx, &types.Assignment{
		ID: "a-1", CollectionID: "col-1", WorkerID: "w-1",
		TenantID: "default", Status: types.AssignmentPending, AssignedAt: now,
	}))

	got, err := s.Get(ctx, "a-1")
	require.NoError(t, err)
	require.Equal(t, "col-1", got.CollectionID)

	_, err = s.Get(ctx, "missing")
	require.True(t, types.IsNotFound(err))
}

func TestMemoryAssignmentStore_FindByWorkerAndStatus(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryAssignmentStore()

	base := time.Now()
	require.NoError(t, s.Save(ctx, &types.Assignment{
		ID: "a-2", CollectionID: "col-2", WorkerID: "w-1",
		Status: types.AssignmentReady, AssignedAt: base.Add(time.Second),
	}))
	require.NoError(t, s.Save(ctx, &types.Assignment{
		ID: "a-1", CollectionID: "col-1", WorkerID: "w-1",
		Status: types.AssignmentReady, AssignedAt: base,
	}))
	require.NoError(t, s.Save(ctx, &types.Assignment{
		ID: "a-3", CollectionID: "col-3", WorkerID: "w-1",
		Status: types.AssignmentRemoved, AssignedAt: base,
	}))
	require.NoError(t, s.Save(ctx, &types.Assignment{
		ID: "a-4", CollectionID: "col-4", WorkerID: "w-2",
		Status: types.AssignmentReady, AssignedAt: base,
	}))

	ready, err := s.FindByWorkerAndStatus(ctx, "w-1", types.AssignmentReady)
	require.NoError(t, err)
	require.Len(t, ready, 2)
	// Oldest first.
	require.Equal(t, "a-1", ready[0].ID)
	require.Equal(t, "a-2", ready[1].ID)

	all, err := s.FindByWorker(ctx, "w-1")
	require.NoError(t, err)
	require.Len(t, all, 3)
}

func TestMemoryAssignmentStore_ActiveByCollectionAndWorker(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryAssignmentStore()

	require.NoError(t, s.Save(ctx, &types.Assignment{
		ID: "a-1", CollectionID: "col-1", WorkerID: "w-1",
		Status: types.AssignmentRemoved, AssignedAt: time.Now(),
	}))
	require.NoError(t, s.Save(ctx, &types.Assignment{
		ID: "a-2", CollectionID: "col-1", WorkerID: "w-1",
		Status: types.AssignmentPending, AssignedAt: time.Now(),
	}))

	got, err := s.ActiveByCollectionAndWorker(ctx, "col-1", "w-1")
	require.NoError(t, err)
	require.Equal(t, "a-2", got.ID)

	_, err = s.ActiveByCollectionAndWorker(ctx, "col-1", "w-2")
	require.True(t, types.IsNotFound(err))
}

func TestMemoryAssignmentStore_Counts(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryAssignmentStore()

	require.NoError(t, s.Save(ctx, &types.Assignment{
		ID: "a-1", WorkerID: "w-1", Status: types.AssignmentReady,
	}))
	require.NoError(t, s.Save(ctx, &types.Assignment{
		ID: "a-2", WorkerID: "w-1", Status: types.AssignmentPending,
	}))
	require.NoError(t, s.Save(ctx, &types.Assignment{
		ID: "a-3", WorkerID: "w-2", Status: types.AssignmentReady,
	}))

	total, err := s.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, total)

	ready, err := s.CountByStatus(ctx, types.AssignmentReady)
	require.NoError(t, err)
	require.Equal(t, 2, ready)

	w1Ready, err := s.CountByWorkerAndStatus(ctx, "w-1", types.AssignmentReady)
	require.NoError(t, err)
	require.Equal(t, 1, w1Ready)
}
