package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/arloliu/fleet/types"
)

// adjustLoadMaxRetries bounds the optimistic-concurrency retry loop for
// load-counter updates.
const adjustLoadMaxRetries = 5

// KVWorkerStore is a WorkerStore backed by a NATS JetStream KeyValue bucket.
//
// Workers are stored as JSON values under "worker.<id>" keys. Queries scan
// the bucket; the worker fleet is small (tens to low hundreds of entries) so
// scans stay cheap.
type KVWorkerStore struct {
	kv     jetstream.KeyValue
	prefix string
}

// Compile-time assertion that KVWorkerStore implements WorkerStore.
var _ types.WorkerStore = (*KVWorkerStore)(nil)

// NewKVWorkerStore creates a worker store on the given KV bucket.
//
// Parameters:
//   - kv: JetStream KV bucket holding worker records
//
// Returns:
//   - *KVWorkerStore: A new store instance
func NewKVWorkerStore(kv jetstream.KeyValue) *KVWorkerStore {
	return &KVWorkerStore{kv: kv, prefix: "worker"}
}

func (s *KVWorkerStore) key(id string) string {
	return s.prefix + "." + id
}

// Get returns the worker with the given ID.
func (s *KVWorkerStore) Get(ctx context.Context, id string) (*types.Worker, error) {
	entry, err := s.kv.Get(ctx, s.key(id))
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, types.NewNotFound("worker", id)
		}

		return nil, fmt.Errorf("failed to read worker %s: %w", id, err)
	}

	var w types.Worker
	if err := json.Unmarshal(entry.Value(), &w); err != nil {
		return nil, fmt.Errorf("failed to unmarshal worker %s: %w", id, err)
	}

	return &w, nil
}

// FindByHost returns the worker registered for the given host.
func (s *KVWorkerStore) FindByHost(ctx context.Context, host string) (*types.Worker, error) {
	workers, err := s.scan(ctx, func(w *types.Worker) bool { return w.Host == host })
	if err != nil {
		return nil, err
	}
	if len(workers) == 0 {
		return nil, types.NewNotFound("worker", host)
	}

	return workers[0], nil
}

// Save creates or replaces a worker record.
func (s *KVWorkerStore) Save(ctx context.Context, worker *types.Worker) error {
	data, err := json.Marshal(worker)
	if err != nil {
		return fmt.Errorf("failed to marshal worker %s: %w", worker.ID, err)
	}

	if _, err := s.kv.Put(ctx, s.key(worker.ID), data); err != nil {
		return fmt.Errorf("failed to save worker %s: %w", worker.ID, err)
	}

	return nil
}

// List returns all workers in stable ID order.
func (s *KVWorkerStore) List(ctx context.Context) ([]*types.Worker, error) {
	return s.scan(ctx, func(*types.Worker) bool { return true })
}

// FindByStatus returns all workers with the given status.
func (s *KVWorkerStore) FindByStatus(ctx context.Context, status types.WorkerStatus) ([]*types.Worker, error) {
	return s.scan(ctx, func(w *types.Worker) bool { return w.Status == status })
}

// FindByStatusIn returns all workers whose status is one of the given statuses.
func (s *KVWorkerStore) FindByStatusIn(ctx context.Context, statuses ...types.WorkerStatus) ([]*types.Worker, error) {
	return s.scan(ctx, func(w *types.Worker) bool {
		for _, st := range statuses {
			if w.Status == st {
				return true
			}
		}

		return false
	})
}

// AdjustLoad atomically adds delta to the worker's load, clamping at zero.
//
// Uses revision-checked KV updates so concurrent adjustments never lose an
// increment; on revision conflict the read-modify-write is retried.
func (s *KVWorkerStore) AdjustLoad(ctx context.Context, id string, delta int) error {
	var lastErr error

	for attempt := 0; attempt < adjustLoadMaxRetries; attempt++ {
		entry, err := s.kv.Get(ctx, s.key(id))
		if err != nil {
			if errors.Is(err, jetstream.ErrKeyNotFound) {
				return types.NewNotFound("worker", id)
			}

			return fmt.Errorf("failed to read worker %s: %w", id, err)
		}

		var w types.Worker
		if err := json.Unmarshal(entry.Value(), &w); err != nil {
			return fmt.Errorf("failed to unmarshal worker %s: %w", id, err)
		}

		w.CurrentLoad += delta
		if w.CurrentLoad < 0 {
			w.CurrentLoad = 0
		}

		data, err := json.Marshal(&w)
		if err != nil {
			return fmt.Errorf("failed to marshal worker %s: %w", id, err)
		}

		_, err = s.kv.Update(ctx, s.key(id), data, entry.Revision())
		if err == nil {
			return nil
		}

		// Revision conflict: another writer got in first, retry.
		lastErr = err

		if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	return fmt.Errorf("failed to adjust load for worker %s after %d attempts: %w",
		id, adjustLoadMaxRetries, lastErr)
}

// Count returns the total number of workers.
func (s *KVWorkerStore) Count(ctx context.Context) (int, error) {
	workers, err := s.List(ctx)
	if err != nil {
		return 0, err
	}

	return len(workers), nil
}

// CountByStatus returns the number of workers with the given status.
func (s *KVWorkerStore) CountByStatus(ctx context.Context, status types.WorkerStatus) (int, error) {
	workers, err := s.FindByStatus(ctx, status)
	if err != nil {
		return 0, err
	}

	return len(workers), nil
}

func (s *KVWorkerStore) scan(ctx context.Context, match func(*types.Worker) bool) ([]*types.Worker, error) {
	keys, err := s.kv.Keys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return []*types.Worker{}, nil
		}

		return nil, fmt.Errorf("failed to list worker keys: %w", err)
	}

	out := make([]*types.Worker, 0, len(keys))
	for _, key := range keys {
		if !strings.HasPrefix(key, s.prefix+".") {
			continue
		}

		entry, err := s.kv.Get(ctx, key)
		if err != nil {
			continue // Deleted between Keys and Get; skip.
		}

		var w types.Worker
		if err := json.Unmarshal(entry.Value(), &w); err != nil {
			continue // Skip malformed entries.
		}

		if match(&w) {
			out = append(out, &w)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	return out, nil
}

// KVAssignmentStore is an AssignmentStore backed by a NATS JetStream KeyValue
// bucket. Assignments are stored as JSON values under "assignment.<id>" keys.
type KVAssignmentStore struct {
	kv     jetstream.KeyValue
	prefix string
}

// Compile-time assertion that KVAssignmentStore implements AssignmentStore.
var _ types.AssignmentStore = (*KVAssignmentStore)(nil)

// NewKVAssignmentStore creates an assignment store on the given KV bucket.
func NewKVAssignmentStore(kv jetstream.KeyValue) *KVAssignmentStore {
	return &KVAssignmentStore{kv: kv, prefix: "assignment"}
}

func (s *KVAssignmentStore) key(id string) string {
	return s.prefix + "." + id
}

// Get returns the assignment with the given ID.
func (s *KVAssignmentStore) Get(ctx context.Context, id string) (*types.Assignment, error) {
	entry, err := s.kv.Get(ctx, s.key(id))
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, types.NewNotFound("assignment", id)
		}

		return nil, fmt.Errorf("failed to read assignment %s: %w", id, err)
	}

	var a types.Assignment
	if err := json.Unmarshal(entry.Value(), &a); err != nil {
		return nil, fmt.Errorf("failed to unmarshal assignment %s: %w", id, err)
	}

	return &a, nil
}

// Save creates or replaces an assignment record.
func (s *KVAssignmentStore) Save(ctx context.Context, assignment *types.Assignment) error {
	data, err := json.Marshal(assignment)
	if err != nil {
		return fmt.Errorf("failed to marshal assignment %s: %w", assignment.ID, err)
	}

	if _, err := s.kv.Put(ctx, s.key(assignment.ID), data); err != nil {
		return fmt.Errorf("failed to save assignment %s: %w", assignment.ID, err)
	}

	return nil
}

// List returns all assignments.
func (s *KVAssignmentStore) List(ctx context.Context) ([]*types.Assignment, error) {
	return s.scan(ctx, func(*types.Assignment) bool { return true })
}

// FindByWorker returns all assignments for a worker.
func (s *KVAssignmentStore) FindByWorker(ctx context.Context, workerID string) ([]*types.Assignment, error) {
	return s.scan(ctx, func(a *types.Assignment) bool { return a.WorkerID == workerID })
}

// FindByWorkerAndStatus returns the worker's assignments in the given status.
func (s *KVAssignmentStore) FindByWorkerAndStatus(
	ctx context.Context,
	workerID string,
	status types.AssignmentStatus,
) ([]*types.Assignment, error) {
	return s.scan(ctx, func(a *types.Assignment) bool {
		return a.WorkerID == workerID && a.Status == status
	})
}

// FindByCollection returns all assignments for a collection.
func (s *KVAssignmentStore) FindByCollection(ctx context.Context, collectionID string) ([]*types.Assignment, error) {
	return s.scan(ctx, func(a *types.Assignment) bool { return a.CollectionID == collectionID })
}

// ActiveByCollectionAndWorker returns the PENDING or READY assignment binding
// the collection to the worker.
func (s *KVAssignmentStore) ActiveByCollectionAndWorker(
	ctx context.Context,
	collectionID, workerID string,
) (*types.Assignment, error) {
	matches, err := s.scan(ctx, func(a *types.Assignment) bool {
		return a.CollectionID == collectionID && a.WorkerID == workerID && a.Active()
	})
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, types.NewNotFound("assignment", collectionID+"/"+workerID)
	}

	return matches[0], nil
}

// Count returns the total number of assignments, including REMOVED.
func (s *KVAssignmentStore) Count(ctx context.Context) (int, error) {
	assignments, err := s.List(ctx)
	if err != nil {
		return 0, err
	}

	return len(assignments), nil
}

// CountByStatus returns the number of assignments with the given status.
func (s *KVAssignmentStore) CountByStatus(ctx context.Context, status types.AssignmentStatus) (int, error) {
	assignments, err := s.scan(ctx, func(a *types.Assignment) bool { return a.Status == status })
	if err != nil {
		return 0, err
	}

	return len(assignments), nil
}

// CountByWorkerAndStatus returns the number of the worker's assignments in
// the given status.
func (s *KVAssignmentStore) CountByWorkerAndStatus(
	ctx context.Context,
	workerID string,
	status types.AssignmentStatus,
) (int, error) {
	assignments, err := s.FindByWorkerAndStatus(ctx, workerID, status)
	if err != nil {
		return 0, err
	}

	return len(assignments), nil
}

func (s *KVAssignmentStore) scan(ctx context.Context, match func(*types.Assignment) bool) ([]*types.Assignment, error) {
	keys, err := s.kv.Keys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return []*types.Assignment{}, nil
		}

		return nil, fmt.Errorf("failed to list assignment keys: %w", err)
	}

	out := make([]*types.Assignment, 0, len(keys))
	for _, key := range keys {
		if !strings.HasPrefix(key, s.prefix+".") {
			continue
		}

		entry, err := s.kv.Get(ctx, key)
		if err != nil {
			continue // Deleted between Keys and Get; skip.
		}

		var a types.Assignment
		if err := json.Unmarshal(entry.Value(), &a); err != nil {
			continue // Skip malformed entries.
		}

		if match(&a) {
			out = append(out, &a)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].AssignedAt.Equal(out[j].AssignedAt) {
			return out[i].ID < out[j].ID
		}

		return out[i].AssignedAt.Before(out[j].AssignedAt)
	})

	return out, nil
}
