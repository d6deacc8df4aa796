package types

import "time"

// AssignmentStatus is the lifecycle state of a collection assignment.
type AssignmentStatus string

// Assignment lifecycle states.
const (
	// AssignmentPending means the assignment was created but the worker has
	// not yet confirmed loading the collection.
	AssignmentPending AssignmentStatus = "PENDING"

	// AssignmentReady means the worker confirmed it serves the collection.
	AssignmentReady AssignmentStatus = "READY"

	// AssignmentRemoved means the assignment was unassigned or reassigned
	// away. Removed assignments are kept as history.
	AssignmentRemoved AssignmentStatus = "REMOVED"
)

// Assignment binds one collection (scoped to one tenant) to one worker.
//
// Under normal operation a collection has at most one active (PENDING or
// READY) assignment plus any number of REMOVED historical ones. The
// uniqueness invariant is maintained by the placement and rebalance logic,
// not enforced by the stores; see AssignmentStore.
type Assignment struct {
	// ID is the unique assignment identifier.
	ID string `json:"id"`

	// CollectionID is the collection being served.
	CollectionID string `json:"collectionId"`

	// WorkerID is the worker serving the collection.
	WorkerID string `json:"workerId"`

	// TenantID is the owning tenant, "default" when the collection has none.
	TenantID string `json:"tenantId"`

	// Status is the assignment lifecycle state.
	Status AssignmentStatus `json:"status"`

	// AssignedAt is when the assignment was created or last moved.
	AssignedAt time.Time `json:"assignedAt"`

	// ReadyAt is when the worker confirmed the collection was loaded. Zero
	// until MarkReady.
	ReadyAt time.Time `json:"readyAt,omitempty"`
}

// Active reports whether the assignment is PENDING or READY.
func (a *Assignment) Active() bool {
	return a.Status == AssignmentPending || a.Status == AssignmentReady
}

// Clone returns a copy of the assignment.
func (a *Assignment) Clone() *Assignment {
	cp := *a
	return &cp
}
