package types

import "context"

// ChangeType classifies an assignment change notification.
type ChangeType string

// Assignment change types.
const (
	// ChangeCreated signals a new assignment the worker should load.
	ChangeCreated ChangeType = "CREATED"

	// ChangeDeleted signals an assignment the worker should release.
	ChangeDeleted ChangeType = "DELETED"
)

// WorkerStatusEvent notifies downstream consumers that a worker changed
// lifecycle state.
type WorkerStatusEvent struct {
	WorkerID string       `json:"workerId"`
	Host     string       `json:"host"`
	Status   WorkerStatus `json:"status"`
	Pool     string       `json:"pool"`
}

// AssignmentChangedEvent notifies downstream routers that a collection moved
// on or off a worker. WorkerBaseURL lets routers route directly without
// re-querying the registry.
type AssignmentChangedEvent struct {
	WorkerID       string     `json:"workerId"`
	CollectionID   string     `json:"collectionId"`
	WorkerBaseURL  string     `json:"workerBaseUrl"`
	CollectionName string     `json:"collectionName"`
	TenantID       string     `json:"tenantId"`
	ChangeType     ChangeType `json:"changeType"`
}

// EventPublisher is the asynchronous notification port.
//
// Publishing is always best-effort: callers log a returned error and proceed.
// A publish failure must never fail the primary operation. Components that
// don't need notifications are wired with a no-op implementation at
// construction time instead of branching on nil.
type EventPublisher interface {
	// PublishWorkerStatusChanged emits a worker lifecycle notification.
	PublishWorkerStatusChanged(ctx context.Context, event WorkerStatusEvent) error

	// PublishAssignmentChanged emits an assignment change notification.
	PublishAssignmentChanged(ctx context.Context, event AssignmentChangedEvent) error
}
