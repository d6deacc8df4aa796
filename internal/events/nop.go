package events

import (
	"context"

	"github.com/arloliu/fleet/types"
)

// NopPublisher is an EventPublisher that discards all notifications.
//
// Wired in when the deployment has no downstream event consumers, so core
// logic never has to branch on a nil publisher.
type NopPublisher struct{}

// Compile-time assertion that NopPublisher implements EventPublisher.
var _ types.EventPublisher = (*NopPublisher)(nil)

// NewNop creates a publisher that discards all notifications.
func NewNop() *NopPublisher {
	return &NopPublisher{}
}

// PublishWorkerStatusChanged discards the event.
func (n *NopPublisher) PublishWorkerStatusChanged(_ context.Context, _ types.WorkerStatusEvent) error {
	return nil
}

// PublishAssignmentChanged discards the event.
func (n *NopPublisher) PublishAssignmentChanged(_ context.Context, _ types.AssignmentChangedEvent) error {
	return nil
}
