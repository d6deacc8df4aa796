package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/arloliu/fleet/types"
)

// Default subjects for fleet notifications.
const (
	DefaultWorkerStatusSubject = "fleet.workers.status"
	DefaultAssignmentSubject   = "fleet.assignments.changed"
)

// NATSPublisher publishes fleet notifications as JSON payloads on NATS
// subjects.
//
// Publishing is fire-and-forget core NATS; consumers that need replay can
// bind a JetStream stream to the subjects.
type NATSPublisher struct {
	nc                  *nats.Conn
	workerStatusSubject string
	assignmentSubject   string
}

// Compile-time assertion that NATSPublisher implements EventPublisher.
var _ types.EventPublisher = (*NATSPublisher)(nil)

// NewNATS creates a NATS-backed event publisher.
//
// Parameters:
//   - nc: NATS connection
//   - workerStatusSubject: Subject for worker status events (default
//     "fleet.workers.status" if empty)
//   - assignmentSubject: Subject for assignment change events (default
//     "fleet.assignments.changed" if empty)
//
// Returns:
//   - *NATSPublisher: A new publisher instance
func NewNATS(nc *nats.Conn, workerStatusSubject, assignmentSubject string) *NATSPublisher {
	if workerStatusSubject == "" {
		workerStatusSubject = DefaultWorkerStatusSubject
	}
	if assignmentSubject == "" {
		assignmentSubject = DefaultAssignmentSubject
	}

	return &NATSPublisher{
		nc:                  nc,
		workerStatusSubject: workerStatusSubject,
		assignmentSubject:   assignmentSubject,
	}
}

// PublishWorkerStatusChanged emits a worker lifecycle notification.
func (p *NATSPublisher) PublishWorkerStatusChanged(_ context.Context, event types.WorkerStatusEvent) error {
	return p.publish(p.workerStatusSubject, event)
}

// PublishAssignmentChanged emits an assignment change notification.
func (p *NATSPublisher) PublishAssignmentChanged(_ context.Context, event types.AssignmentChangedEvent) error {
	return p.publish(p.assignmentSubject, event)
}

func (p *NATSPublisher) publish(subject string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := p.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}

	return nil
}
