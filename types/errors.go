package types

import (
	"errors"
	"fmt"
)

// ErrNoWorkersAvailable is returned by placement when no READY worker with
// spare capacity exists.
//
// Direct callers propagate it; bulk operations (auto-assignment, reassignment
// sweeps) catch it per item, log, and continue.
var ErrNoWorkersAvailable = errors.New("no workers available")

// NotFoundError reports that a referenced worker, assignment, or collection
// does not exist.
//
// HTTP handlers map it to a 404 response.
type NotFoundError struct {
	// Resource is the entity kind, e.g. "worker" or "assignment".
	Resource string

	// ID is the identifier that was looked up.
	ID string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// NewNotFound creates a NotFoundError for the given resource kind and ID.
func NewNotFound(resource, id string) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id}
}

// IsNotFound reports whether err is (or wraps) a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}
