package fleet

import (
	"errors"

	"github.com/arloliu/fleet/types"
)

// Sentinel errors returned by the Manager.
var (
	// ErrInvalidConfig is returned when the configuration is invalid.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrCollectionSourceRequired is returned when the collection source is nil.
	ErrCollectionSourceRequired = errors.New("collection source is required")

	// ErrAlreadyStarted is returned when Start is called on an already running manager.
	ErrAlreadyStarted = errors.New("manager already started")

	// ErrNotStarted is returned when Stop is called on a manager that hasn't been started.
	ErrNotStarted = errors.New("manager not started")

	// ErrNoWorkersAvailable is returned when trying to place a collection with
	// no READY worker under capacity.
	ErrNoWorkersAvailable = types.ErrNoWorkersAvailable
)

// IsNotFound reports whether err is (or wraps) a not-found error for a
// worker, assignment, or collection.
func IsNotFound(err error) bool {
	return types.IsNotFound(err)
}
