package types

import "context"

// Collection is the minimal view of a platform collection the fleet core
// needs: identity, display name, owning tenant, and the active flag.
//
// Collection CRUD lives outside this module; the control plane only consults
// collections to discover unassigned ones and to enrich notifications.
type Collection struct {
	// ID is the collection identifier.
	ID string `json:"id"`

	// Name is the collection's API name, used in notifications.
	Name string `json:"name"`

	// TenantID is the owning tenant, empty when the collection is global.
	TenantID string `json:"tenantId,omitempty"`

	// Active reports whether the collection should be served by a worker.
	Active bool `json:"active"`
}

// CollectionSource provides read access to the collection catalog.
//
// It is an external collaborator port: the platform's schema service
// implements it. The fleet core uses it to find collections that need a
// worker and to resolve collection names for notifications.
type CollectionSource interface {
	// ActiveCollections returns all collections with the active flag set.
	ActiveCollections(ctx context.Context) ([]Collection, error)

	// Collection returns a collection by ID. Returns a NotFoundError when
	// the ID is unknown.
	Collection(ctx context.Context, id string) (Collection, error)
}
