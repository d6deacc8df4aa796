package source

import (
	"context"
	"sync"

	"github.com/arloliu/fleet/types"
)

// Static implements a collection source backed by a fixed in-memory list.
type Static struct {
	mu          sync.RWMutex
	collections []types.Collection
}

var _ types.CollectionSource = (*Static)(nil)

// NewStatic creates a new static collection source.
//
// Useful for testing and for deployments where the collection catalog is
// known at startup. Production deployments typically implement
// types.CollectionSource against the platform's schema service instead.
//
// Parameters:
//   - collections: Fixed list of collections
//
// Returns:
//   - *Static: Initialized static source
//
// Example:
//
//	src := source.NewStatic([]types.Collection{
//	    {ID: "col-orders", Name: "orders", TenantID: "acme", Active: true},
//	    {ID: "col-audit", Name: "audit_log", Active: true},
//	})
//	mgr, err := fleet.NewManager(&cfg, nil, src)
//	if err != nil { /* handle */ }
func NewStatic(collections []types.Collection) *Static {
	return &Static{
		collections: collections,
	}
}

// ActiveCollections returns the collections with the active flag set.
//
// Returns:
//   - []types.Collection: Active collections, in list order
//   - error: Always nil (never fails)
func (s *Static) ActiveCollections(_ context.Context) ([]types.Collection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]types.Collection, 0, len(s.collections))
	for _, c := range s.collections {
		if c.Active {
			result = append(result, c)
		}
	}

	return result, nil
}

// Collection returns the collection with the given ID.
//
// Returns:
//   - types.Collection: The matching collection
//   - error: NotFoundError when the ID is unknown
func (s *Static) Collection(_ context.Context, id string) (types.Collection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, c := range s.collections {
		if c.ID == id {
			return c, nil
		}
	}

	return types.Collection{}, types.NewNotFound("collection", id)
}

// Update replaces the collection list.
//
// This allows the static source to simulate catalog changes, which is useful
// for testing auto-assignment scenarios.
//
// Parameters:
//   - collections: New list of collections
func (s *Static) Update(collections []types.Collection) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.collections = make([]types.Collection, len(collections))
	copy(s.collections, collections)
}
