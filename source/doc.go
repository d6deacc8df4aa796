// Package source provides built-in collection source implementations.
//
// Collection sources expose the platform's collection catalog to the fleet
// core. The package includes:
//
//   - Static: Fixed in-memory list of collections
//
// Custom sources can be implemented by satisfying the types.CollectionSource interface.
package source
