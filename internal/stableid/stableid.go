// Package stableid derives stable identifiers for fleet entities.
//
// Worker IDs must survive re-registration by the same host so assignment
// history stays attached to one record. Hashing the host gives a stable,
// KV-key-safe ID without coordinating a counter across replicas.
package stableid

import (
	"fmt"
	"time"

	"github.com/zeebo/xxh3"
)

// ForWorker derives a stable worker ID from the worker's host.
//
// The same host always yields the same ID, so a restarting worker re-claims
// its previous identity.
//
// Parameters:
//   - host: The worker's host name or address
//
// Returns:
//   - string: Worker ID of the form "w-<16 hex digits>"
func ForWorker(host string) string {
	return fmt.Sprintf("w-%016x", xxh3.HashString(host))
}

// ForAssignment derives a unique assignment ID.
//
// The timestamp disambiguates successive assignments of the same collection
// to the same worker (history rows stay distinct).
//
// Parameters:
//   - collectionID: The collection being assigned
//   - workerID: The target worker
//   - at: The assignment time
//
// Returns:
//   - string: Assignment ID of the form "a-<16 hex digits>"
func ForAssignment(collectionID, workerID string, at time.Time) string {
	seed := uint64(at.UnixNano())
	h := xxh3.HashStringSeed(collectionID+"|"+workerID, seed)

	return fmt.Sprintf("a-%016x", h)
}
