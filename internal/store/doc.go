// Package store provides WorkerStore and AssignmentStore implementations.
//
// Two backends are available:
//
//   - Memory: lock-free concurrent maps, suitable for tests and
//     single-replica deployments without durability requirements.
//   - KV: NATS JetStream KeyValue buckets with revision-checked updates,
//     suitable for deployments that already run JetStream.
//
// Both backends provide the atomic AdjustLoad read-modify-write required to
// keep worker load counters consistent under concurrent placement.
package store
