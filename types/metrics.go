package types

// MetricsCollector defines methods for recording operational metrics.
//
// Implementations must be non-blocking and thread-safe; all methods are
// called from request handlers and background loops.
//
// The interface composes smaller, domain-focused interfaces so components
// can depend on only the surface they record.
type MetricsCollector interface {
	RegistryMetrics
	PlacementMetrics
	HealthMetrics
	RebalanceMetrics
}

// RegistryMetrics covers worker lifecycle operations.
type RegistryMetrics interface {
	// RecordRegistration records a worker registration or re-registration.
	RecordRegistration(pool string)

	// RecordHeartbeat records a processed heartbeat.
	RecordHeartbeat(workerID string)

	// SetWorkerCounts sets the current total and READY worker gauges.
	SetWorkerCounts(total, ready int)
}

// PlacementMetrics covers assignment placement operations.
type PlacementMetrics interface {
	// RecordAssignmentChange records an assignment being created or removed.
	RecordAssignmentChange(change ChangeType)

	// RecordPlacementFailure records a placement attempt that found no
	// available worker.
	RecordPlacementFailure()
}

// HealthMetrics covers the health monitor.
type HealthMetrics interface {
	// RecordStaleWorker records a worker marked OFFLINE by the health check.
	RecordStaleWorker()
}

// RebalanceMetrics covers rebalance passes.
type RebalanceMetrics interface {
	// RecordRebalance records a completed rebalance pass: the number of
	// moves performed and the pass duration in seconds.
	RecordRebalance(moves int, seconds float64)
}
