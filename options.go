package fleet

// Option configures a Manager with optional dependencies.
type Option func(*managerOptions)

// managerOptions holds optional Manager configuration.
type managerOptions struct {
	logger      Logger
	metrics     MetricsCollector
	publisher   EventPublisher
	workers     WorkerStore
	assignments AssignmentStore
}

// WithLogger sets a logger.
//
// Parameters:
//   - logger: Logger implementation (compatible with slog via logging.NewSlog)
//
// Returns:
//   - Option: Functional option for NewManager
//
// Example:
//
//	logger := logging.NewSlogDefault()
//	mgr, err := fleet.NewManager(&cfg, nc, src, fleet.WithLogger(logger))
func WithLogger(logger Logger) Option {
	return func(o *managerOptions) {
		o.logger = logger
	}
}

// WithMetrics sets a metrics collector.
//
// Parameters:
//   - metrics: MetricsCollector implementation
//
// Returns:
//   - Option: Functional option for NewManager
//
// Example:
//
//	collector := metrics.NewPrometheus(nil, "fleet")
//	mgr, err := fleet.NewManager(&cfg, nc, src, fleet.WithMetrics(collector))
func WithMetrics(metrics MetricsCollector) Option {
	return func(o *managerOptions) {
		o.metrics = metrics
	}
}

// WithEventPublisher sets a custom event publisher.
//
// By default the manager publishes notifications to NATS when a connection is
// supplied, and drops them otherwise. Use this option to route notifications
// elsewhere.
//
// Parameters:
//   - publisher: EventPublisher implementation
//
// Returns:
//   - Option: Functional option for NewManager
func WithEventPublisher(publisher EventPublisher) Option {
	return func(o *managerOptions) {
		o.publisher = publisher
	}
}

// WithStores sets custom worker and assignment stores.
//
// By default the manager uses NATS JetStream KV stores when a connection is
// supplied, and in-memory stores otherwise. Use this option to plug in a
// different backend or to share stores across components in tests.
//
// Parameters:
//   - workers: WorkerStore implementation
//   - assignments: AssignmentStore implementation
//
// Returns:
//   - Option: Functional option for NewManager
func WithStores(workers WorkerStore, assignments AssignmentStore) Option {
	return func(o *managerOptions) {
		o.workers = workers
		o.assignments = assignments
	}
}
