package fleet

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/arloliu/fleet/internal/events"
	"github.com/arloliu/fleet/internal/health"
	"github.com/arloliu/fleet/internal/httpapi"
	"github.com/arloliu/fleet/internal/kvutil"
	"github.com/arloliu/fleet/internal/logging"
	"github.com/arloliu/fleet/internal/metrics"
	"github.com/arloliu/fleet/internal/placement"
	"github.com/arloliu/fleet/internal/rebalance"
	"github.com/arloliu/fleet/internal/registry"
	"github.com/arloliu/fleet/internal/store"
)

// Manager wires the fleet control plane together: worker registry, assignment
// placement, health monitoring, periodic rebalancing, and the control HTTP API.
//
// Backend selection happens once at construction:
//   - With a NATS connection, workers and assignments persist in JetStream KV
//     buckets and notifications publish to NATS subjects.
//   - Without one, in-memory stores and a no-op publisher are used (suitable
//     for tests and single-process deployments).
//
// Use WithStores and WithEventPublisher to override either side independently.
type Manager struct {
	cfg         *Config
	conn        *nats.Conn
	collections CollectionSource

	logger    Logger
	metrics   MetricsCollector
	publisher EventPublisher

	workers     WorkerStore
	assignments AssignmentStore

	// Internal components, wired in Start.
	registry   *registry.Service
	placement  *placement.Service
	health     *health.Monitor
	rebalancer *rebalance.Rebalancer
	httpServer *httpapi.Server

	mu      sync.Mutex
	started bool
}

// NewManager creates a new Manager instance with the provided configuration.
//
// Returns a concrete *Manager struct following the "accept interfaces, return
// structs" principle. Consumers can define their own interfaces for testing
// if needed.
//
// Parameters:
//   - cfg: Manager configuration (defaults applied for zero fields; nil uses
//     DefaultConfig)
//   - conn: NATS connection, or nil for in-memory operation
//   - collections: Collection catalog the fleet serves
//   - opts: Optional dependencies (logger, metrics, publisher, stores)
//
// Returns:
//   - *Manager: Initialized manager instance; call Start to bring it up
//   - error: ErrInvalidConfig or ErrCollectionSourceRequired
//
// Example:
//
//	cfg := fleet.DefaultConfig()
//	mgr, err := fleet.NewManager(&cfg, natsConn, collectionSource,
//	    fleet.WithLogger(logger),
//	)
//	if err != nil {
//	    return err
//	}
//	if err := mgr.Start(ctx); err != nil {
//	    return err
//	}
//	defer mgr.Stop(context.Background())
func NewManager(cfg *Config, conn *nats.Conn, collections CollectionSource, opts ...Option) (*Manager, error) {
	if cfg == nil {
		defaults := DefaultConfig()
		cfg = &defaults
	}
	SetDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	if collections == nil {
		return nil, ErrCollectionSourceRequired
	}

	options := &managerOptions{}
	for _, opt := range opts {
		opt(options)
	}

	logger := options.logger
	if logger == nil {
		logger = logging.NewNop()
	}

	collector := options.metrics
	if collector == nil {
		collector = metrics.NewNop()
	}

	publisher := options.publisher
	if publisher == nil {
		if conn != nil {
			publisher = events.NewNATS(conn, cfg.Subjects.WorkerStatus, cfg.Subjects.AssignmentChanged)
		} else {
			publisher = events.NewNop()
		}
	}

	cfg.ValidateWithWarnings(logger)

	return &Manager{
		cfg:         cfg,
		conn:        conn,
		collections: collections,
		logger:      logger,
		metrics:     collector,
		publisher:   publisher,
		workers:     options.workers,
		assignments: options.assignments,
	}, nil
}

// Start initializes the storage backend, wires the services, and starts the
// health monitor, the rebalancer, and the control HTTP API.
//
// Parameters:
//   - ctx: Context bounding backend setup; also cancels the background loops
//
// Returns:
//   - error: ErrAlreadyStarted, or a backend setup failure
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return ErrAlreadyStarted
	}

	if err := m.initStores(ctx); err != nil {
		return err
	}

	m.placement = placement.NewService(
		m.workers, m.assignments, m.collections, m.publisher, m.logger, m.metrics)

	m.registry = registry.NewService(
		m.workers, m.assignments, m.collections, m.placement, m.placement,
		m.publisher, m.logger, m.metrics, m.cfg.DefaultCapacity)

	m.health = health.NewMonitor(
		m.workers, m.assignments, m.placement, m.publisher, m.logger, m.metrics,
		m.cfg.Health.CheckInterval, m.cfg.Health.StaleThreshold)

	m.rebalancer = rebalance.NewRebalancer(
		m.workers, m.assignments, m.publisher, m.logger, m.metrics,
		m.cfg.Rebalance.Interval, m.cfg.Rebalance.OverloadedRatio, m.cfg.Rebalance.UnderloadedRatio)

	m.httpServer = httpapi.NewServer(
		m.cfg.HTTPAddr, m.registry, m.placement, m.rebalancer, m.collections, m.logger)

	if err := m.health.Start(ctx); err != nil {
		return fmt.Errorf("failed to start health monitor: %w", err)
	}
	if err := m.rebalancer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start rebalancer: %w", err)
	}
	if err := m.httpServer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start http server: %w", err)
	}

	m.started = true
	m.logger.Info("fleet manager started",
		"http_addr", m.cfg.HTTPAddr,
		"health_interval", m.cfg.Health.CheckInterval,
		"rebalance_interval", m.cfg.Rebalance.Interval,
	)

	return nil
}

// initStores selects the storage backend. Explicit stores from WithStores
// win; otherwise a NATS connection selects JetStream KV, and its absence
// selects in-memory maps.
func (m *Manager) initStores(ctx context.Context) error {
	if m.workers != nil && m.assignments != nil {
		return nil
	}

	if m.conn == nil {
		m.workers = store.NewMemoryWorkerStore()
		m.assignments = store.NewMemoryAssignmentStore()
		m.logger.Info("using in-memory stores")

		return nil
	}

	js, err := jetstream.New(m.conn)
	if err != nil {
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	setupCtx, cancel := context.WithTimeout(ctx, m.cfg.OperationTimeout)
	defer cancel()

	workerKV, err := kvutil.EnsureBucket(setupCtx, js, jetstream.KeyValueConfig{
		Bucket:      m.cfg.KVBuckets.WorkerBucket,
		Description: "fleet worker records",
	}, 3)
	if err != nil {
		return fmt.Errorf("failed to ensure worker bucket: %w", err)
	}

	assignmentKV, err := kvutil.EnsureBucket(setupCtx, js, jetstream.KeyValueConfig{
		Bucket:      m.cfg.KVBuckets.AssignmentBucket,
		Description: "fleet assignment records",
	}, 3)
	if err != nil {
		return fmt.Errorf("failed to ensure assignment bucket: %w", err)
	}

	m.workers = store.NewKVWorkerStore(workerKV)
	m.assignments = store.NewKVAssignmentStore(assignmentKV)
	m.logger.Info("using JetStream KV stores",
		"worker_bucket", m.cfg.KVBuckets.WorkerBucket,
		"assignment_bucket", m.cfg.KVBuckets.AssignmentBucket,
	)

	return nil
}

// Stop shuts down the HTTP API, the rebalancer, and the health monitor, in
// that order, waiting for each background loop to exit.
//
// Parameters:
//   - ctx: Context for the shutdown (advisory; each component enforces its
//     own shutdown timeout)
//
// Returns:
//   - error: ErrNotStarted when Start was never called; the first component
//     shutdown failure otherwise
func (m *Manager) Stop(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.started {
		return ErrNotStarted
	}
	m.started = false

	var firstErr error
	if err := m.httpServer.Stop(); err != nil {
		firstErr = fmt.Errorf("failed to stop http server: %w", err)
	}
	if err := m.rebalancer.Stop(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("failed to stop rebalancer: %w", err)
	}
	if err := m.health.Stop(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("failed to stop health monitor: %w", err)
	}

	m.logger.Info("fleet manager stopped")

	return firstErr
}

// Handler returns the control API's HTTP handler, for embedding the fleet
// endpoints into an existing server instead of using the built-in one.
//
// Returns nil before Start.
func (m *Manager) Handler() http.Handler {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.httpServer == nil {
		return nil
	}

	return m.httpServer.Handler()
}

// Rebalance triggers an immediate rebalance pass, independent of the
// scheduled cadence.
//
// Returns:
//   - *RebalanceReport: Description of the pass
//   - error: ErrNotStarted before Start, or a store failure
func (m *Manager) Rebalance(ctx context.Context) (*RebalanceReport, error) {
	m.mu.Lock()
	rebalancer := m.rebalancer
	started := m.started
	m.mu.Unlock()

	if !started {
		return nil, ErrNotStarted
	}

	return rebalancer.Rebalance(ctx)
}

// CheckHealth triggers an immediate health-check pass, independent of the
// scheduled cadence.
//
// Returns:
//   - error: ErrNotStarted before Start, or a store failure
func (m *Manager) CheckHealth(ctx context.Context) error {
	m.mu.Lock()
	monitor := m.health
	started := m.started
	m.mu.Unlock()

	if !started {
		return ErrNotStarted
	}

	return monitor.CheckOnce(ctx)
}

// Stats returns fleet-level statistics.
//
// Returns:
//   - WorkerStats: Worker and assignment counts plus the average READY load
//   - error: ErrNotStarted before Start, or a store failure
func (m *Manager) Stats(ctx context.Context) (WorkerStats, error) {
	m.mu.Lock()
	reg := m.registry
	started := m.started
	m.mu.Unlock()

	if !started {
		return WorkerStats{}, ErrNotStarted
	}

	return reg.Stats(ctx)
}
