// Package fleet implements the worker-fleet core of a multi-tenant low-code
// platform control plane: worker registration and heartbeating, placement of
// collections onto workers, heartbeat-staleness health monitoring, and
// periodic load rebalancing.
//
// # Quick Start
//
// Basic usage with default settings:
//
//	import "github.com/arloliu/fleet"
//
//	cfg := fleet.DefaultConfig()
//
//	src := source.NewStatic(collections)
//	mgr, err := fleet.NewManager(&cfg, natsConn, src)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	if err := mgr.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer mgr.Stop(context.Background())
//
// # Key Features
//
//   - Stable Worker Identity: re-registration by the same host keeps the
//     worker ID, so assignment history survives restarts
//   - Least-Loaded Placement: collections go to the READY worker with the
//     most spare capacity, with soft tenant affinity
//   - Health Monitoring: workers whose heartbeat goes stale are taken
//     offline and their collections are reassigned
//   - Periodic Rebalancing: drift from worker churn is corrected by moving
//     assignments from overloaded to underloaded workers
//   - Pluggable Storage: NATS JetStream KV for persistence, or in-memory
//     stores for tests and single-process deployments
//
// # Architecture
//
// Workers progress through a lifecycle:
//
//	STARTING → READY → DRAINING / OFFLINE
//
// A worker registers (STARTING), reports READY through a heartbeat, and then
// receives collection assignments. Each assignment is PENDING until the
// worker confirms it loaded the collection, READY while serving, and REMOVED
// once unassigned or reassigned. Two background loops keep the fleet
// converged: the health monitor (heartbeat staleness) and the rebalancer
// (load distribution). Downstream routers follow along through NATS
// notifications.
//
// See the examples/ directory for complete working examples.
package fleet
