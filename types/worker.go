package types

import "time"

// WorkerStatus is the lifecycle state of a registered worker process.
type WorkerStatus string

// Worker lifecycle states.
const (
	// WorkerStarting is the initial state after (re-)registration. The worker
	// must report READY through a heartbeat before it receives assignments.
	WorkerStarting WorkerStatus = "STARTING"

	// WorkerReady means the worker is serving traffic and is eligible for
	// collection placement.
	WorkerReady WorkerStatus = "READY"

	// WorkerDraining means the worker asked to shut down gracefully. It keeps
	// serving existing assignments but receives no new ones; the health
	// monitor drains it once heartbeats stop.
	WorkerDraining WorkerStatus = "DRAINING"

	// WorkerOffline means the worker failed its health check or was taken
	// offline by an operator.
	WorkerOffline WorkerStatus = "OFFLINE"
)

// Worker is a registered serving process that hosts collections.
//
// Workers are never hard-deleted; removal is modeled through status
// transitions so assignment history stays attached to a stable worker ID.
type Worker struct {
	// ID is the stable worker identifier. It is assigned at registration and
	// preserved across re-registrations by the same host.
	ID string `json:"id"`

	// Host and Port locate the worker process. BaseURL is derived from them
	// at registration time so downstream routers never rebuild it.
	Host    string `json:"host"`
	Port    int    `json:"port"`
	BaseURL string `json:"baseUrl"`

	// PodName and Namespace identify the backing pod when running on
	// Kubernetes. Informational only.
	PodName   string `json:"podName,omitempty"`
	Namespace string `json:"namespace,omitempty"`

	// Capacity is the maximum number of assignments this worker accepts.
	// Capacity is a soft limit under concurrency; see AssignCollection.
	Capacity int `json:"capacity"`

	// Pool is the logical worker group (e.g. "default", "batch").
	Pool string `json:"pool"`

	// TenantAffinity, when set, marks this worker as preferring collections
	// of that tenant. Affinity is a soft preference during placement and a
	// priority claim during rebalancing.
	TenantAffinity string `json:"tenantAffinity,omitempty"`

	// Status is the worker lifecycle state.
	Status WorkerStatus `json:"status"`

	// CurrentLoad counts active assignments. Never negative; decrements are
	// clamped at zero. Heartbeats overwrite it with the worker-reported value.
	CurrentLoad int `json:"currentLoad"`

	// LastHeartbeat is the time of the most recent heartbeat, or zero if the
	// worker never heartbeated.
	LastHeartbeat time.Time `json:"lastHeartbeat,omitempty"`

	// Labels carries opaque key-value metadata supplied at registration.
	Labels map[string]string `json:"labels,omitempty"`
}

// HasCapacity reports whether the worker can accept another assignment.
func (w *Worker) HasCapacity() bool {
	return w.CurrentLoad < w.Capacity
}

// HeartbeatStale reports whether the worker's heartbeat is older than the
// given threshold relative to now. A worker that never heartbeated is stale.
func (w *Worker) HeartbeatStale(now time.Time, threshold time.Duration) bool {
	if w.LastHeartbeat.IsZero() {
		return true
	}

	return w.LastHeartbeat.Before(now.Add(-threshold))
}

// Clone returns a deep copy of the worker.
//
// Stores return clones so callers can mutate results without racing the
// backing map.
func (w *Worker) Clone() *Worker {
	cp := *w
	if w.Labels != nil {
		cp.Labels = make(map[string]string, len(w.Labels))
		for k, v := range w.Labels {
			cp.Labels[k] = v
		}
	}

	return &cp
}
