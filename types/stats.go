package types

// WorkerStats summarizes fleet health for dashboards and autoscalers.
type WorkerStats struct {
	TotalWorkers          int `json:"totalWorkers"`
	ReadyWorkers          int `json:"readyWorkers"`
	TotalAssignments      int `json:"totalAssignments"`
	ReadyAssignments      int `json:"readyAssignments"`
	UnassignedCollections int `json:"unassignedCollections"`

	// AverageLoad is READY assignments per READY worker, 0 when no worker
	// is READY. The primary autoscaling signal.
	AverageLoad float64 `json:"averageLoad"`
}

// RebalanceMove records a single assignment move during rebalancing.
type RebalanceMove struct {
	CollectionID string `json:"collectionId"`
	TenantID     string `json:"tenantId"`
	FromWorkerID string `json:"fromWorkerId"`
	ToWorkerID   string `json:"toWorkerId"`
}

// RebalanceReport describes the actions taken by one rebalance pass.
//
// Intended for observability and audit; correctness does not depend on it.
type RebalanceReport struct {
	MoveCount          int             `json:"moveCount"`
	WorkerCount        int             `json:"workerCount"`
	TotalAssignments   int             `json:"totalAssignments"`
	IdealLoad          float64         `json:"idealLoad"`
	Moves              []RebalanceMove `json:"moves"`
	BeforeDistribution map[string]int  `json:"beforeDistribution"`
	AfterDistribution  map[string]int  `json:"afterDistribution"`
}
