// Package metrics provides MetricsCollector implementations for the fleet library.
package metrics

import "github.com/arloliu/fleet/types"

// NopMetrics is a no-op metrics collector that discards all measurements.
//
// Used as the default when no collector is configured, and embedded by
// partial implementations to satisfy the full interface.
type NopMetrics struct{}

// Compile-time assertion that NopMetrics implements MetricsCollector.
var _ types.MetricsCollector = (*NopMetrics)(nil)

// NewNop creates a new no-op metrics collector.
//
// Returns:
//   - *NopMetrics: Collector that performs no operations
func NewNop() *NopMetrics {
	return &NopMetrics{}
}

// RecordRegistration discards the measurement.
func (n *NopMetrics) RecordRegistration(_ /* pool */ string) {}

// RecordHeartbeat discards the measurement.
func (n *NopMetrics) RecordHeartbeat(_ /* workerID */ string) {}

// SetWorkerCounts discards the measurement.
func (n *NopMetrics) SetWorkerCounts(_, _ /* total, ready */ int) {}

// RecordAssignmentChange discards the measurement.
func (n *NopMetrics) RecordAssignmentChange(_ /* change */ types.ChangeType) {}

// RecordPlacementFailure discards the measurement.
func (n *NopMetrics) RecordPlacementFailure() {}

// RecordStaleWorker discards the measurement.
func (n *NopMetrics) RecordStaleWorker() {}

// RecordRebalance discards the measurement.
func (n *NopMetrics) RecordRebalance(_ /* moves */ int, _ /* seconds */ float64) {}
