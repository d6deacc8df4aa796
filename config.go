package fleet

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// HealthConfig controls heartbeat-staleness detection.
type HealthConfig struct {
	// CheckInterval is how often the health monitor scans active workers.
	// Recommended: 30 seconds.
	CheckInterval time.Duration `yaml:"checkInterval"`

	// StaleThreshold is the heartbeat age beyond which a worker is considered
	// dead and taken offline. Must be greater than CheckInterval so a worker
	// is never declared dead between two scans it had no chance to beat.
	// Recommended: 1.5x CheckInterval.
	StaleThreshold time.Duration `yaml:"staleThreshold"`
}

// RebalanceConfig controls periodic load rebalancing.
type RebalanceConfig struct {
	// Interval is the cadence of scheduled rebalance passes.
	// Recommended: 5 minutes. Rebalancing is deliberately infrequent; the
	// placement path already prefers the least-loaded worker, so passes only
	// correct drift from worker churn.
	Interval time.Duration `yaml:"interval"`

	// OverloadedRatio marks a worker overloaded when its READY assignment
	// count exceeds ceil(idealLoad * OverloadedRatio). Must be > 1.0.
	// Recommended: 1.20.
	OverloadedRatio float64 `yaml:"overloadedRatio"`

	// UnderloadedRatio marks a worker underloaded when its READY assignment
	// count is below floor(idealLoad * UnderloadedRatio). Must be in (0, 1).
	// Recommended: 0.80.
	UnderloadedRatio float64 `yaml:"underloadedRatio"`
}

// KVBucketConfig configures NATS JetStream KV bucket names.
type KVBucketConfig struct {
	// WorkerBucket is the bucket name for worker records.
	WorkerBucket string `yaml:"workerBucket"`

	// AssignmentBucket is the bucket name for assignment records.
	AssignmentBucket string `yaml:"assignmentBucket"`
}

// SubjectConfig configures the NATS subjects for fleet notifications.
type SubjectConfig struct {
	// WorkerStatus is the subject for worker lifecycle events.
	WorkerStatus string `yaml:"workerStatus"`

	// AssignmentChanged is the subject for assignment change events.
	AssignmentChanged string `yaml:"assignmentChanged"`
}

// Config is the configuration for the Manager.
//
// All duration fields accept standard Go duration strings like "30s", "5m", "1h".
type Config struct {
	// HTTPAddr is the listen address of the control API, e.g. ":8080".
	HTTPAddr string `yaml:"httpAddr"`

	// DefaultCapacity is the assignment capacity applied to worker
	// registrations that omit one. Recommended: 50.
	DefaultCapacity int `yaml:"defaultCapacity"`

	// OperationTimeout bounds backend setup operations (KV bucket creation).
	// Recommended: 10 seconds.
	OperationTimeout time.Duration `yaml:"operationTimeout"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown of
	// the background loops and the HTTP server. Recommended: 10 seconds.
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`

	// Health controls heartbeat-staleness detection.
	Health HealthConfig `yaml:"health"`

	// Rebalance controls periodic load rebalancing.
	Rebalance RebalanceConfig `yaml:"rebalance"`

	// KVBuckets controls NATS JetStream KV bucket names.
	KVBuckets KVBucketConfig `yaml:"kvBuckets"`

	// Subjects controls the NATS subjects for fleet notifications.
	Subjects SubjectConfig `yaml:"subjects"`
}

// DefaultConfig returns a Config with production defaults.
//
// Returns:
//   - Config: Configuration with default values
func DefaultConfig() Config {
	return Config{
		HTTPAddr:         ":8080",
		DefaultCapacity:  50,
		OperationTimeout: 10 * time.Second,
		ShutdownTimeout:  10 * time.Second,
		Health: HealthConfig{
			CheckInterval:  30 * time.Second,
			StaleThreshold: 45 * time.Second,
		},
		Rebalance: RebalanceConfig{
			Interval:         5 * time.Minute,
			OverloadedRatio:  1.20,
			UnderloadedRatio: 0.80,
		},
		KVBuckets: KVBucketConfig{
			WorkerBucket:     "fleet-workers",
			AssignmentBucket: "fleet-assignments",
		},
		Subjects: SubjectConfig{
			WorkerStatus:      "fleet.workers.status",
			AssignmentChanged: "fleet.assignments.changed",
		},
	}
}

// SetDefaults fills in missing configuration values with production defaults.
//
// Parameters:
//   - cfg: Config to apply defaults to (modified in place)
func SetDefaults(cfg *Config) {
	defaults := DefaultConfig()

	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = defaults.HTTPAddr
	}
	if cfg.DefaultCapacity == 0 {
		cfg.DefaultCapacity = defaults.DefaultCapacity
	}
	if cfg.OperationTimeout == 0 {
		cfg.OperationTimeout = defaults.OperationTimeout
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = defaults.ShutdownTimeout
	}
	if cfg.Health.CheckInterval == 0 {
		cfg.Health.CheckInterval = defaults.Health.CheckInterval
	}
	if cfg.Health.StaleThreshold == 0 {
		cfg.Health.StaleThreshold = defaults.Health.StaleThreshold
	}
	if cfg.Rebalance.Interval == 0 {
		cfg.Rebalance.Interval = defaults.Rebalance.Interval
	}
	if cfg.Rebalance.OverloadedRatio == 0 {
		cfg.Rebalance.OverloadedRatio = defaults.Rebalance.OverloadedRatio
	}
	if cfg.Rebalance.UnderloadedRatio == 0 {
		cfg.Rebalance.UnderloadedRatio = defaults.Rebalance.UnderloadedRatio
	}
	if cfg.KVBuckets.WorkerBucket == "" {
		cfg.KVBuckets.WorkerBucket = defaults.KVBuckets.WorkerBucket
	}
	if cfg.KVBuckets.AssignmentBucket == "" {
		cfg.KVBuckets.AssignmentBucket = defaults.KVBuckets.AssignmentBucket
	}
	if cfg.Subjects.WorkerStatus == "" {
		cfg.Subjects.WorkerStatus = defaults.Subjects.WorkerStatus
	}
	if cfg.Subjects.AssignmentChanged == "" {
		cfg.Subjects.AssignmentChanged = defaults.Subjects.AssignmentChanged
	}
}

// Validate checks configuration constraints and returns an error for invalid values.
//
// Hard Validation Rules:
//   - DefaultCapacity > 0
//   - Health.CheckInterval > 0
//   - Health.StaleThreshold > Health.CheckInterval (a worker must have at
//     least one full scan interval to heartbeat before it is declared dead)
//   - Rebalance.Interval > 0
//   - Rebalance.OverloadedRatio > 1.0 (a worker at exactly ideal load is
//     never overloaded)
//   - 0 < Rebalance.UnderloadedRatio < 1.0
//
// Returns:
//   - error: Validation error with clear explanation, nil if valid
func (cfg *Config) Validate() error {
	if cfg.DefaultCapacity <= 0 {
		return fmt.Errorf("DefaultCapacity must be > 0, got %d", cfg.DefaultCapacity)
	}

	if cfg.Health.CheckInterval <= 0 {
		return fmt.Errorf("Health.CheckInterval must be > 0, got %v", cfg.Health.CheckInterval)
	}

	if cfg.Health.StaleThreshold <= cfg.Health.CheckInterval {
		return fmt.Errorf(
			"Health.StaleThreshold (%v) must be > Health.CheckInterval (%v) to allow one scan before declaring a worker dead",
			cfg.Health.StaleThreshold, cfg.Health.CheckInterval,
		)
	}

	if cfg.Rebalance.Interval <= 0 {
		return fmt.Errorf("Rebalance.Interval must be > 0, got %v", cfg.Rebalance.Interval)
	}

	if cfg.Rebalance.OverloadedRatio <= 1.0 {
		return fmt.Errorf(
			"Rebalance.OverloadedRatio must be > 1.0, got %v",
			cfg.Rebalance.OverloadedRatio,
		)
	}

	if cfg.Rebalance.UnderloadedRatio <= 0 || cfg.Rebalance.UnderloadedRatio >= 1.0 {
		return fmt.Errorf(
			"Rebalance.UnderloadedRatio must be in (0, 1), got %v",
			cfg.Rebalance.UnderloadedRatio,
		)
	}

	return nil
}

// ValidateWithWarnings checks configuration and logs warnings for non-recommended values.
//
// This is called after Validate() in NewManager() to provide operator guidance.
//
// Parameters:
//   - logger: Logger instance for warning output
func (cfg *Config) ValidateWithWarnings(logger Logger) {
	if cfg.Health.StaleThreshold < cfg.Health.CheckInterval*3/2 {
		logger.Warn(
			"Health.StaleThreshold is below recommended minimum, workers may flap on slow heartbeats",
			"staleThreshold", cfg.Health.StaleThreshold,
			"checkInterval", cfg.Health.CheckInterval,
			"recommended", cfg.Health.CheckInterval*3/2,
		)
	}

	if cfg.Rebalance.Interval < time.Minute {
		logger.Warn(
			"Rebalance.Interval is very short, may cause frequent assignment churn",
			"interval", cfg.Rebalance.Interval,
			"recommended", "5m or higher",
		)
	}
}

// TestConfig returns a configuration optimized for fast test execution.
//
// Test timings are 10-100x faster than production defaults to enable rapid
// iteration without sacrificing test coverage. Use DefaultConfig() for
// production deployments.
//
// Returns:
//   - Config: Configuration with fast timings for tests
//
// Example:
//
//	cfg := fleet.TestConfig()
//	mgr, err := fleet.NewManager(&cfg, nc, src)
func TestConfig() Config {
	cfg := DefaultConfig()

	cfg.HTTPAddr = "127.0.0.1:0"
	cfg.OperationTimeout = 5 * time.Second
	cfg.ShutdownTimeout = 2 * time.Second
	cfg.Health.CheckInterval = 50 * time.Millisecond
	cfg.Health.StaleThreshold = 150 * time.Millisecond
	cfg.Rebalance.Interval = 200 * time.Millisecond

	return cfg
}

// LoadConfig reads a YAML configuration file, applies defaults, and validates
// the result.
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - Config: The loaded configuration
//   - error: File, parse, or validation failure
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	SetDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	return cfg, nil
}
