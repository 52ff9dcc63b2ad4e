// Package config provides configuration structures and loading for LiftShift.
package config

// Config represents the complete migration configuration.
type Config struct {
	Source     PlaneConfig      `yaml:"source" mapstructure:"source"`
	Target     PlaneConfig      `yaml:"target" mapstructure:"target"`
	WorkingDir string           `yaml:"working_dir" mapstructure:"working_dir"`
	Migration  MigrationConfig  `yaml:"migration" mapstructure:"migration"`
	Rollback   RollbackConfig   `yaml:"rollback" mapstructure:"rollback"`
	Processing ProcessingConfig `yaml:"processing" mapstructure:"processing"`
	Logging    LoggingConfig    `yaml:"logging" mapstructure:"logging"`
}

// PlaneConfig describes one data plane connection.
type PlaneConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"` // mysql or memory
	DSN         string `yaml:"dsn" mapstructure:"dsn"`
	OpTimeoutMS int    `yaml:"op_timeout_ms" mapstructure:"op_timeout_ms"`
}

// MigrationConfig holds the strategy and switching settings.
type MigrationConfig struct {
	Strategy              string           `yaml:"strategy" mapstructure:"strategy"`                 // blue-green, rolling, maintenance-window
	TrafficSwitching      string           `yaml:"traffic_switching" mapstructure:"traffic_switching"` // immediate or progressive
	ProgressiveSteps      []int            `yaml:"progressive_steps" mapstructure:"progressive_steps"`
	DowntimeWindowMS      int              `yaml:"downtime_window_ms" mapstructure:"downtime_window_ms"`
	OrphanPolicy          string           `yaml:"orphan_policy" mapstructure:"orphan_policy"` // warn, remove, create
	EnableIncrementalSync bool             `yaml:"enable_incremental_sync" mapstructure:"enable_incremental_sync"`
	SyncIntervalMS        int              `yaml:"sync_interval_ms" mapstructure:"sync_interval_ms"`
	StepObservationMS     int              `yaml:"step_observation_ms" mapstructure:"step_observation_ms"`
	RecoveryWindowMS      int              `yaml:"recovery_window_ms" mapstructure:"recovery_window_ms"`
	MaintenanceMode       bool             `yaml:"maintenance_mode" mapstructure:"maintenance_mode"`
	AutoRollback          ThresholdConfig  `yaml:"auto_rollback_thresholds" mapstructure:"auto_rollback_thresholds"`
}

// ThresholdConfig holds the auto-rollback trigger thresholds.
type ThresholdConfig struct {
	ErrorRatePercent   float64 `yaml:"error_rate" mapstructure:"error_rate"`
	ResponseTimeMS     int     `yaml:"response_time_ms" mapstructure:"response_time_ms"`
	ConsistencyPercent float64 `yaml:"consistency_percent" mapstructure:"consistency_percent"`
}

// RollbackConfig holds rollback behavior settings.
type RollbackConfig struct {
	Mode         string   `yaml:"mode" mapstructure:"mode"` // full, partial, data-only, schema-only
	Tables       []string `yaml:"tables" mapstructure:"tables"`
	CreateBackup bool     `yaml:"create_backup_before_rollback" mapstructure:"create_backup_before_rollback"`
	Confirm      bool     `yaml:"confirm_rollback" mapstructure:"confirm_rollback"`
}

// ProcessingConfig bounds page size and worker fan-out.
type ProcessingConfig struct {
	PageSize int `yaml:"page_size" mapstructure:"page_size"`
	Workers  int `yaml:"workers" mapstructure:"workers"`
}

// LoggingConfig represents logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`   // debug, info, warn, error
	Format string `yaml:"format" mapstructure:"format"` // json or text
	Output string `yaml:"output" mapstructure:"output"` // stdout, stderr, or file path
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() *Config {
	return &Config{
		Source: PlaneConfig{
			Driver:      "mysql",
			OpTimeoutMS: 30000,
		},
		Target: PlaneConfig{
			Driver:      "mysql",
			OpTimeoutMS: 30000,
		},
		WorkingDir: ".liftshift",
		Migration: MigrationConfig{
			Strategy:              "blue-green",
			TrafficSwitching:      "progressive",
			ProgressiveSteps:      []int{10, 25, 50, 75, 100},
			DowntimeWindowMS:      30 * 60 * 1000,
			OrphanPolicy:          "warn",
			EnableIncrementalSync: true,
			SyncIntervalMS:        5000,
			StepObservationMS:     60000,
			RecoveryWindowMS:      5 * 60 * 1000,
			AutoRollback: ThresholdConfig{
				ErrorRatePercent:   5,
				ResponseTimeMS:     5000,
				ConsistencyPercent: 95,
			},
		},
		Rollback: RollbackConfig{
			Mode:         "full",
			CreateBackup: true,
			Confirm:      true,
		},
		Processing: ProcessingConfig{
			PageSize: 500,
			Workers:  4,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}
