package config

import (
	"fmt"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("validation failed:\n  - %s", strings.Join(msgs, "\n  - "))
}

var (
	validStrategies = map[string]bool{"blue-green": true, "rolling": true, "maintenance-window": true}
	validSwitching  = map[string]bool{"immediate": true, "progressive": true}
	validPolicies   = map[string]bool{"warn": true, "remove": true, "create": true}
	validModes      = map[string]bool{"full": true, "partial": true, "data-only": true, "schema-only": true}
)

// Validate checks the configuration for required fields and valid values.
func (c *Config) Validate() error {
	var errors ValidationErrors

	errors = append(errors, c.validatePlane("source", &c.Source)...)
	errors = append(errors, c.validatePlane("target", &c.Target)...)

	if c.WorkingDir == "" {
		errors = append(errors, ValidationError{
			Field:   "working_dir",
			Message: "working directory is required",
		})
	}

	errors = append(errors, c.validateMigration()...)
	errors = append(errors, c.validateRollback()...)
	errors = append(errors, c.validateProcessing()...)
	errors = append(errors, c.validateLogging()...)

	if len(errors) > 0 {
		return errors
	}
	return nil
}

func (c *Config) validatePlane(prefix string, p *PlaneConfig) ValidationErrors {
	var errors ValidationErrors

	switch p.Driver {
	case "mysql":
		if p.DSN == "" {
			errors = append(errors, ValidationError{
				Field:   prefix + ".dsn",
				Message: "dsn is required for the mysql driver",
			})
		}
	case "memory":
		// no connection settings needed
	default:
		errors = append(errors, ValidationError{
			Field:   prefix + ".driver",
			Message: fmt.Sprintf("unknown driver %q (must be mysql or memory)", p.Driver),
		})
	}

	if p.OpTimeoutMS < 0 {
		errors = append(errors, ValidationError{
			Field:   prefix + ".op_timeout_ms",
			Message: "must not be negative",
		})
	}
	return errors
}

func (c *Config) validateMigration() ValidationErrors {
	var errors ValidationErrors
	m := &c.Migration

	if !validStrategies[m.Strategy] {
		errors = append(errors, ValidationError{
			Field:   "migration.strategy",
			Message: fmt.Sprintf("unknown strategy %q", m.Strategy),
		})
	}
	if !validSwitching[m.TrafficSwitching] {
		errors = append(errors, ValidationError{
			Field:   "migration.traffic_switching",
			Message: fmt.Sprintf("unknown switching mode %q", m.TrafficSwitching),
		})
	}
	if !validPolicies[m.OrphanPolicy] {
		errors = append(errors, ValidationError{
			Field:   "migration.orphan_policy",
			Message: fmt.Sprintf("unknown orphan policy %q", m.OrphanPolicy),
		})
	}

	if m.TrafficSwitching == "progressive" {
		if len(m.ProgressiveSteps) == 0 {
			errors = append(errors, ValidationError{
				Field:   "migration.progressive_steps",
				Message: "at least one step is required for progressive switching",
			})
		} else {
			prev := 0
			for i, step := range m.ProgressiveSteps {
				if step <= prev || step > 100 {
					errors = append(errors, ValidationError{
						Field:   "migration.progressive_steps",
						Message: fmt.Sprintf("steps must be strictly increasing in 1..100 (step %d = %d)", i, step),
					})
					break
				}
				prev = step
			}
			if last := m.ProgressiveSteps[len(m.ProgressiveSteps)-1]; last != 100 {
				errors = append(errors, ValidationError{
					Field:   "migration.progressive_steps",
					Message: fmt.Sprintf("last step must be 100, got %d", last),
				})
			}
		}
	}

	if m.Strategy == "maintenance-window" && m.DowntimeWindowMS <= 0 {
		errors = append(errors, ValidationError{
			Field:   "migration.downtime_window_ms",
			Message: "a positive downtime window is required under maintenance-window",
		})
	}
	if m.EnableIncrementalSync && m.SyncIntervalMS <= 0 {
		errors = append(errors, ValidationError{
			Field:   "migration.sync_interval_ms",
			Message: "must be positive when incremental sync is enabled",
		})
	}
	if m.StepObservationMS < 0 {
		errors = append(errors, ValidationError{
			Field:   "migration.step_observation_ms",
			Message: "must not be negative",
		})
	}
	if m.RecoveryWindowMS < 0 {
		errors = append(errors, ValidationError{
			Field:   "migration.recovery_window_ms",
			Message: "must not be negative",
		})
	}

	t := &m.AutoRollback
	if t.ErrorRatePercent < 0 || t.ErrorRatePercent > 100 {
		errors = append(errors, ValidationError{
			Field:   "migration.auto_rollback_thresholds.error_rate",
			Message: "must be within 0..100",
		})
	}
	if t.ResponseTimeMS <= 0 {
		errors = append(errors, ValidationError{
			Field:   "migration.auto_rollback_thresholds.response_time_ms",
			Message: "must be positive",
		})
	}
	if t.ConsistencyPercent <= 0 || t.ConsistencyPercent > 100 {
		errors = append(errors, ValidationError{
			Field:   "migration.auto_rollback_thresholds.consistency_percent",
			Message: "must be within 1..100",
		})
	}
	return errors
}

func (c *Config) validateRollback() ValidationErrors {
	var errors ValidationErrors

	if !validModes[c.Rollback.Mode] {
		errors = append(errors, ValidationError{
			Field:   "rollback.mode",
			Message: fmt.Sprintf("unknown rollback mode %q", c.Rollback.Mode),
		})
	}
	if c.Rollback.Mode == "partial" && len(c.Rollback.Tables) == 0 {
		errors = append(errors, ValidationError{
			Field:   "rollback.tables",
			Message: "partial rollback requires an explicit table subset",
		})
	}
	return errors
}

func (c *Config) validateProcessing() ValidationErrors {
	var errors ValidationErrors

	if c.Processing.PageSize <= 0 {
		errors = append(errors, ValidationError{
			Field:   "processing.page_size",
			Message: "must be positive",
		})
	}
	if c.Processing.Workers <= 0 {
		errors = append(errors, ValidationError{
			Field:   "processing.workers",
			Message: "must be positive",
		})
	}
	return errors
}

func (c *Config) validateLogging() ValidationErrors {
	var errors ValidationErrors

	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("unknown level %q", c.Logging.Level),
		})
	}
	switch c.Logging.Format {
	case "", "json", "text":
	default:
		errors = append(errors, ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("unknown format %q", c.Logging.Format),
		})
	}
	return errors
}
