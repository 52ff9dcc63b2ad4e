// Package cmd implements the liftshift CLI.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/liftshift/liftshift/internal/config"
	"github.com/liftshift/liftshift/internal/engine"
	"github.com/liftshift/liftshift/internal/graph"
	"github.com/liftshift/liftshift/internal/logger"
	"github.com/liftshift/liftshift/internal/plane"
)

// Version information (set via ldflags at build time)
var (
	Version = "0.0.1-dev"
	Commit  = "unknown"
)

// Exit codes of every command.
const (
	ExitOK              = 0
	ExitMigrationFailed = 1
	ExitCompoundFailure = 2
	ExitInvalidConfig   = 3
)

// CLI flags that override config file values
var (
	cfgFile    string
	envFile    string
	logLevel   string
	logFormat  string
	workingDir string
)

// outputWriter is used for printing output, can be overridden in tests
var outputWriter io.Writer = os.Stdout

// setOutputWriter sets the output writer (used for testing)
func setOutputWriter(w io.Writer) {
	outputWriter = w
}

// resetOutputWriter resets output to stdout (used for testing)
func resetOutputWriter() {
	outputWriter = os.Stdout
}

var rootCmd = &cobra.Command{
	Use:   "liftshift",
	Short: "Relational data plane migration control plane",
	Long: `liftshift migrates the LiftShift fitness dataset between data planes
with referential integrity, progressive traffic switching, and automatic
rollback on unhealthy metrics.

Commands:
  plan               Show the migration plan and row-count estimates
  migrate            Run the full phased migration
  verify             Check source/target consistency without writing
  rollback           Return the target plane to its pre-migration state
  emergency-recover  Last-resort target wipe with constraints disabled`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and maps errors onto the exit code contract.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	if errors.Is(err, engine.ErrCompoundFailure) {
		return ExitCompoundFailure
	}
	var verrs config.ValidationErrors
	if errors.As(err, &verrs) {
		return ExitInvalidConfig
	}
	var cfgErr *configError
	if errors.As(err, &cfgErr) {
		return ExitInvalidConfig
	}
	return ExitMigrationFailed
}

// configError wraps any failure before a valid configuration exists.
type configError struct{ err error }

func (e *configError) Error() string { return e.err.Error() }
func (e *configError) Unwrap() error { return e.err }

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "liftshift.yaml",
		"Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "",
		"Optional dotenv file loaded before config substitution")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"Override log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "",
		"Override log format (json, text)")
	rootCmd.PersistentFlags().StringVar(&workingDir, "working-dir", "",
		"Override working directory for status, snapshots, and reports")
}

// loadConfig loads and validates configuration, applying CLI overrides.
// Any failure here maps to exit code 3.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile, envFile)
	if err != nil {
		return nil, &configError{fmt.Errorf("failed to load config: %w", err)}
	}

	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if logFormat != "" {
		cfg.Logging.Format = logFormat
	}
	if workingDir != "" {
		cfg.WorkingDir = workingDir
	}

	if err := cfg.Validate(); err != nil {
		var verrs config.ValidationErrors
		if errors.As(err, &verrs) {
			return nil, verrs
		}
		return nil, &configError{err}
	}
	return cfg, nil
}

// newLogger builds the logger from the validated config.
func newLogger(cfg *config.Config) (*logger.Logger, error) {
	log, err := logger.New(&cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return log, nil
}

// openPlane connects one data plane. The mysql driver is wrapped in the
// resilient retry/breaker layer; raw is the unwrapped adapter for the
// destructive paths that need the full capability surface.
func openPlane(ctx context.Context, pc *config.PlaneConfig) (wrapped, raw plane.Plane, closer func(), err error) {
	switch pc.Driver {
	case "memory":
		mem := plane.NewMemoryPlane()
		for _, table := range graph.CoreLoadOrder() {
			mem.CreateTable(table)
		}
		return mem, mem, func() {}, nil
	case "mysql":
		sqlPlane, err := plane.Open(ctx, pc.DSN, time.Duration(pc.OpTimeoutMS)*time.Millisecond)
		if err != nil {
			return nil, nil, nil, err
		}
		return plane.NewResilient(sqlPlane, plane.DefaultRetryPolicy()), sqlPlane, func() { _ = sqlPlane.Close() }, nil
	default:
		return nil, nil, nil, fmt.Errorf("unknown plane driver %q", pc.Driver)
	}
}
