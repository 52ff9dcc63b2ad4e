package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/liftshift/liftshift/internal/engine"
	"github.com/liftshift/liftshift/internal/monitor"
	"github.com/liftshift/liftshift/internal/report"
	"github.com/liftshift/liftshift/internal/rollback"
	"github.com/liftshift/liftshift/internal/tracker"
)

var (
	migrateStrategy  string
	migrateSwitching string
	migratePolicy    string
	migrateSync      bool
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run the full phased migration",
	Long: `Migrate executes all seven phases in order: preparation, initial
migration, incremental sync, deployment prep, traffic switching,
verification, and cleanup. Unhealthy metrics during switching trigger an
automatic full rollback.

Example:
  liftshift migrate --config liftshift.yaml`,
	RunE: runMigrate,
}

func init() {
	migrateCmd.Flags().StringVar(&migrateStrategy, "strategy", "",
		"Override strategy (blue-green, rolling, maintenance-window)")
	migrateCmd.Flags().StringVar(&migrateSwitching, "traffic-switching", "",
		"Override switching mode (immediate, progressive)")
	migrateCmd.Flags().StringVar(&migratePolicy, "orphan-policy", "",
		"Override orphan policy (warn, remove, create)")
	migrateCmd.Flags().BoolVar(&migrateSync, "incremental-sync", true,
		"Enable incremental sync between initial migration and switching")

	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if migrateStrategy != "" {
		cfg.Migration.Strategy = migrateStrategy
	}
	if migrateSwitching != "" {
		cfg.Migration.TrafficSwitching = migrateSwitching
	}
	if migratePolicy != "" {
		cfg.Migration.OrphanPolicy = migratePolicy
	}
	if cmd.Flags().Changed("incremental-sync") {
		cfg.Migration.EnableIncrementalSync = migrateSync
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	source, _, closeSource, err := openPlane(ctx, &cfg.Source)
	if err != nil {
		return fmt.Errorf("connecting to source plane: %w", err)
	}
	defer closeSource()

	target, _, closeTarget, err := openPlane(ctx, &cfg.Target)
	if err != nil {
		return fmt.Errorf("connecting to target plane: %w", err)
	}
	defer closeTarget()

	track, err := tracker.Open(cfg.WorkingDir, log)
	if err != nil {
		return fmt.Errorf("opening status tracker: %w", err)
	}
	defer track.Close()

	rb, err := rollback.NewManager(target, cfg.WorkingDir, cfg.Processing.PageSize, log)
	if err != nil {
		return err
	}

	mon := monitor.New(
		monitor.NewPlaneSource(source, target),
		monitor.Thresholds{
			ErrorRatePercent:   cfg.Migration.AutoRollback.ErrorRatePercent,
			ResponseTimeMS:     cfg.Migration.AutoRollback.ResponseTimeMS,
			ConsistencyPercent: cfg.Migration.AutoRollback.ConsistencyPercent,
		},
		0, log,
	)

	rep, err := report.NewWriter(cfg.WorkingDir, log)
	if err != nil {
		return err
	}

	eng, err := engine.New(cfg, source, target, nil, track, mon, rb, rep, log)
	if err != nil {
		return err
	}

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Warn("Received shutdown signal - stopping after in-flight work...")
		cancel()
	}()

	runErr := eng.Run(ctx)
	printMigrationOutcome(track, runErr)

	if runErr != nil {
		return runErr
	}
	return nil
}

func printMigrationOutcome(track *tracker.Tracker, runErr error) {
	state := track.Snapshot()

	fmt.Fprintln(outputWriter)
	fmt.Fprint(outputWriter, report.Header("Migration Result"))
	fmt.Fprintf(outputWriter, "Status:  %s\n", report.StatusText(state.Overall))
	fmt.Fprintf(outputWriter, "Traffic: %d%%\n", state.TrafficPercent)
	fmt.Fprintln(outputWriter)

	var rows [][]string
	for _, phase := range tracker.PhaseOrder {
		rec := state.Phases[phase]
		if rec == nil {
			continue
		}
		rows = append(rows, []string{
			string(phase),
			report.PhaseStatusText(rec.Status),
			fmt.Sprintf("%d", len(rec.Errors)),
			fmt.Sprintf("%d", len(rec.Warnings)),
		})
	}
	fmt.Fprint(outputWriter, report.Table([]string{"Phase", "Status", "Errors", "Warnings"}, rows))

	if runErr != nil {
		fmt.Fprintln(outputWriter)
		switch {
		case errors.Is(runErr, engine.ErrCompoundFailure):
			fmt.Fprintln(outputWriter, "Migration failed AND rollback failed; manual intervention required.")
		case state.Overall == tracker.OverallRolledBack:
			fmt.Fprintln(outputWriter, "Migration failed; rollback completed, source remains authoritative.")
		default:
			fmt.Fprintf(outputWriter, "Migration failed: %v\n", runErr)
		}
	}
}
