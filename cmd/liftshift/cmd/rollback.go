package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/liftshift/liftshift/internal/report"
	"github.com/liftshift/liftshift/internal/rollback"
)

var (
	rollbackMode   string
	rollbackTables []string
	rollbackBackup bool
	rollbackYes    bool
)

var rollbackCmd = &cobra.Command{
	Use:   "rollback",
	Short: "Return the target plane to its pre-migration state",
	Long: `Rollback deletes migrated data from the target in reverse dependency
order. Modes:

  full         delete every row of every core table
  partial      delete only the tables given with --tables
  data-only    like full; records that schema objects are retained
  schema-only  delete nothing, emit one warning per table

Example:
  liftshift rollback --config liftshift.yaml --mode full --yes`,
	RunE: runRollback,
}

func init() {
	rollbackCmd.Flags().StringVar(&rollbackMode, "mode", "",
		"Rollback mode (full, partial, data-only, schema-only); defaults to config")
	rollbackCmd.Flags().StringSliceVar(&rollbackTables, "tables", nil,
		"Table subset for partial mode")
	rollbackCmd.Flags().BoolVar(&rollbackBackup, "backup", true,
		"Snapshot target tables before deleting")
	rollbackCmd.Flags().BoolVarP(&rollbackYes, "yes", "y", false,
		"Skip the confirmation prompt")

	rootCmd.AddCommand(rollbackCmd)
}

func runRollback(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Sync()

	mode := rollback.Mode(cfg.Rollback.Mode)
	if rollbackMode != "" {
		mode = rollback.Mode(rollbackMode)
	}
	tables := cfg.Rollback.Tables
	if len(rollbackTables) > 0 {
		tables = rollbackTables
	}
	backup := cfg.Rollback.CreateBackup
	if cmd.Flags().Changed("backup") {
		backup = rollbackBackup
	}

	if cfg.Rollback.Confirm && !rollbackYes {
		return fmt.Errorf("rollback in %s mode requires confirmation; rerun with --yes", mode)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	target, _, closeTarget, err := openPlane(ctx, &cfg.Target)
	if err != nil {
		return fmt.Errorf("connecting to target plane: %w", err)
	}
	defer closeTarget()

	rb, err := rollback.NewManager(target, cfg.WorkingDir, cfg.Processing.PageSize, log)
	if err != nil {
		return err
	}

	result, err := rb.Execute(ctx, rollback.Options{
		Mode:     mode,
		Tables:   tables,
		Snapshot: backup,
	})
	if err != nil {
		return fmt.Errorf("rollback failed: %w", err)
	}
	printRollbackReport(result)

	if !result.Success {
		return fmt.Errorf("rollback completed with failures")
	}
	return nil
}

func printRollbackReport(result *rollback.Report) {
	fmt.Fprint(outputWriter, report.Header("Rollback Result (%s)", result.Mode))
	fmt.Fprintln(outputWriter)

	var rows [][]string
	for _, t := range result.Tables {
		rows = append(rows, []string{
			t.Table,
			string(t.State),
			fmt.Sprintf("%d", t.RowsDeleted),
			fmt.Sprintf("%d", t.Remaining),
		})
	}
	fmt.Fprint(outputWriter, report.Table([]string{"Table", "State", "Deleted", "Remaining"}, rows))

	if result.SnapshotDir != "" {
		fmt.Fprintf(outputWriter, "\nSnapshots: %s\n", result.SnapshotDir)
	}
	for _, w := range result.Warnings {
		fmt.Fprintf(outputWriter, "WARNING: %s\n", w)
	}
	fmt.Fprintf(outputWriter, "\nDuration: %s  Success: %v\n", result.Duration, result.Success)
}
