package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/liftshift/liftshift/internal/graph"
	"github.com/liftshift/liftshift/internal/plane"
	"github.com/liftshift/liftshift/internal/report"
	"github.com/liftshift/liftshift/internal/schema"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Show the migration plan and row-count estimates",
	Long: `Plan connects to the source plane and displays the migration order,
per-table row counts, and the configured switching schedule. It performs
reads only.

Example:
  liftshift plan --config liftshift.yaml`,
	RunE: runPlan,
}

func init() {
	rootCmd.AddCommand(planCmd)
}

func runPlan(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	source, _, closeSource, err := openPlane(ctx, &cfg.Source)
	if err != nil {
		return fmt.Errorf("connecting to source plane: %w", err)
	}
	defer closeSource()

	fmt.Fprint(outputWriter, report.Header("Migration Plan"))
	fmt.Fprintln(outputWriter)

	fmt.Fprint(outputWriter, report.Section("Load Order (parent tables first)"))
	var rows [][]string
	var total int64
	for i, table := range graph.CoreLoadOrder() {
		count, err := source.Count(ctx, table)
		if err != nil {
			if !plane.IsKind(err, plane.KindTableNotFound) {
				return fmt.Errorf("counting %s on source: %w", table, err)
			}
			count = 0
		}
		total += count

		refs := "-"
		if tbl, ok := schema.Lookup(table); ok && len(tbl.References) > 0 {
			refs = ""
			for j, ref := range tbl.References {
				if j > 0 {
					refs += ", "
				}
				refs += fmt.Sprintf("%s -> %s", ref.Field, ref.Target)
			}
		}
		rows = append(rows, []string{
			fmt.Sprintf("[%d]", i+1),
			table,
			fmt.Sprintf("%d", count),
			refs,
		})
	}
	fmt.Fprint(outputWriter, report.Table([]string{"#", "Table", "Rows", "References"}, rows))
	fmt.Fprintln(outputWriter)

	fmt.Fprint(outputWriter, report.Section("Rollback Order (child tables first)"))
	for i, table := range graph.CoreRollbackOrder() {
		fmt.Fprintf(outputWriter, "  [%d] %s\n", i+1, table)
	}
	fmt.Fprintln(outputWriter)

	fmt.Fprint(outputWriter, report.Section("Configuration"))
	fmt.Fprintf(outputWriter, "  Strategy:          %s\n", cfg.Migration.Strategy)
	fmt.Fprintf(outputWriter, "  Traffic Switching: %s\n", cfg.Migration.TrafficSwitching)
	if cfg.Migration.TrafficSwitching == "progressive" {
		fmt.Fprintf(outputWriter, "  Progressive Steps: %v\n", cfg.Migration.ProgressiveSteps)
	}
	fmt.Fprintf(outputWriter, "  Orphan Policy:     %s\n", cfg.Migration.OrphanPolicy)
	fmt.Fprintf(outputWriter, "  Incremental Sync:  %v\n", cfg.Migration.EnableIncrementalSync)
	fmt.Fprintf(outputWriter, "  Page Size:         %d\n", cfg.Processing.PageSize)
	if cfg.Migration.Strategy == "maintenance-window" {
		fmt.Fprintf(outputWriter, "  Downtime Window:   %s\n",
			time.Duration(cfg.Migration.DowntimeWindowMS)*time.Millisecond)
	}
	fmt.Fprintln(outputWriter)
	fmt.Fprintf(outputWriter, "Total rows to migrate: %d\n", total)

	return nil
}
