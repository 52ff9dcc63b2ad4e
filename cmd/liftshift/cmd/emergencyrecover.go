package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/liftshift/liftshift/internal/rollback"
)

var emergencyYes bool

var emergencyRecoverCmd = &cobra.Command{
	Use:   "emergency-recover",
	Short: "Last-resort target wipe with constraints disabled",
	Long: `Emergency-recover destroys ALL data on the target plane: foreign key
enforcement is disabled, every core table is truncated (reserved sentinel
rows included), and enforcement is restored. Use only after a failed
rollback left the target in an inconsistent state.

This command refuses to run without --yes.`,
	RunE: runEmergencyRecover,
}

func init() {
	emergencyRecoverCmd.Flags().BoolVarP(&emergencyYes, "yes", "y", false,
		"Confirm destruction of all target data (required)")

	rootCmd.AddCommand(emergencyRecoverCmd)
}

func runEmergencyRecover(cmd *cobra.Command, args []string) error {
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

	// Recovery needs the raw adapter: the resilient wrapper does not expose
	// the destructive surface.
	_, raw, closeTarget, err := openPlane(ctx, &cfg.Target)
	if err != nil {
		return fmt.Errorf("connecting to target plane: %w", err)
	}
	defer closeTarget()

	rb, err := rollback.NewManager(raw, cfg.WorkingDir, cfg.Processing.PageSize, log)
	if err != nil {
		return err
	}

	result, err := rb.EmergencyRecover(ctx, emergencyYes)
	if err != nil {
		return fmt.Errorf("emergency recovery failed: %w", err)
	}
	printRollbackReport(result)

	if !result.Success {
		return fmt.Errorf("emergency recovery completed with failures")
	}
	return nil
}
