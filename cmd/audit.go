package cmd

import (
	"fmt"

	"rescue/dispatch/internal/dispatch"
	"rescue/dispatch/internal/server"

	"github.com/spf13/cobra"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Check that incidents, units, vehicles and suggestions agree with each other",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()

		store, pool, err := server.OpenStore(ctx, cfg, logger)
		if err != nil {
			return err
		}
		if pool != nil {
			defer pool.Close()
		}

		snap, err := store.Snapshot(ctx)
		if err != nil {
			return fmt.Errorf("snapshot: %w", err)
		}
		problems := dispatch.VerifyConsistency(snap)
		for _, p := range problems {
			logger.Error().Err(p).Msg("consistency violation")
		}
		if len(problems) > 0 {
			return fmt.Errorf("%d consistency violation(s)", len(problems))
		}
		fmt.Fprintf(cmd.OutOrStdout(), "ok: %d incidents, %d units, %d vehicles, %d suggestions\n",
			len(snap.Incidents), len(snap.Units), len(snap.Vehicles), len(snap.Suggestions))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(auditCmd)
}
