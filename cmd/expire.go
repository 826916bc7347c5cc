package cmd

import (
	"errors"
	"fmt"
	"time"

	"rescue/dispatch/internal/dispatch"
	"rescue/dispatch/internal/server"

	"github.com/spf13/cobra"
)

var expireTTL time.Duration

var expireCmd = &cobra.Command{
	Use:   "expire",
	Short: "Reject pending suggestions older than the pending TTL",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := server.EngineOptions(cfg.Dispatch)
		if expireTTL > 0 {
			opts.PendingTTL = expireTTL
		}
		if opts.PendingTTL <= 0 {
			return errors.New("no TTL: set DISPATCH_PENDING_TTL or --ttl")
		}

		ctx, stop := signalContext()
		defer stop()

		store, pool, err := server.OpenStore(ctx, cfg, logger)
		if err != nil {
			return err
		}
		if pool != nil {
			defer pool.Close()
		}

		engine := dispatch.NewEngine(store, nil, nil, logger, opts)
		n, err := engine.ExpireStale(ctx, time.Now().UTC())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d suggestion(s) expired\n", n)
		return nil
	},
}

func init() {
	expireCmd.Flags().DurationVar(&expireTTL, "ttl", 0, "override DISPATCH_PENDING_TTL")
	rootCmd.AddCommand(expireCmd)
}
