package cmd

import (
	"fmt"

	"rescue/dispatch/internal/server"

	"github.com/spf13/cobra"
)

var seedPath string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE:  runServe,
}

func init() {
	for _, c := range []*cobra.Command{rootCmd, serveCmd} {
		c.Flags().StringVar(&seedPath, "seed", "", "JSON file with incidents, units, members and vehicles to load at startup")
	}
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	srv, err := server.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("init server: %w", err)
	}
	defer srv.Close()

	if seedPath != "" {
		counts, err := seedFile(ctx, srv.Store(), seedPath)
		if err != nil {
			return err
		}
		logger.Info().
			Int("incidents", counts.Incidents).
			Int("units", counts.Units).
			Int("members", counts.Members).
			Int("vehicles", counts.Vehicles).
			Msg("seed data loaded")
	}

	return srv.Run(ctx)
}
