package cmd

import (
	"fmt"

	"rescue/dispatch/internal/database"

	migrate "github.com/rubenv/sql-migrate"
	"github.com/spf13/cobra"
)

var migrateSteps int

var migrateCmd = &cobra.Command{
	Use:       "migrate [up|down]",
	Short:     "Apply or revert database migrations",
	Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"up", "down"},
	RunE: func(cmd *cobra.Command, args []string) error {
		direction := migrate.Up
		if len(args) == 1 && args[0] == "down" {
			direction = migrate.Down
			if migrateSteps == 0 {
				migrateSteps = 1
			}
		}

		ctx, stop := signalContext()
		defer stop()

		n, err := database.Migrate(ctx, cfg.Database.URL, cfg.Database.MigrationsDir, direction, migrateSteps, logger)
		if err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d migration(s) applied\n", n)
		return nil
	},
}

func init() {
	migrateCmd.Flags().IntVar(&migrateSteps, "steps", 0, "maximum number of migrations to run (0 = all; down defaults to 1)")
	rootCmd.AddCommand(migrateCmd)
}
