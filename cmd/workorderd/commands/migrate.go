package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		Example: `  # Migrate the database named by DATABASE_URL
  DATABASE_URL=postgres://workorders@db/workorders workorderd migrate`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			log.Info().
				Str("driver", cfg.Database.Driver).
				Msg("Applying migrations")

			store, err := openStore(cmd.Context(), cfg.StoreConfig())
			if err != nil {
				return err
			}
			defer store.Close()

			fmt.Fprintf(cmd.OutOrStdout(), "Database is up to date (%s)\n", cfg.Database.Driver)
			return nil
		},
	}
}
