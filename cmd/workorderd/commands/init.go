package commands

import (
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/workorders/pkg/config"
)

// defaultConfigPath is written by init when --config is not given.
const defaultConfigPath = "./workorders.yaml"

func newInitCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default configuration and initialize the database",
		Long: `Write a configuration file with every default spelled out, create the
provisioning work directory and create the database schema.

An existing configuration file is left alone unless --force is given.`,
		Example: `  # Initialize in the current directory
  workorderd init

  # Initialize with custom config path
  workorderd init --config /etc/workorders/workorders.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			path := configPath
			if path == "" {
				path = defaultConfigPath
			}

			_, err := os.Stat(path)
			switch {
			case err == nil && !force:
				fmt.Fprintf(out, "✓ Config file already exists: %s\n", path)
			case err == nil || errors.Is(err, os.ErrNotExist):
				if err := config.Write(path, config.Default()); err != nil {
					return err
				}
				fmt.Fprintf(out, "✓ Created config file: %s\n", path)
			default:
				return fmt.Errorf("failed to inspect config file: %w", err)
			}

			cfg, err := config.Load(path)
			if err != nil {
				return err
			}

			log.Info().
				Str("config", path).
				Str("driver", cfg.Database.Driver).
				Msg("Initializing workspace")

			if err := os.MkdirAll(cfg.Provisioner.WorkDir, 0o755); err != nil {
				return fmt.Errorf("failed to create provisioner workdir: %w", err)
			}
			fmt.Fprintf(out, "✓ Provisioner workdir: %s\n", cfg.Provisioner.WorkDir)

			store, err := openStore(cmd.Context(), cfg.StoreConfig())
			if err != nil {
				return err
			}
			defer store.Close()
			fmt.Fprintf(out, "✓ Initialized %s database\n", cfg.Database.Driver)

			fmt.Fprintf(out, "\nNext steps:\n")
			fmt.Fprintf(out, "  1. Put the VM definitions in %s\n", cfg.Provisioner.WorkDir)
			fmt.Fprintf(out, "  2. Export VCENTER_URL, VCENTER_USER and VCENTER_PASSWORD\n")
			fmt.Fprintf(out, "  3. workorderd serve --config %s\n", path)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")

	return cmd
}
