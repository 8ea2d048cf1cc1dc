package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openfroyo/workorders/pkg/config"
)

// Global flags
var configPath string

// buildInfo is reported by the version command and the /version endpoint.
type buildInfo struct {
	Version   string
	Commit    string
	BuildDate string
}

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	return newRootCommand(buildInfo{version, commit, buildDate}).ExecuteContext(ctx)
}

func newRootCommand(info buildInfo) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "workorderd",
		Short: "vSphere workorder lifecycle service",
		Long: `workorderd accepts VM workorders and network segment orders, moves them
through approval and executes approved orders against the virtualization
platform.

Lifecycle:
  pending -> approved -> executing -> completed | failed
  approve and reject are accepted from any status`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", info.Version, info.Commit, info.BuildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")

	rootCmd.AddCommand(newServeCommand(info))
	rootCmd.AddCommand(newMigrateCommand())
	rootCmd.AddCommand(newInitCommand())
	rootCmd.AddCommand(newValidateSegmentCommand())
	rootCmd.AddCommand(newVersionCommand(info))

	return rootCmd
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}
