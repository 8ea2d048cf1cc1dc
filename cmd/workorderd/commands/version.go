package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newVersionCommand(info buildInfo) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "workorderd %s\ncommit: %s\nbuilt: %s\n", info.Version, info.Commit, info.BuildDate)
		},
	}
}
