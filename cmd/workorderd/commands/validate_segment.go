package commands

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openfroyo/workorders/pkg/segments"
)

// errInvalidSegment makes the command exit non-zero after the report.
var errInvalidSegment = errors.New("segment configuration is invalid")

func newValidateSegmentCommand() *cobra.Command {
	var (
		cfg        segments.Config
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "validate-segment",
		Short: "Check a network segment definition offline",
		Long: `Run the same checks an execute call runs before creating a segment,
without touching the database or the network controller.

Errors make the definition unusable; warnings are informational.`,
		Example: `  workorderd validate-segment --vni-name apollo-app --cidr 10.20.0.0/24 \
    --gateway 10.20.0.1 --t0-gw t0-edge --t1-gw t1-apollo --description "apollo app tier"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			res := segments.ValidateConfig(cfg)
			out := cmd.OutOrStdout()

			if jsonOutput {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(res); err != nil {
					return fmt.Errorf("failed to encode result: %w", err)
				}
			} else {
				for _, e := range res.Errors {
					fmt.Fprintf(out, "✗ %s\n", e)
				}
				for _, w := range res.Warnings {
					fmt.Fprintf(out, "! %s\n", w)
				}
				if res.Valid {
					fmt.Fprintf(out, "✓ Segment '%s' is valid\n", cfg.VNIName)
				}
			}

			if !res.Valid {
				return errInvalidSegment
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&cfg.VNIName, "vni-name", "", "segment name")
	f.StringVar(&cfg.CIDR, "cidr", "", "segment prefix, e.g. 10.20.0.0/24")
	f.StringVar(&cfg.Gateway, "gateway", "", "gateway address")
	f.StringVar(&cfg.T0Gateway, "t0-gw", "", "tier-0 gateway")
	f.StringVar(&cfg.T1Gateway, "t1-gw", "", "tier-1 gateway")
	f.StringVar(&cfg.Description, "description", "", "segment description")
	f.StringVar(&cfg.FirstIP, "first-ip", "", "first address of the usable range")
	f.StringVar(&cfg.LastIP, "last-ip", "", "last address of the usable range")
	f.BoolVar(&jsonOutput, "json", false, "output in JSON format")

	return cmd
}
