package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/digitalsociety/egov-cli/internal/output"
	"github.com/digitalsociety/egov-cli/internal/version"
)

// NewVersionCmd creates the version command. It runs without credentials or
// config, so it writes through its own output writer.
func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
				return output.New(output.Options{
					Format: output.FormatJSON,
					Writer: cmd.OutOrStdout(),
				}).OK(version.Info(), output.WithSummary(version.Full()))
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), version.Full())
			return err
		},
	}
}
