package cli

import (
	"encoding/json"
	"fmt"

	"github.com/soyeahso/closer/internal/version"
	"github.com/spf13/cobra"
)

func newVersionCmd() *cobra.Command {
	var (
		asJSON bool
		short  bool
	)
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			b := version.Get()
			out := cmd.OutOrStdout()
			switch {
			case asJSON:
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(b)
			case short:
				fmt.Fprintln(out, b.Version)
			default:
				fmt.Fprintln(out, b)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	cmd.Flags().BoolVar(&short, "short", false, "print only the version")
	cmd.MarkFlagsMutuallyExclusive("json", "short")
	return cmd
}
