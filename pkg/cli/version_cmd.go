package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"bq-guard/internal/report"
)

func newVersionCmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the CLI version",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if rt.output == "json" {
				return report.PrintJSON(rt.out, map[string]string{
					"version": version,
					"commit":  commit,
				})
			}
			_, _ = fmt.Fprintf(rt.out, "bqguard version %s (commit: %s)\n", version, commit)
			return nil
		},
	}
}
