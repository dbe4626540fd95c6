package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"bq-guard/internal/app"
	"bq-guard/internal/domain"
	"bq-guard/internal/report"
	"bq-guard/internal/service/query"
)

func newCheckCmd(rt *runtime) *cobra.Command {
	var src sqlSource

	cmd := &cobra.Command{
		Use:   "check [FILE|-]",
		Short: "Dry-run a query and report its cost and policy findings",
		Long: "Dry-run a query, check it against the configured limits and policies, and print the result.\n" +
			"Exits non-zero when the query is blocked or the dry-run fails.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sql, err := src.read(rt, args)
			if err != nil {
				return err
			}
			a, err := rt.open(cmd.Context(), app.OpenOptions{})
			if err != nil {
				return err
			}
			defer rt.closeApp(a)

			rv, err := a.Query.Review(cmd.Context(), sql)
			if err != nil {
				return err
			}
			if err := rt.printState(rv.State); err != nil {
				return err
			}
			return reviewError(rv)
		},
	}
	src.register(cmd.Flags())

	return cmd
}

func (rt *runtime) printState(state *domain.EstimationState) error {
	if rt.output == "json" {
		return report.PrintJSON(rt.out, report.NewStateJSON(rt.header(), state))
	}
	return report.RenderState(rt.out, rt.header(), state)
}

// reviewError turns a blocking review into the command's exit error.
func reviewError(rv *query.Review) error {
	switch {
	case rv.State.DryRunFailed():
		return fmt.Errorf("dry-run failed: %s", rv.State.DryRunError)
	case rv.Blocked:
		var blocking []domain.Finding
		for _, f := range rv.State.Findings {
			if f.Severity == domain.SeverityError {
				blocking = append(blocking, f)
			}
		}
		return domain.ErrPolicyViolation(blocking, "query blocked by %d finding(s)", len(blocking))
	}
	return nil
}
