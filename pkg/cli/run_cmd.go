package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"bq-guard/internal/app"
	"bq-guard/internal/domain"
	"bq-guard/internal/report"
	"bq-guard/internal/service/query"
)

// exportAuto is the value of a bare --export.
const exportAuto = "auto"

func newRunCmd(rt *runtime) *cobra.Command {
	var (
		src    sqlSource
		yes    bool
		export string
	)

	cmd := &cobra.Command{
		Use:   "run [FILE|-]",
		Short: "Review a query and execute it when the policy allows",
		Long: "Review a query like 'check' and execute it when no blocking finding exists.\n" +
			"Warnings require confirmation on a terminal, or --yes.\n" +
			"Use --export to stream every result row to a local CSV file or a gs:// URI.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sql, err := src.read(rt, args)
			if err != nil {
				return err
			}
			// stdin carried the query, so prompts have nothing to read.
			promptable := rt.isTerminal() && !(len(args) > 0 && args[0] == "-")

			a, err := rt.open(cmd.Context(), app.OpenOptions{})
			if err != nil {
				return err
			}
			defer rt.closeApp(a)

			rv, err := a.Query.Review(cmd.Context(), sql)
			if err != nil {
				return err
			}
			if rt.output != "json" {
				if err := report.RenderState(rt.errOut, rt.header(), rv.State); err != nil {
					return err
				}
			}
			if !rv.Allowed {
				_, err := a.Query.Execute(cmd.Context(), rv)
				return err
			}
			if rv.NeedsConfirmation && !yes {
				if !promptable {
					return domain.ErrValidation("query has warnings: re-run with --yes to execute")
				}
				ok, err := confirm(rt, fmt.Sprintf("Query has warnings (%s). Execute anyway?", rv.HumanBytes))
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("execution cancelled")
				}
			}

			exec, err := a.Query.Execute(cmd.Context(), rv)
			if err != nil {
				return err
			}

			var exported *query.ExportResult
			if cmd.Flags().Changed("export") {
				dest := export
				if dest == exportAuto {
					dest = ""
				}
				exported, err = a.Query.Export(cmd.Context(), exec, dest)
				if err != nil {
					return err
				}
			}
			return rt.printExecution(exec, exported)
		},
	}
	src.register(cmd.Flags())
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Execute without confirming warnings")
	cmd.Flags().StringVar(&export, "export", "", "Export all rows as CSV to PATH or gs://bucket/object (bare --export: <export_dir>/<ts>_<job>_result.csv)")
	cmd.Flags().Lookup("export").NoOptDefVal = exportAuto

	return cmd
}

type executionJSON struct {
	JobID    string              `json:"job_id"`
	State    report.StateJSON    `json:"state"`
	Columns  []string            `json:"columns"`
	Rows     [][]interface{}     `json:"rows"`
	Exported *query.ExportResult `json:"exported,omitempty"`
}

func (rt *runtime) printExecution(exec *query.Execution, exported *query.ExportResult) error {
	if rt.output == "json" {
		out := executionJSON{
			JobID:    exec.Job.ID,
			State:    report.NewStateJSON(rt.header(), exec.Review.State),
			Columns:  exec.Preview.Columns,
			Rows:     exec.Preview.Rows,
			Exported: exported,
		}
		if out.Columns == nil {
			out.Columns = []string{}
		}
		if out.Rows == nil {
			out.Rows = [][]interface{}{}
		}
		return report.PrintJSON(rt.out, out)
	}

	_, _ = fmt.Fprintf(rt.out, "Job: %s\n", exec.Job.ID)
	if err := report.ResultTable(rt.out, exec.Preview, query.FormatValue); err != nil {
		return err
	}
	if exported != nil {
		_, _ = fmt.Fprintf(rt.out, "Exported %d row(s) to %s\n", exported.Rows, exported.Destination)
	}
	return nil
}
