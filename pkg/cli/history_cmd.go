package cli

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jszwec/csvutil"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"bq-guard/internal/app"
	"bq-guard/internal/domain"
	"bq-guard/internal/report"
)

func newHistoryCmd(rt *runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Browse the audit log of reviewed and executed queries",
	}

	cmd.AddCommand(newHistoryListCmd(rt))
	cmd.AddCommand(newHistoryExportCmd(rt))

	return cmd
}

// historyFilter holds the flags shared by list and export.
type historyFilter struct {
	status string
	since  time.Duration
	limit  int
}

func (f *historyFilter) register(fs *pflag.FlagSet, defaultLimit int) {
	fs.StringVar(&f.status, "status", "", "Only records with this status (DRYRUN_FAILED, BLOCKED, REVIEWED, EXECUTED, EXEC_FAILED, EXPORTED)")
	fs.DurationVar(&f.since, "since", 0, "Only records newer than this age, e.g. 24h")
	fs.IntVar(&f.limit, "limit", defaultLimit, "Maximum number of records (1-1000)")
}

func (f *historyFilter) build(now time.Time) (domain.AuditFilter, error) {
	filter := domain.AuditFilter{Limit: f.limit}
	if f.status != "" {
		st := domain.AuditStatus(strings.ToUpper(f.status))
		switch st {
		case domain.AuditDryRunFailed, domain.AuditBlocked, domain.AuditReviewed,
			domain.AuditExecuted, domain.AuditExecFailed, domain.AuditExported:
		default:
			return filter, domain.ErrValidation("unknown status %q", f.status)
		}
		filter.Status = &st
	}
	if f.since < 0 {
		return filter, domain.ErrValidation("--since must not be negative")
	}
	if f.since > 0 {
		t := now.Add(-f.since)
		filter.Since = &t
	}
	return filter, nil
}

// listHistory opens the app offline and returns the matching records.
func (rt *runtime) listHistory(ctx context.Context, f *historyFilter) ([]domain.AuditRecord, error) {
	filter, err := f.build(time.Now())
	if err != nil {
		return nil, err
	}
	a, err := rt.open(ctx, app.OpenOptions{Offline: true})
	if err != nil {
		return nil, err
	}
	defer rt.closeApp(a)

	if a.AuditRepo == nil {
		return nil, fmt.Errorf("audit log is unavailable")
	}
	return a.AuditRepo.List(ctx, filter)
}

func newHistoryListCmd(rt *runtime) *cobra.Command {
	var f historyFilter

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent audit records, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			records, err := rt.listHistory(cmd.Context(), &f)
			if err != nil {
				return err
			}
			if rt.output == "json" {
				if records == nil {
					records = []domain.AuditRecord{}
				}
				return report.PrintJSON(rt.out, records)
			}
			return report.HistoryTable(rt.out, records)
		},
	}
	f.register(cmd.Flags(), 20)

	return cmd
}

// historyRow is one exported CSV line.
type historyRow struct {
	ID               string `csv:"id"`
	Timestamp        string `csv:"ts"`
	Project          string `csv:"project"`
	Location         string `csv:"location"`
	Status           string `csv:"status"`
	DryRunBytes      *int64 `csv:"dry_run_bytes"`
	ReferencedTables string `csv:"referenced_tables"`
	Findings         string `csv:"findings"`
	JobID            string `csv:"job_id"`
	ExportedFiles    string `csv:"exported_files"`
	ErrorMessage     string `csv:"error_message"`
	SQL              string `csv:"sql_text"`
}

func toHistoryRow(r domain.AuditRecord) historyRow {
	codes := make([]string, len(r.Findings))
	for i, f := range r.Findings {
		codes[i] = string(f.Severity) + ":" + f.Code
	}
	return historyRow{
		ID:               r.ID,
		Timestamp:        r.Timestamp.UTC().Format(time.RFC3339),
		Project:          r.Project,
		Location:         r.Location,
		Status:           string(r.Status),
		DryRunBytes:      r.DryRunBytes,
		ReferencedTables: strings.Join(r.ReferencedTables, ";"),
		Findings:         strings.Join(codes, ";"),
		JobID:            r.JobID,
		ExportedFiles:    strings.Join(r.ExportedFiles, ";"),
		ErrorMessage:     r.ErrorMessage,
		SQL:              r.SQL,
	}
}

func newHistoryExportCmd(rt *runtime) *cobra.Command {
	var (
		f   historyFilter
		out string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export audit records to a CSV file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			records, err := rt.listHistory(cmd.Context(), &f)
			if err != nil {
				return err
			}
			rows := make([]historyRow, len(records))
			for i, r := range records {
				rows[i] = toHistoryRow(r)
			}
			data, err := csvutil.Marshal(rows)
			if err != nil {
				return fmt.Errorf("encode history: %w", err)
			}
			if err := os.WriteFile(out, data, 0o644); err != nil { //nolint:gosec // audit export is not secret
				return fmt.Errorf("write %s: %w", out, err)
			}
			if rt.output == "json" {
				return report.PrintJSON(rt.out, map[string]interface{}{"path": out, "records": len(rows)})
			}
			_, _ = fmt.Fprintf(rt.out, "Exported %d record(s) to %s\n", len(rows), out)
			return nil
		},
	}
	f.register(cmd.Flags(), 1000)
	cmd.Flags().StringVar(&out, "out", "", "Destination CSV file (required)")
	_ = cmd.MarkFlagRequired("out")

	return cmd
}
