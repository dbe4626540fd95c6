// Package report renders estimation states, reviews, and listings for the
// terminal (plain text) and for machines (JSON).
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"bq-guard/internal/domain"
)

// Header identifies where an estimate was computed.
type Header struct {
	Project  string
	Location string
}

// Verdict summarizes a state in one word.
func Verdict(s *domain.EstimationState) string {
	switch {
	case s == nil:
		return "PENDING"
	case s.DryRunFailed():
		return "DRY-RUN FAILED"
	case s.Blocked():
		return "BLOCKED"
	case domain.HasSeverity(s.Findings, domain.SeverityWarn):
		return "WARN"
	default:
		return "OK"
	}
}

// RenderState writes the estimate panel for s.
func RenderState(w io.Writer, h Header, s *domain.EstimationState) error {
	var b strings.Builder
	fmt.Fprintf(&b, "Project:         %s\n", h.Project)
	fmt.Fprintf(&b, "Location:        %s\n", h.Location)
	if s == nil {
		b.WriteString("Estimated bytes: -\n\nNo estimate yet.\n")
		_, err := io.WriteString(w, b.String())
		return err
	}
	fmt.Fprintf(&b, "Estimated bytes: %s\n", EstimateText(s.BytesProcessed))
	if !s.UpdatedAt.IsZero() {
		fmt.Fprintf(&b, "Updated:         %s\n", s.UpdatedAt.UTC().Format(time.RFC3339))
	}
	if s.DryRunFailed() {
		fmt.Fprintf(&b, "Dry-run error:   %s\n", s.DryRunError)
	}

	b.WriteString("\nFindings:\n")
	if len(s.Findings) == 0 {
		b.WriteString("- none\n")
	}
	for _, f := range s.Findings {
		fmt.Fprintf(&b, "- %s\n", FindingLine(f))
	}

	b.WriteString("\nPartition check:\n")
	if len(s.PartitionSummary) == 0 {
		b.WriteString("- none\n")
	}
	for _, line := range s.PartitionSummary {
		fmt.Fprintf(&b, "- %s\n", line)
	}

	b.WriteString("\nReferenced tables:\n")
	if len(s.ReferencedTables) == 0 {
		b.WriteString("- none\n")
	}
	for _, t := range s.ReferencedTables {
		fmt.Fprintf(&b, "- %s\n", t)
	}

	fmt.Fprintf(&b, "\nResult: %s\n", Verdict(s))
	_, err := io.WriteString(w, b.String())
	return err
}

// FindingLine renders "ERROR CODE: message (evidence) [table]".
func FindingLine(f domain.Finding) string {
	line := fmt.Sprintf("%s %s: %s", f.Severity, f.Code, f.Message)
	if f.Evidence != "" {
		line += fmt.Sprintf(" (%s)", f.Evidence)
	}
	if f.Table != "" {
		line += fmt.Sprintf(" [%s]", f.Table)
	}
	return line
}

// StateJSON is the machine-readable form of a state.
type StateJSON struct {
	Project    string                  `json:"project"`
	Location   string                  `json:"location"`
	Verdict    string                  `json:"verdict"`
	HumanBytes string                  `json:"human_bytes,omitempty"`
	State      *domain.EstimationState `json:"state"`
}

// NewStateJSON builds the JSON document for s.
func NewStateJSON(h Header, s *domain.EstimationState) StateJSON {
	out := StateJSON{Project: h.Project, Location: h.Location, Verdict: Verdict(s), State: s}
	if s != nil && s.BytesProcessed != nil {
		out.HumanBytes = HumanBytes(*s.BytesProcessed)
	}
	return out
}

// PrintJSON writes v as indented JSON.
func PrintJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// PrintTable writes rows under headers as aligned columns.
func PrintTable(w io.Writer, headers []string, rows [][]string) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	if _, err := fmt.Fprintln(tw, strings.Join(headers, "\t")); err != nil {
		return err
	}
	for _, row := range rows {
		if _, err := fmt.Fprintln(tw, strings.Join(row, "\t")); err != nil {
			return err
		}
	}
	return tw.Flush()
}

// ResultTable renders a page of query results with cell formatter format.
func ResultTable(w io.Writer, page *domain.ResultPage, format func(interface{}) string) error {
	rows := make([][]string, len(page.Rows))
	for i, r := range page.Rows {
		cells := make([]string, len(r))
		for j, v := range r {
			cells[j] = strings.ReplaceAll(format(v), "\n", " ")
		}
		rows[i] = cells
	}
	return PrintTable(w, page.Columns, rows)
}
