package domain

import "time"

// DryRunRequest is the input of a cost-estimation call.
type DryRunRequest struct {
	SQL      string
	Location string
	Labels   map[string]string
}

// DryRunResult is what the engine reports without executing the query.
// BytesProcessed is nil when the engine did not report an estimate.
type DryRunResult struct {
	BytesProcessed   *int64
	ReferencedTables []string
}

// EstimationState is the published outcome of one pipeline run for a SQL
// buffer. It is replaced wholesale on every successful run and must be
// treated as read-only by consumers.
type EstimationState struct {
	Revision         int64     `json:"revision"`
	SQL              string    `json:"sql"`
	BytesProcessed   *int64    `json:"bytes_processed"`
	ReferencedTables []string  `json:"referenced_tables"`
	Findings         []Finding `json:"findings"`
	PartitionSummary []string  `json:"partition_summary"`
	DryRunError      string    `json:"dry_run_error,omitempty"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// DryRunFailed reports whether the state records a failed dry-run.
func (s *EstimationState) DryRunFailed() bool {
	return s != nil && s.DryRunError != ""
}

// Blocked reports whether the state holds at least one ERROR finding.
func (s *EstimationState) Blocked() bool {
	return s != nil && HasSeverity(s.Findings, SeverityError)
}
