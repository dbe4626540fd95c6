package domain

import "time"

// AuditStatus is the outcome recorded for a guarded action.
type AuditStatus string

// Audit statuses.
const (
	AuditDryRunFailed AuditStatus = "DRYRUN_FAILED"
	AuditBlocked      AuditStatus = "BLOCKED"
	AuditReviewed     AuditStatus = "REVIEWED"
	AuditExecuted     AuditStatus = "EXECUTED"
	AuditExecFailed   AuditStatus = "EXEC_FAILED"
	AuditExported     AuditStatus = "EXPORTED"
)

// AuditRecord is one append-only history entry.
type AuditRecord struct {
	ID               string
	Timestamp        time.Time
	Project          string
	Location         string
	SQL              string
	Status           AuditStatus
	DryRunBytes      *int64
	ReferencedTables []string
	Findings         []Finding
	JobID            string
	ExportedFiles    []string
	ErrorMessage     string
}

// AuditFilter holds filter parameters for querying the audit log.
type AuditFilter struct {
	Status *AuditStatus
	Since  *time.Time
	Limit  int
}

// EffectiveLimit returns the page size, clamped to [1, 1000].
func (f AuditFilter) EffectiveLimit() int {
	if f.Limit <= 0 {
		return 100
	}
	if f.Limit > 1000 {
		return 1000
	}
	return f.Limit
}
