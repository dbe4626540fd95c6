package domain

// Severity classifies a finding. ERROR blocks execution, WARN is advisory,
// INFO is informational.
type Severity string

// Finding severities.
const (
	SeverityError Severity = "ERROR"
	SeverityWarn  Severity = "WARN"
	SeverityInfo  Severity = "INFO"
)

// Finding codes emitted by the policy checks and partition enforcement.
const (
	CodeBytesWarn              = "BYTES_WARN"
	CodeBytesBlock             = "BYTES_BLOCK"
	CodeSelectStar             = "SELECT_STAR"
	CodeCrossJoin              = "CROSS_JOIN"
	CodeSuspectJoin            = "SUSPECT_JOIN"
	CodeScript                 = "SCRIPT"
	CodeMultiStatement         = "MULTI_STATEMENT"
	CodeDDLDML                 = "DDL_DML"
	CodePartitionMissing       = "PARTITION_MISSING"
	CodePartitionTablesUnknown = "PARTITION_TABLES_UNKNOWN"
)

// Finding is one detected issue. Findings are values: checks create them and
// nothing mutates them afterwards.
type Finding struct {
	Severity Severity `json:"severity"`
	Code     string   `json:"code"`
	Message  string   `json:"message"`
	Evidence string   `json:"evidence,omitempty"` // matched token or key
	Table    string   `json:"table,omitempty"`    // fully qualified table name
}

// HasSeverity reports whether any finding has the given severity.
func HasSeverity(findings []Finding, sev Severity) bool {
	for _, f := range findings {
		if f.Severity == sev {
			return true
		}
	}
	return false
}

// CountBySeverity tallies findings per severity.
func CountBySeverity(findings []Finding) map[Severity]int {
	counts := make(map[Severity]int, 3)
	for _, f := range findings {
		counts[f.Severity]++
	}
	return counts
}
