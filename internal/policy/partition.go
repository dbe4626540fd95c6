package policy

import (
	"fmt"
	"regexp"

	"bq-guard/internal/domain"
	"bq-guard/internal/sqlrewrite"
)

const ingestionEvidence = domain.PseudoColumnPartitionDate + "/" + domain.PseudoColumnPartitionTime

// EnforcePartitionFilters requires a filter on the partition key of every
// partitioned table the query touches. It returns blocking findings and one
// human-readable summary line per table, in input order.
//
// The filter check is lexical: the key only has to appear as a whole word
// somewhere outside comments and string literals. It does not prove that
// the key constrains a WHERE or ON clause.
func EnforcePartitionFilters(sql string, referencedTables []string, metadata map[string]*domain.TableDescriptor, exemptTables []string) ([]domain.Finding, []string) {
	if len(referencedTables) == 0 {
		return []domain.Finding{{
			Severity: domain.SeverityWarn,
			Code:     domain.CodePartitionTablesUnknown,
			Message:  "could not determine the referenced tables; partition filters were not checked",
		}}, nil
	}

	exempt := make(map[string]struct{}, len(exemptTables))
	for _, t := range exemptTables {
		exempt[t] = struct{}{}
	}

	text := sqlrewrite.StripCommentsAndStrings(sql)
	var findings []domain.Finding
	summary := make([]string, 0, len(referencedTables))

	for _, table := range referencedTables {
		if _, ok := exempt[table]; ok {
			summary = append(summary, table+": exempt")
			continue
		}
		desc := metadata[table]
		if !desc.Partitioned() || (!desc.IsIngestionTime && desc.PartitionKey == "") {
			summary = append(summary, table+": non-partition")
			continue
		}

		var ok bool
		evidence := desc.PartitionKey
		if desc.IsIngestionTime {
			evidence = ingestionEvidence
			ok = mentions(text, domain.PseudoColumnPartitionDate) || mentions(text, domain.PseudoColumnPartitionTime)
		} else {
			ok = mentions(text, desc.PartitionKey)
		}
		if ok {
			summary = append(summary, table+": ok")
			continue
		}
		findings = append(findings, domain.Finding{
			Severity: domain.SeverityError,
			Code:     domain.CodePartitionMissing,
			Message:  fmt.Sprintf("partition filter required on %s (%s)", table, evidence),
			Evidence: evidence,
			Table:    table,
		})
		summary = append(summary, fmt.Sprintf("%s: missing %s", table, evidence))
	}
	return findings, summary
}

// mentions reports whether ident appears as a whole word, ignoring case.
func mentions(text, ident string) bool {
	if ident == "" {
		return false
	}
	re := regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(ident) + `\b`)
	return re.MatchString(text)
}
