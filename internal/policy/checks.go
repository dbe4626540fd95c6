package policy

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"bq-guard/internal/domain"
	"bq-guard/internal/sqlrewrite"
)

var (
	selectStarRe   = regexp.MustCompile(`(?i)\bSELECT\s+(?:(?:DISTINCT|ALL)\s+)?\*`)
	aliasStarRe    = regexp.MustCompile(`\b\w+\.\*`)
	listStarRe     = regexp.MustCompile(`,\s*\*`)
	crossJoinRe    = regexp.MustCompile(`(?i)\bCROSS\s+JOIN\b`)
	joinRe         = regexp.MustCompile(`(?i)\bJOIN\b`)
	onOrUsingRe    = regexp.MustCompile(`(?i)\b(?:ON|USING)\b`)
	scriptTokensRe = regexp.MustCompile(`(?i)\b(?:BEGIN|END|DECLARE)\b`)
	statementSplit = regexp.MustCompile(`;\s*`)
)

var ddlDMLKeywords = map[string]bool{
	"INSERT":   true,
	"UPDATE":   true,
	"DELETE":   true,
	"MERGE":    true,
	"CREATE":   true,
	"DROP":     true,
	"ALTER":    true,
	"TRUNCATE": true,
}

// CheckBytes compares the estimate against the thresholds. At most one
// finding is returned: ERROR at or above block, otherwise WARN at or above
// warn. A nil estimate yields nothing.
func CheckBytes(bytesProcessed *int64, warn, block int64) []domain.Finding {
	if bytesProcessed == nil {
		return nil
	}
	b := *bytesProcessed
	switch {
	case b >= block:
		return []domain.Finding{{
			Severity: domain.SeverityError,
			Code:     domain.CodeBytesBlock,
			Message:  fmt.Sprintf("estimated bytes processed exceed the block threshold: %d bytes (block at %d)", b, block),
			Evidence: strconv.FormatInt(b, 10),
		}}
	case b >= warn:
		return []domain.Finding{{
			Severity: domain.SeverityWarn,
			Code:     domain.CodeBytesWarn,
			Message:  fmt.Sprintf("estimated bytes processed exceed the warning threshold: %d bytes (warn at %d)", b, warn),
			Evidence: strconv.FormatInt(b, 10),
		}}
	}
	return nil
}

// CheckSelectStar flags a bare SELECT * or an alias.* projection.
func CheckSelectStar(sql string) []domain.Finding {
	return selectStar(sqlrewrite.Sanitize(sql))
}

// CheckCrossJoin flags an explicit CROSS JOIN.
func CheckCrossJoin(sql string) []domain.Finding {
	return crossJoin(sqlrewrite.Sanitize(sql))
}

// CheckSuspectJoin flags a JOIN when the statement has no ON or USING at
// all. It does not pair conditions with joins: a query where only one of
// several joins has a condition passes.
func CheckSuspectJoin(sql string) []domain.Finding {
	return suspectJoin(sqlrewrite.Sanitize(sql))
}

// CheckMultiStatement flags procedural script syntax or more than one
// statement. block selects ERROR over WARN.
func CheckMultiStatement(sql string, block bool) []domain.Finding {
	return multiStatement(sqlrewrite.Sanitize(sql), block)
}

// CheckDDLDML flags statements whose leading keyword modifies data or schema.
func CheckDDLDML(sql string) []domain.Finding {
	return ddlDML(sqlrewrite.Sanitize(sql))
}

func selectStar(sanitized string) []domain.Finding {
	m := selectStarRe.FindString(sanitized)
	if m == "" {
		m = aliasStarRe.FindString(sanitized)
	}
	if m == "" {
		m = listStarRe.FindString(sanitized)
	}
	if m == "" {
		return nil
	}
	return []domain.Finding{{
		Severity: domain.SeverityWarn,
		Code:     domain.CodeSelectStar,
		Message:  "SELECT * detected; list the columns you need to reduce bytes scanned",
		Evidence: m,
	}}
}

func crossJoin(sanitized string) []domain.Finding {
	m := crossJoinRe.FindString(sanitized)
	if m == "" {
		return nil
	}
	return []domain.Finding{{
		Severity: domain.SeverityWarn,
		Code:     domain.CodeCrossJoin,
		Message:  "CROSS JOIN detected",
		Evidence: m,
	}}
}

func suspectJoin(sanitized string) []domain.Finding {
	if !joinRe.MatchString(sanitized) || onOrUsingRe.MatchString(sanitized) {
		return nil
	}
	return []domain.Finding{{
		Severity: domain.SeverityWarn,
		Code:     domain.CodeSuspectJoin,
		Message:  "JOIN without a join condition (no ON/USING found)",
		Evidence: "JOIN",
	}}
}

func multiStatement(sanitized string, block bool) []domain.Finding {
	sev := domain.SeverityWarn
	if block {
		sev = domain.SeverityError
	}
	text := strings.TrimSpace(sanitized)
	if m := scriptTokensRe.FindString(text); m != "" {
		return []domain.Finding{{
			Severity: sev,
			Code:     domain.CodeScript,
			Message:  "procedural script syntax detected",
			Evidence: strings.ToUpper(m),
		}}
	}
	statements := 0
	for _, s := range statementSplit.Split(text, -1) {
		if strings.TrimSpace(s) != "" {
			statements++
		}
	}
	if statements <= 1 {
		return nil
	}
	return []domain.Finding{{
		Severity: sev,
		Code:     domain.CodeMultiStatement,
		Message:  fmt.Sprintf("multiple statements detected (%d)", statements),
	}}
}

func ddlDML(sanitized string) []domain.Finding {
	kw := sqlrewrite.LeadingKeyword(sanitized)
	if !ddlDMLKeywords[kw] {
		return nil
	}
	return []domain.Finding{{
		Severity: domain.SeverityWarn,
		Code:     domain.CodeDDLDML,
		Message:  fmt.Sprintf("DDL/DML statement detected: %s", kw),
		Evidence: kw,
	}}
}
