// Package policy implements the static checks that run over a query before
// it is allowed to execute: cost thresholds, risky SQL patterns, and the
// partition-filter requirement on partitioned tables.
//
// Every check is a pure function of its input. Checks never see each
// other's results and are evaluated in a fixed order, so running the same
// input twice always yields the same findings.
package policy

import (
	"bq-guard/internal/domain"
	"bq-guard/internal/sqlrewrite"
)

// Options selects which checks run and with which thresholds.
type Options struct {
	WarnBytes  int64
	BlockBytes int64

	BlockMultiStatement bool
	WarnSelectStar      bool
	WarnCrossJoin       bool
	WarnSuspectJoin     bool
	WarnDDLDML          bool
}

// Input is what every check sees.
type Input struct {
	SQL            string // raw text
	Sanitized      string // sqlrewrite.Sanitize(SQL)
	BytesProcessed *int64 // nil when the estimate is unavailable
}

// NewInput sanitizes sql once for all checks.
func NewInput(sql string, bytesProcessed *int64) Input {
	return Input{SQL: sql, Sanitized: sqlrewrite.Sanitize(sql), BytesProcessed: bytesProcessed}
}

// Check is one entry of the rule table.
type Check struct {
	Name    string
	Enabled func(Options) bool
	Run     func(Input, Options) []domain.Finding
}

func always(Options) bool { return true }

// Checks is the ordered rule table. Findings are reported in this order,
// not by severity. New checks are appended here.
var Checks = []Check{
	{
		Name:    "bytes",
		Enabled: always,
		Run: func(in Input, o Options) []domain.Finding {
			return CheckBytes(in.BytesProcessed, o.WarnBytes, o.BlockBytes)
		},
	},
	{
		Name:    "select_star",
		Enabled: func(o Options) bool { return o.WarnSelectStar },
		Run:     func(in Input, _ Options) []domain.Finding { return selectStar(in.Sanitized) },
	},
	{
		Name:    "cross_join",
		Enabled: func(o Options) bool { return o.WarnCrossJoin },
		Run:     func(in Input, _ Options) []domain.Finding { return crossJoin(in.Sanitized) },
	},
	{
		Name:    "suspect_join",
		Enabled: func(o Options) bool { return o.WarnSuspectJoin },
		Run:     func(in Input, _ Options) []domain.Finding { return suspectJoin(in.Sanitized) },
	},
	{
		Name:    "multi_statement",
		Enabled: always,
		Run: func(in Input, o Options) []domain.Finding {
			return multiStatement(in.Sanitized, o.BlockMultiStatement)
		},
	},
	{
		Name:    "ddl_dml",
		Enabled: func(o Options) bool { return o.WarnDDLDML },
		Run:     func(in Input, _ Options) []domain.Finding { return ddlDML(in.Sanitized) },
	},
}

// RunChecks evaluates every enabled check against sql and concatenates the
// findings in rule-table order.
func RunChecks(sql string, opts Options, bytesProcessed *int64) []domain.Finding {
	in := NewInput(sql, bytesProcessed)
	var findings []domain.Finding
	for _, c := range Checks {
		if !c.Enabled(opts) {
			continue
		}
		findings = append(findings, c.Run(in, opts)...)
	}
	return findings
}
