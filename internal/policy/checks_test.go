package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bq-guard/internal/domain"
)

func bytesPtr(v int64) *int64 { return &v }

func allOn() Options {
	return Options{
		WarnBytes:           500,
		BlockBytes:          1000,
		BlockMultiStatement: true,
		WarnSelectStar:      true,
		WarnCrossJoin:       true,
		WarnSuspectJoin:     true,
		WarnDDLDML:          true,
	}
}

func codes(findings []domain.Finding) []string {
	out := make([]string, 0, len(findings))
	for _, f := range findings {
		out = append(out, f.Code)
	}
	return out
}

func TestCheckBytes(t *testing.T) {
	tests := []struct {
		name     string
		bytes    *int64
		wantCode string
		wantSev  domain.Severity
	}{
		{"below warn", bytesPtr(100), "", ""},
		{"at warn", bytesPtr(500), domain.CodeBytesWarn, domain.SeverityWarn},
		{"between", bytesPtr(600), domain.CodeBytesWarn, domain.SeverityWarn},
		{"at block", bytesPtr(1000), domain.CodeBytesBlock, domain.SeverityError},
		{"above block", bytesPtr(1200), domain.CodeBytesBlock, domain.SeverityError},
		{"unknown", nil, "", ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			findings := CheckBytes(tc.bytes, 500, 1000)
			if tc.wantCode == "" {
				assert.Empty(t, findings)
				return
			}
			require.Len(t, findings, 1)
			assert.Equal(t, tc.wantCode, findings[0].Code)
			assert.Equal(t, tc.wantSev, findings[0].Severity)
		})
	}
}

func TestCheckSelectStar(t *testing.T) {
	flagged := []string{
		"SELECT * FROM foo",
		"select\n  *\nfrom foo",
		"SELECT DISTINCT * FROM foo",
		"SELECT a.* FROM foo a",
		"SELECT a.id, b.* FROM foo a JOIN bar b USING (id)",
		"SELECT id, * FROM foo",
		"SELECT a, * EXCEPT(b) FROM foo",
		"SELECT a,\n  * REPLACE (b + 1 AS b) FROM foo",
	}
	for _, sql := range flagged {
		t.Run(sql, func(t *testing.T) {
			findings := CheckSelectStar(sql)
			require.Len(t, findings, 1)
			assert.Equal(t, domain.CodeSelectStar, findings[0].Code)
			assert.Equal(t, domain.SeverityWarn, findings[0].Severity)
		})
	}

	clean := []string{
		"SELECT id, name FROM foo",
		"SELECT 'SELECT * FROM x' AS q FROM foo",
		"SELECT id FROM foo -- SELECT *",
		"SELECT COUNT(*) FROM foo",
		"SELECT id, COUNT(*) FROM foo GROUP BY id",
		"SELECT a * b, c FROM foo",
	}
	for _, sql := range clean {
		t.Run(sql, func(t *testing.T) {
			assert.Empty(t, CheckSelectStar(sql))
		})
	}
}

func TestCheckCrossJoin(t *testing.T) {
	findings := CheckCrossJoin("SELECT 1 FROM a cross   join b")
	require.Len(t, findings, 1)
	assert.Equal(t, domain.CodeCrossJoin, findings[0].Code)

	assert.Empty(t, CheckCrossJoin("SELECT 'CROSS JOIN' FROM a"))
	assert.Empty(t, CheckCrossJoin("SELECT 1 FROM a /* CROSS JOIN */ JOIN b ON a.id = b.id"))
}

func TestCheckSuspectJoin(t *testing.T) {
	findings := CheckSuspectJoin("SELECT * FROM a JOIN b")
	require.Len(t, findings, 1)
	assert.Equal(t, domain.CodeSuspectJoin, findings[0].Code)

	assert.Empty(t, CheckSuspectJoin("SELECT * FROM a JOIN b ON a.id = b.id"))
	assert.Empty(t, CheckSuspectJoin("SELECT * FROM a JOIN b USING (id)"))
	assert.Empty(t, CheckSuspectJoin("SELECT * FROM a"))
	// One condition anywhere satisfies every join.
	assert.Empty(t, CheckSuspectJoin("SELECT * FROM a JOIN b ON a.id = b.id JOIN c"))
}

func TestCheckMultiStatement(t *testing.T) {
	findings := CheckMultiStatement("SELECT 1; SELECT 2", true)
	require.Len(t, findings, 1)
	assert.Equal(t, domain.CodeMultiStatement, findings[0].Code)
	assert.Equal(t, domain.SeverityError, findings[0].Severity)

	findings = CheckMultiStatement("SELECT 1; SELECT 2", false)
	require.Len(t, findings, 1)
	assert.Equal(t, domain.SeverityWarn, findings[0].Severity)

	assert.Empty(t, CheckMultiStatement("SELECT 1;", true))
	assert.Empty(t, CheckMultiStatement("SELECT 1;  \n ;", true))
	assert.Empty(t, CheckMultiStatement("SELECT 'a;b' FROM t", true))

	findings = CheckMultiStatement("DECLARE x INT64 DEFAULT 1; SELECT x", true)
	require.Len(t, findings, 1)
	assert.Equal(t, domain.CodeScript, findings[0].Code)
	assert.Equal(t, "DECLARE", findings[0].Evidence)

	findings = CheckMultiStatement("begin select 1; end", false)
	require.Len(t, findings, 1)
	assert.Equal(t, domain.CodeScript, findings[0].Code)
	assert.Equal(t, domain.SeverityWarn, findings[0].Severity)
}

func TestCheckDDLDML(t *testing.T) {
	for _, sql := range []string{"DELETE FROM foo", "  insert into t VALUES (1)", "-- note\nTRUNCATE TABLE t", "create table t (a INT64)"} {
		t.Run(sql, func(t *testing.T) {
			findings := CheckDDLDML(sql)
			require.Len(t, findings, 1)
			assert.Equal(t, domain.CodeDDLDML, findings[0].Code)
		})
	}
	assert.Empty(t, CheckDDLDML("SELECT * FROM deleted_rows"))
	assert.Empty(t, CheckDDLDML("WITH x AS (SELECT 1) SELECT * FROM x"))
}

func TestRunChecks_Order(t *testing.T) {
	sql := "DELETE FROM t WHERE id IN (SELECT * FROM a CROSS JOIN b); SELECT 2"
	findings := RunChecks(sql, allOn(), bytesPtr(2000))

	assert.Equal(t, []string{
		domain.CodeBytesBlock,
		domain.CodeSelectStar,
		domain.CodeCrossJoin,
		domain.CodeSuspectJoin,
		domain.CodeMultiStatement,
		domain.CodeDDLDML,
	}, codes(findings))
}

func TestRunChecks_Toggles(t *testing.T) {
	opts := Options{WarnBytes: 500, BlockBytes: 1000}
	sql := "SELECT * FROM a CROSS JOIN b"

	findings := RunChecks(sql, opts, bytesPtr(10))
	assert.Empty(t, findings)

	opts.WarnCrossJoin = true
	assert.Equal(t, []string{domain.CodeCrossJoin}, codes(RunChecks(sql, opts, nil)))
}

func TestRunChecks_Idempotent(t *testing.T) {
	sql := "SELECT a.* FROM p.d.t a JOIN p.d.u b; DROP TABLE x"
	first := RunChecks(sql, allOn(), bytesPtr(700))
	second := RunChecks(sql, allOn(), bytesPtr(700))
	assert.Equal(t, first, second)
}
