package query

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bq-guard/internal/domain"
	"bq-guard/internal/service/auditutil"
	"bq-guard/internal/testutil"
)

type estimatorFunc func(ctx context.Context, sql string) (*domain.EstimationState, error)

func (f estimatorFunc) Run(ctx context.Context, sql string) (*domain.EstimationState, error) {
	return f(ctx, sql)
}

func staticEstimate(state *domain.EstimationState) Estimator {
	return estimatorFunc(func(_ context.Context, sql string) (*domain.EstimationState, error) {
		s := *state
		s.SQL = sql
		return &s, nil
	})
}

func ptr(v int64) *int64 { return &v }

var (
	warnFinding  = domain.Finding{Severity: domain.SeverityWarn, Code: domain.CodeSelectStar, Message: "SELECT *"}
	errorFinding = domain.Finding{Severity: domain.SeverityError, Code: domain.CodePartitionMissing, Message: "missing", Table: "p.d.t"}
)

type fixture struct {
	audit    *testutil.MockAuditRepo
	executor *testutil.MockQueryExecutor
}

func newService(t *testing.T, est Estimator, cfg Config) (*Service, *fixture) {
	t.Helper()
	fx := &fixture{
		audit: &testutil.MockAuditRepo{},
		executor: &testutil.MockQueryExecutor{
			ExecuteFn: func(context.Context, domain.ExecuteRequest) (*domain.QueryJob, error) {
				return &domain.QueryJob{
					ID:       "job_1",
					Location: "US",
					Pages: &testutil.StaticPager{
						Columns: []string{"id", "name"},
						Rows:    [][]interface{}{{int64(1), "a"}, {int64(2), "b"}, {int64(3), nil}},
					},
				}, nil
			},
		},
	}
	discard := slog.New(slog.DiscardHandler)
	cfg.ExportDir = t.TempDir()
	svc := NewService(est, fx.executor, nil, auditutil.New(fx.audit, "p", "US", discard), cfg, discard)
	return svc, fx
}

func TestReview(t *testing.T) {
	tests := []struct {
		name              string
		state             domain.EstimationState
		allowWithWarnings bool
		wantBlocked       bool
		wantConfirm       bool
		wantAllowed       bool
		wantHuman         string
		wantAudit         domain.AuditStatus
	}{
		{
			name:        "clean",
			state:       domain.EstimationState{BytesProcessed: ptr(100)},
			wantAllowed: true,
			wantHuman:   "100B",
			wantAudit:   domain.AuditReviewed,
		},
		{
			name:              "warnings allowed",
			state:             domain.EstimationState{BytesProcessed: ptr(2048), Findings: []domain.Finding{warnFinding}},
			allowWithWarnings: true,
			wantConfirm:       true,
			wantAllowed:       true,
			wantHuman:         "2.0KB",
			wantAudit:         domain.AuditReviewed,
		},
		{
			name:        "warnings refused",
			state:       domain.EstimationState{BytesProcessed: ptr(1), Findings: []domain.Finding{warnFinding}},
			wantConfirm: true,
			wantHuman:   "1B",
			wantAudit:   domain.AuditReviewed,
		},
		{
			name:              "blocking finding",
			state:             domain.EstimationState{BytesProcessed: ptr(1), Findings: []domain.Finding{warnFinding, errorFinding}},
			allowWithWarnings: true,
			wantBlocked:       true,
			wantConfirm:       true,
			wantHuman:         "1B",
			wantAudit:         domain.AuditBlocked,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, fx := newService(t, staticEstimate(&tt.state), Config{AllowExecuteWithWarnings: tt.allowWithWarnings})

			rv, err := svc.Review(context.Background(), "SELECT 1")
			require.NoError(t, err)
			assert.Equal(t, tt.wantBlocked, rv.Blocked)
			assert.Equal(t, tt.wantConfirm, rv.NeedsConfirmation)
			assert.Equal(t, tt.wantAllowed, rv.Allowed)
			assert.Equal(t, tt.wantHuman, rv.HumanBytes)

			rec := fx.audit.LastRecord()
			require.NotNil(t, rec)
			assert.Equal(t, tt.wantAudit, rec.Status)
			assert.Equal(t, "SELECT 1", rec.SQL)
		})
	}
}

func TestReview_DryRunFailedBlocksWithoutSecondAudit(t *testing.T) {
	svc, fx := newService(t, staticEstimate(&domain.EstimationState{DryRunError: "Not found: Table p:d.x"}), Config{})

	rv, err := svc.Review(context.Background(), "SELECT * FROM p.d.x")
	require.NoError(t, err)
	assert.True(t, rv.Blocked)
	assert.False(t, rv.Allowed)
	assert.Equal(t, "unknown", rv.HumanBytes)
	assert.Empty(t, fx.audit.Records)

	_, err = svc.Execute(context.Background(), rv)
	var pv *domain.PolicyViolationError
	require.ErrorAs(t, err, &pv)
	assert.Contains(t, pv.Message, "dry-run failed")
	assert.Empty(t, fx.executor.Calls)
}

func TestReview_EstimatorError(t *testing.T) {
	svc, _ := newService(t, estimatorFunc(func(context.Context, string) (*domain.EstimationState, error) {
		return nil, domain.ErrValidation("SQL is empty")
	}), Config{})

	_, err := svc.Review(context.Background(), "")
	var ve *domain.ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestExecute_RefusesBlocked(t *testing.T) {
	state := domain.EstimationState{BytesProcessed: ptr(1), Findings: []domain.Finding{warnFinding, errorFinding}}
	svc, fx := newService(t, staticEstimate(&state), Config{AllowExecuteWithWarnings: true})

	rv, err := svc.Review(context.Background(), "SELECT * FROM p.d.t")
	require.NoError(t, err)

	_, err = svc.Execute(context.Background(), rv)
	var pv *domain.PolicyViolationError
	require.ErrorAs(t, err, &pv)
	assert.Equal(t, []domain.Finding{errorFinding}, pv.Findings)
	assert.Empty(t, fx.executor.Calls)
}

func TestExecute_RefusesWarningsWhenDisallowed(t *testing.T) {
	state := domain.EstimationState{BytesProcessed: ptr(1), Findings: []domain.Finding{warnFinding}}
	svc, fx := newService(t, staticEstimate(&state), Config{AllowExecuteWithWarnings: false})

	rv, err := svc.Review(context.Background(), "SELECT * FROM p.d.t")
	require.NoError(t, err)

	_, err = svc.Execute(context.Background(), rv)
	var pv *domain.PolicyViolationError
	require.ErrorAs(t, err, &pv)
	assert.Contains(t, pv.Message, "allow_execute_with_warnings")
	assert.Empty(t, fx.executor.Calls)
}

func TestExecute_Success(t *testing.T) {
	state := domain.EstimationState{BytesProcessed: ptr(10), ReferencedTables: []string{"p.d.t"}}
	svc, fx := newService(t, staticEstimate(&state), Config{
		Location:      "US",
		Labels:        map[string]string{"mode": "execute"},
		UseQueryCache: true,
		PreviewRows:   2,
	})

	rv, err := svc.Review(context.Background(), "SELECT id, name FROM p.d.t")
	require.NoError(t, err)
	exec, err := svc.Execute(context.Background(), rv)
	require.NoError(t, err)

	require.Len(t, fx.executor.Calls, 1)
	call := fx.executor.Calls[0]
	assert.Equal(t, "SELECT id, name FROM p.d.t", call.SQL)
	assert.Equal(t, "US", call.Location)
	assert.True(t, call.UseQueryCache)
	assert.Equal(t, "execute", call.Labels["mode"])

	assert.Equal(t, "job_1", exec.Job.ID)
	assert.Equal(t, []string{"id", "name"}, exec.Preview.Columns)
	assert.Len(t, exec.Preview.Rows, 2)

	rec := fx.audit.LastRecord()
	require.NotNil(t, rec)
	assert.Equal(t, domain.AuditExecuted, rec.Status)
	assert.Equal(t, "job_1", rec.JobID)
	assert.Equal(t, []string{"p.d.t"}, rec.ReferencedTables)
}

func TestExecute_FailureAudited(t *testing.T) {
	svc, fx := newService(t, staticEstimate(&domain.EstimationState{BytesProcessed: ptr(1)}), Config{})
	fx.executor.ExecuteFn = func(context.Context, domain.ExecuteRequest) (*domain.QueryJob, error) {
		return nil, errors.New("quota exceeded")
	}

	rv, err := svc.Review(context.Background(), "SELECT 1")
	require.NoError(t, err)
	_, err = svc.Execute(context.Background(), rv)
	require.ErrorContains(t, err, "quota exceeded")

	rec := fx.audit.LastRecord()
	require.NotNil(t, rec)
	assert.Equal(t, domain.AuditExecFailed, rec.Status)
	assert.Equal(t, "quota exceeded", rec.ErrorMessage)
}

func TestExecute_Unreviewed(t *testing.T) {
	svc, _ := newService(t, staticEstimate(&domain.EstimationState{}), Config{})
	_, err := svc.Execute(context.Background(), nil)
	var ve *domain.ValidationError
	assert.ErrorAs(t, err, &ve)
}
