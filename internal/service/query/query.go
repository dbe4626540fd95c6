// Package query implements the guarded review, execute, and export flows.
package query

import (
	"context"
	"log/slog"
	"time"

	"bq-guard/internal/domain"
	"bq-guard/internal/report"
	"bq-guard/internal/service/auditutil"
)

// Estimator produces an estimation state synchronously.
// Implemented by *estimate.Scheduler.
type Estimator interface {
	Run(ctx context.Context, sql string) (*domain.EstimationState, error)
}

// Config holds the execution settings.
type Config struct {
	Location                 string
	Labels                   map[string]string // sent with every execution
	UseQueryCache            bool
	AllowExecuteWithWarnings bool
	PreviewRows              int
	PageSize                 int
	ExportDir                string
}

// Service reviews queries against the guard policy and executes the ones
// that pass.
type Service struct {
	estimator Estimator
	executor  domain.QueryExecutor
	objects   ObjectStore
	audit     *auditutil.Logger
	cfg       Config
	logger    *slog.Logger
	now       func() time.Time
}

// NewService creates a Service. objects may be nil, in which case gs://
// export destinations are rejected.
func NewService(
	estimator Estimator,
	executor domain.QueryExecutor,
	objects ObjectStore,
	audit *auditutil.Logger,
	cfg Config,
	logger *slog.Logger,
) *Service {
	if cfg.PreviewRows <= 0 {
		cfg.PreviewRows = 50
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 1000
	}
	if cfg.ExportDir == "" {
		cfg.ExportDir = "exports"
	}
	return &Service{
		estimator: estimator,
		executor:  executor,
		objects:   objects,
		audit:     audit,
		cfg:       cfg,
		logger:    logger.With("component", "query"),
		now:       time.Now,
	}
}

// Review is the guard decision for one SQL text.
type Review struct {
	State *domain.EstimationState
	// HumanBytes is the estimate formatted for display, or "unknown".
	HumanBytes string
	// Blocked is set when an ERROR finding exists or the dry-run failed.
	Blocked bool
	// NeedsConfirmation is set when WARN findings exist.
	NeedsConfirmation bool
	// Allowed reports whether Execute will accept this review.
	Allowed bool
}

// Review runs the pipeline for sql and decides whether it may execute.
// The decision is audited as BLOCKED or REVIEWED; a failed dry-run was
// already audited by the pipeline.
func (s *Service) Review(ctx context.Context, sql string) (*Review, error) {
	state, err := s.estimator.Run(ctx, sql)
	if err != nil {
		return nil, err
	}

	hasWarn := domain.HasSeverity(state.Findings, domain.SeverityWarn)
	rv := &Review{
		State:             state,
		HumanBytes:        "unknown",
		Blocked:           state.Blocked() || state.DryRunFailed(),
		NeedsConfirmation: hasWarn,
	}
	if state.BytesProcessed != nil {
		rv.HumanBytes = report.HumanBytes(*state.BytesProcessed)
	}
	rv.Allowed = !rv.Blocked && (!hasWarn || s.cfg.AllowExecuteWithWarnings)

	if !state.DryRunFailed() {
		s.audit.Reviewed(ctx, state)
	}
	return rv, nil
}

// Execution is a finished query job plus its first rows.
type Execution struct {
	Review  *Review
	Job     *domain.QueryJob
	Preview *domain.ResultPage
}

// Execute runs a reviewed query. It refuses with a PolicyViolationError
// when the review does not allow execution.
func (s *Service) Execute(ctx context.Context, rv *Review) (*Execution, error) {
	if rv == nil || rv.State == nil {
		return nil, domain.ErrValidation("query has not been reviewed")
	}
	if !rv.Allowed {
		switch {
		case rv.State.DryRunFailed():
			return nil, domain.ErrPolicyViolation(nil, "execution refused: dry-run failed: %s", rv.State.DryRunError)
		case rv.Blocked:
			return nil, domain.ErrPolicyViolation(errorFindings(rv.State.Findings), "execution refused: query has blocking findings")
		default:
			return nil, domain.ErrPolicyViolation(rv.State.Findings, "execution refused: query has warnings and policy.allow_execute_with_warnings is false")
		}
	}

	sql := rv.State.SQL
	job, err := s.executor.Execute(ctx, domain.ExecuteRequest{
		SQL:           sql,
		Location:      s.cfg.Location,
		Labels:        s.cfg.Labels,
		UseQueryCache: s.cfg.UseQueryCache,
	})
	if err != nil {
		s.audit.Append(ctx, &domain.AuditRecord{
			SQL:              sql,
			Status:           domain.AuditExecFailed,
			DryRunBytes:      rv.State.BytesProcessed,
			ReferencedTables: rv.State.ReferencedTables,
			ErrorMessage:     err.Error(),
		})
		return nil, err
	}
	s.audit.Append(ctx, &domain.AuditRecord{
		SQL:              sql,
		Status:           domain.AuditExecuted,
		DryRunBytes:      rv.State.BytesProcessed,
		ReferencedTables: rv.State.ReferencedTables,
		Findings:         rv.State.Findings,
		JobID:            job.ID,
	})
	s.logger.Info("query executed", "job_id", job.ID)

	preview, err := job.Pages.Preview(s.cfg.PreviewRows)
	if err != nil {
		s.logger.Warn("result preview failed", "job_id", job.ID, "error", err)
		preview = &domain.ResultPage{}
	}
	return &Execution{Review: rv, Job: job, Preview: preview}, nil
}

func errorFindings(findings []domain.Finding) []domain.Finding {
	var out []domain.Finding
	for _, f := range findings {
		if f.Severity == domain.SeverityError {
			out = append(out, f)
		}
	}
	return out
}
