// Package auditutil appends audit records on a best-effort basis: a failing
// audit store is logged and never fails the guarded action.
package auditutil

import (
	"context"
	"log/slog"
	"time"

	"bq-guard/internal/domain"
)

// Logger stamps and appends audit records.
type Logger struct {
	repo     domain.AuditRepository
	project  string
	location string
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a Logger. A nil repo makes every call a no-op.
func New(repo domain.AuditRepository, project, location string, logger *slog.Logger) *Logger {
	return &Logger{
		repo:     repo,
		project:  project,
		location: location,
		logger:   logger.With("component", "audit"),
		now:      time.Now,
	}
}

// Append fills ID, Timestamp, Project and Location when unset and stores
// the record. Failures are logged.
func (l *Logger) Append(ctx context.Context, rec *domain.AuditRecord) {
	if l == nil || l.repo == nil {
		return
	}
	if rec.ID == "" {
		rec.ID = domain.NewID()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = l.now().UTC()
	}
	if rec.Project == "" {
		rec.Project = l.project
	}
	if rec.Location == "" {
		rec.Location = l.location
	}
	if err := l.repo.Append(ctx, rec); err != nil {
		l.logger.Warn("audit append failed", "status", rec.Status, "error", err)
	}
}

// DryRunFailed records a failed cost estimation.
func (l *Logger) DryRunFailed(ctx context.Context, sql string, err error) {
	l.Append(ctx, &domain.AuditRecord{
		SQL:          sql,
		Status:       domain.AuditDryRunFailed,
		ErrorMessage: err.Error(),
	})
}

// Reviewed records the outcome of a review: BLOCKED when the state holds an
// ERROR finding, REVIEWED otherwise.
func (l *Logger) Reviewed(ctx context.Context, state *domain.EstimationState) {
	status := domain.AuditReviewed
	if state.Blocked() {
		status = domain.AuditBlocked
	}
	l.Append(ctx, &domain.AuditRecord{
		SQL:              state.SQL,
		Status:           status,
		DryRunBytes:      state.BytesProcessed,
		ReferencedTables: state.ReferencedTables,
		Findings:         state.Findings,
	})
}
