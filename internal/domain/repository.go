package domain

import "context"

// AuditRepository provides append-only access to the audit log.
type AuditRepository interface {
	Append(ctx context.Context, rec *AuditRecord) error
	List(ctx context.Context, filter AuditFilter) ([]AuditRecord, error)
}
