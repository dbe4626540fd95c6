// Package repository implements domain repositories on SQLite.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"bq-guard/internal/domain"
)

var _ domain.AuditRepository = (*AuditRepo)(nil)

// tsLayout is fixed-width so that timestamps sort lexically.
const tsLayout = "2006-01-02T15:04:05.000000000Z"

// AuditRepo is an append-only audit log. List fields that hold slices are
// stored as JSON text.
type AuditRepo struct {
	db *sql.DB
}

// NewAuditRepo creates an AuditRepo on a migrated database.
func NewAuditRepo(db *sql.DB) *AuditRepo {
	return &AuditRepo{db: db}
}

// Append inserts one record. ID and Timestamp must already be set.
func (r *AuditRepo) Append(ctx context.Context, rec *domain.AuditRecord) error {
	tables, err := marshalList(rec.ReferencedTables)
	if err != nil {
		return err
	}
	findings, err := marshalList(rec.Findings)
	if err != nil {
		return err
	}
	files, err := marshalList(rec.ExportedFiles)
	if err != nil {
		return err
	}

	var bytes sql.NullInt64
	if rec.DryRunBytes != nil {
		bytes = sql.NullInt64{Int64: *rec.DryRunBytes, Valid: true}
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO audit_log (id, ts, project, location, sql_text, status, dry_run_bytes,
			referenced_tables, findings, job_id, exported_files, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Timestamp.UTC().Format(tsLayout), rec.Project, rec.Location, rec.SQL,
		string(rec.Status), bytes, tables, findings, rec.JobID, files, rec.ErrorMessage)
	if err != nil {
		return fmt.Errorf("insert audit record: %w", err)
	}
	return nil
}

// List returns records newest first.
func (r *AuditRepo) List(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditRecord, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.Status != nil {
		where = append(where, "status = ?")
		args = append(args, string(*filter.Status))
	}
	if filter.Since != nil {
		where = append(where, "ts >= ?")
		args = append(args, filter.Since.UTC().Format(tsLayout))
	}

	query := `SELECT id, ts, project, location, sql_text, status, dry_run_bytes,
		referenced_tables, findings, job_id, exported_files, error_message
		FROM audit_log`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY ts DESC, rowid DESC LIMIT ?"
	args = append(args, filter.EffectiveLimit())

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit records: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var out []domain.AuditRecord
	for rows.Next() {
		rec, err := scanAuditRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanAuditRecord(rows *sql.Rows) (domain.AuditRecord, error) {
	var (
		rec                    domain.AuditRecord
		ts, status             string
		bytes                  sql.NullInt64
		tables, findings, file string
	)
	if err := rows.Scan(&rec.ID, &ts, &rec.Project, &rec.Location, &rec.SQL, &status, &bytes,
		&tables, &findings, &rec.JobID, &file, &rec.ErrorMessage); err != nil {
		return rec, fmt.Errorf("scan audit record: %w", err)
	}

	parsed, err := time.Parse(tsLayout, ts)
	if err != nil {
		return rec, fmt.Errorf("parse audit timestamp %q: %w", ts, err)
	}
	rec.Timestamp = parsed
	rec.Status = domain.AuditStatus(status)
	if bytes.Valid {
		v := bytes.Int64
		rec.DryRunBytes = &v
	}
	if err := unmarshalList(tables, &rec.ReferencedTables); err != nil {
		return rec, err
	}
	if err := unmarshalList(findings, &rec.Findings); err != nil {
		return rec, err
	}
	if err := unmarshalList(file, &rec.ExportedFiles); err != nil {
		return rec, err
	}
	return rec, nil
}

func marshalList[T any](v []T) (string, error) {
	if v == nil {
		return "[]", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal audit column: %w", err)
	}
	return string(b), nil
}

func unmarshalList[T any](s string, dst *[]T) error {
	if s == "" || s == "[]" {
		return nil
	}
	if err := json.Unmarshal([]byte(s), dst); err != nil {
		return fmt.Errorf("unmarshal audit column: %w", err)
	}
	return nil
}
