package query

import (
	"context"
	"encoding/base64"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"bq-guard/internal/domain"
)

// ObjectStore opens writers for gs:// destinations.
type ObjectStore interface {
	NewWriter(ctx context.Context, bucket, object string) (io.WriteCloser, error)
}

// ExportResult describes a finished export.
type ExportResult struct {
	Destination string `json:"destination"`
	Rows        int64  `json:"rows"`
}

// Export streams every result row of exec to CSV at dest: a local path, a
// gs://bucket/object URI, or "" for exports/<ts>_<job>_result.csv.
func (s *Service) Export(ctx context.Context, exec *Execution, dest string) (*ExportResult, error) {
	if exec == nil || exec.Job == nil {
		return nil, domain.ErrValidation("nothing to export: query has not been executed")
	}
	if dest == "" {
		dest = s.DefaultExportPath(exec.Job.ID, "result")
	}

	w, err := s.openDestination(ctx, dest)
	if err != nil {
		return nil, err
	}
	rows, writeErr := writeCSV(w, exec.Job.Pages, s.cfg.PageSize)
	closeErr := w.Close()
	if writeErr != nil {
		return nil, fmt.Errorf("export %s: %w", dest, writeErr)
	}
	if closeErr != nil {
		return nil, fmt.Errorf("finish export %s: %w", dest, closeErr)
	}

	s.audit.Append(ctx, &domain.AuditRecord{
		SQL:           exec.Review.State.SQL,
		Status:        domain.AuditExported,
		JobID:         exec.Job.ID,
		ExportedFiles: []string{dest},
	})
	s.logger.Info("results exported", "job_id", exec.Job.ID, "destination", dest, "rows", rows)
	return &ExportResult{Destination: dest, Rows: rows}, nil
}

// DefaultExportPath returns <export dir>/<timestamp>_<job>_<kind>.csv.
func (s *Service) DefaultExportPath(jobID, kind string) string {
	ts := s.now().Format("20060102_150405")
	return filepath.Join(s.cfg.ExportDir, fmt.Sprintf("%s_%s_%s.csv", ts, sanitizeFileComponent(jobID), kind))
}

func (s *Service) openDestination(ctx context.Context, dest string) (io.WriteCloser, error) {
	if strings.HasPrefix(dest, "gs://") {
		if s.objects == nil {
			return nil, domain.ErrValidation("gs:// export requires Cloud Storage access")
		}
		bucket, object, err := parseGCSPath(dest)
		if err != nil {
			return nil, domain.ErrValidation("%v", err)
		}
		return s.objects.NewWriter(ctx, bucket, object)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return nil, fmt.Errorf("create export dir: %w", err)
	}
	f, err := os.Create(dest) //nolint:gosec // path is user-chosen
	if err != nil {
		return nil, fmt.Errorf("create export file: %w", err)
	}
	return f, nil
}

// writeCSV drains pager into w. The header is taken from the first page.
func writeCSV(w io.Writer, pager domain.ResultPager, pageSize int) (int64, error) {
	cw := csv.NewWriter(w)
	var rows int64
	header := false
	for {
		page, err := pager.Next(pageSize)
		if err != nil {
			return rows, err
		}
		if page == nil {
			break
		}
		if !header {
			if err := cw.Write(page.Columns); err != nil {
				return rows, err
			}
			header = true
		}
		for _, row := range page.Rows {
			record := make([]string, len(row))
			for i, v := range row {
				record[i] = FormatValue(v)
			}
			if err := cw.Write(record); err != nil {
				return rows, err
			}
			rows++
		}
	}
	cw.Flush()
	return rows, cw.Error()
}

// FormatValue renders one result cell as text. NULL is the empty string.
func FormatValue(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return base64.StdEncoding.EncodeToString(x)
	case time.Time:
		return x.Format(time.RFC3339Nano)
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

func sanitizeFileComponent(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, s)
}
