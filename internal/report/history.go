package report

import (
	"io"
	"strings"
	"time"

	"bq-guard/internal/domain"
)

const sqlPreviewLen = 60

// HistoryTable lists audit records, newest first.
func HistoryTable(w io.Writer, records []domain.AuditRecord) error {
	rows := make([][]string, len(records))
	for i, r := range records {
		bytes := "-"
		if r.DryRunBytes != nil {
			bytes = HumanBytes(*r.DryRunBytes)
		}
		rows[i] = []string{
			r.Timestamp.UTC().Format(time.DateTime),
			string(r.Status),
			bytes,
			r.JobID,
			SQLPreview(r.SQL),
		}
	}
	return PrintTable(w, []string{"TIME", "STATUS", "BYTES", "JOB", "SQL"}, rows)
}

// SQLPreview collapses whitespace and truncates sql for one-line display.
func SQLPreview(sql string) string {
	s := strings.Join(strings.Fields(sql), " ")
	r := []rune(s)
	if len(r) > sqlPreviewLen {
		return string(r[:sqlPreviewLen-3]) + "..."
	}
	return s
}

// CacheTable lists cached table descriptors.
func CacheTable(w io.Writer, tables []string, descriptors []domain.TableDescriptor) error {
	rows := make([][]string, len(tables))
	for i, t := range tables {
		d := descriptors[i]
		key := d.PartitionKey
		if key == "" {
			key = "-"
		}
		ingestion := "no"
		if d.IsIngestionTime {
			ingestion = "yes"
		}
		rows[i] = []string{t, string(d.PartitionType), key, ingestion, d.LastSeen}
	}
	return PrintTable(w, []string{"TABLE", "PARTITION", "KEY", "INGESTION", "LAST SEEN"}, rows)
}
