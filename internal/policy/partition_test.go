package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bq-guard/internal/domain"
)

const table = "p.d.t"

func ingestionTable() *domain.TableDescriptor {
	return &domain.TableDescriptor{
		PartitionType:   domain.PartitionTime,
		PartitionKey:    domain.PseudoColumnPartitionDate,
		IsIngestionTime: true,
	}
}

func columnTable(key string) *domain.TableDescriptor {
	return &domain.TableDescriptor{PartitionType: domain.PartitionTime, PartitionKey: key}
}

func TestEnforce_IngestionTimeOK(t *testing.T) {
	findings, summary := EnforcePartitionFilters(
		"SELECT * FROM t WHERE _PARTITIONDATE = '2024-01-01'",
		[]string{table},
		map[string]*domain.TableDescriptor{table: ingestionTable()},
		nil,
	)
	assert.Empty(t, findings)
	assert.Equal(t, []string{"p.d.t: ok"}, summary)
}

func TestEnforce_IngestionTimeAcceptsPartitionTime(t *testing.T) {
	findings, _ := EnforcePartitionFilters(
		"SELECT * FROM t WHERE _partitiontime >= TIMESTAMP('2024-01-01')",
		[]string{table},
		map[string]*domain.TableDescriptor{table: ingestionTable()},
		nil,
	)
	assert.Empty(t, findings)
}

func TestEnforce_IngestionTimeMissing(t *testing.T) {
	findings, summary := EnforcePartitionFilters(
		"SELECT * FROM t",
		[]string{table},
		map[string]*domain.TableDescriptor{table: ingestionTable()},
		nil,
	)
	require.Len(t, findings, 1)
	assert.Equal(t, domain.SeverityError, findings[0].Severity)
	assert.Equal(t, domain.CodePartitionMissing, findings[0].Code)
	assert.Equal(t, "_PARTITIONDATE/_PARTITIONTIME", findings[0].Evidence)
	assert.Equal(t, table, findings[0].Table)
	assert.Equal(t, []string{"p.d.t: missing _PARTITIONDATE/_PARTITIONTIME"}, summary)
}

func TestEnforce_ColumnMissing(t *testing.T) {
	findings, summary := EnforcePartitionFilters(
		"SELECT * FROM t",
		[]string{table},
		map[string]*domain.TableDescriptor{table: columnTable("event_date")},
		nil,
	)
	require.Len(t, findings, 1)
	assert.Equal(t, domain.CodePartitionMissing, findings[0].Code)
	assert.Equal(t, "event_date", findings[0].Evidence)
	assert.Equal(t, []string{"p.d.t: missing event_date"}, summary)
}

func TestEnforce_ColumnMustBeWholeWord(t *testing.T) {
	meta := map[string]*domain.TableDescriptor{table: columnTable("event_date")}

	findings, _ := EnforcePartitionFilters("SELECT * FROM t WHERE event_date_local = '2024-01-01'", []string{table}, meta, nil)
	assert.Len(t, findings, 1)

	findings, _ = EnforcePartitionFilters("SELECT * FROM t WHERE x = 'event_date' -- event_date", []string{table}, meta, nil)
	assert.Len(t, findings, 1, "literals and comments do not count as a filter")

	findings, _ = EnforcePartitionFilters("SELECT * FROM t WHERE `EVENT_DATE` = '2024-01-01'", []string{table}, meta, nil)
	assert.Empty(t, findings)
}

func TestEnforce_ExemptTable(t *testing.T) {
	findings, summary := EnforcePartitionFilters(
		"SELECT * FROM t",
		[]string{table},
		map[string]*domain.TableDescriptor{table: columnTable("event_date")},
		[]string{table},
	)
	assert.Empty(t, findings)
	assert.Equal(t, []string{"p.d.t: exempt"}, summary)
}

func TestEnforce_NonPartitioned(t *testing.T) {
	meta := map[string]*domain.TableDescriptor{
		"p.d.none": {PartitionType: domain.PartitionNone},
	}
	findings, summary := EnforcePartitionFilters("SELECT * FROM x", []string{"p.d.none", "p.d.unknown"}, meta, nil)
	assert.Empty(t, findings)
	assert.Equal(t, []string{"p.d.none: non-partition", "p.d.unknown: non-partition"}, summary)
}

func TestEnforce_UnknownTables(t *testing.T) {
	findings, summary := EnforcePartitionFilters("SELECT * FROM t", nil, nil, nil)
	require.Len(t, findings, 1)
	assert.Equal(t, domain.SeverityWarn, findings[0].Severity)
	assert.Equal(t, domain.CodePartitionTablesUnknown, findings[0].Code)
	assert.Empty(t, summary)
}

func TestEnforce_SummaryFollowsInputOrder(t *testing.T) {
	meta := map[string]*domain.TableDescriptor{
		"p.d.a": columnTable("dt"),
		"p.d.b": {PartitionType: domain.PartitionRange, PartitionKey: "bucket"},
		"p.d.c": ingestionTable(),
	}
	findings, summary := EnforcePartitionFilters(
		"SELECT * FROM p.d.a JOIN p.d.b USING (id) JOIN p.d.c USING (id) WHERE dt = CURRENT_DATE()",
		[]string{"p.d.c", "p.d.a", "p.d.b", "p.d.x"},
		meta,
		[]string{"p.d.x"},
	)
	assert.Equal(t, []string{
		"p.d.c: missing _PARTITIONDATE/_PARTITIONTIME",
		"p.d.a: ok",
		"p.d.b: missing bucket",
		"p.d.x: exempt",
	}, summary)
	require.Len(t, findings, 2)
	assert.Equal(t, "p.d.c", findings[0].Table)
	assert.Equal(t, "p.d.b", findings[1].Table)
}
