package domain

import (
	"fmt"
	"strings"
)

// PartitionType describes how a table is partitioned.
type PartitionType string

// Partition types.
const (
	PartitionNone  PartitionType = "none"
	PartitionTime  PartitionType = "time"
	PartitionRange PartitionType = "range"
)

// Pseudo-columns that are the only valid filter target of an
// ingestion-time partitioned table.
const (
	PseudoColumnPartitionDate = "_PARTITIONDATE"
	PseudoColumnPartitionTime = "_PARTITIONTIME"
)

// TableDescriptor holds the cached partitioning metadata of one table.
// PartitionKey is non-empty iff PartitionType is not PartitionNone.
type TableDescriptor struct {
	PartitionType   PartitionType
	PartitionKey    string
	IsIngestionTime bool
	LastSeen        string // RFC 3339 timestamp, advisory only
}

// Partitioned reports whether the table requires a partition filter.
func (d *TableDescriptor) Partitioned() bool {
	return d != nil && d.PartitionType != "" && d.PartitionType != PartitionNone
}

// TableRef is a parsed fully qualified table name.
type TableRef struct {
	Project string
	Dataset string
	Table   string
}

// String returns the "project.dataset.table" key.
func (r TableRef) String() string {
	return r.Project + "." + r.Dataset + "." + r.Table
}

// ParseTableRef splits a "project.dataset.table" key.
func ParseTableRef(key string) (TableRef, error) {
	parts := strings.Split(key, ".")
	if len(parts) != 3 {
		return TableRef{}, ErrValidation("table %q is not fully qualified (project.dataset.table)", key)
	}
	for _, p := range parts {
		if p == "" {
			return TableRef{}, ErrValidation("table %q has an empty component", key)
		}
	}
	return TableRef{Project: parts[0], Dataset: parts[1], Table: parts[2]}, nil
}

// QualifiedName joins project, dataset, and table into a cache key.
func QualifiedName(project, dataset, table string) string {
	return fmt.Sprintf("%s.%s.%s", project, dataset, table)
}
