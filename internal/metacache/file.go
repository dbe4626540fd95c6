package metacache

import "bq-guard/internal/domain"

// cacheFile is the on-disk layout:
//
//	{"schema_version": 1, "tables": {"p.d.t": {"partition_type": "time", ...}}}
type cacheFile struct {
	SchemaVersion int                   `json:"schema_version"`
	Tables        map[string]tableEntry `json:"tables"`
}

type tableEntry struct {
	PartitionType string  `json:"partition_type"`
	PartitionKey  *string `json:"partition_key"`
	IngestionTime bool    `json:"ingestion_time"`
	LastSeenTS    string  `json:"last_seen_ts"`
}

func (e tableEntry) toDomain() domain.TableDescriptor {
	d := domain.TableDescriptor{
		PartitionType:   domain.PartitionType(e.PartitionType),
		IsIngestionTime: e.IngestionTime,
		LastSeen:        e.LastSeenTS,
	}
	if d.PartitionType == "" {
		d.PartitionType = domain.PartitionNone
	}
	if e.PartitionKey != nil {
		d.PartitionKey = *e.PartitionKey
	}
	return d
}

func entryFromDomain(d domain.TableDescriptor) tableEntry {
	e := tableEntry{
		PartitionType: string(d.PartitionType),
		IngestionTime: d.IsIngestionTime,
		LastSeenTS:    d.LastSeen,
	}
	if e.PartitionType == "" {
		e.PartitionType = string(domain.PartitionNone)
	}
	if d.PartitionKey != "" {
		key := d.PartitionKey
		e.PartitionKey = &key
	}
	return e
}
