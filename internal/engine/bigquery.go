// Package engine adapts BigQuery to the domain collaborator interfaces:
// dry-run estimation, table partitioning metadata, and query execution.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"bq-guard/internal/domain"
)

// Compile-time checks.
var (
	_ domain.DryRunner            = (*Client)(nil)
	_ domain.TableMetadataFetcher = (*Client)(nil)
	_ domain.QueryExecutor        = (*Client)(nil)
)

// Options configures a Client.
type Options struct {
	Project         string
	Location        string
	CredentialsFile string // optional; application default credentials otherwise
}

// Client wraps a *bigquery.Client.
type Client struct {
	bq       *bigquery.Client
	location string
	logger   *slog.Logger
	now      func() time.Time
}

// NewClient dials BigQuery for the given project.
func NewClient(ctx context.Context, opts Options, logger *slog.Logger) (*Client, error) {
	if opts.Project == "" {
		return nil, domain.ErrValidation("project is required (set app.default_project, BQGUARD_PROJECT or --project)")
	}
	clientOpts := []option.ClientOption{option.WithUserAgent("bq-guard")}
	if opts.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithAuthCredentialsFile(option.ServiceAccount, opts.CredentialsFile))
	}
	bq, err := bigquery.NewClient(ctx, opts.Project, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("create bigquery client: %w", err)
	}
	bq.Location = opts.Location
	return &Client{
		bq:       bq,
		location: opts.Location,
		logger:   logger.With("component", "engine"),
		now:      time.Now,
	}, nil
}

// Project returns the billing project the client was created for.
func (c *Client) Project() string { return c.bq.Project() }

// Close releases the underlying connection.
func (c *Client) Close() error { return c.bq.Close() }

func (c *Client) query(sql, location string, labels map[string]string) *bigquery.Query {
	q := c.bq.Query(sql)
	q.Location = location
	if q.Location == "" {
		q.Location = c.location
	}
	q.Labels = labels
	return q
}

// DryRun asks BigQuery to plan the query without running it.
func (c *Client) DryRun(ctx context.Context, req domain.DryRunRequest) (*domain.DryRunResult, error) {
	q := c.query(req.SQL, req.Location, req.Labels)
	q.DryRun = true

	job, err := q.Run(ctx)
	if err != nil {
		return nil, fmt.Errorf("dry-run: %w", err)
	}
	status := job.LastStatus()
	if status == nil {
		return &domain.DryRunResult{}, nil
	}
	if err := status.Err(); err != nil {
		return nil, fmt.Errorf("dry-run: %w", err)
	}
	return dryRunResultFromStats(status.Statistics), nil
}

func dryRunResultFromStats(stats *bigquery.JobStatistics) *domain.DryRunResult {
	res := &domain.DryRunResult{}
	if stats == nil {
		return res
	}
	bytes := stats.TotalBytesProcessed
	res.BytesProcessed = &bytes
	if qs, ok := stats.Details.(*bigquery.QueryStatistics); ok {
		res.ReferencedTables = tableKeys(qs.ReferencedTables)
	}
	return res
}

// tableKeys turns referenced tables into project.dataset.table keys,
// preserving order and dropping duplicates.
func tableKeys(tables []*bigquery.Table) []string {
	seen := make(map[string]bool, len(tables))
	var out []string
	for _, t := range tables {
		if t == nil || t.TableID == "" {
			continue
		}
		key := domain.QualifiedName(t.ProjectID, t.DatasetID, t.TableID)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, key)
	}
	return out
}

// FetchTableDescriptor reads the partitioning metadata of one table.
func (c *Client) FetchTableDescriptor(ctx context.Context, table string) (*domain.TableDescriptor, error) {
	ref, err := domain.ParseTableRef(table)
	if err != nil {
		return nil, err
	}
	md, err := c.bq.DatasetInProject(ref.Project, ref.Dataset).Table(ref.Table).Metadata(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, domain.ErrNotFound("table %s not found", table)
		}
		return nil, fmt.Errorf("table metadata %s: %w", table, err)
	}
	d := DescribePartitioning(md, c.now())
	return &d, nil
}

func isNotFound(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusNotFound
}

// DescribePartitioning derives a TableDescriptor from BigQuery metadata.
// Time partitioning without a field is ingestion-time partitioning and is
// filtered through _PARTITIONDATE.
func DescribePartitioning(md *bigquery.TableMetadata, fetchedAt time.Time) domain.TableDescriptor {
	d := domain.TableDescriptor{
		PartitionType: domain.PartitionNone,
		LastSeen:      fetchedAt.UTC().Format(time.RFC3339),
	}
	if md == nil {
		return d
	}
	switch {
	case md.TimePartitioning != nil:
		d.PartitionType = domain.PartitionTime
		if md.TimePartitioning.Field != "" {
			d.PartitionKey = md.TimePartitioning.Field
		} else {
			d.PartitionKey = domain.PseudoColumnPartitionDate
			d.IsIngestionTime = true
		}
	case md.RangePartitioning != nil && md.RangePartitioning.Field != "":
		d.PartitionType = domain.PartitionRange
		d.PartitionKey = md.RangePartitioning.Field
	}
	return d
}

// Execute runs the query and waits for it to finish.
func (c *Client) Execute(ctx context.Context, req domain.ExecuteRequest) (*domain.QueryJob, error) {
	q := c.query(req.SQL, req.Location, req.Labels)
	q.DisableQueryCache = !req.UseQueryCache

	job, err := q.Run(ctx)
	if err != nil {
		return nil, fmt.Errorf("start query: %w", err)
	}
	c.logger.Info("query job started", "job_id", job.ID(), "location", job.Location())

	status, err := job.Wait(ctx)
	if err != nil {
		return nil, fmt.Errorf("wait for job %s: %w", job.ID(), err)
	}
	if err := status.Err(); err != nil {
		return nil, fmt.Errorf("job %s failed: %w", job.ID(), err)
	}
	return &domain.QueryJob{
		ID:       job.ID(),
		Location: job.Location(),
		Pages:    &rowPager{ctx: ctx, job: job},
	}, nil
}
