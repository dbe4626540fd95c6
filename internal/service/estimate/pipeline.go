// Package estimate runs the guard pipeline for a SQL buffer: dry-run,
// referenced-table resolution, metadata fill, policy checks, and partition
// enforcement. Scheduler wraps it with debouncing and last-write-wins
// admission for interactive editing.
package estimate

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"bq-guard/internal/domain"
	"bq-guard/internal/metacache"
	"bq-guard/internal/policy"
	"bq-guard/internal/service/auditutil"
	"bq-guard/internal/sqlrewrite"
)

// ErrStale is returned by Pipeline.Run when the run was superseded by a
// newer edit. It is not a failure.
var ErrStale = errors.New("estimation superseded by a newer edit")

// PipelineConfig is the slice of configuration one run needs.
type PipelineConfig struct {
	Location               string
	DefaultProject         string
	Labels                 map[string]string // sent with every dry-run
	Policy                 policy.Options
	EnforcePartitionFilter bool
	ExemptTables           []string
	MetadataConcurrency    int
	MetadataQPS            float64 // 0 disables pacing
}

// Pipeline produces an EstimationState for one SQL text.
type Pipeline struct {
	dryRunner domain.DryRunner
	fetcher   domain.TableMetadataFetcher
	cache     *metacache.Cache
	audit     *auditutil.Logger
	cfg       PipelineConfig
	limiter   *rate.Limiter
	logger    *slog.Logger
	now       func() time.Time
}

// NewPipeline creates a Pipeline.
func NewPipeline(
	dryRunner domain.DryRunner,
	fetcher domain.TableMetadataFetcher,
	cache *metacache.Cache,
	audit *auditutil.Logger,
	cfg PipelineConfig,
	logger *slog.Logger,
) *Pipeline {
	if cfg.MetadataConcurrency <= 0 {
		cfg.MetadataConcurrency = 8
	}
	limit := rate.Inf
	if cfg.MetadataQPS > 0 {
		limit = rate.Limit(cfg.MetadataQPS)
	}
	return &Pipeline{
		dryRunner: dryRunner,
		fetcher:   fetcher,
		cache:     cache,
		audit:     audit,
		cfg:       cfg,
		limiter:   rate.NewLimiter(limit, cfg.MetadataConcurrency),
		logger:    logger.With("component", "estimate"),
		now:       time.Now,
	}
}

// Run estimates sql. stale is consulted after each long-latency stage; when
// it reports true the run stops with ErrStale. A failed dry-run is not an
// error: it yields a state with DryRunError set and no findings.
func (p *Pipeline) Run(ctx context.Context, sql string, stale func() bool) (*domain.EstimationState, error) {
	if stale == nil {
		stale = func() bool { return false }
	}

	res, err := p.dryRunner.DryRun(ctx, domain.DryRunRequest{
		SQL:      sql,
		Location: p.cfg.Location,
		Labels:   p.cfg.Labels,
	})
	if err != nil {
		p.logger.Warn("dry-run failed", "error", err)
		p.audit.DryRunFailed(ctx, sql, err)
		return &domain.EstimationState{
			SQL:              sql,
			ReferencedTables: []string{},
			Findings:         []domain.Finding{},
			PartitionSummary: []string{},
			DryRunError:      err.Error(),
			UpdatedAt:        p.now(),
		}, nil
	}
	if stale() {
		return nil, ErrStale
	}

	tables := res.ReferencedTables
	if len(tables) == 0 {
		tables = sqlrewrite.ExtractTableNames(sql, p.cfg.DefaultProject)
	}
	if tables == nil {
		tables = []string{}
	}

	var metadata map[string]*domain.TableDescriptor
	if p.cfg.EnforcePartitionFilter && len(tables) > 0 {
		metadata = p.resolveMetadata(ctx, tables)
		if stale() {
			return nil, ErrStale
		}
	}

	findings := policy.RunChecks(sql, p.cfg.Policy, res.BytesProcessed)
	summary := []string{}
	if p.cfg.EnforcePartitionFilter {
		pf, s := policy.EnforcePartitionFilters(sql, tables, metadata, p.cfg.ExemptTables)
		findings = append(findings, pf...)
		if s != nil {
			summary = s
		}
	}
	if findings == nil {
		findings = []domain.Finding{}
	}

	return &domain.EstimationState{
		SQL:              sql,
		BytesProcessed:   res.BytesProcessed,
		ReferencedTables: tables,
		Findings:         findings,
		PartitionSummary: summary,
		UpdatedAt:        p.now(),
	}, nil
}

// resolveMetadata returns descriptors for tables, fetching the ones the
// cache lacks. Exempt tables are never fetched. A failed fetch leaves that
// table without a descriptor for this run.
func (p *Pipeline) resolveMetadata(ctx context.Context, tables []string) map[string]*domain.TableDescriptor {
	exempt := make(map[string]bool, len(p.cfg.ExemptTables))
	for _, t := range p.cfg.ExemptTables {
		exempt[t] = true
	}

	out := make(map[string]*domain.TableDescriptor, len(tables))
	var missing []string
	for _, t := range tables {
		if exempt[t] {
			continue
		}
		if d, ok := p.cache.Get(t); ok {
			out[t] = d
			continue
		}
		missing = append(missing, t)
	}
	if len(missing) == 0 {
		return out
	}

	var mu sync.Mutex
	fetched := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.MetadataConcurrency)
	for _, table := range missing {
		g.Go(func() error {
			if err := p.limiter.Wait(gctx); err != nil {
				p.logger.Warn("table metadata fetch skipped", "table", table, "error", err)
				return nil
			}
			d, err := p.fetcher.FetchTableDescriptor(gctx, table)
			if err != nil {
				p.logger.Warn("table metadata fetch failed", "table", table, "error", err)
				return nil // don't fail the other tables
			}
			if d == nil {
				p.logger.Warn("table metadata fetch returned nothing", "table", table)
				return nil
			}
			p.cache.Put(table, *d)
			mu.Lock()
			out[table] = d
			fetched++
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if fetched > 0 {
		if err := p.cache.Save(); err != nil {
			p.logger.Warn("metadata cache save failed", "error", err)
		}
	}
	return out
}
