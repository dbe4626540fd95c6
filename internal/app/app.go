// Package app provides application-level wiring: one explicitly
// constructed App owns the configuration, metadata cache, audit log, and
// pipeline for a guard session, and flushes them on Close.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"bq-guard/internal/config"
	"bq-guard/internal/db/repository"
	"bq-guard/internal/domain"
	"bq-guard/internal/metacache"
	"bq-guard/internal/service/auditutil"
	"bq-guard/internal/service/estimate"
	"bq-guard/internal/service/query"
)

// Deps holds the external dependencies the app cannot create itself.
type Deps struct {
	Cfg       *config.Config
	CachePath string
	AuditDB   *sql.DB // nil disables the audit log
	DryRunner domain.DryRunner
	Fetcher   domain.TableMetadataFetcher
	Executor  domain.QueryExecutor
	Objects   query.ObjectStore    // nil rejects gs:// exports
	Publisher domain.StatePublisher // nil when nobody watches
	Logger    *slog.Logger
}

// App is the fully wired guard session.
type App struct {
	Cfg       *config.Config
	Cache     *metacache.Cache
	AuditRepo domain.AuditRepository // nil when the audit log is disabled
	Audit     *auditutil.Logger
	Pipeline  *estimate.Pipeline
	Scheduler *estimate.Scheduler
	Query     *query.Service
	Logger    *slog.Logger

	closers []func() error
}

// New wires the app from deps and loads the metadata cache.
func New(deps Deps) (*App, error) {
	cfg := deps.Cfg
	if cfg == nil {
		return nil, errors.New("app: config is required")
	}
	logger := deps.Logger

	cache := metacache.New(deps.CachePath, cfg.Cache.SchemaVersion, logger)
	cache.Load()

	var auditRepo domain.AuditRepository
	if deps.AuditDB != nil {
		auditRepo = repository.NewAuditRepo(deps.AuditDB)
	}
	audit := auditutil.New(auditRepo, cfg.App.DefaultProject, cfg.App.Location, logger)

	pipeline := estimate.NewPipeline(deps.DryRunner, deps.Fetcher, cache, audit, estimate.PipelineConfig{
		Location:               cfg.App.Location,
		DefaultProject:         cfg.App.DefaultProject,
		Labels:                 cfg.DryRunLabels(),
		Policy:                 cfg.PolicyOptions(),
		EnforcePartitionFilter: cfg.Policy.EnforcePartitionFilter,
		ExemptTables:           cfg.Exceptions.PartitionExemptTables,
		MetadataConcurrency:    cfg.BQ.MetadataConcurrency,
		MetadataQPS:            cfg.BQ.MetadataQPS,
	}, logger)

	scheduler := estimate.NewScheduler(pipeline, cache, deps.Publisher, cfg.DebounceInterval(), logger)

	svc := query.NewService(scheduler, deps.Executor, deps.Objects, audit, query.Config{
		Location:                 cfg.App.Location,
		Labels:                   cfg.ExecuteLabels(),
		UseQueryCache:            cfg.BQ.UseQueryCache,
		AllowExecuteWithWarnings: cfg.Policy.AllowExecuteWithWarnings,
		PreviewRows:              cfg.App.PreviewRows,
		PageSize:                 cfg.App.PageSize,
		ExportDir:                cfg.App.ExportDir,
	}, logger)

	return &App{
		Cfg:       cfg,
		Cache:     cache,
		AuditRepo: auditRepo,
		Audit:     audit,
		Pipeline:  pipeline,
		Scheduler: scheduler,
		Query:     svc,
		Logger:    logger,
	}, nil
}

// Close stops the scheduler, flushes the cache, and releases external
// clients in reverse order of creation.
func (a *App) Close(ctx context.Context) error {
	errs := []error{a.Scheduler.Close(ctx)}
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("close app: %w", err)
	}
	return nil
}
