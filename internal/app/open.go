package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"bq-guard/internal/config"
	"bq-guard/internal/db"
	"bq-guard/internal/domain"
	"bq-guard/internal/engine"
	"bq-guard/internal/service/query"
)

// OpenOptions tunes Open.
type OpenOptions struct {
	CredentialsFile string
	Publisher       domain.StatePublisher
	// Offline skips the BigQuery client; only cache and history commands
	// work in this mode.
	Offline bool
}

// Open builds the production dependencies (BigQuery, Cloud Storage,
// SQLite audit log) for cfg and wires them into an App.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts OpenOptions) (*App, error) {
	cachePath, err := cfg.CacheFilePath()
	if err != nil {
		return nil, err
	}

	deps := Deps{Cfg: cfg, CachePath: cachePath, Publisher: opts.Publisher, Logger: logger}
	var closers []func() error

	dbPath, err := cfg.AuditDBPath()
	if err == nil {
		auditDB, openErr := openAuditDB(ctx, dbPath)
		if openErr != nil {
			logger.Warn("audit log disabled", "path", dbPath, "error", openErr)
		} else {
			deps.AuditDB = auditDB
			closers = append(closers, auditDB.Close)
		}
	} else {
		logger.Warn("audit log disabled", "error", err)
	}

	if !opts.Offline {
		client, err := engine.NewClient(ctx, engine.Options{
			Project:         cfg.App.DefaultProject,
			Location:        cfg.App.Location,
			CredentialsFile: opts.CredentialsFile,
		}, logger)
		if err != nil {
			closeAll(closers)
			return nil, err
		}
		closers = append(closers, client.Close)
		deps.DryRunner = client
		deps.Fetcher = client
		deps.Executor = client

		gcs := &lazyGCS{credentialsFile: opts.CredentialsFile}
		deps.Objects = gcs
		closers = append(closers, gcs.Close)
	}

	a, err := New(deps)
	if err != nil {
		closeAll(closers)
		return nil, err
	}
	a.closers = closers
	return a, nil
}

func openAuditDB(ctx context.Context, path string) (*sql.DB, error) {
	auditDB, err := db.OpenSQLite(path)
	if err != nil {
		return nil, err
	}
	if err := db.RunMigrations(ctx, auditDB); err != nil {
		_ = auditDB.Close()
		return nil, fmt.Errorf("migrate audit db: %w", err)
	}
	return auditDB, nil
}

func closeAll(closers []func() error) {
	for i := len(closers) - 1; i >= 0; i-- {
		_ = closers[i]()
	}
}

// lazyGCS dials Cloud Storage on first use so that runs without a gs://
// export never need storage credentials.
type lazyGCS struct {
	credentialsFile string

	once  sync.Once
	store *query.GCSStore
	err   error
}

func (l *lazyGCS) NewWriter(ctx context.Context, bucket, object string) (io.WriteCloser, error) {
	l.once.Do(func() {
		l.store, l.err = query.NewGCSStore(ctx, l.credentialsFile)
	})
	if l.err != nil {
		return nil, fmt.Errorf("open gs://%s/%s: %w", bucket, object, l.err)
	}
	return l.store.NewWriter(ctx, bucket, object)
}

func (l *lazyGCS) Close() error {
	if l.store == nil {
		return nil
	}
	return l.store.Close()
}
