package cli

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"bq-guard/internal/app"
	"bq-guard/internal/config"
	internaldb "bq-guard/internal/db"
	"bq-guard/internal/domain"
	"bq-guard/internal/testutil"
)

// syncBuffer is a bytes.Buffer safe for the watch goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type harness struct {
	rt       *runtime
	out      *syncBuffer
	errOut   *syncBuffer
	dir      string
	dryRun   *testutil.MockDryRunner
	executor *testutil.MockQueryExecutor
	bytes    int64
	tables   []string
	opened   []app.OpenOptions
}

// newHarness points the CLI at a temp config and cache, with a real SQLite
// audit log and mocked BigQuery.
func newHarness(t *testing.T, configYAML string) *harness {
	t.Helper()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	if configYAML != "" {
		require.NoError(t, os.WriteFile(cfgPath, []byte(configYAML), 0o644))
	}
	t.Setenv("BQGUARD_CONFIG", cfgPath)
	t.Setenv("BQGUARD_PROJECT", "proj")
	t.Setenv("BQGUARD_LOCATION", "")
	t.Setenv("BQGUARD_CACHE_DIR", filepath.Join(dir, "cache"))
	t.Setenv("BQGUARD_STATE_DIR", filepath.Join(dir, "state"))

	h := &harness{
		out:    &syncBuffer{},
		errOut: &syncBuffer{},
		dir:    dir,
		bytes:  10,
		tables: []string{"proj.ds.t"},
	}
	h.dryRun = &testutil.MockDryRunner{
		DryRunFn: func(context.Context, domain.DryRunRequest) (*domain.DryRunResult, error) {
			n := h.bytes
			return &domain.DryRunResult{BytesProcessed: &n, ReferencedTables: h.tables}, nil
		},
	}
	h.executor = &testutil.MockQueryExecutor{
		ExecuteFn: func(context.Context, domain.ExecuteRequest) (*domain.QueryJob, error) {
			return &domain.QueryJob{
				ID:       "job_1",
				Location: "asia-northeast1",
				Pages: &testutil.StaticPager{
					Columns: []string{"n"},
					Rows:    [][]interface{}{{int64(1)}, {int64(2)}},
				},
			}, nil
		},
	}
	fetcher := &testutil.MockMetadataFetcher{Tables: map[string]domain.TableDescriptor{
		"proj.ds.t": {PartitionType: domain.PartitionNone},
	}}
	auditDB := internaldb.OpenTestSQLite(t)

	h.rt = &runtime{
		in:         strings.NewReader(""),
		out:        h.out,
		errOut:     h.errOut,
		isTerminal: func() bool { return false },
		openApp: func(_ context.Context, cfg *config.Config, logger *slog.Logger, opts app.OpenOptions) (*app.App, error) {
			h.opened = append(h.opened, opts)
			cachePath, err := cfg.CacheFilePath()
			if err != nil {
				return nil, err
			}
			return app.New(app.Deps{
				Cfg:       cfg,
				CachePath: cachePath,
				AuditDB:   auditDB,
				DryRunner: h.dryRun,
				Fetcher:   fetcher,
				Executor:  h.executor,
				Publisher: opts.Publisher,
				Logger:    logger,
			})
		},
	}
	return h
}

// redirectStdout swaps os.Stdout for a pipe until the returned func is
// called or the test ends; the func returns everything written.
func redirectStdout(t *testing.T) func() string {
	t.Helper()
	r, w, err := os.Pipe()
	require.NoError(t, err)
	saved := os.Stdout
	os.Stdout = w

	captured := make(chan string, 1)
	go func() {
		data, _ := io.ReadAll(r)
		captured <- string(data)
	}()

	var once sync.Once
	var out string
	finish := func() string {
		once.Do(func() {
			_ = w.Close()
			out = <-captured
			os.Stdout = saved
		})
		return out
	}
	t.Cleanup(func() { finish() })
	return finish
}

func (h *harness) execute(ctx context.Context, args ...string) error {
	cmd := newRootCmd(h.rt)
	cmd.SetArgs(args)
	return cmd.ExecuteContext(ctx)
}

func (h *harness) run(args ...string) error {
	return h.execute(context.Background(), args...)
}
