package estimate

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bq-guard/internal/domain"
	"bq-guard/internal/metacache"
	"bq-guard/internal/testutil"
)

// fakeEstimator returns a state echoing the SQL. Runs whose SQL contains
// "slow" block until release is closed.
type fakeEstimator struct {
	release chan struct{}
	started chan string

	mu   sync.Mutex
	runs []string
}

func newFakeEstimator() *fakeEstimator {
	return &fakeEstimator{release: make(chan struct{}), started: make(chan string, 16)}
}

func (f *fakeEstimator) Run(_ context.Context, sql string, stale func() bool) (*domain.EstimationState, error) {
	f.mu.Lock()
	f.runs = append(f.runs, sql)
	f.mu.Unlock()
	f.started <- sql
	if strings.Contains(sql, "slow") {
		<-f.release
	}
	if stale != nil && stale() {
		return nil, ErrStale
	}
	return &domain.EstimationState{SQL: sql, Findings: []domain.Finding{}}, nil
}

func (f *fakeEstimator) runCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.runs)
}

func newScheduler(t *testing.T, est Estimator, debounce time.Duration) (*Scheduler, *testutil.StateRecorder, *metacache.Cache) {
	t.Helper()
	cache := metacache.New(filepath.Join(t.TempDir(), metacache.FileName), 1, discard)
	rec := &testutil.StateRecorder{}
	s := NewScheduler(est, cache, rec, debounce, discard)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Close(ctx)
	})
	return s, rec, cache
}

func TestScheduler_DebounceCoalescesEdits(t *testing.T) {
	est := newFakeEstimator()
	s, rec, _ := newScheduler(t, est, 50*time.Millisecond)

	s.Edit("SELECT 1")
	s.Edit("SELECT 12")
	s.Edit("SELECT 123")

	require.Eventually(t, func() bool { return rec.Last() != nil }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "SELECT 123", rec.Last().SQL)
	assert.Equal(t, s.Revision(), rec.Last().Revision)

	// Only the last edit survived the debounce.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, est.runCount())
	assert.Len(t, rec.States(), 1)
	assert.Equal(t, "SELECT 123", s.State().SQL)
}

func TestScheduler_EmptySQLNeverRuns(t *testing.T) {
	est := newFakeEstimator()
	s, rec, _ := newScheduler(t, est, 0)

	s.Edit("SELECT 1")
	s.Edit("   \n\t")

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, est.runCount())
	assert.Nil(t, rec.Last())

	_, err := s.Run(context.Background(), "  ")
	var ve *domain.ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestScheduler_LaterEditWinsOverInFlightRun(t *testing.T) {
	est := newFakeEstimator()
	s, rec, _ := newScheduler(t, est, 0)

	// Run A passes its pre-dry-run checkpoint and blocks inside the pipeline.
	s.Edit("SELECT slow")
	require.Equal(t, "SELECT slow", <-est.started)

	// Edit B arrives before A can publish, and completes first.
	s.Edit("SELECT fast")
	require.Equal(t, "SELECT fast", <-est.started)
	require.Eventually(t, func() bool {
		last := rec.Last()
		return last != nil && last.SQL == "SELECT fast"
	}, 2*time.Second, 5*time.Millisecond)

	// A finishes afterwards and must not overwrite B.
	close(est.release)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Close(ctx))

	for _, st := range rec.States() {
		assert.NotEqual(t, "SELECT slow", st.SQL)
	}
	assert.Equal(t, "SELECT fast", s.State().SQL)
}

// publishCheckingEstimator ignores the stale callback so that only the
// publish checkpoint can drop the superseded run.
type publishCheckingEstimator struct {
	*fakeEstimator
}

func (p publishCheckingEstimator) Run(ctx context.Context, sql string, _ func() bool) (*domain.EstimationState, error) {
	return p.fakeEstimator.Run(ctx, sql, nil)
}

func TestScheduler_PublishCheckpointDropsSupersededRun(t *testing.T) {
	est := publishCheckingEstimator{newFakeEstimator()}
	s, rec, _ := newScheduler(t, est, 0)

	s.Edit("SELECT slow")
	<-est.started
	s.Edit("SELECT fast")
	<-est.started
	require.Eventually(t, func() bool { return rec.Last() != nil }, 2*time.Second, 5*time.Millisecond)

	close(est.release)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Close(ctx))

	require.Len(t, rec.States(), 1)
	assert.Equal(t, "SELECT fast", rec.Last().SQL)
}

func TestScheduler_RunIsSynchronous(t *testing.T) {
	est := newFakeEstimator()
	s, rec, _ := newScheduler(t, est, time.Hour)

	state, err := s.Run(context.Background(), "SELECT 1")
	require.NoError(t, err)
	assert.Equal(t, "SELECT 1", state.SQL)
	assert.Equal(t, s.Revision(), state.Revision)
	assert.Same(t, state, rec.Last())
}

func TestScheduler_RunCancelsPendingDebounce(t *testing.T) {
	est := newFakeEstimator()
	s, rec, _ := newScheduler(t, est, 30*time.Millisecond)

	s.Edit("SELECT pending")
	_, err := s.Run(context.Background(), "SELECT now")
	require.NoError(t, err)

	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, 1, est.runCount())
	assert.Equal(t, "SELECT now", rec.Last().SQL)
}

func TestScheduler_ReestimateAndRefreshMetadata(t *testing.T) {
	est := newFakeEstimator()
	s, rec, cache := newScheduler(t, est, 0)

	s.Edit("SELECT 1")
	require.Eventually(t, func() bool { return len(rec.States()) == 1 }, 2*time.Second, 5*time.Millisecond)
	rev := s.Revision()

	s.Reestimate()
	require.Eventually(t, func() bool { return len(rec.States()) == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Greater(t, s.Revision(), rev)
	assert.Equal(t, "SELECT 1", rec.Last().SQL)

	cache.Put("p.d.t", domain.TableDescriptor{PartitionType: domain.PartitionNone})
	require.NoError(t, s.RefreshMetadata())
	assert.Equal(t, 0, cache.Len())
	assert.FileExists(t, cache.Path())
	require.Eventually(t, func() bool { return len(rec.States()) == 3 }, 2*time.Second, 5*time.Millisecond)
}

func TestScheduler_CloseDropsPendingAndFlushesCache(t *testing.T) {
	est := newFakeEstimator()
	s, rec, cache := newScheduler(t, est, time.Hour)

	cache.Put("p.d.t", domain.TableDescriptor{PartitionType: domain.PartitionNone})
	s.Edit("SELECT 1")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Close(ctx))

	assert.Equal(t, 0, est.runCount())
	assert.Nil(t, rec.Last())
	assert.FileExists(t, cache.Path())

	s.Edit("SELECT 2")
	assert.Equal(t, 0, est.runCount())
}
