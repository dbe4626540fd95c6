package estimate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"bq-guard/internal/domain"
	"bq-guard/internal/metacache"
)

// Estimator runs the pipeline once. Implemented by *Pipeline.
type Estimator interface {
	Run(ctx context.Context, sql string, stale func() bool) (*domain.EstimationState, error)
}

// Scheduler coalesces edits of one SQL buffer into debounced pipeline runs.
//
// Every edit bumps a revision counter. A run captures the revision it was
// started for and checks it before the dry-run and again, under the same
// mutex Edit takes, before publishing; a run whose revision is no longer
// current discards its result. Only the pending debounce wait is ever
// cancelled: a run that already started finishes its I/O and then notices
// it is stale.
type Scheduler struct {
	estimator Estimator
	cache     *metacache.Cache
	publisher domain.StatePublisher
	debounce  time.Duration
	logger    *slog.Logger

	revision atomic.Int64

	mu            sync.Mutex
	sql           string
	state         *domain.EstimationState
	cancelPending context.CancelFunc
	closed        bool

	runCtx  context.Context
	stopRun context.CancelFunc
	wg      sync.WaitGroup
}

// NewScheduler creates a Scheduler. publisher may be nil. Publish is called
// with the scheduler lock held and must not call back into the Scheduler.
func NewScheduler(
	estimator Estimator,
	cache *metacache.Cache,
	publisher domain.StatePublisher,
	debounce time.Duration,
	logger *slog.Logger,
) *Scheduler {
	runCtx, stop := context.WithCancel(context.Background())
	return &Scheduler{
		estimator: estimator,
		cache:     cache,
		publisher: publisher,
		debounce:  debounce,
		logger:    logger.With("component", "scheduler"),
		runCtx:    runCtx,
		stopRun:   stop,
	}
}

// Revision returns the current edit revision.
func (s *Scheduler) Revision() int64 { return s.revision.Load() }

// Edit records a new buffer text and schedules a run after the debounce
// interval. Any pending, not yet started run is dropped. Empty or
// whitespace-only text schedules nothing.
func (s *Scheduler) Edit(sql string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	rev := s.revision.Add(1)
	s.sql = sql
	if s.cancelPending != nil {
		s.cancelPending()
		s.cancelPending = nil
	}
	if strings.TrimSpace(sql) == "" {
		return
	}

	wait, cancel := context.WithCancel(s.runCtx)
	s.cancelPending = cancel
	s.wg.Add(1)
	go s.debounceThenRun(wait, rev, sql)
}

// Reestimate schedules a run for the current buffer text.
func (s *Scheduler) Reestimate() {
	s.mu.Lock()
	sql := s.sql
	s.mu.Unlock()
	s.Edit(sql)
}

// RefreshMetadata clears the metadata cache, persists the empty cache, and
// schedules a re-estimate.
func (s *Scheduler) RefreshMetadata() error {
	if err := s.cache.Clear(); err != nil {
		return fmt.Errorf("clear metadata cache: %w", err)
	}
	s.Reestimate()
	return nil
}

// State returns the last published state, or nil.
func (s *Scheduler) State() *domain.EstimationState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Run estimates sql synchronously, bypassing the debounce. The returned
// state always belongs to sql; it is also published unless a newer edit
// arrived meanwhile.
func (s *Scheduler) Run(ctx context.Context, sql string) (*domain.EstimationState, error) {
	if strings.TrimSpace(sql) == "" {
		return nil, domain.ErrValidation("SQL is empty")
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, errors.New("scheduler is closed")
	}
	rev := s.revision.Add(1)
	s.sql = sql
	if s.cancelPending != nil {
		s.cancelPending()
		s.cancelPending = nil
	}
	s.mu.Unlock()

	state, err := s.estimator.Run(ctx, sql, nil)
	if err != nil {
		return nil, err
	}
	state.Revision = rev
	s.publish(state, rev)
	return state, nil
}

// Close drops any pending run, waits for started runs to finish (bounded
// by ctx), and flushes the metadata cache.
func (s *Scheduler) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	if s.cancelPending != nil {
		s.cancelPending()
		s.cancelPending = nil
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	var waitErr error
	select {
	case <-done:
	case <-ctx.Done():
		waitErr = fmt.Errorf("wait for in-flight runs: %w", ctx.Err())
	}
	s.stopRun()

	if s.cache != nil {
		if err := s.cache.Save(); err != nil {
			return errors.Join(waitErr, fmt.Errorf("flush metadata cache: %w", err))
		}
	}
	return waitErr
}

func (s *Scheduler) debounceThenRun(wait context.Context, rev int64, sql string) {
	defer s.wg.Done()

	timer := time.NewTimer(s.debounce)
	defer timer.Stop()
	select {
	case <-wait.Done():
		return
	case <-timer.C:
	}

	if s.revision.Load() != rev {
		s.logger.Debug("stale run discarded", "revision", rev, "stage", "before dry-run")
		return
	}

	stale := func() bool { return s.revision.Load() != rev }
	state, err := s.estimator.Run(s.runCtx, sql, stale)
	if errors.Is(err, ErrStale) {
		s.logger.Debug("stale run discarded", "revision", rev, "stage", "pipeline")
		return
	}
	if err != nil {
		s.logger.Warn("estimation failed", "revision", rev, "error", err)
		return
	}
	state.Revision = rev
	s.publish(state, rev)
}

// publish installs state if rev is still current. The comparison and the
// store happen under the lock Edit takes, so a newer edit either lands
// before (and this run is dropped) or after (and schedules its own run).
func (s *Scheduler) publish(state *domain.EstimationState, rev int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.revision.Load() != rev {
		s.logger.Debug("stale run discarded", "revision", rev, "stage", "publish")
		return
	}
	s.state = state
	if s.publisher != nil {
		s.publisher.Publish(state)
	}
	s.logger.Debug("state published", "revision", rev, "findings", len(state.Findings))
}
