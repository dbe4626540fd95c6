// Package testutil provides shared mock implementations of domain interfaces
// for use in tests across the codebase. This follows the Go convention of a
// shared test utility package (like net/http/httptest).
package testutil

import (
	"context"
	"sync"

	"bq-guard/internal/domain"
)

// === Audit Repository Mock ===

// MockAuditRepo implements domain.AuditRepository for testing.
type MockAuditRepo struct {
	AppendFn func(ctx context.Context, rec *domain.AuditRecord) error
	ListFn   func(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditRecord, error)

	mu      sync.Mutex
	Records []*domain.AuditRecord // collected records for assertions
}

// Append implements the interface method for testing.
func (m *MockAuditRepo) Append(ctx context.Context, rec *domain.AuditRecord) error {
	if m.AppendFn != nil {
		if err := m.AppendFn(ctx, rec); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Records = append(m.Records, rec)
	return nil
}

// List implements the interface method for testing.
func (m *MockAuditRepo) List(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditRecord, error) {
	if m.ListFn != nil {
		return m.ListFn(ctx, filter)
	}
	panic("unexpected call to MockAuditRepo.List")
}

// LastRecord returns the last collected record, or nil if none.
func (m *MockAuditRepo) LastRecord() *domain.AuditRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Records) == 0 {
		return nil
	}
	return m.Records[len(m.Records)-1]
}

// HasStatus returns true if any collected record has the given status.
func (m *MockAuditRepo) HasStatus(status domain.AuditStatus) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.Records {
		if r.Status == status {
			return true
		}
	}
	return false
}

var _ domain.AuditRepository = (*MockAuditRepo)(nil)

// === Dry Runner Mock ===

// MockDryRunner implements domain.DryRunner for testing.
type MockDryRunner struct {
	DryRunFn func(ctx context.Context, req domain.DryRunRequest) (*domain.DryRunResult, error)

	mu    sync.Mutex
	Calls []domain.DryRunRequest
}

// DryRun implements the interface method for testing.
func (m *MockDryRunner) DryRun(ctx context.Context, req domain.DryRunRequest) (*domain.DryRunResult, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, req)
	m.mu.Unlock()
	if m.DryRunFn != nil {
		return m.DryRunFn(ctx, req)
	}
	panic("unexpected call to MockDryRunner.DryRun")
}

// CallCount returns the number of DryRun calls so far.
func (m *MockDryRunner) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

var _ domain.DryRunner = (*MockDryRunner)(nil)

// === Table Metadata Fetcher Mock ===

// MockMetadataFetcher implements domain.TableMetadataFetcher for testing.
// When FetchFn is nil, descriptors are served from Tables and unknown
// tables return a NotFoundError.
type MockMetadataFetcher struct {
	FetchFn func(ctx context.Context, table string) (*domain.TableDescriptor, error)
	Tables  map[string]domain.TableDescriptor

	mu    sync.Mutex
	Calls []string
}

// FetchTableDescriptor implements the interface method for testing.
func (m *MockMetadataFetcher) FetchTableDescriptor(ctx context.Context, table string) (*domain.TableDescriptor, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, table)
	m.mu.Unlock()
	if m.FetchFn != nil {
		return m.FetchFn(ctx, table)
	}
	d, ok := m.Tables[table]
	if !ok {
		return nil, domain.ErrNotFound("table %s not found", table)
	}
	return &d, nil
}

// CallCount returns the number of fetches so far.
func (m *MockMetadataFetcher) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

var _ domain.TableMetadataFetcher = (*MockMetadataFetcher)(nil)

// === Query Executor Mock ===

// MockQueryExecutor implements domain.QueryExecutor for testing.
type MockQueryExecutor struct {
	ExecuteFn func(ctx context.Context, req domain.ExecuteRequest) (*domain.QueryJob, error)
	Calls     []domain.ExecuteRequest
}

// Execute implements the interface method for testing.
func (m *MockQueryExecutor) Execute(ctx context.Context, req domain.ExecuteRequest) (*domain.QueryJob, error) {
	m.Calls = append(m.Calls, req)
	if m.ExecuteFn != nil {
		return m.ExecuteFn(ctx, req)
	}
	panic("unexpected call to MockQueryExecutor.Execute")
}

var _ domain.QueryExecutor = (*MockQueryExecutor)(nil)

// === Result Pager ===

// StaticPager implements domain.ResultPager over in-memory rows.
type StaticPager struct {
	Columns []string
	Rows    [][]interface{}
	Err     error // returned by Next once set

	pos     int
	started bool
}

// Preview implements the interface method for testing.
func (p *StaticPager) Preview(maxRows int) (*domain.ResultPage, error) {
	n := maxRows
	if n > len(p.Rows) {
		n = len(p.Rows)
	}
	return &domain.ResultPage{Columns: p.Columns, Rows: p.Rows[:n]}, nil
}

// Next implements the interface method for testing.
func (p *StaticPager) Next(pageSize int) (*domain.ResultPage, error) {
	if p.Err != nil {
		return nil, p.Err
	}
	if p.pos >= len(p.Rows) && p.started {
		return nil, nil
	}
	p.started = true
	end := p.pos + pageSize
	if end > len(p.Rows) {
		end = len(p.Rows)
	}
	page := &domain.ResultPage{Columns: p.Columns, Rows: p.Rows[p.pos:end]}
	p.pos = end
	return page, nil
}

var _ domain.ResultPager = (*StaticPager)(nil)

// === State Recorder ===

// StateRecorder implements domain.StatePublisher and keeps every
// published state.
type StateRecorder struct {
	mu     sync.Mutex
	states []*domain.EstimationState
}

// Publish implements the interface method for testing.
func (r *StateRecorder) Publish(s *domain.EstimationState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

// States returns a copy of all published states in order.
func (r *StateRecorder) States() []*domain.EstimationState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*domain.EstimationState(nil), r.states...)
}

// Last returns the most recent state, or nil.
func (r *StateRecorder) Last() *domain.EstimationState {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.states) == 0 {
		return nil
	}
	return r.states[len(r.states)-1]
}

var _ domain.StatePublisher = (*StateRecorder)(nil)
