package domain

import "context"

// DryRunner estimates the cost of a query without executing it.
// Implemented by engine.Client.
type DryRunner interface {
	DryRun(ctx context.Context, req DryRunRequest) (*DryRunResult, error)
}

// TableMetadataFetcher resolves partitioning metadata for one table.
// Implemented by engine.Client.
type TableMetadataFetcher interface {
	FetchTableDescriptor(ctx context.Context, table string) (*TableDescriptor, error)
}

// QueryExecutor runs a query for real.
// Implemented by engine.Client.
type QueryExecutor interface {
	Execute(ctx context.Context, req ExecuteRequest) (*QueryJob, error)
}

// StatePublisher receives every published EstimationState.
type StatePublisher interface {
	Publish(state *EstimationState)
}

// PublisherFunc adapts a function to StatePublisher.
type PublisherFunc func(state *EstimationState)

// Publish implements StatePublisher.
func (f PublisherFunc) Publish(state *EstimationState) { f(state) }
